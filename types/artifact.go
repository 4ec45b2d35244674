package types

// ArtifactType is the semantic type of a value flowing through a DAG.
type ArtifactType string

const (
	ArtifactTypeUntyped      ArtifactType = "untyped"
	ArtifactTypeString       ArtifactType = "string"
	ArtifactTypeBool         ArtifactType = "boolean"
	ArtifactTypeNumeric      ArtifactType = "numeric"
	ArtifactTypeDict         ArtifactType = "dictionary"
	ArtifactTypeTuple        ArtifactType = "tuple"
	ArtifactTypeList         ArtifactType = "list"
	ArtifactTypeTable        ArtifactType = "table"
	ArtifactTypeJSON         ArtifactType = "json"
	ArtifactTypeBytes        ArtifactType = "bytes"
	ArtifactTypeImage        ArtifactType = "image"
	ArtifactTypePicklable    ArtifactType = "picklable"
	ArtifactTypeTFKerasModel ArtifactType = "tensorflow-keras-model"
)

// AllArtifactTypes lists every concrete artifact type (untyped excluded).
var AllArtifactTypes = []ArtifactType{
	ArtifactTypeString,
	ArtifactTypeBool,
	ArtifactTypeNumeric,
	ArtifactTypeDict,
	ArtifactTypeTuple,
	ArtifactTypeList,
	ArtifactTypeTable,
	ArtifactTypeJSON,
	ArtifactTypeBytes,
	ArtifactTypeImage,
	ArtifactTypePicklable,
	ArtifactTypeTFKerasModel,
}

// Valid reports whether t is a known artifact type.
func (t ArtifactType) Valid() bool {
	if t == ArtifactTypeUntyped {
		return true
	}
	for _, known := range AllArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SerializationType tags the on-wire encoding of an artifact's content.
type SerializationType string

const (
	SerializationTypeTable                SerializationType = "table"
	SerializationTypeBSONTable            SerializationType = "bson_table"
	SerializationTypeJSON                 SerializationType = "json"
	SerializationTypePickle               SerializationType = "pickle"
	SerializationTypeImage                SerializationType = "image"
	SerializationTypeString               SerializationType = "string"
	SerializationTypeBytes                SerializationType = "bytes"
	SerializationTypeTFKerasModel         SerializationType = "tf_keras_model"
	SerializationTypePickleableCollection SerializationType = "pickleable_collection"
)

// OperatorType is the kind of a DAG operator.
type OperatorType string

const (
	OperatorTypeExtract      OperatorType = "extract"
	OperatorTypeLoad         OperatorType = "load"
	OperatorTypeFunction     OperatorType = "function"
	OperatorTypeMetric       OperatorType = "metric"
	OperatorTypeCheck        OperatorType = "check"
	OperatorTypeParam        OperatorType = "param"
	OperatorTypeSystemMetric OperatorType = "system_metric"
)

// CheckSeverity controls what a failing check does to the run.
type CheckSeverity string

const (
	CheckSeverityWarning CheckSeverity = "warning"
	CheckSeverityError   CheckSeverity = "error"
)

// Reserved keys of an artifact metadata file's system_metadata object.
const (
	SystemMetadataRuntime   = "runtime"
	SystemMetadataMaxMemory = "max_memory"
)
