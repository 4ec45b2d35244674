package executor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/internal/database"
	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// Spec is everything one operator run needs. The orchestrator writes it as
// JSON; exactly the kind-specific section matching Type is read.
type Spec struct {
	Type          types.OperatorType `json:"type" validate:"required,oneof=extract load function metric check param system_metric"`
	Name          string             `json:"name" validate:"required"`
	StorageConfig storage.Config     `json:"storage_config"`

	// ExecStatePath receives the execution state, always written last.
	ExecStatePath string `json:"metadata_path" validate:"required"`

	InputContentPaths   []string `json:"input_content_paths"`
	InputMetadataPaths  []string `json:"input_metadata_paths"`
	OutputContentPaths  []string `json:"output_content_paths"`
	OutputMetadataPaths []string `json:"output_metadata_paths"`

	// ExpectedOutputArtifactTypes holds one entry per output. Untyped or
	// missing entries accept whatever type the run produces.
	ExpectedOutputArtifactTypes []types.ArtifactType `json:"expected_output_artifact_types,omitempty"`

	Function     *FunctionSpec       `json:"function,omitempty"`
	Check        *CheckSpec          `json:"check,omitempty"`
	Param        *workflow.ParamSpec `json:"param,omitempty"`
	Extract      *ExtractSpec        `json:"extract,omitempty"`
	Load         *LoadSpec           `json:"load,omitempty"`
	SystemMetric *SystemMetricSpec   `json:"system_metric,omitempty"`
}

// FunctionSpec locates user code for function, metric and check runs.
type FunctionSpec struct {
	// FunctionPath is the storage key of the zipped function bundle.
	FunctionPath string `json:"function_path" validate:"required"`
	// FunctionExtractPath is the local directory the bundle is unpacked into.
	// A temporary directory is used when empty.
	FunctionExtractPath string              `json:"function_extract_path,omitempty"`
	EntryPoint          workflow.EntryPoint `json:"entry_point"`
	CustomArgs          string              `json:"custom_args,omitempty"`
	NumOutputs          int                 `json:"num_outputs,omitempty" validate:"gte=0"`
}

// CheckSpec adds the failure severity to a check run.
type CheckSpec struct {
	Severity types.CheckSeverity `json:"check_severity" validate:"required,oneof=warning error"`
}

// ExtractSpec selects the integration and what to read from it.
type ExtractSpec struct {
	Service     connector.Service        `json:"service" validate:"required"`
	Integration string                   `json:"integration"`
	Connection  *ConnectionConfig        `json:"connection,omitempty"`
	Parameters  *connector.ExtractParams `json:"parameters" validate:"required"`
	// InputParamNames names each input artifact for tag expansion. Inputs of
	// an extract are always parameter artifacts.
	InputParamNames []string `json:"input_param_names,omitempty"`
}

// LoadSpec selects the integration and where to write the single input.
type LoadSpec struct {
	Service     connector.Service     `json:"service" validate:"required"`
	Integration string                `json:"integration"`
	Connection  *ConnectionConfig     `json:"connection,omitempty"`
	Parameters  *connector.LoadParams `json:"parameters" validate:"required"`
}

// ConnectionConfig lets a spec carry its own integration credentials when the
// runtime has no connector registered under the integration name.
type ConnectionConfig struct {
	Database *database.Config `json:"database,omitempty"`
	Storage  *storage.Config  `json:"storage,omitempty"`
}

// SystemMetricSpec names the system metadata key to report.
type SystemMetricSpec struct {
	MetricName string `json:"metric_name" validate:"required,oneof=runtime max_memory"`
}

var specValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseSpec decodes and validates a JSON spec.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode operator spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ReadSpecFile parses the spec stored at path.
func ReadSpecFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read operator spec: %w", err)
	}
	return ParseSpec(data)
}

// Validate checks struct tags and the cross-field rules of each kind.
func (s *Spec) Validate() error {
	if err := specValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid operator spec: %w", err)
	}
	if len(s.InputContentPaths) != len(s.InputMetadataPaths) {
		return fmt.Errorf("invalid operator spec: %d input content paths but %d metadata paths",
			len(s.InputContentPaths), len(s.InputMetadataPaths))
	}
	if len(s.OutputContentPaths) != len(s.OutputMetadataPaths) {
		return fmt.Errorf("invalid operator spec: %d output content paths but %d metadata paths",
			len(s.OutputContentPaths), len(s.OutputMetadataPaths))
	}

	switch s.Type {
	case types.OperatorTypeFunction, types.OperatorTypeMetric, types.OperatorTypeCheck:
		if s.Function == nil {
			return fmt.Errorf("invalid operator spec: %s run requires a function section", s.Type)
		}
		if s.Function.EntryPoint.File == "" || s.Function.EntryPoint.Method == "" {
			return fmt.Errorf("invalid operator spec: function entry point needs a file and a method")
		}
		if s.Type == types.OperatorTypeCheck && s.Check == nil {
			return fmt.Errorf("invalid operator spec: check run requires a check section")
		}
		want := 1
		if s.Function.NumOutputs > 1 {
			want = s.Function.NumOutputs
		}
		if len(s.OutputContentPaths) != want {
			return fmt.Errorf("invalid operator spec: function declares %d outputs but %d output paths are given",
				want, len(s.OutputContentPaths))
		}
	case types.OperatorTypeParam:
		if s.Param == nil || s.Param.SerializationType == "" {
			return fmt.Errorf("invalid operator spec: param run requires a param section with a serialization type")
		}
		if len(s.OutputContentPaths) != 1 {
			return fmt.Errorf("invalid operator spec: param run requires one output")
		}
	case types.OperatorTypeExtract:
		if s.Extract == nil {
			return fmt.Errorf("invalid operator spec: extract run requires an extract section")
		}
		if err := s.Extract.Parameters.Validate(); err != nil {
			return fmt.Errorf("invalid operator spec: %w", err)
		}
		if len(s.Extract.InputParamNames) != len(s.InputContentPaths) {
			return fmt.Errorf("invalid operator spec: extract names %d input parameters but has %d inputs",
				len(s.Extract.InputParamNames), len(s.InputContentPaths))
		}
		if len(s.OutputContentPaths) != 1 {
			return fmt.Errorf("invalid operator spec: extract run requires one output")
		}
	case types.OperatorTypeLoad:
		if s.Load == nil {
			return fmt.Errorf("invalid operator spec: load run requires a load section")
		}
		if err := s.Load.Parameters.Validate(); err != nil {
			return fmt.Errorf("invalid operator spec: %w", err)
		}
		if len(s.InputContentPaths) != 1 || len(s.OutputContentPaths) != 0 {
			return fmt.Errorf("invalid operator spec: load run requires one input and no outputs")
		}
	case types.OperatorTypeSystemMetric:
		if s.SystemMetric == nil {
			return fmt.Errorf("invalid operator spec: system metric run requires a system_metric section")
		}
		if len(s.InputContentPaths) != 1 || len(s.OutputContentPaths) != 1 {
			return fmt.Errorf("invalid operator spec: system metric run requires one input and one output")
		}
	}
	return nil
}

// expectedType returns the declared type of output i.
// runsUserCode reports whether outputs come from a user function.
func (s *Spec) runsUserCode() bool {
	switch s.Type {
	case types.OperatorTypeFunction, types.OperatorTypeMetric, types.OperatorTypeCheck:
		return true
	}
	return false
}

func (s *Spec) expectedType(i int) types.ArtifactType {
	if i < len(s.ExpectedOutputArtifactTypes) && s.ExpectedOutputArtifactTypes[i] != "" {
		return s.ExpectedOutputArtifactTypes[i]
	}
	return types.ArtifactTypeUntyped
}
