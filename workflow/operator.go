package workflow

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/types"
)

// Operator is a DAG node. Exactly one field of Spec is set.
type Operator struct {
	ID          uuid.UUID    `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Spec        OperatorSpec `json:"spec" yaml:"spec"`
	Inputs      []uuid.UUID  `json:"inputs" yaml:"inputs"`
	Outputs     []uuid.UUID  `json:"outputs" yaml:"outputs"`

	// File is the zipped function bundle. It travels as a separate upload,
	// never inside the DAG document.
	File []byte `json:"-" yaml:"-"`
}

// OperatorSpec is a tagged union over operator kinds.
type OperatorSpec struct {
	Extract      *ExtractSpec      `json:"extract,omitempty" yaml:"extract,omitempty"`
	Load         *LoadSpec         `json:"load,omitempty" yaml:"load,omitempty"`
	Function     *FunctionSpec     `json:"function,omitempty" yaml:"function,omitempty"`
	Metric       *MetricSpec       `json:"metric,omitempty" yaml:"metric,omitempty"`
	Check        *CheckSpec        `json:"check,omitempty" yaml:"check,omitempty"`
	Param        *ParamSpec        `json:"param,omitempty" yaml:"param,omitempty"`
	SystemMetric *SystemMetricSpec `json:"system_metric,omitempty" yaml:"system_metric,omitempty"`
}

// ExtractSpec reads data from an integration.
type ExtractSpec struct {
	Service     connector.Service        `json:"service" yaml:"service"`
	Integration string                   `json:"integration" yaml:"integration"`
	Parameters  *connector.ExtractParams `json:"parameters" yaml:"parameters"`
}

// LoadSpec writes its single input to an integration.
type LoadSpec struct {
	Service     connector.Service     `json:"service" yaml:"service"`
	Integration string                `json:"integration" yaml:"integration"`
	Parameters  *connector.LoadParams `json:"parameters" yaml:"parameters"`
}

// EntryPoint locates the user callable inside a function bundle.
type EntryPoint struct {
	File      string `json:"file" yaml:"file"`
	ClassName string `json:"class_name,omitempty" yaml:"class_name,omitempty"`
	Method    string `json:"method" yaml:"method"`
}

// FunctionSpec describes a user function.
type FunctionSpec struct {
	EntryPoint  EntryPoint `json:"entry_point" yaml:"entry_point"`
	FunctionKey string     `json:"function_key" yaml:"function_key"`
	CustomArgs  string     `json:"custom_args,omitempty" yaml:"custom_args,omitempty"`
	NumOutputs  int        `json:"num_outputs,omitempty" yaml:"num_outputs,omitempty"`
}

// MetricSpec is a function whose output must be numeric.
type MetricSpec struct {
	Function FunctionSpec `json:"function" yaml:"function"`
}

// CheckSpec is a function whose output must be a bool.
type CheckSpec struct {
	Level    types.CheckSeverity `json:"level" yaml:"level"`
	Function FunctionSpec        `json:"function" yaml:"function"`
}

// ParamSpec carries a parameter's default value as base64 of its serialized
// bytes.
type ParamSpec struct {
	Val               string                  `json:"val" yaml:"val"`
	SerializationType types.SerializationType `json:"serialization_type" yaml:"serialization_type"`
}

// NewParamSpec encodes serialized bytes for the wire.
func NewParamSpec(data []byte, st types.SerializationType) *ParamSpec {
	return &ParamSpec{Val: base64.StdEncoding.EncodeToString(data), SerializationType: st}
}

// Bytes decodes the serialized default value.
func (p *ParamSpec) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Val)
	if err != nil {
		return nil, fmt.Errorf("parameter value is not valid base64: %w", err)
	}
	return data, nil
}

// SystemMetricSpec names the system metadata key to report.
type SystemMetricSpec struct {
	MetricName string `json:"metric_name" yaml:"metric_name"`
}

// Kind returns the operator type selected by the spec, or "" when zero or
// several kinds are set.
func (s OperatorSpec) Kind() types.OperatorType {
	var kind types.OperatorType
	n := 0
	if s.Extract != nil {
		kind, n = types.OperatorTypeExtract, n+1
	}
	if s.Load != nil {
		kind, n = types.OperatorTypeLoad, n+1
	}
	if s.Function != nil {
		kind, n = types.OperatorTypeFunction, n+1
	}
	if s.Metric != nil {
		kind, n = types.OperatorTypeMetric, n+1
	}
	if s.Check != nil {
		kind, n = types.OperatorTypeCheck, n+1
	}
	if s.Param != nil {
		kind, n = types.OperatorTypeParam, n+1
	}
	if s.SystemMetric != nil {
		kind, n = types.OperatorTypeSystemMetric, n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// UserFunction returns the function spec of function, metric and check
// operators.
func (s OperatorSpec) UserFunction() *FunctionSpec {
	switch {
	case s.Function != nil:
		return s.Function
	case s.Metric != nil:
		return &s.Metric.Function
	case s.Check != nil:
		return &s.Check.Function
	}
	return nil
}

// Kind returns the operator's type.
func (o *Operator) Kind() types.OperatorType {
	return o.Spec.Kind()
}

// HasInput reports whether id is one of the operator's inputs.
func (o *Operator) HasInput(id uuid.UUID) bool {
	for _, in := range o.Inputs {
		if in == id {
			return true
		}
	}
	return false
}

// validate checks the operator in isolation.
func (o *Operator) validate() error {
	if o.ID == uuid.Nil {
		return fmt.Errorf("operator %q has no id", o.Name)
	}
	if o.Name == "" {
		return fmt.Errorf("operator %s has no name", o.ID)
	}
	kind := o.Kind()
	if kind == "" {
		return fmt.Errorf("operator %q must set exactly one spec kind", o.Name)
	}
	switch kind {
	case types.OperatorTypeExtract:
		if err := o.Spec.Extract.Parameters.Validate(); err != nil {
			return fmt.Errorf("operator %q: %w", o.Name, err)
		}
		if len(o.Outputs) != 1 {
			return fmt.Errorf("extract operator %q must have one output", o.Name)
		}
	case types.OperatorTypeLoad:
		if err := o.Spec.Load.Parameters.Validate(); err != nil {
			return fmt.Errorf("operator %q: %w", o.Name, err)
		}
		if len(o.Inputs) != 1 || len(o.Outputs) != 0 {
			return fmt.Errorf("load operator %q must have one input and no outputs", o.Name)
		}
	case types.OperatorTypeParam:
		if len(o.Inputs) != 0 || len(o.Outputs) != 1 {
			return fmt.Errorf("param operator %q must have no inputs and one output", o.Name)
		}
	case types.OperatorTypeCheck:
		if o.Spec.Check.Level != types.CheckSeverityWarning && o.Spec.Check.Level != types.CheckSeverityError {
			return fmt.Errorf("check operator %q has unknown severity %q", o.Name, o.Spec.Check.Level)
		}
		if len(o.Outputs) != 1 {
			return fmt.Errorf("check operator %q must have one output", o.Name)
		}
	case types.OperatorTypeMetric, types.OperatorTypeSystemMetric:
		if len(o.Outputs) != 1 {
			return fmt.Errorf("%s operator %q must have one output", kind, o.Name)
		}
	case types.OperatorTypeFunction:
		if n := o.Spec.Function.NumOutputs; n > 1 && len(o.Outputs) != n {
			return fmt.Errorf("function operator %q declares %d outputs but has %d", o.Name, n, len(o.Outputs))
		}
	}
	return nil
}

// NewOperator creates an operator with fresh ids and numOutputs untyped
// outputs. A single output is named "<name> artifact"; several are numbered.
func NewOperator(name string, spec OperatorSpec, inputs []uuid.UUID, numOutputs int) (*Operator, []*Artifact) {
	op := &Operator{
		ID:      uuid.New(),
		Name:    name,
		Spec:    spec,
		Inputs:  append([]uuid.UUID{}, inputs...),
		Outputs: []uuid.UUID{},
	}
	outputs := make([]*Artifact, numOutputs)
	for i := range outputs {
		artifactName := name + " artifact"
		if numOutputs > 1 {
			artifactName = fmt.Sprintf("%s artifact %d", name, i)
		}
		outputs[i] = NewArtifact(artifactName, false)
		op.Outputs = append(op.Outputs, outputs[i].ID)
	}
	return op, outputs
}
