package workflow

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/types"
)

// DAGBuilder provides a fluent API for assembling a DAG operator by operator.
// Each add method returns the ids of the new operator's outputs; errors
// surface from Build.
type DAGBuilder struct {
	deltas []Delta
	meta   *Metadata
	engine EngineConfig
	logger *zap.Logger
}

// NewDAGBuilder creates a builder for a DAG on the native engine.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		engine: EngineConfig{Type: EngineNative},
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger
func (b *DAGBuilder) WithLogger(logger *zap.Logger) *DAGBuilder {
	b.logger = logger.With(zap.String("component", "dag_builder"))
	return b
}

// WithMetadata sets the flow name, description and schedule.
func (b *DAGBuilder) WithMetadata(meta *Metadata) *DAGBuilder {
	b.meta = meta
	return b
}

// WithEngine selects the compute backend.
func (b *DAGBuilder) WithEngine(engine EngineConfig) *DAGBuilder {
	b.engine = engine
	return b
}

// Add queues an operator with numOutputs anonymous outputs named after it.
func (b *DAGBuilder) Add(name string, spec OperatorSpec, inputs []uuid.UUID, numOutputs int) []uuid.UUID {
	op, outputs := NewOperator(name, spec, inputs, numOutputs)
	b.deltas = append(b.deltas, &AddOrReplaceOperatorDelta{Op: op, Outputs: outputs})
	return op.Outputs
}

// Param queues a parameter operator and returns its output.
func (b *DAGBuilder) Param(name string, spec *ParamSpec, t types.ArtifactType) uuid.UUID {
	op, outputs := NewOperator(name, OperatorSpec{Param: spec}, nil, 1)
	outputs[0].Name = name
	outputs[0].Type = t
	outputs[0].ExplicitlyNamed = true
	b.deltas = append(b.deltas, &AddOrReplaceOperatorDelta{Op: op, Outputs: outputs})
	return op.Outputs[0]
}

// Extract queues an extract operator and returns its output.
func (b *DAGBuilder) Extract(name string, spec *ExtractSpec, inputs ...uuid.UUID) uuid.UUID {
	return b.Add(name, OperatorSpec{Extract: spec}, inputs, 1)[0]
}

// Function queues a function operator.
func (b *DAGBuilder) Function(name string, spec *FunctionSpec, inputs ...uuid.UUID) []uuid.UUID {
	n := spec.NumOutputs
	if n < 1 {
		n = 1
	}
	return b.Add(name, OperatorSpec{Function: spec}, inputs, n)
}

// Metric queues a metric operator and returns its output.
func (b *DAGBuilder) Metric(name string, spec *MetricSpec, inputs ...uuid.UUID) uuid.UUID {
	return b.Add(name, OperatorSpec{Metric: spec}, inputs, 1)[0]
}

// Check queues a check operator and returns its output.
func (b *DAGBuilder) Check(name string, spec *CheckSpec, inputs ...uuid.UUID) uuid.UUID {
	return b.Add(name, OperatorSpec{Check: spec}, inputs, 1)[0]
}

// Load queues a load operator.
func (b *DAGBuilder) Load(name string, spec *LoadSpec, input uuid.UUID) *DAGBuilder {
	b.Add(name, OperatorSpec{Load: spec}, []uuid.UUID{input}, 0)
	return b
}

// Build applies the queued operators and validates the result.
func (b *DAGBuilder) Build() (*DAG, error) {
	dag := NewDAG()
	dag.Metadata = b.meta
	dag.EngineConfig = b.engine

	if _, err := ApplyDeltas(dag, b.deltas, false); err != nil {
		return nil, fmt.Errorf("DAG construction failed: %w", err)
	}
	if err := dag.Validate(); err != nil {
		return nil, fmt.Errorf("DAG validation failed: %w", err)
	}

	b.logger.Debug("DAG built",
		zap.Int("operators", len(dag.Operators)),
		zap.Int("artifacts", len(dag.Artifacts)),
	)
	return dag, nil
}
