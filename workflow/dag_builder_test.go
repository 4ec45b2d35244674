package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/types"
)

func TestDAGBuilder_Basic(t *testing.T) {
	b := NewDAGBuilder().WithLogger(zap.NewNop())
	x := b.Extract("extract", extractSpec("SELECT 1"))
	outs := b.Function("split", &FunctionSpec{FunctionKey: "split", NumOutputs: 2}, x)
	require.Len(t, outs, 2)
	b.Function("join", fnSpec("join"), outs...)

	dag, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, dag.Operators, 3)
	assert.Len(t, dag.Artifacts, 4)

	a, ok := dag.Artifact(outs[1])
	require.True(t, ok)
	assert.Equal(t, "split artifact 1", a.Name)
	assert.Equal(t, types.ArtifactTypeUntyped, a.Type)

	x0, _ := dag.Artifact(x)
	assert.Equal(t, "extract artifact", x0.Name)
	assert.Equal(t, EngineNative, dag.EngineConfig.Type)
}

func TestDAGBuilder_Param(t *testing.T) {
	b := NewDAGBuilder()
	n := b.Param("n", NewParamSpec([]byte("8"), types.SerializationTypeJSON), types.ArtifactTypeNumeric)
	dag, err := b.Build()
	require.NoError(t, err)

	a, ok := dag.Artifact(n)
	require.True(t, ok)
	assert.Equal(t, "n", a.Name)
	assert.True(t, a.ExplicitlyNamed)
	assert.Equal(t, types.ArtifactTypeNumeric, a.Type)
}

func TestDAGBuilder_ReportsErrors(t *testing.T) {
	b := NewDAGBuilder()
	x := b.Extract("x", extractSpec("SELECT 1"))
	c := b.Check("c", checkSpec("c", types.CheckSeverityError), x)
	b.Function("f", fnSpec("f"), c)

	_, err := b.Build()
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidUserAction))
}

func TestOperatorSpec_Kind(t *testing.T) {
	assert.Equal(t, types.OperatorTypeFunction, OperatorSpec{Function: fnSpec("f")}.Kind())
	assert.Equal(t, types.OperatorTypeCheck, OperatorSpec{Check: checkSpec("c", types.CheckSeverityError)}.Kind())
	assert.Equal(t, types.OperatorType(""), OperatorSpec{}.Kind())
	assert.Equal(t, types.OperatorType(""), OperatorSpec{Function: fnSpec("f"), Metric: &MetricSpec{}}.Kind())

	check := OperatorSpec{Check: checkSpec("c", types.CheckSeverityError)}
	assert.Equal(t, "c", check.UserFunction().FunctionKey)
	assert.Nil(t, OperatorSpec{Param: &ParamSpec{}}.UserFunction())
}

func TestParamSpec_Bytes(t *testing.T) {
	spec := NewParamSpec([]byte(`{"a":1}`), types.SerializationTypeJSON)
	data, err := spec.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = (&ParamSpec{Val: "!!"}).Bytes()
	assert.Error(t, err)
}
