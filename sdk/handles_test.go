package sdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

func plus(x, y float64) float64 { return x + y }

func TestRejectedCallLeavesNoLiftedParam(t *testing.T) {
	e := newTestEnv(t)

	m, err := e.b.Metric(double)
	require.NoError(t, err)
	d, err := m.Call(e.ctx, 8)
	require.NoError(t, err)

	before, err := e.b.DAG()
	require.NoError(t, err)
	gen := e.b.paramGen

	// A metric output cannot feed a function.
	f, err := e.b.Function(plus)
	require.NoError(t, err)
	_, err = f.Call(e.ctx, d, 3.0)
	assert.Equal(t, types.ErrInvalidUserAction, errorCode(t, err))

	after, err := e.b.DAG()
	require.NoError(t, err)
	assert.Len(t, after.Operators, len(before.Operators))
	_, found := after.OperatorByName("plus:arg2")
	assert.False(t, found)
	assert.Equal(t, gen, e.b.paramGen)
}

func TestRejectedCallKeepsLiftedParamValue(t *testing.T) {
	e := newTestEnv(t)

	f, err := e.b.Function(plus)
	require.NoError(t, err)
	n, err := e.b.Param(e.ctx, "n", 1.0)
	require.NoError(t, err)
	out, err := f.Call(e.ctx, n, 2.0)
	require.NoError(t, err)
	v, err := out.Get(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, asFloat(t, v))

	m, err := e.b.Metric(double)
	require.NoError(t, err)
	d, err := m.Call(e.ctx, n)
	require.NoError(t, err)

	// The rejected call would have changed plus:arg2 to 5.
	_, err = f.Call(e.ctx, d, 5.0)
	assert.Equal(t, types.ErrInvalidUserAction, errorCode(t, err))

	dag, err := e.b.DAG()
	require.NoError(t, err)
	op, found := dag.OperatorByName("plus:arg2")
	require.True(t, found)
	data, err := op.Spec.Param.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, "2", string(data))
}

func TestOutputNames(t *testing.T) {
	e := newTestEnv(t)
	src := e.orders()

	counter, err := e.b.Function(rowCount, WithOutputNames("order count"))
	require.NoError(t, err)
	out, err := counter.Call(e.ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "order count", out.Name())

	dag, err := e.b.DAG()
	require.NoError(t, err)
	art, found := dag.ArtifactByName("order count")
	require.True(t, found)
	assert.True(t, art.ExplicitlyNamed)

	// Calling the same function again replaces its own output.
	_, err = counter.Call(e.ctx, src)
	require.NoError(t, err)

	other, err := e.b.Function(identity, WithOutputNames("order count"))
	require.NoError(t, err)
	_, err = other.Call(e.ctx, src)
	assert.Equal(t, types.ErrInvalidUserAction, errorCode(t, err))

	_, err = e.b.SQL(e.ctx, "warehouse", []string{"SELECT id FROM orders"}, WithName("ids"), WithOutputNames("order count"))
	assert.Equal(t, types.ErrInvalidUserAction, errorCode(t, err))

	_, err = e.b.Function(identity, WithOutputNames("a", "b"))
	assert.Equal(t, types.ErrInvalidUserArgument, errorCode(t, err))
	_, err = e.b.Function(identity, WithOutputNames(""))
	assert.Equal(t, types.ErrInvalidUserArgument, errorCode(t, err))
}

func TestPreviewRefusesUnusableQuery(t *testing.T) {
	e := newTestEnv(t)

	svc, err := e.b.service(e.ctx, "warehouse")
	require.NoError(t, err)
	op, outputs := workflow.NewOperator("unbound", workflow.OperatorSpec{Extract: &workflow.ExtractSpec{
		Service:     svc,
		Integration: "warehouse",
		Parameters: &connector.ExtractParams{Relational: &connector.RelationalParams{
			Query: "SELECT id FROM orders WHERE id > $1",
		}},
	}}, nil, 1)
	require.NoError(t, e.b.apply(&workflow.AddOperatorDelta{Op: op, Outputs: outputs}))

	before := e.srv.previews.Load()
	h := &Artifact{b: e.b, id: outputs[0].ID, name: outputs[0].Name}
	_, err = e.b.Preview(e.ctx, []Handle{h}, nil)
	assert.Equal(t, types.ErrInvalidUserArgument, errorCode(t, err))
	assert.Equal(t, before, e.srv.previews.Load())

	// Queries built through SQL are bound and marked usable.
	tbl := e.orders(WithName("bound"), Lazy())
	dag, err := e.b.DAG()
	require.NoError(t, err)
	bound, found := dag.OperatorByName("bound")
	require.True(t, found)
	assert.True(t, bound.Spec.Extract.Parameters.Relational.Usable)
	_, err = tbl.Table(e.ctx)
	require.NoError(t, err)
}
