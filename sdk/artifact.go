package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// Handle is any artifact handle returned by a Builder. It can be passed as an
// operator input.
type Handle interface {
	base() *Artifact
}

// Artifact is a handle on one artifact of the session DAG. Its content is
// computed on first Get unless the producing call was eager.
type Artifact struct {
	b    *Builder
	id   uuid.UUID
	name string

	content    any
	hasContent bool
	gen        int
}

func (a *Artifact) base() *Artifact { return a }

// ID returns the artifact id.
func (a *Artifact) ID() uuid.UUID { return a.id }

// Name returns the artifact name at the time the handle was created.
func (a *Artifact) Name() string { return a.name }

// Type returns the artifact's current type, untyped until known.
func (a *Artifact) Type() types.ArtifactType {
	if art, ok := a.b.dag.Artifact(a.id); ok {
		return art.Type
	}
	return types.ArtifactTypeUntyped
}

// Exists reports whether the artifact is still part of the session DAG. An
// artifact disappears when its producer is replaced or removed.
func (a *Artifact) Exists() bool {
	_, ok := a.b.dag.Artifact(a.id)
	return ok
}

func (a *Artifact) setContent(v any) {
	a.content = v
	a.hasContent = true
	a.gen = a.b.paramGen
}

// GetOption configures Get.
type GetOption func(*getConfig)

type getConfig struct {
	parameters map[string]any
}

// WithParameters computes the content with parameter overrides. Such
// contents are never cached on the handle.
func WithParameters(params map[string]any) GetOption {
	return func(c *getConfig) { c.parameters = params }
}

// Get returns the artifact's content, previewing it if needed.
func (a *Artifact) Get(ctx context.Context, opts ...GetOption) (any, error) {
	var cfg getConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !a.Exists() {
		return nil, types.ArtifactNotFound("artifact %q no longer exists in the workflow", a.name).
			WithTip("Its operator was replaced or removed. Use the handle returned by the newer call.")
	}
	if a.hasContent && a.gen == a.b.paramGen && len(cfg.parameters) == 0 {
		return a.content, nil
	}

	values, err := a.b.preview(ctx, []uuid.UUID{a.id}, cfg.parameters)
	if err != nil {
		return nil, err
	}
	if len(cfg.parameters) == 0 {
		a.setContent(values[0])
	}
	return values[0], nil
}

// Save writes the artifact to an integration when the flow runs. The load
// operator replaces any earlier save of this artifact to the same object.
func (a *Artifact) Save(ctx context.Context, integration string, params *connector.LoadParams) error {
	return a.b.Save(ctx, a, integration, params)
}

// TableArtifact is a handle on a table artifact.
type TableArtifact struct {
	*Artifact
}

// Table returns the content as a table.
func (t *TableArtifact) Table(ctx context.Context, opts ...GetOption) (*types.Table, error) {
	v, err := t.Get(ctx, opts...)
	if err != nil {
		return nil, err
	}
	switch tbl := v.(type) {
	case *types.Table:
		return tbl, nil
	case types.Table:
		return &tbl, nil
	}
	return nil, types.Internal("artifact %q holds %T, not a table", t.name, v)
}

// NumericArtifact is a handle on a numeric artifact, typically a metric.
type NumericArtifact struct {
	*Artifact
}

// Float returns the content as a float64.
func (n *NumericArtifact) Float(ctx context.Context, opts ...GetOption) (float64, error) {
	v, err := n.Get(ctx, opts...)
	if err != nil {
		return 0, err
	}
	if f, ok := serialization.ToFloat64(v); ok {
		return f, nil
	}
	if num, ok := v.(json.Number); ok {
		return num.Float64()
	}
	return 0, types.Internal("artifact %q holds %T, not a number", n.name, v)
}

// Bound describes a bound check. Exactly one of Upper, Lower, Equal and
// NotEqual must be set. Inclusive defaults to true; Severity to warning.
type Bound struct {
	Upper     *float64
	Lower     *float64
	Equal     *float64
	NotEqual  *float64
	Inclusive *bool
	Severity  types.CheckSeverity
}

// Upper returns a bound v <= x.
func Upper(x float64) Bound { return Bound{Upper: &x} }

// Lower returns a bound v >= x.
func Lower(x float64) Bound { return Bound{Lower: &x} }

// Equal returns a bound v == x.
func Equal(x float64) Bound { return Bound{Equal: &x} }

// NotEqual returns a bound v != x.
func NotEqual(x float64) Bound { return Bound{NotEqual: &x} }

// Exclusive makes an upper or lower bound strict.
func (bd Bound) Exclusive() Bound {
	f := false
	bd.Inclusive = &f
	return bd
}

// WithSeverity sets the check severity.
func (bd Bound) WithSeverity(s types.CheckSeverity) Bound {
	bd.Severity = s
	return bd
}

// args returns the bound kind and its custom args.
func (bd Bound) args() (string, map[string]any, error) {
	var (
		kind string
		n    int
		args = map[string]any{}
	)
	for _, c := range []struct {
		name string
		v    *float64
	}{{"upper", bd.Upper}, {"lower", bd.Lower}, {"equal", bd.Equal}, {"notequal", bd.NotEqual}} {
		if c.v != nil {
			kind = c.name
			args[c.name] = *c.v
			n++
		}
	}
	if n != 1 {
		return "", nil, types.InvalidUserArgument("a bound check takes exactly one of upper, lower, equal or notequal, got %d", n)
	}
	if bd.Inclusive != nil {
		args["inclusive"] = *bd.Inclusive
	}
	return kind, args, nil
}

// Bound attaches a check comparing the metric against bd. The check is named
// after the metric and the bound kind, so a second bound of the same kind
// replaces the first.
func (n *NumericArtifact) Bound(ctx context.Context, bd Bound) (*BoolArtifact, error) {
	kind, args, err := bd.args()
	if err != nil {
		return nil, err
	}
	severity := bd.Severity
	if severity == "" {
		severity = types.CheckSeverityWarning
	}
	if severity != types.CheckSeverityWarning && severity != types.CheckSeverityError {
		return nil, types.InvalidUserArgument("unknown check severity %q", severity)
	}
	if !n.Exists() {
		return nil, types.ArtifactNotFound("artifact %q no longer exists in the workflow", n.name)
	}

	customArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	b := n.b
	if err := b.registry.Register(executor.BoundCheckKey, executor.BoundCheck); err != nil {
		return nil, err
	}
	bundle, err := executor.BuildBundle(executor.Manifest{
		File:        executor.BoundCheckFile,
		Method:      "BoundCheck",
		FunctionKey: executor.BoundCheckKey,
	}, map[string][]byte{executor.BoundCheckFile: customArgs})
	if err != nil {
		return nil, err
	}

	fs := workflow.FunctionSpec{
		EntryPoint:  workflow.EntryPoint{File: executor.BoundCheckFile, Method: "BoundCheck"},
		FunctionKey: executor.BoundCheckKey,
		CustomArgs:  string(customArgs),
	}
	producer, _ := b.dag.Producer(n.id)
	name := n.name
	if producer != nil {
		name = producer.Name
	}
	op, outputs := workflow.NewOperator(
		fmt.Sprintf("%s %s bound", name, kind),
		workflow.OperatorSpec{Check: &workflow.CheckSpec{Level: severity, Function: fs}},
		[]uuid.UUID{n.id}, 1,
	)
	op.Description = describeBound(kind, args)
	op.File = bundle
	outputs[0].Type = types.ArtifactTypeBool

	handles, err := b.addOperator(ctx, op, outputs, b.lazy)
	if err != nil {
		return nil, err
	}
	return &BoolArtifact{handles[0]}, nil
}

func describeBound(kind string, args map[string]any) string {
	inclusive := true
	if v, ok := args["inclusive"].(bool); ok {
		inclusive = v
	}
	return fmt.Sprintf("value %s bound %s (inclusive=%s)", kind,
		strconv.FormatFloat(args[kind].(float64), 'g', -1, 64), strconv.FormatBool(inclusive))
}

// BoolArtifact is a handle on a boolean artifact, typically a check.
type BoolArtifact struct {
	*Artifact
}

// Bool returns the content as a bool.
func (c *BoolArtifact) Bool(ctx context.Context, opts ...GetOption) (bool, error) {
	v, err := c.Get(ctx, opts...)
	if err != nil {
		return false, err
	}
	passed, ok := v.(bool)
	if !ok {
		return false, types.Internal("artifact %q holds %T, not a bool", c.name, v)
	}
	return passed, nil
}
