package sdk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/query"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// encodeParam serializes a parameter value. A typed parameter only accepts
// values of its own type.
func encodeParam(name string, v any, want types.ArtifactType) (*workflow.ParamSpec, types.ArtifactType, error) {
	t, err := serialization.InferArtifactType(v)
	if err != nil {
		return nil, "", types.InvalidUserArgument("parameter %q: %v", name, err)
	}
	if want != "" && want != types.ArtifactTypeUntyped && want != t {
		return nil, "", types.InvalidUserArgument("parameter %q has type %s, got a %s value", name, want, t)
	}
	data, st, err := serialization.Serialize(t, v, false)
	if err != nil {
		return nil, "", types.InvalidUserArgument("parameter %q cannot be serialized: %v", name, err)
	}
	return workflow.NewParamSpec(data, st), t, nil
}

// paramChange is the delta creating or updating one parameter, not yet
// applied to the DAG.
type paramChange struct {
	delta   workflow.Delta
	id      uuid.UUID
	name    string
	value   any
	updated bool
}

// changeParam prepares the creation of parameter name, or the change of its
// value when a parameter of that name exists.
func (b *Builder) changeParam(name string, value any) (*paramChange, error) {
	if name == "" {
		return nil, types.InvalidUserArgument("parameter name is empty")
	}

	if op, ok := b.dag.OperatorByName(name); ok && op.Kind() == types.OperatorTypeParam {
		out, _ := b.dag.Artifact(op.Outputs[0])
		spec, _, err := encodeParam(name, value, out.Type)
		if err != nil {
			return nil, err
		}
		return &paramChange{
			delta:   &workflow.UpdateParametersDelta{Parameters: map[string]*workflow.ParamSpec{name: spec}},
			id:      out.ID,
			name:    out.Name,
			value:   value,
			updated: true,
		}, nil
	}

	spec, t, err := encodeParam(name, value, "")
	if err != nil {
		return nil, err
	}
	op, outputs := workflow.NewOperator(name, workflow.OperatorSpec{Param: spec}, nil, 1)
	outputs[0].Name = name
	outputs[0].Type = t
	outputs[0].ExplicitlyNamed = true
	return &paramChange{
		delta: &workflow.AddOperatorDelta{Op: op, Outputs: outputs},
		id:    outputs[0].ID,
		name:  name,
		value: value,
	}, nil
}

// committed records an applied change and returns a handle on the parameter.
func (b *Builder) committed(c *paramChange) *Artifact {
	if c.updated {
		b.paramGen++
		b.logger.Debug("parameter updated", zap.String("name", c.name))
	}
	a := &Artifact{b: b, id: c.id, name: c.name}
	a.setContent(c.value)
	return a
}

// Param creates a parameter, or changes the value of the existing parameter
// of that name in place. Operators consuming the parameter are kept.
func (b *Builder) Param(ctx context.Context, name string, value any) (*Artifact, error) {
	c, err := b.changeParam(name, value)
	if err != nil {
		return nil, err
	}
	if err := b.apply(c.delta); err != nil {
		return nil, err
	}
	return b.committed(c), nil
}

// Integration is a connected data resource.
type Integration struct {
	b       *Builder
	Name    string
	Service connector.Service
}

// SQL extracts the result of a query. See Builder.SQL.
func (in *Integration) SQL(ctx context.Context, q string, opts ...Option) (*TableArtifact, error) {
	return in.b.SQL(ctx, in.Name, []string{q}, opts...)
}

// Save writes h to this integration. See Builder.Save.
func (in *Integration) Save(ctx context.Context, h Handle, params *connector.LoadParams) error {
	return in.b.Save(ctx, h, in.Name, params)
}

// SQL adds a relational extract. Several queries form a chain where each one
// references the previous through "$". Positional placeholders are bound from
// WithArgs now; {{ tag }} placeholders are bound when the extract runs, from
// the parameter of that name or a built-in.
func (b *Builder) SQL(ctx context.Context, integration string, queries []string, opts ...Option) (*TableArtifact, error) {
	cfg := newOpConfig(opts)
	if err := checkOutputNames(cfg.outputNames, 1); err != nil {
		return nil, err
	}
	svc, err := b.service(ctx, integration)
	if err != nil {
		return nil, err
	}
	if !svc.IsRelational() {
		return nil, types.InvalidUserArgument("integration %q (%s) does not run SQL", integration, svc)
	}

	q, err := query.Prepare(queries, cfg.args)
	if err != nil {
		return nil, err
	}

	var inputs []uuid.UUID
	for _, tag := range query.Tags(q) {
		if op, ok := b.dag.OperatorByName(tag); ok && op.Kind() == types.OperatorTypeParam {
			inputs = append(inputs, op.Outputs[0])
			continue
		}
		if _, ok := query.Builtins[tag]; !ok {
			return nil, types.InvalidUserArgument("query tag {{ %s }} names neither a parameter nor a built-in", tag).
				WithTip("Create the parameter with Builder.Param before the query.")
		}
	}

	name := cfg.name
	if name == "" {
		name = integration + " query"
	}
	spec := &workflow.ExtractSpec{
		Service:     svc,
		Integration: integration,
		Parameters: &connector.ExtractParams{Relational: &connector.RelationalParams{
			Query:  q,
			Usable: query.Bound(q),
		}},
	}
	op, outputs := workflow.NewOperator(name, workflow.OperatorSpec{Extract: spec}, inputs, 1)
	op.Description = cfg.description
	outputs[0].Type = types.ArtifactTypeTable
	nameOutputs(outputs, cfg.outputNames)

	handles, err := b.addOperator(ctx, op, outputs, b.isLazy(cfg))
	if err != nil {
		return nil, err
	}
	return &TableArtifact{handles[0]}, nil
}

// Save adds a load writing h to an integration whenever the flow runs. Loads
// never run during previews.
func (b *Builder) Save(ctx context.Context, h Handle, integration string, params *connector.LoadParams) error {
	if err := params.Validate(); err != nil {
		return types.InvalidUserArgument("invalid save parameters: %v", err)
	}
	svc, err := b.service(ctx, integration)
	if err != nil {
		return err
	}
	if svc.IsRelational() != (params.Relational != nil) {
		return types.InvalidUserArgument("integration %q (%s) cannot take these save parameters", integration, svc)
	}

	a := h.base()
	if !a.Exists() {
		return types.ArtifactNotFound("artifact %q no longer exists in the workflow", a.name)
	}
	object, mode := params.SavedObject()
	name := fmt.Sprintf("save %s to %s/%s (%s)", a.name, integration, object, mode)
	op, outputs := workflow.NewOperator(name, workflow.OperatorSpec{Load: &workflow.LoadSpec{
		Service:     svc,
		Integration: integration,
		Parameters:  params,
	}}, []uuid.UUID{a.id}, 0)
	if err := b.apply(&workflow.AddOrReplaceOperatorDelta{Op: op, Outputs: outputs}); err != nil {
		return err
	}
	if art, ok := b.dag.Artifact(a.id); ok {
		art.ShouldPersist = true
	}
	return nil
}

// TableSave returns load parameters writing a table with the given mode.
func TableSave(table string, mode connector.UpdateMode) *connector.LoadParams {
	return &connector.LoadParams{Relational: &connector.RelationalLoadParams{Table: table, UpdateMode: mode}}
}

// ObjectSave returns load parameters writing an object-store file.
func ObjectSave(path string, format connector.Format) *connector.LoadParams {
	return &connector.LoadParams{Object: &connector.ObjectLoadParams{Filepath: path, Format: format}}
}
