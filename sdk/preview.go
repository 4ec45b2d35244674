package sdk

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/pipeflow/client"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// Preview computes the contents of handles, with optional parameter
// overrides, without changing what the handles cache.
func (b *Builder) Preview(ctx context.Context, handles []Handle, params map[string]any) ([]any, error) {
	ids := make([]uuid.UUID, len(handles))
	for i, h := range handles {
		ids[i] = h.base().id
	}
	return b.preview(ctx, ids, params)
}

// preview runs the subgraph needed for targets on the server and returns
// their contents in order. Types the server reports are written back into
// untyped artifacts of the session DAG.
func (b *Builder) preview(ctx context.Context, targets []uuid.UUID, params map[string]any) ([]any, error) {
	overrides, err := b.paramOverrides(b.dag, params)
	if err != nil {
		return nil, err
	}
	deltas := []workflow.Delta{&workflow.SubgraphDelta{ArtifactIDs: targets}}
	if len(overrides) > 0 {
		deltas = append(deltas, &workflow.UpdateParametersDelta{Parameters: overrides})
	}
	sub, err := workflow.ApplyDeltas(b.dag, deltas, true)
	if err != nil {
		return nil, err
	}
	if err := checkUsable(sub); err != nil {
		return nil, err
	}

	b.logger.Debug("previewing",
		zap.Int("targets", len(targets)),
		zap.Int("operators", len(sub.Operators)),
		zap.Int("parameter_overrides", len(overrides)),
	)
	resp, err := b.api.Preview(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := b.previewError(sub, resp); err != nil {
		return nil, err
	}

	values, err := b.decodeResults(ctx, targets, resp.ArtifactResults)
	if err != nil {
		return nil, err
	}

	for id, res := range resp.ArtifactResults {
		if art, ok := b.dag.Artifact(id); ok && !art.Typed() {
			art.Type = res.ArtifactType
		}
	}
	return values, nil
}

// checkUsable refuses relational extracts whose query is not marked usable.
func checkUsable(dag *workflow.DAG) error {
	for _, op := range dag.ListOperators(types.OperatorTypeExtract) {
		p := op.Spec.Extract.Parameters
		if p == nil || p.Relational == nil || p.Relational.Usable {
			continue
		}
		return types.InvalidUserArgument("query of %q is not usable", op.Name).
			WithTip("Bind its positional placeholders before previewing.")
	}
	return nil
}

// paramOverrides serializes overrides keyed by parameter name. Every key must
// name a parameter of dag and match its type.
func (b *Builder) paramOverrides(dag *workflow.DAG, params map[string]any) (map[string]*workflow.ParamSpec, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]*workflow.ParamSpec, len(params))
	for name, v := range params {
		op, ok := dag.OperatorByName(name)
		if !ok || op.Kind() != types.OperatorTypeParam {
			return nil, types.InvalidUserArgument("parameter %q does not exist in the workflow", name)
		}
		art, _ := dag.Artifact(op.Outputs[0])
		spec, _, err := encodeParam(name, v, art.Type)
		if err != nil {
			return nil, err
		}
		out[name] = spec
	}
	return out, nil
}

// previewError aggregates operator failures. Warnings are logged and do not
// fail the preview.
func (b *Builder) previewError(sub *workflow.DAG, resp *client.PreviewResponse) error {
	var (
		msgs    []string
		failure = types.FailureTypeNone
	)
	ids := make([]uuid.UUID, 0, len(resp.OperatorResults))
	for id := range resp.OperatorResults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return opName(sub, ids[i]) < opName(sub, ids[j]) })

	for _, id := range ids {
		state := resp.OperatorResults[id]
		if state == nil || state.Status != types.ExecutionStatusFailed {
			continue
		}
		name := opName(sub, id)
		var tip, detail string
		if state.Error != nil {
			tip, detail = state.Error.Tip, state.Error.Context
		}
		if state.FailureType == types.FailureTypeUserNonFatal {
			b.logger.Warn("operator warning", zap.String("operator", name), zap.String("tip", tip))
			continue
		}
		if failure != types.FailureTypeUserFatal {
			failure = state.FailureType
		}
		msgs = append(msgs, fmt.Sprintf("%s failed!\n%s\n%s", name, detail, tip))
	}

	if len(msgs) > 0 {
		code := types.ErrSystem
		if failure == types.FailureTypeUserFatal {
			code = types.ErrUserFatal
		}
		return types.NewError(code, "preview failed:\n"+strings.Join(msgs, "\n\n"))
	}
	if resp.Status == types.ExecutionStatusFailed {
		return types.Internal("preview failed but no operator reported an error")
	}
	return nil
}

func opName(dag *workflow.DAG, id uuid.UUID) string {
	if op, ok := dag.Operator(id); ok {
		return op.Name
	}
	return id.String()
}

// decodeResults deserializes the results of targets concurrently and checks
// each value against the type the server reported.
func (b *Builder) decodeResults(ctx context.Context, targets []uuid.UUID, results map[uuid.UUID]*client.ArtifactResult) ([]any, error) {
	values := make([]any, len(targets))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, id := range targets {
		res, ok := results[id]
		if !ok || res == nil {
			return nil, types.Internal("server returned no result for artifact %s", id)
		}
		g.Go(func() error {
			v, err := decodeResult(res)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", id, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// decodeResult deserializes one result. A value whose inferred type
// disagrees with the reported type is an internal error; picklable results
// may hold any Go type.
func decodeResult(res *client.ArtifactResult) (any, error) {
	v, err := serialization.Deserialize(res.SerializationType, res.ArtifactType, res.Content)
	if err != nil {
		return nil, types.Internal("failed to deserialize %s result: %v", res.ArtifactType, err)
	}
	if res.ArtifactType == types.ArtifactTypePicklable {
		return v, nil
	}
	inferred, err := serialization.InferArtifactType(v)
	if err != nil {
		return nil, types.Internal("cannot infer the type of the %s result: %v", res.ArtifactType, err)
	}
	if inferred != res.ArtifactType {
		return nil, types.Internal("server reported a %s artifact but its content is a %s", res.ArtifactType, inferred)
	}
	return v, nil
}
