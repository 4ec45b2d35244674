package sdk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/client"
	"github.com/BaSui01/pipeflow/internal/cache"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// PublishOption configures Publish.
type PublishOption func(*publishConfig)

type publishConfig struct {
	description string
	schedule    *workflow.Schedule
	retention   *workflow.RetentionPolicy
	engine      *workflow.EngineConfig
	existing    uuid.UUID
	artifacts   []Handle
}

// WithFlowDescription sets the flow description.
func WithFlowDescription(d string) PublishOption {
	return func(c *publishConfig) { c.description = d }
}

// WithSchedule sets how the server triggers runs.
func WithSchedule(s *workflow.Schedule) PublishOption {
	return func(c *publishConfig) { c.schedule = s }
}

// WithRetention keeps only the k latest runs.
func WithRetention(k int) PublishOption {
	return func(c *publishConfig) { c.retention = &workflow.RetentionPolicy{KOffLimit: k} }
}

// WithEngine runs the flow on a compute backend other than the native one.
func WithEngine(e workflow.EngineConfig) PublishOption {
	return func(c *publishConfig) { c.engine = &e }
}

// WithExistingFlow publishes a new version of f instead of creating a flow.
func WithExistingFlow(f *Flow) PublishOption {
	return func(c *publishConfig) {
		if f != nil {
			c.existing = f.ID
		}
	}
}

// WithArtifacts publishes only the operators needed for the given artifacts
// plus the loads saving them.
func WithArtifacts(hs ...Handle) PublishOption {
	return func(c *publishConfig) { c.artifacts = hs }
}

// Flow is a published flow.
type Flow struct {
	b    *Builder
	ID   uuid.UUID
	Name string
	dag  *workflow.DAG
}

// Publish registers the session DAG, or the part WithArtifacts selects, as a
// flow named name.
func (b *Builder) Publish(ctx context.Context, name string, opts ...PublishOption) (*Flow, error) {
	if name == "" {
		return nil, types.InvalidUserArgument("flow name is empty")
	}
	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.schedule != nil {
		if err := cfg.schedule.Validate(); err != nil {
			return nil, types.InvalidUserArgument("invalid schedule: %v", err)
		}
	}
	if cfg.retention != nil && cfg.retention.KOffLimit < 0 {
		return nil, types.InvalidUserArgument("retention must keep a non-negative number of runs")
	}

	var deltas []workflow.Delta
	if len(cfg.artifacts) > 0 {
		ids := make([]uuid.UUID, len(cfg.artifacts))
		for i, h := range cfg.artifacts {
			ids[i] = h.base().id
		}
		deltas = append(deltas, &workflow.SubgraphDelta{ArtifactIDs: ids, IncludeLoads: true})
	}
	dag, err := workflow.ApplyDeltas(b.dag, deltas, true)
	if err != nil {
		return nil, err
	}
	if len(dag.Operators) == 0 {
		return nil, types.InvalidUserAction("there is nothing to publish").
			WithTip("Add operators to the builder before publishing.")
	}
	dag.Metadata = &workflow.Metadata{
		Name:            name,
		Description:     cfg.description,
		Schedule:        cfg.schedule,
		RetentionPolicy: cfg.retention,
	}
	if cfg.engine != nil {
		dag.EngineConfig = *cfg.engine
	}
	if err := dag.Validate(); err != nil {
		return nil, types.InvalidUserAction("the workflow is invalid: %v", err)
	}

	resp, err := b.api.RegisterWorkflow(ctx, dag, cfg.existing)
	if err != nil {
		return nil, err
	}
	b.logger.Info("flow published",
		zap.String("flow", name),
		zap.String("flow_id", resp.ID.String()),
		zap.Bool("new_version", cfg.existing != uuid.Nil),
	)
	return &Flow{b: b, ID: resp.ID, Name: name, dag: dag}, nil
}

// Flow loads a published flow. The DAG of its latest run is used, or its
// only version when it has never run.
func (b *Builder) Flow(ctx context.Context, id uuid.UUID) (*Flow, error) {
	resp, err := b.api.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	var dag *workflow.DAG
	if latest := resp.LatestResult(); latest != nil {
		dag = resp.WorkflowDAGs[latest.WorkflowDAGID]
	}
	if dag == nil && len(resp.WorkflowDAGs) == 1 {
		for _, d := range resp.WorkflowDAGs {
			dag = d
		}
	}
	if dag == nil {
		return nil, types.Internal("cannot tell which version of flow %s is current", id)
	}
	name := id.String()
	if dag.Metadata != nil && dag.Metadata.Name != "" {
		name = dag.Metadata.Name
	}
	return &Flow{b: b, ID: id, Name: name, dag: dag}, nil
}

// Trigger starts a run of the flow with id.
func (b *Builder) Trigger(ctx context.Context, id uuid.UUID, params map[string]any) error {
	f, err := b.Flow(ctx, id)
	if err != nil {
		return err
	}
	return f.Trigger(ctx, params)
}

// DeleteFlow deletes the flow with id and the listed saved objects.
func (b *Builder) DeleteFlow(ctx context.Context, id uuid.UUID, writesToDelete map[string][]string, force bool) (map[string][]client.SavedObjectDeletionResult, error) {
	resp, err := b.api.DeleteWorkflow(ctx, id, writesToDelete, force)
	if err != nil {
		return nil, err
	}
	if !force {
		for integ, results := range resp.SavedObjectDeletionResults {
			for _, r := range results {
				if !r.Succeeded() {
					return resp.SavedObjectDeletionResults, types.InvalidUserAction("failed to delete %s from %s", r.Name, integ).
						WithTip("Retry with force to delete the flow regardless.")
				}
			}
		}
	}
	b.logger.Info("flow deleted", zap.String("flow_id", id.String()), zap.Bool("force", force))
	return resp.SavedObjectDeletionResults, nil
}

// DAG returns a copy of the published DAG.
func (f *Flow) DAG() (*workflow.DAG, error) {
	return f.dag.Copy()
}

// ListSavedObjects groups the objects the flow writes per integration.
func (f *Flow) ListSavedObjects() map[string][]SavedObject {
	return savedObjects(f.dag)
}

// Trigger starts a run with parameter overrides. Every key must name a
// parameter of the flow and match its type.
func (f *Flow) Trigger(ctx context.Context, params map[string]any) error {
	overrides, err := f.b.paramOverrides(f.dag, params)
	if err != nil {
		return err
	}
	if err := f.b.api.RefreshWorkflow(ctx, f.ID, overrides); err != nil {
		return err
	}
	f.b.logger.Info("flow triggered", zap.String("flow_id", f.ID.String()), zap.Int("parameter_overrides", len(overrides)))
	return nil
}

// Delete deletes the flow. See Builder.DeleteFlow.
func (f *Flow) Delete(ctx context.Context, writesToDelete map[string][]string, force bool) (map[string][]client.SavedObjectDeletionResult, error) {
	return f.b.DeleteFlow(ctx, f.ID, writesToDelete, force)
}

// FlowRun is one run of a published flow.
type FlowRun struct {
	flow      *Flow
	ID        uuid.UUID
	Status    types.ExecutionStatus
	CreatedAt time.Time
	dag       *workflow.DAG
}

// Runs lists the runs of the flow, oldest first.
func (f *Flow) Runs(ctx context.Context) ([]*FlowRun, error) {
	resp, err := f.b.api.GetWorkflow(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	runs := make([]*FlowRun, 0, len(resp.WorkflowDAGResults))
	for _, r := range resp.WorkflowDAGResults {
		dag := resp.WorkflowDAGs[r.WorkflowDAGID]
		if dag == nil {
			dag = f.dag
		}
		runs = append(runs, &FlowRun{flow: f, ID: r.ID, Status: r.Status, CreatedAt: r.CreatedAt, dag: dag})
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

// LatestRun returns the most recent run.
func (f *Flow) LatestRun(ctx context.Context) (*FlowRun, error) {
	runs, err := f.Runs(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, types.ArtifactNotFound("flow %s has not run yet", f.Name)
	}
	return runs[len(runs)-1], nil
}

func (r *FlowRun) artifactID(name string) (uuid.UUID, error) {
	art, ok := r.dag.ArtifactByName(name)
	if !ok {
		return uuid.Nil, types.ArtifactNotFound("flow %s has no artifact named %q", r.flow.Name, name)
	}
	return art.ID, nil
}

// Artifact fetches the content of the named artifact from this run.
func (r *FlowRun) Artifact(ctx context.Context, name string) (any, error) {
	id, err := r.artifactID(name)
	if err != nil {
		return nil, err
	}
	res, err := r.flow.b.fetchResult(ctx, r.ID, id)
	if err != nil {
		return nil, err
	}
	return decodeResult(&res.ArtifactResult)
}

// Artifacts fetches several artifacts of this run at once, keyed by name.
func (r *FlowRun) Artifacts(ctx context.Context, names ...string) (map[string]any, error) {
	b := r.flow.b
	ids := make(map[uuid.UUID]string, len(names))
	results := make(map[uuid.UUID]*client.ArtifactResultResponse, len(names))
	var missing []uuid.UUID
	for _, name := range names {
		id, err := r.artifactID(name)
		if err != nil {
			return nil, err
		}
		ids[id] = name
		if res, ok := b.cachedResult(ctx, r.ID, id); ok {
			results[id] = res
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		fetched, err := b.api.GetArtifactResults(ctx, r.ID, missing, b.concurrency)
		if err != nil {
			return nil, err
		}
		for id, res := range fetched {
			b.storeResult(ctx, r.ID, id, res)
			results[id] = res
		}
	}

	out := make(map[string]any, len(names))
	for id, res := range results {
		v, err := decodeResult(&res.ArtifactResult)
		if err != nil {
			return nil, fmt.Errorf("artifact %q: %w", ids[id], err)
		}
		out[ids[id]] = v
	}
	return out, nil
}

// fetchResult returns a stored result, going through the cache when one is
// configured. Results of finished runs never change.
func (b *Builder) fetchResult(ctx context.Context, runID, artifactID uuid.UUID) (*client.ArtifactResultResponse, error) {
	if res, ok := b.cachedResult(ctx, runID, artifactID); ok {
		return res, nil
	}
	res, err := b.api.GetArtifactResult(ctx, runID, artifactID)
	if err != nil {
		return nil, err
	}
	b.storeResult(ctx, runID, artifactID, res)
	return res, nil
}

func (b *Builder) cachedResult(ctx context.Context, runID, artifactID uuid.UUID) (*client.ArtifactResultResponse, bool) {
	if b.cache == nil {
		return nil, false
	}
	var res client.ArtifactResultResponse
	err := b.cache.GetJSON(ctx, cache.ArtifactResultKey(runID.String(), artifactID.String()), &res)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			b.logger.Warn("result cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return &res, true
}

func (b *Builder) storeResult(ctx context.Context, runID, artifactID uuid.UUID, res *client.ArtifactResultResponse) {
	if b.cache == nil {
		return
	}
	if res.ExecState != nil && res.ExecState.Status != types.ExecutionStatusSucceeded {
		return
	}
	if err := b.cache.SetJSON(ctx, cache.ArtifactResultKey(runID.String(), artifactID.String()), res, b.cacheTTL); err != nil {
		b.logger.Warn("result cache write failed", zap.Error(err))
	}
}
