package sdk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/client"
	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/internal/cache"
	"github.com/BaSui01/pipeflow/internal/metrics"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// API is the server surface a Builder drives. *client.Client implements it.
type API interface {
	Preview(ctx context.Context, dag *workflow.DAG) (*client.PreviewResponse, error)
	RegisterWorkflow(ctx context.Context, dag *workflow.DAG, flowID uuid.UUID) (*client.RegisterWorkflowResponse, error)
	RefreshWorkflow(ctx context.Context, id uuid.UUID, params map[string]*workflow.ParamSpec) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID, externalDelete map[string][]string, force bool) (*client.DeleteWorkflowResponse, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*client.WorkflowResponse, error)
	ListIntegrations(ctx context.Context) ([]client.Integration, error)
	GetArtifactResult(ctx context.Context, dagResultID, artifactID uuid.UUID) (*client.ArtifactResultResponse, error)
	GetArtifactResults(ctx context.Context, dagResultID uuid.UUID, artifactIDs []uuid.UUID, parallelism int) (map[uuid.UUID]*client.ArtifactResultResponse, error)
}

var _ API = (*client.Client)(nil)

// Builder is one authoring session: it owns the DAG that operator calls
// append to and previews run against. A Builder is not safe for concurrent
// use; each goroutine should build its own.
type Builder struct {
	api      API
	dag      *workflow.DAG
	registry *executor.Registry
	cache    *cache.Manager
	logger   *zap.Logger

	lazy        bool
	concurrency int
	cacheTTL    time.Duration

	// paramGen is bumped whenever a parameter value changes in place, which
	// invalidates previously fetched contents.
	paramGen int

	intMu        sync.Mutex
	integrations map[string]connector.Service
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRegistry registers user functions on reg instead of
// executor.DefaultRegistry.
func WithRegistry(reg *executor.Registry) BuilderOption {
	return func(b *Builder) {
		if reg != nil {
			b.registry = reg
		}
	}
}

// WithCache caches fetched results of published runs.
func WithCache(m *cache.Manager, ttl time.Duration) BuilderOption {
	return func(b *Builder) {
		b.cache = m
		b.cacheTTL = ttl
	}
}

// WithSDKConfig applies the lazy default and fetch concurrency.
func WithSDKConfig(cfg config.SDKConfig) BuilderOption {
	return func(b *Builder) {
		b.lazy = cfg.Lazy
		if cfg.FetchConcurrency > 0 {
			b.concurrency = cfg.FetchConcurrency
		}
	}
}

// WithLazy flips the default invocation mode.
func WithLazy(lazy bool) BuilderOption {
	return func(b *Builder) { b.lazy = lazy }
}

// New starts a session against api with an empty DAG.
func New(api API, opts ...BuilderOption) *Builder {
	b := &Builder{
		api:          api,
		dag:          workflow.NewDAG(),
		registry:     executor.DefaultRegistry,
		logger:       zap.NewNop(),
		concurrency:  config.DefaultSDKConfig().FetchConcurrency,
		integrations: make(map[string]connector.Service),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "sdk"))
	return b
}

// NewFromConfig builds the API client and, when enabled, the result cache
// from cfg. The returned cleanup closes the cache.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Collector) (*Builder, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := client.New(cfg.API, logger, client.WithMetrics(m))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}

	opts := []BuilderOption{WithLogger(logger), WithSDKConfig(cfg.SDK)}
	cleanup := func() {}
	if cfg.Cache.Enabled {
		mgr, err := cache.NewManager(cfg.Cache, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		mgr.WithMetrics(m)
		opts = append(opts, WithCache(mgr, cfg.Cache.DefaultTTL))
		cleanup = func() {
			if err := mgr.Close(); err != nil {
				logger.Warn("failed to close result cache", zap.Error(err))
			}
		}
	}
	return New(api, opts...), cleanup, nil
}

// DAG returns a copy of the session's current DAG.
func (b *Builder) DAG() (*workflow.DAG, error) {
	return b.dag.Copy()
}

// apply runs deltas transactionally against the session DAG.
func (b *Builder) apply(deltas ...workflow.Delta) error {
	_, err := workflow.ApplyDeltas(b.dag, deltas, false)
	if err != nil {
		return err
	}
	b.logger.Debug("dag updated",
		zap.Int("deltas", len(deltas)),
		zap.Int("operators", len(b.dag.Operators)),
	)
	return nil
}

// Integration returns a handle on a connected data resource.
func (b *Builder) Integration(ctx context.Context, name string) (*Integration, error) {
	svc, err := b.service(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Integration{b: b, Name: name, Service: svc}, nil
}

// service resolves the service of an integration, listing integrations from
// the server on first use.
func (b *Builder) service(ctx context.Context, name string) (connector.Service, error) {
	b.intMu.Lock()
	defer b.intMu.Unlock()

	if svc, ok := b.integrations[name]; ok {
		return svc, nil
	}
	list, err := b.api.ListIntegrations(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list integrations: %w", err)
	}
	for _, in := range list {
		b.integrations[in.Name] = in.Service
	}
	svc, ok := b.integrations[name]
	if !ok {
		return "", types.InvalidUserArgument("integration %q is not connected", name).
			WithTip("Connect the integration on the server first.")
	}
	return svc, nil
}

// SavedObject is an external object a load operator writes.
type SavedObject struct {
	Name       string               `json:"name"`
	UpdateMode connector.UpdateMode `json:"update_mode"`
}

// ListSavedObjects groups the objects written by the session's load
// operators per integration.
func (b *Builder) ListSavedObjects() map[string][]SavedObject {
	return savedObjects(b.dag)
}

func savedObjects(dag *workflow.DAG) map[string][]SavedObject {
	seen := make(map[string]map[SavedObject]bool)
	for _, op := range dag.ListOperators(types.OperatorTypeLoad) {
		name, mode := op.Spec.Load.Parameters.SavedObject()
		integ := op.Spec.Load.Integration
		if seen[integ] == nil {
			seen[integ] = make(map[SavedObject]bool)
		}
		seen[integ][SavedObject{Name: name, UpdateMode: mode}] = true
	}

	out := make(map[string][]SavedObject, len(seen))
	for integ, objs := range seen {
		list := make([]SavedObject, 0, len(objs))
		for o := range objs {
			list = append(list, o)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Name != list[j].Name {
				return list[i].Name < list[j].Name
			}
			return list[i].UpdateMode < list[j].UpdateMode
		})
		out[integ] = list
	}
	return out
}
