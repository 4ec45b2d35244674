package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/internal/metrics"
	"github.com/BaSui01/pipeflow/internal/telemetry"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
)

// Process exit codes of an operator run.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

const tipSystem = "Sorry, we've run into an unexpected system error. Please check the context for details."

// Runtime runs one operator per call. It holds the collaborators a binary
// wires once: the function registry, named connectors and instrumentation.
type Runtime struct {
	logger     *zap.Logger
	metrics    *metrics.Collector
	registry   *Registry
	connectors *connector.Registry
	store      storage.Storage
	now        func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger. User output never goes through it.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records operator runs on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runtime) { r.metrics = c }
}

// WithRegistry resolves function keys against reg instead of
// DefaultRegistry.
func WithRegistry(reg *Registry) Option {
	return func(r *Runtime) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithConnectors resolves integration names against reg before falling back
// to the connection a spec carries.
func WithConnectors(reg *connector.Registry) Option {
	return func(r *Runtime) { r.connectors = reg }
}

// WithStorage uses store instead of building one from the spec.
func WithStorage(store storage.Storage) Option {
	return func(r *Runtime) { r.store = store }
}

// WithClock overrides the clock used for timestamps and built-in tags.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		logger:   zap.NewNop(),
		registry: DefaultRegistry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "executor"))
	return r
}

// Run executes spec with a default runtime.
func Run(ctx context.Context, spec *Spec) int {
	return New().Run(ctx, spec)
}

// input is a deserialized input artifact with its metadata.
type input struct {
	value any
	md    *Metadata
}

// RunJSON parses a raw spec and runs it. A spec that fails validation still
// gets a system-failed execution state when its storage and state path can be
// read.
func (r *Runtime) RunJSON(ctx context.Context, data []byte) int {
	spec, err := ParseSpec(data)
	if err == nil {
		return r.Run(ctx, spec)
	}
	r.logger.Error("invalid operator spec", zap.Error(err))

	var partial Spec
	if json.Unmarshal(data, &partial) != nil || partial.ExecStatePath == "" {
		return ExitFailure
	}
	store, serr := r.resolveStorage(ctx, &partial)
	if serr != nil {
		r.logger.Error("failed to resolve storage", zap.Error(serr))
		return ExitFailure
	}
	state := types.NewExecutionState(r.now())
	state.MarkFailed(r.now(), types.FailureTypeSystem, tipSystem, err.Error())
	if werr := writeJSON(ctx, store, partial.ExecStatePath, state); werr != nil {
		r.logger.Error("failed to write execution state", zap.Error(werr))
	}
	return ExitFailure
}

// Run executes one operator and returns the process exit code. The execution
// state is always the last thing written.
func (r *Runtime) Run(ctx context.Context, spec *Spec) int {
	start := time.Now()
	logger := r.logger.With(zap.String("operator", spec.Name), zap.String("kind", string(spec.Type)))

	ctx, span := telemetry.StartSpan(ctx, "executor", "operator.run",
		attribute.String("operator.name", spec.Name),
		attribute.String("operator.kind", string(spec.Type)),
	)

	state := types.NewExecutionState(r.now())

	store, err := r.resolveStorage(ctx, spec)
	if err != nil {
		logger.Error("failed to resolve storage", zap.Error(err))
		r.metrics.RecordOperatorRun(string(spec.Type), string(types.ExecutionStatusFailed), types.FailureTypeSystem.String(), time.Since(start))
		telemetry.EndSpan(span, err)
		return ExitFailure
	}

	state.MarkRunning(r.now())
	logger.Info("operator run started")

	runErr := r.dispatch(ctx, spec, store, state)
	if runErr == nil {
		state.MarkSucceeded(r.now())
	} else {
		failure, tip, detail := classify(runErr)
		state.MarkFailed(r.now(), failure, tip, detail)
	}

	exit := ExitSuccess
	if state.Failed() {
		exit = ExitFailure
	}

	if err := writeJSON(ctx, store, spec.ExecStatePath, state); err != nil {
		logger.Error("failed to write execution state", zap.Error(err))
		exit = ExitFailure
	}

	duration := time.Since(start)
	r.metrics.RecordOperatorRun(string(spec.Type), string(state.Status), state.FailureType.String(), duration)
	span.SetAttributes(
		attribute.String("operator.status", string(state.Status)),
		attribute.String("operator.failure_type", state.FailureType.String()),
	)
	telemetry.EndSpan(span, runErr)

	if runErr != nil {
		logger.Warn("operator run failed",
			zap.String("failure_type", state.FailureType.String()),
			zap.Duration("duration", duration),
			zap.Error(runErr),
		)
	} else {
		logger.Info("operator run succeeded", zap.Duration("duration", duration))
	}
	return exit
}

func (r *Runtime) resolveStorage(ctx context.Context, spec *Spec) (storage.Storage, error) {
	if r.store != nil {
		return r.store, nil
	}
	return storage.New(ctx, spec.StorageConfig, r.logger)
}

// dispatch reads the inputs and runs the kind handler with user output
// captured into the state.
func (r *Runtime) dispatch(ctx context.Context, spec *Spec, store storage.Storage, state *types.ExecutionState) (err error) {
	inputs, err := r.readInputs(ctx, spec, store)
	if err != nil {
		return err
	}

	c, err := startCapture()
	if err != nil {
		return err
	}
	defer func() {
		stdout, stderr := c.stop()
		state.UserLogs = &types.Logs{Stdout: stdout, Stderr: stderr}
	}()

	switch spec.Type {
	case types.OperatorTypeFunction, types.OperatorTypeMetric, types.OperatorTypeCheck:
		return r.runFunction(ctx, spec, store, inputs)
	case types.OperatorTypeParam:
		return r.runParam(ctx, spec, store)
	case types.OperatorTypeExtract:
		return r.runExtract(ctx, spec, store, inputs)
	case types.OperatorTypeLoad:
		return r.runLoad(ctx, spec, inputs)
	case types.OperatorTypeSystemMetric:
		return r.runSystemMetric(ctx, spec, store, inputs)
	default:
		return fmt.Errorf("unknown operator kind %q", spec.Type)
	}
}

func (r *Runtime) readInputs(ctx context.Context, spec *Spec, store storage.Storage) ([]input, error) {
	inputs := make([]input, len(spec.InputContentPaths))
	for i := range spec.InputContentPaths {
		v, md, err := ReadArtifact(ctx, store, spec.InputContentPaths[i], spec.InputMetadataPaths[i])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		inputs[i] = input{value: v, md: md}
	}
	return inputs, nil
}

func deserialize(md *Metadata, data []byte) (any, error) {
	v, err := serialization.Deserialize(md.SerializationType, md.ArtifactType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize %s artifact: %w", md.ArtifactType, err)
	}
	return v, nil
}

// writeOutput settles the type of output i, checks it against the declared
// type, then writes content followed by metadata.
func (r *Runtime) writeOutput(ctx context.Context, store storage.Storage, spec *Spec, i int, v any, t types.ArtifactType, derivedFromBSON bool, system map[string]string) error {
	if t == "" || t == types.ArtifactTypeUntyped {
		inferred, err := serialization.InferArtifactType(v)
		if err != nil {
			return types.Errorf(types.ErrUserFatal, "output %d: %v", i, err)
		}
		t = inferred
	}
	if expected := spec.expectedType(i); expected != types.ArtifactTypeUntyped && expected != t {
		return types.Errorf(types.ErrUserFatal, "output %d has type %s, but %s was expected", i, t, expected).
			WithTip("The operator's output type changed since it was first computed.")
	}

	data, st, err := serialization.Serialize(t, v, derivedFromBSON)
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return err
		}
		if spec.runsUserCode() {
			return types.NewError(types.ErrUserFatal, fmt.Sprintf("output %d cannot be stored as %s", i, t)).
				WithTip("Return a value the output type can represent.").
				WithCause(err)
		}
		return fmt.Errorf("failed to serialize output %d: %w", i, err)
	}
	if err := store.Put(ctx, spec.OutputContentPaths[i], data); err != nil {
		return fmt.Errorf("failed to write output %d: %w", i, err)
	}
	if err := writeJSON(ctx, store, spec.OutputMetadataPaths[i], newMetadata(v, t, st, system)); err != nil {
		return err
	}
	r.metrics.RecordArtifactWrite(string(st), len(data))
	return nil
}

// classify turns a handler error into the failure recorded in the state.
func classify(err error) (types.FailureType, string, string) {
	te, ok := types.AsError(err)
	if !ok {
		return types.FailureTypeSystem, tipSystem, err.Error()
	}

	var failure types.FailureType
	switch te.Code {
	case types.ErrUserFatal, types.ErrInvalidUserArgument, types.ErrInvalidUserAction, types.ErrUnprocessable:
		failure = types.FailureTypeUserFatal
	case types.ErrUserNonFatal:
		failure = types.FailureTypeUserNonFatal
	default:
		failure = types.FailureTypeSystem
	}

	tip := te.Tip
	if tip == "" {
		if failure == types.FailureTypeSystem {
			tip = tipSystem
		} else {
			tip = te.Message
		}
	}
	detail := te.Context
	if detail == "" {
		detail = err.Error()
	}
	return failure, tip, detail
}
