package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/connector/object"
	"github.com/BaSui01/pipeflow/connector/relational"
	"github.com/BaSui01/pipeflow/query"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
)

const (
	tipExtract = "We couldn't execute the provided query. Please double check your query is correct."
	tipLoad    = "We couldn't load the data into the integration. Please check the context for details."
)

func (r *Runtime) runFunction(ctx context.Context, spec *Spec, store storage.Storage, inputs []input) error {
	fs := spec.Function

	bundle, err := store.Get(ctx, fs.FunctionPath)
	if err != nil {
		return fmt.Errorf("failed to read function bundle: %w", err)
	}
	dir := fs.FunctionExtractPath
	if dir == "" {
		tmp, err := os.MkdirTemp("", "pipeflow-function-*")
		if err != nil {
			return fmt.Errorf("failed to create function directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}
	manifest, err := unpackBundle(bundle, dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(fs.EntryPoint.File))); err != nil {
		return fmt.Errorf("entry point file %s is not in the function bundle: %w", fs.EntryPoint.File, err)
	}
	if manifest.File != fs.EntryPoint.File {
		return fmt.Errorf("bundle manifest names entry point %s, spec names %s", manifest.File, fs.EntryPoint.File)
	}

	fn, err := r.registry.Resolve(manifest.FunctionKey, fs.EntryPoint.ClassName, fs.EntryPoint.Method)
	if err != nil {
		return err
	}

	var customArgs map[string]any
	if fs.CustomArgs != "" {
		if err := json.Unmarshal([]byte(fs.CustomArgs), &customArgs); err != nil {
			return types.Errorf(types.ErrUserFatal, "custom arguments are not a JSON object: %v", err)
		}
	}

	args := make([]any, len(inputs))
	derivedFromBSON := false
	for i, in := range inputs {
		args[i] = in.value
		derivedFromBSON = derivedFromBSON || in.md.DerivedFromBSON()
	}

	sampler := startMemorySampler()
	began := time.Now()
	results, err := invoke(fn, args, customArgs)
	elapsed := time.Since(began)
	peak := sampler.stop()
	if err != nil {
		return err
	}
	r.logger.Debug("user function returned",
		zap.String("function_key", manifest.FunctionKey),
		zap.Duration("runtime", elapsed),
		zap.Uint64("peak_heap_bytes", peak),
	)

	outputs, err := splitOutputs(results, fs.NumOutputs)
	if err != nil {
		return err
	}
	system := systemMetadata(elapsed, peak)

	switch spec.Type {
	case types.OperatorTypeMetric:
		if !serialization.IsNumeric(outputs[0]) {
			return types.Errorf(types.ErrUserFatal, "metric must return a number, got %T", outputs[0]).
				WithTip("Metric functions must return a numeric value.")
		}
		return r.writeOutput(ctx, store, spec, 0, outputs[0], types.ArtifactTypeNumeric, false, system)

	case types.OperatorTypeCheck:
		passed, ok := checkPassed(outputs[0])
		if !ok {
			return types.Errorf(types.ErrUserFatal, "check must return a bool, got %T", outputs[0]).
				WithTip("Check functions must return a boolean or a list of booleans.")
		}
		if err := r.writeOutput(ctx, store, spec, 0, passed, types.ArtifactTypeBool, false, system); err != nil {
			return err
		}
		if passed {
			return nil
		}
		code := types.ErrUserFatal
		if spec.Check.Severity == types.CheckSeverityWarning {
			code = types.ErrUserNonFatal
		}
		return types.Errorf(code, "check %s failed", spec.Name).
			WithTip(fmt.Sprintf("Check %s returned false.", spec.Name)).
			WithContext(fmt.Sprintf("check severity %s", spec.Check.Severity))

	default:
		for i, out := range outputs {
			if err := r.writeOutput(ctx, store, spec, i, out, types.ArtifactTypeUntyped, derivedFromBSON, system); err != nil {
				return err
			}
		}
		return nil
	}
}

// checkPassed coerces a check result to a single bool. A collection passes
// when every element is true.
func checkPassed(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if v == nil {
		return false, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, false
	}
	all := true
	for i := 0; i < rv.Len(); i++ {
		b, ok := rv.Index(i).Interface().(bool)
		if !ok {
			return false, false
		}
		all = all && b
	}
	return all, true
}

func (r *Runtime) runParam(ctx context.Context, spec *Spec, store storage.Storage) error {
	data, err := spec.Param.Bytes()
	if err != nil {
		return err
	}
	expected := spec.expectedType(0)
	v, err := serialization.Deserialize(spec.Param.SerializationType, expected, data)
	if err != nil {
		return types.Errorf(types.ErrUserFatal, "parameter %s cannot be decoded as %s: %v", spec.Name, expected, err)
	}
	t, err := serialization.InferArtifactType(v)
	if err != nil {
		return types.Errorf(types.ErrUserFatal, "parameter %s: %v", spec.Name, err)
	}
	if expected != types.ArtifactTypeUntyped && expected != t {
		return types.Errorf(types.ErrUserFatal, "parameter %s has type %s, but %s was expected", spec.Name, t, expected).
			WithTip("A parameter's value must keep the type it was first given.")
	}
	return r.writeOutput(ctx, store, spec, 0, v, t, false, nil)
}

func (r *Runtime) runExtract(ctx context.Context, spec *Spec, store storage.Storage, inputs []input) error {
	es := spec.Extract
	conn, release, err := r.connectorFor(ctx, es.Service, es.Integration, es.Connection)
	if err != nil {
		return err
	}
	defer release()

	params := *es.Parameters
	outType := types.ArtifactTypeTable
	if params.Relational != nil {
		values := make(map[string]string, len(inputs))
		for i, name := range es.InputParamNames {
			values[name] = paramString(inputs[i].value)
		}
		expanded, err := expandRelational(params.Relational, values, r.now())
		if err != nil {
			return err
		}
		params.Relational = expanded
	} else {
		outType = params.Object.ArtifactType
		if len(params.Object.Filepaths) > 1 {
			outType = types.ArtifactTypeTuple
		}
	}

	v, err := conn.Extract(ctx, &params)
	if err != nil {
		return connectorError(err, tipExtract)
	}
	return r.writeOutput(ctx, store, spec, 0, v, outType, false, nil)
}

// expandRelational binds every {{ tag }} of the query or chain. The usable
// flag stays as the SDK set it and additionally requires every placeholder to
// be gone.
func expandRelational(p *connector.RelationalParams, values map[string]string, now time.Time) (*connector.RelationalParams, error) {
	out := &connector.RelationalParams{Usable: p.Usable}
	if p.Query != "" {
		q, err := query.Expand(p.Query, values, now)
		if err != nil {
			return nil, err
		}
		out.Query = q
		out.Usable = out.Usable && query.Usable(q)
	}
	for _, raw := range p.Queries {
		q, err := query.Expand(raw, values, now)
		if err != nil {
			return nil, err
		}
		out.Queries = append(out.Queries, q)
		out.Usable = out.Usable && query.Usable(q)
	}
	return out, nil
}

// paramString renders a parameter value for substitution into a query.
func paramString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case types.JSON:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	if f, ok := serialization.ToFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func (r *Runtime) runLoad(ctx context.Context, spec *Spec, inputs []input) error {
	ls := spec.Load
	in := inputs[0]
	if ls.Service.IsRelational() && in.md.ArtifactType != types.ArtifactTypeTable {
		return types.Errorf(types.ErrUserFatal, "only tables can be saved to %s, got a %s artifact", ls.Service, in.md.ArtifactType).
			WithTip("Relational integrations can only store table artifacts.")
	}

	conn, release, err := r.connectorFor(ctx, ls.Service, ls.Integration, ls.Connection)
	if err != nil {
		return err
	}
	defer release()

	if err := conn.Load(ctx, ls.Parameters, in.value, in.md.ArtifactType); err != nil {
		return connectorError(err, tipLoad)
	}
	return nil
}

func (r *Runtime) runSystemMetric(ctx context.Context, spec *Spec, store storage.Storage, inputs []input) error {
	name := spec.SystemMetric.MetricName
	v, err := inputs[0].md.SystemMetric(name)
	if err != nil {
		return err
	}
	return r.writeOutput(ctx, store, spec, 0, v, types.ArtifactTypeNumeric, false, nil)
}

// connectorFor prefers a connector registered under the integration name and
// otherwise opens one from the connection the spec carries. The returned
// release func closes connectors opened here.
func (r *Runtime) connectorFor(ctx context.Context, service connector.Service, integration string, conn *ConnectionConfig) (connector.Connector, func(), error) {
	if integration != "" && r.connectors != nil {
		if c, err := r.connectors.Get(integration); err == nil {
			return c, func() {}, nil
		}
	}
	if conn != nil {
		switch {
		case service.IsRelational() && conn.Database != nil:
			c, err := relational.Open(*conn.Database, r.logger)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to connect to %s: %w", service, err)
			}
			return c.WithMetrics(r.metrics), func() { _ = c.Close() }, nil
		case conn.Storage != nil:
			s, err := storage.New(ctx, *conn.Storage, r.logger)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to connect to %s: %w", service, err)
			}
			return object.New(s, r.logger), func() {}, nil
		}
	}
	return nil, nil, fmt.Errorf("no connector available for integration %q (%s)", integration, service)
}

// connectorError classifies a connector failure. Failures the connector
// already classified keep their code; the rest are blamed on the user's
// query or destination.
func connectorError(err error, tip string) error {
	if te, ok := types.AsError(err); ok {
		if te.Tip == "" {
			te = te.WithTip(tip)
		}
		return te
	}
	return types.Errorf(types.ErrUserFatal, "%v", err).WithTip(tip).WithContext(err.Error()).WithCause(err)
}
