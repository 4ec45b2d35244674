package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/connector/object"
	"github.com/BaSui01/pipeflow/internal/database"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	store    storage.Storage
	cfg      storage.Config
	registry *Registry
	runtime  *Runtime
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := storage.Config{Type: storage.TypeFile, File: storage.FileConfig{Directory: t.TempDir()}}
	store, err := storage.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	reg := NewRegistry()
	return &testEnv{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		cfg:      cfg,
		registry: reg,
		runtime:  New(WithRegistry(reg), WithLogger(zap.NewNop())),
	}
}

// putArtifact writes v the way an upstream run would.
func (e *testEnv) putArtifact(name string, v any) [2]string {
	e.t.Helper()
	t, err := serialization.InferArtifactType(v)
	require.NoError(e.t, err)
	data, st, err := serialization.Serialize(t, v, false)
	require.NoError(e.t, err)

	content, meta := "artifacts/"+name, "artifacts/"+name+".meta"
	require.NoError(e.t, e.store.Put(e.ctx, content, data))
	require.NoError(e.t, writeJSON(e.ctx, e.store, meta, newMetadata(v, t, st, nil)))
	return [2]string{content, meta}
}

// putFunction registers fn under key and stores its bundle.
func (e *testEnv) putFunction(key string, fn any) *FunctionSpec {
	e.t.Helper()
	require.NoError(e.t, e.registry.Register(key, fn))
	bundle, err := BuildBundle(Manifest{File: "main.go", Method: "Run", FunctionKey: key},
		map[string][]byte{"main.go": []byte("package main\n")})
	require.NoError(e.t, err)

	path := "bundles/" + key + ".zip"
	require.NoError(e.t, e.store.Put(e.ctx, path, bundle))
	return &FunctionSpec{
		FunctionPath: path,
		EntryPoint:   workflow.EntryPoint{File: "main.go", Method: "Run"},
	}
}

func (e *testEnv) spec(kind types.OperatorType, inputs [][2]string, outputs int) *Spec {
	s := &Spec{
		Type:          kind,
		Name:          "op",
		StorageConfig: e.cfg,
		ExecStatePath: "state/op.json",
	}
	for _, in := range inputs {
		s.InputContentPaths = append(s.InputContentPaths, in[0])
		s.InputMetadataPaths = append(s.InputMetadataPaths, in[1])
	}
	for i := 0; i < outputs; i++ {
		s.OutputContentPaths = append(s.OutputContentPaths, fmt.Sprintf("out/%d", i))
		s.OutputMetadataPaths = append(s.OutputMetadataPaths, fmt.Sprintf("out/%d.meta", i))
	}
	return s
}

// run executes spec and checks the exit code against the written state.
func (e *testEnv) run(spec *Spec) (int, *types.ExecutionState) {
	e.t.Helper()
	require.NoError(e.t, spec.Validate())
	code := e.runtime.Run(e.ctx, spec)

	state, err := ReadExecutionState(e.ctx, e.store, spec.ExecStatePath)
	require.NoError(e.t, err)
	require.NoError(e.t, state.Validate())
	if code != ExitSuccess {
		assert.Equal(e.t, types.ExecutionStatusFailed, state.Status)
		assert.Contains(e.t, []types.FailureType{types.FailureTypeUserFatal, types.FailureTypeSystem}, state.FailureType)
	}
	return code, state
}

func (e *testEnv) output(spec *Spec, i int) (any, *Metadata) {
	e.t.Helper()
	v, md, err := ReadArtifact(e.ctx, e.store, spec.OutputContentPaths[i], spec.OutputMetadataPaths[i])
	require.NoError(e.t, err)
	return v, md
}

func TestRunFunction(t *testing.T) {
	env := newTestEnv(t)
	in := env.putArtifact("n", int64(8))
	spec := env.spec(types.OperatorTypeFunction, [][2]string{in}, 1)
	spec.Function = env.putFunction("double", func(n int) int { return n * 2 })

	code, state := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, types.ExecutionStatusSucceeded, state.Status)

	v, md := env.output(spec, 0)
	assert.Equal(t, int64(16), v)
	assert.Equal(t, types.ArtifactTypeNumeric, md.ArtifactType)
	assert.Equal(t, types.SerializationTypeJSON, md.SerializationType)
	assert.Contains(t, md.SystemMetadata, types.SystemMetadataRuntime)
	assert.Contains(t, md.SystemMetadata, types.SystemMetadataMaxMemory)
}

func TestRunFunction_TableInput(t *testing.T) {
	env := newTestEnv(t)
	tbl, err := types.NewTable([]string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}})
	require.NoError(t, err)
	in := env.putArtifact("tbl", tbl)

	spec := env.spec(types.OperatorTypeFunction, [][2]string{in}, 1)
	spec.Function = env.putFunction("identity", func(t *types.Table) *types.Table { return t })

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)

	v, md := env.output(spec, 0)
	assert.True(t, tbl.Equal(v.(*types.Table)))
	assert.Equal(t, types.ArtifactTypeTable, md.ArtifactType)
	assert.Equal(t, []map[string]string{{"a": "integer"}, {"b": "string"}}, md.Schema)
}

func TestRunFunction_CapturesOutput(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 1)
	spec.Function = env.putFunction("chatty", func() string {
		fmt.Println("hello from user code")
		fmt.Fprintln(os.Stderr, "warning from user code")
		return "done"
	})

	code, state := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	require.NotNil(t, state.UserLogs)
	assert.Contains(t, state.UserLogs.Stdout, "hello from user code")
	assert.Contains(t, state.UserLogs.Stderr, "warning from user code")
}

func TestRunFunction_UserError(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 1)
	spec.Function = env.putFunction("fails", func() (string, error) {
		return "", errors.New("bad input row 7")
	})

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
	require.NotNil(t, state.Error)
	assert.Contains(t, state.Error.Context, "bad input row 7")

	exists, err := env.store.Exists(env.ctx, spec.OutputContentPaths[0])
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunFunction_Panic(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 1)
	spec.Function = env.putFunction("panics", func() int { panic("boom") })

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
	assert.Contains(t, state.Error.Context, "boom")
	assert.NotContains(t, state.Error.Context, "runtime/debug.Stack")
}

func TestRunFunction_NotRegistered(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 1)
	spec.Function = env.putFunction("known", func() int { return 1 })

	bundle, err := BuildBundle(Manifest{File: "main.go", Method: "Run", FunctionKey: "unknown"},
		map[string][]byte{"main.go": nil})
	require.NoError(t, err)
	require.NoError(t, env.store.Put(env.ctx, spec.Function.FunctionPath, bundle))

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRunFunction_MultipleOutputs(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 2)
	spec.Function = env.putFunction("pair", func() (string, float64) { return "left", 2.5 })
	spec.Function.NumOutputs = 2

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)

	left, _ := env.output(spec, 0)
	right, _ := env.output(spec, 1)
	assert.Equal(t, "left", left)
	assert.Equal(t, 2.5, right)
}

func TestRunFunction_WrongOutputCount(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 2)
	spec.Function = env.putFunction("triple", func() []any { return []any{1, 2, 3} })
	spec.Function.NumOutputs = 2

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRunFunction_ExpectedTypeMismatch(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, nil, 1)
	spec.Function = env.putFunction("str", func() string { return "not a table" })
	spec.ExpectedOutputArtifactTypes = []types.ArtifactType{types.ArtifactTypeTable}

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRunFunction_CustomArgs(t *testing.T) {
	env := newTestEnv(t)
	in := env.putArtifact("x", 3.0)
	spec := env.spec(types.OperatorTypeFunction, [][2]string{in}, 1)
	spec.Function = env.putFunction("scale", func(x float64, args map[string]any) float64 {
		return x * args["factor"].(float64)
	})
	spec.Function.CustomArgs = `{"factor": 2}`

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	v, _ := env.output(spec, 0)
	assert.Equal(t, 6.0, v)
}

func TestRunMetric(t *testing.T) {
	env := newTestEnv(t)
	in := env.putArtifact("n", int64(8))
	spec := env.spec(types.OperatorTypeMetric, [][2]string{in}, 1)
	spec.Function = env.putFunction("metric", func(n int64) int64 { return n * 2 })

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	v, md := env.output(spec, 0)
	assert.Equal(t, int64(16), v)
	assert.Equal(t, types.ArtifactTypeNumeric, md.ArtifactType)
}

func TestRunMetric_NonNumeric(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeMetric, nil, 1)
	spec.Function = env.putFunction("bad_metric", func() string { return "16" })

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRun_UnstorableOutputIsUserFatal(t *testing.T) {
	tests := []struct {
		name string
		kind types.OperatorType
		fn   any
	}{
		{"metric returning NaN", types.OperatorTypeMetric, func() float64 { return math.NaN() }},
		{"function returning a nil table", types.OperatorTypeFunction, func() *types.Table { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			spec := env.spec(tt.kind, nil, 1)
			spec.Function = env.putFunction("unstorable", tt.fn)

			code, state := env.run(spec)
			assert.Equal(t, ExitFailure, code)
			assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
			require.NotNil(t, state.Error)
			assert.NotEqual(t, tipSystem, state.Error.Tip)

			exists, err := env.store.Exists(env.ctx, spec.OutputContentPaths[0])
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestRunCheck(t *testing.T) {
	tests := []struct {
		name        string
		result      any
		severity    types.CheckSeverity
		wantCode    int
		wantStatus  types.ExecutionStatus
		wantFailure types.FailureType
	}{
		{"passes", true, types.CheckSeverityError, ExitSuccess, types.ExecutionStatusSucceeded, types.FailureTypeNone},
		{"warning does not fail the run", false, types.CheckSeverityWarning, ExitSuccess, types.ExecutionStatusFailed, types.FailureTypeUserNonFatal},
		{"error fails the run", false, types.CheckSeverityError, ExitFailure, types.ExecutionStatusFailed, types.FailureTypeUserFatal},
		{"all true slice passes", []bool{true, true}, types.CheckSeverityError, ExitSuccess, types.ExecutionStatusSucceeded, types.FailureTypeNone},
		{"one false fails", []bool{true, false}, types.CheckSeverityError, ExitFailure, types.ExecutionStatusFailed, types.FailureTypeUserFatal},
		{"non bool is user fatal", 1, types.CheckSeverityWarning, ExitFailure, types.ExecutionStatusFailed, types.FailureTypeUserFatal},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			spec := env.spec(types.OperatorTypeCheck, nil, 1)
			result := tt.result
			spec.Function = env.putFunction(fmt.Sprintf("check_%d", i), func() any { return result })
			spec.Check = &CheckSpec{Severity: tt.severity}

			code, state := env.run(spec)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, state.Status)
			assert.Equal(t, tt.wantFailure, state.FailureType)
		})
	}
}

func TestRunCheck_WritesResultBeforeFailing(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeCheck, nil, 1)
	spec.Function = env.putFunction("check_false", func() bool { return false })
	spec.Check = &CheckSpec{Severity: types.CheckSeverityWarning}

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	v, md := env.output(spec, 0)
	assert.Equal(t, false, v)
	assert.Equal(t, types.ArtifactTypeBool, md.ArtifactType)
}

func paramSpec(t *testing.T, v any) *workflow.ParamSpec {
	t.Helper()
	at, err := serialization.InferArtifactType(v)
	require.NoError(t, err)
	data, st, err := serialization.Serialize(at, v, false)
	require.NoError(t, err)
	return workflow.NewParamSpec(data, st)
}

func TestRunParam(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeParam, nil, 1)
	spec.Param = paramSpec(t, int64(8))
	spec.ExpectedOutputArtifactTypes = []types.ArtifactType{types.ArtifactTypeNumeric}

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	v, md := env.output(spec, 0)
	assert.Equal(t, int64(8), v)
	assert.Equal(t, types.ArtifactTypeNumeric, md.ArtifactType)
}

func TestRunParam_TypeMismatch(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeParam, nil, 1)
	spec.Param = paramSpec(t, "eight")
	spec.ExpectedOutputArtifactTypes = []types.ArtifactType{types.ArtifactTypeNumeric}

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRunSystemMetric(t *testing.T) {
	env := newTestEnv(t)
	content, meta := "artifacts/x", "artifacts/x.meta"
	data, st, err := serialization.Serialize(types.ArtifactTypeString, "x", false)
	require.NoError(t, err)
	require.NoError(t, env.store.Put(env.ctx, content, data))
	require.NoError(t, writeJSON(env.ctx, env.store, meta, newMetadata("x", types.ArtifactTypeString, st,
		map[string]string{types.SystemMetadataRuntime: "1.5", types.SystemMetadataMaxMemory: "12"})))

	spec := env.spec(types.OperatorTypeSystemMetric, [][2]string{{content, meta}}, 1)
	spec.SystemMetric = &SystemMetricSpec{MetricName: types.SystemMetadataRuntime}

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	v, _ := env.output(spec, 0)
	assert.Equal(t, 1.5, v)
}

func TestRun_MissingInputIsSystemFailure(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeFunction, [][2]string{{"nope", "nope.meta"}}, 1)
	spec.Function = env.putFunction("id", func(v any) any { return v })

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeSystem, state.FailureType)
}

func TestRunJSON_InvalidSpecWritesState(t *testing.T) {
	env := newTestEnv(t)
	raw := fmt.Sprintf(`{"type":"function","name":"op","metadata_path":"state/bad.json","storage_config":{"type":"file","file_config":{"directory":%q}}}`,
		env.cfg.File.Directory)

	code := env.runtime.RunJSON(env.ctx, []byte(raw))
	assert.Equal(t, ExitFailure, code)

	state, err := ReadExecutionState(env.ctx, env.store, "state/bad.json")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, state.Status)
	assert.Equal(t, types.FailureTypeSystem, state.FailureType)
}

func TestRunLoadAndExtract(t *testing.T) {
	env := newTestEnv(t)
	conn := &ConnectionConfig{Database: &database.Config{
		Dialect: database.DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "warehouse.db"),
		Pool:    database.PoolConfig{MaxOpenConns: 1},
	}}

	tbl, err := types.NewTable([]string{"id", "name"}, [][]any{{1, "ada"}, {2, "bob"}, {3, "cy"}})
	require.NoError(t, err)
	in := env.putArtifact("people", tbl)

	load := env.spec(types.OperatorTypeLoad, [][2]string{in}, 0)
	load.Load = &LoadSpec{
		Service:    connector.ServiceSQLite,
		Connection: conn,
		Parameters: &connector.LoadParams{Relational: &connector.RelationalLoadParams{
			Table: "people", UpdateMode: connector.UpdateModeReplace,
		}},
	}
	code, _ := env.run(load)
	require.Equal(t, ExitSuccess, code)

	minID := env.putArtifact("min_id", int64(1))
	extract := env.spec(types.OperatorTypeExtract, [][2]string{minID}, 1)
	extract.Extract = &ExtractSpec{
		Service:    connector.ServiceSQLite,
		Connection: conn,
		Parameters: &connector.ExtractParams{Relational: &connector.RelationalParams{
			Query:  "SELECT id, name FROM people WHERE id > {{ min_id }} ORDER BY id",
			Usable: true,
		}},
		InputParamNames: []string{"min_id"},
	}
	code, _ = env.run(extract)
	require.Equal(t, ExitSuccess, code)

	v, md := env.output(extract, 0)
	got := v.(*types.Table)
	assert.Equal(t, types.ArtifactTypeTable, md.ArtifactType)
	assert.Equal(t, 2, got.NumRows())
	assert.Equal(t, "bob", got.Rows[0][1])
}

func TestRunExtract_UnknownTagIsUserFatal(t *testing.T) {
	env := newTestEnv(t)
	spec := env.spec(types.OperatorTypeExtract, nil, 1)
	spec.Extract = &ExtractSpec{
		Service: connector.ServiceSQLite,
		Connection: &ConnectionConfig{Database: &database.Config{
			Dialect: database.DialectSQLite,
			DSN:     filepath.Join(t.TempDir(), "empty.db"),
		}},
		Parameters: &connector.ExtractParams{Relational: &connector.RelationalParams{
			Query: "SELECT * FROM t WHERE d > {{ missing }}", Usable: true,
		}},
	}

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRunLoad_RelationalRejectsNonTable(t *testing.T) {
	env := newTestEnv(t)
	in := env.putArtifact("s", "just a string")
	spec := env.spec(types.OperatorTypeLoad, [][2]string{in}, 0)
	spec.Load = &LoadSpec{
		Service: connector.ServiceSQLite,
		Parameters: &connector.LoadParams{Relational: &connector.RelationalLoadParams{
			Table: "t", UpdateMode: connector.UpdateModeReplace,
		}},
	}

	code, state := env.run(spec)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, types.FailureTypeUserFatal, state.FailureType)
}

func TestRunObjectExtract_RegisteredConnector(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Put(env.ctx, "bucket/a.json", []byte(`{"k": 1}`)))

	conns := connector.NewRegistry()
	objStore, err := storage.New(env.ctx, env.cfg, zap.NewNop())
	require.NoError(t, err)
	conns.Register("lake", object.New(objStore, zap.NewNop()))
	env.runtime = New(WithRegistry(env.registry), WithConnectors(conns))

	spec := env.spec(types.OperatorTypeExtract, nil, 1)
	spec.Extract = &ExtractSpec{
		Service:     connector.ServiceFile,
		Integration: "lake",
		Parameters: &connector.ExtractParams{Object: &connector.ObjectParams{
			Filepaths:    []string{"bucket/a.json"},
			ArtifactType: types.ArtifactTypeDict,
		}},
	}

	code, _ := env.run(spec)
	require.Equal(t, ExitSuccess, code)
	v, md := env.output(spec, 0)
	assert.Equal(t, types.ArtifactTypeDict, md.ArtifactType)
	assert.Equal(t, map[string]any{"k": int64(1)}, v)
}
