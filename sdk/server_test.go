package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/client"
	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/connector/relational"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/internal/database"
	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

var fixedNow = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

// fakeServer answers the PipeFlow API by running every operator in-process
// with the executor, over file storage and a SQLite warehouse.
type fakeServer struct {
	t         *testing.T
	srv       *httptest.Server
	store     storage.Storage
	storeCfg  storage.Config
	runtime   *executor.Runtime
	warehouse *relational.Connector

	previews        atomic.Int32
	artifactFetches atomic.Int32

	mu      sync.Mutex
	flows   map[uuid.UUID]*fakeFlow
	results map[uuid.UUID]map[uuid.UUID]*client.ArtifactResultResponse
}

type fakeFlow struct {
	dags    map[uuid.UUID]*workflow.DAG
	runs    []client.WorkflowDAGResult
	current uuid.UUID
}

// runOutcome is what running a DAG once produced.
type runOutcome struct {
	status    types.ExecutionStatus
	states    map[uuid.UUID]*types.ExecutionState
	artifacts map[uuid.UUID]*client.ArtifactResult
	producers map[uuid.UUID]uuid.UUID
}

func newFakeServer(t *testing.T, reg *executor.Registry) *fakeServer {
	t.Helper()
	dir := t.TempDir()

	cfg := storage.Config{Type: storage.TypeFile, File: storage.FileConfig{Directory: filepath.Join(dir, "store")}}
	store, err := storage.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	warehouse, err := relational.Open(database.Config{
		Dialect: database.DialectSQLite,
		DSN:     filepath.Join(dir, "warehouse.db"),
		Pool:    database.PoolConfig{MaxOpenConns: 1},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = warehouse.Close() })

	conns := connector.NewRegistry()
	conns.Register("warehouse", warehouse)

	fs := &fakeServer{
		t:         t,
		store:     store,
		storeCfg:  cfg,
		warehouse: warehouse,
		runtime: executor.New(
			executor.WithStorage(store),
			executor.WithRegistry(reg),
			executor.WithConnectors(conns),
			executor.WithLogger(zap.NewNop()),
			executor.WithClock(func() time.Time { return fixedNow }),
		),
		flows:   make(map[uuid.UUID]*fakeFlow),
		results: make(map[uuid.UUID]map[uuid.UUID]*client.ArtifactResultResponse),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/preview", fs.handlePreview)
	mux.HandleFunc("POST /api/workflow/register", fs.handleRegister)
	mux.HandleFunc("POST /api/workflow/{id}/refresh", fs.handleRefresh)
	mux.HandleFunc("POST /api/workflow/{id}/delete", fs.handleDelete)
	mux.HandleFunc("GET /api/workflow/{id}", fs.handleGetWorkflow)
	mux.HandleFunc("GET /api/integrations", fs.handleIntegrations)
	mux.HandleFunc("GET /api/artifact_result/{run}/{artifact}", fs.handleArtifactResult)
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

// client returns an API client pointed at the server.
func (fs *fakeServer) client() *client.Client {
	fs.t.Helper()
	c, err := client.New(config.APIConfig{
		Address:    fs.srv.URL,
		APIKey:     "test-key",
		Timeout:    10 * time.Second,
		MaxRetries: 1,
	}, zap.NewNop(), client.WithHTTPClient(fs.srv.Client()))
	require.NoError(fs.t, err)
	return c
}

// seed replaces a warehouse table.
func (fs *fakeServer) seed(table string, columns []string, rows [][]any) {
	fs.t.Helper()
	tbl, err := types.NewTable(columns, rows)
	require.NoError(fs.t, err)
	err = fs.warehouse.Load(context.Background(), TableSave(table, connector.UpdateModeReplace), tbl, types.ArtifactTypeTable)
	require.NoError(fs.t, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readDAG decodes the multipart DAG upload and attaches the bundles.
func readDAG(r *http.Request) (*workflow.DAG, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}
	dag, err := workflow.FromJSON([]byte(r.FormValue("dag")))
	if err != nil {
		return nil, err
	}
	for id, op := range dag.Operators {
		files := r.MultipartForm.File[id.String()]
		if len(files) == 0 {
			continue
		}
		f, err := files[0].Open()
		if err != nil {
			return nil, err
		}
		op.File, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	return dag, nil
}

func contentKey(runID, artifactID uuid.UUID) string {
	return runID.String() + "/artifacts/" + artifactID.String()
}

// spec translates one DAG operator into an executor spec for runID.
func (fs *fakeServer) spec(ctx context.Context, runID uuid.UUID, dag *workflow.DAG, op *workflow.Operator) (*executor.Spec, error) {
	prefix := runID.String() + "/operators/" + op.ID.String()
	spec := &executor.Spec{
		Type:          op.Kind(),
		Name:          op.Name,
		StorageConfig: fs.storeCfg,
		ExecStatePath: prefix + "/state.json",
	}
	var inputNames []string
	for _, in := range op.Inputs {
		spec.InputContentPaths = append(spec.InputContentPaths, contentKey(runID, in))
		spec.InputMetadataPaths = append(spec.InputMetadataPaths, contentKey(runID, in)+".meta")
		if art, ok := dag.Artifact(in); ok {
			inputNames = append(inputNames, art.Name)
		}
	}
	for _, out := range op.Outputs {
		spec.OutputContentPaths = append(spec.OutputContentPaths, contentKey(runID, out))
		spec.OutputMetadataPaths = append(spec.OutputMetadataPaths, contentKey(runID, out)+".meta")
		art, _ := dag.Artifact(out)
		spec.ExpectedOutputArtifactTypes = append(spec.ExpectedOutputArtifactTypes, art.Type)
	}

	switch op.Kind() {
	case types.OperatorTypeFunction, types.OperatorTypeMetric, types.OperatorTypeCheck:
		path := prefix + "/bundle.zip"
		if err := fs.store.Put(ctx, path, op.File); err != nil {
			return nil, err
		}
		uf := op.Spec.UserFunction()
		spec.Function = &executor.FunctionSpec{
			FunctionPath: path,
			EntryPoint:   uf.EntryPoint,
			CustomArgs:   uf.CustomArgs,
			NumOutputs:   len(op.Outputs),
		}
		if op.Spec.Check != nil {
			spec.Check = &executor.CheckSpec{Severity: op.Spec.Check.Level}
		}
	case types.OperatorTypeParam:
		spec.Param = op.Spec.Param
	case types.OperatorTypeExtract:
		spec.Extract = &executor.ExtractSpec{
			Service:         op.Spec.Extract.Service,
			Integration:     op.Spec.Extract.Integration,
			Parameters:      op.Spec.Extract.Parameters,
			InputParamNames: inputNames,
		}
	case types.OperatorTypeLoad:
		spec.Load = &executor.LoadSpec{
			Service:     op.Spec.Load.Service,
			Integration: op.Spec.Load.Integration,
			Parameters:  op.Spec.Load.Parameters,
		}
	case types.OperatorTypeSystemMetric:
		spec.SystemMetric = &executor.SystemMetricSpec{MetricName: op.Spec.SystemMetric.MetricName}
	}
	return spec, spec.Validate()
}

// run executes dag operator by operator. Operators downstream of a fatal
// failure are skipped.
func (fs *fakeServer) run(ctx context.Context, runID uuid.UUID, dag *workflow.DAG) (*runOutcome, error) {
	order, err := dag.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	out := &runOutcome{
		status:    types.ExecutionStatusSucceeded,
		states:    make(map[uuid.UUID]*types.ExecutionState),
		artifacts: make(map[uuid.UUID]*client.ArtifactResult),
		producers: make(map[uuid.UUID]uuid.UUID),
	}
	for _, op := range order {
		ready := true
		for _, in := range op.Inputs {
			if _, ok := out.artifacts[in]; !ok {
				ready = false
			}
		}
		if !ready {
			continue
		}

		spec, err := fs.spec(ctx, runID, dag, op)
		if err != nil {
			return nil, err
		}
		fs.runtime.Run(ctx, spec)
		state, err := executor.ReadExecutionState(ctx, fs.store, spec.ExecStatePath)
		if err != nil {
			return nil, err
		}
		out.states[op.ID] = state
		if state.Failed() {
			out.status = types.ExecutionStatusFailed
			continue
		}

		for i, id := range op.Outputs {
			_, md, err := executor.ReadArtifact(ctx, fs.store, spec.OutputContentPaths[i], spec.OutputMetadataPaths[i])
			if err != nil {
				continue
			}
			data, err := fs.store.Get(ctx, spec.OutputContentPaths[i])
			if err != nil {
				return nil, err
			}
			out.artifacts[id] = &client.ArtifactResult{
				SerializationType: md.SerializationType,
				ArtifactType:      md.ArtifactType,
				Content:           data,
			}
			out.producers[id] = op.ID
		}
	}
	return out, nil
}

func (fs *fakeServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	fs.previews.Add(1)
	dag, err := readDAG(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, op := range dag.Operators {
		if op.Kind() == types.OperatorTypeLoad {
			writeError(w, http.StatusBadRequest, "previews never run loads")
			return
		}
	}
	out, err := fs.run(r.Context(), uuid.New(), dag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, client.PreviewResponse{
		Status:          out.status,
		OperatorResults: out.states,
		ArtifactResults: out.artifacts,
	})
}

// record stores a run of a flow version.
func (fs *fakeServer) record(ctx context.Context, flow *fakeFlow, dagID uuid.UUID) error {
	runID := uuid.New()
	out, err := fs.run(ctx, runID, flow.dags[dagID])
	if err != nil {
		return err
	}
	results := make(map[uuid.UUID]*client.ArtifactResultResponse, len(out.artifacts))
	for id, res := range out.artifacts {
		results[id] = &client.ArtifactResultResponse{ArtifactResult: *res, ExecState: out.states[out.producers[id]]}
	}
	fs.results[runID] = results
	flow.runs = append(flow.runs, client.WorkflowDAGResult{
		ID:            runID,
		WorkflowDAGID: dagID,
		Status:        out.status,
		CreatedAt:     time.Now(),
	})
	return nil
}

func (fs *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	dag, err := readDAG(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	flowID := uuid.New()
	if raw := r.FormValue("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil || fs.flows[id] == nil {
			writeError(w, http.StatusNotFound, "unknown workflow "+raw)
			return
		}
		flowID = id
	}
	flow := fs.flows[flowID]
	if flow == nil {
		flow = &fakeFlow{dags: make(map[uuid.UUID]*workflow.DAG)}
		fs.flows[flowID] = flow
	}
	dagID := uuid.New()
	flow.dags[dagID] = dag
	flow.current = dagID
	if err := fs.record(r.Context(), flow, dagID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, client.RegisterWorkflowResponse{ID: flowID})
}

func (fs *fakeServer) flow(w http.ResponseWriter, r *http.Request) (*fakeFlow, uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return nil, uuid.Nil, false
	}
	flow := fs.flows[id]
	if flow == nil {
		writeError(w, http.StatusNotFound, "unknown workflow "+id.String())
		return nil, uuid.Nil, false
	}
	return flow, id, true
}

func (fs *fakeServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	flow, _, ok := fs.flow(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dagID := flow.current
	if raw := r.FormValue("parameters"); raw != "" {
		var params map[string]*workflow.ParamSpec
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		dag, err := workflow.ApplyDeltas(flow.dags[dagID], []workflow.Delta{&workflow.UpdateParametersDelta{Parameters: params}}, true)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		dagID = uuid.New()
		flow.dags[dagID] = dag
	}
	if err := fs.record(r.Context(), flow, dagID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (fs *fakeServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	flow, id, ok := fs.flow(w, r)
	if !ok {
		return
	}
	var req client.DeleteWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	written := savedObjects(flow.dags[flow.current])
	resp := client.DeleteWorkflowResponse{SavedObjectDeletionResults: map[string][]client.SavedObjectDeletionResult{}}
	for integ, names := range req.ExternalDelete {
		for _, name := range names {
			state := types.NewExecutionState(fixedNow)
			known := false
			for _, obj := range written[integ] {
				known = known || obj.Name == name
			}
			if known {
				state.MarkSucceeded(fixedNow)
			} else {
				if !req.Force {
					writeError(w, http.StatusUnprocessableEntity, "object "+name+" was not written by this workflow")
					return
				}
				state.MarkFailed(fixedNow, types.FailureTypeUserFatal, "object was not written by this workflow", name)
			}
			resp.SavedObjectDeletionResults[integ] = append(resp.SavedObjectDeletionResults[integ],
				client.SavedObjectDeletionResult{Name: name, ExecState: state})
		}
	}
	delete(fs.flows, id)
	writeJSON(w, http.StatusOK, resp)
}

func (fs *fakeServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	flow, _, ok := fs.flow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, client.WorkflowResponse{WorkflowDAGs: flow.dags, WorkflowDAGResults: flow.runs})
}

func (fs *fakeServer) handleIntegrations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []client.Integration{
		{ID: uuid.New(), Name: "warehouse", Service: connector.ServiceSQLite, Validated: true},
		{ID: uuid.New(), Name: "lake", Service: connector.ServiceFile, Validated: true},
	})
}

func (fs *fakeServer) handleArtifactResult(w http.ResponseWriter, r *http.Request) {
	fs.artifactFetches.Add(1)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	runID, err1 := uuid.Parse(r.PathValue("run"))
	artID, err2 := uuid.Parse(r.PathValue("artifact"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	res := fs.results[runID][artID]
	if res == nil {
		writeError(w, http.StatusNotFound, "no result for artifact "+artID.String())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
