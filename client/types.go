package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// ArtifactResult is one serialized artifact returned by the server.
type ArtifactResult struct {
	SerializationType types.SerializationType `json:"serialization_type"`
	ArtifactType      types.ArtifactType      `json:"artifact_type"`
	Content           []byte                  `json:"content"`
}

// PreviewResponse is the result of previewing a DAG.
type PreviewResponse struct {
	Status          types.ExecutionStatus               `json:"status"`
	OperatorResults map[uuid.UUID]*types.ExecutionState `json:"operator_results"`
	ArtifactResults map[uuid.UUID]*ArtifactResult       `json:"artifact_results"`
}

// RegisterWorkflowResponse carries the id of the published flow.
type RegisterWorkflowResponse struct {
	ID uuid.UUID `json:"id"`
}

// WorkflowDAGResult is one run of a published flow.
type WorkflowDAGResult struct {
	ID            uuid.UUID             `json:"id"`
	WorkflowDAGID uuid.UUID             `json:"workflow_dag_id"`
	Status        types.ExecutionStatus `json:"status"`
	ExecState     *types.ExecutionState `json:"exec_state,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

// WorkflowResponse is the version history of a published flow.
type WorkflowResponse struct {
	WorkflowDAGs       map[uuid.UUID]*workflow.DAG `json:"workflow_dags"`
	WorkflowDAGResults []WorkflowDAGResult         `json:"workflow_dag_results"`
}

// LatestResult returns the most recent run, or nil.
func (w *WorkflowResponse) LatestResult() *WorkflowDAGResult {
	var latest *WorkflowDAGResult
	for i := range w.WorkflowDAGResults {
		r := &w.WorkflowDAGResults[i]
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// Integration is a data resource connected to the server.
type Integration struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Service   connector.Service `json:"service"`
	CreatedAt time.Time         `json:"created_at"`
	Validated bool              `json:"validated"`
}

// DeleteWorkflowRequest lists, per integration, the saved objects to delete
// alongside the flow.
type DeleteWorkflowRequest struct {
	ExternalDelete map[string][]string `json:"external_delete"`
	Force          bool                `json:"force"`
}

// SavedObjectDeletionResult reports the deletion of one saved object.
type SavedObjectDeletionResult struct {
	Name      string                `json:"name"`
	ExecState *types.ExecutionState `json:"exec_state"`
}

// Succeeded reports whether the object was deleted.
func (r SavedObjectDeletionResult) Succeeded() bool {
	return r.ExecState != nil && r.ExecState.Status == types.ExecutionStatusSucceeded
}

// DeleteWorkflowResponse maps integration names to per-object results.
type DeleteWorkflowResponse struct {
	SavedObjectDeletionResults map[string][]SavedObjectDeletionResult `json:"saved_object_deletion_results"`
}

// ArtifactResultResponse is a stored artifact of a published run.
type ArtifactResultResponse struct {
	ArtifactResult
	ExecState *types.ExecutionState `json:"exec_state,omitempty"`
}

// errorResponse is the body of a non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Tip     string `json:"tip,omitempty"`
	Context string `json:"context,omitempty"`
}
