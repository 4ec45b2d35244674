package types

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle status of an operator run, a DAG run or a
// saved-object deletion.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCanceled  ExecutionStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusCanceled
}

// FailureType classifies a failed execution.
type FailureType int

const (
	FailureTypeNone FailureType = iota
	FailureTypeSystem
	FailureTypeUserFatal
	FailureTypeUserNonFatal
)

// String implements fmt.Stringer.
func (f FailureType) String() string {
	switch f {
	case FailureTypeNone:
		return "none"
	case FailureTypeSystem:
		return "system"
	case FailureTypeUserFatal:
		return "user_fatal"
	case FailureTypeUserNonFatal:
		return "user_non_fatal"
	default:
		return fmt.Sprintf("failure_type(%d)", int(f))
	}
}

// ErrorCode maps a failure type onto the framework error taxonomy.
func (f FailureType) ErrorCode() ErrorCode {
	switch f {
	case FailureTypeUserFatal:
		return ErrUserFatal
	case FailureTypeUserNonFatal:
		return ErrUserNonFatal
	default:
		return ErrSystem
	}
}

// Logs holds the stdout/stderr captured while user code ran.
type Logs struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ExecError is the structured error recorded in an execution state.
type ExecError struct {
	Tip     string `json:"tip"`
	Context string `json:"context"`
}

// ExecutionTimestamps records status transition times.
type ExecutionTimestamps struct {
	PendingAt  *time.Time `json:"pending_at,omitempty"`
	RunningAt  *time.Time `json:"running_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExecutionState is written by every operator run and returned by the server
// for every previewed operator.
type ExecutionState struct {
	UserLogs    *Logs                `json:"user_logs,omitempty"`
	Status      ExecutionStatus      `json:"status"`
	FailureType FailureType          `json:"failure_type,omitempty"`
	Error       *ExecError           `json:"error,omitempty"`
	Timestamps  *ExecutionTimestamps `json:"timestamps,omitempty"`
}

// NewExecutionState returns a pending state stamped at now.
func NewExecutionState(now time.Time) *ExecutionState {
	return &ExecutionState{
		Status:     ExecutionStatusPending,
		UserLogs:   &Logs{},
		Timestamps: &ExecutionTimestamps{PendingAt: timePtr(now)},
	}
}

// MarkRunning transitions a pending state to running.
func (s *ExecutionState) MarkRunning(now time.Time) {
	s.ensureTimestamps(now)
	s.Status = ExecutionStatusRunning
	s.Timestamps.RunningAt = timePtr(now)
}

// MarkSucceeded transitions the state to succeeded.
func (s *ExecutionState) MarkSucceeded(now time.Time) {
	s.ensureTimestamps(now)
	if s.Timestamps.RunningAt == nil {
		s.Timestamps.RunningAt = timePtr(now)
	}
	s.Status = ExecutionStatusSucceeded
	s.FailureType = FailureTypeNone
	s.Error = nil
	s.Timestamps.FinishedAt = timePtr(now)
}

// MarkFailed transitions the state to failed with the given classification.
// A run that failed before it started still gets a running timestamp so the
// failed-state invariant holds.
func (s *ExecutionState) MarkFailed(now time.Time, failure FailureType, tip, context string) {
	s.ensureTimestamps(now)
	if s.Timestamps.RunningAt == nil {
		s.Timestamps.RunningAt = timePtr(now)
	}
	s.Status = ExecutionStatusFailed
	s.FailureType = failure
	s.Error = &ExecError{Tip: tip, Context: context}
	s.Timestamps.FinishedAt = timePtr(now)
}

// MarkCanceled transitions the state to canceled.
func (s *ExecutionState) MarkCanceled(now time.Time) {
	s.ensureTimestamps(now)
	s.Status = ExecutionStatusCanceled
	s.Timestamps.FinishedAt = timePtr(now)
}

// Failed reports whether the state records a failure that fails the run.
// Warning checks record FailureTypeUserNonFatal and do not count.
func (s *ExecutionState) Failed() bool {
	return s.Status == ExecutionStatusFailed && s.FailureType != FailureTypeUserNonFatal
}

// AsError converts a failed state into a *Error, or nil otherwise.
func (s *ExecutionState) AsError(message string) *Error {
	if s == nil || s.Status != ExecutionStatusFailed {
		return nil
	}
	e := NewError(s.FailureType.ErrorCode(), message)
	if s.Error != nil {
		e.Tip = s.Error.Tip
		e.Context = s.Error.Context
	}
	return e
}

// Validate checks the timestamp invariants:
// pending <= running <= finished; succeeded/failed carry all three;
// canceled carries pending and finished; pending carries neither running nor finished.
func (s *ExecutionState) Validate() error {
	ts := s.Timestamps
	if ts == nil {
		ts = &ExecutionTimestamps{}
	}
	if ts.PendingAt != nil && ts.RunningAt != nil && ts.RunningAt.Before(*ts.PendingAt) {
		return fmt.Errorf("running_at precedes pending_at")
	}
	if ts.RunningAt != nil && ts.FinishedAt != nil && ts.FinishedAt.Before(*ts.RunningAt) {
		return fmt.Errorf("finished_at precedes running_at")
	}
	if ts.PendingAt != nil && ts.FinishedAt != nil && ts.FinishedAt.Before(*ts.PendingAt) {
		return fmt.Errorf("finished_at precedes pending_at")
	}

	switch s.Status {
	case ExecutionStatusPending:
		if ts.RunningAt != nil || ts.FinishedAt != nil {
			return fmt.Errorf("pending state must not carry running or finished timestamps")
		}
	case ExecutionStatusRunning:
		if ts.RunningAt == nil || ts.FinishedAt != nil {
			return fmt.Errorf("running state must carry running and no finished timestamp")
		}
	case ExecutionStatusSucceeded, ExecutionStatusFailed:
		if ts.PendingAt == nil || ts.RunningAt == nil || ts.FinishedAt == nil {
			return fmt.Errorf("%s state must carry pending, running and finished timestamps", s.Status)
		}
	case ExecutionStatusCanceled:
		if ts.PendingAt == nil || ts.FinishedAt == nil {
			return fmt.Errorf("canceled state must carry pending and finished timestamps")
		}
	default:
		return fmt.Errorf("unknown execution status: %q", s.Status)
	}

	if s.Status == ExecutionStatusFailed && s.FailureType == FailureTypeNone {
		return fmt.Errorf("failed state must carry a failure type")
	}
	return nil
}

func (s *ExecutionState) ensureTimestamps(now time.Time) {
	if s.Timestamps == nil {
		s.Timestamps = &ExecutionTimestamps{}
	}
	if s.Timestamps.PendingAt == nil {
		s.Timestamps.PendingAt = timePtr(now)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
