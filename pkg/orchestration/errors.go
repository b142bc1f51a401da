package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrSuspended is returned by Await and WhenAll while an awaited task has no
	// completion event. Orchestrators return it unchanged.
	ErrSuspended = errors.New("orchestration suspended awaiting task completion")

	ErrOrchestratorNotFound = errors.New("orchestrator not found")
	ErrInstanceTerminal     = errors.New("instance is in a terminal state")
	ErrUnknownTask          = errors.New("task was never scheduled")
	ErrReplayDivergence     = errors.New("replay diverged from history")
	ErrHistoryCorrupted     = errors.New("history is corrupted")
	ErrOrchestratorPanic    = errors.New("orchestrator panicked")
)

// ActivityFailedError is what awaiting a failed task returns to orchestration logic.
type ActivityFailedError struct {
	TaskID   string
	Activity string
	Message  string
}

func (e *ActivityFailedError) Error() string {
	return fmt.Sprintf("activity %s (%s) failed: %s", e.Activity, e.TaskID, e.Message)
}

// InternalError is a non-retryable orchestration failure: corrupt history, replay
// divergence, a panic or an unknown orchestrator.
type InternalError struct {
	InstanceID string
	Reason     string
	Err        error
}

func (e *InternalError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("instance %s: %v", e.InstanceID, e.Err)
	}

	return fmt.Sprintf("instance %s: %v: %s", e.InstanceID, e.Err, e.Reason)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func newInternalError(instanceID string, err error, format string, args ...any) *InternalError {
	return &InternalError{
		InstanceID: instanceID,
		Reason:     fmt.Sprintf(format, args...),
		Err:        err,
	}
}

func IsSuspended(err error) bool {
	return errors.Is(err, ErrSuspended)
}

func IsActivityFailed(err error) bool {
	var target *ActivityFailedError

	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target *InternalError

	return errors.As(err, &target)
}
