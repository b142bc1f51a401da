package orchestration

import (
	"encoding/json"

	"github.com/dukex/imageflow/pkg/models"
)

// Task is the handle of one activity call inside orchestration logic.
type Task struct {
	id       string
	activity string
	ctx      *Context
}

func (t *Task) ID() string {
	return t.id
}

func (t *Task) Activity() string {
	return t.activity
}

// Done reports whether the history holds a completion for the task.
func (t *Task) Done() bool {
	_, ok := t.completion()

	return ok
}

// Failed reports whether the task completed with TaskFailed.
func (t *Task) Failed() bool {
	event, ok := t.completion()

	return ok && event.Kind == models.EventTaskFailed
}

// Await decodes the task's output into v (which may be nil). It returns
// ErrSuspended while the task is pending and *ActivityFailedError when it failed.
func (t *Task) Await(v any) error {
	if t.ctx.err != nil {
		return t.ctx.err
	}

	event, ok := t.completion()
	if !ok {
		return ErrSuspended
	}

	if event.Kind == models.EventTaskFailed {
		return &ActivityFailedError{TaskID: t.id, Activity: t.activity, Message: event.Error}
	}

	if v == nil || len(event.Payload) == 0 {
		return nil
	}

	err := json.Unmarshal(event.Payload, v)
	if err != nil {
		return newInternalError(t.ctx.instanceID, err, "decoding output of %s (%s)", t.activity, t.id)
	}

	return nil
}

func (t *Task) completion() (models.HistoryEvent, bool) {
	event, ok := t.ctx.history.completions[t.id]

	return event, ok
}
