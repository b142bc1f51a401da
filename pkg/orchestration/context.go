package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/imageflow/pkg/models"
)

// Context is handed to orchestration logic on every replay. It matches activity
// calls against the history log and collects the calls the log has not seen yet.
type Context struct {
	ctx        context.Context
	instanceID string
	input      json.RawMessage
	history    *historyIndex
	now        time.Time

	counter  int
	newTasks []models.HistoryEvent
	err      error
}

func newContext(ctx context.Context, instance *models.WorkflowInstance, history *historyIndex, now time.Time) *Context {
	return &Context{
		ctx:        ctx,
		instanceID: instance.ID,
		input:      instance.Input,
		history:    history,
		now:        now,
	}
}

// Context returns the context of the replay. Orchestration logic must not block on it.
func (c *Context) Context() context.Context {
	return c.ctx
}

func (c *Context) InstanceID() string {
	return c.instanceID
}

// GetInput decodes the instance input into v.
func (c *Context) GetInput(v any) error {
	err := json.Unmarshal(c.input, v)
	if err != nil {
		return newInternalError(c.instanceID, err, "decoding orchestration input")
	}

	return nil
}

// CallActivity requests an activity execution. The task id is derived from the call
// order, so a replay that makes the same calls gets the same ids.
func (c *Context) CallActivity(name string, input any) *Task {
	c.counter++
	taskID := fmt.Sprintf("task-%04d", c.counter)
	task := &Task{id: taskID, activity: name, ctx: c}

	if c.err != nil {
		return task
	}

	payload, err := json.Marshal(input)
	if err != nil {
		c.err = newInternalError(c.instanceID, err, "encoding input of %s", name)

		return task
	}

	scheduled, seen := c.history.scheduled[taskID]
	if !seen {
		c.newTasks = append(c.newTasks, models.HistoryEvent{
			Kind:         models.EventTaskScheduled,
			TaskID:       taskID,
			ActivityName: name,
			Payload:      payload,
			Timestamp:    c.now,
		})

		return task
	}

	if scheduled.ActivityName != name {
		c.err = newInternalError(c.instanceID, ErrReplayDivergence,
			"%s was scheduled as %s, replay called %s", taskID, scheduled.ActivityName, name)

		return task
	}

	if !sameJSON(scheduled.Payload, payload) {
		c.err = newInternalError(c.instanceID, ErrReplayDivergence,
			"%s (%s) was scheduled with a different input", taskID, name)
	}

	return task
}

// WhenAll waits for every task. It never short-circuits on a failed member: it
// reports ErrSuspended until all members have a completion and then returns nil.
// Callers inspect each member with Await or Failed.
func (c *Context) WhenAll(tasks ...*Task) error {
	if c.err != nil {
		return c.err
	}

	for _, task := range tasks {
		if !task.Done() {
			return ErrSuspended
		}
	}

	return nil
}

// finish checks that the replay consumed every task recorded in history.
func (c *Context) finish() error {
	if c.err != nil {
		return c.err
	}

	if c.counter < len(c.history.scheduled) {
		return newInternalError(c.instanceID, ErrReplayDivergence,
			"history has %d scheduled tasks, replay reached %d", len(c.history.scheduled), c.counter)
	}

	return nil
}

func sameJSON(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}

	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}

	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
