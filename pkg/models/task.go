package models

import "encoding/json"

// ActivityTask is a unit of work issued by orchestration logic.
type ActivityTask struct {
	InstanceID   string          `json:"instance_id"`
	TaskID       string          `json:"task_id"`
	ActivityName string          `json:"activity_name"`
	Input        json.RawMessage `json:"input"`
	Attempt      int             `json:"attempt"`
}

// Key identifies the task across instances.
func (t ActivityTask) Key() string {
	return t.InstanceID + "/" + t.TaskID
}

// TaskOutcome is what a worker reports after running an ActivityTask.
// Exactly one of Output and Error is meaningful: a non-empty Error marks a failure.
type TaskOutcome struct {
	InstanceID   string          `json:"instance_id"`
	TaskID       string          `json:"task_id"`
	ActivityName string          `json:"activity_name"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Attempts     int             `json:"attempts"`
}

func (o TaskOutcome) Failed() bool {
	return o.Error != ""
}

// Key identifies the task this outcome belongs to.
func (o TaskOutcome) Key() string {
	return o.InstanceID + "/" + o.TaskID
}
