package models

import (
	"encoding/json"
	"time"
)

// HistoryEventKind identifies what an entry of the history log records.
type HistoryEventKind string

const (
	EventTaskScheduled         HistoryEventKind = "task_scheduled"
	EventTaskCompleted         HistoryEventKind = "task_completed"
	EventTaskFailed            HistoryEventKind = "task_failed"
	EventOrchestratorCompleted HistoryEventKind = "orchestrator_completed"
	EventOrchestratorFailed    HistoryEventKind = "orchestrator_failed"
	EventOrchestratorCancelled HistoryEventKind = "orchestrator_cancelled"
)

// IsTaskCompletion reports whether the event closes a scheduled task.
func (k HistoryEventKind) IsTaskCompletion() bool {
	return k == EventTaskCompleted || k == EventTaskFailed
}

// IsOrchestratorTerminal reports whether the event ends the instance.
func (k HistoryEventKind) IsOrchestratorTerminal() bool {
	return k == EventOrchestratorCompleted || k == EventOrchestratorFailed || k == EventOrchestratorCancelled
}

// HistoryEvent is one append-only entry of an instance's history log.
// Events are totally ordered per instance by SequenceNumber, starting at 1.
type HistoryEvent struct {
	InstanceID     string           `json:"instance_id"`
	SequenceNumber int64            `json:"sequence_number"`
	Kind           HistoryEventKind `json:"kind"`
	TaskID         string           `json:"task_id,omitempty"`
	ActivityName   string           `json:"activity_name,omitempty"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
	Error          string           `json:"error,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}
