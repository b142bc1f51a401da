// Package events defines the messages exchanged between the orchestration engine and activity workers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	TaskTopic    = "imageflow.activity.tasks"
	OutcomeTopic = "imageflow.activity.outcomes"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TaskScheduledEvent EventType = "activity.task.scheduled"
	TaskCompletedEvent EventType = "activity.task.completed"
	TaskFailedEvent    EventType = "activity.task.failed"
)

// Event is anything carrying its own type.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
	}
}

// TaskScheduled asks a worker to run one activity task.
type TaskScheduled struct {
	BaseEvent

	Task models.ActivityTask `json:"task"`
}

func (e TaskScheduled) GetType() EventType {
	return TaskScheduledEvent
}

type TaskCompleted struct {
	BaseEvent

	Outcome models.TaskOutcome `json:"outcome"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

// TaskFailed reports a task whose retries are exhausted.
type TaskFailed struct {
	BaseEvent

	Outcome models.TaskOutcome `json:"outcome"`
}

func (e TaskFailed) GetType() EventType {
	return TaskFailedEvent
}

func NewTaskScheduled(task models.ActivityTask) TaskScheduled {
	return TaskScheduled{
		BaseEvent: NewBaseEvent(TaskScheduledEvent, task.InstanceID),
		Task:      task,
	}
}

// NewOutcomeEvent wraps an outcome in TaskCompleted or TaskFailed.
func NewOutcomeEvent(outcome models.TaskOutcome, workerID string) Event {
	if outcome.Failed() {
		event := TaskFailed{BaseEvent: NewBaseEvent(TaskFailedEvent, outcome.InstanceID), Outcome: outcome}
		event.WorkerID = workerID

		return event
	}

	event := TaskCompleted{BaseEvent: NewBaseEvent(TaskCompletedEvent, outcome.InstanceID), Outcome: outcome}
	event.WorkerID = workerID

	return event
}

// TopicOf returns the topic events of the given type travel on.
func TopicOf(eventType EventType) string {
	if eventType == TaskScheduledEvent {
		return TaskTopic
	}

	return OutcomeTopic
}

// Decode unmarshals a payload into the concrete event for its type.
func Decode(eventType EventType, payload []byte) (Event, error) {
	var event Event

	switch eventType {
	case TaskScheduledEvent:
		event = &TaskScheduled{}
	case TaskCompletedEvent:
		event = &TaskCompleted{}
	case TaskFailedEvent:
		event = &TaskFailed{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
