// Package models defines the core types of durable image analysis orchestration.
package models

import (
	"encoding/json"
	"time"
)

// InstanceStatus defines the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusCreated   InstanceStatus = "created"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further tasks may be scheduled for an instance in this status.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// WorkflowInstance is one execution of a registered orchestrator.
type WorkflowInstance struct {
	ID           string          `json:"id"                      validate:"required,uuid"`
	Orchestrator string          `json:"orchestrator"            validate:"required"`
	Input        json.RawMessage `json:"input"`
	Status       InstanceStatus  `json:"status"                  validate:"required"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}
