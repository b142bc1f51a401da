// Package web provides HTTP request and response types for the image analysis API.
package web

import (
	"encoding/json"
	"time"

	"github.com/dukex/imageflow/pkg/models"
)

// ErrorResponse is the payload of a missing result.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitResponse acknowledges an accepted image.
type SubmitResponse struct {
	InstanceID string `json:"instanceId"`
}

// InstanceResponse reports the state of one orchestration instance.
type InstanceResponse struct {
	ID           string                `json:"id"`
	Orchestrator string                `json:"orchestrator"`
	Status       models.InstanceStatus `json:"status"`
	Output       json.RawMessage       `json:"output,omitempty"`
	Error        string                `json:"error,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	CompletedAt  *time.Time            `json:"completedAt,omitempty"`
}

func TransformInstanceResponse(instance *models.WorkflowInstance) InstanceResponse {
	return InstanceResponse{
		ID:           instance.ID,
		Orchestrator: instance.Orchestrator,
		Status:       instance.Status,
		Output:       instance.Output,
		Error:        instance.ErrorMessage,
		CreatedAt:    instance.CreatedAt,
		UpdatedAt:    instance.UpdatedAt,
		CompletedAt:  instance.CompletedAt,
	}
}
