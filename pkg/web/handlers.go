// Package web provides HTTP handlers for submitting images and querying analysis results.
package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/orchestration"
	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
)

const defaultCancelReason = "cancelled via API"

type ResultReader interface {
	Get(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, limit int) (*models.ResultList, error)
}

type InstanceManager interface {
	Instance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID, reason string) (*orchestration.AdvanceResult, error)
}

type ImageSubmitter interface {
	SubmitBlob(ctx context.Context, blobName string, data []byte) (string, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	results   ResultReader
	instances InstanceManager
	submitter ImageSubmitter
	checkers  map[string]HealthChecker
}

func NewAPIHandlers(
	results ResultReader,
	instances InstanceManager,
	submitter ImageSubmitter,
	checkers map[string]HealthChecker,
) *APIHandlers {
	return &APIHandlers{
		results:   results,
		instances: instances,
		submitter: submitter,
		checkers:  checkers,
	}
}

func (h *APIHandlers) GetResult(c fiber.Ctx) error {
	id := c.Params("id")

	report, err := h.results.Get(c.Context(), id)
	if persistence.IsResultNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "Result not found: " + id})
	}

	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) ListResults(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		limit = parsed
	}

	list, err := h.results.List(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(list)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.instances.Instance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformInstanceResponse(instance))
}

// CancelInstance stops a running instance. Tasks already running finish but their
// outcomes are discarded.
func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	reason := c.Query("reason", defaultCancelReason)

	_, err := h.instances.Cancel(c.Context(), c.Params("id"), reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return h.GetInstance(c)
}

// SubmitImage starts an analysis for the raw request body and answers before it finishes.
func (h *APIHandlers) SubmitImage(c fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return badRequest(c, "query parameter name is required")
	}

	// fiber reuses the request buffer once the handler returns
	data := bytes.Clone(c.Body())

	instanceID, err := h.submitter.SubmitBlob(c.Context(), name, data)
	if err != nil {
		return handleServiceError(c, fmt.Errorf("failed to submit %s: %w", name, err))
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitResponse{InstanceID: instanceID})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Imageflow API is healthy"
	httpStatus := http.StatusOK

	checks := fiber.Map{}

	for name, checker := range h.checkers {
		err := checker.HealthCheck(c.Context())
		if err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			message = "Imageflow API is unhealthy"
			httpStatus = http.StatusInternalServerError

			continue
		}

		checks[name] = "ok"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  checks,
		"timestamp": time.Now().UTC(),
	})
}

// Register mounts the API routes on app.
func (h *APIHandlers) Register(app *fiber.App) {
	r := app.Group("/results")
	r.Get("/", h.ListResults)
	r.Get("/:id", h.GetResult)

	i := app.Group("/instances")
	i.Get("/:id", h.GetInstance)
	i.Delete("/:id", h.CancelInstance)

	app.Post("/images", h.SubmitImage)
	app.Get("/health", h.HealthCheck)
}
