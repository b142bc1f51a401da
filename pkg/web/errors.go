package web

import (
	"errors"

	"github.com/dukex/imageflow/pkg/orchestration"
	"github.com/dukex/imageflow/pkg/persistence"
	"github.com/dukex/imageflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps engine and store errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflow.ErrInvalidSubmission):
		return badRequest(c, err.Error())

	case persistence.IsInstanceNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("instance_not_found").
			WithDetail("instance not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, orchestration.ErrInstanceTerminal):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("instance_terminal").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
