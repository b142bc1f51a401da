// Package main provides the imageflow API server.
package main

import (
	"log/slog"

	"github.com/dukex/imageflow/pkg/cmd"
	"github.com/dukex/imageflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// uploads larger than this are rejected by fiber
const bodyLimit = 32 * 1024 * 1024

type API struct {
	logger  *slog.Logger
	runtime *cmd.Runtime
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:  logger,
		runtime: runtime,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.runtime.Results, a.runtime.Engine, a.runtime.Driver, map[string]web.HealthChecker{
		"history": a.runtime.Stores.Persistence,
		"results": a.runtime.Stores.Results,
	})

	app := fiber.New(fiber.Config{BodyLimit: bodyLimit})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Imageflow API")
	})

	handlers.Register(app)

	return app
}
