package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/peerprep/oa-api/internal/config"
	"github.com/peerprep/oa-api/internal/handler"
	"github.com/peerprep/oa-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssessmentHandler *handler.AssessmentHandler
	AttemptHandler    *handler.AttemptHandler
	LiveHandler       *handler.LiveHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	assessments := api.Group("/assessments", jwtMiddleware)
	if deps.AssessmentHandler != nil {
		deps.AssessmentHandler.Register(assessments)
	}
	if deps.AttemptHandler != nil {
		deps.AttemptHandler.Register(assessments)
	}
	if deps.LiveHandler != nil {
		deps.LiveHandler.Register(assessments)
	}
}
