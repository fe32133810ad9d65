package server

import (
	"harvester/internal/health"
	"harvester/internal/platform/redis"
	"harvester/internal/run"
	"harvester/internal/source"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Dependencies struct {
	Runs     *run.Service
	Sources  *source.Registry
	Redis    *redis.Service
	Postgres *pgxpool.Pool
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Redis, d.Postgres)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	runHandler := run.NewHandler(d.Runs)
	api.Post("/scrapes", runHandler.HandleCreateScrape)
	api.Get("/scrapes/:id", runHandler.HandleGetScrape)
	api.Post("/scrapes/:id/confirm", runHandler.HandleConfirmScrape)
	api.Delete("/scrapes/:id", runHandler.HandleStopScrape)

	// Registered source names, for request builders.
	api.Get("/sources", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "sources": d.Sources.Names()})
	})

	return healthHandler
}
