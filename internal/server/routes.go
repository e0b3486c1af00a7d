package server

import (
	"github.com/gofiber/fiber/v2"

	"docwatch/internal/core/artifact"
	"docwatch/internal/core/job"
	"docwatch/internal/core/result"
	"docwatch/internal/core/storage"
	"docwatch/internal/health"
	"docwatch/internal/platform/redis"
)

type Dependencies struct {
	Jobs      *job.Service
	Results   *result.Service
	Artifacts *artifact.Service
	Storage   *storage.Manager
	Redis     *redis.Service
	Store     health.Pinger
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Store, d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	jobHandler := job.NewHandler(d.Jobs, d.Results)
	api.Post("/jobs", jobHandler.HandleCreate)
	api.Get("/jobs", jobHandler.HandleList)
	api.Get("/jobs/:id", jobHandler.HandleGet)
	api.Get("/jobs/:id/status", jobHandler.HandleStatus)
	api.Delete("/jobs/:id", jobHandler.HandleCancel)

	resultHandler := result.NewHandler(d.Results, d.Jobs)
	api.Get("/jobs/:id/results", resultHandler.HandleList)
	api.Get("/jobs/:id/results/export", resultHandler.HandleExport)

	artifactHandler := artifact.NewHandler(d.Artifacts)
	api.Post("/jobs/:id/artifacts", artifactHandler.HandleCreate)

	storageHandler := storage.NewHandler(d.Storage, d.Jobs)
	api.Get("/storage/stats", storageHandler.HandleStats)
	api.Delete("/jobs/:id/cleanup", storageHandler.HandleCleanup)

	return healthHandler
}
