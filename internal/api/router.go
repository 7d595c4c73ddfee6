package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/floraset/internal/api/handler"
	"github.com/timmy/floraset/internal/api/middleware"
	"github.com/timmy/floraset/internal/config"
	"github.com/timmy/floraset/internal/dataset"
	"github.com/timmy/floraset/internal/repository"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	repo *repository.HarvestRepository,
	writer *dataset.Writer,
	cfg *config.ServerConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	datasetHandler := handler.NewDatasetHandler(repo, writer)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Species and records
		v1.GET("/species", datasetHandler.ListSpecies)
		v1.GET("/species/:name/records", datasetHandler.ListRecords)
		v1.GET("/species/:name/records/:id/metadata", datasetHandler.GetMetadata)
		v1.GET("/species/:name/records/:id/image", datasetHandler.GetImage)

		// Harvest runs
		v1.GET("/jobs", datasetHandler.ListJobs)
		v1.GET("/jobs/:id", datasetHandler.GetJob)
	}

	return r
}
