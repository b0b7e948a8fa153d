package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(gin.Logger())

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		metrics := v1.Group("/metrics")
		{
			metrics.GET("/latest", handler.GetLatestSnapshot)
			metrics.GET("/trend", handler.GetTrend)
			metrics.GET("/range", handler.GetSnapshotsInRange)
		}

		v1.GET("/deployments", handler.GetDeployments)
		v1.GET("/incidents", handler.GetIncidents)

		v1.POST("/pipeline/run", handler.RunPipeline)

		backfill := v1.Group("/backfill")
		{
			backfill.GET("/preview", handler.PreviewBackfill)
			backfill.POST("", handler.StartBackfill)
			backfill.GET("/:id", handler.GetBackfillStatus)
		}
	}

	return router
}
