// Package v1 provides HTTP API version 1.
package v1

import (
	"context"

	"github.com/gin-gonic/gin"

	"unitcast/internal/domain/projection"
	"unitcast/internal/infrastructure/http/v1/handlers"
	"unitcast/internal/infrastructure/http/v1/middleware"
	"unitcast/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Dispatcher routes change batches to the projection writer
	Dispatcher handlers.Dispatcher

	// Resolver serves point reads against the destination store
	Resolver *projection.Resolver

	// Journal serves processing history; nil disables the endpoint
	Journal handlers.JournalReader

	// Logger for request logging
	Logger *logger.Logger

	// TokenValidator guards the ingest endpoint; nil disables auth
	TokenValidator middleware.TokenValidator

	// Ready probes the destination store for readiness checks
	Ready func(ctx context.Context) error

	// Driver names the destination store backend for /health/info
	Driver string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	// Set Gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Ready, cfg.Driver)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	baseHandler := handlers.NewBaseHandler()

	// API v1
	v1 := router.Group("/api/v1")
	{
		// Ingest endpoint - authenticated when a validator is configured
		ingest := v1.Group("")
		if cfg.TokenValidator != nil {
			ingest.Use(middleware.Auth(cfg.TokenValidator))
		}
		ingestHandler := handlers.NewIngestHandler(baseHandler, cfg.Dispatcher)
		ingest.POST("/changes", ingestHandler.HandleChanges)

		// Read endpoints
		projectionHandler := handlers.NewProjectionHandler(baseHandler, cfg.Resolver)
		v1.GET("/projections", projectionHandler.Get)

		if cfg.Journal != nil {
			journalHandler := handlers.NewJournalHandler(baseHandler, cfg.Journal)
			v1.GET("/journal", journalHandler.History)
		}
	}

	return router
}
