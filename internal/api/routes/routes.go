package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/orgstack/hrms/internal/api/handlers"
	"github.com/orgstack/hrms/internal/api/middleware"
	"github.com/orgstack/hrms/internal/audit"
	"github.com/orgstack/hrms/internal/config"
	"github.com/orgstack/hrms/internal/database"
	"github.com/orgstack/hrms/internal/metrics"
	"github.com/orgstack/hrms/internal/services"
)

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, pipeline *audit.Pipeline) error {
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery(cfg.Environment == "development"))
	router.Use(middleware.ActorIdentity(cfg.JWTSecret))

	router.GET("/api/v1/health", handlers.HealthHandler)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1/audit")

	handlers.NewIntegrityHandler(pipeline.Engine).RegisterRoutes(api)
	handlers.NewAuditHandler(services.NewAuditQueryService(db)).RegisterRoutes(api)
	handlers.NewDeadLetterHandler(pipeline.Queue).RegisterRoutes(api)

	return nil
}
