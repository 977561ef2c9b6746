// Package routes wires handlers, middleware and background jobs onto the
// HTTP engine.
package routes

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/ezbridge/bridge/internal/api/handlers"
	"github.com/ezbridge/bridge/internal/api/middleware"
	"github.com/ezbridge/bridge/internal/backends"
	"github.com/ezbridge/bridge/internal/config"
	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/metrics"
	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/portal"
	"github.com/ezbridge/bridge/internal/services"
)

// Deps carries the shared components built at startup.
type Deps struct {
	DB      *gorm.DB
	Manager *backends.Manager
	Config  config.Config
}

// Register migrates the schema, wires all API routes and starts the periodic
// health probe. It returns the cron scheduler so the caller can stop it on
// shutdown.
func Register(router *gin.Engine, deps Deps) (*cron.Cron, error) {
	if err := deps.DB.AutoMigrate(
		&models.ProxyHost{},
		&models.RewriteRule{},
		&models.BackendState{},
		&models.Account{},
		&models.Session{},
		&models.Notification{},
		&models.NotificationProvider{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	notificationService := services.NewNotificationService(deps.DB)
	hostService := services.NewHostService(deps.DB, deps.Manager, notificationService)
	modeService := services.NewModeService(deps.DB, deps.Manager, notificationService)
	authService := services.NewAuthService(deps.DB, deps.Config.JWTSecret,
		time.Duration(deps.Config.SessionTTLHours)*time.Hour)
	dockerService := services.NewDockerService()

	gateway := portal.NewGateway(deps.DB, authService)

	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(!deps.Config.IsProduction()),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
			IsDevelopment: !deps.Config.IsProduction(),
		}),
		gateway.Middleware(),
	)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.GET("/api/v1/health", handlers.HealthHandler)

	sessionMaxAge := deps.Config.SessionTTLHours * 3600
	portalHandler := handlers.NewPortalHandler(authService, deps.Config.IsProduction(), sessionMaxAge)

	api := router.Group("/api/v1")
	api.POST("/portal/setup", portalHandler.Setup)
	api.POST("/portal/login", portalHandler.Login)
	api.POST("/portal/logout", portalHandler.Logout)

	protected := api.Group("/")
	protected.Use(middleware.PortalAuth(authService))
	{
		modeHandler := handlers.NewModeHandler(modeService)
		protected.GET("/mode", modeHandler.GetState)
		protected.POST("/mode/select", modeHandler.Select)
		protected.POST("/mode/configure", modeHandler.Configure)
		protected.POST("/mode/reset", modeHandler.Reset)

		hostHandler := handlers.NewHostHandler(hostService)
		protected.GET("/hosts", hostHandler.List)
		protected.POST("/hosts", hostHandler.Create)
		protected.GET("/hosts/config", hostHandler.RenderedConfig)
		protected.GET("/hosts/:domain", hostHandler.Get)
		protected.PUT("/hosts/:domain", hostHandler.Update)
		protected.DELETE("/hosts/:domain", hostHandler.Delete)

		backendHandler := handlers.NewBackendHandler(deps.Manager)
		protected.GET("/backend/status", backendHandler.Status)
		protected.GET("/backend/logs", backendHandler.Logs)
		protected.POST("/backend/install", backendHandler.Install)
		protected.POST("/backend/start", backendHandler.Start)
		protected.POST("/backend/stop", backendHandler.Stop)
		protected.POST("/backend/reload", backendHandler.Reload)

		protected.GET("/portal/accounts", portalHandler.ListAccounts)
		protected.POST("/portal/accounts", portalHandler.CreateAccount)
		protected.DELETE("/portal/accounts/:id", portalHandler.DeleteAccount)

		dockerHandler := handlers.NewDockerHandler(dockerService)
		protected.GET("/docker/containers", dockerHandler.ListContainers)

		notificationHandler := handlers.NewNotificationHandler(notificationService)
		protected.GET("/notifications", notificationHandler.List)
		protected.POST("/notifications/:id/read", notificationHandler.MarkRead)
		protected.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		protected.GET("/notification-providers", notificationHandler.ListProviders)
		protected.POST("/notification-providers", notificationHandler.CreateProvider)
		protected.PUT("/notification-providers/:id", notificationHandler.UpdateProvider)
		protected.DELETE("/notification-providers/:id", notificationHandler.DeleteProvider)
		protected.POST("/notification-providers/test", notificationHandler.TestProvider)

		systemHandler := handlers.NewSystemHandler()
		protected.GET("/system/my-ip", systemHandler.GetMyIP)
	}

	scheduler := startJobs(deps.Manager, authService, notificationService)
	return scheduler, nil
}

// startJobs schedules the process health probe and session pruning.
func startJobs(manager *backends.Manager, auth *services.AuthService, notifier *services.NotificationService) *cron.Cron {
	scheduler := cron.New()

	_, err := scheduler.AddFunc("@every 30s", func() {
		status, failedNow, err := manager.ProbeStatus()
		if err != nil {
			return
		}
		if failedNow {
			logger.WithFields(map[string]interface{}{"status": status}).Warn("backend process failed")
			notifier.SendExternal(services.EventBackend, "Backend failed",
				"The backend process is no longer running, check the backend logs")
		}
	})
	if err != nil {
		logger.Log().WithError(err).Error("schedule status probe")
	}

	_, err = scheduler.AddFunc("@hourly", func() {
		if err := auth.PruneSessions(); err != nil {
			logger.Log().WithError(err).Error("prune sessions")
		}
	})
	if err != nil {
		logger.Log().WithError(err).Error("schedule session pruning")
	}

	scheduler.Start()
	return scheduler
}
