// Package server owns the HTTP engine and its lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/ezbridge/bridge/internal/api/routes"
	"github.com/ezbridge/bridge/internal/config"
)

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine    *gin.Engine
	cfg       config.Config
	scheduler *cron.Cron
}

// New wires up the HTTP router and registers versioned routes.
func New(deps routes.Deps) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if !deps.Config.IsProduction() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	scheduler, err := routes.Register(router, deps)
	if err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	return &Server{Engine: router, cfg: deps.Config, scheduler: scheduler}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails. Shutdown is graceful with a bounded timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		s.scheduler.Stop()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
