package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ezbridge/bridge/internal/api/routes"
	"github.com/ezbridge/bridge/internal/backends"
	"github.com/ezbridge/bridge/internal/config"
	"github.com/ezbridge/bridge/internal/database"
	"github.com/ezbridge/bridge/internal/logger"
	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/server"
	"github.com/ezbridge/bridge/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logDir := filepath.Join(cfg.DataDir, "logs")
	_ = os.MkdirAll(logDir, 0o755)
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "bridge.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(!cfg.IsProduction(), io.MultiWriter(os.Stdout, rotator))

	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			log.Fatal("BRIDGE_JWT_SECRET is required in production")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("generate session secret: %v", err)
		}
		cfg.JWTSecret = hex.EncodeToString(buf)
		logger.Log().Warn("BRIDGE_JWT_SECRET not set, sessions will not survive restarts")
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if len(os.Args) != 4 {
			log.Fatalf("usage: %s reset-password <username> <new-password>", os.Args[0])
		}
		if err := db.AutoMigrate(&models.Account{}); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		var account models.Account
		if err := db.Where("username = ?", os.Args[2]).First(&account).Error; err != nil {
			log.Fatalf("account not found: %v", err)
		}
		if err := account.SetPassword(os.Args[3]); err != nil {
			log.Fatalf("hash password: %v", err)
		}
		if err := db.Save(&account).Error; err != nil {
			log.Fatalf("save account: %v", err)
		}
		log.Printf("password updated for %s", account.Username)
		return
	}

	manager := backends.NewManager(db,
		backends.NewCaddyAdapter(cfg.BinDir, cfg.ConfigDir),
		backends.NewNginxAdapter(cfg.ConfigDir),
		backends.NewTunnelAdapter(cfg.BinDir, cfg.ConfigDir),
	)

	srv, err := server.New(routes.Deps{DB: db, Manager: manager, Config: cfg})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// An ungraceful restart may have left the on-disk config behind the
	// persisted host set; bring the backend back in line before serving.
	if err := manager.ReconcileOnBoot(ctx); err != nil {
		logger.Log().WithError(err).Error("reconcile backend config on boot")
	}

	logger.WithFields(map[string]interface{}{
		"version": version.Full(),
		"port":    cfg.HTTPPort,
	}).Infof("starting %s", version.Name)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
