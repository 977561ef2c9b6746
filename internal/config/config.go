package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	DataDir      string
	BinDir       string
	ConfigDir    string
	JWTSecret    string
	// SessionTTLHours bounds the lifetime of portal sessions.
	SessionTTLHours int
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	dataDir := getEnv("BRIDGE_DATA_DIR", "data")

	cfg := Config{
		Environment:     getEnv("BRIDGE_ENV", "development"),
		HTTPPort:        getEnv("BRIDGE_HTTP_PORT", "8181"),
		DatabasePath:    getEnv("BRIDGE_DB_PATH", filepath.Join(dataDir, "bridge.db")),
		DataDir:         dataDir,
		BinDir:          getEnv("BRIDGE_BIN_DIR", filepath.Join(dataDir, "bin")),
		ConfigDir:       getEnv("BRIDGE_CONFIG_DIR", filepath.Join(dataDir, "generated")),
		JWTSecret:       getEnv("BRIDGE_JWT_SECRET", ""),
		SessionTTLHours: 24,
	}

	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.BinDir, cfg.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}
