package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// loadEnvFile loads environment variables from .env/.env.local files.
// It attempts each supported filename in order and stops at the first successfully parsed file.
// Existing process environment variables are not overwritten.
func loadEnvFile() {
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Failed to load env file", "path", envPath, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", envPath)
		return
	}
}

// applyEnvOverrides layers environment variables over the loaded file.
// Only secrets and deployment-specific endpoints are overridable; tunables stay in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TAPTRACK_NATS_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("TAPTRACK_ADMIN_ADDR"); v != "" {
		cfg.Admin.ListenAddr = v
	}
	if v := os.Getenv("TAPTRACK_DATA_DIR"); v != "" {
		cfg.Device.DataDir = v
	}
	if v := os.Getenv("TAPTRACK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
