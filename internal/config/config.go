// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for all databases (always absolute)
	Port        int
	LogLevel    string
	DevMode     bool
	SyncSymbols []string // Trading pairs fetched on each sync (e.g. BTCUSDT,ETHUSDT)
	SyncSpec    string   // Cron spec for the periodic sync job

	Binance ExchangeCredentials
	Bybit   ExchangeCredentials

	NBPBaseURL string // Override for the NBP exchange-rate API (tests)

	Backup BackupConfig
}

// ExchangeCredentials holds API credentials for one exchange
type ExchangeCredentials struct {
	APIKey    string
	APISecret string
}

// Configured reports whether credentials are present
func (c ExchangeCredentials) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // Custom endpoint for R2/MinIO; empty for AWS S3
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Spec      string // Cron spec for the backup job
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FOLIO_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port, err := strconv.Atoi(getEnv("FOLIO_PORT", "8090"))
	if err != nil {
		return nil, fmt.Errorf("invalid FOLIO_PORT: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		Port:        port,
		LogLevel:    getEnv("FOLIO_LOG_LEVEL", "info"),
		DevMode:     getEnv("FOLIO_DEV_MODE", "false") == "true",
		SyncSymbols: splitList(getEnv("FOLIO_SYNC_SYMBOLS", "BTCUSDT,ETHUSDT")),
		SyncSpec:    getEnv("FOLIO_SYNC_SPEC", "@every 1h"),
		Binance: ExchangeCredentials{
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			APISecret: os.Getenv("BINANCE_API_SECRET"),
		},
		Bybit: ExchangeCredentials{
			APIKey:    os.Getenv("BYBIT_API_KEY"),
			APISecret: os.Getenv("BYBIT_API_SECRET"),
		},
		NBPBaseURL: os.Getenv("FOLIO_NBP_BASE_URL"),
		Backup: BackupConfig{
			Enabled:   getEnv("FOLIO_BACKUP_ENABLED", "false") == "true",
			Endpoint:  os.Getenv("FOLIO_BACKUP_ENDPOINT"),
			Region:    getEnv("FOLIO_BACKUP_REGION", "auto"),
			Bucket:    os.Getenv("FOLIO_BACKUP_BUCKET"),
			AccessKey: os.Getenv("FOLIO_BACKUP_ACCESS_KEY"),
			SecretKey: os.Getenv("FOLIO_BACKUP_SECRET_KEY"),
			Spec:      getEnv("FOLIO_BACKUP_SPEC", "@daily"),
		},
	}

	if cfg.Backup.Enabled && cfg.Backup.Bucket == "" {
		return nil, fmt.Errorf("FOLIO_BACKUP_BUCKET is required when backups are enabled")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
