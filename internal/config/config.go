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
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	Engine EngineConfig
	Feed   FeedConfig
	Notify NotifyConfig
	Backup BackupConfig
}

// EngineConfig holds the tunables of the cost-basis reconstruction engine.
// These are modeling choices tied to a quarterly disclosure cadence, not
// laws; tests vary them per scenario, so they are injected rather than
// declared as package constants.
type EngineConfig struct {
	// LotSize converts lot-denominated bar volume into shares. The upstream
	// feed reports volume in exchange lots (100 shares each); turnover is
	// already per-share currency, so omitting this factor skews every VWAP
	// estimate by exactly 100x.
	LotSize float64
	// AccumulationWindowDays is the lookback used to price an accumulation,
	// approximating a fiscal quarter.
	AccumulationWindowDays int
	// GapThresholdDays is the disclosure gap beyond which the position is
	// treated as a full exit and re-entry, discarding the stale cost basis.
	GapThresholdDays int
	// CostDiscount is applied to single-window VWAP estimates when no full
	// history exists; large buyers tend to accumulate below the period VWAP.
	CostDiscount float64
	// Workers bounds the reconciliation worker pool.
	Workers int
}

// DefaultEngineConfig returns the engine tunables used in production.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LotSize:                100,
		AccumulationWindowDays: 90,
		GapThresholdDays:       180,
		CostDiscount:           0.95,
		Workers:                8,
	}
}

// FeedConfig holds upstream market-data feed configuration.
type FeedConfig struct {
	// HolderKeywords filters raw disclosed holder names during ingestion.
	// Matching is exact substring; fuzzy identity resolution is out of scope.
	HolderKeywords []string
	// Instruments is the watchlist of instrument codes to ingest.
	Instruments []string
}

// NotifyConfig holds PushPlus notification configuration.
type NotifyConfig struct {
	PushPlusToken string // empty disables notifications
}

// BackupConfig holds S3-compatible backup configuration.
// Backups are disabled unless an endpoint and bucket are configured.
type BackupConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Keep      int // number of remote backups to retain
}

// Enabled reports whether cloud backups are configured.
func (b BackupConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HOLDWATCH_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	engine := EngineConfig{
		LotSize:                getEnvAsFloat("ENGINE_LOT_SIZE", 100),
		AccumulationWindowDays: getEnvAsInt("ENGINE_ACCUMULATION_WINDOW_DAYS", 90),
		GapThresholdDays:       getEnvAsInt("ENGINE_GAP_THRESHOLD_DAYS", 180),
		CostDiscount:           getEnvAsFloat("ENGINE_COST_DISCOUNT", 0.95),
		Workers:                getEnvAsInt("ENGINE_WORKERS", 8),
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("HOLDWATCH_PORT", 8010),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Engine:   engine,
		Feed: FeedConfig{
			HolderKeywords: getEnvAsList("FEED_HOLDER_KEYWORDS"),
			Instruments:    getEnvAsList("FEED_INSTRUMENTS"),
		},
		Notify: NotifyConfig{
			PushPlusToken: getEnv("PUSHPLUS_TOKEN", ""),
		},
		Backup: BackupConfig{
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Keep:      getEnvAsInt("BACKUP_KEEP", 8),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.Engine.LotSize <= 0 {
		return fmt.Errorf("engine lot size must be positive, got %v", c.Engine.LotSize)
	}
	if c.Engine.AccumulationWindowDays <= 0 {
		return fmt.Errorf("accumulation window must be positive, got %d", c.Engine.AccumulationWindowDays)
	}
	if c.Engine.GapThresholdDays <= 0 {
		return fmt.Errorf("gap threshold must be positive, got %d", c.Engine.GapThresholdDays)
	}
	if c.Engine.CostDiscount <= 0 || c.Engine.CostDiscount > 1 {
		return fmt.Errorf("cost discount must be in (0, 1], got %v", c.Engine.CostDiscount)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Engine.Workers)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
