package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
)

// Config holds the governance engine configuration.
type Config struct {
	// Paths
	DataDir string

	// Logging
	LogLevel  string
	LogFormat string

	// Provider
	ProviderURL     string
	ProviderToken   string
	ProviderTimeout time.Duration // per-call budget, capped at 10s
	HealthTimeout   time.Duration // health probe budget, capped at 5s

	// Reconciler
	ReconcileInterval time.Duration
	BatchSize         int
	BatchPause        time.Duration

	// Usage governor
	UsageSweepInterval time.Duration
	ThresholdPercent   float64
	TierCacheTTL       time.Duration

	// Notifications
	DrainInterval time.Duration
	DrainBatch    int
	DedupWindow   time.Duration

	// Audit
	AuditCleanupInterval time.Duration
	AuditRetentionDays   int

	// Optional redis-backed usage cache ("" disables it)
	RedisAddr string

	// EnvOverrides records which fields were set from environment variables
	EnvOverrides map[string]bool
}

// Load reads configuration from defaults, an optional .env file, and
// RFLIX_* environment overrides.
func Load() (*Config, error) {
	dataDir := "/var/lib/rflix-userd"
	if dir := os.Getenv("RFLIX_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	// Load .env file if it exists (for deployment overrides)
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	// Also try loading from current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		DataDir:              dataDir,
		LogLevel:             "info",
		LogFormat:            "auto",
		ProviderTimeout:      10 * time.Second,
		HealthTimeout:        5 * time.Second,
		ReconcileInterval:    time.Hour,
		BatchSize:            5,
		BatchPause:           time.Second,
		UsageSweepInterval:   5 * time.Minute,
		ThresholdPercent:     80,
		TierCacheTTL:         5 * time.Minute,
		DrainInterval:        time.Minute,
		DrainBatch:           50,
		DedupWindow:          24 * time.Hour,
		AuditCleanupInterval: 24 * time.Hour,
		AuditRetentionDays:   90,
		EnvOverrides:         make(map[string]bool),
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and clamps
// per-call budgets to their contract maximums.
func (c *Config) Validate() error {
	if c.ProviderURL == "" {
		return apperrors.NewGovernanceError(apperrors.ErrorTypeConfiguration,
			"load_config", "", fmt.Errorf("RFLIX_PROVIDER_URL is required: %w", apperrors.ErrConfigurationMissing))
	}
	if c.ProviderTimeout <= 0 || c.ProviderTimeout > 10*time.Second {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.HealthTimeout <= 0 || c.HealthTimeout > 5*time.Second {
		c.HealthTimeout = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 50
	}
	if c.ThresholdPercent <= 0 || c.ThresholdPercent > 100 {
		c.ThresholdPercent = 80
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			cfg.EnvOverrides[key] = true
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				cfg.EnvOverrides[key] = true
			} else {
				log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric env override")
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
				cfg.EnvOverrides[key] = true
			} else {
				log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric env override")
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
				cfg.EnvOverrides[key] = true
			} else {
				log.Warn().Str("key", key).Str("value", v).Msg("Ignoring unparseable duration override")
			}
		}
	}

	setString("RFLIX_LOG_LEVEL", &cfg.LogLevel)
	setString("RFLIX_LOG_FORMAT", &cfg.LogFormat)
	setString("RFLIX_PROVIDER_URL", &cfg.ProviderURL)
	setString("RFLIX_PROVIDER_TOKEN", &cfg.ProviderToken)
	setDuration("RFLIX_PROVIDER_TIMEOUT", &cfg.ProviderTimeout)
	setDuration("RFLIX_HEALTH_TIMEOUT", &cfg.HealthTimeout)
	setDuration("RFLIX_RECONCILE_INTERVAL", &cfg.ReconcileInterval)
	setInt("RFLIX_BATCH_SIZE", &cfg.BatchSize)
	setDuration("RFLIX_BATCH_PAUSE", &cfg.BatchPause)
	setDuration("RFLIX_USAGE_SWEEP_INTERVAL", &cfg.UsageSweepInterval)
	setFloat("RFLIX_THRESHOLD_PERCENT", &cfg.ThresholdPercent)
	setDuration("RFLIX_TIER_CACHE_TTL", &cfg.TierCacheTTL)
	setDuration("RFLIX_DRAIN_INTERVAL", &cfg.DrainInterval)
	setInt("RFLIX_DRAIN_BATCH", &cfg.DrainBatch)
	setDuration("RFLIX_DEDUP_WINDOW", &cfg.DedupWindow)
	setDuration("RFLIX_AUDIT_CLEANUP_INTERVAL", &cfg.AuditCleanupInterval)
	setInt("RFLIX_AUDIT_RETENTION_DAYS", &cfg.AuditRetentionDays)
	setString("RFLIX_REDIS_ADDR", &cfg.RedisAddr)
}
