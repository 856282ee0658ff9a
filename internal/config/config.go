// Package config collects environment-driven settings for every seclens
// process plus a YAML overlay for detection tunables. Missing required
// connection parameters abort only the component that needs them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings shared by the worker, the query API
// and the connector. Zero values are filled from defaults by Load.
type Config struct {
	DatabaseURL string
	NATSURL     string
	NATSSubject string
	HTTPAddr    string

	PollInterval time.Duration
	StageTimeout time.Duration

	NormalizeBatchSize int
	CorrelateBatchSize int
	LookbackMinutes    int
	BucketSeconds      int

	TunablesPath string
	Tunables     Tunables
}

// Load reads the environment and the optional tunables file. DATABASE_URL
// has no default; callers that need the store should treat an empty value
// as fatal via RequireDatabaseURL.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        normalizeDatabaseURL(os.Getenv("DATABASE_URL")),
		NATSURL:            getEnv("SECLENS_NATS_URL", "nats://localhost:4222"),
		NATSSubject:        getEnv("SECLENS_NATS_SUBJECT", "events.raw"),
		HTTPAddr:           getEnv("SECLENS_HTTP_ADDR", ":8080"),
		PollInterval:       time.Duration(getEnvInt("SECLENS_POLL_INTERVAL_SECONDS", 60)) * time.Second,
		StageTimeout:       time.Duration(getEnvInt("SECLENS_STAGE_TIMEOUT_SECONDS", 120)) * time.Second,
		NormalizeBatchSize: getEnvInt("SECLENS_NORMALIZE_BATCH", 5000),
		CorrelateBatchSize: getEnvInt("SECLENS_CORRELATE_BATCH", 500),
		LookbackMinutes:    getEnvInt("SECLENS_LOOKBACK_MINUTES", 60),
		BucketSeconds:      getEnvInt("SECLENS_BUCKET_SECONDS", 60),
		TunablesPath:       getEnv("SECLENS_TUNABLES_FILE", ""),
		Tunables:           DefaultTunables(),
	}

	if cfg.TunablesPath != "" {
		if err := cfg.Tunables.LoadFile(cfg.TunablesPath); err != nil {
			return nil, fmt.Errorf("failed to load tunables file: %w", err)
		}
	}
	return cfg, nil
}

// RequireDatabaseURL returns the configured database URL or an error
// suitable for aborting a store-backed component.
func (c *Config) RequireDatabaseURL() (string, error) {
	if c.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is not set")
	}
	return c.DatabaseURL, nil
}

// normalizeDatabaseURL accepts the SQLAlchemy-style scheme some
// deployments still carry in their env files.
func normalizeDatabaseURL(url string) string {
	const legacy = "postgresql+psycopg2://"
	if strings.HasPrefix(url, legacy) {
		return "postgresql://" + strings.TrimPrefix(url, legacy)
	}
	return url
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return defaultValue
}
