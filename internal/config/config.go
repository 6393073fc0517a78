// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Escrow settings
	Asset             string        // Ledger asset symbol, e.g. "USDC"
	CustodySecret     string        // Shared secret authorizing custody account transfers
	ArbiterAddrs      []string      // Agents allowed to resolve disputes
	WatcherInterval   time.Duration // Expiry sweep interval
	ReconcileInterval time.Duration // Custody reconciliation sweep interval
	MaxEscrowDuration time.Duration // Upper bound on rental duration

	// Security
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultAsset             = "USDC"
	DefaultRateLimit         = 100
	DefaultWatcherInterval   = 30 * time.Second
	DefaultReconcileInterval = 5 * time.Minute
	DefaultMaxDuration       = 30 * 24 * time.Hour
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		Asset:             getEnv("ASSET", DefaultAsset),
		CustodySecret:     os.Getenv("CUSTODY_SECRET"), // Required, no default
		ArbiterAddrs:      splitList(os.Getenv("ARBITER_ADDRS")),
		WatcherInterval:   getEnvDuration("WATCHER_INTERVAL", DefaultWatcherInterval),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		MaxEscrowDuration: getEnvDuration("MAX_ESCROW_DURATION", DefaultMaxDuration),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.CustodySecret == "" {
		return fmt.Errorf("CUSTODY_SECRET is required")
	}
	if len(c.CustodySecret) < 16 {
		return fmt.Errorf("CUSTODY_SECRET must be at least 16 characters")
	}
	if c.WatcherInterval <= 0 {
		return fmt.Errorf("WATCHER_INTERVAL must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
