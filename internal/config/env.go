// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	Port          int
	// HubURL is the public base URL advertised to feeds and
	// subscribers.
	HubURL string

	// API
	APIMaxBodyBytes int
	AdminToken      string

	// Outbound HTTP
	FetchTimeout    time.Duration
	VerifyTimeout   time.Duration
	DeliveryTimeout time.Duration

	// Delivery
	DeliveryMaxTries int

	// Sweeps
	FetchSweepMinInterval time.Duration
	FetchSweepJitter      time.Duration
	RetrySweepSchedule    string

	// Misc
	ParseCacheEntries   int
	DefaultLeaseSeconds int
	SeedFile            string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("PUSHHUB_STATE_DIR", "/var/lib/pushhub")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("PUSHHUB_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("PUSHHUB_PORT", 6543, &errs)
	cfg.HubURL = strings.TrimSpace(envStr("PUSHHUB_HUB_URL", ""))

	// --- API ---
	cfg.APIMaxBodyBytes = envInt("PUSHHUB_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Outbound HTTP ---
	cfg.FetchTimeout = envDuration("PUSHHUB_FETCH_TIMEOUT", 30*time.Second, &errs)
	cfg.VerifyTimeout = envDuration("PUSHHUB_VERIFY_TIMEOUT", 15*time.Second, &errs)
	cfg.DeliveryTimeout = envDuration("PUSHHUB_DELIVERY_TIMEOUT", 30*time.Second, &errs)

	// --- Delivery ---
	cfg.DeliveryMaxTries = envInt("PUSHHUB_DELIVERY_MAX_TRIES", 10, &errs)

	// --- Sweeps ---
	cfg.FetchSweepMinInterval = envDuration("PUSHHUB_FETCH_SWEEP_MIN_INTERVAL", 5*time.Minute, &errs)
	cfg.FetchSweepJitter = envDuration("PUSHHUB_FETCH_SWEEP_JITTER", time.Minute, &errs)
	cfg.RetrySweepSchedule = envStr("PUSHHUB_RETRY_SWEEP_SCHEDULE", "*/15 * * * *")

	// --- Misc ---
	cfg.ParseCacheEntries = envInt("PUSHHUB_PARSE_CACHE_ENTRIES", 256, &errs)
	cfg.DefaultLeaseSeconds = envInt("PUSHHUB_DEFAULT_LEASE_SECONDS", 5*24*60*60, &errs)
	cfg.SeedFile = envStr("PUSHHUB_SEED_FILE", "")

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("PUSHHUB_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "PUSHHUB_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "PUSHHUB_LISTEN_ADDRESS must not be empty")
	}
	if cfg.HubURL == "" {
		cfg.HubURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	validatePort("PUSHHUB_PORT", cfg.Port, &errs)
	validatePositive("PUSHHUB_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("PUSHHUB_DELIVERY_MAX_TRIES", cfg.DeliveryMaxTries, &errs)
	validatePositive("PUSHHUB_PARSE_CACHE_ENTRIES", cfg.ParseCacheEntries, &errs)
	validatePositive("PUSHHUB_DEFAULT_LEASE_SECONDS", cfg.DefaultLeaseSeconds, &errs)
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, "PUSHHUB_FETCH_TIMEOUT must be positive")
	}
	if cfg.VerifyTimeout <= 0 {
		errs = append(errs, "PUSHHUB_VERIFY_TIMEOUT must be positive")
	}
	if cfg.DeliveryTimeout <= 0 {
		errs = append(errs, "PUSHHUB_DELIVERY_TIMEOUT must be positive")
	}
	if cfg.FetchSweepMinInterval <= 0 {
		errs = append(errs, "PUSHHUB_FETCH_SWEEP_MIN_INTERVAL must be positive")
	}
	if cfg.FetchSweepJitter < 0 {
		errs = append(errs, "PUSHHUB_FETCH_SWEEP_JITTER must not be negative")
	}
	if _, err := cron.ParseStandard(cfg.RetrySweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("PUSHHUB_RETRY_SWEEP_SCHEDULE: invalid cron expression %q: %v", cfg.RetrySweepSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
