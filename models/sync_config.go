package models

import (
	"os"
	"strconv"
	"time"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Configuration
//
// Loads sync settings from environment variables. When CADDIE_SYNC_ENABLED
// is true the device runs a background engine that periodically pulls the
// remote service's canonical state and drains the local mutation queue.
// ============================================================================

// SyncConfig holds the configuration for the sync engine and remote client.
// All values come from environment variables so deployment configuration
// stays external to the binary.
type SyncConfig struct {
	Enabled        bool          // CADDIE_SYNC_ENABLED
	APIBaseURL     string        // CADDIE_API_URL — base URL of the remote service
	Username       string        // CADDIE_API_USERNAME
	Password       string        // CADDIE_API_PASSWORD
	Interval       time.Duration // CADDIE_SYNC_INTERVAL — periodic trigger
	RequestTimeout time.Duration // CADDIE_API_TIMEOUT — per network call
	MaxAttempts    int           // CADDIE_SYNC_MAX_ATTEMPTS — before a task is FAILED
	Concurrency    int           // CADDIE_SYNC_CONCURRENCY — outbound push workers
}

const (
	// defaultSyncInterval balances freshness against battery/network cost
	// for a device that is usually carried around a golf course.
	defaultSyncInterval = 2 * time.Minute

	// defaultRequestTimeout bounds every remote call. A timed-out call is
	// treated as a failure even if the server happened to process it.
	defaultRequestTimeout = 15 * time.Second

	// defaultMaxAttempts is how many transient failures a task survives
	// before it is surfaced as FAILED (retained, never dropped).
	defaultMaxAttempts = 5

	// defaultConcurrency caps simultaneous outbound pushes. Same-entity
	// tasks are serialized regardless of this value.
	defaultConcurrency = 4
)

// LoadSyncConfig reads sync configuration from environment variables.
// Returns a config even when sync is disabled so callers can inspect the
// state without nil checks.
func LoadSyncConfig() (*SyncConfig, error) {
	cfg := &SyncConfig{
		Interval:       defaultSyncInterval,
		RequestTimeout: defaultRequestTimeout,
		MaxAttempts:    defaultMaxAttempts,
		Concurrency:    defaultConcurrency,
	}

	if enabledStr := os.Getenv("CADDIE_SYNC_ENABLED"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return nil, serr.Wrap(err, "invalid CADDIE_SYNC_ENABLED value, expected true/false")
		}
		cfg.Enabled = enabled
	}

	cfg.APIBaseURL = os.Getenv("CADDIE_API_URL")
	cfg.Username = os.Getenv("CADDIE_API_USERNAME")
	cfg.Password = os.Getenv("CADDIE_API_PASSWORD")

	if intervalStr := os.Getenv("CADDIE_SYNC_INTERVAL"); intervalStr != "" {
		interval, err := time.ParseDuration(intervalStr)
		if err != nil {
			return nil, serr.Wrap(err, "invalid CADDIE_SYNC_INTERVAL value, expected duration like '2m' or '30s'")
		}
		cfg.Interval = interval
	}

	if timeoutStr := os.Getenv("CADDIE_API_TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, serr.Wrap(err, "invalid CADDIE_API_TIMEOUT value, expected duration like '15s'")
		}
		cfg.RequestTimeout = timeout
	}

	if attemptsStr := os.Getenv("CADDIE_SYNC_MAX_ATTEMPTS"); attemptsStr != "" {
		attempts, err := strconv.Atoi(attemptsStr)
		if err != nil || attempts < 1 {
			return nil, serr.New("invalid CADDIE_SYNC_MAX_ATTEMPTS value, expected a positive integer")
		}
		cfg.MaxAttempts = attempts
	}

	if concStr := os.Getenv("CADDIE_SYNC_CONCURRENCY"); concStr != "" {
		conc, err := strconv.Atoi(concStr)
		if err != nil || conc < 1 {
			return nil, serr.New("invalid CADDIE_SYNC_CONCURRENCY value, expected a positive integer")
		}
		cfg.Concurrency = conc
	}

	return cfg, nil
}

// Validate checks that required fields are present when sync is enabled.
// Called before starting the engine to fail fast on misconfiguration rather
// than discovering missing credentials mid-cycle.
func (c *SyncConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.APIBaseURL == "" {
		return serr.New("CADDIE_API_URL is required when sync is enabled")
	}
	if c.Username == "" {
		return serr.New("CADDIE_API_USERNAME is required when sync is enabled")
	}
	if c.Password == "" {
		return serr.New("CADDIE_API_PASSWORD is required when sync is enabled")
	}
	if c.Interval < 10*time.Second {
		return serr.New("CADDIE_SYNC_INTERVAL must be at least 10s to avoid hammering the remote service")
	}

	return nil
}
