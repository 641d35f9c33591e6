package dispatcher

import (
	"time"

	"trainhub/internal/config"
	"trainhub/pkg/backoff"
)

// Breaker defaults rarely need tuning.
const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	Workers     int            // delivery goroutines, one queue each (default: 4)
	QueueSize   int            // pending notifications per worker (default: 1024)
	HTTPTimeout time.Duration  // per-request timeout (default: 10s)
	Retry       backoff.Policy // delivery retry schedule
}

// LoadConfigFromEnv loads dispatcher configuration from environment
// variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		Workers:     config.GetIntEnv("DISPATCHER_WORKERS", 4),
		QueueSize:   config.GetIntEnv("DISPATCHER_QUEUE_SIZE", 1024),
		HTTPTimeout: config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = backoff.Default()
	}
	return c
}
