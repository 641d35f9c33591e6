package dockerexec

import (
	"strings"
	"time"

	"trainhub/internal/config"
)

const (
	defaultCancelGrace = 10 * time.Second
	defaultEventBuffer = 64
)

// Config holds configuration for the docker executor.
type Config struct {
	// TrainerImage is the container image holding the training
	// entrypoint. Required.
	TrainerImage string

	// CancelGrace is how long a stopped container gets between SIGTERM
	// and SIGKILL (default 10s).
	CancelGrace time.Duration

	// EventBuffer is the per-job event channel capacity (default 64).
	EventBuffer int

	// ExtraHosts adds /etc/hosts entries to trainer containers, e.g.
	// ["registry.test:host-gateway"].
	ExtraHosts []string
}

// LoadConfigFromEnv loads docker executor settings from environment
// variables. Image and grace period come from the service config.
func LoadConfigFromEnv() Config {
	cfg := Config{
		EventBuffer: config.GetIntEnv("WORKER_EVENT_BUFFER", defaultEventBuffer),
	}
	if hosts := config.GetEnv("WORKER_EXTRA_HOSTS", ""); hosts != "" {
		cfg.ExtraHosts = strings.Split(hosts, ",")
	}
	return cfg
}

func (c Config) withDefaults() Config {
	if c.CancelGrace <= 0 {
		c.CancelGrace = defaultCancelGrace
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}
