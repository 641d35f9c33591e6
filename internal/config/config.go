// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the training jobs service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string        // bearer credential for the job API; empty disables auth
	ShutdownDrainWait time.Duration // time to wait for load balancer to drain (0 to skip)

	MaxConcurrentJobs int           // admission ceiling for simultaneously training jobs
	CancelGrace       time.Duration // cooperative-cancel window before force termination

	WorkerMode   string // "local" runs trainers in-process, "docker" in containers
	TrainerImage string // container image for docker worker mode

	SnapshotPath     string        // SQLite file for best-effort job table snapshots; empty disables
	SnapshotInterval time.Duration // how often the table is snapshotted
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		MaxConcurrentJobs: GetIntEnv("MAX_CONCURRENT_JOBS", 2),
		CancelGrace:       GetDurationEnv("CANCEL_GRACE", 10*time.Second),

		WorkerMode:   GetEnv("WORKER_MODE", "local"),
		TrainerImage: GetEnv("TRAINER_IMAGE", "trainhub-trainer:latest"),

		SnapshotPath:     GetEnv("SNAPSHOT_PATH", "data/jobs.db"),
		SnapshotInterval: GetDurationEnv("SNAPSHOT_INTERVAL", 30*time.Second),
	}
}
