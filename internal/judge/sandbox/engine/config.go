package engine

import "time"

// Config controls the docker engine.
type Config struct {
	// Host overrides DOCKER_HOST; empty uses the environment.
	Host string `yaml:"host"`
	// User runs the workload as this uid:gid inside the container.
	User string `yaml:"user"`
	// CleanupTimeout bounds kill and remove calls issued after the run context is gone.
	CleanupTimeout time.Duration `yaml:"cleanupTimeout"`
}
