// Package engine runs a RunSpec in an isolated container.
package engine

import (
	"context"
	"errors"
	"time"

	"arenaoj/internal/judge/sandbox/spec"
)

// ErrUnavailable wraps failures of the container runtime itself.
var ErrUnavailable = errors.New("container runtime unavailable")

// Report is what the runtime observed about one run.
type Report struct {
	ExitCode  int
	OOMKilled bool
	// TimedOut is set when WallTime elapsed and the container was killed.
	TimedOut bool
	Elapsed  time.Duration
}

// Engine executes one container run. Implementations kill the workload once
// rs.Limits.WallTime has elapsed or ctx is done, and never leave containers behind.
type Engine interface {
	Run(ctx context.Context, rs spec.RunSpec) (Report, error)
	Ping(ctx context.Context) error
}
