// Package spec defines the execution specification and resource limits.
package spec

import "time"

// Stage names the step a container run belongs to.
type Stage string

const (
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

// ResourceLimit describes hard limits enforced by the container runtime.
type ResourceLimit struct {
	// WallTime is measured from container start; the runtime kills the workload when it elapses.
	WallTime time.Duration
	MemoryMB int64
	// FileSizeBytes caps any single file the program writes (ulimit fsize).
	FileSizeBytes int64
	PIDs          int64
	NanoCPUs      int64
}

// RunSpec is the unified execution specification for one container run.
type RunSpec struct {
	Stage Stage
	Image string
	// WorkDir is the host directory bind-mounted at MountPoint.
	WorkDir    string
	MountPoint string
	Cmd        []string
	Limits     ResourceLimit
}
