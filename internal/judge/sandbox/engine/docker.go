package engine

import (
	"context"
	"fmt"
	"time"

	"arenaoj/internal/judge/sandbox/spec"
	"arenaoj/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	units "github.com/docker/go-units"
	"go.uber.org/zap"
)

const defaultCleanupTimeout = 10 * time.Second

// DockerEngine runs workloads as short-lived docker containers with no network.
type DockerEngine struct {
	cli *client.Client
	cfg Config
}

// NewDockerEngine connects to the docker daemon.
func NewDockerEngine(cfg Config) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client failed: %w", err)
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	return &DockerEngine{cli: cli, cfg: cfg}, nil
}

// Ping checks the daemon is reachable.
func (d *DockerEngine) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the docker client.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

// Run creates, starts and waits for one container. The container is always removed.
func (d *DockerEngine) Run(ctx context.Context, rs spec.RunSpec) (Report, error) {
	if rs.Image == "" {
		return Report{}, fmt.Errorf("%w: image is required", ErrUnavailable)
	}
	created, err := d.cli.ContainerCreate(ctx, d.containerConfig(rs), d.hostConfig(rs), nil, nil, "")
	if err != nil {
		return Report{}, d.runtimeError(ctx, "create container", err)
	}
	id := created.ID
	defer d.remove(id)

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return Report{}, d.runtimeError(ctx, "start container", err)
	}

	// The wait must outlive ctx so cancellation turns into a kill rather than a lost container.
	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	statusCh, errCh := d.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)

	var deadline <-chan time.Time
	if rs.Limits.WallTime > 0 {
		timer := time.NewTimer(rs.Limits.WallTime)
		defer timer.Stop()
		deadline = timer.C
	}

	var report Report
	select {
	case <-deadline:
		d.kill(id)
		report.Elapsed = time.Since(start)
		report.ExitCode = -1
		report.TimedOut = true
		return report, nil
	case <-ctx.Done():
		d.kill(id)
		return Report{Elapsed: time.Since(start), ExitCode: -1}, ctx.Err()
	case err := <-errCh:
		return Report{}, fmt.Errorf("%w: wait container: %v", ErrUnavailable, err)
	case status := <-statusCh:
		report.Elapsed = time.Since(start)
		report.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			return report, fmt.Errorf("%w: wait container: %s", ErrUnavailable, status.Error.Message)
		}
	}

	inspectCtx, cancel := context.WithTimeout(context.Background(), d.cfg.CleanupTimeout)
	defer cancel()
	info, err := d.cli.ContainerInspect(inspectCtx, id)
	if err != nil {
		logger.Warn(ctx, "inspect container failed", zap.String("container_id", id), zap.Error(err))
		return report, nil
	}
	if info.ContainerJSONBase != nil && info.State != nil {
		report.OOMKilled = info.State.OOMKilled
	}
	return report, nil
}

func (d *DockerEngine) containerConfig(rs spec.RunSpec) *container.Config {
	return &container.Config{
		Image:           rs.Image,
		Cmd:             rs.Cmd,
		WorkingDir:      rs.MountPoint,
		User:            d.cfg.User,
		NetworkDisabled: true,
		AttachStdout:    false,
		AttachStderr:    false,
		Tty:             false,
		Labels: map[string]string{
			"arenaoj.stage": string(rs.Stage),
		},
	}
}

func (d *DockerEngine) hostConfig(rs spec.RunSpec) *container.HostConfig {
	resources := container.Resources{}
	if rs.Limits.MemoryMB > 0 {
		mem := rs.Limits.MemoryMB * 1024 * 1024
		resources.Memory = mem
		// Equal swap limit disables swap for the container.
		resources.MemorySwap = mem
	}
	if rs.Limits.PIDs > 0 {
		pids := rs.Limits.PIDs
		resources.PidsLimit = &pids
	}
	if rs.Limits.NanoCPUs > 0 {
		resources.NanoCPUs = rs.Limits.NanoCPUs
	}
	if rs.Limits.FileSizeBytes > 0 {
		resources.Ulimits = []*units.Ulimit{{
			Name: "fsize",
			Soft: rs.Limits.FileSizeBytes,
			Hard: rs.Limits.FileSizeBytes,
		}}
	}
	return &container.HostConfig{
		Binds:       []string{rs.WorkDir + ":" + rs.MountPoint},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources:   resources,
	}
}

func (d *DockerEngine) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CleanupTimeout)
	defer cancel()
	if err := d.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		logger.Warn(ctx, "kill container failed", zap.String("container_id", id), zap.Error(err))
	}
}

func (d *DockerEngine) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CleanupTimeout)
	defer cancel()
	err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		logger.Warn(ctx, "remove container failed", zap.String("container_id", id), zap.Error(err))
	}
}

func (d *DockerEngine) runtimeError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
