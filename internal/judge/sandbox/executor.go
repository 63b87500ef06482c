// Package sandbox compiles and runs untrusted programs inside disposable containers.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"arenaoj/internal/judge/sandbox/engine"
	"arenaoj/internal/judge/sandbox/profile"
	"arenaoj/internal/judge/sandbox/result"
	"arenaoj/internal/judge/sandbox/spec"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	stdinFile      = "stdin.txt"
	stdoutFile     = "stdout.txt"
	stderrFile     = "stderr.txt"
	compileErrFile = "compile.err"
	usageFile      = ".usage"
	mountPoint     = "/judge"
	timeBinary     = "/usr/bin/time"

	defaultGraceMargin     = time.Second
	defaultCompileTimeout  = 15 * time.Second
	defaultCompileMemoryMB = 512
	defaultMaxSourceBytes  = 50 << 20
	defaultMaxStdinBytes   = 50 << 20
	defaultMaxOutputBytes  = 64 << 20
	defaultPidsLimit       = 64
	defaultMinFreeDisk     = 256 << 20
)

// Config controls executor limits.
type Config struct {
	WorkRoot     string `yaml:"workRoot"`
	DefaultImage string `yaml:"image"`
	// GraceMargin is added to the time limit before the host kills the container.
	GraceMargin     time.Duration `yaml:"graceMargin"`
	CompileTimeout  time.Duration `yaml:"compileTimeout"`
	CompileMemoryMB int64         `yaml:"compileMemoryMB"`
	MaxSourceBytes  int64         `yaml:"maxSourceBytes"`
	MaxStdinBytes   int64         `yaml:"maxStdinBytes"`
	// MaxOutputBytes caps every file the program writes, stdout included.
	MaxOutputBytes int64 `yaml:"maxOutputBytes"`
	// MaxFileBytes caps each extra input file on its own. It defaults to the larger of
	// MaxStdinBytes and MaxOutputBytes so a validator can read anything a program printed.
	MaxFileBytes     int64  `yaml:"maxFileBytes"`
	PidsLimit        int64  `yaml:"pidsLimit"`
	NanoCPUs         int64  `yaml:"nanoCPUs"`
	MinFreeDiskBytes uint64 `yaml:"minFreeDiskBytes"`
}

func (c *Config) applyDefaults() {
	if c.WorkRoot == "" {
		c.WorkRoot = os.TempDir()
	}
	if c.GraceMargin <= 0 {
		c.GraceMargin = defaultGraceMargin
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = defaultCompileTimeout
	}
	if c.CompileMemoryMB <= 0 {
		c.CompileMemoryMB = defaultCompileMemoryMB
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = defaultMaxSourceBytes
	}
	if c.MaxStdinBytes <= 0 {
		c.MaxStdinBytes = defaultMaxStdinBytes
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = max(c.MaxStdinBytes, c.MaxOutputBytes)
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = defaultPidsLimit
	}
	if c.MinFreeDiskBytes == 0 {
		c.MinFreeDiskBytes = defaultMinFreeDisk
	}
}

// Request is one compile-and-run invocation.
type Request struct {
	Language      string
	SourceCode    string
	Stdin         string
	TimeLimit     time.Duration
	MemoryLimitMB int64
	// Files are extra read-only inputs placed next to the program (validators use them).
	Files map[string]string
	// Args are appended to the run command.
	Args []string
}

// Executor is safe for concurrent use; each call works in its own directory.
type Executor struct {
	cfg      Config
	langs    *profile.Registry
	engine   engine.Engine
	diskFree func(path string) (uint64, error)
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config, langs *profile.Registry, eng engine.Engine) (*Executor, error) {
	if langs == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	cfg.applyDefaults()
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = os.Getenv("JUDGE_IMAGE")
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root failed: %w", err)
	}
	return &Executor{cfg: cfg, langs: langs, engine: eng, diskFree: freeDiskBytes}, nil
}

// Languages exposes the registry used for validation at submit time.
func (e *Executor) Languages() *profile.Registry {
	return e.langs
}

// MaxSourceBytes is the source size cap.
func (e *Executor) MaxSourceBytes() int64 {
	return e.cfg.MaxSourceBytes
}

// Execute compiles (when the language needs it) and runs the program once.
// It never returns an error and never panics: every failure is a classified result,
// and the working directory is removed before returning.
func (e *Executor) Execute(ctx context.Context, req Request) (res result.ExecResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "sandbox execute panicked", zap.Any("panic", r))
			res = result.Failure(result.ClassInfraError, fmt.Sprintf("sandbox panic: %v", r))
		}
	}()

	if int64(len(req.SourceCode)) > e.cfg.MaxSourceBytes {
		return result.Failure(result.ClassTooLarge, fmt.Sprintf("source code exceeds %d bytes", e.cfg.MaxSourceBytes))
	}
	if int64(len(req.Stdin)) > e.cfg.MaxStdinBytes {
		return result.Failure(result.ClassTooLarge, fmt.Sprintf("input exceeds %d bytes", e.cfg.MaxStdinBytes))
	}
	for name, content := range req.Files {
		if int64(len(content)) > e.cfg.MaxFileBytes {
			return result.Failure(result.ClassTooLarge, fmt.Sprintf("file %s exceeds %d bytes", name, e.cfg.MaxFileBytes))
		}
	}

	lang, err := e.langs.Get(req.Language)
	if err != nil {
		return result.Failure(result.ClassInfraError, err.Error())
	}

	if free, err := e.diskFree(e.cfg.WorkRoot); err == nil && free < e.cfg.MinFreeDiskBytes {
		res = result.Failure(result.ClassInfraError, fmt.Sprintf("work root has %d bytes free", free))
		res.Unrecoverable = true
		return res
	}

	workDir, err := os.MkdirTemp(e.cfg.WorkRoot, "run-")
	if err != nil {
		return result.Failure(result.ClassInfraError, fmt.Sprintf("create work dir failed: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn(ctx, "remove work dir failed", zap.String("dir", workDir), zap.Error(err))
		}
	}()
	// Containers may run as an unprivileged uid.
	if err := os.Chmod(workDir, 0o777); err != nil {
		return result.Failure(result.ClassInfraError, fmt.Sprintf("chmod work dir failed: %v", err))
	}

	files := map[string]string{lang.SourceFile: req.SourceCode, stdinFile: req.Stdin}
	for name, content := range req.Files {
		if _, taken := files[name]; taken || name != filepath.Base(name) {
			return result.Failure(result.ClassInfraError, fmt.Sprintf("invalid extra file name %q", name))
		}
		files[name] = content
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(workDir, name), []byte(content), 0o666); err != nil {
			return result.Failure(result.ClassInfraError, fmt.Sprintf("write %s failed: %v", name, err))
		}
	}

	image := lang.Image
	if image == "" {
		image = e.cfg.DefaultImage
	}

	if lang.Compiled() {
		if res, ok := e.compile(ctx, lang, image, workDir); !ok {
			return res
		}
	}
	return e.run(ctx, lang, image, workDir, req)
}

// compile returns ok=false with the final result when compilation did not succeed.
func (e *Executor) compile(ctx context.Context, lang profile.LanguageSpec, image, workDir string) (result.ExecResult, bool) {
	argv, err := lang.CompileArgv()
	if err != nil {
		return result.Failure(result.ClassInfraError, err.Error()), false
	}
	script := shellJoin(argv) + " > /dev/null 2> " + compileErrFile
	report, err := e.engine.Run(ctx, spec.RunSpec{
		Stage:      spec.StageCompile,
		Image:      image,
		WorkDir:    workDir,
		MountPoint: mountPoint,
		Cmd:        []string{"sh", "-c", script},
		Limits: spec.ResourceLimit{
			WallTime:      e.cfg.CompileTimeout,
			MemoryMB:      e.cfg.CompileMemoryMB,
			FileSizeBytes: e.cfg.MaxOutputBytes,
			PIDs:          e.cfg.PidsLimit,
			NanoCPUs:      e.cfg.NanoCPUs,
		},
	})
	if err != nil {
		return e.engineFailure(ctx, err), false
	}

	stderr, _, err := readCapped(filepath.Join(workDir, compileErrFile), e.cfg.MaxOutputBytes)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return result.Failure(result.ClassInfraError, fmt.Sprintf("read compiler output failed: %v", err)), false
	}
	timeMs := report.Elapsed.Milliseconds()
	switch {
	case report.TimedOut:
		return compileError("compilation timed out", timeMs), false
	case report.OOMKilled:
		return compileError("compiler ran out of memory", timeMs), false
	// Any compiler diagnostic, warnings included, fails the submission.
	case strings.TrimSpace(stderr) != "":
		return compileError(stderr, timeMs), false
	case report.ExitCode != 0:
		return compileError(fmt.Sprintf("compiler exited with code %d", report.ExitCode), timeMs), false
	}
	return result.ExecResult{}, true
}

func compileError(stderr string, timeMs int64) result.ExecResult {
	return result.ExecResult{Class: result.ClassCompileError, Stderr: stderr, ExitCode: -1, TimeMs: timeMs}
}

func (e *Executor) run(ctx context.Context, lang profile.LanguageSpec, image, workDir string, req Request) result.ExecResult {
	argv, err := lang.RunArgv()
	if err != nil {
		return result.Failure(result.ClassInfraError, err.Error())
	}
	argv = append(argv, req.Args...)
	cmd := shellJoin(argv)
	redirect := " < " + stdinFile + " > " + stdoutFile + " 2> " + stderrFile
	// GNU time reports elapsed seconds and peak RSS when the image ships it.
	script := fmt.Sprintf("if [ -x %s ]; then exec %s -f '%%e %%M' -o %s %s%s; else exec %s%s; fi",
		timeBinary, timeBinary, usageFile, cmd, redirect, cmd, redirect)

	limit := req.TimeLimit
	if limit <= 0 {
		limit = time.Second
	}
	report, err := e.engine.Run(ctx, spec.RunSpec{
		Stage:      spec.StageRun,
		Image:      image,
		WorkDir:    workDir,
		MountPoint: mountPoint,
		Cmd:        []string{"sh", "-c", script},
		Limits: spec.ResourceLimit{
			WallTime:      limit + e.cfg.GraceMargin,
			MemoryMB:      req.MemoryLimitMB,
			FileSizeBytes: e.cfg.MaxOutputBytes,
			PIDs:          e.cfg.PidsLimit,
			NanoCPUs:      e.cfg.NanoCPUs,
		},
	})
	if err != nil {
		return e.engineFailure(ctx, err)
	}

	if report.TimedOut {
		return result.ExecResult{
			Class:    result.ClassTimeLimitExceeded,
			Stderr:   fmt.Sprintf("killed after %s", limit+e.cfg.GraceMargin),
			ExitCode: -1,
			TimeMs:   report.Elapsed.Milliseconds(),
		}
	}

	stdout, overflow, err := readCapped(filepath.Join(workDir, stdoutFile), e.cfg.MaxOutputBytes)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return result.Failure(result.ClassInfraError, fmt.Sprintf("read stdout failed: %v", err))
	}
	stderr, _, err := readCapped(filepath.Join(workDir, stderrFile), e.cfg.MaxOutputBytes)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return result.Failure(result.ClassInfraError, fmt.Sprintf("read stderr failed: %v", err))
	}

	res := result.ExecResult{
		Class:    result.ClassNone,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: report.ExitCode,
		TimeMs:   report.Elapsed.Milliseconds(),
	}
	elapsed, rssKB, measured := readUsage(filepath.Join(workDir, usageFile))
	if measured {
		res.TimeMs = elapsed.Milliseconds()
		res.MemoryKB = rssKB
	}

	switch {
	case report.OOMKilled:
		res.Class = result.ClassMemoryLimitExceeded
	// Host wall time includes container start-up; only the in-container figure is held to the limit.
	case measured && res.TimeMs > limit.Milliseconds():
		res.Class = result.ClassTimeLimitExceeded
	case measured && req.MemoryLimitMB > 0 && res.MemoryKB > req.MemoryLimitMB*1024:
		res.Class = result.ClassMemoryLimitExceeded
	case overflow:
		res.Class = result.ClassRuntimeError
		res.Stderr = fmt.Sprintf("output exceeds %d bytes", e.cfg.MaxOutputBytes)
	case report.ExitCode != 0:
		res.Class = result.ClassRuntimeError
	}
	if res.Class != result.ClassNone {
		res.Stdout = ""
	}
	return res
}

// engineFailure marks the result unrecoverable only when the runtime no longer answers pings.
func (e *Executor) engineFailure(ctx context.Context, err error) result.ExecResult {
	res := result.Failure(result.ClassInfraError, err.Error())
	if errors.Is(err, engine.ErrUnavailable) && ctx.Err() == nil {
		if pingErr := e.engine.Ping(ctx); pingErr != nil {
			logger.Error(ctx, "container runtime is down", zap.Error(pingErr))
			res.Unrecoverable = true
		}
	}
	return res
}

// readCapped reads at most max bytes and reports whether the file was larger.
func readCapped(path string, max int64) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return "", false, err
	}
	if int64(len(data)) > max {
		return string(data[:max]), true, nil
	}
	return string(data), false, nil
}

// readUsage parses the last line of a GNU time "-f '%e %M'" report.
func readUsage(path string) (time.Duration, int64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) != 2 {
		return 0, 0, false
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, false
	}
	rss, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return time.Duration(secs * float64(time.Second)), rss, true
}

// shellJoin quotes each argument for sh.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
