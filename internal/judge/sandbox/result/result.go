// Package result defines sandbox execution results.
package result

// Class is the error classification of one execution. It is never empty:
// a clean run is ClassNone.
type Class string

const (
	ClassNone                Class = "none"
	ClassCompileError        Class = "compile_error"
	ClassTimeLimitExceeded   Class = "time_limit_exceeded"
	ClassMemoryLimitExceeded Class = "memory_limit_exceeded"
	ClassRuntimeError        Class = "runtime_error"
	// ClassTooLarge rejects oversize code or input before anything runs.
	ClassTooLarge Class = "too_large"
	// ClassInfraError covers sandbox faults that say nothing about the user's code.
	ClassInfraError Class = "infra_error"
)

// UserFault reports whether the class is attributable to the submitted program.
func (c Class) UserFault() bool {
	switch c {
	case ClassCompileError, ClassTimeLimitExceeded, ClassMemoryLimitExceeded, ClassRuntimeError:
		return true
	default:
		return false
	}
}

// ExecResult captures one Execute call.
type ExecResult struct {
	Class    Class
	Stdout   string
	Stderr   string
	ExitCode int
	TimeMs   int64
	// MemoryKB is peak RSS when the image can report it, otherwise 0.
	MemoryKB int64
	// Unrecoverable marks host faults (disk full, runtime gone) that should stop the worker.
	Unrecoverable bool
}

// OK reports a clean run.
func (r ExecResult) OK() bool {
	return r.Class == ClassNone
}

// Failure builds a result with empty stdout and a diagnostic in stderr.
func Failure(class Class, diagnostic string) ExecResult {
	return ExecResult{Class: class, Stderr: diagnostic, ExitCode: -1}
}
