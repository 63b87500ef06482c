package model

import "time"

const (
	DefaultTimeLimitMs   = 2000
	DefaultMemoryLimitMB = 256
)

// ProblemMeta carries the judge-facing settings of a problem.
type ProblemMeta struct {
	ProblemID     string `json:"problem_id"`
	TimeLimitMs   int64  `json:"time_limit_ms"`
	MemoryLimitMB int64  `json:"memory_limit_mb"`
	// TestCount is authoritative; the content store is never probed for more cases.
	TestCount int    `json:"test_count"`
	ContestID string `json:"contest_id,omitempty"`
	// ValidatorLanguage is empty when outputs are compared by trimmed equality.
	ValidatorLanguage string `json:"validator_language,omitempty"`
}

// TimeLimit returns the per-test CPU time limit at millisecond precision.
func (m ProblemMeta) TimeLimit() time.Duration {
	ms := m.TimeLimitMs
	if ms <= 0 {
		ms = DefaultTimeLimitMs
	}
	return time.Duration(ms) * time.Millisecond
}

// MemoryLimit returns the memory limit in MiB.
func (m ProblemMeta) MemoryLimit() int64 {
	if m.MemoryLimitMB <= 0 {
		return DefaultMemoryLimitMB
	}
	return m.MemoryLimitMB
}

// TestCase is one input/expected-output pair. Ordinal is 1-based.
type TestCase struct {
	Ordinal        int
	Input          string
	ExpectedOutput string
}

// Validator is a custom checker program run in the sandbox.
type Validator struct {
	Language   string
	SourceCode string
}
