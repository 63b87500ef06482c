package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a submission job.
// Queued -> Running -> terminal. Progress inside Running is tracked by CurrentTest.
type Status string

const (
	StatusQueued              Status = "Queued"
	StatusRunning             Status = "Running"
	StatusAccepted            Status = "Accepted"
	StatusWrongAnswer         Status = "WrongAnswer"
	StatusCompilationError    Status = "CompilationError"
	StatusRuntimeError        Status = "RuntimeError"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusMemoryLimitExceeded Status = "MemoryLimitExceeded"
	StatusInfraError          Status = "InfraError"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusQueued, StatusRunning, "":
		return false
	default:
		return true
	}
}

// CanTransition reports whether from -> to is a legal forward move.
// Running -> Queued is reserved for the stale-claim reclaimer and is not accepted here.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusRunning || to.IsTerminal()
	default:
		return false
	}
}

// Verdict is the outcome of one test case, or the aggregate outcome of a submission.
// Per-test results use VerdictPassed; only the aggregate uses VerdictAccepted.
type Verdict string

const (
	VerdictPassed              Verdict = "passed"
	VerdictAccepted            Verdict = "accepted"
	VerdictWrongAnswer         Verdict = "wrong_answer"
	VerdictCompilationError    Verdict = "compilation_error"
	VerdictRuntimeError        Verdict = "runtime_error"
	VerdictTimeLimitExceeded   Verdict = "time_limit_exceeded"
	VerdictMemoryLimitExceeded Verdict = "memory_limit_exceeded"
)

// Status maps a submission-level verdict to its terminal status.
func (v Verdict) Status() Status {
	switch v {
	case VerdictAccepted, VerdictPassed:
		return StatusAccepted
	case VerdictWrongAnswer:
		return StatusWrongAnswer
	case VerdictCompilationError:
		return StatusCompilationError
	case VerdictRuntimeError:
		return StatusRuntimeError
	case VerdictTimeLimitExceeded:
		return StatusTimeLimitExceeded
	case VerdictMemoryLimitExceeded:
		return StatusMemoryLimitExceeded
	default:
		return StatusInfraError
	}
}

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	return v.Status() != StatusInfraError
}

// TestResult is the recorded outcome of one test case.
type TestResult struct {
	Ordinal        int     `json:"test_case_number"`
	Verdict        Verdict `json:"status"`
	Message        string  `json:"message"`
	TimeMs         int64   `json:"execution_time_ms"`
	MemoryKB       int64   `json:"memory_usage_kb"`
	ActualOutput   string  `json:"actual_output,omitempty"`
	ExpectedOutput string  `json:"expected_output,omitempty"`
	Input          string  `json:"input,omitempty"`
}

// Submission is the unit of work flowing through the queue.
type Submission struct {
	ID          string    `json:"id"`
	ProblemID   string    `json:"problem_id"`
	SubmitterID string    `json:"submitter_id"`
	Language    string    `json:"language"`
	SourceCode  string    `json:"source_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	Status      Status       `json:"status"`
	CurrentTest int          `json:"current_test"`
	TotalTests  int          `json:"total_tests"`
	Results     []TestResult `json:"results"`
	Verdict     Verdict      `json:"verdict,omitempty"`
	Error       string       `json:"error,omitempty"`

	WorkerID    string    `json:"worker_id,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Attempts    int       `json:"attempts"`
}

// Progress renders the status the way pollers display it, e.g. "Running(test 3)".
func (s *Submission) Progress() string {
	if s.Status == StatusRunning && s.CurrentTest > 0 {
		return fmt.Sprintf("Running(test %d)", s.CurrentTest)
	}
	return string(s.Status)
}

// Clone returns a deep copy safe to hand to callers.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	if s.Results != nil {
		out.Results = append([]TestResult(nil), s.Results...)
	}
	return &out
}

// Outcome is what a worker reports when it finishes a job.
// Exactly one of Verdict or InfraError is meaningful.
type Outcome struct {
	Verdict    Verdict
	InfraError string
	Results    []TestResult
}

// Status returns the terminal status the outcome maps to.
func (o Outcome) Status() Status {
	if o.InfraError != "" {
		return StatusInfraError
	}
	return o.Verdict.Status()
}

// JobSummary is one row of the queue snapshot.
type JobSummary struct {
	SubmissionID string    `json:"submission_id"`
	ProblemID    string    `json:"problem_id"`
	SubmitterID  string    `json:"submitter_id"`
	Language     string    `json:"language"`
	Status       Status    `json:"status"`
	Progress     string    `json:"progress"`
	Position     int       `json:"position,omitempty"`
	CurrentTest  int       `json:"current_test"`
	TotalTests   int       `json:"total_tests"`
	WorkerID     string    `json:"worker_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ClaimedAt    time.Time `json:"claimed_at,omitempty"`
}

// Summary builds the snapshot row for s.
func (s *Submission) Summary(position int) JobSummary {
	return JobSummary{
		SubmissionID: s.ID,
		ProblemID:    s.ProblemID,
		SubmitterID:  s.SubmitterID,
		Language:     s.Language,
		Status:       s.Status,
		Progress:     s.Progress(),
		Position:     position,
		CurrentTest:  s.CurrentTest,
		TotalTests:   s.TotalTests,
		WorkerID:     s.WorkerID,
		CreatedAt:    s.CreatedAt,
		ClaimedAt:    s.ClaimedAt,
	}
}
