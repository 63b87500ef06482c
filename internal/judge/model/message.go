package model

// StatusEvent is published when a submission reaches a terminal status.
type StatusEvent struct {
	SubmissionID string  `json:"submission_id"`
	ProblemID    string  `json:"problem_id"`
	SubmitterID  string  `json:"submitter_id"`
	ContestID    string  `json:"contest_id,omitempty"`
	Status       Status  `json:"status"`
	Verdict      Verdict `json:"verdict,omitempty"`
	Error        string  `json:"error,omitempty"`
	TotalTests   int     `json:"total_tests"`
	Passed       int     `json:"passed"`
	CreatedAt    int64   `json:"created_at"`
	FinishedAt   int64   `json:"finished_at"`
}
