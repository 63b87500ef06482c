package model

import "time"

// ProblemStatus is a participant's standing on one contest problem.
type ProblemStatus string

const (
	ProblemSolved    ProblemStatus = "solved"
	ProblemNotSolved ProblemStatus = "not_solved"
)

// Contest is the time window a leaderboard counts submissions in.
type Contest struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// InWindow reports whether t falls in [StartTime, EndTime).
func (c *Contest) InWindow(t time.Time) bool {
	return !t.Before(c.StartTime) && t.Before(c.EndTime)
}

// Elapsed returns whole seconds from contest start to t.
func (c *Contest) Elapsed(t time.Time) int64 {
	return int64(t.Sub(c.StartTime) / time.Second)
}

// ProblemStanding is one problem cell of a leaderboard row.
type ProblemStanding struct {
	Status   ProblemStatus `json:"status"`
	Attempts int64         `json:"attempts"`
	// TimeToSolve is seconds from contest start; zero until solved.
	TimeToSolve int64 `json:"time_to_solve"`
}

// LeaderboardEntry is one participant's row.
type LeaderboardEntry struct {
	ContestID     string                     `json:"contest_id"`
	ParticipantID string                     `json:"participant_id"`
	Score         int64                      `json:"score"`
	Penalty       int64                      `json:"penalty"`
	Problems      map[string]ProblemStanding `json:"problems"`
	Rank          int                        `json:"rank,omitempty"`
}

// Attempt is one graded in-window submission applied to the leaderboard.
type Attempt struct {
	// SubmissionID makes a merge idempotent: a replayed attempt is ignored.
	SubmissionID  string
	ContestID     string
	ParticipantID string
	ProblemID     string
	Accepted      bool
	// Elapsed is whole seconds from contest start.
	Elapsed        int64
	ScoreIncrement int64
}

// Better orders rows by score descending, then penalty ascending.
func Better(a, b LeaderboardEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Penalty != b.Penalty {
		return a.Penalty < b.Penalty
	}
	return a.ParticipantID < b.ParticipantID
}
