package repository

import (
	"context"
	"sort"
	"sync"

	"arenaoj/internal/contest/model"
	appErr "arenaoj/pkg/errors"
)

// LeaderboardStore applies attempts as one atomic merge per (contest, participant).
type LeaderboardStore interface {
	// Merge applies the attempt and reports whether the entry changed.
	// A problem already solved is left untouched, and so is a submission applied before.
	Merge(ctx context.Context, attempt model.Attempt) (model.LeaderboardEntry, bool, error)
	Get(ctx context.Context, contestID, participantID string) (model.LeaderboardEntry, error)
	// List returns every row ranked with model.Better.
	List(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error)
}

// MemoryLeaderboard is a mutex-guarded LeaderboardStore.
type MemoryLeaderboard struct {
	mu      sync.Mutex
	entries map[string]map[string]*model.LeaderboardEntry
	applied map[string]struct{}
}

// NewMemoryLeaderboard creates an empty leaderboard store.
func NewMemoryLeaderboard() *MemoryLeaderboard {
	return &MemoryLeaderboard{
		entries: make(map[string]map[string]*model.LeaderboardEntry),
		applied: make(map[string]struct{}),
	}
}

func (m *MemoryLeaderboard) Merge(ctx context.Context, a model.Attempt) (model.LeaderboardEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.entries[a.ContestID]
	if !ok {
		board = make(map[string]*model.LeaderboardEntry)
		m.entries[a.ContestID] = board
	}
	entry, ok := board[a.ParticipantID]
	if !ok {
		entry = &model.LeaderboardEntry{
			ContestID:     a.ContestID,
			ParticipantID: a.ParticipantID,
			Problems:      make(map[string]model.ProblemStanding),
		}
		board[a.ParticipantID] = entry
	}
	standing := entry.Problems[a.ProblemID]
	if standing.Status == model.ProblemSolved {
		return copyEntry(entry), false, nil
	}
	seen := a.ContestID + "/" + a.SubmissionID
	if _, dup := m.applied[seen]; dup && a.SubmissionID != "" {
		return copyEntry(entry), false, nil
	}
	m.applied[seen] = struct{}{}
	standing.Attempts++
	if a.Accepted {
		standing.Status = model.ProblemSolved
		standing.TimeToSolve = a.Elapsed
		entry.Score += a.ScoreIncrement
		entry.Penalty += a.Elapsed
	} else {
		standing.Status = model.ProblemNotSolved
	}
	entry.Problems[a.ProblemID] = standing
	return copyEntry(entry), true, nil
}

func (m *MemoryLeaderboard) Get(ctx context.Context, contestID, participantID string) (model.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[contestID][participantID]
	if !ok {
		return model.LeaderboardEntry{}, appErr.Newf(appErr.NotFound, "no leaderboard entry for %s in contest %s", participantID, contestID)
	}
	return copyEntry(entry), nil
}

func (m *MemoryLeaderboard) List(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LeaderboardEntry, 0, len(m.entries[contestID]))
	for _, entry := range m.entries[contestID] {
		out = append(out, copyEntry(entry))
	}
	rank(out)
	return out, nil
}

func copyEntry(e *model.LeaderboardEntry) model.LeaderboardEntry {
	out := *e
	out.Problems = make(map[string]model.ProblemStanding, len(e.Problems))
	for k, v := range e.Problems {
		out.Problems[k] = v
	}
	return out
}

// rank sorts rows and assigns 1-based ranks; equal score and penalty share a rank.
func rank(rows []model.LeaderboardEntry) {
	sort.Slice(rows, func(i, j int) bool { return model.Better(rows[i], rows[j]) })
	for i := range rows {
		if i > 0 && rows[i].Score == rows[i-1].Score && rows[i].Penalty == rows[i-1].Penalty {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
