package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/repository"
	judgemodel "arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/retry"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var contestStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func boards(t *testing.T) map[string]repository.LeaderboardStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	rb, err := repository.NewRedisLeaderboard(c)
	if err != nil {
		t.Fatalf("new redis leaderboard failed: %v", err)
	}
	return map[string]repository.LeaderboardStore{
		"memory": repository.NewMemoryLeaderboard(),
		"redis":  rb,
	}
}

func newService(t *testing.T, board repository.LeaderboardStore) *Service {
	t.Helper()
	contests := repository.NewStaticContestRepository(model.Contest{
		ID:        "c1",
		StartTime: contestStart,
		EndTime:   contestStart.Add(2 * time.Hour),
	})
	svc, err := NewService(contests, board, Config{}, retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	return svc
}

func submission(id, user, problem string, at time.Time) *judgemodel.Submission {
	return &judgemodel.Submission{ID: id, SubmitterID: user, ProblemID: problem, CreatedAt: at}
}

func TestWrongThenAcceptedScoresOnce(t *testing.T) {
	for name, board := range boards(t) {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, board)
			ctx := context.Background()
			first := submission("s1", "alice", "A", contestStart.Add(30*time.Second))
			second := submission("s2", "alice", "A", first.CreatedAt.Add(90*time.Second))

			if err := svc.OnGraded(ctx, first, "c1", judgemodel.VerdictWrongAnswer); err != nil {
				t.Fatalf("first update failed: %v", err)
			}
			if err := svc.OnGraded(ctx, second, "c1", judgemodel.VerdictAccepted); err != nil {
				t.Fatalf("second update failed: %v", err)
			}
			entry, err := board.Get(ctx, "c1", "alice")
			if err != nil {
				t.Fatalf("get entry failed: %v", err)
			}
			a := entry.Problems["A"]
			if a.Status != model.ProblemSolved || a.Attempts != 2 || a.TimeToSolve != 120 {
				t.Fatalf("unexpected standing: %+v", a)
			}
			if entry.Score != 1 || entry.Penalty != 120 {
				t.Fatalf("unexpected totals: score=%d penalty=%d", entry.Score, entry.Penalty)
			}

			later := submission("s3", "alice", "A", second.CreatedAt.Add(time.Minute))
			_ = svc.OnGraded(ctx, later, "c1", judgemodel.VerdictWrongAnswer)
			_ = svc.OnGraded(ctx, submission("s4", "alice", "A", later.CreatedAt), "c1", judgemodel.VerdictAccepted)
			after, _ := board.Get(ctx, "c1", "alice")
			if after.Score != 1 || after.Penalty != 120 || after.Problems["A"].Status != model.ProblemSolved {
				t.Fatalf("solved problem changed: %+v", after)
			}
		})
	}
}

func TestSubmissionsOutsideWindowAreIgnored(t *testing.T) {
	for name, board := range boards(t) {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, board)
			ctx := context.Background()
			early := submission("s1", "bob", "A", contestStart.Add(-time.Second))
			atEnd := submission("s2", "bob", "A", contestStart.Add(2*time.Hour))
			for _, sub := range []*judgemodel.Submission{early, atEnd} {
				if err := svc.OnGraded(ctx, sub, "c1", judgemodel.VerdictAccepted); err != nil {
					t.Fatalf("update failed: %v", err)
				}
			}
			if _, err := board.Get(ctx, "c1", "bob"); appErr.GetCode(err) != appErr.NotFound {
				t.Fatalf("expected no entry, got %v", err)
			}
			onStart := submission("s3", "bob", "A", contestStart)
			if err := svc.OnGraded(ctx, onStart, "c1", judgemodel.VerdictAccepted); err != nil {
				t.Fatalf("update failed: %v", err)
			}
			entry, err := board.Get(ctx, "c1", "bob")
			if err != nil || entry.Problems["A"].TimeToSolve != 0 || entry.Score != 1 {
				t.Fatalf("start instant should count: %+v err=%v", entry, err)
			}
		})
	}
}

func TestNoContestOrUnknownContestIsNoop(t *testing.T) {
	board := repository.NewMemoryLeaderboard()
	svc := newService(t, board)
	ctx := context.Background()
	sub := submission("s1", "carol", "A", contestStart.Add(time.Minute))
	if err := svc.OnGraded(ctx, sub, "", judgemodel.VerdictAccepted); err != nil {
		t.Fatalf("practice submission failed: %v", err)
	}
	if err := svc.OnGraded(ctx, sub, "missing", judgemodel.VerdictAccepted); err != nil {
		t.Fatalf("unknown contest failed: %v", err)
	}
	rows, _ := board.List(ctx, "missing")
	if len(rows) != 0 {
		t.Fatalf("unexpected rows for unknown contest")
	}
}

func TestReplayedSubmissionIsAppliedOnce(t *testing.T) {
	for name, board := range boards(t) {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, board)
			ctx := context.Background()
			sub := submission("s1", "dave", "B", contestStart.Add(time.Minute))
			for i := 0; i < 3; i++ {
				if err := svc.OnGraded(ctx, sub, "c1", judgemodel.VerdictRuntimeError); err != nil {
					t.Fatalf("update failed: %v", err)
				}
			}
			entry, _ := board.Get(ctx, "c1", "dave")
			if entry.Problems["B"].Attempts != 1 || entry.Problems["B"].Status != model.ProblemNotSolved {
				t.Fatalf("replay counted twice: %+v", entry.Problems["B"])
			}
		})
	}
}

func TestConcurrentUpdatesDoNotLoseAttempts(t *testing.T) {
	for name, board := range boards(t) {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, board)
			ctx := context.Background()
			const n = 30
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					problem := []string{"A", "B", "C"}[i%3]
					sub := submission(fmt.Sprintf("s%d", i), "erin", problem, contestStart.Add(time.Duration(i)*time.Second))
					if err := svc.OnGraded(ctx, sub, "c1", judgemodel.VerdictWrongAnswer); err != nil {
						t.Errorf("update failed: %v", err)
					}
				}(i)
			}
			wg.Wait()
			entry, err := board.Get(ctx, "c1", "erin")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			var total int64
			for _, p := range entry.Problems {
				total += p.Attempts
			}
			if total != n {
				t.Fatalf("expected %d attempts, got %d", n, total)
			}
		})
	}
}

func TestGetLeaderboardRanksByScoreThenPenalty(t *testing.T) {
	for name, board := range boards(t) {
		t.Run(name, func(t *testing.T) {
			svc := newService(t, board)
			ctx := context.Background()
			graded := []struct {
				id, user, problem string
				after             time.Duration
				verdict           judgemodel.Verdict
			}{
				{"1", "slow", "A", 50 * time.Minute, judgemodel.VerdictAccepted},
				{"2", "fast", "A", 5 * time.Minute, judgemodel.VerdictAccepted},
				{"3", "best", "A", 20 * time.Minute, judgemodel.VerdictAccepted},
				{"4", "best", "B", 30 * time.Minute, judgemodel.VerdictAccepted},
				{"5", "none", "A", time.Minute, judgemodel.VerdictWrongAnswer},
			}
			for _, g := range graded {
				if err := svc.OnGraded(ctx, submission(g.id, g.user, g.problem, contestStart.Add(g.after)), "c1", g.verdict); err != nil {
					t.Fatalf("update failed: %v", err)
				}
			}
			rows, err := svc.GetLeaderboard(ctx, "c1")
			if err != nil {
				t.Fatalf("get leaderboard failed: %v", err)
			}
			want := []string{"best", "fast", "slow", "none"}
			if len(rows) != len(want) {
				t.Fatalf("expected %d rows, got %d", len(want), len(rows))
			}
			for i, row := range rows {
				if row.ParticipantID != want[i] || row.Rank != i+1 {
					t.Fatalf("row %d = %s rank %d, want %s", i, row.ParticipantID, row.Rank, want[i])
				}
			}
			if _, err := svc.GetLeaderboard(ctx, "nope"); appErr.GetCode(err) != appErr.ContestNotFound {
				t.Fatalf("expected ContestNotFound, got %v", err)
			}
		})
	}
}

type flakyBoard struct {
	repository.LeaderboardStore
	failures int
}

func (f *flakyBoard) Merge(ctx context.Context, a model.Attempt) (model.LeaderboardEntry, bool, error) {
	if f.failures > 0 {
		f.failures--
		return model.LeaderboardEntry{}, false, errors.New("connection reset")
	}
	return f.LeaderboardStore.Merge(ctx, a)
}

func TestMergeIsRetriedOnTransientFailure(t *testing.T) {
	board := &flakyBoard{LeaderboardStore: repository.NewMemoryLeaderboard(), failures: 1}
	svc := newService(t, board)
	ctx := context.Background()
	if err := svc.OnGraded(ctx, submission("s1", "frank", "A", contestStart.Add(time.Minute)), "c1", judgemodel.VerdictAccepted); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	entry, err := board.Get(ctx, "c1", "frank")
	if err != nil || entry.Score != 1 {
		t.Fatalf("expected retried merge to apply: %+v err=%v", entry, err)
	}
}
