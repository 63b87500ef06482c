package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory struct {
	name string
	new  func(t *testing.T, clk *clock) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "memory", new: func(t *testing.T, clk *clock) Store {
			s := NewMemoryStore()
			s.now = clk.Now
			return s
		}},
		{name: "redis", new: func(t *testing.T, clk *clock) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			c, err := cache.NewRedisCacheWithClient(client)
			if err != nil {
				t.Fatalf("new cache failed: %v", err)
			}
			t.Cleanup(func() { _ = c.Close() })
			s, err := NewRedisStore(c, RedisStoreConfig{KeyPrefix: "test:"})
			if err != nil {
				t.Fatalf("new redis store failed: %v", err)
			}
			s.now = clk.Now
			return s
		}},
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store, clk *clock)) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			clk := &clock{now: time.Unix(1700000000, 0)}
			fn(t, f.new(t, clk), clk)
		})
	}
}

func newSub(id string) *model.Submission {
	return &model.Submission{
		ID:          id,
		ProblemID:   "sum",
		SubmitterID: "alice",
		Language:    "py",
		SourceCode:  "print(1)",
		CreatedAt:   time.Unix(1700000000, 0),
	}
}

func passed(n int) model.TestResult {
	return model.TestResult{Ordinal: n, Verdict: model.VerdictPassed, Message: "Test case passed"}
}

func TestClaimIsFIFOAndEmptyReturnsNil(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		for _, id := range []string{"a", "b"} {
			if err := s.Enqueue(ctx, newSub(id)); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
		}
		first, err := s.Claim(ctx, "w1")
		if err != nil || first == nil || first.ID != "a" {
			t.Fatalf("expected a, got %+v err=%v", first, err)
		}
		if first.Status != model.StatusRunning || first.WorkerID != "w1" || first.Attempts != 1 {
			t.Fatalf("unexpected claimed job: %+v", first)
		}
		if first.SourceCode != "print(1)" || !first.CreatedAt.Equal(time.Unix(1700000000, 0)) {
			t.Fatalf("job fields not preserved: %+v", first)
		}
		second, _ := s.Claim(ctx, "w2")
		if second == nil || second.ID != "b" {
			t.Fatalf("expected b, got %+v", second)
		}
		empty, err := s.Claim(ctx, "w3")
		if err != nil || empty != nil {
			t.Fatalf("expected empty claim, got %+v err=%v", empty, err)
		}
	})
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		if err := s.Enqueue(ctx, newSub("a")); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if err := s.Enqueue(ctx, newSub("a")); appErr.GetCode(err) != appErr.SubmissionCreateFailed {
			t.Fatalf("expected duplicate rejection, got %v", err)
		}
	})
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		const jobs = 40
		for i := 0; i < jobs; i++ {
			if err := s.Enqueue(ctx, newSub(fmt.Sprintf("job-%02d", i))); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
		}
		var (
			mu     sync.Mutex
			owners = make(map[string]string)
			wg     sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			worker := fmt.Sprintf("w%d", w)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := s.Claim(ctx, worker)
					if err != nil {
						t.Errorf("claim failed: %v", err)
						return
					}
					if job == nil {
						return
					}
					mu.Lock()
					if prev, dup := owners[job.ID]; dup {
						t.Errorf("job %s claimed by %s and %s", job.ID, prev, worker)
					}
					owners[job.ID] = worker
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if len(owners) != jobs {
			t.Fatalf("expected %d claims, got %d", jobs, len(owners))
		}
	})
}

func TestProgressIsOwnedAndOrdered(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		_ = s.Enqueue(ctx, newSub("a"))
		job, _ := s.Claim(ctx, "w1")
		if err := s.Begin(ctx, job.ID, "w1", 3); err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if err := s.Progress(ctx, job.ID, "w2", passed(1)); !appErr.Is(err, appErr.StaleClaim) {
			t.Fatalf("expected stale claim for foreign worker, got %v", err)
		}
		if err := s.Progress(ctx, job.ID, "w1", passed(2)); !appErr.Is(err, appErr.InvalidTransition) {
			t.Fatalf("expected out of order rejection, got %v", err)
		}
		for n := 1; n <= 2; n++ {
			if err := s.Progress(ctx, job.ID, "w1", passed(n)); err != nil {
				t.Fatalf("progress %d failed: %v", n, err)
			}
		}
		got, err := s.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.CurrentTest != 2 || got.TotalTests != 3 || len(got.Results) != 2 {
			t.Fatalf("unexpected progress: %+v", got)
		}
		if got.Progress() != "Running(test 2)" {
			t.Fatalf("unexpected progress label %q", got.Progress())
		}
		if err := s.Progress(ctx, "missing", "w1", passed(1)); appErr.GetCode(err) != appErr.SubmissionNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestFinishedJobsAreImmutable(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		_ = s.Enqueue(ctx, newSub("a"))
		job, _ := s.Claim(ctx, "w1")
		_ = s.Begin(ctx, job.ID, "w1", 1)
		_ = s.Progress(ctx, job.ID, "w1", passed(1))

		final, err := s.Finish(ctx, job.ID, "w1", model.Outcome{Verdict: model.VerdictAccepted, Results: []model.TestResult{passed(1)}})
		if err != nil {
			t.Fatalf("finish failed: %v", err)
		}
		if final.Status != model.StatusAccepted || final.FinishedAt.IsZero() || len(final.Results) != 1 {
			t.Fatalf("unexpected final record: %+v", final)
		}

		if _, err := s.Finish(ctx, job.ID, "w1", model.Outcome{InfraError: "boom"}); !appErr.Is(err, appErr.StaleClaim) {
			t.Fatalf("terminal job re-finished: %v", err)
		}
		if err := s.Release(ctx, job.ID, "w1"); !appErr.Is(err, appErr.StaleClaim) {
			t.Fatalf("terminal job released: %v", err)
		}
		clk.Advance(time.Hour)
		ids, err := s.Reclaim(ctx, clk.Now())
		if err != nil || len(ids) != 0 {
			t.Fatalf("terminal job reclaimed: %v err=%v", ids, err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Status != model.StatusAccepted {
			t.Fatalf("terminal status changed to %s", got.Status)
		}
	})
}

func TestInfraOutcomeKeepsRecordedResults(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		_ = s.Enqueue(ctx, newSub("a"))
		job, _ := s.Claim(ctx, "w1")
		_ = s.Progress(ctx, job.ID, "w1", passed(1))
		final, err := s.Finish(ctx, job.ID, "w1", model.Outcome{InfraError: "sandbox unavailable"})
		if err != nil {
			t.Fatalf("finish failed: %v", err)
		}
		if final.Status != model.StatusInfraError || final.Error != "sandbox unavailable" || len(final.Results) != 1 {
			t.Fatalf("unexpected infra record: %+v", final)
		}
	})
}

func TestReleasePutsJobBackAtHead(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		_ = s.Enqueue(ctx, newSub("a"))
		_ = s.Enqueue(ctx, newSub("b"))
		job, _ := s.Claim(ctx, "w1")
		_ = s.Progress(ctx, job.ID, "w1", passed(1))
		if err := s.Release(ctx, job.ID, "w1"); err != nil {
			t.Fatalf("release failed: %v", err)
		}
		again, _ := s.Claim(ctx, "w2")
		if again == nil || again.ID != "a" || len(again.Results) != 0 || again.Attempts != 2 {
			t.Fatalf("expected a to be reclaimed fresh, got %+v", again)
		}
	})
}

func TestReclaimRequeuesStaleJobs(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		_ = s.Enqueue(ctx, newSub("stale"))
		_ = s.Enqueue(ctx, newSub("fresh"))
		stale, _ := s.Claim(ctx, "dead-worker")
		clk.Advance(time.Minute)
		fresh, _ := s.Claim(ctx, "live-worker")

		ids, err := s.Reclaim(ctx, clk.Now().Add(-30*time.Second))
		if err != nil {
			t.Fatalf("reclaim failed: %v", err)
		}
		if len(ids) != 1 || ids[0] != stale.ID {
			t.Fatalf("expected only %s reclaimed, got %v", stale.ID, ids)
		}
		if err := s.Heartbeat(ctx, stale.ID, "dead-worker"); !appErr.Is(err, appErr.StaleClaim) {
			t.Fatalf("reclaimed job still owned by dead worker: %v", err)
		}
		if err := s.Heartbeat(ctx, fresh.ID, "live-worker"); err != nil {
			t.Fatalf("live worker lost its job: %v", err)
		}
		got, _ := s.Get(ctx, stale.ID)
		if got.Status != model.StatusQueued || got.WorkerID != "" {
			t.Fatalf("unexpected reclaimed job: %+v", got)
		}
	})
}

func TestSnapshotListsQueuedThenRunning(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_ = s.Enqueue(ctx, newSub(id))
		}
		_, _ = s.Claim(ctx, "w1")
		rows, err := s.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot failed: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(rows))
		}
		if rows[0].SubmissionID != "b" || rows[0].Position != 1 || rows[1].SubmissionID != "c" || rows[1].Position != 2 {
			t.Fatalf("unexpected queued rows: %+v", rows[:2])
		}
		if rows[2].SubmissionID != "a" || rows[2].Status != model.StatusRunning || rows[2].WorkerID != "w1" {
			t.Fatalf("unexpected running row: %+v", rows[2])
		}
		depth, err := s.Depth(ctx)
		if err != nil || depth != 2 {
			t.Fatalf("expected depth 2, got %d err=%v", depth, err)
		}
	})
}

func TestMemoryStoreNotifiesOnEnqueue(t *testing.T) {
	s := NewMemoryStore()
	ready := s.Ready()
	select {
	case <-ready:
		t.Fatalf("ready before enqueue")
	default:
	}
	_ = s.Enqueue(context.Background(), newSub("a"))
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatalf("enqueue did not notify")
	}
}

func TestMemoryStoreDropsFinishedJobsAfterRetention(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1700000000, 0)}
	s := NewMemoryStoreWithConfig(MemoryStoreConfig{ResultTTL: time.Minute})
	s.now = clk.Now

	for _, id := range []string{"a", "b"} {
		_ = s.Enqueue(ctx, newSub(id))
		job, _ := s.Claim(ctx, "w1")
		if _, err := s.Finish(ctx, job.ID, "w1", model.Outcome{Verdict: model.VerdictAccepted}); err != nil {
			t.Fatalf("finish %s failed: %v", id, err)
		}
		clk.Advance(40 * time.Second)
	}
	_ = s.Enqueue(ctx, newSub("c"))

	if _, err := s.Get(ctx, "a"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected a to be dropped, got %v", err)
	}
	if got, err := s.Get(ctx, "b"); err != nil || got.Status != model.StatusAccepted {
		t.Fatalf("b is still within retention: %+v err=%v", got, err)
	}
	if got, err := s.Get(ctx, "c"); err != nil || got.Status != model.StatusQueued {
		t.Fatalf("queued jobs are never dropped: %+v err=%v", got, err)
	}
	clk.Advance(time.Hour)
	if got, err := s.Get(ctx, "c"); err != nil || got.Status != model.StatusQueued {
		t.Fatalf("queued jobs are never dropped: %+v err=%v", got, err)
	}
	if _, err := s.Get(ctx, "b"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected b to be dropped, got %v", err)
	}
}

