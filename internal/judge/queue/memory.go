package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
)

// MemoryStoreConfig configures retention of the in-process store.
type MemoryStoreConfig struct {
	// ResultTTL drops finished jobs this long after they finish; zero keeps them.
	// Status reads fall back to the archived report once a job is gone.
	ResultTTL time.Duration `yaml:"resultTTL"`
}

// MemoryStore is a process-local Store for single-node deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*model.Submission
	queue []string
	// finished holds terminal job ids in finish order.
	finished  []string
	resultTTL time.Duration
	ready     chan struct{}
	now       func() time.Time
}

// NewMemoryStore creates an empty store that keeps finished jobs.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates an empty store with the given retention.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*model.Submission),
		resultTTL: cfg.ResultTTL,
		ready:     make(chan struct{}),
		now:       time.Now,
	}
}

// Ready implements Notifier.
func (s *MemoryStore) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// notifyLocked wakes every waiter; callers hold mu.
func (s *MemoryStore) notifyLocked() {
	close(s.ready)
	s.ready = make(chan struct{})
}

func (s *MemoryStore) Enqueue(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	if _, ok := s.jobs[sub.ID]; ok {
		return appErr.Newf(appErr.SubmissionCreateFailed, "submission %s already exists", sub.ID)
	}
	job := sub.Clone()
	job.Status = model.StatusQueued
	job.Results = nil
	job.CurrentTest, job.TotalTests = 0, 0
	s.jobs[job.ID] = job
	s.queue = append(s.queue, job.ID)
	s.notifyLocked()
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, workerID string) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		job, ok := s.jobs[id]
		if !ok || job.Status != model.StatusQueued {
			continue
		}
		now := s.now()
		job.Status = model.StatusRunning
		job.WorkerID = workerID
		job.ClaimedAt = now
		job.HeartbeatAt = now
		job.Attempts++
		return job.Clone(), nil
	}
	return nil, nil
}

// ownedLocked returns the job if workerID holds its claim; callers hold mu.
func (s *MemoryStore) ownedLocked(id, workerID string) (*model.Submission, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	if job.Status != model.StatusRunning || job.WorkerID != workerID {
		return nil, staleClaim(id, workerID)
	}
	return job, nil
}

func (s *MemoryStore) Begin(ctx context.Context, id, workerID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(id, workerID)
	if err != nil {
		return err
	}
	job.TotalTests = total
	job.HeartbeatAt = s.now()
	return nil
}

func (s *MemoryStore) Progress(ctx context.Context, id, workerID string, res model.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(id, workerID)
	if err != nil {
		return err
	}
	if res.Ordinal != len(job.Results)+1 {
		return appErr.Newf(appErr.InvalidTransition, "submission %s expects test %d, got %d", id, len(job.Results)+1, res.Ordinal)
	}
	job.Results = append(job.Results, res)
	job.CurrentTest = res.Ordinal
	job.HeartbeatAt = s.now()
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(id, workerID)
	if err != nil {
		return err
	}
	job.HeartbeatAt = s.now()
	return nil
}

func (s *MemoryStore) Finish(ctx context.Context, id, workerID string, out model.Outcome) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(id, workerID)
	if err != nil {
		return nil, err
	}
	status := out.Status()
	if !model.CanTransition(job.Status, status) || !status.IsTerminal() {
		return nil, appErr.Newf(appErr.InvalidTransition, "submission %s cannot move from %s to %s", id, job.Status, status)
	}
	job.Status = status
	job.Verdict = out.Verdict
	job.Error = out.InfraError
	if len(out.Results) > 0 {
		job.Results = append([]model.TestResult(nil), out.Results...)
	}
	job.FinishedAt = s.now()
	if s.resultTTL > 0 {
		s.finished = append(s.finished, job.ID)
	}
	s.evictLocked()
	return job.Clone(), nil
}

func (s *MemoryStore) Release(ctx context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.ownedLocked(id, workerID)
	if err != nil {
		return err
	}
	s.requeueLocked(job)
	return nil
}

func (s *MemoryStore) Reclaim(ctx context.Context, staleBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, job := range s.jobs {
		if job.Status == model.StatusRunning && job.HeartbeatAt.Before(staleBefore) {
			ids = append(ids, job.ID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.requeueLocked(s.jobs[id])
	}
	return ids, nil
}

// requeueLocked is the only backwards move: Running -> Queued at the head of the queue.
func (s *MemoryStore) requeueLocked(job *model.Submission) {
	job.Status = model.StatusQueued
	job.WorkerID = ""
	job.Results = nil
	job.CurrentTest, job.TotalTests = 0, 0
	job.ClaimedAt, job.HeartbeatAt = time.Time{}, time.Time{}
	s.queue = append([]string{job.ID}, s.queue...)
	s.notifyLocked()
}

// evictLocked drops finished jobs older than resultTTL; callers hold mu.
func (s *MemoryStore) evictLocked() {
	if s.resultTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.resultTTL)
	n := 0
	for _, id := range s.finished {
		job, ok := s.jobs[id]
		if ok && job.FinishedAt.After(cutoff) {
			break
		}
		delete(s.jobs, id)
		n++
	}
	s.finished = s.finished[n:]
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	job, ok := s.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) ([]model.JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.JobSummary, 0, len(s.queue))
	for i, id := range s.queue {
		if job, ok := s.jobs[id]; ok {
			out = append(out, job.Summary(i+1))
		}
	}
	var running []*model.Submission
	for _, job := range s.jobs {
		if job.Status == model.StatusRunning {
			running = append(running, job)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].ClaimedAt.Before(running[j].ClaimedAt) })
	for _, job := range running {
		out = append(out, job.Summary(0))
	}
	return out, nil
}

func (s *MemoryStore) Depth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}
