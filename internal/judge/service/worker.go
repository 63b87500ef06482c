package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/queue"
	"arenaoj/internal/judge/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/retry"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func defaultPoolSize() int {
	return runtime.NumCPU()
}

// Run starts the worker pool and the stale-claim supervisor and blocks until ctx
// ends or a worker hits an unrecoverable host fault.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.worker.PoolSize; i++ {
		workerID := fmt.Sprintf("%s-%d", s.worker.InstanceID, i)
		g.Go(func() error {
			return s.runWorker(ctx, workerID)
		})
	}
	g.Go(func() error {
		return s.runSupervisor(ctx)
	})
	logger.Info(ctx, "judge workers started",
		zap.Int("pool_size", s.worker.PoolSize),
		zap.String("instance_id", s.worker.InstanceID),
	)
	return g.Wait()
}

func (s *Service) runWorker(ctx context.Context, workerID string) error {
	ctx = logger.WithWorker(ctx, workerID)
	idle := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		ready := s.ready()
		sub, err := s.store.Claim(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn(ctx, "claim failed", zap.Error(err))
		}
		if sub == nil {
			s.idleWait(ctx, ready, idle)
			idle++
			continue
		}
		idle = 0
		if err := s.process(ctx, workerID, sub); err != nil {
			logger.Error(ctx, "worker stopped", zap.Error(err))
			return err
		}
	}
}

func (s *Service) ready() <-chan struct{} {
	if n, ok := s.store.(queue.Notifier); ok {
		return n.Ready()
	}
	return nil
}

// idleWait sleeps for a poll interval that widens while the queue stays empty.
func (s *Service) idleWait(ctx context.Context, ready <-chan struct{}, idle int) {
	timer := time.NewTimer(retry.Delay(idle, s.queue.PollInterval, s.queue.MaxPollInterval))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-ready:
	case <-timer.C:
	}
}

// process grades one claimed job to a terminal status. It returns an error only
// when the worker must stop; the claim is then left for the supervisor.
func (s *Service) process(ctx context.Context, workerID string, sub *model.Submission) error {
	ctx = logger.WithSubmission(ctx, sub.ID)
	claimedAt := s.now()
	logger.Info(ctx, "submission claimed",
		zap.String("problem_id", sub.ProblemID),
		zap.String("language", sub.Language),
		zap.Int("attempt", sub.Attempts),
	)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(hbCtx, sub.ID, workerID)
	}()

	meta, out, err := s.grade(ctx, workerID, sub)
	stopHeartbeat()
	<-hbDone

	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.release(ctx, sub.ID, workerID)
			return nil
		case appErr.Is(err, appErr.HostUnhealthy):
			return err
		case appErr.Is(err, appErr.StaleClaim):
			logger.Warn(ctx, "claim lost during grading", zap.Error(err))
			return nil
		default:
			out = model.Outcome{InfraError: err.Error()}
		}
	}
	if out.InfraError != "" {
		logger.Error(ctx, "grading failed", zap.String("diagnostic", out.InfraError))
	}

	final, err := s.finish(ctx, sub.ID, workerID, out)
	if err != nil {
		if ctx.Err() != nil {
			s.release(ctx, sub.ID, workerID)
			return nil
		}
		logger.Error(ctx, "finish submission failed", zap.Error(err))
		return nil
	}
	elapsed := s.now().Sub(claimedAt)
	logger.Info(ctx, "submission graded",
		zap.String("status", string(final.Status)),
		zap.Int("tests", len(final.Results)),
		zap.Duration("elapsed", elapsed),
	)
	s.metrics.ObserveFinal(final, elapsed)
	s.afterFinish(ctx, final, meta.ContestID)
	return nil
}

// grade looks up the problem and runs the grader. Errors are reserved for
// conditions that must not be recorded as an InfraError outcome.
func (s *Service) grade(ctx context.Context, workerID string, sub *model.Submission) (model.ProblemMeta, model.Outcome, error) {
	meta, err := retry.Value(ctx, s.retry, "get problem meta", func(ctx context.Context) (model.ProblemMeta, error) {
		meta, err := s.problems.GetProblemMeta(ctx, sub.ProblemID)
		if errors.Is(err, repository.ErrProblemNotFound) {
			return meta, retry.Permanent(err)
		}
		return meta, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return meta, model.Outcome{}, ctx.Err()
		}
		return meta, model.Outcome{InfraError: fmt.Sprintf("problem %s: %v", sub.ProblemID, err)}, nil
	}

	gradeCtx := ctx
	if s.worker.Timeout > 0 {
		var cancel context.CancelFunc
		gradeCtx, cancel = context.WithTimeout(ctx, s.worker.Timeout)
		defer cancel()
	}
	out, err := s.grader.Grade(gradeCtx, sub, meta, &storeReporter{s: s, id: sub.ID, workerID: workerID})
	if err != nil && ctx.Err() == nil && errors.Is(gradeCtx.Err(), context.DeadlineExceeded) {
		return meta, model.Outcome{InfraError: fmt.Sprintf("grading exceeded %s", s.worker.Timeout)}, nil
	}
	return meta, out, err
}

// finish stores the outcome. A retried write that already landed is detected
// by reading the record back.
func (s *Service) finish(ctx context.Context, id, workerID string, out model.Outcome) (*model.Submission, error) {
	attempt := 0
	return retry.Value(ctx, s.retry, "finish submission", func(ctx context.Context) (*model.Submission, error) {
		attempt++
		final, err := s.store.Finish(ctx, id, workerID, out)
		if err == nil {
			return final, nil
		}
		if !appErr.Is(err, appErr.StaleClaim) && !appErr.Is(err, appErr.InvalidTransition) {
			return nil, err
		}
		if attempt > 1 {
			if cur, getErr := s.store.Get(ctx, id); getErr == nil && cur.Status == out.Status() && cur.WorkerID == workerID {
				return cur, nil
			}
		}
		return nil, retry.Permanent(err)
	})
}

func (s *Service) heartbeat(ctx context.Context, id, workerID string) {
	ticker := time.NewTicker(s.worker.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.Heartbeat(ctx, id, workerID); err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "heartbeat failed", zap.Error(err))
			}
		}
	}
}

// release hands an unfinished job back to the queue during shutdown.
func (s *Service) release(ctx context.Context, id, workerID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()
	if err := s.store.Release(rctx, id, workerID); err != nil {
		logger.Warn(rctx, "release claim failed", zap.Error(err))
		return
	}
	logger.Info(rctx, "claim released for shutdown")
}

// afterFinish runs the best-effort side effects of a terminal record.
// Failures are logged; the live record is already authoritative.
func (s *Service) afterFinish(ctx context.Context, final *model.Submission, contestID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	if s.submissions != nil {
		if err := retry.Do(ctx, s.retry, "append result", func(ctx context.Context) error {
			return s.submissions.AppendResult(ctx, final)
		}); err != nil {
			logger.Error(ctx, "append submission result failed", zap.Error(err))
		}
	}
	if s.artifacts != nil {
		if err := retry.Do(ctx, s.retry, "archive report", func(ctx context.Context) error {
			_, err := s.artifacts.PutReport(ctx, final)
			return err
		}); err != nil {
			logger.Warn(ctx, "archive report failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinalStatus(ctx, final, contestID); err != nil {
			logger.Warn(ctx, "publish final status failed", zap.Error(err))
		}
	}
	if s.contests != nil && contestID != "" && final.Status != model.StatusInfraError {
		if err := s.contests.OnGraded(ctx, final, contestID, final.Verdict); err != nil {
			logger.Error(ctx, "leaderboard update failed", zap.String("contest_id", contestID), zap.Error(err))
		}
	}
}

// storeReporter mirrors grading progress into the live record.
type storeReporter struct {
	s        *Service
	id       string
	workerID string
}

func (r *storeReporter) Begin(ctx context.Context, total int) error {
	return retry.Do(ctx, r.s.retry, "begin grading", func(ctx context.Context) error {
		return permanentIfOwnership(r.s.store.Begin(ctx, r.id, r.workerID, total))
	})
}

func (r *storeReporter) Record(ctx context.Context, res model.TestResult) error {
	attempt := 0
	return retry.Do(ctx, r.s.retry, "record progress", func(ctx context.Context) error {
		attempt++
		err := r.s.store.Progress(ctx, r.id, r.workerID, res)
		if err != nil && attempt > 1 && appErr.Is(err, appErr.InvalidTransition) {
			if cur, getErr := r.s.store.Get(ctx, r.id); getErr == nil && len(cur.Results) >= res.Ordinal {
				return nil
			}
		}
		return permanentIfOwnership(err)
	})
}

func permanentIfOwnership(err error) error {
	if err == nil {
		return nil
	}
	if appErr.Is(err, appErr.StaleClaim) || appErr.Is(err, appErr.InvalidTransition) || appErr.Is(err, appErr.SubmissionNotFound) {
		return retry.Permanent(err)
	}
	return err
}
