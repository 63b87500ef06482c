package service

import (
	"context"
	"time"

	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// runSupervisor periodically requeues jobs whose worker stopped heartbeating
// and samples the queue depth.
func (s *Service) runSupervisor(ctx context.Context) error {
	ticker := time.NewTicker(s.queue.ReclaimInterval)
	defer ticker.Stop()
	for {
		s.reclaimStale(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) reclaimStale(ctx context.Context) {
	ids, err := s.store.Reclaim(ctx, s.now().Add(-s.queue.StaleAfter))
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn(ctx, "reclaim stale claims failed", zap.Error(err))
		}
		return
	}
	if len(ids) > 0 {
		logger.Warn(ctx, "requeued stale claims", zap.Strings("submission_ids", ids))
	}
	if depth, err := s.store.Depth(ctx); err == nil {
		s.metrics.SetQueueDepth(depth)
	}
}
