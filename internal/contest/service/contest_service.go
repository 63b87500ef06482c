// Package service applies graded submissions to contest leaderboards.
package service

import (
	"context"
	"errors"
	"fmt"

	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/repository"
	judgemodel "arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/retry"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultScoreIncrement = 1

// Config controls scoring.
type Config struct {
	ScoreIncrement int64 `yaml:"scoreIncrement"`
}

// Service owns leaderboard updates and reads.
type Service struct {
	contests repository.ContestRepository
	board    repository.LeaderboardStore
	cfg      Config
	retry    retry.Policy
}

// NewService creates a contest service.
func NewService(contests repository.ContestRepository, board repository.LeaderboardStore, cfg Config, policy retry.Policy) (*Service, error) {
	if contests == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if board == nil {
		return nil, fmt.Errorf("leaderboard store is required")
	}
	if cfg.ScoreIncrement <= 0 {
		cfg.ScoreIncrement = defaultScoreIncrement
	}
	return &Service{contests: contests, board: board, cfg: cfg, retry: policy}, nil
}

// OnGraded applies a terminal user verdict to the leaderboard of contestID.
// Submissions outside the contest window, and problems without a contest, are ignored.
func (s *Service) OnGraded(ctx context.Context, sub *judgemodel.Submission, contestID string, verdict judgemodel.Verdict) error {
	if contestID == "" || sub == nil {
		return nil
	}
	if !verdict.Valid() {
		return appErr.Newf(appErr.InvalidParams, "verdict %q does not score", verdict)
	}

	contest, err := retry.Value(ctx, s.retry, "get contest", func(ctx context.Context) (*model.Contest, error) {
		c, err := s.contests.GetContest(ctx, contestID)
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, retry.Permanent(err)
		}
		return c, err
	})
	if errors.Is(err, repository.ErrContestNotFound) {
		logger.Warn(ctx, "problem references unknown contest", zap.String("contest_id", contestID))
		return nil
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load contest %s failed", contestID)
	}
	if !contest.InWindow(sub.CreatedAt) {
		logger.Debug(ctx, "submission outside contest window", zap.String("contest_id", contestID))
		return nil
	}

	attempt := model.Attempt{
		SubmissionID:   sub.ID,
		ContestID:      contestID,
		ParticipantID:  sub.SubmitterID,
		ProblemID:      sub.ProblemID,
		Accepted:       verdict == judgemodel.VerdictAccepted,
		Elapsed:        contest.Elapsed(sub.CreatedAt),
		ScoreIncrement: s.cfg.ScoreIncrement,
	}
	var (
		entry   model.LeaderboardEntry
		applied bool
	)
	err = retry.Do(ctx, s.retry, "merge leaderboard", func(ctx context.Context) error {
		var mergeErr error
		entry, applied, mergeErr = s.board.Merge(ctx, attempt)
		return mergeErr
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "leaderboard updated",
		zap.String("contest_id", contestID),
		zap.String("participant_id", sub.SubmitterID),
		zap.String("problem_id", sub.ProblemID),
		zap.Bool("applied", applied),
		zap.Int64("score", entry.Score),
		zap.Int64("penalty", entry.Penalty),
	)
	return nil
}

// GetLeaderboard returns the ranked rows of a contest.
func (s *Service) GetLeaderboard(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	if contestID == "" {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	if _, err := s.contests.GetContest(ctx, contestID); err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, appErr.Newf(appErr.ContestNotFound, "contest %s not found", contestID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load contest failed")
	}
	rows, err := s.board.List(ctx, contestID)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.RankingNotAvailable)
	}
	return rows, nil
}
