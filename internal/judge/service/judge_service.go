// Package service accepts submissions and drives them through grading on a pool of workers.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"arenaoj/internal/common/storage"
	"arenaoj/internal/judge/grading"
	"arenaoj/internal/judge/metrics"
	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/queue"
	"arenaoj/internal/judge/repository"
	"arenaoj/internal/judge/sandbox/profile"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/retry"
	"arenaoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxSourceBytes    = 64 << 10
	defaultPollInterval      = 100 * time.Millisecond
	defaultMaxPollInterval   = 800 * time.Millisecond
	defaultStaleAfter        = time.Minute
	defaultReclaimInterval   = 15 * time.Second
	defaultSideEffectTimeout = 10 * time.Second
)

// Grader grades one claimed submission.
type Grader interface {
	Grade(ctx context.Context, sub *model.Submission, meta model.ProblemMeta, rep grading.Reporter) (model.Outcome, error)
}

// ContestUpdater applies terminal verdicts to contest leaderboards.
type ContestUpdater interface {
	OnGraded(ctx context.Context, sub *model.Submission, contestID string, verdict model.Verdict) error
}

// Artifacts stores submitted code and archived reports.
type Artifacts interface {
	PutSource(ctx context.Context, sub *model.Submission, sourceFile string) (string, error)
	PutReport(ctx context.Context, sub *model.Submission) (string, error)
	GetReport(ctx context.Context, submissionID string) (*model.Submission, error)
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	// PoolSize defaults to the number of CPUs.
	PoolSize int `yaml:"poolSize"`
	// Timeout bounds one grading run; zero disables it.
	Timeout           time.Duration `yaml:"timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	InstanceID        string        `yaml:"instanceId"`
}

// QueueConfig controls polling and stale-claim recovery.
type QueueConfig struct {
	PollInterval    time.Duration `yaml:"pollInterval"`
	MaxPollInterval time.Duration `yaml:"maxPollInterval"`
	StaleAfter      time.Duration `yaml:"staleAfter"`
	ReclaimInterval time.Duration `yaml:"reclaimInterval"`
}

// Config holds service dependencies and settings.
type Config struct {
	Store     queue.Store
	Grader    Grader
	Languages *profile.Registry
	Problems  repository.ProblemRepository

	// Optional collaborators.
	Submissions repository.SubmissionRepository
	Artifacts   Artifacts
	Publisher   repository.StatusEventPublisher
	Contests    ContestUpdater
	Metrics     *metrics.Metrics

	MaxSourceBytes    int64
	SideEffectTimeout time.Duration
	Worker            WorkerConfig
	Queue             QueueConfig
	Retry             retry.Policy
}

// Service is the judging pipeline entry point.
type Service struct {
	store       queue.Store
	grader      Grader
	langs       *profile.Registry
	problems    repository.ProblemRepository
	submissions repository.SubmissionRepository
	artifacts   Artifacts
	publisher   repository.StatusEventPublisher
	contests    ContestUpdater
	metrics     *metrics.Metrics

	maxSourceBytes    int64
	sideEffectTimeout time.Duration
	worker            WorkerConfig
	queue             QueueConfig
	retry             retry.Policy
	now               func() time.Time
}

// NewService creates a judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if cfg.Grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = defaultSideEffectTimeout
	}
	cfg.Queue = applyQueueDefaults(cfg.Queue)
	cfg.Worker = applyWorkerDefaults(cfg.Worker, cfg.Queue)
	return &Service{
		store:             cfg.Store,
		grader:            cfg.Grader,
		langs:             cfg.Languages,
		problems:          cfg.Problems,
		submissions:       cfg.Submissions,
		artifacts:         cfg.Artifacts,
		publisher:         cfg.Publisher,
		contests:          cfg.Contests,
		metrics:           cfg.Metrics,
		maxSourceBytes:    cfg.MaxSourceBytes,
		sideEffectTimeout: cfg.SideEffectTimeout,
		worker:            cfg.Worker,
		queue:             cfg.Queue,
		retry:             cfg.Retry,
		now:               time.Now,
	}, nil
}

func applyQueueDefaults(cfg QueueConfig) QueueConfig {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = defaultMaxPollInterval
		if cfg.MaxPollInterval < cfg.PollInterval {
			cfg.MaxPollInterval = cfg.PollInterval
		}
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = defaultReclaimInterval
	}
	return cfg
}

func applyWorkerDefaults(cfg WorkerConfig, q QueueConfig) WorkerConfig {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize()
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= q.StaleAfter {
		cfg.HeartbeatInterval = q.StaleAfter / 3
	}
	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "judge"
		}
		cfg.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	return cfg
}

// SubmitRequest is one new submission.
type SubmitRequest struct {
	ProblemID   string `json:"problem_id"`
	SubmitterID string `json:"submitter_id"`
	Language    string `json:"language"`
	SourceCode  string `json:"source_code"`
}

// Submit validates and enqueues a submission and returns its id. It never waits on grading.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.ProblemID) == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(req.SubmitterID) == "" {
		return "", appErr.ValidationError("submitter_id", "required")
	}
	if req.SourceCode == "" {
		return "", appErr.ValidationError("source_code", "required")
	}
	lang, err := s.langs.Get(req.Language)
	if err != nil {
		return "", err
	}
	if int64(len(req.SourceCode)) > s.maxSourceBytes {
		return "", appErr.Newf(appErr.CodeTooLarge, "source code is %d bytes, limit is %d", len(req.SourceCode), s.maxSourceBytes).
			WithDetail("limit_bytes", s.maxSourceBytes)
	}
	if _, err := s.problems.GetProblemMeta(ctx, req.ProblemID); err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return "", appErr.Newf(appErr.ProblemNotFound, "problem %s not found", req.ProblemID)
		}
		return "", appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}

	sub := &model.Submission{
		ID:          uuid.NewString(),
		ProblemID:   req.ProblemID,
		SubmitterID: req.SubmitterID,
		Language:    lang.ID,
		SourceCode:  req.SourceCode,
		CreatedAt:   s.now(),
		Status:      model.StatusQueued,
	}
	ctx = logger.WithSubmission(ctx, sub.ID)

	sourceKey := ""
	if s.artifacts != nil {
		sourceKey, err = retry.Value(ctx, s.retry, "put source", func(ctx context.Context) (string, error) {
			return s.artifacts.PutSource(ctx, sub, lang.SourceFile)
		})
		if err != nil {
			return "", appErr.Wrapf(err, appErr.ObjectStorageError, "store source code failed")
		}
	}
	if s.submissions != nil {
		err = retry.Do(ctx, s.retry, "create submission", func(ctx context.Context) error {
			return s.submissions.Create(ctx, sub, sourceKey)
		})
		if err != nil {
			return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "record submission failed")
		}
	}
	if err := s.store.Enqueue(ctx, sub); err != nil {
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "enqueue submission failed")
	}
	logger.Info(ctx, "submission queued",
		zap.String("problem_id", sub.ProblemID),
		zap.String("language", sub.Language),
		zap.Int("code_bytes", len(sub.SourceCode)),
	)
	return sub.ID, nil
}

// GetStatus returns the current record with accumulated per-test results.
// Records expired from the live store are served from the archived report.
func (s *Service) GetStatus(ctx context.Context, id string) (*model.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	sub, err := s.store.Get(ctx, id)
	if err == nil {
		sub.SourceCode = ""
		return sub, nil
	}
	if !appErr.Is(err, appErr.SubmissionNotFound) || s.artifacts == nil {
		return nil, err
	}
	archived, archErr := s.artifacts.GetReport(ctx, id)
	if archErr != nil {
		if errors.Is(archErr, storage.ErrNotFound) {
			return nil, err
		}
		return nil, appErr.Wrapf(archErr, appErr.ObjectStorageError, "read archived report failed")
	}
	archived.SourceCode = ""
	return archived, nil
}

// GetQueueSnapshot lists queued jobs in claim order followed by running jobs.
func (s *Service) GetQueueSnapshot(ctx context.Context) ([]model.JobSummary, error) {
	return s.store.Snapshot(ctx)
}

// Languages lists the accepted language ids.
func (s *Service) Languages() []string {
	return s.langs.IDs()
}
