// Package testcase loads a problem's test cases and validator from the content store.
package testcase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"arenaoj/internal/common/storage"
	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/sandbox/profile"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultParallelism  = 4
	defaultMaxCaseBytes = 50 << 20
)

// Config controls test data loading.
type Config struct {
	Bucket       string `yaml:"bucket"`
	Parallelism  int    `yaml:"parallelism"`
	MaxCaseBytes int64  `yaml:"maxCaseBytes"`
}

// Loader is what the grading engine depends on.
type Loader interface {
	Load(ctx context.Context, meta model.ProblemMeta) ([]model.TestCase, *model.Validator, error)
}

// Source reads problems/<id>/testcases/<n>.in|.out and problems/<id>/validator.<ext>.
type Source struct {
	store storage.ObjectStorage
	langs *profile.Registry
	cfg   Config
}

// NewSource creates a test case source.
func NewSource(store storage.ObjectStorage, langs *profile.Registry, cfg Config) (*Source, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if langs == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.MaxCaseBytes <= 0 {
		cfg.MaxCaseBytes = defaultMaxCaseBytes
	}
	return &Source{store: store, langs: langs, cfg: cfg}, nil
}

// InputKey returns the object key of test n's input.
func InputKey(problemID string, n int) string {
	return path.Join("problems", problemID, "testcases", fmt.Sprintf("%d.in", n))
}

// OutputKey returns the object key of test n's expected output.
func OutputKey(problemID string, n int) string {
	return path.Join("problems", problemID, "testcases", fmt.Sprintf("%d.out", n))
}

// ValidatorKey returns the object key of the validator source for the given file extension.
func ValidatorKey(problemID, ext string) string {
	return path.Join("problems", problemID, "validator"+ext)
}

// Load fetches meta.TestCount cases in ordinal order. Either every case loads or
// none is returned. A zero count yields an empty slice; the caller decides what that means.
func (s *Source) Load(ctx context.Context, meta model.ProblemMeta) ([]model.TestCase, *model.Validator, error) {
	if meta.ProblemID == "" {
		return nil, nil, appErr.ValidationError("problem_id", "required")
	}
	if meta.TestCount < 0 {
		return nil, nil, appErr.Newf(appErr.TestCaseInvalid, "negative test count %d", meta.TestCount)
	}

	cases := make([]model.TestCase, meta.TestCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i := range cases {
		n := i + 1
		g.Go(func() error {
			input, err := s.fetch(gctx, InputKey(meta.ProblemID, n))
			if err != nil {
				return fmt.Errorf("test %d input: %w", n, err)
			}
			expected, err := s.fetch(gctx, OutputKey(meta.ProblemID, n))
			if err != nil {
				return fmt.Errorf("test %d output: %w", n, err)
			}
			cases[i] = model.TestCase{Ordinal: n, Input: input, ExpectedOutput: expected}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn(ctx, "load test cases failed", zap.String("problem_id", meta.ProblemID), zap.Error(err))
		return nil, nil, classify(err)
	}

	validator, err := s.loadValidator(ctx, meta)
	if err != nil {
		return nil, nil, err
	}
	return cases, validator, nil
}

func (s *Source) loadValidator(ctx context.Context, meta model.ProblemMeta) (*model.Validator, error) {
	if meta.ValidatorLanguage == "" {
		return nil, nil
	}
	lang, err := s.langs.Get(meta.ValidatorLanguage)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ValidatorFailed, "validator language %s", meta.ValidatorLanguage)
	}
	code, err := s.fetch(ctx, ValidatorKey(meta.ProblemID, filepath.Ext(lang.SourceFile)))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ValidatorFailed, "load validator failed")
	}
	return &model.Validator{Language: lang.ID, SourceCode: code}, nil
}

func (s *Source) fetch(ctx context.Context, key string) (string, error) {
	reader, err := s.store.GetObject(ctx, s.cfg.Bucket, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, s.cfg.MaxCaseBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > s.cfg.MaxCaseBytes {
		return "", appErr.Newf(appErr.TestCaseTooLarge, "%s exceeds %d bytes", key, s.cfg.MaxCaseBytes)
	}
	return string(data), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return appErr.Wrapf(err, appErr.TestCaseNotFound, "test case set is incomplete")
	case appErr.GetCode(err) == appErr.TestCaseTooLarge:
		return err
	default:
		return appErr.Wrapf(err, appErr.TestCaseInvalid, "load test cases failed")
	}
}
