package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/judge/model"
)

const (
	defaultProblemMetaTTL      = 30 * time.Minute
	defaultProblemMetaEmptyTTL = 5 * time.Minute
	problemMetaKeyPrefix       = "problem:meta:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository looks up judge settings of a problem.
type ProblemRepository interface {
	GetProblemMeta(ctx context.Context, problemID string) (model.ProblemMeta, error)
}

// MySQLProblemRepository reads the problems table through a Redis cache-aside layer.
type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewProblemRepository creates a repository; cacheClient may be nil.
func NewProblemRepository(database db.Database, cacheClient cache.Cache, ttl time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemMetaTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: defaultProblemMetaEmptyTTL,
	}
}

func (r *MySQLProblemRepository) GetProblemMeta(ctx context.Context, problemID string) (model.ProblemMeta, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, problemID)
	}
	meta, err := cache.GetWithCached[model.ProblemMeta](
		ctx,
		r.cache,
		problemMetaKeyPrefix+problemID,
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(meta model.ProblemMeta) bool { return meta.ProblemID == "" },
		marshalProblemMeta,
		unmarshalProblemMeta,
		func(ctx context.Context) (model.ProblemMeta, error) {
			meta, err := r.getFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return model.ProblemMeta{}, nil
			}
			return meta, err
		},
	)
	if err != nil {
		return model.ProblemMeta{}, err
	}
	if meta.ProblemID == "" {
		return model.ProblemMeta{}, ErrProblemNotFound
	}
	return meta, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, problemID string) (model.ProblemMeta, error) {
	query := `
		SELECT id, time_limit_ms, memory_limit_mb, test_count, contest_id, validator_language
		FROM problems
		WHERE id = ?`
	meta, err := scanProblemMeta(r.db.QueryRow(ctx, query, problemID))
	if err != nil {
		if db.IsNoRows(err) {
			return model.ProblemMeta{}, ErrProblemNotFound
		}
		return model.ProblemMeta{}, err
	}
	return meta, nil
}

func scanProblemMeta(scanner db.Scanner) (model.ProblemMeta, error) {
	var (
		meta      model.ProblemMeta
		contestID sql.NullString
		validator sql.NullString
	)
	if err := scanner.Scan(&meta.ProblemID, &meta.TimeLimitMs, &meta.MemoryLimitMB, &meta.TestCount, &contestID, &validator); err != nil {
		return model.ProblemMeta{}, err
	}
	meta.ContestID = contestID.String
	meta.ValidatorLanguage = validator.String
	return meta, nil
}

func marshalProblemMeta(meta model.ProblemMeta) string {
	payload, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblemMeta(data string) (model.ProblemMeta, error) {
	var meta model.ProblemMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return model.ProblemMeta{}, err
	}
	return meta, nil
}

// StaticProblemRepository serves problems defined in configuration.
type StaticProblemRepository struct {
	mu       sync.RWMutex
	problems map[string]model.ProblemMeta
}

// NewStaticProblemRepository creates a repository from a fixed list.
func NewStaticProblemRepository(problems ...model.ProblemMeta) *StaticProblemRepository {
	r := &StaticProblemRepository{problems: make(map[string]model.ProblemMeta, len(problems))}
	for _, p := range problems {
		r.problems[p.ProblemID] = p
	}
	return r
}

// Put adds or replaces a problem.
func (r *StaticProblemRepository) Put(meta model.ProblemMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.problems[meta.ProblemID] = meta
}

func (r *StaticProblemRepository) GetProblemMeta(ctx context.Context, problemID string) (model.ProblemMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.problems[problemID]
	if !ok {
		return model.ProblemMeta{}, ErrProblemNotFound
	}
	return meta, nil
}
