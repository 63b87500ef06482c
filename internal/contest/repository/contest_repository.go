package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/contest/model"
)

const (
	defaultContestTTL      = 10 * time.Minute
	defaultContestEmptyTTL = time.Minute
	contestKeyPrefix       = "contest:meta:"
)

var ErrContestNotFound = errors.New("contest not found")

// ContestRepository reads contest windows.
type ContestRepository interface {
	GetContest(ctx context.Context, contestID string) (*model.Contest, error)
}

// MySQLContestRepository reads the contests table through a Redis cache-aside layer.
type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewContestRepository creates a MySQL-backed repository. cacheClient may be nil.
func NewContestRepository(database db.Database, cacheClient cache.Cache, ttl time.Duration) *MySQLContestRepository {
	if ttl <= 0 {
		ttl = defaultContestTTL
	}
	return &MySQLContestRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: defaultContestEmptyTTL}
}

func (r *MySQLContestRepository) GetContest(ctx context.Context, contestID string) (*model.Contest, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, contestID)
	}
	contest, err := cache.GetWithCached[*model.Contest](
		ctx,
		r.cache,
		contestKeyPrefix+contestID,
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(c *model.Contest) bool { return c == nil },
		marshalContest,
		unmarshalContest,
		func(ctx context.Context) (*model.Contest, error) {
			c, err := r.getFromDB(ctx, contestID)
			if errors.Is(err, ErrContestNotFound) {
				return nil, nil
			}
			return c, err
		},
	)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, ErrContestNotFound
	}
	return contest, nil
}

func (r *MySQLContestRepository) getFromDB(ctx context.Context, contestID string) (*model.Contest, error) {
	query := "SELECT id, start_time, end_time FROM contests WHERE id = ?"
	var c model.Contest
	if err := r.db.QueryRow(ctx, query, contestID).Scan(&c.ID, &c.StartTime, &c.EndTime); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	return &c, nil
}

func marshalContest(c *model.Contest) string {
	payload, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalContest(data string) (*model.Contest, error) {
	var c model.Contest
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// StaticContestRepository serves contests defined in configuration.
type StaticContestRepository struct {
	mu       sync.RWMutex
	contests map[string]model.Contest
}

// NewStaticContestRepository creates a repository from a fixed list.
func NewStaticContestRepository(contests ...model.Contest) *StaticContestRepository {
	r := &StaticContestRepository{contests: make(map[string]model.Contest, len(contests))}
	for _, c := range contests {
		r.contests[c.ID] = c
	}
	return r
}

// Put adds or replaces a contest.
func (r *StaticContestRepository) Put(c model.Contest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contests[c.ID] = c
}

func (r *StaticContestRepository) GetContest(ctx context.Context, contestID string) (*model.Contest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contests[contestID]
	if !ok {
		return nil, ErrContestNotFound
	}
	return &c, nil
}
