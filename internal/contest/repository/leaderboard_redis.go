package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/contest/model"
	appErr "arenaoj/pkg/errors"
)

const (
	leaderboardKeyPrefix = "contest:"
	// rankScale keeps penalty below one score point in the ranking ZSET.
	rankScale = 1_000_000_000
)

// KEYS: entry hash, rank zset, applied-submission set. ARGV: problem, accepted (1|0), elapsed,
// score increment, participant, rank scale, submission.
// Returns 0 when the problem was already solved or the submission was already applied.
const mergeScript = `
local prefix = 'p:' .. ARGV[1] .. ':'
if redis.call('HGET', KEYS[1], prefix .. 'status') == 'solved' then return 0 end
if redis.call('SADD', KEYS[3], ARGV[7]) == 0 then return 0 end
redis.call('HSETNX', KEYS[1], 'score', '0')
redis.call('HSETNX', KEYS[1], 'penalty', '0')
redis.call('HINCRBY', KEYS[1], prefix .. 'attempts', 1)
if ARGV[2] == '1' then
  redis.call('HSET', KEYS[1], prefix .. 'status', 'solved', prefix .. 'tts', ARGV[3])
  redis.call('HINCRBY', KEYS[1], 'score', ARGV[4])
  redis.call('HINCRBY', KEYS[1], 'penalty', ARGV[3])
else
  redis.call('HSET', KEYS[1], prefix .. 'status', 'not_solved')
end
local score = tonumber(redis.call('HGET', KEYS[1], 'score'))
local penalty = tonumber(redis.call('HGET', KEYS[1], 'penalty'))
redis.call('ZADD', KEYS[2], string.format('%.0f', score * tonumber(ARGV[6]) - penalty), ARGV[5])
return 1`

// RedisLeaderboard keeps one hash per participant and a ranking ZSET per contest.
type RedisLeaderboard struct {
	cache cache.Cache
}

// NewRedisLeaderboard creates a Redis-backed leaderboard store.
func NewRedisLeaderboard(c cache.Cache) (*RedisLeaderboard, error) {
	if c == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	return &RedisLeaderboard{cache: c}, nil
}

func entryKey(contestID, participantID string) string {
	return leaderboardKeyPrefix + contestID + ":lb:" + participantID
}

func appliedKey(contestID, participantID string) string {
	return entryKey(contestID, participantID) + ":applied"
}

func rankKey(contestID string) string {
	return leaderboardKeyPrefix + contestID + ":rank"
}

func (r *RedisLeaderboard) Merge(ctx context.Context, a model.Attempt) (model.LeaderboardEntry, bool, error) {
	accepted := "0"
	if a.Accepted {
		accepted = "1"
	}
	reply, err := r.cache.Eval(ctx, mergeScript,
		[]string{entryKey(a.ContestID, a.ParticipantID), rankKey(a.ContestID), appliedKey(a.ContestID, a.ParticipantID)},
		a.ProblemID, accepted, a.Elapsed, a.ScoreIncrement, a.ParticipantID, rankScale, a.SubmissionID)
	if err != nil {
		return model.LeaderboardEntry{}, false, appErr.Wrapf(err, appErr.CacheError, "merge leaderboard entry failed")
	}
	applied, _ := reply.(int64)
	entry, err := r.Get(ctx, a.ContestID, a.ParticipantID)
	if err != nil {
		return model.LeaderboardEntry{}, false, err
	}
	return entry, applied == 1, nil
}

func (r *RedisLeaderboard) Get(ctx context.Context, contestID, participantID string) (model.LeaderboardEntry, error) {
	fields, err := r.cache.HGetAll(ctx, entryKey(contestID, participantID))
	if err != nil {
		return model.LeaderboardEntry{}, appErr.Wrapf(err, appErr.CacheError, "load leaderboard entry failed")
	}
	if len(fields) == 0 {
		return model.LeaderboardEntry{}, appErr.Newf(appErr.NotFound, "no leaderboard entry for %s in contest %s", participantID, contestID)
	}
	return decodeEntry(contestID, participantID, fields), nil
}

func (r *RedisLeaderboard) List(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	members, err := r.cache.ZRevRangeWithScores(ctx, rankKey(contestID), 0, -1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load leaderboard ranking failed")
	}
	out := make([]model.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		entry, err := r.Get(ctx, contestID, m.Member)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	rank(out)
	return out, nil
}

func decodeEntry(contestID, participantID string, fields map[string]string) model.LeaderboardEntry {
	entry := model.LeaderboardEntry{
		ContestID:     contestID,
		ParticipantID: participantID,
		Problems:      make(map[string]model.ProblemStanding),
	}
	entry.Score, _ = strconv.ParseInt(fields["score"], 10, 64)
	entry.Penalty, _ = strconv.ParseInt(fields["penalty"], 10, 64)
	for field, value := range fields {
		if !strings.HasPrefix(field, "p:") {
			continue
		}
		sep := strings.LastIndex(field, ":")
		if sep <= 2 {
			continue
		}
		problemID, attr := field[2:sep], field[sep+1:]
		standing := entry.Problems[problemID]
		switch attr {
		case "status":
			standing.Status = model.ProblemStatus(value)
		case "attempts":
			standing.Attempts, _ = strconv.ParseInt(value, 10, 64)
		case "tts":
			standing.TimeToSolve, _ = strconv.ParseInt(value, 10, 64)
		}
		entry.Problems[problemID] = standing
	}
	return entry
}
