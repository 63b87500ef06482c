package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
)

const (
	defaultKeyPrefix = "judge:"

	// Script replies; ownerCheck returns -1.
	replyOK         = 1
	replyOutOfOrder = -2
	replyExists     = 0
)

// Job hash fields.
const (
	fieldID          = "id"
	fieldProblemID   = "problem_id"
	fieldSubmitterID = "submitter_id"
	fieldLanguage    = "language"
	fieldSource      = "source_code"
	fieldCreatedAt   = "created_at"
	fieldStatus      = "status"
	fieldCurrentTest = "current_test"
	fieldTotalTests  = "total_tests"
	fieldVerdict     = "verdict"
	fieldError       = "error"
	fieldWorkerID    = "worker_id"
	fieldClaimedAt   = "claimed_at"
	fieldHeartbeatAt = "heartbeat_at"
	fieldFinishedAt  = "finished_at"
	fieldAttempts    = "attempts"
)

// KEYS: job, queue. ARGV: id, then field/value pairs.
const enqueueScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1`

// KEYS: queue, running. ARGV: job key prefix, worker, now ms.
const claimScript = `
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then return false end
  local key = ARGV[1] .. id
  if redis.call('HGET', key, 'status') == 'Queued' then
    redis.call('HSET', key, 'status', 'Running', 'worker_id', ARGV[2], 'claimed_at', ARGV[3], 'heartbeat_at', ARGV[3], 'current_test', '0')
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('ZADD', KEYS[2], ARGV[3], id)
    return id
  end
end`

// ownerCheck is shared by every script that mutates a claimed job. KEYS[1] is the job, ARGV[1] the worker.
const ownerCheck = `
if redis.call('HGET', KEYS[1], 'status') ~= 'Running' or redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[1] then
  return -1
end
`

// KEYS: job, running. ARGV: worker, id, now ms, then field/value pairs.
const touchScript = ownerCheck + `
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[3])
if #ARGV > 3 then redis.call('HSET', KEYS[1], unpack(ARGV, 4)) end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1`

// KEYS: job, results, running. ARGV: worker, id, now ms, ordinal, result json.
const progressScript = ownerCheck + `
if redis.call('LLEN', KEYS[2]) + 1 ~= tonumber(ARGV[4]) then return -2 end
redis.call('RPUSH', KEYS[2], ARGV[5])
redis.call('HSET', KEYS[1], 'current_test', ARGV[4], 'heartbeat_at', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1`

// KEYS: job, results, running. ARGV: worker, id, status, verdict, error, now ms, then result json.
const finishScript = ownerCheck + `
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'verdict', ARGV[4], 'error', ARGV[5], 'finished_at', ARGV[6])
if #ARGV > 6 then
  redis.call('DEL', KEYS[2])
  for i = 7, #ARGV do redis.call('RPUSH', KEYS[2], ARGV[i]) end
end
redis.call('ZREM', KEYS[3], ARGV[2])
return 1`

// requeue moves one job from Running back to the head of the queue.
const requeueBody = `
  redis.call('DEL', key .. ':results')
  redis.call('HSET', key, 'status', 'Queued', 'worker_id', '', 'current_test', '0', 'total_tests', '0', 'claimed_at', '0', 'heartbeat_at', '0')
  redis.call('LPUSH', queue, id)
`

// KEYS: job, results, running, queue. ARGV: worker, id.
const releaseScript = ownerCheck + `
local key, queue, id = KEYS[1], KEYS[4], ARGV[2]
` + requeueBody + `
redis.call('ZREM', KEYS[3], id)
return 1`

// KEYS: running, queue. ARGV: job key prefix, cutoff ms.
const reclaimScript = `
local queue = KEYS[2]
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
local moved = {}
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call('HGET', key, 'status') == 'Running' then
` + requeueBody + `
    table.insert(moved, id)
  end
  redis.call('ZREM', KEYS[1], id)
end
return moved`

// RedisStore keeps jobs in Redis so several judge processes can share one queue.
// Every state change is a single Lua script, which makes claims exclusive.
type RedisStore struct {
	cache     cache.Cache
	prefix    string
	resultTTL time.Duration
	now       func() time.Time
}

// RedisStoreConfig configures key layout and retention.
type RedisStoreConfig struct {
	KeyPrefix string `yaml:"keyPrefix"`
	// ResultTTL expires finished jobs; zero keeps them.
	ResultTTL time.Duration `yaml:"resultTTL"`
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(c cache.Cache, cfg RedisStoreConfig) (*RedisStore, error) {
	if c == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &RedisStore{cache: c, prefix: cfg.KeyPrefix, resultTTL: cfg.ResultTTL, now: time.Now}, nil
}

func (s *RedisStore) jobPrefix() string       { return s.prefix + "job:" }
func (s *RedisStore) jobKey(id string) string { return s.jobPrefix() + id }
func (s *RedisStore) resultsKey(id string) string {
	return s.jobKey(id) + ":results"
}
func (s *RedisStore) queueKey() string   { return s.prefix + "queue" }
func (s *RedisStore) runningKey() string { return s.prefix + "running" }

func (s *RedisStore) Enqueue(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	args := []interface{}{
		sub.ID,
		fieldID, sub.ID,
		fieldProblemID, sub.ProblemID,
		fieldSubmitterID, sub.SubmitterID,
		fieldLanguage, sub.Language,
		fieldSource, sub.SourceCode,
		fieldCreatedAt, millis(sub.CreatedAt),
		fieldStatus, string(model.StatusQueued),
		fieldCurrentTest, 0,
		fieldTotalTests, 0,
		fieldAttempts, 0,
	}
	reply, err := s.cache.Eval(ctx, enqueueScript, []string{s.jobKey(sub.ID), s.queueKey()}, args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "enqueue submission failed")
	}
	if toInt(reply) == replyExists {
		return appErr.Newf(appErr.SubmissionCreateFailed, "submission %s already exists", sub.ID)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, workerID string) (*model.Submission, error) {
	reply, err := s.cache.Eval(ctx, claimScript, []string{s.queueKey(), s.runningKey()},
		s.jobPrefix(), workerID, millis(s.now()))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "claim submission failed")
	}
	id, ok := reply.(string)
	if !ok || id == "" {
		return nil, nil
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) Begin(ctx context.Context, id, workerID string, total int) error {
	return s.touch(ctx, id, workerID, fieldTotalTests, total)
}

func (s *RedisStore) Heartbeat(ctx context.Context, id, workerID string) error {
	return s.touch(ctx, id, workerID)
}

func (s *RedisStore) touch(ctx context.Context, id, workerID string, fields ...interface{}) error {
	args := append([]interface{}{workerID, id, millis(s.now())}, fields...)
	reply, err := s.cache.Eval(ctx, touchScript, []string{s.jobKey(id), s.runningKey()}, args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "update submission failed")
	}
	return s.checkReply(ctx, id, workerID, reply)
}

func (s *RedisStore) Progress(ctx context.Context, id, workerID string, res model.TestResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal test result failed: %w", err)
	}
	reply, err := s.cache.Eval(ctx, progressScript, []string{s.jobKey(id), s.resultsKey(id), s.runningKey()},
		workerID, id, millis(s.now()), res.Ordinal, string(data))
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "record test result failed")
	}
	if toInt(reply) == replyOutOfOrder {
		return appErr.Newf(appErr.InvalidTransition, "submission %s got test %d out of order", id, res.Ordinal)
	}
	return s.checkReply(ctx, id, workerID, reply)
}

func (s *RedisStore) Finish(ctx context.Context, id, workerID string, out model.Outcome) (*model.Submission, error) {
	status := out.Status()
	if !status.IsTerminal() {
		return nil, appErr.Newf(appErr.InvalidTransition, "submission %s cannot finish as %s", id, status)
	}
	args := []interface{}{workerID, id, string(status), string(out.Verdict), out.InfraError, millis(s.now())}
	for _, res := range out.Results {
		data, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal test result failed: %w", err)
		}
		args = append(args, string(data))
	}
	reply, err := s.cache.Eval(ctx, finishScript, []string{s.jobKey(id), s.resultsKey(id), s.runningKey()}, args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "finish submission failed")
	}
	if err := s.checkReply(ctx, id, workerID, reply); err != nil {
		return nil, err
	}
	if s.resultTTL > 0 {
		for _, key := range []string{s.jobKey(id), s.resultsKey(id)} {
			if err := s.cache.Expire(ctx, key, s.resultTTL); err != nil {
				return nil, appErr.Wrapf(err, appErr.CacheError, "expire submission failed")
			}
		}
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) Release(ctx context.Context, id, workerID string) error {
	reply, err := s.cache.Eval(ctx, releaseScript,
		[]string{s.jobKey(id), s.resultsKey(id), s.runningKey(), s.queueKey()}, workerID, id)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "release submission failed")
	}
	return s.checkReply(ctx, id, workerID, reply)
}

func (s *RedisStore) Reclaim(ctx context.Context, staleBefore time.Time) ([]string, error) {
	reply, err := s.cache.Eval(ctx, reclaimScript, []string{s.runningKey(), s.queueKey()},
		s.jobPrefix(), millis(staleBefore))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "reclaim submissions failed")
	}
	items, _ := reply.([]interface{})
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// checkReply turns a script reply into StaleClaim or SubmissionNotFound.
func (s *RedisStore) checkReply(ctx context.Context, id, workerID string, reply interface{}) error {
	if toInt(reply) == replyOK {
		return nil
	}
	fields, err := s.cache.HGetAll(ctx, s.jobKey(id))
	if err == nil && len(fields) == 0 {
		return notFound(id)
	}
	return staleClaim(id, workerID)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Submission, error) {
	fields, err := s.cache.HGetAll(ctx, s.jobKey(id))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load submission failed")
	}
	if len(fields) == 0 {
		return nil, notFound(id)
	}
	raw, err := s.cache.LRange(ctx, s.resultsKey(id), 0, -1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load test results failed")
	}
	sub := decodeJob(fields)
	sub.Results = make([]model.TestResult, 0, len(raw))
	for _, item := range raw {
		var res model.TestResult
		if err := json.Unmarshal([]byte(item), &res); err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "decode test result failed")
		}
		sub.Results = append(sub.Results, res)
	}
	return sub, nil
}

func (s *RedisStore) Snapshot(ctx context.Context) ([]model.JobSummary, error) {
	queued, err := s.cache.LRange(ctx, s.queueKey(), 0, -1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list queue failed")
	}
	running, err := s.cache.ZRevRangeWithScores(ctx, s.runningKey(), 0, -1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list running jobs failed")
	}
	out := make([]model.JobSummary, 0, len(queued)+len(running))
	for i, id := range queued {
		fields, err := s.cache.HGetAll(ctx, s.jobKey(id))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "load submission failed")
		}
		if len(fields) > 0 {
			out = append(out, decodeJob(fields).Summary(i+1))
		}
	}
	for i := len(running) - 1; i >= 0; i-- {
		fields, err := s.cache.HGetAll(ctx, s.jobKey(running[i].Member))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "load submission failed")
		}
		if len(fields) > 0 {
			out = append(out, decodeJob(fields).Summary(0))
		}
	}
	return out, nil
}

func (s *RedisStore) Depth(ctx context.Context) (int, error) {
	n, err := s.cache.LLen(ctx, s.queueKey())
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "queue depth failed")
	}
	return int(n), nil
}

func decodeJob(f map[string]string) *model.Submission {
	return &model.Submission{
		ID:          f[fieldID],
		ProblemID:   f[fieldProblemID],
		SubmitterID: f[fieldSubmitterID],
		Language:    f[fieldLanguage],
		SourceCode:  f[fieldSource],
		CreatedAt:   fromMillis(f[fieldCreatedAt]),
		Status:      model.Status(f[fieldStatus]),
		CurrentTest: atoi(f[fieldCurrentTest]),
		TotalTests:  atoi(f[fieldTotalTests]),
		Verdict:     model.Verdict(f[fieldVerdict]),
		Error:       f[fieldError],
		WorkerID:    f[fieldWorkerID],
		ClaimedAt:   fromMillis(f[fieldClaimedAt]),
		HeartbeatAt: fromMillis(f[fieldHeartbeatAt]),
		FinishedAt:  fromMillis(f[fieldFinishedAt]),
		Attempts:    atoi(f[fieldAttempts]),
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func atoi(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func toInt(reply interface{}) int64 {
	n, _ := reply.(int64)
	return n
}
