package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stationquest/render-api/internal/model"
)

// RedisStore keeps job records as JSON blobs with two sorted-set indexes: the
// pending queue (scored by ready-at time, which also carries retry backoff)
// and a per-event index (scored by creation time). All status changes run as
// Lua scripts so the check-then-write is atomic — the pending→processing
// claim is effectively a distributed compare-and-swap, which is what lets
// multiple worker processes poll the same queue safely.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func jobKey(id string) string        { return "render:job:" + id }
func eventKey(eventID string) string { return "render:event:" + eventID }

const pendingKey = "render:queue:pending"

// Script results: 1 = applied, 0 = wrong state (or stale progress), -1 = missing.
var (
	claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local job = cjson.decode(raw)
if job.status ~= 'pending' then return 0 end
job.status = 'processing'
job.progress = 0
job.startedAt = ARGV[2]
job.updatedAt = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(job))
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	cancelScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local job = cjson.decode(raw)
if job.status ~= 'pending' then return 0 end
job.status = 'cancelled'
job.updatedAt = ARGV[2]
job.completedAt = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(job))
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	progressScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local job = cjson.decode(raw)
if job.status ~= 'processing' then return 0 end
local p = tonumber(ARGV[1])
if p <= (job.progress or 0) then return 0 end
job.progress = p
job.updatedAt = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(job))
return 1
`)

	completeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local job = cjson.decode(raw)
if job.status ~= 'processing' then return 0 end
job.status = 'completed'
job.progress = 100
job.outputPath = ARGV[1]
job.updatedAt = ARGV[2]
job.completedAt = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(job))
return 1
`)

	failScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local job = cjson.decode(raw)
if job.status ~= 'processing' then return 0 end
job.status = 'failed'
job.error = ARGV[1]
job.updatedAt = ARGV[2]
job.completedAt = ARGV[2]
redis.call('SET', KEYS[1], cjson.encode(job))
return 1
`)

	requeueScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local job = cjson.decode(raw)
if job.status ~= 'processing' then return 0 end
job.status = 'pending'
job.progress = 0
job.retryCount = (job.retryCount or 0) + 1
job.startedAt = nil
job.updatedAt = ARGV[3]
redis.call('SET', KEYS[1], cjson.encode(job))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)
)

func (s *RedisStore) Insert(ctx context.Context, job *model.RenderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	score := float64(job.CreatedAt.UnixMilli())
	if err := s.rdb.ZAdd(ctx, pendingKey, redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, eventKey(job.EventID), redis.Z{Score: score, Member: job.ID}).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.RenderJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisStore) PendingBatch(ctx context.Context, now time.Time, limit int) ([]*model.RenderJob, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{jobKey(id), pendingKey}, id, nowArg()).Int()
	if err != nil {
		return false, err
	}
	if res == -1 {
		return false, ErrNotFound
	}
	return res == 1, nil
}

func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	res, err := cancelScript.Run(ctx, s.rdb,
		[]string{jobKey(id), pendingKey}, id, nowArg()).Int()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrInvalidState
	}
	return nil
}

func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	res, err := progressScript.Run(ctx, s.rdb,
		[]string{jobKey(id)}, progress, nowArg()).Int()
	if err != nil {
		return err
	}
	if res == -1 {
		return ErrNotFound
	}
	// res == 0 means non-increasing or not processing; dropped by design.
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, id string, outputPath string) error {
	return s.finalize(ctx, completeScript, id, outputPath)
}

func (s *RedisStore) Fail(ctx context.Context, id string, summary string) error {
	return s.finalize(ctx, failScript, id, summary)
}

func (s *RedisStore) finalize(ctx context.Context, script *redis.Script, id, arg string) error {
	res, err := script.Run(ctx, s.rdb, []string{jobKey(id)}, arg, nowArg()).Int()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrInvalidState
	}
	return nil
}

func (s *RedisStore) Requeue(ctx context.Context, id string, readyAt time.Time) error {
	res, err := requeueScript.Run(ctx, s.rdb,
		[]string{jobKey(id), pendingKey},
		id, readyAt.UnixMilli(), nowArg()).Int()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrInvalidState
	}
	return nil
}

func (s *RedisStore) ListForEvent(ctx context.Context, eventID string) ([]*model.RenderJob, error) {
	ids, err := s.rdb.ZRevRange(ctx, eventKey(eventID), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisStore) fetchAll(ctx context.Context, ids []string) ([]*model.RenderJob, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*model.RenderJob, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index entry without a record; skip
		}
		var job model.RenderJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func nowArg() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
