package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stationquest/render-api/internal/model"
)

// setupRedis connects to a local Redis on DB 15 and skips the test when none
// is running, mirroring how the rest of the suite stays runnable offline.
func setupRedis(t *testing.T) *RedisStore {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	return NewRedisStore(rdb)
}

func TestRedisStore_ClaimIsConditional(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)

	job := newJob(uuid.New().String(), "e-"+uuid.New().String(), time.Now().UTC())
	if err := s.Insert(ctx, job); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := s.Claim(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("second claim must fail: job already processing")
	}

	if err := s.Cancel(ctx, job.ID); err != ErrInvalidState {
		t.Errorf("cancel after claim: expected ErrInvalidState, got %v", err)
	}
}

func TestRedisStore_ProgressAndFinalize(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)

	job := newJob(uuid.New().String(), "e-"+uuid.New().String(), time.Now().UTC())
	_ = s.Insert(ctx, job)
	_, _ = s.Claim(ctx, job.ID)

	for _, p := range []int{20, 60, 45} {
		if err := s.UpdateProgress(ctx, job.ID, p); err != nil {
			t.Fatalf("progress %d: %v", p, err)
		}
	}
	got, _ := s.Get(ctx, job.ID)
	if got.Progress != 60 {
		t.Errorf("expected monotonic progress 60, got %d", got.Progress)
	}

	if err := s.Complete(ctx, job.ID, "renders/"+job.ID+"/final.mp4"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.Get(ctx, job.ID)
	if got.Status != model.StatusCompleted || got.Progress != 100 || got.OutputPath == "" {
		t.Errorf("unexpected final record: %+v", got)
	}

	// Pending index no longer lists the job.
	batch, err := s.PendingBatch(ctx, time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, b := range batch {
		if b.ID == job.ID {
			t.Error("completed job still in pending queue")
		}
	}
}

func TestRedisStore_RequeueVisibleAfterBackoff(t *testing.T) {
	ctx := context.Background()
	s := setupRedis(t)

	job := newJob(uuid.New().String(), "e-"+uuid.New().String(), time.Now().UTC())
	_ = s.Insert(ctx, job)
	_, _ = s.Claim(ctx, job.ID)

	readyAt := time.Now().Add(time.Hour)
	if err := s.Requeue(ctx, job.ID, readyAt); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	got, _ := s.Get(ctx, job.ID)
	if got.Status != model.StatusPending || got.RetryCount != 1 {
		t.Errorf("expected pending/retry=1, got %s/%d", got.Status, got.RetryCount)
	}

	batch, _ := s.PendingBatch(ctx, time.Now(), 100)
	for _, b := range batch {
		if b.ID == job.ID {
			t.Error("requeued job visible before its backoff elapsed")
		}
	}
}
