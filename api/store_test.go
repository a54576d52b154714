package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"portsweep/scanner"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

func sampleTask() *ScanTask {
	started := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	return &ScanTask{
		ID:           "a3f5c62e-1234-4f72-a84a-1c2d3e4f5678",
		Status:       TaskRunning,
		Host:         "scanme.example",
		Ports:        "1-1024",
		TimeoutMs:    750,
		Workers:      64,
		ReportErrors: true,
		Progress:     Progress{Delivered: 3, Total: 1024},
		Summary:      Summary{Open: 1, Closed: 1, Timeout: 1},
		Results: []scanner.Outcome{
			{Port: 1, Status: scanner.StatusOpen},
			{Port: 3, Status: scanner.StatusTimeout},
		},
		CreatedAt: started.Add(-time.Minute),
		StartedAt: &started,
	}
}

func TestRedisStoreTaskLifecycle(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	task := sampleTask()
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if ttl := mr.TTL("scan:" + task.ID); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Host != task.Host || got.Ports != task.Ports || got.TimeoutMs != 750 || got.Workers != 64 || !got.ReportErrors {
		t.Fatalf("got %+v", got)
	}
	if got.Progress != task.Progress || got.Summary != task.Summary || len(got.Results) != 2 || got.Results[1] != task.Results[1] {
		t.Fatalf("progress/summary/results mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) || got.StartedAt == nil || !got.StartedAt.Equal(*task.StartedAt) || got.CompletedAt != nil {
		t.Fatalf("timestamps mismatch: %+v", got)
	}

	now := time.Now().UTC()
	task.Status = TaskCompleted
	task.CompletedAt = &now
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err = store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != TaskCompleted || got.CompletedAt == nil || !got.Terminal() {
		t.Fatalf("after update: %+v", got)
	}
}

func TestRedisStoreNotFound(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	if _, err := store.GetTask(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("GetTask = %v, want ErrTaskNotFound", err)
	}
}

func TestRedisStoreQueue(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()

	for _, id := range []string{"one", "two"} {
		if err := store.PushToQueue(ctx, id); err != nil {
			t.Fatalf("PushToQueue: %v", err)
		}
	}
	for _, want := range []string{"one", "two"} {
		got, err := store.PopFromQueue(ctx)
		if err != nil || got != want {
			t.Fatalf("PopFromQueue = %q, %v; want %q", got, err, want)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := store.PopFromQueue(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PopFromQueue on empty queue = %v, want deadline exceeded", err)
	}
}

func TestRedisStoreCancel(t *testing.T) {
	store, _ := newRedisStore(t, time.Minute)
	ctx := context.Background()

	if requested, err := store.CancelRequested(ctx, "id"); err != nil || requested {
		t.Fatalf("CancelRequested before = %v, %v", requested, err)
	}
	if err := store.RequestCancel(ctx, "id"); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if requested, err := store.CancelRequested(ctx, "id"); err != nil || !requested {
		t.Fatalf("CancelRequested after = %v, %v", requested, err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(1)
	ctx := context.Background()

	task := sampleTask()
	_ = store.CreateTask(ctx, task)
	task.Results[0].Port = 999

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Results[0].Port != 1 {
		t.Fatal("store shares result slice with caller")
	}
	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("GetTask missing = %v", err)
	}

	if err := store.PushToQueue(ctx, "a"); err != nil {
		t.Fatalf("PushToQueue: %v", err)
	}
	if err := store.PushToQueue(ctx, "b"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("PushToQueue on full queue = %v", err)
	}
}
