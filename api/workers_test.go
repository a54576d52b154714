package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"portsweep/scanner"
)

func scenarioProber() scanner.Prober {
	return scanner.ProberFunc(func(ctx context.Context, host string, port int, timeout time.Duration) scanner.Outcome {
		switch port {
		case 22:
			return scanner.Outcome{Port: port, Status: scanner.StatusOpen}
		case 443:
			return scanner.Outcome{Port: port, Status: scanner.StatusTimeout}
		default:
			return scanner.Outcome{Port: port, Status: scanner.StatusClosed}
		}
	})
}

func queueTask(t *testing.T, store TaskStore, req CreateScanRequest) *ScanTask {
	t.Helper()
	task, err := newTask(req)
	if err != nil {
		t.Fatalf("newTask: %v", err)
	}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestRunnerCompletesTask(t *testing.T) {
	store := NewMemoryStore(1)
	task := queueTask(t, store, CreateScanRequest{Host: "scan.test", Ports: "1-2000", Workers: 16})

	NewRunner(store, nil, scanner.WithProber(scenarioProber())).process(context.Background(), task.ID)

	got, err := store.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != TaskCompleted || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("task = %+v", got)
	}
	if got.Progress != (Progress{Delivered: 2000, Total: 2000}) {
		t.Fatalf("progress = %+v", got.Progress)
	}
	if got.Summary != (Summary{Open: 1, Closed: 1998, Timeout: 1}) {
		t.Fatalf("summary = %+v", got.Summary)
	}
	if len(got.Results) != 2 || got.Results[0].Port != 22 || got.Results[1].Port != 443 {
		t.Fatalf("results = %+v", got.Results)
	}
}

func TestRunnerHonoursCancelBeforeStart(t *testing.T) {
	store := NewMemoryStore(1)
	task := queueTask(t, store, CreateScanRequest{Host: "scan.test", Ports: "1-10"})
	_ = store.RequestCancel(context.Background(), task.ID)

	NewRunner(store, nil, scanner.WithProber(scenarioProber())).process(context.Background(), task.ID)

	got, _ := store.GetTask(context.Background(), task.ID)
	if got.Status != TaskCanceled || got.Progress.Delivered != 0 {
		t.Fatalf("task = %+v", got)
	}
}

// slowProber closes every port after delay, or earlier when the scan is closed.
func slowProber(delay time.Duration) scanner.Prober {
	return scanner.ProberFunc(func(ctx context.Context, host string, port int, timeout time.Duration) scanner.Outcome {
		select {
		case <-time.After(delay):
			return scanner.Outcome{Port: port, Status: scanner.StatusClosed}
		case <-ctx.Done():
			return scanner.Outcome{Port: port, Status: scanner.StatusError, Reason: "scan canceled"}
		}
	})
}

func fastRunner(store TaskStore, opts ...scanner.Option) *Runner {
	r := NewRunner(store, nil, opts...)
	r.flushInterval = 10 * time.Millisecond
	r.cancelPoll = 10 * time.Millisecond
	return r
}

// waitForTask polls the store until cond holds or the deadline passes.
func waitForTask(t *testing.T, store TaskStore, id string, cond func(*ScanTask) bool) *ScanTask {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		got, err := store.GetTask(context.Background(), id)
		if err == nil && cond(got) {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached the expected state: %+v", id, got)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunnerCancelsSmallRunningTask(t *testing.T) {
	store := NewMemoryStore(1)
	router := NewRouter(store, RouterOptions{})
	task := queueTask(t, store, CreateScanRequest{Host: "scan.test", Ports: "1-100", Workers: 4})

	done := make(chan struct{})
	go func() {
		defer close(done)
		fastRunner(store, scanner.WithProber(slowProber(20*time.Millisecond))).process(context.Background(), task.ID)
	}()

	// Progress is visible while the sweep is still running.
	running := waitForTask(t, store, task.ID, func(got *ScanTask) bool {
		return got.Status == TaskRunning && got.Progress.Delivered > 0
	})
	if running.Progress.Total != 100 {
		t.Fatalf("running snapshot = %+v", running.Progress)
	}

	if rec := doJSON(t, router, http.MethodDelete, "/api/v1/scans/"+task.ID, nil, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("DELETE status %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}

	got, _ := store.GetTask(context.Background(), task.ID)
	if got.Status != TaskCanceled {
		t.Fatalf("status = %s, want %s", got.Status, TaskCanceled)
	}
	if got.Progress.Delivered >= got.Progress.Total {
		t.Fatalf("delivered %d of %d after cancel", got.Progress.Delivered, got.Progress.Total)
	}
	if got.Summary.Error != 0 {
		t.Fatalf("canceled ports counted in summary: %+v", got.Summary)
	}
}

func TestRunnerFailsInvalidTask(t *testing.T) {
	store := NewMemoryStore(1)
	task := &ScanTask{ID: "a3f5c62e-1234-4f72-a84a-1c2d3e4f5678", Status: TaskPending, Host: "h", Ports: "9-1"}
	_ = store.CreateTask(context.Background(), task)

	NewRunner(store, nil).process(context.Background(), task.ID)

	got, _ := store.GetTask(context.Background(), task.ID)
	if got.Status != TaskFailed || !strings.Contains(got.Error, "port") {
		t.Fatalf("task = %+v", got)
	}
}

func TestRunnerLoopDrainsQueue(t *testing.T) {
	store := NewMemoryStore(4)
	task := queueTask(t, store, CreateScanRequest{Host: "scan.test", Ports: "20-30"})
	_ = store.PushToQueue(context.Background(), task.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(store, nil, scanner.WithProber(scenarioProber())).Run(ctx, 2) }()

	deadline := time.After(5 * time.Second)
	for {
		got, _ := store.GetTask(context.Background(), task.ID)
		if got.Status == TaskCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never completed: %+v", got)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestScanQuotaMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := NewRouter(NewMemoryStore(8), RouterOptions{Redis: client, RateLimit: 2, RateWindow: time.Minute})
	body := CreateScanRequest{Host: "scan.test", Ports: "1-10"}

	for i, remaining := range []string{"1", "0"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/scans", body, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("submission %d: status %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" || rec.Header().Get("X-RateLimit-Remaining") != remaining {
			t.Fatalf("submission %d: quota headers %v", i, rec.Header())
		}
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/scans", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third submission: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("429 headers = %v", rec.Header())
	}
	if ttl := mr.TTL("ratelimit:scans:192.0.2.1"); ttl != time.Minute {
		t.Fatalf("quota window ttl = %v", ttl)
	}

	// Polling is not metered.
	path := "/api/v1/scans/a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"
	for i := 0; i < 3; i++ {
		if rec := doJSON(t, router, http.MethodGet, path, nil, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("GET %d: status %d", i, rec.Code)
		}
	}
}
