package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"portsweep/scanner"
)

// TaskStore defines persistence operations for scan tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *ScanTask) error
	GetTask(ctx context.Context, id string) (*ScanTask, error)
	UpdateTask(ctx context.Context, task *ScanTask) error
	PushToQueue(ctx context.Context, taskID string) error
	// PopFromQueue blocks until a task ID is available or ctx ends.
	PopFromQueue(ctx context.Context) (string, error)
	RequestCancel(ctx context.Context, taskID string) error
	CancelRequested(ctx context.Context, taskID string) (bool, error)
}

var (
	// ErrTaskNotFound indicates the requested task doesn't exist in the store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueFull is returned by the in-memory store when its queue is saturated.
	ErrQueueFull = errors.New("task queue full")
)

const (
	queueKey = "scans:queue"
	// popWait bounds each BRPOP so a cancelled context is noticed.
	popWait = time.Second
)

// RedisStore implements TaskStore using Redis as backend. Task snapshots
// expire after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed task store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("scan:%s", id)
}

func (s *RedisStore) cancelKey(id string) string {
	return fmt.Sprintf("scan:%s:cancel", id)
}

// CreateTask persists a new scan task in Redis.
func (s *RedisStore) CreateTask(ctx context.Context, task *ScanTask) error {
	return s.write(ctx, task)
}

// GetTask retrieves a task by ID.
func (s *RedisStore) GetTask(ctx context.Context, id string) (*ScanTask, error) {
	res, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrTaskNotFound
	}
	return deserializeTask(res)
}

// UpdateTask updates an existing task in Redis.
func (s *RedisStore) UpdateTask(ctx context.Context, task *ScanTask) error {
	return s.write(ctx, task)
}

func (s *RedisStore) write(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	key := s.taskKey(task.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// PushToQueue enqueues a task ID for workers to process.
func (s *RedisStore) PushToQueue(ctx context.Context, taskID string) error {
	return s.client.LPush(ctx, queueKey, taskID).Err()
}

// PopFromQueue blocks until a task ID is available.
func (s *RedisStore) PopFromQueue(ctx context.Context) (string, error) {
	for {
		res, err := s.client.BRPop(ctx, popWait, queueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
		if len(res) != 2 {
			return "", errors.New("unexpected response size from BRPOP")
		}
		return res[1], nil
	}
}

// RequestCancel flags a task for cancellation. The worker owning the task
// observes the flag.
func (s *RedisStore) RequestCancel(ctx context.Context, taskID string) error {
	return s.client.Set(ctx, s.cancelKey(taskID), "1", s.ttl).Err()
}

// CancelRequested reports whether RequestCancel was called for the task.
func (s *RedisStore) CancelRequested(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.cancelKey(taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryStore is an in-process TaskStore used when no Redis is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*ScanTask
	canceled map[string]bool
	queue    chan string
}

// NewMemoryStore returns a store whose queue holds up to queueSize pending IDs.
func NewMemoryStore(queueSize int) *MemoryStore {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &MemoryStore{
		tasks:    make(map[string]*ScanTask),
		canceled: make(map[string]bool),
		queue:    make(chan string, queueSize),
	}
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *ScanTask) error {
	return s.UpdateTask(ctx, task)
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*ScanTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *ScanTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) PushToQueue(_ context.Context, taskID string) error {
	select {
	case s.queue <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *MemoryStore) PopFromQueue(ctx context.Context) (string, error) {
	select {
	case id := <-s.queue:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *MemoryStore) RequestCancel(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled[taskID] = true
	return nil
}

func (s *MemoryStore) CancelRequested(_ context.Context, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canceled[taskID], nil
}

func cloneTask(task *ScanTask) *ScanTask {
	c := *task
	if task.Results != nil {
		c.Results = append([]scanner.Outcome(nil), task.Results...)
	}
	return &c
}

func serializeTask(task *ScanTask) (map[string]interface{}, error) {
	progress, err := json.Marshal(task.Progress)
	if err != nil {
		return nil, err
	}
	summary, err := json.Marshal(task.Summary)
	if err != nil {
		return nil, err
	}

	var resultsData string
	if task.Results != nil {
		encoded, err := json.Marshal(task.Results)
		if err != nil {
			return nil, err
		}
		resultsData = string(encoded)
	}

	return map[string]interface{}{
		"id":            task.ID,
		"status":        task.Status,
		"host":          task.Host,
		"ports":         task.Ports,
		"timeout_ms":    task.TimeoutMs,
		"workers":       task.Workers,
		"report_errors": strconv.FormatBool(task.ReportErrors),
		"progress":      string(progress),
		"summary":       string(summary),
		"results":       resultsData,
		"created_at":    task.CreatedAt.Format(time.RFC3339Nano),
		"started_at":    formatTime(task.StartedAt),
		"completed_at":  formatTime(task.CompletedAt),
		"error":         task.Error,
	}, nil
}

func deserializeTask(data map[string]string) (*ScanTask, error) {
	task := &ScanTask{
		ID:     data["id"],
		Status: data["status"],
		Host:   data["host"],
		Ports:  data["ports"],
		Error:  data["error"],
	}

	var err error
	if task.TimeoutMs, err = atoiField(data, "timeout_ms"); err != nil {
		return nil, err
	}
	if task.Workers, err = atoiField(data, "workers"); err != nil {
		return nil, err
	}
	if raw := data["report_errors"]; raw != "" {
		if task.ReportErrors, err = strconv.ParseBool(raw); err != nil {
			return nil, err
		}
	}
	if raw := data["progress"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Progress); err != nil {
			return nil, err
		}
	}
	if raw := data["summary"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Summary); err != nil {
			return nil, err
		}
	}
	if raw := data["results"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Results); err != nil {
			return nil, err
		}
	}

	if raw := data["created_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}
		task.CreatedAt = t
	}
	if task.StartedAt, err = parseTime(data["started_at"]); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseTime(data["completed_at"]); err != nil {
		return nil, err
	}

	return task, nil
}

func atoiField(data map[string]string, key string) (int, error) {
	raw := data[key]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return n, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
