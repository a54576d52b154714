package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"portsweep/scanner"
)

const (
	// flushEvery is how many outcomes a worker collects between snapshot writes.
	flushEvery = 1024
	// defaultFlushInterval caps how stale a running snapshot may get.
	defaultFlushInterval = 500 * time.Millisecond
	// defaultCancelPoll is how often a running task checks its cancel flag.
	defaultCancelPoll = 250 * time.Millisecond
	// persistTimeout bounds the final writes made after the service context ended.
	persistTimeout = 5 * time.Second
)

// Runner executes queued scan tasks.
type Runner struct {
	store  TaskStore
	logger *slog.Logger
	opts   []scanner.Option

	flushInterval time.Duration
	cancelPoll    time.Duration
}

// NewRunner returns a runner processing tasks from store. The scanner
// options are applied to every sweep.
func NewRunner(store TaskStore, logger *slog.Logger, opts ...scanner.Option) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		store:         store,
		logger:        logger,
		opts:          opts,
		flushInterval: defaultFlushInterval,
		cancelPoll:    defaultCancelPoll,
	}
}

// Run processes tasks with numWorkers goroutines until ctx ends.
func (r *Runner) Run(ctx context.Context, numWorkers int) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (r *Runner) workerLoop(ctx context.Context) {
	for {
		taskID, err := r.store.PopFromQueue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("worker failed to pop task", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		r.process(ctx, taskID)
	}
}

// process runs one task to a terminal state.
func (r *Runner) process(ctx context.Context, taskID string) {
	logger := r.logger.With("task_id", taskID)

	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			logger.Warn("worker task disappeared")
			return
		}
		logger.Error("worker failed to load task", "error", err)
		return
	}
	// Settled tasks are never rerun.
	if task.Terminal() {
		return
	}

	// DELETE may have landed while the task sat in the queue.
	if canceled, err := r.store.CancelRequested(ctx, taskID); err == nil && canceled {
		r.finish(ctx, task, TaskCanceled, "canceled before start")
		return
	}

	cfg, err := taskConfig(task)
	if err != nil {
		r.fail(ctx, task, err)
		return
	}

	opts := append([]scanner.Option{scanner.WithLogger(logger)}, r.opts...)
	sc, err := scanner.NewWithConfig(cfg, opts...)
	if err != nil {
		r.fail(ctx, task, err)
		return
	}

	// pending -> running: reset anything a previous attempt left behind.
	now := time.Now().UTC()
	task.Status = TaskRunning
	task.Error = ""
	task.Results = nil
	task.Summary = Summary{}
	task.Progress = Progress{Total: sc.Total()}
	task.StartedAt = &now
	task.CompletedAt = nil
	if err := r.store.UpdateTask(ctx, task); err != nil {
		logger.Error("worker failed to mark task running", "error", err)
		return
	}

	if err := sc.Start(); err != nil {
		r.fail(ctx, task, err)
		return
	}
	defer sc.Close()

	// The cancel flag is watched on a timer so small or slow sweeps stop too.
	var canceled atomic.Bool
	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if r.awaitCancel(watchCtx, taskID) {
			logger.Info("scan cancel requested", "delivered", sc.Delivered())
			canceled.Store(true)
			sc.Close()
		}
	}()

	lastFlush := time.Now()
	err = sc.Drain(ctx, func(o scanner.Outcome) error {
		// Outcomes after a cancel are aborted probes, not port states.
		if canceled.Load() {
			return nil
		}
		task.Progress.Delivered++
		task.Summary.Add(o)
		if o.Status != scanner.StatusClosed {
			task.Results = append(task.Results, o)
		}

		if task.Progress.Delivered%flushEvery != 0 && time.Since(lastFlush) < r.flushInterval {
			return nil
		}
		lastFlush = time.Now()
		if err := r.store.UpdateTask(ctx, task); err != nil {
			logger.Warn("worker failed to persist progress", "error", err)
		}
		return nil
	})
	stopWatch()
	<-watchDone

	// running -> terminal. A cancel that arrives after the last port counts as done.
	switch {
	case err != nil:
		r.finish(ctx, task, TaskCanceled, fmt.Sprintf("worker stopped: %v", err))
	case canceled.Load() && task.Progress.Delivered < task.Progress.Total:
		r.finish(ctx, task, TaskCanceled, "canceled by request")
	default:
		r.finish(ctx, task, TaskCompleted, "")
	}
}

// awaitCancel polls the task's cancel flag until it is set (true) or ctx
// ends (false). Store errors are logged and retried on the next tick.
func (r *Runner) awaitCancel(ctx context.Context, taskID string) bool {
	ticker := time.NewTicker(r.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		requested, err := r.store.CancelRequested(ctx, taskID)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("worker failed to check cancel flag", "task_id", taskID, "error", err)
			}
			continue
		}
		if requested {
			return true
		}
	}
}

func taskConfig(task *ScanTask) (scanner.Config, error) {
	ports, err := scanner.ParsePortRange(task.Ports)
	if err != nil {
		return scanner.Config{}, err
	}
	cfg := scanner.DefaultConfig(task.Host)
	cfg.Ports = ports
	cfg.ReportProbeErrors = task.ReportErrors
	if task.TimeoutMs > 0 {
		cfg.ConnectTimeout = time.Duration(task.TimeoutMs) * time.Millisecond
	}
	if task.Workers > 0 {
		cfg.Workers = task.Workers
	}
	return cfg, nil
}

func (r *Runner) fail(ctx context.Context, task *ScanTask, err error) {
	r.logger.Error("worker task failed", "task_id", task.ID, "error", err)
	task.Results = nil
	r.finish(ctx, task, TaskFailed, err.Error())
}

// finish persists a terminal state, even when ctx has already ended.
func (r *Runner) finish(ctx context.Context, task *ScanTask, status, message string) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	task.Status = status
	task.Error = message
	task.CompletedAt = &now
	if err := r.store.UpdateTask(persistCtx, task); err != nil {
		r.logger.Error("worker failed to persist task", "task_id", task.ID, "status", status, "error", err)
		return
	}
	r.logger.Info("scan task finished",
		"task_id", task.ID,
		"status", status,
		"open", task.Summary.Open,
		"timeout", task.Summary.Timeout,
		"delivered", task.Progress.Delivered,
	)
}
