package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

// DefaultWorkers is the worker pool size used by DefaultConfig.
const DefaultWorkers = 500

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("scan already started")
	// ErrNotStarted is returned when results are requested before Start.
	ErrNotStarted = errors.New("scan not started")
	// ErrClosed is returned by Start on a scanner that was closed.
	ErrClosed = errors.New("scanner closed")
	// ErrScanComplete is returned by NextResult once every outcome was delivered.
	ErrScanComplete = errors.New("scan complete")
	// ErrInterrupted is returned by NextResult when the caller's context ends
	// while it waits. The pending result is kept for the next call.
	ErrInterrupted = errors.New("wait for result interrupted")
)

// Config describes one scan.
type Config struct {
	Hostname          string        `json:"hostname"`
	Ports             PortRange     `json:"ports"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	Workers           int           `json:"workers"`
	ReportProbeErrors bool          `json:"report_probe_errors"`
}

// DefaultConfig scans every TCP port of hostname with a one second timeout
// and 500 workers.
func DefaultConfig(hostname string) Config {
	return Config{
		Hostname:       hostname,
		Ports:          FullRange,
		ConnectTimeout: DefaultConnectTimeout,
		Workers:        DefaultWorkers,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return errors.New("hostname is required")
	}
	if err := c.Ports.Validate(); err != nil {
		return err
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect timeout must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("worker count must be positive")
	}
	return nil
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithProber replaces the TCP connect prober.
func WithProber(p Prober) Option {
	return func(s *Scanner) { s.prober = p }
}

// WithLogger sets the logger for lifecycle events and probe diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// pending is the handle of a submitted probe. It is queued at submission
// time and resolved by whichever worker runs the probe.
type pending struct {
	port    int
	once    sync.Once
	ready   chan struct{}
	outcome Outcome
}

func newPending(port int) *pending {
	return &pending{port: port, ready: make(chan struct{})}
}

func (h *pending) resolve(o Outcome) {
	h.once.Do(func() {
		h.outcome = o
		close(h.ready)
	})
}

// Scanner probes a port range of one host with a bounded worker pool and
// hands outcomes to a consumer in ascending port order.
//
// Handles are queued in submission order and each one is awaited in turn,
// so a slow port holds back the ports after it even if they finished first.
type Scanner struct {
	cfg    Config
	prober Prober
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	started atomic.Bool

	results   chan *pending
	submitted atomic.Bool
	expected  atomic.Int64
	delivered atomic.Int64

	// turn serializes consumers; head survives an interrupted wait.
	turn chan struct{}
	head *pending

	done chan struct{}
}

// New returns a scanner for every TCP port of hostname.
func New(hostname string, opts ...Option) (*Scanner, error) {
	return NewWithConfig(DefaultConfig(hostname), opts...)
}

// NewWithConfig returns a scanner for cfg.
func NewWithConfig(cfg Config, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scanner{
		cfg:     cfg,
		logger:  slog.New(slog.DiscardHandler),
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan *pending, cfg.Ports.Len()),
		turn:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.turn <- struct{}{}

	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = TCPProber{ReportErrors: cfg.ReportProbeErrors, Logger: s.logger}
	}
	return s, nil
}

// Config returns the scan configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Total is the number of ports in the scan range.
func (s *Scanner) Total() int {
	return s.cfg.Ports.Len()
}

// Delivered is the number of outcomes handed out by NextResult so far.
func (s *Scanner) Delivered() int {
	return int(s.delivered.Load())
}

// Start launches the worker pool and the dispatcher and returns immediately.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started.Load() {
		return ErrAlreadyStarted
	}

	pool, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	s.started.Store(true)
	s.logger.Info("scan started",
		"host", s.cfg.Hostname,
		"ports", s.cfg.Ports.String(),
		"workers", s.cfg.Workers,
		"timeout_ms", s.cfg.ConnectTimeout.Milliseconds(),
	)
	go s.dispatch(pool)
	return nil
}

// dispatch submits one probe per port, low to high, then waits for the
// workers and releases the pool.
func (s *Scanner) dispatch(pool *ants.Pool) {
	begin := time.Now()
	host, timeout := s.cfg.Hostname, s.cfg.ConnectTimeout

	var wg sync.WaitGroup
	var pushed int64
	for port := s.cfg.Ports.Low; port <= s.cfg.Ports.High; port++ {
		if s.ctx.Err() != nil {
			break
		}

		h := newPending(port)
		// Never blocks: capacity equals the range size.
		s.results <- h
		pushed++

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("probe panicked", "port", port, "panic", r)
					h.resolve(errorOutcome(port, fmt.Sprintf("probe panicked: %v", r)))
				}
			}()
			h.resolve(s.prober.Probe(s.ctx, host, port, timeout))
		})
		if err != nil {
			wg.Done()
			h.resolve(errorOutcome(h.port, err.Error()))
		}
	}

	s.expected.Store(pushed)
	s.submitted.Store(true)
	close(s.results)
	s.logger.Debug("scan submitted", "host", host, "probes", pushed)

	wg.Wait()
	pool.Release()
	s.logger.Info("scan finished",
		"host", host,
		"probes", pushed,
		"canceled", s.ctx.Err() != nil,
		"duration_ms", time.Since(begin).Milliseconds(),
	)
	close(s.done)
}

// IsComplete reports whether every port has been submitted and every
// submitted outcome has been delivered. Once true it stays true.
func (s *Scanner) IsComplete() bool {
	return s.submitted.Load() && s.delivered.Load() == s.expected.Load()
}

// NextResult blocks until the outcome of the next port in order is available.
//
// It returns ErrScanComplete after the last outcome, ErrNotStarted before
// Start, and an error wrapping ErrInterrupted and ctx.Err() if ctx ends while
// waiting. Concurrent callers are served one at a time.
func (s *Scanner) NextResult(ctx context.Context) (Outcome, error) {
	if !s.started.Load() {
		return Outcome{}, ErrNotStarted
	}

	select {
	case <-s.turn:
	case <-ctx.Done():
		return Outcome{}, interrupted(ctx)
	}
	defer func() { s.turn <- struct{}{} }()

	if s.head == nil {
		select {
		case h, ok := <-s.results:
			if !ok {
				return Outcome{}, ErrScanComplete
			}
			s.head = h
		case <-ctx.Done():
			return Outcome{}, interrupted(ctx)
		}
	}

	select {
	case <-s.head.ready:
	case <-ctx.Done():
		return Outcome{}, interrupted(ctx)
	}

	outcome := s.head.outcome
	s.head = nil
	s.delivered.Add(1)
	return outcome, nil
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
}

// Drain passes every remaining outcome to fn in port order until the scan
// is complete, fn fails, or ctx ends.
func (s *Scanner) Drain(ctx context.Context, fn func(Outcome) error) error {
	for !s.IsComplete() {
		outcome, err := s.NextResult(ctx)
		if errors.Is(err, ErrScanComplete) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(outcome); err != nil {
			return err
		}
	}
	return nil
}

// Collect drains the remaining outcomes into a slice.
func (s *Scanner) Collect(ctx context.Context) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, s.Total()-s.Delivered())
	err := s.Drain(ctx, func(o Outcome) error {
		outcomes = append(outcomes, o)
		return nil
	})
	return outcomes, err
}

// Done is closed once every probe has finished and the pool was released.
func (s *Scanner) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Done is closed or ctx ends.
func (s *Scanner) Wait(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops submitting new probes, aborts the ones in flight and waits for
// the pool to drain. Outcomes already queued stay available to NextResult;
// aborted probes report StatusError. Close is safe to call more than once.
func (s *Scanner) Close() error {
	s.mu.Lock()
	s.closed = true
	started := s.started.Load()
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	}
	return nil
}
