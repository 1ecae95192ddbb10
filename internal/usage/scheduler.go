package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler errors.
var (
	ErrNilTracker     = errors.New("tracker cannot be nil")
	ErrAlreadyRunning = errors.New("flush scheduler is already running")
)

// defaultFlushInterval is how often buffered deltas are pushed to the
// store when no interval is configured.
const defaultFlushInterval = 30 * time.Second

// Scheduler flushes the tracker on a fixed interval in the background.
//
// Start and Stop are idempotent and safe for concurrent use. A panic in
// one flush run is recovered and logged; the scheduler keeps going.
type Scheduler struct {
	tracker  *Tracker
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the flush interval. Defaults to 30 seconds.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewScheduler creates a stopped scheduler for the given tracker.
func NewScheduler(tracker *Tracker, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		tracker:  tracker,
		logger:   logger,
		interval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background flush loop. Starting a running scheduler
// returns ErrAlreadyRunning without spawning a second goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("usage flush scheduler started", zap.Duration("interval", s.interval))
	go s.run(s.stopCh, s.done)
	return nil
}

// Stop signals the loop to exit after a final flush and waits for it.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("usage flush scheduler stopped")
}

func (s *Scheduler) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeFlush()
		case <-stopCh:
			// Final flush so deltas buffered since the last tick are
			// not stranded in a dying process.
			s.safeFlush()
			return
		}
	}
}

// safeFlush runs one flush with panic recovery. Flush errors are already
// logged and retained by the tracker.
func (s *Scheduler) safeFlush() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("usage flush panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.tracker.flushTimeout)
	defer cancel()
	_ = s.tracker.Flush(ctx)
}
