// Package scheduler runs a unit of work on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Job is the unit of work fired on every tick. It should return promptly
// once ctx is cancelled, at whatever boundary it considers safe.
type Job func(ctx context.Context)

// Scheduler fires a Job every interval. Runs never overlap: a slow job
// delays the next tick instead of running alongside it.
type Scheduler struct {
	name       string
	interval   time.Duration
	job        Job
	clock      clockwork.Clock
	runOnStart bool
	log        zerolog.Logger

	// runMu serializes job invocations from ticks and manual triggers.
	runMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithRunOnStart fires the job once immediately after Start.
func WithRunOnStart(v bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = v
	}
}

// New builds a scheduler. It does nothing until Start is called.
func New(name string, interval time.Duration, job Job, logger *zerolog.Logger, opts ...Option) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	s := &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		clock:    clockwork.NewRealClock(),
		log:      l.With().Str("component", "scheduler").Str("task", name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the task name given to New.
func (s *Scheduler) Name() string {
	return s.name
}

// Start launches the tick loop. Cancelling ctx or calling Stop ends it.
// Calling Start more than once, or after Stop, has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	go s.loop(ctx, ticker, s.done)

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	if s.runOnStart {
		s.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.RunOnce(ctx)
		}
	}
}

// RunOnce invokes the job now, waiting for any in-flight run to finish first.
// It returns false and skips the job if ctx was already cancelled or the
// scheduler has been stopped.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if ctx.Err() != nil || s.isStopped() {
		return false
	}

	start := s.clock.Now()
	s.job(ctx)
	s.log.Debug().Dur("elapsed", s.clock.Since(start)).Msg("task finished")
	return true
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop raises the cancellation signal and waits for the loop and any running
// job to return. A stopped scheduler cannot be restarted and rejects RunOnce,
// even if it was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.stopped = true
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}
