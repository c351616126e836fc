package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresignal-server/internal/expiry"
	"github.com/vovakirdan/wiresignal-server/internal/scheduler"
	"github.com/vovakirdan/wiresignal-server/internal/store"
)

// ErrSweepCancelled is returned when a manual sweep could not start, either
// because ctx was done or the service was stopped.
var ErrSweepCancelled = errors.New("sweep cancelled before start")

// sweepHistoryTTL bounds how long sweep records are kept.
const sweepHistoryTTL = 7 * 24 * time.Hour

type sweepRequestKey struct{}

type sweepRequest struct {
	trigger store.SweepTrigger
	result  *expiry.Result
}

// SweepService schedules expiry sweeps and records their outcome.
type SweepService struct {
	sweeper *expiry.Sweeper
	history store.SweepStore
	clock   clockwork.Clock
	sched   *scheduler.Scheduler
	log     zerolog.Logger
}

// NewSweepService builds the service. history may be nil to skip recording.
func NewSweepService(sweeper *expiry.Sweeper, history store.SweepStore, clock clockwork.Clock, interval time.Duration, logger *zerolog.Logger) *SweepService {
	s := &SweepService{
		sweeper: sweeper,
		history: history,
		clock:   clock,
		log:     logger.With().Str("component", "sweeps").Logger(),
	}
	s.sched = scheduler.New("message-expire", interval, s.run, logger, scheduler.WithClock(clock))
	return s
}

// Start begins periodic sweeps.
func (s *SweepService) Start(ctx context.Context) {
	s.sched.Start(ctx)
}

// Stop cancels the running sweep at the next client boundary and waits for it.
func (s *SweepService) Stop() {
	s.sched.Stop()
}

// TriggerSweep runs a sweep now, serialized with scheduled runs.
func (s *SweepService) TriggerSweep(ctx context.Context) (expiry.Result, error) {
	var res expiry.Result
	req := &sweepRequest{trigger: store.SweepTriggerManual, result: &res}

	if !s.sched.RunOnce(context.WithValue(ctx, sweepRequestKey{}, req)) {
		return expiry.Result{}, ErrSweepCancelled
	}
	return res, nil
}

// History returns recent sweeps, newest first.
func (s *SweepService) History(ctx context.Context, limit int) ([]*store.SweepRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListSweeps(ctx, limit)
}

func (s *SweepService) run(ctx context.Context) {
	trigger := store.SweepTriggerSchedule
	req, _ := ctx.Value(sweepRequestKey{}).(*sweepRequest)
	if req != nil {
		trigger = req.trigger
	}

	started := s.clock.Now()
	res := s.sweeper.RunSweep(ctx, started)
	if req != nil && req.result != nil {
		*req.result = res
	}

	if s.history == nil {
		return
	}

	// Recording must survive shutdown cancellation.
	recCtx := context.WithoutCancel(ctx)
	rec := &store.SweepRecord{
		ID:             uuid.NewString(),
		Trigger:        trigger,
		StartedAt:      started,
		Duration:       res.Duration,
		Pairs:          res.Pairs,
		Notified:       res.Notified,
		NotFound:       res.NotFound,
		DeliveryFailed: res.DeliveryFailed,
		RaceSkipped:    res.RaceSkipped,
		Fresh:          res.Fresh,
		Cleared:        res.Cleared,
		Interrupted:    res.Interrupted,
	}
	if err := s.history.RecordSweep(recCtx, rec); err != nil {
		s.log.Warn().Err(err).Msg("failed to record sweep")
	}
	if _, err := s.history.PruneSweeps(recCtx, started.Add(-sweepHistoryTTL)); err != nil {
		s.log.Warn().Err(err).Msg("failed to prune sweep history")
	}
}
