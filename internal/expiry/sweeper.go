// Package expiry discards message queues that nobody has read for a while
// and tells the senders of those messages that delivery never happened.
package expiry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/metrics"
)

// DefaultStaleAfter is how long a queue may go unread before it expires.
const DefaultStaleAfter = 30 * time.Second

// Realm is the registry the sweeper reads queues and clients from.
type Realm interface {
	// ClientIDsWithQueue returns a point-in-time snapshot of ids that own a queue.
	ClientIDsWithQueue() []string
	// QueueFor returns the read timestamp and messages of a queue in one consistent read.
	QueueFor(id string) (core.QueueSnapshot, bool)
	ClientFor(id string) (*core.Client, bool)
	// ClearQueue empties the queue without removing it.
	ClearQueue(id string)
}

// NotificationSink delivers a message to a client.
type NotificationSink interface {
	Deliver(ctx context.Context, client *core.Client, msg core.Message) error
}

// Result summarizes one sweep.
type Result struct {
	// Pairs is the number of distinct (source, destination) pairs inspected.
	Pairs          int
	Notified       int
	NotFound       int
	DeliveryFailed int
	RaceSkipped    int
	Fresh          int
	Cleared        int
	// Interrupted is set when cancellation stopped the sweep before all ids were visited.
	Interrupted bool
	Duration    time.Duration
}

// Sweeper expires stale message queues.
type Sweeper struct {
	realm      Realm
	sink       NotificationSink
	staleAfter time.Duration
	metrics    *metrics.Sweep
	log        zerolog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithMetrics records sweep results on m.
func WithMetrics(m *metrics.Sweep) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// NewSweeper builds a sweeper over realm that notifies through sink.
func NewSweeper(realm Realm, sink NotificationSink, logger *zerolog.Logger, opts ...Option) *Sweeper {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	s := &Sweeper{
		realm:      realm,
		sink:       sink,
		staleAfter: DefaultStaleAfter,
		log:        l.With().Str("component", "expiry").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StaleAfter returns the configured staleness threshold.
func (s *Sweeper) StaleAfter() time.Duration {
	return s.staleAfter
}

// sweep carries the state of a single RunSweep call. The seen set spans
// every client id visited in that call.
type sweep struct {
	now    time.Time
	seen   map[core.Pair]struct{}
	result Result
}

// RunSweep makes one pass over every client id that owns a queue. Queues read
// within the staleness threshold are left alone. Stale queues have each
// distinct (source, destination) pair notified at most once per call and are
// then cleared. Cancellation of ctx is honored only between client ids.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time) Result {
	start := time.Now()

	ids := s.realm.ClientIDsWithQueue()
	sw := &sweep{
		now:  now,
		seen: make(map[core.Pair]struct{}),
	}

	// A client id is either fully processed or not touched at all.
	clientCtx := context.WithoutCancel(ctx)

	for _, id := range ids {
		if ctx.Err() != nil {
			sw.result.Interrupted = true
			break
		}
		s.expireClient(clientCtx, sw, id)
	}

	sw.result.Pairs = len(sw.seen)
	sw.result.Duration = time.Since(start)

	s.log.Info().
		Int("pairs", sw.result.Pairs).
		Int("notified", sw.result.Notified).
		Int("not_found", sw.result.NotFound).
		Int("failed", sw.result.DeliveryFailed).
		Int("cleared", sw.result.Cleared).
		Int("race_skipped", sw.result.RaceSkipped).
		Bool("interrupted", sw.result.Interrupted).
		Dur("duration", sw.result.Duration).
		Msgf("pruned expired messages for %d peers", sw.result.Pairs)

	s.observe(sw.result)
	return sw.result
}

func (s *Sweeper) expireClient(ctx context.Context, sw *sweep, id string) {
	queue, ok := s.realm.QueueFor(id)
	if !ok {
		s.log.Debug().Str("client_id", id).Msg("queue vanished before sweep reached it")
		sw.result.RaceSkipped++
		return
	}

	if sw.now.Sub(queue.ReadTimestamp()) < s.staleAfter {
		sw.result.Fresh++
		return
	}

	for _, msg := range queue.Messages() {
		pair := msg.Pair()
		if _, done := sw.seen[pair]; done {
			continue
		}
		s.notify(ctx, sw, msg)
		sw.seen[pair] = struct{}{}
	}

	s.realm.ClearQueue(id)
	sw.result.Cleared++
}

func (s *Sweeper) notify(ctx context.Context, sw *sweep, msg core.Message) {
	source, ok := s.realm.ClientFor(msg.Source)
	if !ok {
		s.log.Debug().
			Str("src", msg.Source).
			Str("dst", msg.Destination).
			Msg("originator of expired message not found")
		sw.result.NotFound++
		return
	}

	notice := core.NewMessage(core.MessageExpire, "")
	notice.Source = msg.Destination
	notice.Destination = msg.Source

	if err := s.sink.Deliver(ctx, source, notice); err != nil {
		s.log.Warn().
			Err(err).
			Str("src", msg.Source).
			Str("dst", msg.Destination).
			Msg("failed to deliver expire notification")
		sw.result.DeliveryFailed++
		return
	}
	sw.result.Notified++
}

func (s *Sweeper) observe(r Result) {
	m := s.metrics
	if m == nil {
		return
	}

	status := "completed"
	if r.Interrupted {
		status = "interrupted"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.Duration.Observe(r.Duration.Seconds())
	m.PairsTotal.Add(float64(r.Pairs))
	m.NotificationsTotal.WithLabelValues(metrics.OutcomeDelivered).Add(float64(r.Notified))
	m.NotificationsTotal.WithLabelValues(metrics.OutcomeNotFound).Add(float64(r.NotFound))
	m.NotificationsTotal.WithLabelValues(metrics.OutcomeFailed).Add(float64(r.DeliveryFailed))
	m.QueuesClearedTotal.Add(float64(r.Cleared))
	m.RaceSkipsTotal.Add(float64(r.RaceSkipped))
}
