package expiry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/metrics"
)

type delivery struct {
	To  string
	Msg core.Message
}

type mockSink struct {
	mu         sync.Mutex
	deliveries []delivery
	deliverFn  func(ctx context.Context, client *core.Client, msg core.Message) error
}

func (m *mockSink) Deliver(ctx context.Context, client *core.Client, msg core.Message) error {
	m.mu.Lock()
	m.deliveries = append(m.deliveries, delivery{To: client.ID, Msg: msg})
	m.mu.Unlock()
	if m.deliverFn != nil {
		return m.deliverFn(ctx, client, msg)
	}
	return nil
}

func (m *mockSink) getDeliveries() []delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// racyRealm wraps a real realm and lets tests drop queues after the id snapshot.
type racyRealm struct {
	*core.Realm
	vanished map[string]bool
}

func (r *racyRealm) QueueFor(id string) (core.QueueSnapshot, bool) {
	if r.vanished[id] {
		return core.QueueSnapshot{}, false
	}
	return r.Realm.QueueFor(id)
}

var epoch = time.Unix(1_700_000_000, 0)

func msg(src, dst string) core.Message {
	return core.Message{Type: core.MessageOffer, Source: src, Destination: dst, Payload: `{"sdp":"x"}`}
}

func register(t *testing.T, realm *core.Realm, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, realm.SetClient(core.NewClient(id, "tok-"+id, epoch)))
	}
}

func newTestSweeper(realm Realm, sink NotificationSink, opts ...Option) *Sweeper {
	logger := zerolog.Nop()
	return NewSweeper(realm, sink, &logger, opts...)
}

func TestRunSweep_EmptyRealmIsNoop(t *testing.T) {
	sink := &mockSink{}
	s := newTestSweeper(core.NewRealm(), sink)

	res := s.RunSweep(context.Background(), epoch)

	assert.Equal(t, 0, res.Pairs)
	assert.Empty(t, sink.getDeliveries())
}

func TestRunSweep_DedupSpansClients(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X", "Y")

	// A: [X->A, X->A, Y->A], B: [X->A]
	realm.Enqueue("A", msg("X", "A"), epoch)
	realm.Enqueue("A", msg("X", "A"), epoch)
	realm.Enqueue("A", msg("Y", "A"), epoch)
	realm.Enqueue("B", msg("X", "A"), epoch)

	sink := &mockSink{}
	s := newTestSweeper(realm, sink)

	res := s.RunSweep(context.Background(), epoch.Add(31*time.Second))

	deliveries := sink.getDeliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, "X", deliveries[0].To)
	assert.Equal(t, "Y", deliveries[1].To)
	for _, d := range deliveries {
		assert.Equal(t, core.MessageExpire, d.Msg.Type)
		assert.Empty(t, d.Msg.Payload)
		assert.Equal(t, "A", d.Msg.Source)
		assert.Equal(t, d.To, d.Msg.Destination)
	}

	assert.Equal(t, 2, res.Pairs)
	assert.Equal(t, 2, res.Notified)
	assert.Equal(t, 2, res.Cleared)

	for _, id := range []string{"A", "B"} {
		snap, ok := realm.QueueFor(id)
		require.True(t, ok)
		assert.Empty(t, snap.Messages(), "queue %s should be cleared", id)
	}
}

func TestRunSweep_FreshQueueUntouched(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X")
	realm.Enqueue("A", msg("X", "A"), epoch)

	sink := &mockSink{}
	s := newTestSweeper(realm, sink)

	res := s.RunSweep(context.Background(), epoch.Add(10*time.Second))

	assert.Empty(t, sink.getDeliveries())
	assert.Equal(t, 1, res.Fresh)
	assert.Equal(t, 0, res.Cleared)
	assert.Equal(t, 0, res.Pairs)

	snap, ok := realm.QueueFor("A")
	require.True(t, ok)
	assert.Len(t, snap.Messages(), 1)
}

func TestRunSweep_ThresholdIsInclusive(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X")
	realm.Enqueue("A", msg("X", "A"), epoch)

	sink := &mockSink{}
	s := newTestSweeper(realm, sink)

	res := s.RunSweep(context.Background(), epoch.Add(DefaultStaleAfter))

	assert.Equal(t, 1, res.Cleared)
	assert.Len(t, sink.getDeliveries(), 1)
}

func TestRunSweep_UnknownSourceStillClears(t *testing.T) {
	realm := core.NewRealm()
	realm.Enqueue("A", msg("ghost", "A"), epoch)

	sink := &mockSink{}
	s := newTestSweeper(realm, sink)

	res := s.RunSweep(context.Background(), epoch.Add(time.Minute))

	assert.Empty(t, sink.getDeliveries())
	assert.Equal(t, 1, res.NotFound)
	assert.Equal(t, 1, res.Pairs)
	assert.Equal(t, 1, res.Cleared)

	snap, _ := realm.QueueFor("A")
	assert.Empty(t, snap.Messages())
}

func TestRunSweep_EmptyStaleQueueIsCleared(t *testing.T) {
	realm := core.NewRealm()
	realm.Enqueue("A", msg("X", "A"), epoch)
	realm.ClearQueue("A")

	s := newTestSweeper(realm, &mockSink{})
	res := s.RunSweep(context.Background(), epoch.Add(time.Minute))

	assert.Equal(t, 1, res.Cleared)
	assert.Equal(t, 0, res.Pairs)
}

func TestRunSweep_DeliveryFailureDoesNotStopSweep(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X", "Y")
	realm.Enqueue("A", msg("X", "A"), epoch)
	realm.Enqueue("A", msg("Y", "A"), epoch)
	realm.Enqueue("B", msg("X", "B"), epoch)

	sink := &mockSink{
		deliverFn: func(_ context.Context, client *core.Client, _ core.Message) error {
			if client.ID == "X" {
				return core.ErrClientClosed
			}
			return nil
		},
	}
	s := newTestSweeper(realm, sink)

	res := s.RunSweep(context.Background(), epoch.Add(time.Minute))

	assert.Len(t, sink.getDeliveries(), 3)
	assert.Equal(t, 2, res.DeliveryFailed)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 3, res.Pairs)
	assert.Equal(t, 2, res.Cleared)
}

func TestRunSweep_FailedPairNotRetriedInSameSweep(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X")
	realm.Enqueue("A", msg("X", "A"), epoch)
	realm.Enqueue("A", msg("X", "A"), epoch)

	sink := &mockSink{
		deliverFn: func(context.Context, *core.Client, core.Message) error {
			return errors.New("boom")
		},
	}
	s := newTestSweeper(realm, sink)
	s.RunSweep(context.Background(), epoch.Add(time.Minute))

	assert.Len(t, sink.getDeliveries(), 1)
}

func TestRunSweep_DedupResetsBetweenSweeps(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X")
	realm.Enqueue("A", msg("X", "A"), epoch)

	sink := &mockSink{}
	s := newTestSweeper(realm, sink)
	s.RunSweep(context.Background(), epoch.Add(time.Minute))

	// The queue keeps its read timestamp, so a refill is stale immediately.
	realm.Enqueue("A", msg("X", "A"), epoch.Add(time.Minute))
	res := s.RunSweep(context.Background(), epoch.Add(2*time.Minute))

	assert.Len(t, sink.getDeliveries(), 2)
	assert.Equal(t, 1, res.Pairs)
}

func TestRunSweep_RaceSkipIsBenign(t *testing.T) {
	base := core.NewRealm()
	register(t, base, "X")
	base.Enqueue("A", msg("X", "A"), epoch)
	base.Enqueue("B", msg("X", "B"), epoch)

	realm := &racyRealm{Realm: base, vanished: map[string]bool{"A": true}}
	sink := &mockSink{}
	s := newTestSweeper(realm, sink)

	res := s.RunSweep(context.Background(), epoch.Add(time.Minute))

	assert.Equal(t, 1, res.RaceSkipped)
	assert.Equal(t, 1, res.Cleared)
	require.Len(t, sink.getDeliveries(), 1)
	assert.Equal(t, "B", sink.getDeliveries()[0].Msg.Source)
}

func TestRunSweep_CancellationStopsBetweenClients(t *testing.T) {
	base := core.NewRealm()
	register(t, base, "X", "Y")
	base.Enqueue("A", msg("X", "A"), epoch)
	base.Enqueue("A", msg("Y", "A"), epoch)
	base.Enqueue("B", msg("X", "B"), epoch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancelled bool
	sink := &mockSink{
		deliverFn: func(dctx context.Context, _ *core.Client, _ core.Message) error {
			// Cancel while A is mid-list; A must still finish.
			cancel()
			if dctx.Err() != nil {
				sawCancelled = true
			}
			return nil
		},
	}
	s := newTestSweeper(base, sink)

	res := s.RunSweep(ctx, epoch.Add(time.Minute))

	assert.True(t, res.Interrupted)
	assert.False(t, sawCancelled, "per-client delivery must not observe cancellation")
	assert.Len(t, sink.getDeliveries(), 2, "both of A's pairs are notified")
	assert.Equal(t, 1, res.Cleared)

	snapA, _ := base.QueueFor("A")
	assert.Empty(t, snapA.Messages())
	snapB, _ := base.QueueFor("B")
	assert.Len(t, snapB.Messages(), 1, "B is left for the next run")
}

func TestRunSweep_CustomStaleAfter(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X")
	realm.Enqueue("A", msg("X", "A"), epoch)

	s := newTestSweeper(realm, &mockSink{}, WithStaleAfter(5*time.Second))
	assert.Equal(t, 5*time.Second, s.StaleAfter())

	res := s.RunSweep(context.Background(), epoch.Add(6*time.Second))
	assert.Equal(t, 1, res.Cleared)
}

func TestRunSweep_RecordsMetrics(t *testing.T) {
	realm := core.NewRealm()
	register(t, realm, "X")
	realm.Enqueue("A", msg("X", "A"), epoch)
	realm.Enqueue("A", msg("ghost", "A"), epoch)

	m := metrics.New(prometheus.NewRegistry())
	s := newTestSweeper(realm, &mockSink{}, WithMetrics(m.Sweep))

	s.RunSweep(context.Background(), epoch.Add(time.Minute))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweep.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sweep.PairsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweep.NotificationsTotal.WithLabelValues(metrics.OutcomeDelivered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweep.NotificationsTotal.WithLabelValues(metrics.OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweep.QueuesClearedTotal))
}

type summaryRecord struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Pairs   int    `json:"pairs"`
}

func summaryRecords(t *testing.T, buf *bytes.Buffer) []summaryRecord {
	t.Helper()

	var out []summaryRecord
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec summaryRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		if rec.Level == "info" && strings.HasPrefix(rec.Message, "pruned expired messages") {
			out = append(out, rec)
		}
	}
	return out
}

func TestRunSweep_LogsOneSummaryPerSweep(t *testing.T) {
	t.Run("dedup across clients", func(t *testing.T) {
		realm := core.NewRealm()
		register(t, realm, "X", "Y")
		realm.Enqueue("A", msg("X", "A"), epoch)
		realm.Enqueue("A", msg("X", "A"), epoch)
		realm.Enqueue("A", msg("Y", "A"), epoch)
		realm.Enqueue("B", msg("X", "A"), epoch)

		var buf bytes.Buffer
		logger := zerolog.New(&buf)
		s := NewSweeper(realm, &mockSink{}, &logger)

		s.RunSweep(context.Background(), epoch.Add(31*time.Second))

		recs := summaryRecords(t, &buf)
		require.Len(t, recs, 1)
		assert.Equal(t, 2, recs[0].Pairs)
		assert.Equal(t, "pruned expired messages for 2 peers", recs[0].Message)
	})

	t.Run("empty realm", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)
		s := NewSweeper(core.NewRealm(), &mockSink{}, &logger)

		s.RunSweep(context.Background(), epoch)

		recs := summaryRecords(t, &buf)
		require.Len(t, recs, 1)
		assert.Equal(t, 0, recs[0].Pairs)
		assert.Equal(t, "pruned expired messages for 0 peers", recs[0].Message)
	})
}

func TestRunSweep_EmptyRealmRecordsRun(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := newTestSweeper(core.NewRealm(), &mockSink{}, WithMetrics(m.Sweep))

	s.RunSweep(context.Background(), epoch)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweep.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Sweep.PairsTotal))
}
