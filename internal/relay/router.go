// Package relay routes signaling messages between connected clients and
// buffers them for clients that are not connected.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/metrics"
)

// DefaultDeliveryTimeout bounds how long a single delivery may block on a full mailbox.
const DefaultDeliveryTimeout = 5 * time.Second

// Message dispositions recorded in metrics.
const (
	dispositionSent    = "sent"
	dispositionQueued  = "queued"
	dispositionDropped = "dropped"
)

// Router moves messages from one client to another through the realm.
type Router struct {
	realm   *core.Realm
	clock   clockwork.Clock
	timeout time.Duration
	metrics *metrics.Relay
	log     zerolog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) RouterOption {
	return func(r *Router) {
		r.clock = c
	}
}

// WithDeliveryTimeout overrides DefaultDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMetrics records routing on m.
func WithMetrics(m *metrics.Relay) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter builds a router over realm.
func NewRouter(realm *core.Realm, logger *zerolog.Logger, opts ...RouterOption) *Router {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	r := &Router{
		realm:   realm,
		clock:   clockwork.NewRealClock(),
		timeout: DefaultDeliveryTimeout,
		log:     l.With().Str("component", "relay").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route dispatches a message received from a client. Heartbeats refresh the
// sender. Messages for a connected destination are sent directly; everything
// else except LEAVE and EXPIRE is queued until the destination shows up.
func (r *Router) Route(ctx context.Context, msg core.Message) error {
	if msg.Type == core.MessageHeartbeat {
		if c, ok := r.realm.ClientFor(msg.Source); ok {
			c.Touch(r.clock.Now())
		}
		return nil
	}

	if dst, ok := r.realm.ClientFor(msg.Destination); ok && !dst.Closed() {
		err := r.Deliver(ctx, dst, msg)
		if err == nil {
			r.count(dispositionSent)
			return nil
		}
		r.log.Debug().Err(err).Str("dst", msg.Destination).Msg("direct delivery failed, queueing")
	}

	switch {
	case msg.Destination != "" && msg.Type.Buffered():
		r.realm.Enqueue(msg.Destination, msg, r.clock.Now())
		r.count(dispositionQueued)
	case msg.Type == core.MessageLeave && msg.Destination == "":
		if c, ok := r.realm.ClientFor(msg.Source); ok {
			r.Disconnect(c)
		}
		r.count(dispositionDropped)
	default:
		r.count(dispositionDropped)
	}
	return nil
}

// Deliver hands msg to client, waiting at most the delivery timeout.
// Any failure is reported as core.ErrDeliveryFailed.
func (r *Router) Deliver(ctx context.Context, client *core.Client, msg core.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := client.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrDeliveryFailed, client.ID, err)
	}
	return nil
}

// Connect registers a client and pushes everything buffered for it.
func (r *Router) Connect(ctx context.Context, client *core.Client) error {
	if err := r.realm.SetClient(client); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.ConnectedClients.Set(float64(len(r.realm.ClientIDs())))
	}

	if err := r.Deliver(ctx, client, core.NewMessage(core.MessageOpen, "")); err != nil {
		return err
	}
	return r.FlushQueued(ctx, client)
}

// FlushQueued drains the client's queue into its mailbox in insertion order.
// Reading the queue advances its read timestamp, which keeps it from expiring.
func (r *Router) FlushQueued(ctx context.Context, client *core.Client) error {
	pending := r.realm.DrainQueue(client.ID, r.clock.Now())
	for i, msg := range pending {
		if err := r.Deliver(ctx, client, msg); err != nil {
			// Put back what could not be delivered so the sweep can expire it.
			for _, rest := range pending[i:] {
				r.realm.Enqueue(client.ID, rest, r.clock.Now())
			}
			return err
		}
	}
	if len(pending) > 0 {
		r.log.Debug().Str("client_id", client.ID).Int("count", len(pending)).Msg("flushed queued messages")
	}
	return nil
}

// Disconnect closes the client and removes it from the realm.
func (r *Router) Disconnect(client *core.Client) {
	client.Close()
	if r.realm.RemoveClient(client) && r.metrics != nil {
		r.metrics.ConnectedClients.Set(float64(len(r.realm.ClientIDs())))
	}
}

func (r *Router) count(disposition string) {
	if r.metrics != nil {
		r.metrics.MessagesTotal.WithLabelValues(disposition).Inc()
	}
}
