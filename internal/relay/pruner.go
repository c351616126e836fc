package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/metrics"
)

// DefaultAliveTimeout is how long a client may go without a heartbeat.
const DefaultAliveTimeout = 60 * time.Second

// Pruner disconnects clients that stopped sending heartbeats.
type Pruner struct {
	realm        *core.Realm
	router       *Router
	aliveTimeout time.Duration
	metrics      *metrics.Relay
	log          zerolog.Logger
}

// NewPruner builds a pruner. A non-positive aliveTimeout selects DefaultAliveTimeout.
func NewPruner(realm *core.Realm, router *Router, aliveTimeout time.Duration, m *metrics.Relay, logger *zerolog.Logger) *Pruner {
	if aliveTimeout <= 0 {
		aliveTimeout = DefaultAliveTimeout
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Pruner{
		realm:        realm,
		router:       router,
		aliveTimeout: aliveTimeout,
		metrics:      m,
		log:          l.With().Str("component", "pruner").Logger(),
	}
}

// Prune removes every client whose last heartbeat is older than the alive
// timeout and returns how many were removed. It stops early if ctx ends.
func (p *Pruner) Prune(ctx context.Context, now time.Time) int {
	removed := 0
	for _, id := range p.realm.ClientIDs() {
		if ctx.Err() != nil {
			break
		}
		c, ok := p.realm.ClientFor(id)
		if !ok {
			continue
		}
		if now.Sub(c.LastPing()) <= p.aliveTimeout {
			continue
		}

		p.router.Disconnect(c)
		removed++
		p.log.Debug().Str("client_id", id).Time("last_ping", c.LastPing()).Msg("pruned unresponsive client")
	}

	if removed > 0 {
		if p.metrics != nil {
			p.metrics.PrunedClients.Add(float64(removed))
		}
		p.log.Info().Int("count", removed).Msg("pruned broken connections")
	}
	return removed
}
