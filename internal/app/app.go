package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wiresignal-server/internal/auth"
	"github.com/vovakirdan/wiresignal-server/internal/config"
	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/expiry"
	"github.com/vovakirdan/wiresignal-server/internal/metrics"
	"github.com/vovakirdan/wiresignal-server/internal/relay"
	"github.com/vovakirdan/wiresignal-server/internal/scheduler"
	"github.com/vovakirdan/wiresignal-server/internal/store"
	"github.com/vovakirdan/wiresignal-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiresignal-server/internal/transport/http"
)

// App wires together core, background tasks and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	realm           *core.Realm
	router          *relay.Router
	sweeps          *SweepService
	pruner          *scheduler.Scheduler
	store           store.Store
	log             *zerolog.Logger
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	clock    clockwork.Clock
	registry *prometheus.Registry
}

// WithClock replaces the real clock for every component.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	m := metrics.New(o.registry)

	var jwtCfg *auth.JWTConfig
	if cfg.JWTSecret != "" {
		jwtCfg = &auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
			TTL:    24 * time.Hour,
		}
	}

	realm := core.NewRealm()
	router := relay.NewRouter(realm, logger,
		relay.WithClock(o.clock),
		relay.WithDeliveryTimeout(cfg.DeliveryTimeout),
		relay.WithMetrics(m.Relay),
	)

	sweeper := expiry.NewSweeper(realm, router, logger,
		expiry.WithStaleAfter(cfg.ExpireTimeout),
		expiry.WithMetrics(m.Sweep),
	)
	sweeps := NewSweepService(sweeper, st, o.clock, cfg.ExpireInterval, logger)

	pruner := relay.NewPruner(realm, router, cfg.AliveTimeout, m.Relay, logger)
	pruneTask := scheduler.New("prune-connections", cfg.PruneInterval, func(ctx context.Context) {
		pruner.Prune(ctx, o.clock.Now())
	}, logger, scheduler.WithClock(o.clock))

	server := transporthttp.NewServer(transporthttp.Deps{
		Realm:    realm,
		Router:   router,
		Sweeps:   sweeps,
		Gatherer: o.registry,
		JWT:      jwtCfg,
		Clock:    o.clock,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		realm:           realm,
		router:          router,
		sweeps:          sweeps,
		pruner:          pruneTask,
		store:           st,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Sweeps returns the expiry sweep service.
func (a *App) Sweeps() *SweepService {
	return a.sweeps
}

// Realm returns the shared client registry.
func (a *App) Realm() *core.Realm {
	return a.realm
}

// Run starts the background tasks and the HTTP server and blocks until
// context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	a.sweeps.Start(ctx)
	a.pruner.Start(ctx)
	defer a.sweeps.Stop()
	defer a.pruner.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not tracked by Shutdown.
		a.disconnectAll()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *App) disconnectAll() {
	for _, id := range a.realm.ClientIDs() {
		if c, ok := a.realm.ClientFor(id); ok {
			a.router.Disconnect(c)
		}
	}
}

// Close releases resources for an App that was never Run.
func (a *App) Close() {
	a.cleanup()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
	a.store = nil
}
