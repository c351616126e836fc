package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresignal-server/internal/auth"
	"github.com/vovakirdan/wiresignal-server/internal/config"
	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/relay"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Realm  *core.Realm
	Router *relay.Router
	Sweeps SweepRunner
	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
	JWT      *auth.JWTConfig
	Clock    clockwork.Clock
}

// NewServer builds an HTTP server with the signaling and admin routes.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(deps.Realm, deps.Sweeps, cfg.AllowDiscovery, logger)

	r.GET("/health", healthHandler)
	r.GET("/peerjs", gin.WrapH(NewWSHandler(deps.Router, cfg, deps.JWT, deps.Clock, logger)))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	keyed := r.Group("/:key", KeyMiddleware(cfg.Key))
	keyed.GET("/id", api.ClientID)
	keyed.GET("/peers", api.Peers)

	if deps.Sweeps != nil {
		sweeps := r.Group("/api/sweeps", AuthMiddleware(deps.JWT, logger))
		sweeps.GET("", api.ListSweeps)
		sweeps.POST("", api.TriggerSweep)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
