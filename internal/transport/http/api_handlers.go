package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/expiry"
	"github.com/vovakirdan/wiresignal-server/internal/store"
)

// maxSweepLimit caps the number of records a single history request may return.
const maxSweepLimit = 500

// SweepRunner triggers expiry sweeps on demand and reports past ones.
type SweepRunner interface {
	TriggerSweep(ctx context.Context) (expiry.Result, error)
	History(ctx context.Context, limit int) ([]*store.SweepRecord, error)
}

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	realm          *core.Realm
	sweeps         SweepRunner
	allowDiscovery bool
	log            *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(realm *core.Realm, sweeps SweepRunner, allowDiscovery bool, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		realm:          realm,
		sweeps:         sweeps,
		allowDiscovery: allowDiscovery,
		log:            logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SweepResponse is the JSON form of one sweep.
type SweepResponse struct {
	ID             string    `json:"id,omitempty"`
	Trigger        string    `json:"trigger,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	DurationMS     int64     `json:"duration_ms"`
	Pairs          int       `json:"pairs"`
	Notified       int       `json:"notified"`
	NotFound       int       `json:"not_found"`
	DeliveryFailed int       `json:"delivery_failed"`
	RaceSkipped    int       `json:"race_skipped"`
	Fresh          int       `json:"fresh"`
	Cleared        int       `json:"cleared"`
	Interrupted    bool      `json:"interrupted"`
}

// ClientID hands out a fresh, unused client id.
// GET /:key/id
func (h *APIHandlers) ClientID(c *gin.Context) {
	c.String(http.StatusOK, h.realm.GenerateClientID())
}

// Peers lists connected client ids when discovery is enabled.
// GET /:key/peers
func (h *APIHandlers) Peers(c *gin.Context) {
	if !h.allowDiscovery {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "peer discovery is disabled"})
		return
	}
	c.JSON(http.StatusOK, h.realm.ClientIDs())
}

// ListSweeps returns the most recent sweeps, newest first.
// GET /api/sweeps?limit=
func (h *APIHandlers) ListSweeps(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxSweepLimit)
	}

	records, err := h.sweeps.History(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list sweeps")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]SweepResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, SweepResponse{
			ID:             rec.ID,
			Trigger:        string(rec.Trigger),
			StartedAt:      rec.StartedAt,
			DurationMS:     rec.Duration.Milliseconds(),
			Pairs:          rec.Pairs,
			Notified:       rec.Notified,
			NotFound:       rec.NotFound,
			DeliveryFailed: rec.DeliveryFailed,
			RaceSkipped:    rec.RaceSkipped,
			Fresh:          rec.Fresh,
			Cleared:        rec.Cleared,
			Interrupted:    rec.Interrupted,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// TriggerSweep runs an expiry sweep immediately and returns its result.
// POST /api/sweeps
func (h *APIHandlers) TriggerSweep(c *gin.Context) {
	res, err := h.sweeps.TriggerSweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "sweep cancelled"})
			return
		}
		h.log.Error().Err(err).Msg("failed to trigger sweep")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "sweep unavailable"})
		return
	}

	h.log.Info().Int("pairs", res.Pairs).Int("cleared", res.Cleared).Msg("manual sweep completed")
	c.JSON(http.StatusOK, SweepResponse{
		DurationMS:     res.Duration.Milliseconds(),
		Pairs:          res.Pairs,
		Notified:       res.Notified,
		NotFound:       res.NotFound,
		DeliveryFailed: res.DeliveryFailed,
		RaceSkipped:    res.RaceSkipped,
		Fresh:          res.Fresh,
		Cleared:        res.Cleared,
		Interrupted:    res.Interrupted,
	})
}
