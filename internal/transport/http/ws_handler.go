package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wiresignal-server/internal/auth"
	"github.com/vovakirdan/wiresignal-server/internal/config"
	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/proto"
	"github.com/vovakirdan/wiresignal-server/internal/relay"
)

const (
	msgInvalidKey     = "Invalid key provided"
	msgMissingParams  = "No id, token, or key supplied to websocket server"
	msgInvalidToken   = "Invalid token provided"
	msgIDTaken        = "ID is taken"
	msgRateLimited    = "Rate limit exceeded"
	closeReasonClosed = "connection closed by server"
)

var (
	errInvalidKey    = core.NewCoreError(core.ErrCodeInvalidKey, msgInvalidKey)
	errMissingParams = core.NewCoreError(core.ErrCodeBadRequest, msgMissingParams)
	errInvalidToken  = core.NewCoreError(core.ErrCodeInvalidToken, msgInvalidToken)
	errIDTaken       = core.NewCoreError(core.ErrCodeIDTaken, msgIDTaken)
	errRateLimited   = core.NewCoreError(core.ErrCodeRateLimited, msgRateLimited)
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	router *relay.Router
	cfg    config.Config
	jwt    *auth.JWTConfig
	clock  clockwork.Clock
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(router *relay.Router, cfg config.Config, jwtCfg *auth.JWTConfig, clock clockwork.Clock, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{router: router, cfg: cfg, jwt: jwtCfg, clock: clock, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	q := r.URL.Query()
	key, id, token := q.Get("key"), q.Get("id"), q.Get("token")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	ctx := r.Context()

	switch {
	case key != h.cfg.Key:
		h.reject(ctx, conn, core.MessageError, errInvalidKey)
		return
	case id == "" || token == "":
		h.reject(ctx, conn, core.MessageError, errMissingParams)
		return
	}
	if h.jwt.Enabled() {
		if err := auth.ValidatePeerToken(h.jwt, id, token); err != nil {
			h.log.Debug().Err(err).Str("client_id", id).Msg("rejecting peer token")
			h.reject(ctx, conn, core.MessageError, errInvalidToken)
			return
		}
	}

	client := core.NewClient(id, token, h.clock.Now())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.writeLoop(gctx, conn, client)
	})

	if err := h.router.Connect(gctx, client); err != nil {
		h.router.Disconnect(client)
		_ = g.Wait()
		if errors.Is(err, core.ErrIDTaken) {
			h.reject(ctx, conn, core.MessageIDTaken, errIDTaken)
			return
		}
		h.log.Warn().Err(err).Str("client_id", id).Msg("failed to open client")
		conn.Close(websocket.StatusInternalError, "open failed")
		return
	}
	h.log.Debug().Str("client_id", id).Msg("client connected")

	g.Go(func() error {
		defer h.router.Disconnect(client)
		return h.readLoop(gctx, conn, client)
	})

	err = g.Wait()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) || errors.Is(err, core.ErrClientClosed) {
			err = nil
			reason = closeReasonClosed
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", id).Msg("ws connection closed with error")
		}
	}
	h.log.Debug().Str("client_id", id).Msg("client disconnected")

	conn.Close(status, reason)
}

// reject sends a single frame to a connection that never became a client.
func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, kind core.MessageType, cerr *core.CoreError) {
	env := proto.Error(cerr.Message)
	env.Type = string(kind)
	if err := wsjson.Write(ctx, conn, env); err != nil {
		h.log.Debug().Err(err).Msg("write rejection")
	}
	h.log.Debug().Str("code", cerr.Code).Msg("rejected websocket connection")
	conn.Close(websocket.StatusPolicyViolation, cerr.Code)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}

		if !limiter.allow() {
			if err := h.router.Deliver(ctx, client, errorMessage(errRateLimited)); err != nil {
				return err
			}
			continue
		}

		msg, cerr := envelopeToMessage(client, env)
		if cerr != nil {
			h.log.Debug().Str("client_id", client.ID).Str("code", cerr.Code).Msg(cerr.Message)
			if err := h.router.Deliver(ctx, client, errorMessage(cerr)); err != nil {
				return err
			}
			continue
		}

		if err := h.router.Route(ctx, msg); err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("failed to route message")
		}
		if msg.Type == core.MessageLeave && msg.Destination == "" {
			return nil
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case msg := <-client.Outbox():
			if err := wsjson.Write(ctx, conn, messageToEnvelope(msg)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws message")
				return err
			}
		case <-client.Done():
			return core.ErrClientClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
