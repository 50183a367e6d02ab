package realtime

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errMissingHub = errors.New("realtime: hub is required")

// TokenResolver turns an optional live feed token into a principal.
type TokenResolver interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// HandlerConfig configures the live feed endpoint.
type HandlerConfig struct {
	Hub        *Hub
	Tokens     TokenResolver
	Throttle   *ConnectThrottle
	BufferSize int
	Logger     *zap.Logger
}

// Handler upgrades GET /ws/pins requests into live feed sessions.
type Handler struct {
	hub        *Hub
	tokens     TokenResolver
	throttle   *ConnectThrottle
	bufferSize int
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewHandler constructs the live feed endpoint.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:        cfg.Hub,
		tokens:     cfg.Tokens,
		throttle:   cfg.Throttle,
		bufferSize: cfg.BufferSize,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			// Viewing the feed is public; browsers on any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.throttle != nil && !h.throttle.Allow(remoteIP(r)) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	principal := h.resolvePrincipal(r.URL.Query().Get("token"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("live feed upgrade failed", zap.Error(err))
		return
	}

	session := NewSession(conn, principal, h.bufferSize)
	fields := []zap.Field{zap.String("session_id", session.ID().String())}
	if principal != nil {
		fields = append(fields, zap.Int64("owner_id", principal.OwnerID))
	}
	h.logger.Debug("live feed session opened", fields...)

	if err := h.hub.Serve(r.Context(), session); err != nil {
		h.logger.Debug("live feed session rejected", append(fields, zap.Error(err))...)
		return
	}
	h.logger.Debug("live feed session closed", fields...)
}

// resolvePrincipal returns nil for missing or invalid tokens; the feed is
// public and such viewers register anonymously.
func (h *Handler) resolvePrincipal(token string) *auth.Principal {
	if token == "" || h.tokens == nil {
		return nil
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Debug("live feed token rejected; continuing anonymously", zap.Error(err))
		return nil
	}
	return &auth.Principal{OwnerID: claims.UserID, Username: claims.Username}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
