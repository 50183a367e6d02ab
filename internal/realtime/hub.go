// Package realtime fans newly created pins out to live WebSocket viewers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultBufferSize   = 64
	defaultBacklogSize  = 1024
	defaultPingInterval = 30 * time.Second

	// DropSlowConsumer is recorded when a session's outbound buffer is full.
	DropSlowConsumer = "slow_consumer"
	// DropHubBacklog is recorded when the hub cannot accept a publish.
	DropHubBacklog = "hub_backlog"
)

var (
	// ErrHubStopped indicates the hub is no longer running.
	ErrHubStopped = errors.New("realtime: hub stopped")
	// ErrHubAlreadyRunning indicates Run was called twice.
	ErrHubAlreadyRunning = errors.New("realtime: hub already running")
)

// UsernameDirectory resolves display names for pin owners.
type UsernameDirectory interface {
	Usernames(ctx context.Context, ownerIDs []int64) (map[int64]string, error)
}

// Metrics observes hub activity.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	SessionDropped(reason string)
	MessageDelivered()
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()        {}
func (noopMetrics) SessionClosed()        {}
func (noopMetrics) SessionDropped(string) {}
func (noopMetrics) MessageDelivered()     {}

// HubConfig configures a Hub.
type HubConfig struct {
	Directory    UsernameDirectory
	BufferSize   int
	BacklogSize  int
	PingInterval time.Duration
	Metrics      Metrics
	Logger       *zap.Logger
}

type registration struct {
	session *Session
	ack     chan struct{}
}

// Hub owns the set of live sessions. Only the Run goroutine touches the set;
// every mutation arrives as a message on one of its channels.
type Hub struct {
	directory    UsernameDirectory
	bufferSize   int
	pingInterval time.Duration
	metrics      Metrics
	logger       *zap.Logger

	register   chan registration
	unregister chan *Session
	publish    chan []byte
	done       chan struct{}
	running    atomic.Bool
	live       atomic.Int64
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	backlog := cfg.BacklogSize
	if backlog < 1 {
		backlog = defaultBacklogSize
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		directory:    cfg.Directory,
		bufferSize:   bufferSize,
		pingInterval: pingInterval,
		metrics:      metrics,
		logger:       logger,
		register:     make(chan registration),
		unregister:   make(chan *Session, 64),
		publish:      make(chan []byte, backlog),
		done:         make(chan struct{}),
	}
}

// Run processes registrations, unregistrations, and publishes until ctx is
// cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrHubAlreadyRunning
	}
	sessions := make(map[*Session]struct{})
	defer func() {
		close(h.done)
		for session := range sessions {
			h.remove(sessions, session)
			session.shutdown(websocket.CloseGoingAway, "server shutting down")
		}
		h.logger.Info("live feed hub stopped")
	}()

	h.logger.Info("live feed hub started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case request := <-h.register:
			sessions[request.session] = struct{}{}
			request.session.markOpen()
			h.live.Add(1)
			h.metrics.SessionOpened()
			close(request.ack)
		case session := <-h.unregister:
			if _, ok := sessions[session]; ok {
				h.remove(sessions, session)
			}
			session.shutdown(websocket.CloseNormalClosure, "")
		case payload := <-h.publish:
			h.fanOut(sessions, payload)
		}
	}
}

func (h *Hub) fanOut(sessions map[*Session]struct{}, payload []byte) {
	for session := range sessions {
		if session.enqueue(payload) {
			continue
		}
		h.remove(sessions, session)
		h.metrics.SessionDropped(DropSlowConsumer)
		h.logger.Warn("dropping slow live feed session",
			zap.String("session_id", session.ID().String()),
			zap.Int("buffer_size", h.bufferSize))
		session.shutdown(websocket.ClosePolicyViolation, "slow consumer")
	}
}

func (h *Hub) remove(sessions map[*Session]struct{}, session *Session) {
	delete(sessions, session)
	h.live.Add(-1)
	h.metrics.SessionClosed()
}

// Register adds a session and returns once the hub has accepted it, so a pin
// published afterwards reaches it.
func (h *Hub) Register(ctx context.Context, session *Session) error {
	request := registration{session: session, ack: make(chan struct{})}
	select {
	case h.register <- request:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-request.ack:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes a session. Safe to call more than once.
func (h *Hub) Unregister(session *Session) {
	select {
	case h.unregister <- session:
	case <-h.done:
		session.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

// Publish encodes the pin and hands it to the hub without waiting for
// delivery. It satisfies pins.Publisher.
func (h *Hub) Publish(ctx context.Context, pin pins.Pin) {
	payload, err := h.encode(ctx, pin)
	if err != nil {
		h.logger.Error("failed to encode pin for live feed", zap.Int64("pin_id", pin.PinID), zap.Error(err))
		return
	}
	select {
	case h.publish <- payload:
	case <-h.done:
	default:
		h.metrics.SessionDropped(DropHubBacklog)
		h.logger.Warn("live feed backlog full; pin not broadcast", zap.Int64("pin_id", pin.PinID))
	}
}

func (h *Hub) encode(ctx context.Context, pin pins.Pin) ([]byte, error) {
	username := "user-" + strconv.FormatInt(pin.OwnerID, 10)
	if h.directory != nil {
		names, err := h.directory.Usernames(ctx, []int64{pin.OwnerID})
		if err != nil {
			h.logger.Warn("username lookup failed for live feed", zap.Int64("owner_id", pin.OwnerID), zap.Error(err))
		} else if name, ok := names[pin.OwnerID]; ok {
			username = name
		}
	}
	return json.Marshal(pins.NewView(pin, username))
}

// Sessions reports the number of registered sessions.
func (h *Hub) Sessions() int {
	return int(h.live.Load())
}

// Serve registers the session, runs its writer, and blocks reading until the
// peer goes away or the hub closes the session.
func (h *Hub) Serve(ctx context.Context, session *Session) error {
	if err := h.Register(ctx, session); err != nil {
		session.shutdown(websocket.CloseGoingAway, "server shutting down")
		_ = session.conn.Close()
		return err
	}
	go session.writeLoop(h.pingInterval, h.metrics.MessageDelivered, h.logger)

	session.readLoop(h.pingInterval * 2)
	h.Unregister(session)
	<-session.Closed()
	return nil
}
