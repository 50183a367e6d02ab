package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	maxInboundSize = 4096
)

// State is a session lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn a session drives.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(handler func(appData string) error)
	Close() error
}

type closeReason struct {
	code int
	text string
}

// Session is one live feed subscriber. A single writer goroutine owns all
// writes to the connection.
type Session struct {
	id        uuid.UUID
	principal *auth.Principal
	conn      Conn
	outbound  chan []byte
	state     atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
	reason    closeReason
	closed    chan struct{}
}

// NewSession wraps a connection. principal is nil for anonymous viewers.
func NewSession(conn Conn, principal *auth.Principal, bufferSize int) *Session {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	return &Session{
		id:        uuid.New(),
		principal: principal,
		conn:      conn,
		outbound:  make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Principal returns the authenticated owner, or nil.
func (s *Session) Principal() *auth.Principal { return s.principal }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) markOpen() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// enqueue hands a payload to the writer without blocking.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbound <- payload:
		return true
	default:
		return false
	}
}

// shutdown asks the writer to send a close frame and release the connection.
func (s *Session) shutdown(code int, text string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.reason = closeReason{code: code, text: text}
		close(s.done)
	})
}

// Done is closed once the session begins closing.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed is closed once the connection has been released.
func (s *Session) Closed() <-chan struct{} { return s.closed }

func (s *Session) writeLoop(pingInterval time.Duration, onDelivered func(), logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		s.state.Store(int32(StateClosed))
		close(s.closed)
	}()

	for {
		select {
		case <-s.done:
			s.writeClose()
			return
		default:
		}

		select {
		case payload := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("live feed write failed", zap.String("session_id", s.id.String()), zap.Error(err))
				s.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
			onDelivered()
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-s.done:
			s.writeClose()
			return
		}
	}
}

func (s *Session) writeClose() {
	if s.reason.code == websocket.CloseAbnormalClosure {
		return
	}
	message := websocket.FormatCloseMessage(s.reason.code, s.reason.text)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
}

// readLoop discards inbound application messages and keeps the read deadline
// moving while pongs arrive. It returns on the first read error.
func (s *Session) readLoop(pongWait time.Duration) {
	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
