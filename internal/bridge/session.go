package bridge

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// outboundBuffer bounds the per-session send queue. A page that stops
// reading gets its messages dropped, not the daemon blocked.
const outboundBuffer = 32

// Session is one connected sandboxed context. All writes to the connection
// funnel through the outbound channel so a single goroutine owns the writer,
// which the websocket library requires.
type Session struct {
	ID string

	conn     *websocket.Conn
	outbound chan any
	done     chan struct{}
	once     sync.Once
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		ID:       id,
		conn:     conn,
		outbound: make(chan any, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// Send enqueues a message for delivery to the sandboxed side. It never
// blocks: if the session is gone or its queue is full the message is dropped
// and false is returned.
func (s *Session) Send(v any) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbound <- v:
		return true
	case <-s.done:
		return false
	default:
		slog.Warn("dropping message for slow session", "session", s.ID)
		return false
	}
}

// writePump is the single writer for the connection. Runs until the session
// closes.
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case v := <-s.outbound:
			if err := s.conn.WriteJSON(v); err != nil {
				slog.Debug("session write failed", "session", s.ID, "error", err)
				s.close()
				return
			}
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
