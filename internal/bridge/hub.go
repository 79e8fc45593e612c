package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HubConfig configures the privileged-side websocket hub.
type HubConfig struct {
	// Responder handles request envelopes. Required.
	Responder *Responder

	// OnSessionStart is called when a sandboxed context connects.
	OnSessionStart func(*Session)

	// OnSessionEnd is called when a sandboxed context disconnects.
	OnSessionEnd func(*Session)

	// OnEvent is called for each fire-and-forget event from a session
	// (e.g. DOM mutation snapshots). Called on the session's read loop;
	// it must not block for long.
	OnEvent func(*Session, Event)
}

// Hub accepts websocket connections from sandboxed contexts and runs the
// request/reply protocol over them. Each request is handled on its own
// goroutine so a slow analysis never blocks the read loop or other requests.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	sessions sync.Map // sessionID -> *Session
	count    atomic.Int64
}

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The proxy serves foreign origins; the page connects back to
			// its own proxied host, so origin checking is done upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the session until disconnect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	session := newSession(uuid.NewString(), conn)
	h.sessions.Store(session.ID, session)
	h.count.Add(1)
	slog.Debug("session connected", "session", session.ID, "remote", r.RemoteAddr)

	go session.writePump()
	if h.cfg.OnSessionStart != nil {
		h.cfg.OnSessionStart(session)
	}

	h.readLoop(r, session)

	session.close()
	h.sessions.Delete(session.ID)
	h.count.Add(-1)
	if h.cfg.OnSessionEnd != nil {
		h.cfg.OnSessionEnd(session)
	}
	slog.Debug("session disconnected", "session", session.ID)
}

// readLoop demultiplexes incoming messages: envelopes with an action are
// requests expecting exactly one reply; envelopes with a type are events.
// Malformed messages are logged and skipped; a hostile or buggy page must
// not be able to take the loop down.
func (h *Hub) readLoop(r *http.Request, session *Session) {
	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			return
		}

		var head struct {
			Action string `json:"action"`
			Type   string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			slog.Warn("unparseable message from session", "session", session.ID, "error", err)
			continue
		}

		switch {
		case head.Action != "":
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				slog.Warn("malformed request envelope", "session", session.ID, "error", err)
				continue
			}
			go h.respond(r, session, req)
		case head.Type != "":
			var evt Event
			if err := json.Unmarshal(data, &evt); err != nil {
				slog.Warn("malformed event envelope", "session", session.ID, "error", err)
				continue
			}
			h.dispatchEvent(session, evt)
		default:
			slog.Warn("message with neither action nor type", "session", session.ID)
		}
	}
}

// respond runs the responder for one request and delivers its single reply.
func (h *Hub) respond(r *http.Request, session *Session, req Request) {
	start := time.Now()
	reply := h.cfg.Responder.Handle(r.Context(), req)
	slog.Debug("request handled",
		"session", session.ID, "action", req.Action,
		"success", reply.Success, "elapsed", time.Since(start))
	session.Send(reply)
}

// dispatchEvent forwards an event, shielding the read loop from a panicking
// consumer.
func (h *Hub) dispatchEvent(session *Session, evt Event) {
	if h.cfg.OnEvent == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("event handler panicked", "session", session.ID, "type", evt.Type, "panic", rec)
		}
	}()
	h.cfg.OnEvent(session, evt)
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int64 {
	return h.count.Load()
}
