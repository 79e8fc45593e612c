package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout is the local give-up for a pending request. The
// remote analysis call can hang; after this window the messenger synthesizes
// a failure envelope for the caller. It is a local give-up, not a remote abort.
const DefaultRequestTimeout = 30 * time.Second

// pendingRequest is the ephemeral correlation record for one in-flight
// request. It is created before the envelope is written and destroyed when
// the matching reply arrives or the timeout elapses.
type pendingRequest struct {
	sentAt time.Time
	ch     chan Reply // buffered; receives at most one reply
}

// Messenger is the sending half of the protocol. Each Send registers a
// one-shot reply channel keyed by a fresh correlation id, so concurrent
// requests are independent: replies route only to their own caller, never
// through a shared "latest result" slot.
type Messenger struct {
	write   func(v any) error
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewMessenger creates a messenger over a write function. The write function
// must serialize the value onto the transport; it is called under no lock and
// must be safe for concurrent use by multiple Sends.
func NewMessenger(write func(v any) error, timeout time.Duration) *Messenger {
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	return &Messenger{
		write:   write,
		timeout: timeout,
		pending: make(map[string]*pendingRequest),
	}
}

// Send issues a request and waits for its one-shot reply. The returned reply
// is always well-formed: transport errors, timeouts, and cancellation are
// synthesized into failure envelopes rather than returned as Go errors, so
// the caller sees the same shape the wire would carry.
//
// Correlation ids are fresh UUIDs and never reused within a process lifetime.
func (m *Messenger) Send(ctx context.Context, req Request) Reply {
	req.ID = uuid.NewString()

	pr := &pendingRequest{
		sentAt: time.Now(),
		ch:     make(chan Reply, 1),
	}

	m.mu.Lock()
	m.pending[req.ID] = pr
	m.mu.Unlock()

	if err := m.write(req); err != nil {
		m.remove(req.ID)
		return failureReply(req.ID, fmt.Sprintf("failed to send request: %v", err))
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case reply := <-pr.ch:
		return reply
	case <-timer.C:
		m.remove(req.ID)
		return failureReply(req.ID, fmt.Sprintf("no reply within %s", m.timeout))
	case <-ctx.Done():
		m.remove(req.ID)
		return failureReply(req.ID, fmt.Sprintf("request cancelled: %v", ctx.Err()))
	}
}

// Resolve delivers a reply to its pending caller. Exactly one delivery per
// correlation id: the entry is removed before the send, so a duplicate reply
// finds no pending record and is dropped. Returns whether a caller was found.
func (m *Messenger) Resolve(reply Reply) bool {
	m.mu.Lock()
	pr, ok := m.pending[reply.ID]
	if ok {
		delete(m.pending, reply.ID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	pr.ch <- reply // buffered, never blocks
	return true
}

// PendingCount returns the number of in-flight requests.
func (m *Messenger) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Messenger) remove(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
