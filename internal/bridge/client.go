package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a Go caller on the sandboxed side of the protocol: it dials the
// daemon's websocket endpoint and issues correlated requests through a
// Messenger. The CLI and the standalone page flow both use it.
type Client struct {
	conn      *websocket.Conn
	messenger *Messenger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	// OnCommand, if set before any Send, receives pushed commands.
	OnCommand func(Command)
}

// Dial connects to a hub endpoint (ws:// or wss:// URL).
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		conn: conn,
		done: make(chan struct{}),
	}
	c.messenger = NewMessenger(c.writeJSON, timeout)
	go c.readLoop()
	return c, nil
}

// Send issues a request and waits for its reply (or a synthesized failure).
func (c *Client) Send(ctx context.Context, req Request) Reply {
	return c.messenger.Send(ctx, req)
}

// Report sends a fire-and-forget event upstream.
func (c *Client) Report(evt Event) error {
	return c.writeJSON(evt)
}

// Close tears down the connection. Pending Sends resolve via their timeouts.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// readLoop routes incoming messages: envelopes with an id are replies for
// the messenger's pending table; the rest are pushed commands.
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Debug("client connection closed", "error", err)
			}
			return
		}

		var head struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			slog.Warn("unparseable message from daemon", "error", err)
			continue
		}

		switch {
		case head.ID != "":
			var reply Reply
			if err := json.Unmarshal(data, &reply); err != nil {
				slog.Warn("malformed reply envelope", "error", err)
				continue
			}
			if !c.messenger.Resolve(reply) {
				slog.Debug("reply for unknown or expired request", "id", reply.ID)
			}
		case head.Type != "":
			if c.OnCommand != nil {
				var cmd Command
				if err := json.Unmarshal(data, &cmd); err == nil {
					c.OnCommand(cmd)
				}
			}
		}
	}
}
