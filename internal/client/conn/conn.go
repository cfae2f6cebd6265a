// Package conn maintains the client's persistent websocket channel: the
// join handshake, a single inbound event stream, an outbound write loop,
// and transparent reconnection with exponential backoff using the resume
// token issued at the first join.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	handshakeWait  = 10 * time.Second
)

type Config struct {
	URL         string
	SessionID   string
	Fingerprint string
	ChunkSize   int
	Logger      logging.Logger
}

type Conn struct {
	cfg    Config
	logger logging.Logger

	mu          sync.Mutex
	ws          *websocket.Conn
	resumeToken string

	outbound chan protocol.Message
	events   chan protocol.Message
	done     chan struct{}
	once     sync.Once
}

// Dial connects, performs the join handshake and starts the pump
// goroutines. The returned JoinedPayload carries the server's chunk size
// and the session's current content index.
func Dial(ctx context.Context, cfg Config) (*Conn, *protocol.JoinedPayload, error) {
	c := &Conn{
		cfg:      cfg,
		logger:   cfg.Logger.With("module", "conn"),
		outbound: make(chan protocol.Message, 64),
		events:   make(chan protocol.Message, 64),
		done:     make(chan struct{}),
	}

	joined, err := c.connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	go c.readLoop()
	go c.writeLoop()

	return c, joined, nil
}

// connect dials and joins. On success it swaps the active websocket.
func (c *Conn) connect(ctx context.Context) (*protocol.JoinedPayload, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	token := c.resumeToken
	c.mu.Unlock()

	join, err := protocol.New(protocol.TypeJoin, protocol.JoinPayload{
		SessionID:   c.cfg.SessionID,
		Fingerprint: c.cfg.Fingerprint,
		ChunkSize:   c.cfg.ChunkSize,
		ResumeToken: token,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}

	_ = ws.SetWriteDeadline(time.Now().Add(handshakeWait))
	if err := ws.WriteJSON(join); err != nil {
		ws.Close()
		return nil, fmt.Errorf("join write: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(handshakeWait))
	var reply protocol.Message
	if err := ws.ReadJSON(&reply); err != nil {
		ws.Close()
		return nil, fmt.Errorf("join read: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	_ = ws.SetWriteDeadline(time.Time{})

	if reply.Type != protocol.TypeJoined {
		ws.Close()
		return nil, fmt.Errorf("unexpected handshake reply: %s", reply.Type)
	}

	var joined protocol.JoinedPayload
	if err := json.Unmarshal(reply.Payload, &joined); err != nil {
		ws.Close()
		return nil, err
	}

	if !joined.Accepted {
		ws.Close()
		if joined.Reason == "chunk size mismatch" {
			return nil, fmt.Errorf("%w: %s", common.ErrChunkSizeMismatch, joined.Reason)
		}
		return nil, fmt.Errorf("%w: %s", common.ErrAuthentication, joined.Reason)
	}

	c.mu.Lock()
	c.ws = ws
	if joined.ResumeToken != "" {
		c.resumeToken = joined.ResumeToken
	}
	c.mu.Unlock()

	return &joined, nil
}

func (c *Conn) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// readLoop forwards inbound messages to the single events channel and
// reconnects on failure. After a reconnect the fresh joined payload is
// injected into the event stream so the consumer can resynchronize its
// content index.
func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		ws := c.current()
		var msg protocol.Message
		err := ws.ReadJSON(&msg)
		if err == nil {
			select {
			case c.events <- msg:
			case <-c.done:
				return
			}
			continue
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Warn(context.Background(), "connection lost, reconnecting", "error", err)
		if !c.reconnect() {
			return
		}
	}
}

// reconnect retries with exponential backoff until it succeeds or the
// connection is closed. An authentication rejection ends the retry loop:
// backing off will not make a bad fingerprint good.
func (c *Conn) reconnect() bool {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeWait)
		joined, err := c.connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info(context.Background(), "reconnected", "session_id", c.cfg.SessionID)
			if msg, merr := protocol.New(protocol.TypeJoined, joined); merr == nil {
				select {
				case c.events <- msg:
				case <-c.done:
					return false
				}
			}
			return true
		}

		if errors.Is(err, common.ErrAuthentication) || errors.Is(err, common.ErrChunkSizeMismatch) {
			c.logger.Error(context.Background(), "reconnect rejected", "error", err)
			c.Close()
			return false
		}

		c.logger.Warn(context.Background(), "reconnect failed", "error", err, "backoff", backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			ws := c.current()
			if err := ws.WriteJSON(msg); err != nil {
				// Dropped mid-reconnect; the transfer layer's retry loop
				// re-emits anything that mattered.
				c.logger.Warn(context.Background(), "write failed", "type", msg.Type, "error", err)
			}
		}
	}
}

// Send queues a message for delivery. Delivery is fire-and-forget, matching
// the protocol: acknowledgements arrive asynchronously on Events.
func (c *Conn) Send(msg protocol.Message) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

// Events returns the inbound message stream. It is consumed by exactly one
// dispatch loop.
func (c *Conn) Events() <-chan protocol.Message {
	return c.events
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		if ws := c.current(); ws != nil {
			ws.Close()
		}
	})
}
