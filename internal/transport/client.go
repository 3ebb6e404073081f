package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Client maintains the websocket connection to the chat server: a read pump
// feeding the dispatcher, a write pump draining a buffered send channel, and a
// redial loop with exponential backoff. It implements the sync engine's
// CommandSink and the outbox's submit path.
type Client struct {
	url    string
	disp   *Dispatcher
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	send chan []byte

	closed atomic.Bool
	done   chan struct{}

	onReconnect func()

	log zerolog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithReconnectHandler registers a callback fired after each successful
// re-dial, before events start flowing. The room session re-joins from it.
func WithReconnectHandler(fn func()) ClientOption {
	return func(c *Client) { c.onReconnect = fn }
}

// WithDialer overrides the websocket dialer (timeouts, TLS, proxy).
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// NewClient returns an unconnected client for url.
func NewClient(url string, disp *Dispatcher, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		disp:   disp,
		dialer: websocket.DefaultDialer,
		done:   make(chan struct{}),
		log:    log.With().Str("component", "ws").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the server and starts the pumps. On connection loss the client
// redials on its own until Close is called; callers connect once.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}
	c.start(conn)
	c.log.Info().Str("url", c.url).Msg("connected")
	return nil
}

func (c *Client) start(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, sendBufferSize)
	c.mu.Unlock()
	go c.readLoop(conn)
	go c.writeLoop(conn, c.send)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.connLost(conn)
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("read pump stopped")
			return
		}
		c.disp.Dispatch(payload)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.connLost(conn)
	}()
	for {
		select {
		case frame, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write pump stopped")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// connLost tears down one connection and, unless the client was closed,
// schedules the redial loop. Both pumps funnel through here; only the first
// caller for a given conn acts.
func (c *Client) connLost(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.send = nil
	c.mu.Unlock()
	_ = conn.Close()

	if c.closed.Load() {
		return
	}
	c.log.Warn().Msg("connection lost, reconnecting")
	go c.redial()
}

func (c *Client) redial() {
	delay := reconnectBase
	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn().Err(err).Dur("next_in", delay).Msg("redial failed")
			if delay *= 2; delay > reconnectMax {
				delay = reconnectMax
			}
			continue
		}
		c.start(conn)
		observability.Reconnects.Inc()
		c.log.Info().Msg("reconnected")
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}
}

// sendEvent serializes and queues one command frame. A full buffer drops the
// oldest pending frame rather than blocking the caller.
func (c *Client) sendEvent(event string, payload any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	select {
	case send <- frame:
	default:
		// Buffer full: make room by dropping the oldest pending frame. The
		// retry must not block either; if the write pump died while the
		// buffer was full, nothing will ever drain this channel.
		select {
		case <-send:
		default:
		}
		select {
		case send <- frame:
		default:
			return ErrNotConnected
		}
	}
	return nil
}

// SendJoin implements the sync engine's command sink.
func (c *Client) SendJoin(cmd domain.JoinRoom) error {
	return c.sendEvent(CmdJoinRoom, cmd)
}

// SendLeave implements the sync engine's command sink.
func (c *Client) SendLeave(cmd domain.LeaveRoom) error {
	return c.sendEvent(CmdLeaveRoom, cmd)
}

// SendFetchOlder implements the sync engine's command sink.
func (c *Client) SendFetchOlder(cmd domain.FetchOlder) error {
	return c.sendEvent(CmdFetchPrevious, cmd)
}

// SendChat submits an outbound message. The outbox calls this after
// validation and idempotency-key assignment.
func (c *Client) SendChat(cmd domain.SubmitMessage) error {
	return c.sendEvent(CmdChatMessage, cmd)
}

// Close stops the redial loop and tears down the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.send = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info().Msg("client closed")
	return nil
}
