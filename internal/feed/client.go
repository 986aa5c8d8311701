// Package feed maintains the streaming connection to the new-token event feed.
package feed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"token-sniffer/internal/observability"
)

// DefaultEndpoint is the PumpPortal data stream.
const DefaultEndpoint = "wss://pumpportal.fun/api/data"

// State is the connection state of the feed client.
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateDraining
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Subscription is one subscribe message sent after every connect.
type Subscription struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// NewTokenSubscription subscribes to token creation events.
var NewTokenSubscription = Subscription{Method: "subscribeNewToken"}

// Config configures feed client behavior.
type Config struct {
	// Endpoint is the WebSocket URL of the feed.
	Endpoint string
	// Subscriptions are (re)issued after every successful dial.
	Subscriptions []Subscription
	// ReconnectBase is the base delay of the full-jitter reconnect backoff.
	ReconnectBase time.Duration
	// ReconnectMax caps the reconnect delay.
	ReconnectMax time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long the connection may stay silent (no message, no pong).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the WebSocket handshake.
	HandshakeTimeout time.Duration
	// Buffer is the capacity of the message channel.
	Buffer int
}

// DefaultConfig returns default feed configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:         DefaultEndpoint,
		Subscriptions:    []Subscription{NewTokenSubscription},
		ReconnectBase:    1 * time.Second,
		ReconnectMax:     30 * time.Second,
		PingInterval:     45 * time.Second,
		ReadTimeout:      120 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Buffer:           64,
	}
}

// Client reads the feed over one long-lived WebSocket connection.
//
// Run drives the state machine Connecting -> Subscribed -> Draining -> Closed.
// A lost connection goes back to Connecting after a full-jitter delay; only
// cancellation of the Run context leads to Draining and Closed.
type Client struct {
	cfg      Config
	log      *zap.Logger
	dialer   websocket.Dialer
	messages chan []byte
	state    atomic.Int32

	// jitter returns a random duration in [0, n]; replaced in tests.
	jitter func(n time.Duration) time.Duration
}

// NewClient creates a feed client. Zero config fields take their defaults.
func NewClient(cfg Config, log *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if len(cfg.Subscriptions) == 0 {
		cfg.Subscriptions = def.Subscriptions
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		cfg:      cfg,
		log:      log.With(zap.String("component", "feed")),
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		messages: make(chan []byte, cfg.Buffer),
		jitter: func(n time.Duration) time.Duration {
			return time.Duration(rand.Int64N(int64(n) + 1))
		},
	}
	c.setState(StateConnecting)
	return c
}

// Messages returns the channel of raw feed messages.
// It is closed when Run returns.
func (c *Client) Messages() <-chan []byte {
	return c.messages
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	observability.SetFeedState(int(s))
}

// Run connects, subscribes and delivers messages until ctx is cancelled.
// Transient network failures never end Run; it returns nil after a clean drain.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)
	defer c.setState(StateClosed)

	attempt := 0
	for {
		c.setState(StateConnecting)

		session := c.log.With(zap.String("session", uuid.NewString()))
		conn, err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.setState(StateSubscribed)
			session.Info("feed subscribed", zap.String("endpoint", c.cfg.Endpoint))

			err = c.consume(ctx, conn)
			if ctx.Err() != nil {
				c.setState(StateDraining)
				c.drain(conn)
				session.Info("feed drained")
				return nil
			}
			conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := c.backoff(attempt)
		attempt++
		observability.RecordFeedReconnect()
		session.Warn("feed connection lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// backoff returns the full-jitter delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := c.cfg.ReconnectMax
	if attempt < 31 {
		if d := c.cfg.ReconnectBase << attempt; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return c.jitter(ceiling)
}

// connect dials the endpoint and sends every subscription.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	for _, sub := range c.cfg.Subscriptions {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("write subscribe %s: %w", sub.Method, err)
		}
	}

	return conn, nil
}

// consume reads messages until the connection fails or ctx is cancelled.
// Delivery blocks while the consumer is busy, which pauses reads from the socket.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(stop)
		wg.Wait()
	}()

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		if ctx.Err() != nil {
			return nil
		}
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pingLoop(conn, stop)
	}()
	go func() {
		defer wg.Done()
		// Unblock ReadMessage on shutdown.
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		observability.RecordFeedMessage()

		select {
		case c.messages <- message:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
// WriteControl may be called concurrently with the reader.
func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				// Reader will notice the dead connection.
				return
			}
		}
	}
}

// drain sends a close frame and closes the connection.
func (c *Client) drain(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
	conn.Close()
}
