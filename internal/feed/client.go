package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a frame to the venue.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next frame or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Default venue endpoint and origin.
const (
	DefaultURL    = "wss://ws.prod.blockchain.info/mercury-gateway/v1/ws"
	DefaultOrigin = "https://exchange.blockchain.com"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("feed: client closed")

// ClientConfig holds connection settings.
type ClientConfig struct {
	URL              string
	Origin           string
	Symbols          []string
	Channels         []string // "l3" is always subscribed
	PriceGranularity int      // seconds, for the "prices" channel
	HandshakeTimeout time.Duration
}

// Subscription is one subscribe command as the venue expects it.
type Subscription struct {
	Action      string `json:"action"`
	Channel     string `json:"channel"`
	Symbol      string `json:"symbol,omitempty"`
	Granularity int    `json:"granularity,omitempty"`
}

// Subscriptions expands cfg into subscribe commands: one per symbol for every
// symbol-scoped channel, and one for the heartbeat channel.
func (cfg ClientConfig) Subscriptions() []Subscription {
	channels := []string{"l3"}
	for _, ch := range cfg.Channels {
		if ch != "l3" {
			channels = append(channels, ch)
		}
	}

	var subs []Subscription
	for _, ch := range channels {
		if ch == "heartbeat" {
			subs = append(subs, Subscription{Action: "subscribe", Channel: ch})
			continue
		}
		for _, sym := range cfg.Symbols {
			sub := Subscription{Action: "subscribe", Channel: ch, Symbol: sym}
			if ch == "prices" {
				sub.Granularity = cfg.PriceGranularity
				if sub.Granularity == 0 {
					sub.Granularity = 60
				}
			}
			subs = append(subs, sub)
		}
	}
	return subs
}

// Client is a pull-based websocket client for the venue's market data feed.
// Next returns one frame at a time; a dropped connection is re-dialled with
// exponential backoff and the subscriptions are replayed.
type Client struct {
	cfg    ClientConfig
	subs   []Subscription
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewClient creates a client. No connection is made until Connect or Next.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		subs:   cfg.Subscriptions(),
		logger: logger.With(slog.String("component", "feed")),
		done:   make(chan struct{}),
	}
}

// Connect dials the venue and sends every subscription.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := http.Header{}
	header.Set("Origin", c.cfg.Origin)

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, sub := range c.subs {
		if err := writeJSON(conn, sub); err != nil {
			conn.Close()
			return fmt.Errorf("feed: subscribe %s %s: %w", sub.Channel, sub.Symbol, err)
		}
	}

	c.conn = conn
	go c.pingLoop(conn)

	c.logger.Info("connected",
		slog.String("url", c.cfg.URL),
		slog.Int("subscriptions", len(c.subs)),
	)
	return nil
}

// Next blocks until the next frame arrives and returns its bytes. Read
// failures trigger a reconnect; Next only returns an error when ctx is done
// or the client is closed.
func (c *Client) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := c.current(ctx)
		if err != nil {
			return nil, err
		}

		// Unblock the read when ctx is cancelled.
		stop := context.AfterFunc(ctx, func() {
			conn.SetReadDeadline(time.Now())
		})
		_, frame, err := conn.ReadMessage()
		stop()

		if err == nil {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.isClosed() {
			return nil, ErrClosed
		}

		c.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
		c.drop(conn)
	}
}

// current returns the live connection, dialling with backoff if there is none.
func (c *Client) current(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if conn != nil {
		return conn, nil
	}
	if err := c.reconnect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, nil
}

// reconnect dials until it succeeds, ctx is done or the client is closed.
// The first attempt is immediate.
func (c *Client) reconnect(ctx context.Context) error {
	delay := reconnectDelay
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return ErrClosed
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}

		err := c.Connect(ctx)
		if err == nil || errors.Is(err, ErrClosed) {
			return err
		}
		c.logger.Warn("connect failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pingLoop keeps conn alive until it is replaced or the client closes.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			live := c.conn == conn
			c.mu.Unlock()
			if !live {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	err := c.conn.Close()
	c.conn = nil
	return err
}

func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
