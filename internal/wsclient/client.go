// Package wsclient is a reconnecting websocket client for the auction server.
//
// Sends made while the transport is down are buffered and flushed in order as soon as a
// new connection is up. Inbound events missed during the outage are not replayed; callers
// that need them fetch the event history explicitly.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auction-stream/internal/biddingerrors"
	"auction-stream/internal/metrics"
	model "auction-stream/internal/models"
	"auction-stream/utils"
)

var ErrSendBufferFull = errors.New("send buffer full")

type Config struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
	// BufferSize bounds the messages held while disconnected
	BufferSize int
	// InboundSize is the capacity of the Messages channel
	InboundSize int
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.InboundSize <= 0 {
		c.InboundSize = 256
	}
	return c
}

// Client keeps one logical session alive across transport failures
type Client struct {
	cfg     Config
	dialer  Dialer
	view    *View
	metrics *metrics.Metrics
	wait    func(ctx context.Context, d time.Duration) error

	// mu guards the transport and the buffer. It is held while flushing so a new Send
	// cannot overtake buffered messages.
	mu        sync.Mutex
	conn      Conn
	connected bool
	buffer    []model.Envelope

	inbound chan model.Envelope
}

type Option func(*Client)

// WithView applies every inbound frame to v before it is handed to Messages
func WithView(v *View) Option {
	return func(c *Client) { c.view = v }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg Config, dialer Dialer, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	c := &Client{
		cfg:     cfg,
		dialer:  dialer,
		wait:    sleepCtx,
		inbound: make(chan model.Envelope, cfg.InboundSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait before reconnect attempt n (0-based): BaseDelay * 2^n
func (c *Client) Delay(attempt int) time.Duration {
	return c.cfg.BaseDelay << uint(attempt)
}

// Messages returns inbound frames. It is closed when Run returns. The read loop blocks
// while the channel is full, so callers must keep draining it.
func (c *Client) Messages() <-chan model.Envelope {
	return c.inbound
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Buffered returns the number of messages waiting for a connection
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Send writes env now, or buffers it when the transport is down
func (c *Client) Send(env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		if err := c.conn.WriteJSON(env); err == nil {
			return nil
		}
		// the read loop notices the broken transport and reconnects
		c.connected = false
		_ = c.conn.Close()
	}
	if len(c.buffer) >= c.cfg.BufferSize {
		return fmt.Errorf("wsclient: %w (%d messages)", ErrSendBufferFull, len(c.buffer))
	}
	c.buffer = append(c.buffer, env)
	return nil
}

// PlaceBid sends a new_bid request and, with a view attached, shows the bid as pending
// until the server confirms or rejects it
func (c *Client) PlaceBid(auctionID string, bid model.Bid) (model.Bid, error) {
	if bid.ID == "" {
		bid.ID = utils.GenerateID()
	}
	bid.AuctionID = auctionID
	bid.Status = model.BidPending
	if bid.Timestamp.IsZero() {
		bid.Timestamp = time.Now().UTC()
	}

	env, err := model.NewEnvelope(model.MsgNewBid, model.NewBidPayload{AuctionID: auctionID, Bid: bid})
	if err != nil {
		return model.Bid{}, fmt.Errorf("wsclient: encode bid: %w", err)
	}
	if c.view != nil {
		c.view.AddPending(bid)
	}
	if err := c.Send(env); err != nil {
		if c.view != nil {
			c.view.DropPending(bid.ID)
		}
		return model.Bid{}, err
	}
	return bid, nil
}

// Run connects and keeps the connection alive until ctx is cancelled or reconnecting
// fails MaxAttempts times in a row, in which case it returns ErrReconnectExhausted.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.inbound)

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	for {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			utils.Warn("websocket connection lost", map[string]any{
				"url":   c.cfg.URL,
				"error": err.Error(),
			})
			conn, err = c.reconnect(ctx)
			if err != nil {
				return err
			}
		}

		if attachErr := c.attach(conn); attachErr != nil {
			_ = conn.Close()
			conn, err = nil, attachErr
			continue
		}

		err = c.readLoop(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = biddingerrors.ErrSessionClosed
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		delay := c.Delay(attempt)
		if err := c.wait(ctx, delay); err != nil {
			return nil, err
		}
		c.metrics.Reconnect()

		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err == nil {
			utils.Info("websocket reconnected", map[string]any{
				"url":     c.cfg.URL,
				"attempt": attempt + 1,
			})
			return conn, nil
		}
		lastErr = err
		utils.Warn("websocket reconnect failed", map[string]any{
			"url":     c.cfg.URL,
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}
	return nil, fmt.Errorf("wsclient: %w after %d attempts: %v", biddingerrors.ErrReconnectExhausted, c.cfg.MaxAttempts, lastErr)
}

// attach flushes the buffer on the new transport and only then marks it connected
func (c *Client) attach(conn Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.buffer) > 0 {
		if err := conn.WriteJSON(c.buffer[0]); err != nil {
			return fmt.Errorf("wsclient: flush buffered messages: %w", err)
		}
		c.buffer = c.buffer[1:]
	}
	c.buffer = nil
	c.conn = conn
	c.connected = true
	return nil
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	// unblock ReadJSON on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if c.view != nil {
			if err := c.view.Apply(env); err != nil {
				utils.Warn("failed to apply frame to local view", map[string]any{
					"type":  string(env.Type),
					"error": err.Error(),
				})
			}
		}
		select {
		case c.inbound <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
