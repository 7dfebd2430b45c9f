// Package session serves websocket clients: it sends the greeting and the auction snapshot,
// dispatches inbound messages to the bidding service, and streams broadcast events.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"auction-stream/internal/biddingerrors"
	"auction-stream/internal/broadcast"
	"auction-stream/internal/metrics"
	model "auction-stream/internal/models"
	"auction-stream/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const Greeting = "Connected to auction server"

// Service is the part of the bidding pipeline reachable from a websocket
type Service interface {
	PlaceBid(ctx context.Context, auctionID string, bid model.Bid) (model.Bid, error)
	CreateAuction(ctx context.Context, auction model.Auction) (model.Auction, error)
	ListAuctions() map[string]model.Auction
}

// Registry is where sessions subscribe to broadcast events
type Registry interface {
	Register(sub broadcast.Subscriber)
	Unregister(id string)
}

type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	ReadLimit    int64
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	return c
}

// Manager accepts websocket connections and owns their sessions
type Manager struct {
	service  Service
	registry Registry
	cfg      Config
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewManager(service Service, registry Registry, cfg Config, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		service:  service,
		registry: registry,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Handle upgrades a gin request to a websocket session
func (m *Manager) Handle(c *gin.Context) {
	m.ServeHTTP(c.Writer, c.Request)
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("websocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	m.Serve(conn)
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and waits for them to finish or for ctx to expire
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	for _, s := range m.sessions {
		s.closeTransport(websocket.CloseGoingAway, "server shutting down")
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: shutdown: %w", ctx.Err())
	}
}

// Serve runs a session on an upgraded connection and blocks until it ends
func (m *Manager) Serve(conn *websocket.Conn) {
	id := utils.GenerateID()
	s := &Session{
		id:      id,
		conn:    conn,
		mailbox: broadcast.NewMailbox(id, m.cfg.SendBuffer),
		manager: m,
	}
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		s.closeTransport(websocket.CloseGoingAway, "server shutting down")
		return
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()
	m.metrics.SessionOpened()

	defer func() {
		m.registry.Unregister(s.id)
		s.mailbox.Close()
		_ = conn.Close()

		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
		m.metrics.SessionClosed()
		m.wg.Done()
		utils.Info("websocket session closed", map[string]any{"session_id": s.id})
	}()

	// Register before taking the snapshot: anything committed in between is queued behind
	// the snapshot and arrives twice at worst, never zero times.
	m.registry.Register(s)
	if err := s.greet(); err != nil {
		utils.Warn("failed to send initial state", map[string]any{
			"session_id": s.id,
			"error":      err.Error(),
		})
		return
	}
	utils.Info("websocket session opened", map[string]any{
		"session_id": s.id,
		"remote":     conn.RemoteAddr().String(),
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx)
	}()

	s.readPump(ctx)
	cancel()
	<-writerDone
}

// Session is one connected websocket client
type Session struct {
	id      string
	conn    *websocket.Conn
	mailbox *broadcast.Mailbox
	manager *Manager

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *Session) ID() string { return s.id }

// Deliver queues a broadcast frame. It never blocks; a full queue drops the frame for
// this session only.
func (s *Session) Deliver(env model.Envelope) bool {
	return s.mailbox.Deliver(env)
}

func (s *Session) greet() error {
	connected, err := model.NewEnvelope(model.MsgConnected, model.ConnectedPayload{
		Message:   Greeting,
		SessionID: s.id,
	})
	if err != nil {
		return err
	}
	connected.Message = Greeting
	if err := s.write(connected); err != nil {
		return err
	}

	snapshot, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.write(snapshot)
}

func (s *Session) snapshot() (model.Envelope, error) {
	auctions := s.manager.service.ListAuctions()
	if auctions == nil {
		auctions = map[string]model.Auction{}
	}
	return model.NewEnvelope(model.MsgAuctionsList, model.AuctionsListPayload{Auctions: auctions})
}

func (s *Session) write(env model.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.manager.cfg.WriteTimeout))
	return s.conn.WriteJSON(env)
}

func (s *Session) closeTransport(code int, reason string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// reply queues a frame for this client only
func (s *Session) reply(env model.Envelope) {
	if !s.mailbox.Deliver(env) {
		s.manager.metrics.DeliveryFailed()
		utils.Warn("reply dropped, session queue full", map[string]any{
			"session_id": s.id,
			"type":       string(env.Type),
		})
	}
}

func (s *Session) replyError(err error) {
	code, message := MapError(err)
	s.reply(model.ErrorEnvelope(code, message))
	fields := map[string]any{
		"session_id": s.id,
		"code":       code,
		"error":      err.Error(),
	}
	if code == CodeInternal {
		utils.Error("request failed", fields)
		return
	}
	utils.Info("request rejected", fields)
}

func (s *Session) readPump(ctx context.Context) {
	cfg := s.manager.cfg
	s.conn.SetReadLimit(cfg.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				utils.Warn("websocket read failed", map[string]any{
					"session_id": s.id,
					"error":      err.Error(),
				})
			}
			return
		}
		s.dispatch(ctx, data)
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.manager.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.mailbox.C():
			if !ok {
				return
			}
			if err := s.write(env); err != nil {
				utils.Warn("websocket write failed", map[string]any{
					"session_id": s.id,
					"error":      err.Error(),
				})
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.manager.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.replyError(fmt.Errorf("session: decode frame: %w", biddingerrors.ErrMalformedMessage))
		return
	}

	switch env.Type {
	case model.MsgCreateAuction:
		var p model.CreateAuctionPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			s.replyError(err)
			return
		}
		if _, err := s.manager.service.CreateAuction(ctx, p.Auction); err != nil {
			s.replyError(err)
		}

	case model.MsgNewBid:
		var p model.NewBidPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			s.replyError(err)
			return
		}
		if _, err := s.manager.service.PlaceBid(ctx, p.AuctionID, p.Bid); err != nil {
			s.replyError(err)
		}

	case model.MsgGetAuctions:
		snapshot, err := s.snapshot()
		if err != nil {
			s.replyError(err)
			return
		}
		s.reply(snapshot)

	default:
		s.replyError(fmt.Errorf("session: message type %q: %w", env.Type, biddingerrors.ErrUnknownMessage))
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("session: empty payload: %w", biddingerrors.ErrMalformedMessage)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("session: decode payload: %w", biddingerrors.ErrMalformedMessage)
	}
	return nil
}
