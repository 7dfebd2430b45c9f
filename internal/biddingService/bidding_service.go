package bidding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"auction-stream/internal/biddingerrors"
	"auction-stream/internal/gate"
	"auction-stream/internal/metrics"
	"auction-stream/internal/models"
	"auction-stream/internal/outbox"
	"auction-stream/internal/repository"
	"auction-stream/utils"
)

const (
	DefaultIncrement    = 1.0
	defaultStageRetries = 3
	defaultStageBackoff = 50 * time.Millisecond

	defaultBacklogInterval = time.Second
)

// Config tunes admission rules
type Config struct {
	// EnforceIncrement rejects bids below currentPrice + minBidIncrement
	EnforceIncrement bool
	// DefaultIncrement is applied to auctions created without an increment
	DefaultIncrement float64
	// InstanceID tags staged events so peers can recognise their origin
	InstanceID   string
	StageRetries int
	StageBackoff time.Duration
}

// DefaultConfig enforces increments with a default increment of 1
func DefaultConfig() Config {
	return Config{
		EnforceIncrement: true,
		DefaultIncrement: DefaultIncrement,
		StageRetries:     defaultStageRetries,
		StageBackoff:     defaultStageBackoff,
	}
}

// Outcome labels used for the bids metric
const (
	outcomeAccepted     = "accepted"
	outcomeGateRejected = "gate_rejected"
	outcomeInvalid      = "invalid"
	outcomeRejected     = "rejected"
	outcomeFailed       = "failed"
)

// BiddingService is the bid admission pipeline. Every mutation of an auction goes through
// it under that auction's lock: validate, ask the gate, commit, stage exactly one event.
type BiddingService struct {
	repo    repository.AuctionDB
	gate    gate.AcceptanceGate
	queue   outbox.Queue
	cfg     Config
	metrics *metrics.Metrics
	locks   *keyedMutex
	now     func() time.Time
	sleep   func(time.Duration)

	// backlog holds committed events the outbox refused, per auction in commit order.
	// Later events of the same auction queue behind them.
	backlogMu sync.Mutex
	backlog   map[string][]models.Event
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, g gate.AcceptanceGate, queue outbox.Queue, cfg Config, m *metrics.Metrics) *BiddingService {
	if cfg.DefaultIncrement <= 0 {
		cfg.DefaultIncrement = DefaultIncrement
	}
	if cfg.StageRetries <= 0 {
		cfg.StageRetries = defaultStageRetries
	}
	if cfg.StageBackoff <= 0 {
		cfg.StageBackoff = defaultStageBackoff
	}
	return &BiddingService{
		repo:    repo,
		gate:    g,
		queue:   queue,
		cfg:     cfg,
		metrics: m,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   time.Sleep,
		backlog: make(map[string][]models.Event),
	}
}

// PlaceBid admits a bid. A gate rejection is a normal outcome: the returned bid carries
// status rejected and the error is nil. Validation failures return an error and leave
// no trace in the registry or the outbox.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID string, bid models.Bid) (models.Bid, error) {
	if err := validateBidInput(auctionID, bid); err != nil {
		s.metrics.Bid(outcomeInvalid)
		return models.Bid{}, err
	}

	if bid.ID == "" {
		bid.ID = utils.GenerateID()
	}
	if bid.Timestamp.IsZero() {
		bid.Timestamp = s.now()
	}
	bid.AuctionID = auctionID
	bid.Status = models.BidPending

	unlock := s.locks.Lock(auctionID)
	defer unlock()

	auction, err := s.repo.Get(auctionID)
	if err != nil {
		s.metrics.Bid(outcomeRejected)
		return models.Bid{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}

	if err := s.validateAgainst(auction, bid); err != nil {
		s.metrics.Bid(outcomeRejected)
		return models.Bid{}, err
	}

	accepted, err := s.gate.Evaluate(ctx, bid)
	if err != nil {
		s.metrics.Bid(outcomeFailed)
		return models.Bid{}, fmt.Errorf("service: acceptance gate failed for bid %s: %w", bid.ID, err)
	}

	if !accepted {
		if err := s.repo.RejectBid(auctionID, bid.ID); err != nil {
			s.metrics.Bid(outcomeRejected)
			return models.Bid{}, fmt.Errorf("service: failed to record rejection of bid %s for auction %s: %w", bid.ID, auctionID, err)
		}
		bid.Status = models.BidRejected
		s.stage(ctx, auctionID, models.MsgBidRejected, models.BidRejectedPayload{
			AuctionID: auctionID,
			BidID:     bid.ID,
			Status:    bid.Status,
		})
		s.metrics.Bid(outcomeGateRejected)
		utils.Info("bid rejected by acceptance gate", map[string]any{
			"auction_id": auctionID,
			"bid_id":     bid.ID,
			"amount":     bid.Amount,
		})
		return bid, nil
	}

	if _, err := s.repo.CommitBid(auctionID, bid); err != nil {
		s.metrics.Bid(outcomeRejected)
		return models.Bid{}, fmt.Errorf("service: failed to commit bid %s for auction %s: %w", bid.ID, auctionID, err)
	}
	committed := bid
	committed.Status = models.BidAccepted

	s.stage(ctx, auctionID, models.MsgBidAccepted, models.BidAcceptedPayload{
		AuctionID: auctionID,
		BidID:     committed.ID,
		Status:    committed.Status,
		Bid:       committed,
	})
	s.metrics.Bid(outcomeAccepted)
	return committed, nil
}

// validateBidInput performs the checks that need no auction state
func validateBidInput(auctionID string, bid models.Bid) error {
	if strings.TrimSpace(auctionID) == "" || strings.TrimSpace(bid.UserID) == "" {
		return fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidBid)
	}
	if bid.AuctionID != "" && bid.AuctionID != auctionID {
		return fmt.Errorf("service: %w - bid targets auction %s, not %s", biddingerrors.ErrInvalidBid, bid.AuctionID, auctionID)
	}
	if math.IsNaN(bid.Amount) || math.IsInf(bid.Amount, 0) || bid.Amount <= 0 {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	return nil
}

// validateAgainst applies the auction rules in order: price, increment, lifecycle, duplicate
func (s *BiddingService) validateAgainst(auction models.Auction, bid models.Bid) error {
	if bid.Amount <= auction.CurrentPrice {
		return fmt.Errorf("service: %w - current price is %.2f", biddingerrors.ErrPriceTooLow, auction.CurrentPrice)
	}
	if s.cfg.EnforceIncrement && bid.Amount < auction.CurrentPrice+auction.MinBidIncrement {
		return fmt.Errorf("service: %w - minimum acceptable bid is %.2f",
			biddingerrors.ErrBelowIncrement, auction.CurrentPrice+auction.MinBidIncrement)
	}
	if status := auction.StatusAt(s.now()); status != models.AuctionActive {
		return fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auction.ID, status)
	}
	if auction.Decided(bid.ID) {
		return fmt.Errorf("service: %w - bid %s already decided", biddingerrors.ErrDuplicateBid, bid.ID)
	}
	return nil
}

// CreateAuction validates and registers a new auction and stages auction_created
func (s *BiddingService) CreateAuction(ctx context.Context, auction models.Auction) (models.Auction, error) {
	if auction.ID == "" {
		auction.ID = utils.GenerateID()
	}
	if err := validateAuction(auction); err != nil {
		return models.Auction{}, err
	}
	if auction.MinBidIncrement == 0 {
		auction.MinBidIncrement = s.cfg.DefaultIncrement
	}
	now := s.now()
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = now
	}
	auction.Status = auction.StatusAt(now)

	unlock := s.locks.Lock(auction.ID)
	defer unlock()

	created, err := s.repo.Create(auction)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction %s: %w", auction.ID, err)
	}

	s.stage(ctx, created.ID, models.MsgAuctionCreated, models.AuctionCreatedPayload{Auction: created})
	utils.Info("auction created", map[string]any{
		"auction_id":     created.ID,
		"title":          created.Title,
		"starting_price": created.StartingPrice,
	})
	return created, nil
}

func validateAuction(a models.Auction) error {
	switch {
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("service: %w - missing title", biddingerrors.ErrInvalidAuction)
	case math.IsNaN(a.StartingPrice) || math.IsInf(a.StartingPrice, 0) || a.StartingPrice <= 0:
		return fmt.Errorf("service: %w - starting price must be positive", biddingerrors.ErrInvalidAuction)
	case math.IsNaN(a.MinBidIncrement) || a.MinBidIncrement < 0:
		return fmt.Errorf("service: %w - negative bid increment", biddingerrors.ErrInvalidAuction)
	case !a.StartTime.IsZero() && !a.EndTime.IsZero() && !a.EndTime.After(a.StartTime):
		return fmt.Errorf("service: %w - end time must be after start time", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// ListAuctions returns snapshots of every auction with its status evaluated now
func (s *BiddingService) ListAuctions() map[string]models.Auction {
	now := s.now()
	auctions := s.repo.List()
	for id, a := range auctions {
		a.Status = a.StatusAt(now)
		auctions[id] = a
	}
	return auctions
}

// GetAuction returns a snapshot of one auction
func (s *BiddingService) GetAuction(auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	a, err := s.repo.Get(auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	a.Status = a.StatusAt(s.now())
	return a, nil
}

// GetBids returns the accepted bids of an auction, newest first
func (s *BiddingService) GetBids(auctionID string) ([]models.Bid, error) {
	a, err := s.GetAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if a.Bids == nil {
		return []models.Bid{}, nil
	}
	return a.Bids, nil
}

// Replay returns the staged events of an auction with a sequence number above afterSeq
func (s *BiddingService) Replay(ctx context.Context, auctionID string, afterSeq uint64) ([]models.Event, error) {
	if _, err := s.GetAuction(auctionID); err != nil {
		return nil, err
	}
	events, err := s.queue.Replay(ctx, auctionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("service: failed to replay auction %s: %w", auctionID, err)
	}
	return events, nil
}

// stage enqueues the event for a committed outcome. The outcome already happened, so a
// client cancelling its request must not prevent staging. Events the outbox keeps
// refusing are held in the auction's backlog and retried ahead of its next event, or by
// RunBacklog. The caller holds the auction's lock.
func (s *BiddingService) stage(ctx context.Context, auctionID string, t models.MessageType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		utils.Error("failed to encode event payload", map[string]any{
			"auction_id": auctionID,
			"type":       string(t),
			"error":      err.Error(),
		})
		s.metrics.Alert()
		return
	}

	event := models.Event{
		ID:        utils.GenerateOrderedID(),
		AuctionID: auctionID,
		Type:      t,
		Origin:    s.cfg.InstanceID,
		Payload:   raw,
		CreatedAt: s.now(),
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.flushBacklog(ctx, auctionID); err != nil {
		s.hold(event, err)
		return
	}
	if err := s.enqueue(ctx, event); err != nil {
		s.hold(event, err)
	}
}

// enqueue stages one event, retrying with exponential backoff
func (s *BiddingService) enqueue(ctx context.Context, event models.Event) error {
	for attempt := 1; ; attempt++ {
		item, err := s.queue.Enqueue(ctx, event)
		if err == nil {
			s.metrics.Staged(string(event.Type))
			utils.Debug("event staged", map[string]any{
				"auction_id": event.AuctionID,
				"type":       string(event.Type),
				"event_id":   event.ID,
				"seq":        item.Seq,
			})
			return nil
		}
		if attempt >= s.cfg.StageRetries {
			return fmt.Errorf("service: stage event %s after %d attempts: %w", event.ID, attempt, err)
		}
		s.sleep(s.cfg.StageBackoff * time.Duration(1<<(attempt-1)))
	}
}

// hold appends an event the outbox refused to its auction's backlog
func (s *BiddingService) hold(event models.Event, cause error) {
	s.backlogMu.Lock()
	s.backlog[event.AuctionID] = append(s.backlog[event.AuctionID], event)
	n := s.unstagedLocked()
	s.backlogMu.Unlock()

	s.metrics.SetUnstaged(n)
	s.metrics.Alert()
	utils.Error("failed to stage event, holding it for retry", map[string]any{
		"auction_id": event.AuctionID,
		"type":       string(event.Type),
		"event_id":   event.ID,
		"unstaged":   n,
		"error":      cause.Error(),
	})
}

// flushBacklog stages the held events of one auction in order, stopping at the first
// failure. The caller holds the auction's lock.
func (s *BiddingService) flushBacklog(ctx context.Context, auctionID string) error {
	s.backlogMu.Lock()
	held := s.backlog[auctionID]
	s.backlogMu.Unlock()
	if len(held) == 0 {
		return nil
	}

	staged := 0
	var err error
	for _, event := range held {
		if err = s.enqueue(ctx, event); err != nil {
			break
		}
		staged++
	}

	s.backlogMu.Lock()
	// only this auction's lock holder touches its backlog, so held is still its prefix
	rest := s.backlog[auctionID][staged:]
	if len(rest) == 0 {
		delete(s.backlog, auctionID)
	} else {
		s.backlog[auctionID] = rest
	}
	n := s.unstagedLocked()
	s.backlogMu.Unlock()
	s.metrics.SetUnstaged(n)

	if staged > 0 {
		utils.Info("staged held events", map[string]any{
			"auction_id": auctionID,
			"staged":     staged,
			"remaining":  len(rest),
		})
	}
	return err
}

func (s *BiddingService) unstagedLocked() int {
	n := 0
	for _, events := range s.backlog {
		n += len(events)
	}
	return n
}

// Unstaged returns the number of committed events still waiting for the outbox
func (s *BiddingService) Unstaged() int {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	return s.unstagedLocked()
}

// FlushUnstaged retries every auction's backlog once and returns the number of events
// still held
func (s *BiddingService) FlushUnstaged(ctx context.Context) int {
	s.backlogMu.Lock()
	auctions := make([]string, 0, len(s.backlog))
	for id := range s.backlog {
		auctions = append(auctions, id)
	}
	s.backlogMu.Unlock()

	for _, id := range auctions {
		unlock := s.locks.Lock(id)
		_ = s.flushBacklog(ctx, id)
		unlock()
	}
	return s.Unstaged()
}

// RunBacklog flushes held events every interval until ctx ends
func (s *BiddingService) RunBacklog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultBacklogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if n := s.Unstaged(); n > 0 {
				utils.Warn("stopping with unstaged events", map[string]any{"unstaged": n})
			}
			return nil
		case <-ticker.C:
			if s.Unstaged() > 0 {
				s.FlushUnstaged(ctx)
			}
		}
	}
}
