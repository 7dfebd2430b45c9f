package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auction-stream/internal/biddingerrors"
	model "auction-stream/internal/models"
	"auction-stream/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool used by PostgresQueue
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS auction_outbox (
    auction_id  TEXT        NOT NULL,
    seq         BIGINT      NOT NULL,
    event_id    TEXT        NOT NULL UNIQUE,
    event_type  TEXT        NOT NULL,
    payload     JSONB       NOT NULL,
    state       TEXT        NOT NULL DEFAULT 'pending',
    attempts    INT         NOT NULL DEFAULT 0,
    last_error  TEXT,
    enqueued_at TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    lease_owner TEXT,
    PRIMARY KEY (auction_id, seq)
);
ALTER TABLE auction_outbox ADD COLUMN IF NOT EXISTS lease_owner TEXT;
CREATE INDEX IF NOT EXISTS auction_outbox_pending_idx
    ON auction_outbox (state, enqueued_at, seq);
`

const dequeueSQL = `
UPDATE auction_outbox
SET state = 'in_flight', attempts = attempts + 1, updated_at = now(), lease_owner = $1
WHERE (auction_id, seq) = (
    SELECT o.auction_id, o.seq
    FROM auction_outbox o
    WHERE o.state = 'pending'
      AND NOT EXISTS (
          SELECT 1 FROM auction_outbox f
          WHERE f.auction_id = o.auction_id AND f.state = 'in_flight')
      AND NOT EXISTS (
          SELECT 1 FROM auction_outbox p
          WHERE p.auction_id = o.auction_id AND p.state = 'pending' AND p.seq < o.seq)
    ORDER BY o.enqueued_at, o.seq
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING auction_id, seq, payload, attempts, enqueued_at`

// reclaimSQL returns in-flight rows to pending. $1 is the owner whose leases are always
// reclaimed (empty for none), $2 the lease timeout in seconds.
const reclaimSQL = `
UPDATE auction_outbox
SET state = 'pending', lease_owner = NULL, updated_at = now()
WHERE state = 'in_flight'
  AND (lease_owner = $1 OR lease_owner IS NULL OR updated_at < now() - make_interval(secs => $2))`

const DefaultLeaseTimeout = 2 * time.Minute

// PostgresQueue is a durable Queue that several instances may share. Each row is keyed by
// (auction_id, seq) and holds the serialized event, which is enough to rebuild bid
// history and final price by replay. A dequeued row is leased to its owner; a lease not
// settled within the lease timeout is assumed dead and handed out again.
type PostgresQueue struct {
	db           DB
	owner        string
	leaseTimeout time.Duration
	now          func() time.Time
}

type PostgresOption func(*PostgresQueue)

// WithOwner sets the lease owner, normally the instance id
func WithOwner(owner string) PostgresOption {
	return func(q *PostgresQueue) { q.owner = owner }
}

func WithLeaseTimeout(d time.Duration) PostgresOption {
	return func(q *PostgresQueue) {
		if d > 0 {
			q.leaseTimeout = d
		}
	}
}

// NewPostgresQueue wraps an open pool. Call Migrate before first use.
func NewPostgresQueue(db DB, opts ...PostgresOption) *PostgresQueue {
	q := &PostgresQueue{
		db:           db,
		owner:        utils.GenerateID(),
		leaseTimeout: DefaultLeaseTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Owner returns the lease owner written on dequeued rows
func (q *PostgresQueue) Owner() string { return q.owner }

// Connect creates a connection pool and verifies it with a ping
func Connect(ctx context.Context, url string, minConns, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if minConns > 0 {
		poolCfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the outbox table when missing
func (q *PostgresQueue) Migrate(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("outbox: migrate: %w", err)
	}
	return nil
}

// RecoverInFlight returns to pending the items this owner left in flight before a restart
// and any item whose lease has expired. Leases held by live peers are left alone.
func (q *PostgresQueue) RecoverInFlight(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, reclaimSQL, q.owner, q.leaseTimeout.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox: recover in-flight items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// reclaimExpired releases leases of peers that stopped without settling their items
func (q *PostgresQueue) reclaimExpired(ctx context.Context) error {
	tag, err := q.db.Exec(ctx, reclaimSQL, "", q.leaseTimeout.Seconds())
	if err != nil {
		return fmt.Errorf("outbox: reclaim expired leases: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		utils.Warn("reclaimed expired outbox leases", map[string]any{"items": n})
	}
	return nil
}

// Enqueue stores the event under the next sequence number of its auction.
// An advisory lock per auction serializes concurrent writers across instances.
func (q *PostgresQueue) Enqueue(ctx context.Context, event model.Event) (Item, error) {
	if event.AuctionID == "" {
		return Item{}, fmt.Errorf("outbox: enqueue event %s: empty auction id", event.ID)
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return Item{}, fmt.Errorf("outbox: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.AuctionID); err != nil {
		return Item{}, fmt.Errorf("outbox: lock auction %s: %w", event.AuctionID, err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM auction_outbox WHERE auction_id = $1`,
		event.AuctionID,
	).Scan(&seq); err != nil {
		return Item{}, fmt.Errorf("outbox: next seq for auction %s: %w", event.AuctionID, err)
	}
	event.Seq = uint64(seq)

	payload, err := json.Marshal(event)
	if err != nil {
		return Item{}, fmt.Errorf("outbox: marshal event %s: %w", event.ID, err)
	}

	enqueuedAt := q.now().UTC()
	if _, err := tx.Exec(ctx, `
        INSERT INTO auction_outbox (auction_id, seq, event_id, event_type, payload, state, attempts, enqueued_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)`,
		event.AuctionID, seq, event.ID, string(event.Type), payload, enqueuedAt,
	); err != nil {
		return Item{}, fmt.Errorf("outbox: insert event %s: %w", event.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Item{}, fmt.Errorf("outbox: commit enqueue: %w", err)
	}

	return Item{
		AuctionID:  event.AuctionID,
		Seq:        event.Seq,
		Event:      event,
		EnqueuedAt: enqueuedAt,
		State:      StatePending,
	}, nil
}

// DequeueNext leases the oldest deliverable item. SKIP LOCKED lets several workers poll
// concurrently without handing the same row out twice.
func (q *PostgresQueue) DequeueNext(ctx context.Context) (Item, error) {
	if err := q.reclaimExpired(ctx); err != nil {
		return Item{}, err
	}

	var (
		item    Item
		seq     int64
		payload []byte
	)
	err := q.db.QueryRow(ctx, dequeueSQL, q.owner).Scan(&item.AuctionID, &seq, &payload, &item.Attempts, &item.EnqueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, biddingerrors.ErrQueueEmpty
	}
	if err != nil {
		return Item{}, fmt.Errorf("outbox: dequeue: %w", err)
	}

	if err := json.Unmarshal(payload, &item.Event); err != nil {
		return Item{}, fmt.Errorf("outbox: unmarshal item %s/%d: %w", item.AuctionID, seq, err)
	}
	item.Seq = uint64(seq)
	item.State = StateInFlight
	return item, nil
}

// Ack marks the item done
func (q *PostgresQueue) Ack(ctx context.Context, item Item) error {
	tag, err := q.db.Exec(ctx, `
        UPDATE auction_outbox SET state = 'done', lease_owner = NULL, updated_at = now()
        WHERE auction_id = $1 AND seq = $2 AND state = 'in_flight' AND lease_owner = $3`,
		item.AuctionID, int64(item.Seq), q.owner)
	if err != nil {
		return fmt.Errorf("outbox: ack %s/%d: %w", item.AuctionID, item.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox: ack %s/%d: %w", item.AuctionID, item.Seq, biddingerrors.ErrItemNotInFlight)
	}
	return nil
}

// Nack returns the item to pending. Its original enqueue time keeps it ahead of later items.
func (q *PostgresQueue) Nack(ctx context.Context, item Item, cause error) error {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	tag, err := q.db.Exec(ctx, `
        UPDATE auction_outbox SET state = 'pending', last_error = $3, lease_owner = NULL, updated_at = now()
        WHERE auction_id = $1 AND seq = $2 AND state = 'in_flight' AND lease_owner = $4`,
		item.AuctionID, int64(item.Seq), lastError, q.owner)
	if err != nil {
		return fmt.Errorf("outbox: nack %s/%d: %w", item.AuctionID, item.Seq, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox: nack %s/%d: %w", item.AuctionID, item.Seq, biddingerrors.ErrItemNotInFlight)
	}
	return nil
}

// Replay returns the stored events of an auction after the given sequence number
func (q *PostgresQueue) Replay(ctx context.Context, auctionID string, afterSeq uint64) ([]model.Event, error) {
	rows, err := q.db.Query(ctx, `
        SELECT payload FROM auction_outbox
        WHERE auction_id = $1 AND seq > $2
        ORDER BY seq`,
		auctionID, int64(afterSeq))
	if err != nil {
		return nil, fmt.Errorf("outbox: replay auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("outbox: scan replay row: %w", err)
		}
		var e model.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("outbox: unmarshal replay row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: replay auction %s: %w", auctionID, err)
	}
	return events, nil
}
