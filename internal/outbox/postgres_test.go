package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"auction-stream/internal/biddingerrors"
	model "auction-stream/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeRow returns fixed values or an error from Scan
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *int:
			*p = r.values[i].(int)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

// fakeRows iterates over single-column payload rows
type fakeRows struct {
	pgx.Rows
	payloads [][]byte
	pos      int
	closed   bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.payloads) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.payloads[r.pos-1]
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     { r.closed = true }

type execCall struct {
	sql  string
	args []any
}

// fakeTx records statements issued inside a transaction
type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.execs = append(tx.db.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return fakeRow{values: []any{tx.db.nextSeq}}
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	execs   []execCall
	queries []execCall
	execTag pgconn.CommandTag
	execErr error
	row     pgx.Row
	rows    *fakeRows
	nextSeq int64
	tx      *fakeTx
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	db.tx = &fakeTx{db: db}
	return db.tx, nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	return db.execTag, db.execErr
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return db.rows, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.queries = append(db.queries, execCall{sql: sql, args: args})
	return db.row
}

func TestPostgresQueue_Enqueue(t *testing.T) {
	t.Parallel()

	db := &fakeDB{nextSeq: 7}
	q := NewPostgresQueue(db)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	item, err := q.Enqueue(context.Background(), newEvent("a1", "e1"))
	require.NoError(t, err)
	require.Equal(t, uint64(7), item.Seq)
	require.Equal(t, uint64(7), item.Event.Seq)
	require.Equal(t, fixed, item.EnqueuedAt)
	require.True(t, db.tx.committed)
	require.False(t, db.tx.rolledBack)

	require.Len(t, db.execs, 2)
	require.Contains(t, db.execs[0].sql, "pg_advisory_xact_lock")
	require.Contains(t, db.execs[1].sql, "INSERT INTO auction_outbox")

	var stored model.Event
	require.NoError(t, json.Unmarshal(db.execs[1].args[4].([]byte), &stored))
	require.Equal(t, uint64(7), stored.Seq)
	require.Equal(t, "e1", stored.ID)

	_, err = q.Enqueue(context.Background(), newEvent("", "e2"))
	require.Error(t, err)
}

func TestPostgresQueue_DequeueNext(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(model.Event{ID: "e1", AuctionID: "a1", Seq: 3, Type: model.MsgBidAccepted})
	require.NoError(t, err)
	enqueuedAt := time.Now().UTC()

	tests := []struct {
		name      string
		row       pgx.Row
		wantError error
		wantItem  Item
	}{
		{name: "empty", row: fakeRow{err: pgx.ErrNoRows}, wantError: biddingerrors.ErrQueueEmpty},
		{
			name: "leased",
			row:  fakeRow{values: []any{"a1", int64(3), payload, 2, enqueuedAt}},
			wantItem: Item{
				AuctionID:  "a1",
				Seq:        3,
				Event:      model.Event{ID: "e1", AuctionID: "a1", Seq: 3, Type: model.MsgBidAccepted},
				EnqueuedAt: enqueuedAt,
				State:      StateInFlight,
				Attempts:   2,
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := NewPostgresQueue(&fakeDB{row: tc.row})
			item, err := q.DequeueNext(context.Background())
			if tc.wantError != nil {
				require.ErrorIs(t, err, tc.wantError)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantItem.AuctionID, item.AuctionID)
			require.Equal(t, tc.wantItem.Seq, item.Seq)
			require.Equal(t, tc.wantItem.Event.ID, item.Event.ID)
			require.Equal(t, tc.wantItem.State, item.State)
			require.Equal(t, tc.wantItem.Attempts, item.Attempts)
			require.True(t, tc.wantItem.EnqueuedAt.Equal(item.EnqueuedAt))
		})
	}
}

func TestPostgresQueue_AckNack(t *testing.T) {
	t.Parallel()

	item := Item{AuctionID: "a1", Seq: 4}
	ctx := context.Background()

	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	q := NewPostgresQueue(db)
	require.NoError(t, q.Ack(ctx, item))
	require.Contains(t, db.execs[0].sql, "state = 'done'")

	require.NoError(t, q.Nack(ctx, item, errors.New("write failed")))
	require.Contains(t, db.execs[1].sql, "state = 'pending'")
	require.Equal(t, "write failed", *(db.execs[1].args[2].(*string)))

	missing := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	q = NewPostgresQueue(missing)
	require.ErrorIs(t, q.Ack(ctx, item), biddingerrors.ErrItemNotInFlight)
	require.ErrorIs(t, q.Nack(ctx, item, nil), biddingerrors.ErrItemNotInFlight)

	broken := &fakeDB{execErr: errors.New("conn closed")}
	q = NewPostgresQueue(broken)
	err := q.Ack(ctx, item)
	require.Error(t, err)
	require.False(t, errors.Is(err, biddingerrors.ErrItemNotInFlight))
}

func TestPostgresQueue_ReplayAndRecover(t *testing.T) {
	t.Parallel()

	var payloads [][]byte
	for i := 1; i <= 3; i++ {
		raw, err := json.Marshal(model.Event{ID: fmt.Sprintf("e%d", i), AuctionID: "a1", Seq: uint64(i)})
		require.NoError(t, err)
		payloads = append(payloads, raw)
	}
	rows := &fakeRows{payloads: payloads}
	db := &fakeDB{rows: rows, execTag: pgconn.NewCommandTag("UPDATE 2")}
	q := NewPostgresQueue(db)

	events, err := q.Replay(context.Background(), "a1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "e3", events[2].ID)
	require.True(t, rows.closed)

	n, err := q.RecoverInFlight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	reclaim := db.execs[len(db.execs)-1]
	require.Contains(t, reclaim.sql, "lease_owner = $1")
	require.Equal(t, q.Owner(), reclaim.args[0])

	require.NoError(t, q.Migrate(context.Background()))
	require.True(t, strings.Contains(db.execs[len(db.execs)-1].sql, "CREATE TABLE IF NOT EXISTS auction_outbox"))
}

func TestPostgresQueue_LeasesAreOwned(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(model.Event{ID: "e1", AuctionID: "a1", Seq: 1})
	require.NoError(t, err)
	db := &fakeDB{
		execTag: pgconn.NewCommandTag("UPDATE 1"),
		row:     fakeRow{values: []any{"a1", int64(1), payload, 1, time.Now().UTC()}},
	}
	q := NewPostgresQueue(db, WithOwner("node-a"), WithLeaseTimeout(30*time.Second))
	ctx := context.Background()

	item, err := q.DequeueNext(ctx)
	require.NoError(t, err)

	// expired leases of any owner are reclaimed before leasing, never live peer leases
	require.Len(t, db.execs, 1)
	require.Contains(t, db.execs[0].sql, "make_interval(secs => $2)")
	require.Equal(t, "", db.execs[0].args[0])
	require.Equal(t, 30.0, db.execs[0].args[1])

	require.Len(t, db.queries, 1)
	require.Contains(t, db.queries[0].sql, "lease_owner = $1")
	require.Equal(t, []any{"node-a"}, db.queries[0].args)

	require.NoError(t, q.Ack(ctx, item))
	require.Contains(t, db.execs[1].sql, "lease_owner = $3")
	require.Equal(t, "node-a", db.execs[1].args[2])

	require.NoError(t, q.Nack(ctx, item, nil))
	require.Contains(t, db.execs[2].sql, "lease_owner = $4")
	require.Equal(t, "node-a", db.execs[2].args[3])

	// a restart under the same owner takes back its own leases
	_, err = q.RecoverInFlight(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-a", db.execs[3].args[0])

	broken := NewPostgresQueue(&fakeDB{execErr: errors.New("conn closed")}, WithOwner("node-b"))
	_, err = broken.DequeueNext(ctx)
	require.ErrorContains(t, err, "reclaim expired leases")
}
