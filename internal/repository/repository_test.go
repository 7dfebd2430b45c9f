package repository

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"auction-stream/internal/biddingerrors"
	model "auction-stream/internal/models"

	"github.com/stretchr/testify/require"
)

// Helper to create a new Auction
func newAuction(id, title string, startingPrice, increment float64) model.Auction {
	return model.Auction{
		ID:              id,
		Title:           title,
		Description:     fmt.Sprintf("%s description", title),
		StartingPrice:   startingPrice,
		MinBidIncrement: increment,
	}
}

// Helper to create a new Bid
func newBid(bidID, userID string, amount float64) model.Bid {
	return model.Bid{
		ID:        bidID,
		UserID:    userID,
		Amount:    amount,
		Timestamp: time.Now().UTC(),
		Status:    model.BidPending,
	}
}

// Test Create
func TestMemoryRepo_Create(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	_, err := repo.Create(newAuction("a1", "Auction 1", 1000, 50))
	require.NoError(t, err)

	tests := []struct {
		name      string
		auction   model.Auction
		wantError error
	}{
		{name: "valid_auction", auction: newAuction("a2", "Auction 2", 100, 5), wantError: nil},
		{name: "duplicate_id", auction: newAuction("a1", "Again", 10, 1), wantError: biddingerrors.ErrAuctionExists},
		{name: "empty_id", auction: newAuction("", "No id", 10, 1), wantError: biddingerrors.ErrInvalidAuction},
		{
			name: "caller_supplied_state_is_reset",
			auction: model.Auction{
				ID: "a3", StartingPrice: 500, CurrentPrice: 9999,
				Bids: []model.Bid{newBid("b1", "u1", 9999)}, Version: 7,
			},
			wantError: nil,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			created, err := repo.Create(tc.auction)
			if tc.wantError != nil {
				require.ErrorIs(t, err, tc.wantError)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.auction.StartingPrice, created.CurrentPrice)
			require.Empty(t, created.Bids)
			require.Zero(t, created.Version)
			require.Nil(t, created.HighestBidder)
		})
	}
}

// Test CommitBid
func TestMemoryRepo_CommitBid(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	_, err := repo.Create(newAuction("a1", "Auction 1", 1000, 50))
	require.NoError(t, err)

	t.Run("accepted_bid_is_prepended_and_raises_price", func(t *testing.T) {
		a, err := repo.CommitBid("a1", newBid("b1", "u1", 1100))
		require.NoError(t, err)
		require.Equal(t, 1100.0, a.CurrentPrice)
		require.Len(t, a.Bids, 1)
		require.Equal(t, model.BidAccepted, a.Bids[0].Status)
		require.Equal(t, "a1", a.Bids[0].AuctionID)
		require.Equal(t, "u1", a.HighestBidder.ID)
		require.Equal(t, uint64(1), a.Version)

		a, err = repo.CommitBid("a1", newBid("b2", "u2", 1200))
		require.NoError(t, err)
		require.Equal(t, []string{"b2", "b1"}, []string{a.Bids[0].ID, a.Bids[1].ID})
		require.Equal(t, "u2", a.HighestBidder.ID)
	})

	tests := []struct {
		name      string
		auctionID string
		bid       model.Bid
		wantError error
	}{
		{name: "auction_not_found", auctionID: "missing", bid: newBid("bx", "u1", 5000), wantError: biddingerrors.ErrAuctionNotFound},
		{name: "equal_to_current_price", auctionID: "a1", bid: newBid("b3", "u3", 1200), wantError: biddingerrors.ErrPriceTooLow},
		{name: "below_current_price", auctionID: "a1", bid: newBid("b4", "u4", 900), wantError: biddingerrors.ErrPriceTooLow},
		{name: "duplicate_bid_id", auctionID: "a1", bid: newBid("b1", "u1", 5000), wantError: biddingerrors.ErrDuplicateBid},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.CommitBid(tc.auctionID, tc.bid)
			require.ErrorIs(t, err, tc.wantError)
		})
	}

	t.Run("rejected_commit_leaves_state_untouched", func(t *testing.T) {
		a, err := repo.Get("a1")
		require.NoError(t, err)
		require.Equal(t, 1200.0, a.CurrentPrice)
		require.Len(t, a.Bids, 2)
	})

	t.Run("bid_with_max_float", func(t *testing.T) {
		a, err := repo.CommitBid("a1", newBid("b-max", "u9", math.MaxFloat64))
		require.NoError(t, err)
		require.Equal(t, math.MaxFloat64, a.CurrentPrice)
	})
}

// Test RejectBid
func TestMemoryRepo_RejectBid(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	_, err := repo.Create(newAuction("a1", "Auction 1", 1000, 50))
	require.NoError(t, err)

	require.NoError(t, repo.RejectBid("a1", "b1"))

	a, err := repo.Get("a1")
	require.NoError(t, err)
	require.Equal(t, 1000.0, a.CurrentPrice)
	require.Empty(t, a.Bids)
	require.Equal(t, uint64(0), a.Version)
	require.True(t, a.Decided("b1"))
	require.False(t, a.HasBid("b1"))

	// a rejected id is decided: it can be neither rejected again nor committed
	require.ErrorIs(t, repo.RejectBid("a1", "b1"), biddingerrors.ErrDuplicateBid)
	_, err = repo.CommitBid("a1", newBid("b1", "u1", 1100))
	require.ErrorIs(t, err, biddingerrors.ErrDuplicateBid)

	// and an accepted id cannot be rejected afterwards
	_, err = repo.CommitBid("a1", newBid("b2", "u1", 1100))
	require.NoError(t, err)
	require.ErrorIs(t, repo.RejectBid("a1", "b2"), biddingerrors.ErrDuplicateBid)

	require.ErrorIs(t, repo.RejectBid("missing", "b3"), biddingerrors.ErrAuctionNotFound)

	// rejections are per auction
	_, err = repo.Create(newAuction("a2", "Auction 2", 10, 1))
	require.NoError(t, err)
	require.NoError(t, repo.RejectBid("a2", "b1"))
}

// Test that snapshots are isolated from later commits
func TestMemoryRepo_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	_, err := repo.Create(newAuction("a1", "Auction 1", 10, 1))
	require.NoError(t, err)

	before, err := repo.Get("a1")
	require.NoError(t, err)

	_, err = repo.CommitBid("a1", newBid("b1", "u1", 20))
	require.NoError(t, err)

	require.Equal(t, 10.0, before.CurrentPrice)
	require.Empty(t, before.Bids)

	listed := repo.List()
	require.Len(t, listed, 1)
	listed["a1"].Bids[0].Amount = -1

	after, err := repo.Get("a1")
	require.NoError(t, err)
	require.Equal(t, 20.0, after.Bids[0].Amount)
}

// concurrency test
func TestMemoryRepo_ConcurrentCommits(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	_, err := repo.Create(newAuction("a1", "Auction 1", 0.5, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	concurrentCount := 100

	for i := 0; i < concurrentCount; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			// lower amounts may lose the race, which must surface as ErrPriceTooLow
			_, err := repo.CommitBid("a1", newBid(fmt.Sprintf("bid-%d", i), fmt.Sprintf("user-%d", i), float64(i+1)))
			if err != nil {
				require.ErrorIs(t, err, biddingerrors.ErrPriceTooLow)
			}
		}()
	}

	wg.Wait()

	a, err := repo.Get("a1")
	require.NoError(t, err)
	require.Equal(t, float64(concurrentCount), a.CurrentPrice)
	require.Equal(t, a.Bids[0].Amount, a.CurrentPrice)
	for i := 1; i < len(a.Bids); i++ {
		require.Greater(t, a.Bids[i-1].Amount, a.Bids[i].Amount, "bids must be newest first with increasing amounts")
	}
	require.Equal(t, uint64(len(a.Bids)), a.Version)
}
