// Package gate holds the acceptance policies consulted before a validated bid is committed.
//
// MajorityVoteGate only simulates a quorum: each acceptor votes independently at random.
// A real agreement protocol can replace it by implementing AcceptanceGate.
package gate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	model "auction-stream/internal/models"

	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -source=gate.go -destination=mock_gate.go -package=gate

// AcceptanceGate decides whether a validated bid may be committed.
// Implementations must not read or mutate auction state.
type AcceptanceGate interface {
	Evaluate(ctx context.Context, bid model.Bid) (bool, error)
}

const (
	DefaultAcceptors         = 3
	DefaultAcceptProbability = 0.8
)

// MajorityVoteGate accepts a bid when strictly more than half of its acceptors vote accept
type MajorityVoteGate struct {
	acceptors   int
	probability float64

	mu   sync.Mutex
	rand func() float64
}

// Option configures a MajorityVoteGate
type Option func(*MajorityVoteGate)

// WithRand replaces the random source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(g *MajorityVoteGate) {
		g.rand = fn
	}
}

// NewMajorityVoteGate creates a gate with the given number of acceptors and per-acceptor
// accept probability. Non-positive inputs fall back to the defaults.
func NewMajorityVoteGate(acceptors int, probability float64, opts ...Option) *MajorityVoteGate {
	if acceptors <= 0 {
		acceptors = DefaultAcceptors
	}
	if probability <= 0 || probability > 1 {
		probability = DefaultAcceptProbability
	}
	g := &MajorityVoteGate{
		acceptors:   acceptors,
		probability: probability,
		rand:        rand.Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate collects one vote from every acceptor concurrently and tallies them.
// A cancelled context aborts the round: no decision is returned once ctx is done.
func (g *MajorityVoteGate) Evaluate(ctx context.Context, bid model.Bid) (bool, error) {
	eg, gctx := errgroup.WithContext(ctx)
	var accepted atomic.Int32
	for i := 0; i < g.acceptors; i++ {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			yes := g.vote()
			// a vote cast after cancellation does not count
			if err := gctx.Err(); err != nil {
				return err
			}
			if yes {
				accepted.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return false, fmt.Errorf("gate: evaluate bid %s: %w", bid.ID, err)
	}
	return int(accepted.Load())*2 > g.acceptors, nil
}

func (g *MajorityVoteGate) vote() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rand() < g.probability
}

// StaticGate always returns the same decision
type StaticGate struct {
	Accept bool
}

func (g StaticGate) Evaluate(ctx context.Context, bid model.Bid) (bool, error) {
	return g.Accept, nil
}

// FuncGate adapts a plain function to AcceptanceGate
type FuncGate func(ctx context.Context, bid model.Bid) (bool, error)

func (f FuncGate) Evaluate(ctx context.Context, bid model.Bid) (bool, error) {
	return f(ctx, bid)
}
