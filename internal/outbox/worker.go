package outbox

import (
	"context"
	"errors"
	"time"

	"auction-stream/internal/biddingerrors"
	"auction-stream/internal/metrics"
	model "auction-stream/internal/models"
	"auction-stream/utils"

	"golang.org/x/sync/errgroup"
)

// Handler delivers one event. A returned error sends the item back for retry.
type Handler func(ctx context.Context, event model.Event) error

type WorkerConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
}

const (
	defaultWorkers      = 2
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 100 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Worker drains a Queue into a Handler. Failed items are never dropped: they are returned
// to the queue after a backoff, and an alert is raised once they reach MaxAttempts.
type Worker struct {
	queue   Queue
	handler Handler
	cfg     WorkerConfig
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWorker(queue Queue, handler Handler, cfg WorkerConfig, m *metrics.Metrics) *Worker {
	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg.withDefaults(),
		metrics: m,
		sleep:   sleepCtx,
	}
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

// Backoff returns the delay before an item is retried: RetryBackoff * 2^(attempts-1),
// capped at MaxBackoff.
func (w *Worker) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := w.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}

// Run starts the configured number of loops and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			w.loop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	var ready <-chan struct{}
	if n, ok := w.queue.(Notifier); ok {
		ready = n.Ready()
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			utils.Error("outbox worker failed", map[string]any{
				"worker": id,
				"error":  err.Error(),
			})
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ready:
		case <-ticker.C:
		}
	}
}

// ProcessNext handles at most one item. It reports false when the queue had nothing to hand out.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.queue.DequeueNext(ctx)
	if errors.Is(err, biddingerrors.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	handleErr := w.handler(ctx, item.Event)
	if handleErr == nil {
		if err := w.queue.Ack(ctx, item); err != nil {
			return true, err
		}
		w.metrics.Ack()
		return true, nil
	}

	fields := map[string]any{
		"auction_id": item.AuctionID,
		"seq":        item.Seq,
		"event_id":   item.Event.ID,
		"attempts":   item.Attempts,
		"error":      handleErr.Error(),
	}
	if item.Attempts >= w.cfg.MaxAttempts {
		utils.Error("outbox item exceeded retry threshold", fields)
		w.metrics.Alert()
	} else {
		utils.Warn("outbox delivery failed, retrying", fields)
	}

	// the item stays in flight during the backoff, which holds back later items of the
	// same auction
	if err := w.sleep(ctx, w.Backoff(item.Attempts)); err != nil {
		// cancelled: hand the item back with a fresh context so it is not stranded in flight
		ctx = context.WithoutCancel(ctx)
	}
	if err := w.queue.Nack(ctx, item, handleErr); err != nil {
		return true, err
	}
	w.metrics.Nack()
	return true, nil
}
