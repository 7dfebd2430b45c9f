package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	bidding "auction-stream/internal/biddingService"
	"auction-stream/internal/broadcast"
	"auction-stream/internal/config"
	"auction-stream/internal/gate"
	"auction-stream/internal/metrics"
	model "auction-stream/internal/models"
	"auction-stream/internal/outbox"
	"auction-stream/internal/pubsub"
	"auction-stream/internal/repository"
	"auction-stream/internal/session"
	"auction-stream/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled auction server: admission pipeline, outbox worker, broadcast hub,
// websocket sessions and the HTTP router.
type App struct {
	cfg *config.Config

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Repo     *repository.MemoryRepo
	Queue    outbox.Queue
	Hub      *broadcast.Hub
	Service  *bidding.BiddingService
	Worker   *outbox.Worker
	Sessions *session.Manager
	Router   *gin.Engine

	closers []func()
}

// NewApp connects the configured backends and wires every component. Call Close when
// the app is no longer needed, or let Run do it.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	a.Repo = repository.NewMemoryRepo()

	queue, err := a.openQueue(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = queue

	channel, err := a.openChannel(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Hub, err = broadcast.NewHub(cfg.Instance.ID, channel, cfg.Broadcast.DedupeWindow, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service = bidding.NewBiddingService(a.Repo, newGate(cfg.Gate), a.Queue, bidding.Config{
		EnforceIncrement: cfg.IncrementEnforced(),
		DefaultIncrement: cfg.Bidding.DefaultIncrement,
		InstanceID:       cfg.Instance.ID,
	}, a.Metrics)

	a.Worker = outbox.NewWorker(a.Queue, a.Hub.Publish, outbox.WorkerConfig{
		Workers:      cfg.Outbox.Workers,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryBackoff: cfg.Outbox.RetryBackoff,
		MaxBackoff:   cfg.Outbox.MaxBackoff,
		PollInterval: cfg.Outbox.PollInterval,
	}, a.Metrics)

	a.Sessions = session.NewManager(a.Service, a.Hub, session.Config{
		SendBuffer:   cfg.Session.SendBuffer,
		WriteTimeout: cfg.Session.WriteTimeout,
		PingInterval: cfg.Session.PingInterval,
	}, a.Metrics)

	a.Router = SetupRouter(a.Service, Routes{
		WSPath:    cfg.Server.WSPath,
		WebSocket: a.Sessions.Handle,
		Metrics:   promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
	})
	return a, nil
}

func newGate(cfg config.GateConfig) gate.AcceptanceGate {
	if cfg.Disabled {
		return gate.StaticGate{Accept: true}
	}
	return gate.NewMajorityVoteGate(cfg.Acceptors, cfg.AcceptProbability)
}

func (a *App) openQueue(ctx context.Context) (outbox.Queue, error) {
	if a.cfg.Outbox.Backend != config.BackendPostgres {
		return outbox.NewMemoryQueue(), nil
	}

	pool, err := outbox.Connect(ctx, a.cfg.Outbox.DatabaseURL, a.cfg.Outbox.MinConns, a.cfg.Outbox.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect outbox database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	q := outbox.NewPostgresQueue(pool,
		outbox.WithOwner(a.cfg.Instance.ID),
		outbox.WithLeaseTimeout(a.cfg.Outbox.LeaseTimeout))
	if err := q.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate outbox: %w", err)
	}
	// own leases from a previous run and expired ones go back to pending
	recovered, err := q.RecoverInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover outbox: %w", err)
	}
	utils.Info("postgres outbox ready", map[string]any{"recovered_items": recovered})
	return q, nil
}

func (a *App) openChannel(ctx context.Context) (pubsub.Channel, error) {
	if a.cfg.Broadcast.RedisURL == "" {
		return pubsub.NewLocalChannel(), nil
	}

	client, err := pubsub.NewRedisClient(ctx, a.cfg.Broadcast.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	channel := pubsub.NewRedisChannel(client, a.cfg.Broadcast.Channel)
	a.closers = append(a.closers, func() { _ = channel.Close() })
	utils.Info("redis fan-out enabled", map[string]any{"channel": a.cfg.Broadcast.Channel})
	return channel, nil
}

// SeedDemoAuctions creates a few sample auctions when the registry is empty
func (a *App) SeedDemoAuctions(ctx context.Context) error {
	if len(a.Service.ListAuctions()) > 0 {
		return nil
	}
	demo := []model.Auction{
		{ID: "auction1", Title: "Vintage Watch", Description: "Swiss automatic, 1968", StartingPrice: 1000, MinBidIncrement: 50},
		{ID: "auction2", Title: "Oil Painting", Description: "Coastal landscape", StartingPrice: 250, MinBidIncrement: 10},
		{ID: "auction3", Title: "Road Bike", Description: "Carbon frame, 54cm", StartingPrice: 400, MinBidIncrement: 25},
	}
	for _, auction := range demo {
		if _, err := a.Service.CreateAuction(ctx, auction); err != nil {
			return fmt.Errorf("seed auction %s: %w", auction.ID, err)
		}
	}
	return nil
}

// StartBackground subscribes the hub to peers, then runs the outbox worker and the
// retry loop for events the outbox refused until ctx ends
func (a *App) StartBackground(ctx context.Context) error {
	if err := a.Hub.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Worker.Run(gctx)
	})
	g.Go(func() error {
		return a.Service.RunBacklog(gctx, a.cfg.Outbox.PollInterval)
	})
	return g.Wait()
}

// Run serves HTTP and websocket traffic and delivers staged events until ctx is cancelled,
// then shuts down sessions and the listener and releases the backends.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.StartBackground(gctx)
	})
	g.Go(func() error {
		return a.serve(gctx)
	})
	return g.Wait()
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Info("starting auction server", map[string]any{
			"addr":        srv.Addr,
			"ws_path":     a.cfg.Server.WSPath,
			"instance_id": a.cfg.Instance.ID,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not covered by srv.Shutdown
	if err := a.Sessions.Shutdown(shutdownCtx); err != nil {
		utils.Warn("websocket sessions did not close in time", map[string]any{"error": err.Error()})
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	utils.Info("auction server stopped", nil)
	return nil
}

// Close releases the backends in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
