package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/launchforge/launchforge/internal/adapter/ethereum"
	lfhttp "github.com/launchforge/launchforge/internal/adapter/http"
	lfnats "github.com/launchforge/launchforge/internal/adapter/nats"
	"github.com/launchforge/launchforge/internal/adapter/natskv"
	"github.com/launchforge/launchforge/internal/adapter/otel"
	"github.com/launchforge/launchforge/internal/adapter/postgres"
	"github.com/launchforge/launchforge/internal/adapter/ristretto"
	"github.com/launchforge/launchforge/internal/adapter/tiered"
	"github.com/launchforge/launchforge/internal/adapter/ws"
	"github.com/launchforge/launchforge/internal/config"
	"github.com/launchforge/launchforge/internal/logger"
	"github.com/launchforge/launchforge/internal/port/cache"
	"github.com/launchforge/launchforge/internal/resilience"
	"github.com/launchforge/launchforge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"chain_id", cfg.Chain.ChainID,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	broker, err := lfnats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = broker.Close() }()
	slog.Info("nats connected")

	// Chain RPC behind the circuit breaker
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	chainClient, err := ethereum.Dial(ctx, cfg.Chain, breaker)
	if err != nil {
		return fmt.Errorf("chain rpc: %w", err)
	}
	defer chainClient.Close()
	builder, err := ethereum.NewBuilder(chainClient.Eth(), cfg.Chain)
	if err != nil {
		return fmt.Errorf("tx builder: %w", err)
	}

	// Read cache: in-process L1, optionally backed by a shared JetStream KV
	// bucket so sibling instances warm each other.
	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	var agentCache cache.Cache = l1
	if cfg.Cache.SharedBucket != "" {
		l2, err := natskv.Bucket(ctx, broker.Conn(), cfg.Cache.SharedBucket, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("shared cache: %w", err)
		}
		agentCache = tiered.New(l1, l2, cfg.Cache.TTL)
		slog.Info("shared cache enabled", "bucket", cfg.Cache.SharedBucket)
	}

	// Metrics
	shutdownOtel, err := otel.Init(ctx, cfg.Otel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownOtel(context.Background()) }()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	broadcaster := service.NewStatusBroadcaster(broker)
	broadcaster.SetMetrics(metrics)

	orch := service.NewOrchestrator(store, broadcaster, cfg.Lock.TTL)
	orch.SetMetrics(metrics)
	agentSvc := service.NewAgentService(store, agentCache, cfg.Cache.TTL)
	provisioningSvc := service.NewProvisioningService(store, builder, chainClient, orch, broadcaster, cfg.Confirm)
	provisioningSvc.SetMetrics(metrics)
	invocationSvc := service.NewInvocationService(store, orch, cfg.Invocation.FailureThreshold)
	invocationSvc.SetMetrics(metrics)

	// Bridge cross-instance status events into this instance's hub.
	relay := service.NewStatusRelay(broker, hub, agentCache)
	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("status relay: %w", err)
	}
	defer relay.Stop()

	// --- HTTP ---
	handlers := &lfhttp.Handlers{
		Agents:       agentSvc,
		Orchestrator: orch,
		Provisioning: provisioningSvc,
		Invocations:  invocationSvc,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(lfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RequestID)
	r.Use(lfhttp.RequestIDContext)
	r.Use(lfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Otel.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	// Health endpoint with dependency status
	r.Get("/health", healthHandler(broker, pool))

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWS)

	// API routes
	lfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		// Let in-flight finalize pipelines land before the process exits.
		provisioningSvc.Wait()
		return nil
	})

	return g.Wait()
}

// healthHandler reports the liveness of the service's dependencies.
func healthHandler(broker *lfnats.Broker, pool *pgxpool.Pool) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			status.Status, status.Postgres = "degraded", "unreachable"
		}
		if !broker.IsConnected() {
			status.Status, status.NATS = "degraded", "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
