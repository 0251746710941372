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
	"golang.org/x/sync/errgroup"

	maestrohttp "github.com/calyptra/maestro/internal/adapter/http"
	maestronats "github.com/calyptra/maestro/internal/adapter/nats"
	maestrootel "github.com/calyptra/maestro/internal/adapter/otel"
	"github.com/calyptra/maestro/internal/adapter/postgres"
	"github.com/calyptra/maestro/internal/adapter/ristretto"
	"github.com/calyptra/maestro/internal/adapter/ws"
	"github.com/calyptra/maestro/internal/config"
	"github.com/calyptra/maestro/internal/logger"
	"github.com/calyptra/maestro/internal/middleware"
	"github.com/calyptra/maestro/internal/port/messagequeue"
	"github.com/calyptra/maestro/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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

	logger.New(cfg.Logging)
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"event_tick", cfg.Ticks.Event,
		"trigger_tick", cfg.Ticks.Trigger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

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

	var bus messagequeue.Queue
	if cfg.NATS.URL != "" {
		queue, err := maestronats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		bus = queue
	} else {
		slog.Warn("nats not configured, external fan-out disabled")
		bus = maestronats.NewNoop()
	}

	otelShutdown, err := maestrootel.InitMetrics(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Interval)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := maestrootel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	personaCache, err := ristretto.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer personaCache.Close()

	// --- Core services ---

	store := postgres.NewStore(pool)
	workerPool := ws.NewPool(cfg.Worker)
	tokens := service.NewTokenProvider(cfg.OAuth)
	creds := service.NewCredentialMaterializer(store, cfg.MasterKey)

	dispatcher := service.NewDispatcher(cfg.Dispatch, workerPool, store, bus, tokens, creds, metrics, cfg.BearerToken)
	workerPool.Subscribe(dispatcher)

	eventProc := service.NewEventProcessor(store, dispatcher, personaCache, metrics, cfg.Ticks)
	triggerSched := service.NewTriggerScheduler(store, metrics, cfg.Ticks)

	cancelExec, err := dispatcher.StartExecSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("exec subscriber: %w", err)
	}
	defer cancelExec()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { eventProc.Run(gctx); return nil })
	g.Go(func() error { triggerSched.Run(gctx); return nil })
	g.Go(func() error { tokens.StartWarmLoop(gctx); return nil })

	// --- HTTP ---

	handlers := &maestrohttp.Handlers{
		Store:      store,
		Dispatcher: dispatcher,
		Creds:      creds,
		Pool:       workerPool,
	}

	r := chi.NewRouter()
	r.Use(maestrohttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.APIKeyAuth(cfg.Auth.APIKeyHash))

	r.Get("/health", healthHandler(cfg, bus))
	r.Get("/ws", workerPool.HandleWS)
	maestrohttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	workerPool.Shutdown("orchestrator shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	return g.Wait()
}

// healthHandler reports service health and dependency status.
func healthHandler(cfg *config.Config, bus messagequeue.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
		NATS   bool   `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status: "ok",
			NATS:   bus.IsConnected(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
