package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjannette/energy-monitor/internal/api"
	"github.com/kjannette/energy-monitor/internal/config"
	"github.com/kjannette/energy-monitor/internal/db"
	"github.com/kjannette/energy-monitor/internal/external"
	"github.com/kjannette/energy-monitor/internal/logging"
	"github.com/kjannette/energy-monitor/internal/metrics"
	"github.com/kjannette/energy-monitor/internal/query"
	"github.com/kjannette/energy-monitor/internal/repository"
	"github.com/kjannette/energy-monitor/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const banner = `
╔══════════════════════════════════════╗
║        Energy Monitor v0.1           ║
║   REE spot price ingestion + API     ║
╚══════════════════════════════════════╝
`

// store is what the rest of the process needs from a backend.
type store interface {
	repository.PriceStore
	api.Pinger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	cfg.Print(logger)

	policy, err := external.ParseMalformedValuePolicy(cfg.MalformedValuePolicy)
	if err != nil {
		return err
	}

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prices, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ingestMetrics := metrics.NewIngest(reg)

	ree := external.NewREEClient(external.REEOptions{
		BaseURL: cfg.REEBaseURL,
		Timeout: cfg.REETimeout(),
		Policy:  policy,
		Logger:  logger,
	})

	// 1. Ingestion scheduler
	ingest := scheduler.NewIngestScheduler(ree, prices, scheduler.IngestConfig{
		Interval:     cfg.IngestInterval(),
		CycleTimeout: cfg.IngestCycleTimeout(),
		Logger:       logger,
		Metrics:      ingestMetrics,
	})
	ingest.Start()
	defer ingest.Stop()

	// 2. API server
	srv := api.NewServer(query.NewService(prices, cfg.MaxPricesLimit), prices, api.Options{
		Port:         cfg.APIPort,
		CORSOrigin:   cfg.CORSAllowOrigin,
		DefaultLimit: cfg.LatestPricesLimit,
		Backend:      cfg.StoreBackend,
		Gatherer:     reg,
		Ingest:       ingest,
		Logger:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		ingest.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		logger.Info("api server closed")
		return nil
	})

	logger.Info("all services started")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openStore builds the configured backend and returns a func releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		repo := repository.NewRedisPriceRepo(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := repo.Ping(pingCtx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis connect %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return repo, closer(logger, "redis client", client), nil

	case config.BackendMemory:
		logger.Warn("using in-memory store; prices are lost on restart")
		return repository.NewMemoryPriceRepo(), func() {}, nil

	default:
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.DBMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("database connect: %w", err)
		}
		if err := db.TestConnection(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := repository.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
			logger.Info("schema ready", "table", "electricity_prices")
		}
		return repository.NewPriceRepo(pool), func() {
			pool.Close()
			logger.Info("database pool closed")
		}, nil
	}
}

func closer(logger *slog.Logger, what string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", "what", what, "error", err)
			return
		}
		logger.Info(what + " closed")
	}
}
