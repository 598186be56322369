package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldflow/agreement"
	"fieldflow/auth"
	"fieldflow/client"
	"fieldflow/config"
	"fieldflow/db"
	"fieldflow/logging"
	"fieldflow/order"
	"fieldflow/outbox"
	"fieldflow/renewal"
	"fieldflow/runlock"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	withScheduler := flag.Bool("scheduler", false, "run the renewal scheduler in-process")
	withRelay := flag.Bool("relay", false, "run the outbox relay in-process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "fieldflow-api")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *withScheduler, *withRelay); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, withScheduler, withRelay bool) error {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	var rdb *redis.Client
	if withScheduler || withRelay {
		rdb, err = db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	writer := outbox.NewWriter()
	orders := order.NewRepository(pool)
	clients := client.NewService(client.NewRepository(pool))
	renewals := renewal.NewService(pool, agreement.NewRepository(pool), orders, writer, logger, renewal.Options{
		PageSize:  cfg.Renewal.PageSize,
		ChunkSize: cfg.Renewal.ChunkSize,
		MaxPerRun: cfg.Renewal.MaxPerRun,
	})

	server := &Server{
		authService:      auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret),
		renewals:         renewals,
		agreementService: agreement.NewCRUDService(pool, clients, orders, writer),
		statusService:    agreement.NewStatusService(pool, writer),
		orderService:     orders,
		clientService:    clients,
		logger:           logger.Named("http"),
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if withScheduler {
		scheduler := renewal.NewScheduler(renewals, runlock.NewLocker(rdb), logger, renewal.SchedulerConfig{
			Interval: cfg.Renewal.Interval,
			LockKey:  cfg.Renewal.LockKey,
			LockTTL:  cfg.Renewal.LockTTL,
			TenantID: cfg.Renewal.TenantID,
		})
		g.Go(func() error { return scheduler.Start(gctx) })
	}
	if withRelay {
		relay := outbox.NewRelay(pool, outbox.NewStore(), outbox.NewRedisPublisher(rdb, cfg.Outbox.Stream),
			logger, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts)
		g.Go(func() error { return relay.Start(gctx, cfg.Outbox.Interval) })
	}

	return g.Wait()
}
