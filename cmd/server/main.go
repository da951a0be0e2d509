package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/reconciler"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ride-dispatch exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	ready := map[string]httpapi.ReadyCheck{}

	var store storage.Store = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx, filepath.Join("migrations", "001_dispatch.sql")); err != nil {
				return err
			}
			logger.Info("migration applied", "file", "001_dispatch.sql")
		}
		store = ps
		ready["postgres"] = ps.Ping
	} else {
		logger.Warn("PG_DSN not set, state will not survive restarts")
	}

	regOpts := []registry.Option{registry.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		mirror := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer mirror.Close()
		regOpts = append(regOpts, registry.WithMirror(mirror))
		ready["redis"] = mirror.Ping
	}
	reg := registry.New(store, cfg.LivenessThreshold, regOpts...)

	ws := dispatch.NewWSRegistry(cfg.NotifyTimeout)
	notifyOpts := []dispatch.Option{
		dispatch.WithWS(ws),
		dispatch.WithCallbacks(dispatch.NewCallbackPusher(cfg.NotifyTimeout, cfg.NotifyAttempts)),
		dispatch.WithLogger(logger),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kt := dispatch.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer kt.Close()
		notifyOpts = append(notifyOpts, dispatch.WithTransport(kt))
	}
	if cfg.AMQPURL != "" {
		at, err := dispatch.NewAMQPTransport(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer at.Close()
		notifyOpts = append(notifyOpts, dispatch.WithTransport(at))
	}
	notifier := dispatch.NewNotifier(cfg.NotifyQueue, cfg.NotifyWorkers, notifyOpts...)

	engOpts := []engine.Option{engine.WithNotifier(notifier), engine.WithLogger(logger)}
	if cfg.PaymentsEnabled() {
		engOpts = append(engOpts, engine.WithPayments(payments.NewStripeClient(cfg.StripeAPIKey, cfg.StripeHoldAmount, cfg.StripeCurrency)))
	}
	eng := engine.New(engine.Config{OfferTimeout: cfg.OfferTimeout, OTPDigits: cfg.OTPDigits}, reg, ledger.New(), store, engOpts...)
	if err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMEndpoint != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint, 2*time.Second)
	}
	match := &matcher.Service{Engine: eng, ETA: estimator, Interval: cfg.MatcherInterval, Logger: logger}
	recon := &reconciler.Service{Engine: eng, Interval: cfg.ReconcilerInterval, StaleAfter: cfg.StalePendingAfter, Logger: logger}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(eng, ws, logger, ready),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notifier.Run(gctx) })
	g.Go(func() error { return match.Run(gctx) })
	g.Go(func() error { return recon.Run(gctx) })
	if len(cfg.KafkaBrokers) > 0 {
		consumer := ingest.NewTelemetryConsumer(cfg.KafkaBrokers, cfg.KafkaTelemetryTopic, cfg.KafkaGroup, eng, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
