// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/fairtable/internal/alerts"
	"github.com/jason-s-yu/fairtable/internal/anticheat"
	"github.com/jason-s-yu/fairtable/internal/auth"
	"github.com/jason-s-yu/fairtable/internal/bootstrap"
	"github.com/jason-s-yu/fairtable/internal/cache"
	"github.com/jason-s-yu/fairtable/internal/config"
	"github.com/jason-s-yu/fairtable/internal/engine"
	"github.com/jason-s-yu/fairtable/internal/fairness"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/handlers"
	"github.com/jason-s-yu/fairtable/internal/historian"
	"github.com/jason-s-yu/fairtable/internal/rng"
	"github.com/jason-s-yu/fairtable/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer closeStore()

	keys, err := loadKeys(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	var sink historian.Sink = historian.StoreSink{Store: st}
	hubOpts := gateway.HubOptions{RatePerSec: cfg.ActionRatePerSec, Burst: cfg.ActionRateBurst}
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		hubOpts.Relay = cache.Relay{Client: rdb}
		if cfg.Historian.Mode == config.HistorianRedis {
			sink = cache.QueueSink{Client: rdb, Queue: cfg.Historian.QueueName}
		}
	}

	writer := historian.NewWriter(sink, historian.Options{
		BatchSize:  cfg.Historian.BatchSize,
		FlushDelay: cfg.Historian.FlushDelay(),
	}, logger)
	hub := gateway.NewHub(logger, hubOpts)
	reporter := alerts.NewReporter(writer, hub, logger)

	validator := anticheat.NewValidator(st, reporter, anticheat.Options{
		Window:           cfg.AntiCheat.Window,
		TimingDeviation:  cfg.AntiCheat.TimingDeviation,
		PatternThreshold: cfg.AntiCheat.PatternThreshold,
		FlagTTL:          cfg.AntiCheat.FlagTTL,
	}, logger)
	sessions := session.NewManager(st, hub, writer, session.StoreSettlement{Store: st}, validator, session.Options{
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectInterval:    cfg.Reconnect.Interval,
		PingTimeout:          cfg.Reconnect.PingTimeout,
		SweepInterval:        cfg.SweepInterval,
	}, logger)
	seeds := rng.NewEngine(st, writer, reporter, logger)
	verifier := fairness.NewVerifier(st, seeds, logger)
	eng := engine.New(sessions, seeds, verifier, validator, st, hub, logger)
	eng.Register()

	srv := &handlers.Server{
		Logger:   logger,
		Keys:     keys,
		Hub:      hub,
		Sessions: sessions,
		Engine:   eng,
		Verifier: verifier,
	}
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writer.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("Running on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		sessions.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("server exited: %v", err)
	}
	// Snapshots queued while the session loops wound down.
	writer.Flush(context.Background())
	logger.Info("server stopped")
}

func loadKeys(cfg config.Config) (*auth.Keys, error) {
	ttl, err := auth.ParseExpireTime(cfg.TokenExpireTime)
	if err != nil {
		return nil, err
	}
	if cfg.PrivateKeyPath != "" {
		return auth.FromFiles(cfg.PrivateKeyPath, cfg.PublicKeyPath, ttl)
	}
	return auth.Generate(ttl)
}
