// cmd/historian is an asynchronous historian service that pops queued
// records from Redis and persists them to the configured store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jason-s-yu/fairtable/internal/bootstrap"
	"github.com/jason-s-yu/fairtable/internal/cache"
	"github.com/jason-s-yu/fairtable/internal/config"
	"github.com/jason-s-yu/fairtable/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// popTimeout bounds each BLPop so that context cancellation is handled.
const popTimeout = 3 * time.Second

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer closeStore()

	// Redis may come up after us; keep trying for a while.
	rdb, err := backoff.Retry(ctx, func() (*redis.Client, error) {
		return cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(time.Minute))
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	queue := cache.QueueSink{Client: rdb, Queue: cfg.Historian.QueueName}
	writer := historian.NewWriter(historian.StoreSink{Store: st}, historian.Options{
		BatchSize:  cfg.Historian.BatchSize,
		FlushDelay: cfg.Historian.FlushDelay(),
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writer.Run(gctx)
	})
	g.Go(func() error {
		drain(gctx, queue, writer, logger)
		return nil
	})

	logger.Info("historian service started.")
	if err := g.Wait(); err != nil {
		logger.Errorf("historian exited: %v", err)
	}
	logger.Info("historian shutting down.")
}

// drain moves entries from the Redis queue into the writer until ctx ends.
func drain(ctx context.Context, queue cache.QueueSink, writer *historian.Writer, logger logrus.FieldLogger) {
	for ctx.Err() == nil {
		entry, ok, err := queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).Error("historian: pop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if ok {
			writer.EnqueueEntry(entry)
		}
	}
}
