// cmd/historian drains the match-action queue from redis into the configured
// store and marks matches abandoned when their actions stop.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/cache"
	"github.com/jason-s-yu/gameroom/internal/config"
	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/database/sqlite"
	"github.com/jason-s-yu/gameroom/internal/historian"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("historian exited")
	}
	logger.Info("historian shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	sink, closeSink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	historian.New(rdb, sink, historian.Options{
		Queue:      cfg.Redis.Queue,
		BatchSize:  cfg.Historian.BatchSize,
		FlushDelay: cfg.Historian.FlushDelay,
		Inactivity: cfg.Historian.Inactivity,
		Logger:     logger,
	}).Run(ctx)
	return nil
}

func openSink(ctx context.Context, cfg config.Config) (historian.Sink, func(), error) {
	if cfg.StoreDriver == config.DriverPostgres {
		s, err := database.Connect(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	s, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
