// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/cache"
	"github.com/jason-s-yu/gameroom/internal/config"
	"github.com/jason-s-yu/gameroom/internal/database"
	"github.com/jason-s-yu/gameroom/internal/database/sqlite"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/handlers"
	"github.com/jason-s-yu/gameroom/internal/lobby"
	"github.com/jason-s-yu/gameroom/internal/rating"
	"github.com/jason-s-yu/gameroom/internal/registry"
)

const shutdownTimeout = 10 * time.Second

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
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Infof("using %s user store", cfg.StoreDriver)

	var users cache.UserStore = store
	var actions game.ActionLog
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		users = cache.NewUserCache(rdb, store, cfg.Redis.UserTTL, logger)
		actions = cache.NewPublisher(rdb, cfg.Redis.Queue)
		logger.Infof("publishing match actions to %s", cfg.Redis.Queue)
	} else {
		logger.Warn("REDIS_ADDR not set, action log and user cache disabled")
	}

	issuer, err := newIssuer(cfg.Auth, logger)
	if err != nil {
		return err
	}

	reg := registry.New(cfg.DisconnectGrace, logger)
	lb := lobby.New(reg, lobby.Options{
		Ratings:      rating.NewEngine(users, cfg.RatingFloor, logger),
		Actions:      actions,
		PregameDelay: cfg.PregameDelay,
		Logger:       logger,
	})
	defer lb.Close()

	srv := &handlers.Server{Lobby: lb, Auth: issuer, Users: users, Logger: logger, Origins: cfg.AllowedOrigins}
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (cache.UserStore, func(), error) {
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

func newIssuer(cfg config.Auth, logger *logrus.Logger) (*auth.Issuer, error) {
	if cfg.PrivateKeyPath != "" && cfg.PublicKeyPath != "" {
		return auth.NewIssuerFromPath(cfg.PrivateKeyPath, cfg.PublicKeyPath, cfg.TokenExpire)
	}
	logger.Warn("no JWT key paths set, generating an ephemeral key pair")
	return auth.NewIssuer(cfg.TokenExpire)
}
