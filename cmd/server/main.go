package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Drop/internal/adapters/http"
	"github.com/dkeye/Drop/internal/adapters/store/memory"
	"github.com/dkeye/Drop/internal/adapters/store/postgres"
	"github.com/dkeye/Drop/internal/adapters/store/redis"
	"github.com/dkeye/Drop/internal/app"
	"github.com/dkeye/Drop/internal/app/orch"
	"github.com/dkeye/Drop/internal/config"
	"github.com/dkeye/Drop/internal/core"
)

func openStore(ctx context.Context, cfg *config.Config) (core.SessionStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Store.DSN,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnectRetries:  cfg.Store.ConnectRetries,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverRedis:
		st, err := redis.Open(ctx, redis.Config{
			URL:            cfg.Store.RedisURL,
			ConnectRetries: cfg.Store.ConnectRetries,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open session store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close session store")
		}
	}()

	o := orch.New(store, app.NewRegistry(), app.SimplePolicy{}, orch.Config{
		PublicIDLength: cfg.Session.PublicIDLength,
		SecretLength:   cfg.Session.SecretLength,
		IDAttempts:     cfg.Session.IDAttempts,
		StoreTimeout:   cfg.Store.Timeout,
		SessionTTL:     cfg.Session.TTL,
	})
	o.Limiter = app.NewRateLimiter(cfg.RateLimit.CreateLimit, cfg.RateLimit.CreateInterval)

	if cfg.Session.TTL > 0 {
		janitor := orch.NewJanitor(o, cfg.Session.SweepInterval)
		janitor.Start(ctx)
		defer janitor.Stop()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Msg("Drop server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
