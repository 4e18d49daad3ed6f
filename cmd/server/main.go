package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hitflop/prediction-engine/internal/api"
	"github.com/hitflop/prediction-engine/internal/auth"
	"github.com/hitflop/prediction-engine/internal/config"
	"github.com/hitflop/prediction-engine/internal/ledger"
	"github.com/hitflop/prediction-engine/internal/logger"
	"github.com/hitflop/prediction-engine/internal/prediction"
	"github.com/hitflop/prediction-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Service, cfg.Log.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("prediction-engine stopped", zap.Error(err))
	}
	log.Info("prediction-engine stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Live feed hub ---
	feed := api.NewFeedHub(log, cfg.Server.CORSOrigins)

	// --- Services ---
	predictions := prediction.NewService(st, log, prediction.WithNotifier(feed))
	bets := ledger.NewService(st, log)
	authn := auth.NewAuthenticator(auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer), st, log)

	router := api.NewRouter(api.Deps{
		Predictions:  predictions,
		Ledger:       bets,
		Authenticate: authn.Middleware,
		Feed:         feed,
		Health:       st,
		Log:          log,
	}, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("prediction-engine listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("cache", cfg.Redis.URL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down prediction-engine")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore builds the configured store, wrapped with the Redis cache when
// a URL is set. The returned cleanup releases every connection opened.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	var st store.Store
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database dsn: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.PoolMaxConns)
		poolCfg.MinConns = int32(cfg.Database.PoolMinConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("database ping failed: %w", err)
		}
		if cfg.Database.RunMigrations {
			if err := store.RunMigrations(ctx, pool); err != nil {
				closeAll()
				return nil, nil, err
			}
			log.Info("migrations applied")
		}
		st = store.NewPostgresStore(pool)
		log.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		ss, err := store.NewSQLiteStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { ss.Close() })
		st = ss
		log.Info("opened SQLite database", zap.String("dsn", cfg.Database.DSN))

	default:
		log.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		log.Info("Redis cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL.Duration))
	}

	return st, closeAll, nil
}
