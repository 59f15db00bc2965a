package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/marketsim/tick-engine/internal/api"
	"github.com/marketsim/tick-engine/internal/config"
	"github.com/marketsim/tick-engine/internal/db"
	"github.com/marketsim/tick-engine/internal/logging"
	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/pricing"
	"github.com/marketsim/tick-engine/internal/seed"
	"github.com/marketsim/tick-engine/internal/store"
	"github.com/marketsim/tick-engine/internal/tick"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (overrides TICK_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.FilePath = cfg.LogFile
	logger, logCloser := logging.New(logCfg)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var locker store.Locker
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st, locker = pg, pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			locker = store.NewRedisLocker(rdb)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		st, locker = ms, ms
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if cfg.SeedDemo {
		if _, _, err := seed.Defaults(ctx, st, logger); err != nil {
			slog.Error("seeding demo catalog failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Tick engine ---
	engine := tick.NewEngine(st, cfg.Tick(), pricing.NewLockedRand(cfg.RandomSeed), logger).
		WithLocker(locker)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(logger)
	go wsHub.Run(ctx)
	engine.OnCommit(wsHub.BroadcastTick)

	var schedulerWG sync.WaitGroup
	if cfg.SchedulerEnabled {
		schedulerWG.Add(1)
		go func() {
			defer schedulerWG.Done()
			tick.NewScheduler(engine, cfg.Every, logger).Run(ctx)
		}()
	} else {
		slog.Info("tick scheduler disabled, manual triggers only")
	}

	handler := api.NewHandler(engine, st, cfg.AdminToken, logger)
	if cfg.AdminToken == "" {
		slog.Warn("TICK_ADMIN_TOKEN not set, manual tick trigger is unauthenticated")
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.AdminTokenHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fmt.Sprintf(`{"status":"ok","service":"tick-engine","tick_state":%q}`, engine.State())))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for committed tick broadcasts.
		r.Get("/ws", wsHub.HandleWS)
		handler.Register(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.LockTTL, // a manual tick holds its request open until it commits
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("tick-engine listening", "addr", srv.Addr, "every", cfg.Every)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down tick-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	// Let a scheduled tick that is in flight commit or fail before the
	// store connections close.
	schedulerDone := make(chan struct{})
	go func() {
		schedulerWG.Wait()
		close(schedulerDone)
	}()
	select {
	case <-schedulerDone:
	case <-time.After(cfg.LockTTL):
		slog.Warn("in-flight tick did not finish before shutdown deadline", "wait", cfg.LockTTL)
	}
	fmt.Println("tick-engine stopped")
}
