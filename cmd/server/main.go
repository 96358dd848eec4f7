package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/catalog"
	"github.com/fanunits/market-engine/internal/clock"
	"github.com/fanunits/market-engine/internal/config"
	"github.com/fanunits/market-engine/internal/ledger"
	"github.com/fanunits/market-engine/internal/limits"
	"github.com/fanunits/market-engine/internal/metrics"
	"github.com/fanunits/market-engine/internal/portfolio"
	"github.com/fanunits/market-engine/internal/pricing"
	"github.com/fanunits/market-engine/internal/scheduler"
	"github.com/fanunits/market-engine/internal/store"
	"github.com/fanunits/market-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize stores ---
	starting := decimal.NewFromFloat(cfg.Market.StartingBalance)
	var snapshots store.SnapshotStore
	var ledgerStore store.LedgerStore
	var cleanup []func()

	if cfg.Database.URL != "" {
		if err := store.MigrateUp(cfg.Database.URL); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool, starting)
		snapshots, ledgerStore = pg, pg
		slog.Info("connected to PostgreSQL")

		// Wrap the catalog with a Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			snapshots = store.NewCachedSnapshotStore(pg, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.String())
		}
	} else {
		if p := cfg.Database.CatalogPath; p != "" {
			if err := ensureDir(p); err != nil {
				slog.Error("create sqlite directory failed", "err", err)
				os.Exit(1)
			}
			sq, err := store.NewSQLiteSnapshotStore(p)
			if err != nil {
				slog.Error("sqlite catalog open failed", "err", err)
				os.Exit(1)
			}
			cleanup = append(cleanup, func() { sq.Close() })
			snapshots = sq
		} else {
			slog.Warn("DATABASE_URL and catalog_path not set, using in-memory catalog (data will not persist)")
			snapshots = store.NewMemorySnapshotStore()
		}

		if p := cfg.Database.SQLitePath; p != "" {
			if err := ensureDir(p); err != nil {
				slog.Error("create sqlite directory failed", "err", err)
				os.Exit(1)
			}
			sq, err := store.NewSQLiteLedgerStore(p, starting)
			if err != nil {
				slog.Error("sqlite open failed", "err", err)
				os.Exit(1)
			}
			cleanup = append(cleanup, func() { sq.Close() })
			ledgerStore = sq
			if cfg.Database.CatalogPath == "" {
				slog.Warn("ledger persists but catalog does not: volume, holders and prices reset on restart",
					"sqlite_path", p)
			}
		} else {
			ledgerStore = store.NewMemoryLedgerStore(starting)
		}
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing and catalog ---
	origin, _ := cfg.OriginTime()
	sim, err := pricing.NewSimulator(origin, cfg.Bucket())
	if err != nil {
		slog.Error("invalid simulator settings", "err", err)
		os.Exit(1)
	}
	clk := clock.System{}
	cat := catalog.NewService(snapshots, sim, clk,
		catalog.WithRetry(cfg.Market.RetryAttempts, cfg.Market.RetryBackoff))

	if added, err := cat.Seed(ctx, cfg.Seed); err != nil {
		slog.Error("catalog seed failed", "err", err)
		os.Exit(1)
	} else if len(added) > 0 {
		slog.Info("catalog seeded", "symbols", added)
	}

	// --- Ledger, portfolio, limits ---
	led := ledger.New(ledgerStore, cat, clk)
	pf := portfolio.NewService(led, cat)
	limiter := limits.NewLimiter(cfg.Limits.MaxPerInstrument, cfg.Limits.MaxPerCategory)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)
	cat.Subscribe(wsHub.OnCatalogUpdate)

	// --- Trade service ---
	tradeSvc := trade.NewService(cat, led, pf, limiter, clk, wsHub)

	// --- Scheduler ---
	sched := scheduler.NewScheduler(ctx, cat)
	if err := sched.Register(cfg.Schedule.SimulatorCron); err != nil {
		slog.Error("register cron tasks failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()
	go sched.RunNow()

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates. Registered outside
		// the timeout group so long-lived connections are not cut.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.Register(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("market-engine stopped")
}

// ensureDir creates the parent directory of a SQLite database file.
func ensureDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dbPath), 0o755)
}
