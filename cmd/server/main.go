package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/DrkMatr1984/GlobalMarket/internal/config"
	"github.com/DrkMatr1984/GlobalMarket/internal/limits"
	"github.com/DrkMatr1984/GlobalMarket/internal/market"
	"github.com/DrkMatr1984/GlobalMarket/internal/metrics"
	"github.com/DrkMatr1984/GlobalMarket/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	ctx := context.Background()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
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
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := st.InitSchema(ctx); err != nil {
		slog.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	hub := market.NewHub()
	go hub.Run()

	// --- Market ---
	var limiter *limits.ListingLimiter
	if cfg.MaxListingsPerSeller > 0 || cfg.MaxListingsPerRegion > 0 {
		limiter = limits.NewListingLimiter(cfg.MaxListingsPerSeller, cfg.MaxListingsPerRegion)
	}
	mkt := market.New(st, market.Options{
		Notifier:         hub,
		Linker:           &cfg.RegionLinks,
		Limits:           limiter,
		MultiRegion:      cfg.MultiRegion,
		AnnounceOnCreate: cfg.AnnounceOnCreate,
		MarketCut:        cfg.MarketCut,
		HistoryLimit:     cfg.HistoryLimit,
	})
	if err := mkt.Load(ctx); err != nil {
		slog.Error("market load failed", "err", err)
		os.Exit(1)
	}
	api := market.NewAPI(mkt)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
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
		w.Write([]byte(`{"status":"ok","service":"globalmarket"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for viewer refresh notices and announcements.
		r.Get("/ws", hub.HandleWS)

		// Listings.
		r.Get("/listings", api.ListListings)
		r.Post("/listings", api.CreateListing)
		r.Get("/listings/search", api.SearchListings)
		r.Get("/listings/{listingID}", api.GetListing)
		r.Delete("/listings/{listingID}", api.CancelListing)
		r.Post("/listings/{listingID}/buy", api.Buy)

		// Mail.
		r.Post("/mail", api.SendMail)
		r.Post("/mail/{mailID}/claim", api.ClaimMail)
		r.Post("/mail/{mailID}/clear-pickup", api.ClearMailPickup)

		// Per-player queries.
		r.Get("/players/{player}/listings", api.OwnedListings)
		r.Get("/players/{player}/mail", api.ListMail)
		r.Get("/players/{player}/mail/count", api.MailCount)
		r.Get("/players/{player}/history", api.History)
		r.Get("/players/{player}/totals", api.Totals)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("globalmarket listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain the write
	// queue so accepted writes reach the backing store.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down globalmarket...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := mkt.Close(shutdownCtx); err != nil {
		slog.Error("queue drain error", "err", err)
	}
	fmt.Println("globalmarket stopped")
}
