package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"opsgate.io/internal/audit"
	"opsgate.io/internal/auth"
	"opsgate.io/internal/config"
	"opsgate.io/internal/httpapi"
	"opsgate.io/internal/obs"
	"opsgate.io/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	log, err := obs.NewLogger(cfg.Environment, cfg.LogLevel, "opsgate-api")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()

	// Persistence: Postgres when a DSN is set, otherwise an in-process store
	// for development runs.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Error("open db", zap.Error(err))
			os.Exit(1)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
		log.Info("using postgres store")
	} else {
		store = auth.NewMemoryStore()
		log.Warn("OPSGATE_PG_DSN not set, using in-memory store")
	}

	// Shared rate limit counters: Redis when configured, otherwise
	// per-instance memory.
	var (
		redisClient  *redis.Client
		counterStore ratelimit.CounterStore
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		counterStore = ratelimit.NewRedisStore(redisClient, "opsgate")
		log.Info("using redis rate limit counters", zap.String("addr", cfg.RedisAddr))
	} else {
		counterStore = ratelimit.NewMemoryStore()
		log.Warn("OPSGATE_REDIS_ADDR not set, rate limits are per-instance")
	}

	issuer, err := auth.NewTokenIssuer([]byte(cfg.AccessSecret), []byte(cfg.RefreshSecret),
		auth.WithIssuerName("opsgate-api"),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Error("token issuer", zap.Error(err))
		os.Exit(1)
	}

	recorder := audit.NewRecorder(store, log)

	svc, err := auth.NewService(store, issuer,
		auth.WithRecorder(recorder),
		auth.WithLogger(log),
		auth.WithLockout(auth.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration)),
		auth.WithAPIKeys(auth.WithAPIKeyTTL(cfg.APIKeyTTL)),
	)
	if err != nil {
		log.Error("auth service", zap.Error(err))
		os.Exit(1)
	}

	limiter, err := ratelimit.NewLimiter(counterStore, cfg.RateLimitFailMode,
		ratelimit.WithPolicies(cfg.RateLimitPolicies))
	if err != nil {
		log.Error("rate limiter", zap.Error(err))
		os.Exit(1)
	}

	api := httpapi.New(svc, limiter, httpapi.ReadyProbe{DB: db, Redis: redisClient}, log, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting opsgate-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("rate_limit_fail_mode", cfg.RateLimitFailMode.String()),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", zap.Error(err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	if db != nil {
		_ = db.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
