package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/leadflowhq/outreach/internal/config"
	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/enrollment"
	"github.com/leadflowhq/outreach/internal/executor"
	"github.com/leadflowhq/outreach/internal/metrics"
	"github.com/leadflowhq/outreach/internal/pkg/distlock"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
	"github.com/leadflowhq/outreach/internal/queue"
	"github.com/leadflowhq/outreach/internal/ratelimit"
	"github.com/leadflowhq/outreach/internal/repository/postgres"
	"github.com/leadflowhq/outreach/internal/scheduler"
	"github.com/leadflowhq/outreach/internal/template"
	"github.com/leadflowhq/outreach/internal/tracking"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}
	metrics.Init()

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	redisClient := openRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	seqRepo := postgres.NewSequenceRepo(db)
	enrRepo := postgres.NewEnrollmentRepo(db)
	actRepo := postgres.NewActionRepo(db)
	acctRepo := postgres.NewAccountRepo(db)
	statsRepo := postgres.NewStatsRepo(db)

	q := queue.NewWithConfig(db, cfg.Scheduler.MaxRetries, cfg.Scheduler.LeaseTimeout())
	engine := template.NewEngine()

	enrollSvc := enrollment.NewService(enrRepo, seqRepo, actRepo, q)
	trackSvc := tracking.NewService(actRepo, actRepo, enrollSvc,
		cfg.Tracking.SigningKey, cfg.Tracking.BaseURL)

	var redisLimiter *ratelimit.RedisLimiter
	if redisClient != nil {
		redisLimiter = ratelimit.NewRedisLimiter(redisClient,
			cfg.RateLimit.HourlyCap, cfg.RateLimit.DailyCap)
	}
	limiter := ratelimit.New(db, redisLimiter)

	senders := map[domain.TransportType]executor.Sender{
		domain.TransportSMTP: executor.NewSMTPSender(cfg.SMTP),
		domain.TransportSES:  executor.NewSESSender(),
	}
	exec := executor.New(actRepo, acctRepo, limiter, engine, trackSvc, senders)

	lock := distlock.NewLock(redisClient, db, "outreach:scheduler:maintenance", 2*time.Minute)
	pool := scheduler.NewPool(db, q, enrollSvc, seqRepo, exec, statsRepo, lock,
		cfg.Scheduler.Workers, cfg.Scheduler.BatchSize, cfg.Scheduler.PollInterval())

	pool.Start()

	// Admin surface: liveness plus Prometheus counters.
	go serveAdmin()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("worker shutting down", "signal", sig.String())
	pool.Stop()
}

func serveAdmin() {
	addr := os.Getenv("ADMIN_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("admin server stopped", "error", err.Error())
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// openRedis connects to Redis when configured. A failed connection degrades
// to the Postgres fallbacks (advisory locks, DB rate counters) with a
// warning rather than refusing to start.
func openRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.URL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Warn("invalid redis url, continuing without redis", "error", err.Error())
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, continuing without redis", "error", err.Error())
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
