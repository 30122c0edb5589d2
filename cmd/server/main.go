package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/leadflowhq/outreach/internal/api"
	"github.com/leadflowhq/outreach/internal/config"
	"github.com/leadflowhq/outreach/internal/enrollment"
	"github.com/leadflowhq/outreach/internal/metrics"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
	"github.com/leadflowhq/outreach/internal/queue"
	"github.com/leadflowhq/outreach/internal/repository/postgres"
	"github.com/leadflowhq/outreach/internal/sequence"
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

	seqRepo := postgres.NewSequenceRepo(db)
	enrRepo := postgres.NewEnrollmentRepo(db)
	actRepo := postgres.NewActionRepo(db)
	acctRepo := postgres.NewAccountRepo(db)

	q := queue.NewWithConfig(db, cfg.Scheduler.MaxRetries, cfg.Scheduler.LeaseTimeout())
	engine := template.NewEngine()

	enrollSvc := enrollment.NewService(enrRepo, seqRepo, actRepo, q)
	seqSvc := sequence.NewService(seqRepo, engine, enrollSvc)
	trackSvc := tracking.NewService(actRepo, actRepo, enrollSvc,
		cfg.Tracking.SigningKey, cfg.Tracking.BaseURL)

	srv := api.NewServer(&api.Handlers{
		Sequences:   seqSvc,
		Enrollments: enrollSvc,
		Tracking:    trackSvc,
		Accounts:    acctRepo,
		Actions:     actRepo,
	}, cfg.Server.AllowedOrigins)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("server: %v", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err.Error())
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
