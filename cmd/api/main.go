package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/Dan9191/user-service/internal/config"
	"github.com/Dan9191/user-service/internal/export"
	"github.com/Dan9191/user-service/internal/handler"
	"github.com/Dan9191/user-service/internal/integrations/google"
	"github.com/Dan9191/user-service/internal/jobs"
	"github.com/Dan9191/user-service/internal/middleware"
	"github.com/Dan9191/user-service/internal/repository"
	"github.com/Dan9191/user-service/internal/service"
	"github.com/Dan9191/user-service/internal/utils/email"
	"github.com/Dan9191/user-service/migrations"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Apply migrations
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatalf("Failed to set migration dialect: %v", err)
	}
	if err := goose.Up(db, "."); err != nil {
		logger.Fatalf("Failed to apply migrations: %v", err)
	}

	// Initialize layers
	repo := repository.NewPostgres(db)
	verifier := google.NewClient(cfg, logger)
	svc := service.NewService(repo, verifier, logger)
	exporter := export.NewExporter(cfg.ExportDir)

	var notifier jobs.Notifier
	if cfg.SMTPHost != "" {
		notifier = email.NewSender(cfg, logger)
	}

	jobManager := jobs.NewManager(repo, exporter, notifier, logger, cfg.ExportWorkers, cfg.JobStaleAfter)
	ctx := context.Background()
	jobManager.Start(ctx)
	jobManager.RequeuePending(ctx)

	// Reap orphaned claims and re-signal deferred jobs periodically
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() {
		jobManager.ReapStale(ctx)
		jobManager.RequeuePending(ctx)
	}); err != nil {
		logger.Fatalf("Failed to schedule job maintenance: %v", err)
	}
	c.Start()

	h := handler.NewHandler(svc, jobManager, logger)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.Logging(logger))
	h.Register(r)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
