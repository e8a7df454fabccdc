package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobquest-hive/internal/auth"
	"github.com/justsurfingit/jobquest-hive/internal/config"
	"github.com/justsurfingit/jobquest-hive/internal/database"
	"github.com/justsurfingit/jobquest-hive/internal/handlers"
	"github.com/justsurfingit/jobquest-hive/internal/ingest"
	"github.com/justsurfingit/jobquest-hive/internal/logger"
	"github.com/justsurfingit/jobquest-hive/internal/remote"
	"github.com/justsurfingit/jobquest-hive/internal/services"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	// 2. Logger
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Sync ledger: postgres when configured, memory otherwise
	var ledger services.Ledger
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL, log)
		if err != nil {
			log.WithError(err).Fatal("database unavailable")
		}
		ledger = services.NewGormLedger(db)
	} else {
		log.Warn("DATABASE_URL not set, publish history is kept in memory")
		ledger = services.NewMemoryLedger(1000)
	}

	// 4. Object storage for staged spreadsheets
	objects, err := ingest.NewObjectSource(ctx, ingest.ObjectConfig{
		Bucket:    cfg.IngestBucket,
		Endpoint:  cfg.IngestEndpoint,
		Region:    cfg.IngestRegion,
		AccessKey: cfg.IngestAccessKey,
		SecretKey: cfg.IngestSecretKey,
		MaxBytes:  cfg.MaxUploadBytes,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to set up object storage")
	}
	if !objects.Enabled() {
		log.Info("INGEST_BUCKET not set, object imports disabled")
	}

	// 5. Hive backend clients, one per caller token
	newBackend := func(token string) services.Backend {
		return remote.New(remote.Options{
			BaseURL:     cfg.HiveBaseURL,
			HTTPClient:  auth.NewBackendClient(auth.PickToken(token, cfg.HiveServiceToken), cfg.RemoteTimeout),
			GetAttempts: cfg.RemoteGetAttempts,
			Backoff:     500 * time.Millisecond,
			Logger:      log,
		})
	}

	// 6. Desk sessions and the idle reaper
	sessions := services.NewSessionService(services.SessionOptions{
		NewBackend: newBackend,
		Ledger:     ledger,
		Objects:    objects,
		IdleTTL:    cfg.SessionIdleTTL,
		Logger:     log,
	})
	sessions.StartReaper(ctx, time.Minute)

	// 7. Setup Router & CORS
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(logger.GinMiddleware(log), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if origins := cfg.AllowedOrigins(); origins != nil {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	// 8. Define Routes
	handlers.RegisterRoutes(r.Group("/api/v1"), handlers.NewDeskHandler(sessions, cfg.MaxUploadBytes))

	srv := &http.Server{Addr: cfg.Address, Handler: r}
	go func() {
		log.WithField("address", cfg.Address).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
