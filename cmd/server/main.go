// server runs the telemetry ingest HTTP API: admission (POST /events), the
// read API, dead-letter admin, health, and metrics.
// Requires KAFKA_BROKERS. DATABASE_URL enables the read API and dead-letter
// admin; REDIS_ADDR selects the Redis rate limiter over the in-memory one.
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

	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/config"
	"iot-stream-engine/internal/db"
	"iot-stream-engine/internal/deadletter"
	deadletterhandler "iot-stream-engine/internal/deadletter/handler"
	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/health"
	"iot-stream-engine/internal/ingest"
	ingesthandler "iot-stream-engine/internal/ingest/handler"
	"iot-stream-engine/internal/ratelimit"
	"iot-stream-engine/internal/server"
	"iot-stream-engine/internal/storage"
	storagehandler "iot-stream-engine/internal/storage/handler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logrus.New()
	if cfg.Env == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("server: KAFKA_BROKERS is required")
	}
	appender, err := eventlog.NewKafkaAppender(brokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatalf("event log: %v", err)
	}
	defer appender.Close()

	policy := ratelimit.Policy{
		Limit:    cfg.RateLimitMax,
		Window:   cfg.RateWindow(),
		FailOpen: cfg.RateLimitFailOpen,
	}
	checks := map[string]health.Check{}
	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, policy, logger)
		if err != nil {
			log.Fatalf("rate limiter: %v", err)
		}
		limiter = redisLimiter
		checks["redis"] = redisLimiter.Ping
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory rate limiter (single node only)")
		limiter, err = ratelimit.NewMemoryLimiter(policy)
		if err != nil {
			log.Fatalf("rate limiter: %v", err)
		}
	}

	service, err := ingest.NewService(limiter, appender, logger)
	if err != nil {
		log.Fatalf("ingest service: %v", err)
	}

	deps := server.Deps{
		Ingest: ingesthandler.NewHandler(service, logger),
		APIKey: cfg.APIKey,
		Logger: logger,
	}

	var conn *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer conn.Close()

		deps.Read = storagehandler.NewHandler(storage.NewPostgresRepository(conn), logger)
		deps.DeadLetter = deadletterhandler.NewHandler(deadletter.NewPostgresStore(conn), appender, logger)
		checks["database"] = func(ctx context.Context) error { return conn.PingContext(ctx) }
	} else {
		logger.Warn("DATABASE_URL not set, read API and dead-letter admin disabled")
	}
	deps.Health = health.NewHandler(checks, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("ingest server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down ingest server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("ingest server stopped")
}
