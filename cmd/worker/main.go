// worker consumes accepted telemetry from Kafka and commits it to Postgres.
// Records that exhaust their retry budget go to the dead-letter table.
// Set KAFKA_BROKERS, KAFKA_TOPIC, KAFKA_GROUP_ID, and DATABASE_URL.
// WORKER_COUNT consumer loops share one group, so partitions are split
// between them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"iot-stream-engine/internal/config"
	"iot-stream-engine/internal/db"
	"iot-stream-engine/internal/deadletter"
	"iot-stream-engine/internal/eventlog"
	"iot-stream-engine/internal/storage"
	"iot-stream-engine/internal/worker"
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
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer conn.Close()

	repo := storage.NewPostgresRepository(conn)
	sink := deadletter.NewPostgresStore(conn)
	workerCfg := worker.Config{
		MaxAttempts: cfg.WorkerMaxAttempts,
		RetryBase:   cfg.RetryBase(),
		RetryMax:    cfg.RetryMax(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s) with %d loops", cfg.KafkaTopic, cfg.KafkaGroupID, cfg.WorkerCount)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		consumer, err := eventlog.NewKafkaConsumer(brokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		if err != nil {
			log.Fatalf("consumer: %v", err)
		}
		w, err := worker.New(consumer, repo, sink, workerCfg, logger)
		if err != nil {
			log.Fatalf("worker: %v", err)
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer consumer.Close()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("loop", i).Error("worker loop exited")
			}
		}(i)
	}

	wg.Wait()
	log.Println("worker: stopped")
}
