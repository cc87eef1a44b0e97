// seed inserts development sample telemetry for local testing.
// Idempotent: readings are keyed by (device_id, ingest_id), so reruns are no-ops.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"iot-stream-engine/internal/config"
	"iot-stream-engine/internal/db"
	"iot-stream-engine/internal/ingest/domain"
	"iot-stream-engine/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("seed: DATABASE_URL is required")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer conn.Close()

	repo := storage.NewPostgresRepository(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Now().UTC().Truncate(time.Minute).Add(-time.Hour)
	inserted := 0
	for _, deviceID := range []string{"dev-sensor-001", "dev-sensor-002", "dev-sensor-003"} {
		for i := 0; i < 12; i++ {
			battery := 100.0 - float64(i)*2.5
			event := &domain.TelemetryEvent{
				DeviceID:     deviceID,
				SubmittedAt:  base.Add(time.Duration(i) * 5 * time.Minute),
				ReadingValue: 20.0 + float64(i)*0.4,
				ReadingType:  "temperature",
				Unit:         "celsius",
				BatteryLevel: &battery,
				RawData:      fmt.Sprintf(`{"seq":%d}`, i),
			}
			if err := event.Validate(); err != nil {
				log.Fatalf("seed: sample event invalid: %v", err)
			}
			event.IngestID = event.SynthesizeIngestID()

			ok, err := repo.Save(ctx, event)
			if err != nil {
				log.Fatalf("seed: save reading for %s: %v", deviceID, err)
			}
			if ok {
				inserted++
			}
		}
	}

	log.Printf("seed: inserted %d readings (reruns skip existing rows)", inserted)
}
