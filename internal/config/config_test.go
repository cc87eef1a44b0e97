package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.KafkaTopic != "iot_stream_v1" {
		t.Errorf("KafkaTopic = %q, want %q", cfg.KafkaTopic, "iot_stream_v1")
	}
	if cfg.KafkaGroupID != "iot-persistence-worker" {
		t.Errorf("KafkaGroupID = %q, want %q", cfg.KafkaGroupID, "iot-persistence-worker")
	}
	if cfg.RateLimitMax != 100 {
		t.Errorf("RateLimitMax = %d, want 100", cfg.RateLimitMax)
	}
	if cfg.RateLimitFailOpen {
		t.Error("RateLimitFailOpen should default to false")
	}
	if cfg.WorkerCount != 1 {
		t.Errorf("WorkerCount = %d, want 1", cfg.WorkerCount)
	}
	if cfg.WorkerMaxAttempts != 5 {
		t.Errorf("WorkerMaxAttempts = %d, want 5", cfg.WorkerMaxAttempts)
	}
	if cfg.RateWindow() != 60*time.Second {
		t.Errorf("RateWindow = %v, want 60s", cfg.RateWindow())
	}
	if cfg.RetryBase() != 100*time.Millisecond {
		t.Errorf("RetryBase = %v, want 100ms", cfg.RetryBase())
	}
	if cfg.RetryMax() != 5*time.Second {
		t.Errorf("RetryMax = %v, want 5s", cfg.RetryMax())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("RATE_LIMIT_MAX", "5")
	os.Setenv("RATE_LIMIT_WINDOW", "30s")
	os.Setenv("RATE_LIMIT_FAIL_OPEN", "true")
	os.Setenv("WORKER_COUNT", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.RateLimitMax != 5 {
		t.Errorf("RateLimitMax = %d, want 5", cfg.RateLimitMax)
	}
	if cfg.RateWindow() != 30*time.Second {
		t.Errorf("RateWindow = %v, want 30s", cfg.RateWindow())
	}
	if !cfg.RateLimitFailOpen {
		t.Error("RateLimitFailOpen should be true")
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", cfg.WorkerCount)
	}
}

func TestLoad_InvalidRateLimitMax(t *testing.T) {
	os.Clearenv()
	os.Setenv("RATE_LIMIT_MAX", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when RATE_LIMIT_MAX is 0")
	}
}

func TestLoad_InvalidWindow(t *testing.T) {
	os.Clearenv()
	os.Setenv("RATE_LIMIT_WINDOW", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when RATE_LIMIT_WINDOW is unparseable")
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "localhost:9092, broker2:9092 ,"}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 {
		t.Fatalf("KafkaBrokersList = %v, want 2 entries", got)
	}
	if got[0] != "localhost:9092" || got[1] != "broker2:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}

	cfg = &Config{}
	if got := cfg.KafkaBrokersList(); got != nil {
		t.Errorf("KafkaBrokersList on empty config = %v, want nil", got)
	}
}
