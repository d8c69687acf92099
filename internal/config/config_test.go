package config

import (
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Scheduler.IdleJobsInterval != 15*time.Second {
		t.Errorf("IdleJobsInterval = %v", cfg.Scheduler.IdleJobsInterval)
	}
	if cfg.Scheduler.IdleOrdersInterval != 120*time.Second {
		t.Errorf("IdleOrdersInterval = %v", cfg.Scheduler.IdleOrdersInterval)
	}
	if cfg.Scheduler.BalanceStaleAfter != 50*time.Minute {
		t.Errorf("BalanceStaleAfter = %v", cfg.Scheduler.BalanceStaleAfter)
	}
	if strings.Join(cfg.Scheduler.UnknownOrdersAt, ",") != "00:00,12:00" {
		t.Errorf("UnknownOrdersAt = %v", cfg.Scheduler.UnknownOrdersAt)
	}
	if cfg.Worker.MaxDrainPasses != 100 {
		t.Errorf("MaxDrainPasses = %d", cfg.Worker.MaxDrainPasses)
	}
	if len(cfg.Kafka.Brokers) != 0 || cfg.Redis.Addr != "" {
		t.Error("kafka and redis must be disabled by default")
	}
	if cfg.Kafka.CommandsTopic != "connector-worker.commands" {
		t.Errorf("CommandsTopic = %s", cfg.Kafka.CommandsTopic)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("QUEUE_WORKERS", "16")
	t.Setenv("EXCHANGE_RATE", "2.5")
	t.Setenv("IDLE_JOBS_INTERVAL", "30s")
	t.Setenv("UNKNOWN_ORDERS_AT", "03:30")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %s", cfg.Redis.Addr)
	}
	if cfg.Worker.QueueWorkers != 16 || cfg.Worker.ExchangeRate != 2.5 {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Scheduler.IdleJobsInterval != 30*time.Second {
		t.Errorf("IdleJobsInterval = %v", cfg.Scheduler.IdleJobsInterval)
	}
	if len(cfg.Scheduler.UnknownOrdersAt) != 1 || cfg.Scheduler.UnknownOrdersAt[0] != "03:30" {
		t.Errorf("UnknownOrdersAt = %v", cfg.Scheduler.UnknownOrdersAt)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing key", map[string]string{"ENCRYPTION_KEY": ""}, "ENCRYPTION_KEY is required"},
		{"short key", map[string]string{"ENCRYPTION_KEY": "short"}, "exactly 32 bytes"},
		{"short token", map[string]string{"API_TOKEN": "abc"}, "API_TOKEN"},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"zero workers", map[string]string{"QUEUE_WORKERS": "0"}, "QUEUE_WORKERS"},
		{"zero passes", map[string]string{"MAX_DRAIN_PASSES": "0"}, "MAX_DRAIN_PASSES"},
		{"subsecond scan", map[string]string{"IDLE_JOBS_INTERVAL": "500ms"}, "IDLE_JOBS_INTERVAL"},
		{"bad audit time", map[string]string{"UNKNOWN_ORDERS_AT": "noon"}, "UNKNOWN_ORDERS_AT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENCRYPTION_KEY", testKey)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "secret", Name: "connector", SSLMode: "disable"}

	if !strings.Contains(d.DSN(), "password=secret") {
		t.Errorf("DSN() = %s", d.DSN())
	}
	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Errorf("DSNWithoutPassword() leaks password: %s", d.DSNWithoutPassword())
	}
}
