package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию воркера
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Security  SecurityConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера (команды, метрики, поток событий)
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig - Redis для дедупликации очереди между процессами.
// Пустой Addr - дедупликация в памяти процесса
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	KeyTTL    time.Duration
}

// KafkaConfig - шина событий и команд. Пустой Brokers - события только в лог и websocket
type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	TopicPrefix   string
	CommandsTopic string
	GroupID       string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string
	APIToken      string // Bearer токен для /api/v1, пусто - без проверки
}

// WorkerConfig - очередь аккаунтов и обработка ордеров
type WorkerConfig struct {
	QueueWorkers       int
	QueueBuffer        int
	OrderConcurrency   int
	DecryptConcurrency int
	MaxDrainPasses     int
	ExchangeRate       float64 // запросов в секунду на сессию биржи
	ExchangeBurst      int
}

// SchedulerConfig - периоды сверок
type SchedulerConfig struct {
	IdleJobsInterval    time.Duration
	IdleOrdersInterval  time.Duration
	BalanceScanInterval time.Duration
	BalanceStaleAfter   time.Duration
	UnknownOrdersAt     []string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "connector"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "connector-worker:queue:"),
			KeyTTL:    getEnvAsDuration("REDIS_KEY_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", nil),
			ClientID:      getEnv("KAFKA_CLIENT_ID", "connector-worker"),
			TopicPrefix:   getEnv("KAFKA_TOPIC_PREFIX", "connector-worker"),
			CommandsTopic: getEnv("KAFKA_COMMANDS_TOPIC", "connector-worker.commands"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "connector-worker"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APIToken:      getEnv("API_TOKEN", ""),
		},
		Worker: WorkerConfig{
			QueueWorkers:       getEnvAsInt("QUEUE_WORKERS", 8),
			QueueBuffer:        getEnvAsInt("QUEUE_BUFFER", 1024),
			OrderConcurrency:   getEnvAsInt("ORDER_CONCURRENCY", 4),
			DecryptConcurrency: getEnvAsInt("DECRYPT_CONCURRENCY", 4),
			MaxDrainPasses:     getEnvAsInt("MAX_DRAIN_PASSES", 100),
			ExchangeRate:       getEnvAsFloat("EXCHANGE_RATE", 10),
			ExchangeBurst:      getEnvAsInt("EXCHANGE_BURST", 10),
		},
		Scheduler: SchedulerConfig{
			IdleJobsInterval:    getEnvAsDuration("IDLE_JOBS_INTERVAL", 15*time.Second),
			IdleOrdersInterval:  getEnvAsDuration("IDLE_ORDERS_INTERVAL", 120*time.Second),
			BalanceScanInterval: getEnvAsDuration("BALANCE_SCAN_INTERVAL", 60*time.Second),
			BalanceStaleAfter:   getEnvAsDuration("BALANCE_STALE_AFTER", 50*time.Minute),
			UnknownOrdersAt:     getEnvAsList("UNKNOWN_ORDERS_AT", []string{"00:00", "12:00"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY нужен для расшифровки ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting exchange keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Security.APIToken != "" && len(c.Security.APIToken) < 32 {
		return fmt.Errorf("API_TOKEN must be at least 32 characters")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Worker.QueueWorkers < 1 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.Worker.QueueWorkers)
	}

	if c.Worker.OrderConcurrency < 1 {
		return fmt.Errorf("ORDER_CONCURRENCY must be positive, got %d", c.Worker.OrderConcurrency)
	}

	if c.Worker.DecryptConcurrency < 1 {
		return fmt.Errorf("DECRYPT_CONCURRENCY must be positive, got %d", c.Worker.DecryptConcurrency)
	}

	if c.Worker.MaxDrainPasses < 1 {
		return fmt.Errorf("MAX_DRAIN_PASSES must be positive, got %d", c.Worker.MaxDrainPasses)
	}

	if c.Worker.ExchangeRate <= 0 {
		return fmt.Errorf("EXCHANGE_RATE must be positive, got %v", c.Worker.ExchangeRate)
	}

	// Периоды сканеров (gocron работает с точностью до секунды)
	for name, d := range map[string]time.Duration{
		"IDLE_JOBS_INTERVAL":    c.Scheduler.IdleJobsInterval,
		"IDLE_ORDERS_INTERVAL":  c.Scheduler.IdleOrdersInterval,
		"BALANCE_SCAN_INTERVAL": c.Scheduler.BalanceScanInterval,
		"BALANCE_STALE_AFTER":   c.Scheduler.BalanceStaleAfter,
	} {
		if d < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %v", name, d)
		}
	}

	for _, at := range c.Scheduler.UnknownOrdersAt {
		if _, err := time.Parse("15:04", at); err != nil {
			return fmt.Errorf("UNKNOWN_ORDERS_AT must contain hh:mm values, got %q", at)
		}
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
