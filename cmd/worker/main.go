package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"connector/internal/api"
	"connector/internal/config"
	"connector/internal/events"
	"connector/internal/exchange"
	"connector/internal/repository"
	"connector/internal/scheduler"
	"connector/internal/service"
	"connector/internal/websocket"
	"connector/internal/worker"
	"connector/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped with error", utils.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	orderRepo := repository.NewOrderRepository(db)
	jobRepo := repository.NewJobRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	unknownRepo := repository.NewUnknownOrderRepository(db)

	// Шина событий: websocket всегда, Kafka при наличии брокеров
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run()
	defer hub.Stop()

	kafkaCfg := events.KafkaConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		TopicPrefix:   cfg.Kafka.TopicPrefix,
		CommandsTopic: cfg.Kafka.CommandsTopic,
		GroupID:       cfg.Kafka.GroupID,
	}

	bus := events.Multi{hub}
	if len(kafkaCfg.Brokers) > 0 {
		producer, err := events.NewSyncProducer(kafkaCfg)
		if err != nil {
			return err
		}
		publisher := events.NewKafkaPublisher(producer, kafkaCfg.TopicPrefix, logger)
		defer publisher.Close()
		bus = append(bus, publisher)
	} else {
		logger.Warn("KAFKA_BROKERS is empty, events go to log and websocket only")
		bus = append(bus, events.NewLogPublisher(logger))
	}

	// Сессии бирж
	decryptor := service.NewDecryptPool([]byte(cfg.Security.EncryptionKey), cfg.Worker.DecryptConcurrency)
	pool := service.NewConnectorPool(nil, decryptor, accountRepo, bus, service.PoolConfig{
		Rate:       cfg.Worker.ExchangeRate,
		Burst:      float64(cfg.Worker.ExchangeBurst),
		HTTPClient: exchange.GetGlobalHTTPClient(),
	}, logger)

	runner := worker.NewRunner(jobRepo, orderRepo, accountRepo, unknownRepo, pool, bus, worker.Config{
		OrderConcurrency: cfg.Worker.OrderConcurrency,
		MaxDrainPasses:   cfg.Worker.MaxDrainPasses,
	}, logger)

	// Очередь аккаунтов
	var dedup scheduler.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		dedup = scheduler.NewRedisDeduper(rdb, cfg.Redis.KeyPrefix, cfg.Redis.KeyTTL)
	} else {
		dedup = scheduler.NewMemoryDeduper()
	}

	// Очередь останавливается после HTTP, чтобы команды успели записаться
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	queue := scheduler.NewQueue(runner, dedup, scheduler.QueueConfig{
		Workers: cfg.Worker.QueueWorkers,
		Buffer:  cfg.Worker.QueueBuffer,
	}, logger)
	queue.Start(queueCtx)

	jobService := service.NewJobService(jobRepo, orderRepo, accountRepo, queue, logger)
	accountService := service.NewAccountService(accountRepo, queue, logger)

	sched := scheduler.New(jobRepo, orderRepo, accountRepo, queue, scheduler.Config{
		IdleJobsInterval:    cfg.Scheduler.IdleJobsInterval,
		IdleOrdersInterval:  cfg.Scheduler.IdleOrdersInterval,
		BalanceScanInterval: cfg.Scheduler.BalanceScanInterval,
		BalanceStaleAfter:   cfg.Scheduler.BalanceStaleAfter,
		UnknownOrdersAt:     cfg.Scheduler.UnknownOrdersAt,
	}, logger)
	sched.Start(ctx)

	// Восстановление после рестарта: задания, наступившие пока воркер стоял
	if n, err := sched.ScanIdleJobs(ctx); err != nil {
		logger.Warn("initial idle jobs scan failed", utils.Err(err))
	} else {
		logger.Info("initial idle jobs scan", utils.Int("enqueued", n))
	}

	// Команды из Kafka
	if len(kafkaCfg.Brokers) > 0 {
		consumer, err := events.NewCommandConsumer(kafkaCfg, jobService, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("command consumer stopped", utils.Err(err))
			}
		}()
	}

	router := api.SetupRoutes(&api.Dependencies{
		JobService:     jobService,
		AccountService: accountService,
		Events:         http.HandlerFunc(hub.ServeWS),
		Health:         db.PingContext,
		APIToken:       cfg.Security.APIToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("http server failed", utils.Err(err))
	}

	logger.Info("shutting down")

	// Сначала перестаем принимать новую работу
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", utils.Err(err))
	}

	// Затем дожидаемся текущих запусков аккаунтов
	done := make(chan struct{})
	go func() {
		stopQueue()
		queue.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("queue did not drain before shutdown timeout")
	}

	logger.Info("worker exited")
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
