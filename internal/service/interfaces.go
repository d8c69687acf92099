package service

import (
	"context"

	"connector/internal/models"
	"connector/internal/repository"
)

// AccountRepositoryInterface - операции с аккаунтами, нужные сервисам
type AccountRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*models.UserExchangeAccount, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
}

// OrderRepositoryInterface - поиск ордера для проверки команд
type OrderRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*models.Order, error)
}

// JobRepositoryInterface - вставка заданий
type JobRepositoryInterface interface {
	Create(ctx context.Context, job *models.ConnectorJob) error
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ AccountRepositoryInterface = (*repository.AccountRepository)(nil)
var _ OrderRepositoryInterface = (*repository.OrderRepository)(nil)
var _ JobRepositoryInterface = (*repository.JobRepository)(nil)

// EventPublisher - шина событий (Kafka, websocket)
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}

// AccountEnqueuer ставит запуск обработки заданий аккаунта в очередь.
// Возвращает false, если запуск уже в очереди или выполняется
type AccountEnqueuer interface {
	EnqueueOrders(accountID string) bool
}

// Decryptor расшифровывает ключи аккаунта пользователя
type Decryptor interface {
	Decrypt(ctx context.Context, userID, blob string) (string, error)
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// JobServiceInterface - прием команды ADD_CONNECTOR_JOB
type JobServiceInterface interface {
	AddConnectorJob(ctx context.Context, cmd *models.AddConnectorJobCommand) (*models.ConnectorJob, error)
}

// AccountServiceInterface - восстановление аккаунтов оператором
type AccountServiceInterface interface {
	GetAccount(ctx context.Context, id string) (*models.UserExchangeAccount, error)
	EnableAccount(ctx context.Context, id string) error
	EnqueueAccount(ctx context.Context, id string) (bool, error)
}

var _ JobServiceInterface = (*JobService)(nil)
var _ AccountServiceInterface = (*AccountService)(nil)
