package worker

import (
	"context"
	"time"

	"connector/internal/exchange"
	"connector/internal/models"
	"connector/internal/repository"
)

// SuccessorStore - операции журнала ордеров, нужные машине состояний
type SuccessorStore interface {
	GetByPrevOrderID(ctx context.Context, prevID string) (*models.Order, error)
	SaveOrderTransaction(ctx context.Context, order *models.Order, deleteJobsForOrderID string, nextJob *models.ConnectorJob) error
	CreateSuccessor(ctx context.Context, checked, successor *models.Order) (bool, error)
}

// OrderStore - журнал ордеров
type OrderStore interface {
	SuccessorStore
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetTradedPairs(ctx context.Context, accountID string) ([]models.Pair, error)
	GetKnownExchangeIDs(ctx context.Context, accountID string, exchangeIDs []string) (map[string]bool, error)
}

// JobStore - очередь заданий в БД
type JobStore interface {
	GetDue(ctx context.Context, accountID string, now time.Time) ([]*models.ConnectorJob, error)
	DeleteByOrderID(ctx context.Context, orderID string) (int64, error)
}

// AccountStore - аккаунты бирж
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.UserExchangeAccount, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	UpdateBalances(ctx context.Context, id string, balances *models.Balances) error
	UpdateOrdersCache(ctx context.Context, id string, cache models.OrdersCache) error
}

// UnknownOrderStore - ордера, найденные на бирже, но отсутствующие в журнале
type UnknownOrderStore interface {
	Upsert(ctx context.Context, o *models.UnknownOrder) error
}

var _ OrderStore = (*repository.OrderRepository)(nil)
var _ JobStore = (*repository.JobRepository)(nil)
var _ AccountStore = (*repository.AccountRepository)(nil)
var _ UnknownOrderStore = (*repository.UnknownOrderRepository)(nil)

// ConnectorSource выдает сессию аккаунта на время запуска.
// Evict обязателен в конце каждого запуска
type ConnectorSource interface {
	Get(ctx context.Context, account *models.UserExchangeAccount) (exchange.PrivateConnector, error)
	Evict(accountID string)
}

// EventPublisher - шина событий
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}
