package exchange

import (
	"context"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"connector/internal/models"
	"connector/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PrivateConnector - приватная сессия одного аккаунта на бирже.
// Методы работы с ордерами возвращают обновленную копию ордера, входной ордер не изменяется
type PrivateConnector interface {
	// Exchange возвращает имя биржи
	Exchange() string

	// CreateOrder отправляет новый ордер на биржу
	CreateOrder(ctx context.Context, order *models.Order) (*OrderResult, error)

	// CancelOrder отменяет ордер и возвращает его актуальное состояние
	CancelOrder(ctx context.Context, order *models.Order) (*OrderResult, error)

	// CheckOrder запрашивает актуальное состояние ордера
	CheckOrder(ctx context.Context, order *models.Order) (*OrderResult, error)

	// GetBalances получает балансы аккаунта
	GetBalances(ctx context.Context) (*models.Balances, error)

	// GetRecentOrders получает последние ордера пары на бирже
	GetRecentOrders(ctx context.Context, asset, currency string) ([]*models.ExchangeOrder, error)

	// OrdersCache возвращает служебное состояние сессии для сохранения между запусками
	OrdersCache() models.OrdersCache

	// Close освобождает ресурсы сессии
	Close() error
}

// OrderResult - новое состояние ордера и предложенное коннектором следующее действие
type OrderResult struct {
	Order   *models.Order
	NextJob *models.NextJob
}

// Credentials - расшифрованные ключи аккаунта
type Credentials struct {
	APIKey   string
	Secret   string
	Password string
}

// Options - параметры создания сессии
type Options struct {
	Credentials Credentials
	OrdersCache models.OrdersCache

	// Limiter ограничивает частоту запросов аккаунта. nil = без ограничения
	Limiter *ratelimit.RateLimiter

	// HTTPClient по умолчанию - глобальный клиент пакета
	HTTPClient *http.Client

	// BaseURL переопределяет адрес REST API (testnet, тесты)
	BaseURL string

	// Now - источник времени, по умолчанию time.Now
	Now func() time.Time
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange   string
	Code       string
	Message    string
	HTTPStatus int
	Original   error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": " + e.Message + " (code " + e.Code + ")"
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}
