package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserExchangeAccount - биржевой аккаунт пользователя с зашифрованными ключами
type UserExchangeAccount struct {
	ID          string      `json:"id" db:"id"`
	UserID      string      `json:"user_id" db:"user_id"`
	Exchange    string      `json:"exchange" db:"exchange"`
	Name        string      `json:"name,omitempty" db:"name"`
	APIKey      string      `json:"-" db:"api_key"`  // зашифрован, не возвращается в JSON
	Secret      string      `json:"-" db:"secret"`   // зашифрован
	Password    string      `json:"-" db:"password"` // опционален, зашифрован
	Status      string      `json:"status" db:"status"`
	Balances    *Balances   `json:"balances,omitempty" db:"balances"`
	OrdersCache OrdersCache `json:"-" db:"orders_cache"`
	Error       string      `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Статусы аккаунта. Задания планируются только для enabled
const (
	AccountStatusEnabled  = "enabled"
	AccountStatusDisabled = "disabled"
	AccountStatusInvalid  = "invalid"
)

// IsEnabled - можно ли планировать задания по аккаунту
func (a *UserExchangeAccount) IsEnabled() bool {
	return a.Status == AccountStatusEnabled
}

// Balances - кэш балансов аккаунта
type Balances struct {
	Info      map[string]CoinBalance `json:"info,omitempty"`
	TotalUSD  decimal.Decimal        `json:"totalUSD"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// CoinBalance - баланс одной монеты
type CoinBalance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
	USD   decimal.Decimal `json:"usd"`
}

// IsStale - устарел ли кэш балансов
func (b *Balances) IsStale(now time.Time, maxAge time.Duration) bool {
	return b == nil || b.UpdatedAt.IsZero() || now.Sub(b.UpdatedAt) > maxAge
}
