package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeOrder - ордер в том виде, как его вернула биржа
type ExchangeOrder struct {
	ExchangeOrderID   string              `json:"exchange_order_id"`
	Asset             string              `json:"asset"`
	Currency          string              `json:"currency"`
	Direction         string              `json:"direction"`
	Type              string              `json:"type"`
	Price             decimal.NullDecimal `json:"price"`
	Volume            decimal.Decimal     `json:"volume"`
	Executed          decimal.Decimal     `json:"executed"`
	Remaining         decimal.Decimal     `json:"remaining"`
	Status            string              `json:"status"`
	ExchangeTimestamp time.Time           `json:"exchange_timestamp"`
}

// UnknownOrder - ордер, найденный на бирже, но отсутствующий в user_orders
type UnknownOrder struct {
	ID          string `json:"id" db:"id"`
	UserExAccID string `json:"user_ex_acc_id" db:"user_ex_acc_id"`
	Exchange    string `json:"exchange" db:"exchange"`
	ExchangeOrder
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Pair - торгуемая пара аккаунта
type Pair struct {
	Asset    string `json:"asset"`
	Currency string `json:"currency"`
}
