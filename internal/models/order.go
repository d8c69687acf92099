package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order представляет одну попытку размещения ордера на бирже.
// Запись никогда не удаляется: это журнал аудита, изменяемый только машиной состояний.
type Order struct {
	ID                string              `json:"id" db:"id"`
	UserExAccID       string              `json:"user_ex_acc_id" db:"user_ex_acc_id"`
	UserRobotID       *string             `json:"user_robot_id,omitempty" db:"user_robot_id"`
	PositionID        *string             `json:"position_id,omitempty" db:"position_id"`
	UserPositionID    *string             `json:"user_position_id,omitempty" db:"user_position_id"`
	PrevOrderID       *string             `json:"prev_order_id,omitempty" db:"prev_order_id"` // цепочка перевыставлений
	Exchange          string              `json:"exchange" db:"exchange"`
	Asset             string              `json:"asset" db:"asset"`
	Currency          string              `json:"currency" db:"currency"`
	Action            string              `json:"action" db:"action"`       // long, short, closeLong, closeShort
	Direction         string              `json:"direction" db:"direction"` // buy, sell
	Type              string              `json:"type" db:"type"`           // market, limit, forceMarket
	SignalPrice       decimal.NullDecimal `json:"signal_price" db:"signal_price"`
	Price             decimal.NullDecimal `json:"price" db:"price"`
	Volume            decimal.Decimal     `json:"volume" db:"volume"`
	Status            string              `json:"status" db:"status"`
	ExchangeOrderID   *string             `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	ExchangeTimestamp *time.Time          `json:"exchange_timestamp,omitempty" db:"exchange_timestamp"`
	ExchangeLastTrade *time.Time          `json:"exchange_last_trade_at,omitempty" db:"exchange_last_trade_at"`
	Remaining         decimal.NullDecimal `json:"remaining" db:"remaining"`
	Executed          decimal.NullDecimal `json:"executed" db:"executed"`
	Fee               decimal.NullDecimal `json:"fee" db:"fee"`
	LastCheckedAt     *time.Time          `json:"last_checked_at,omitempty" db:"last_checked_at"`
	Params            OrderParams         `json:"params" db:"params"`
	Error             string              `json:"error,omitempty" db:"error"`
	NextJob           *NextJob            `json:"next_job,omitempty" db:"next_job"` // подсказка, хранится только для информации
	Meta              Meta                `json:"meta,omitempty" db:"meta"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

// Статусы ордера. Переходы только вперед: new -> open -> closed | canceled
const (
	OrderStatusNew      = "new"
	OrderStatusOpen     = "open"
	OrderStatusClosed   = "closed"
	OrderStatusCanceled = "canceled"
)

// Типы ордера
const (
	OrderTypeMarket      = "market"
	OrderTypeLimit       = "limit"
	OrderTypeForceMarket = "forceMarket"
)

// Направления ордера
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// MetaCurrentBalance - ключ meta, в который пишется баланс аккаунта после закрытия ордера
const MetaCurrentBalance = "currentBalance"

// OrderParams - параметры исполнения ордера
type OrderParams struct {
	OrderTimeout int `json:"orderTimeout,omitempty"` // секунды, 0 = без автоотмены
}

// HasExchangeID сообщает, был ли ордер уже отправлен на биржу
func (o *Order) HasExchangeID() bool {
	return o.ExchangeOrderID != nil && *o.ExchangeOrderID != ""
}

// IsTerminal возвращает true для закрытых и отмененных ордеров
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusClosed || o.Status == OrderStatusCanceled
}

// TimedOut проверяет, висит ли открытый ордер на бирже дольше params.orderTimeout
func (o *Order) TimedOut(now time.Time) bool {
	if o.Status != OrderStatusOpen || o.Params.OrderTimeout <= 0 || o.ExchangeTimestamp == nil {
		return false
	}
	return now.Sub(*o.ExchangeTimestamp) > time.Duration(o.Params.OrderTimeout)*time.Second
}

// Clone возвращает копию ордера, не разделяющую указатели и meta с оригиналом
func (o *Order) Clone() *Order {
	c := *o
	c.UserRobotID = cloneString(o.UserRobotID)
	c.PositionID = cloneString(o.PositionID)
	c.UserPositionID = cloneString(o.UserPositionID)
	c.PrevOrderID = cloneString(o.PrevOrderID)
	c.ExchangeOrderID = cloneString(o.ExchangeOrderID)
	c.ExchangeTimestamp = cloneTime(o.ExchangeTimestamp)
	c.ExchangeLastTrade = cloneTime(o.ExchangeLastTrade)
	c.LastCheckedAt = cloneTime(o.LastCheckedAt)
	if o.NextJob != nil {
		nj := *o.NextJob
		c.NextJob = &nj
	}
	if o.Meta != nil {
		c.Meta = make(Meta, len(o.Meta))
		for k, v := range o.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// SetMeta записывает значение в meta, создавая map при необходимости
func (o *Order) SetMeta(key string, value interface{}) {
	if o.Meta == nil {
		o.Meta = make(Meta)
	}
	o.Meta[key] = value
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr - вспомогательная функция для nullable полей
func StringPtr(s string) *string {
	return &s
}
