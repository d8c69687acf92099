package models

import (
	"time"

	"github.com/google/uuid"
)

// Meta - произвольные данные ордера (например, снимок баланса после закрытия)
type Meta map[string]interface{}

// OrdersCache - служебное состояние сессии биржи, сохраняемое между запусками
type OrdersCache map[string]interface{}

// Типы событий, публикуемых воркером
const (
	EventOrderStatus    = "ORDER_STATUS"
	EventOrderError     = "ORDER_ERROR"
	EventUserExAccError = "USER_EX_ACC_ERROR"
)

// OrderEvent - событие ORDER_STATUS / ORDER_ERROR
type OrderEvent struct {
	OrderID        string    `json:"orderId"`
	UserExAccID    string    `json:"userExAccId"`
	UserRobotID    *string   `json:"userRobotId,omitempty"`
	UserPositionID *string   `json:"userPositionId,omitempty"`
	PositionID     *string   `json:"positionId,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AccountErrorEvent - событие USER_EX_ACC_ERROR
type AccountErrorEvent struct {
	UserExAccID string    `json:"userExAccId"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event - конверт события для шины
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Key       string      `json:"key"` // id аккаунта, ключ партиционирования
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent создает конверт события с новым id
func NewEvent(eventType, key string, data interface{}, now time.Time) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Key:       key,
		Timestamp: now,
		Data:      data,
	}
}

// NewOrderEvent формирует событие по итоговому состоянию ордера
func NewOrderEvent(order *Order, now time.Time) (string, *OrderEvent) {
	ev := &OrderEvent{
		OrderID:        order.ID,
		UserExAccID:    order.UserExAccID,
		UserRobotID:    order.UserRobotID,
		UserPositionID: order.UserPositionID,
		PositionID:     order.PositionID,
		Status:         order.Status,
		Error:          order.Error,
		Timestamp:      now,
	}
	if order.Error != "" {
		return EventOrderError, ev
	}
	return EventOrderStatus, ev
}

// AddConnectorJobCommand - команда ADD_CONNECTOR_JOB
type AddConnectorJobCommand struct {
	UserExAccID string     `json:"userExAccId"`
	OrderID     string     `json:"orderId"`
	Type        string     `json:"type"`
	Priority    int        `json:"priority"`
	NextJobAt   *time.Time `json:"nextJobAt,omitempty"`
	Data        *JobData   `json:"data,omitempty"`
}

// CommandAddConnectorJob - тип команды в шине
const CommandAddConnectorJob = "ADD_CONNECTOR_JOB"
