package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectorJob - отложенное действие над одним ордером
type ConnectorJob struct {
	ID          string    `json:"id" db:"id"`
	UserExAccID string    `json:"user_ex_acc_id" db:"user_ex_acc_id"`
	OrderID     string    `json:"order_id" db:"order_id"`
	Type        string    `json:"type" db:"type"`
	Priority    int       `json:"priority" db:"priority"` // меньше = важнее
	NextJobAt   time.Time `json:"next_job_at" db:"next_job_at"`
	Data        *JobData  `json:"data,omitempty" db:"data"`
	Allocation  string    `json:"allocation" db:"allocation"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Типы заданий
const (
	JobTypeCreate   = "create"
	JobTypeRecreate = "recreate"
	JobTypeCancel   = "cancel"
	JobTypeCheck    = "check"
)

// Приоритеты заданий
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Распределение аккаунтов между воркерами
const (
	AllocationShared    = "shared"
	AllocationDedicated = "dedicated"
)

// JobData - полезная нагрузка задания
type JobData struct {
	Price decimal.NullDecimal `json:"price,omitempty"` // цена для recreate
}

// NextJob - следующее действие, предложенное коннектором или машиной состояний
type NextJob struct {
	Type      string    `json:"type"`
	Priority  int       `json:"priority"`
	NextJobAt time.Time `json:"nextJobAt"`
	Data      *JobData  `json:"data,omitempty"`
}

// IsValidJobType проверяет тип задания
func IsValidJobType(t string) bool {
	switch t {
	case JobTypeCreate, JobTypeRecreate, JobTypeCancel, JobTypeCheck:
		return true
	}
	return false
}

// ToJob превращает подсказку в строку connector_jobs для ордера
func (n *NextJob) ToJob(id string, order *Order) *ConnectorJob {
	priority := n.Priority
	if priority == 0 {
		priority = PriorityMedium
	}
	return &ConnectorJob{
		ID:          id,
		UserExAccID: order.UserExAccID,
		OrderID:     order.ID,
		Type:        n.Type,
		Priority:    priority,
		NextJobAt:   n.NextJobAt,
		Data:        n.Data,
		Allocation:  AllocationShared,
	}
}
