package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"connector/internal/errkind"
	"connector/internal/exchange"
	"connector/internal/models"
	"connector/internal/repository"
)

// MsgNoExchangeID - ошибка проверки ордера, который не был отправлен на биржу
const MsgNoExchangeID = "no exchange id"

// Transition - результат применения задания к ордеру.
// Order может оказаться преемником исходного ордера (recreate, миграция check)
type Transition struct {
	Order   *models.Order
	NextJob *models.NextJob
}

// StateMachine применяет задания к ордерам. Все обращения к бирже идут через conn,
// в журнал пишутся только шаги цепочки перевыставления, остальное сохраняет вызывающий
type StateMachine struct {
	store SuccessorStore
	now   func() time.Time
	newID func() string
}

// NewStateMachine создает машину состояний
func NewStateMachine(store SuccessorStore) *StateMachine {
	return &StateMachine{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Apply применяет задание к ордеру. Ошибки биржи не перехватываются.
// При ошибке Transition может содержать ордер, на котором она произошла (преемник)
func (sm *StateMachine) Apply(ctx context.Context, conn exchange.PrivateConnector, order *models.Order, job *models.ConnectorJob) (*Transition, error) {
	switch job.Type {
	case models.JobTypeCreate:
		return sm.create(ctx, conn, order)
	case models.JobTypeRecreate:
		return sm.recreate(ctx, conn, order, job)
	case models.JobTypeCancel:
		return sm.cancel(ctx, conn, order)
	case models.JobTypeCheck:
		return sm.check(ctx, conn, order)
	default:
		return nil, errkind.Errorf(errkind.Validation, "apply", "unknown job type %q", job.Type)
	}
}

func (sm *StateMachine) create(ctx context.Context, conn exchange.PrivateConnector, order *models.Order) (*Transition, error) {
	// Ордер уже отправлялся (повтор после сбоя): второй раз не создаем
	if !submitsNew(order) {
		return sm.check(ctx, conn, order)
	}

	res, err := conn.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	return &Transition{Order: res.Order, NextJob: res.NextJob}, nil
}

func (sm *StateMachine) cancel(ctx context.Context, conn exchange.PrivateConnector, order *models.Order) (*Transition, error) {
	if order.IsTerminal() {
		return &Transition{Order: order.Clone()}, nil
	}

	if !order.HasExchangeID() {
		canceled := order.Clone()
		canceled.Status = models.OrderStatusCanceled
		return &Transition{Order: canceled}, nil
	}

	res, err := conn.CancelOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	return &Transition{Order: res.Order, NextJob: res.NextJob}, nil
}

func (sm *StateMachine) check(ctx context.Context, conn exchange.PrivateConnector, order *models.Order) (*Transition, error) {
	if order.IsTerminal() {
		successor, err := sm.successor(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if successor == nil {
			return &Transition{Order: order.Clone()}, nil
		}

		// Старые check пережили перевыставление: переносим проверку на преемника
		if err := sm.store.SaveOrderTransaction(ctx, order, order.ID, nil); err != nil {
			return nil, err
		}
		return sm.follow(ctx, conn, order, successor)
	}

	if !order.HasExchangeID() {
		failed := order.Clone()
		failed.Error = MsgNoExchangeID
		return &Transition{Order: failed}, nil
	}

	res, err := conn.CheckOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	if res.Order.TimedOut(sm.now()) {
		return sm.cancel(ctx, conn, res.Order)
	}
	return &Transition{Order: res.Order, NextJob: res.NextJob}, nil
}

// follow переключается на проверку преемника. Еще не отправленный преемник
// принадлежит другому запуску, и тогда результатом остается prev
func (sm *StateMachine) follow(ctx context.Context, conn exchange.PrivateConnector, prev, successor *models.Order) (*Transition, error) {
	if successor.Status == models.OrderStatusNew && !successor.HasExchangeID() {
		return &Transition{Order: prev.Clone()}, nil
	}

	tr, err := sm.check(ctx, conn, successor)
	if err != nil {
		return &Transition{Order: successor}, err
	}
	return tr, nil
}

func (sm *StateMachine) recreate(ctx context.Context, conn exchange.PrivateConnector, order *models.Order, job *models.ConnectorJob) (*Transition, error) {
	checked := &Transition{Order: order.Clone()}
	if order.HasExchangeID() && !order.IsTerminal() {
		res, err := conn.CheckOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		checked = &Transition{Order: res.Order, NextJob: res.NextJob}
	}

	if checked.Order.Status != models.OrderStatusCanceled {
		return checked, nil
	}

	existing, err := sm.successor(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Другой запуск уже перевыставил ордер
		if err := sm.store.SaveOrderTransaction(ctx, checked.Order, order.ID, nil); err != nil {
			return nil, err
		}
		return sm.follow(ctx, conn, checked.Order, existing)
	}

	successor := sm.newSuccessor(checked.Order, job)
	created, err := sm.store.CreateSuccessor(ctx, checked.Order, successor)
	if err != nil {
		return nil, err
	}
	if !created {
		// Проиграли гонку на вставке: используем победившего преемника
		if existing, err = sm.successor(ctx, order.ID); err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errkind.Errorf(errkind.Persistence, "recreate", "successor of %s vanished", order.ID)
		}
		return sm.follow(ctx, conn, checked.Order, existing)
	}

	res, err := conn.CreateOrder(ctx, successor)
	if err != nil {
		return &Transition{Order: successor}, err
	}
	return &Transition{Order: res.Order, NextJob: res.NextJob}, nil
}

// newSuccessor строит новый ордер цепочки по отмененному. Частично исполненный
// ордер перевыставляется на неисполненный остаток
func (sm *StateMachine) newSuccessor(prev *models.Order, job *models.ConnectorJob) *models.Order {
	now := sm.now().UTC()

	price := prev.Price
	if job.Data != nil && job.Data.Price.Valid {
		price = job.Data.Price
	}

	volume := prev.Volume
	if prev.Executed.Valid && prev.Executed.Decimal.IsPositive() &&
		prev.Remaining.Valid && prev.Remaining.Decimal.IsPositive() {
		volume = prev.Remaining.Decimal
	}

	return &models.Order{
		ID:             sm.newID(),
		UserExAccID:    prev.UserExAccID,
		UserRobotID:    prev.UserRobotID,
		PositionID:     prev.PositionID,
		UserPositionID: prev.UserPositionID,
		PrevOrderID:    models.StringPtr(prev.ID),
		Exchange:       prev.Exchange,
		Asset:          prev.Asset,
		Currency:       prev.Currency,
		Action:         prev.Action,
		Direction:      prev.Direction,
		Type:           prev.Type,
		SignalPrice:    prev.SignalPrice,
		Price:          price,
		Volume:         volume,
		Status:         models.OrderStatusNew,
		Params:         prev.Params,
		Remaining:      decimal.NewNullDecimal(volume),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (sm *StateMachine) successor(ctx context.Context, orderID string) (*models.Order, error) {
	s, err := sm.store.GetByPrevOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, nil
	}
	return s, err
}
