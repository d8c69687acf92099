package repository

import (
	"context"
	"database/sql"
	"time"

	"connector/internal/models"
)

// UnknownOrderRepository - таблица user_orders_unknown: ордера на бирже, созданные в обход системы
type UnknownOrderRepository struct {
	db *sql.DB
}

// NewUnknownOrderRepository создает новый экземпляр репозитория
func NewUnknownOrderRepository(db *sql.DB) *UnknownOrderRepository {
	return &UnknownOrderRepository{db: db}
}

// Upsert вставляет ордер или обновляет его состояние по (user_ex_acc_id, exchange_order_id)
func (r *UnknownOrderRepository) Upsert(ctx context.Context, o *models.UnknownOrder) error {
	query := `
		INSERT INTO user_orders_unknown (
			id, user_ex_acc_id, exchange, exchange_order_id, asset, currency, direction, type,
			price, volume, executed, remaining, status, exchange_timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_ex_acc_id, exchange_order_id) DO UPDATE SET
			executed = EXCLUDED.executed,
			remaining = EXCLUDED.remaining,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.UserExAccID,
		o.Exchange,
		o.ExchangeOrderID,
		o.Asset,
		o.Currency,
		o.Direction,
		o.Type,
		o.Price,
		o.Volume,
		o.Executed,
		o.Remaining,
		o.Status,
		o.ExchangeTimestamp,
		o.CreatedAt,
		o.UpdatedAt,
	)
	return err
}
