package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"connector/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

const orderColumns = `
		id, user_ex_acc_id, user_robot_id, position_id, user_position_id, prev_order_id,
		exchange, asset, currency, action, direction, type,
		signal_price, price, volume, status,
		exchange_order_id, exchange_timestamp, exchange_last_trade_at,
		remaining, executed, fee, last_checked_at,
		params, error, next_job, meta, created_at, updated_at`

// OrderRepository - журнал ордеров и связанных с ними заданий (user_orders + connector_jobs)
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT` + orderColumns + `
		FROM user_orders
		WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// GetByPrevOrderID возвращает ордер-преемник (созданный перевыставлением ордера prevID)
func (r *OrderRepository) GetByPrevOrderID(ctx context.Context, prevID string) (*models.Order, error) {
	query := `SELECT` + orderColumns + `
		FROM user_orders
		WHERE prev_order_id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, prevID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// Create вставляет новый ордер
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	args, err := orderArgs(order)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, insertOrderQuery, args...)
	return err
}

// SaveOrderTransaction атомарно сохраняет ордер, удаляет все задания ордера deleteJobsForOrderID
// и вставляет следующее задание, если оно есть
func (r *OrderRepository) SaveOrderTransaction(ctx context.Context, order *models.Order, deleteJobsForOrderID string, nextJob *models.ConnectorJob) error {
	order.UpdatedAt = time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = order.UpdatedAt
	}

	args, err := orderArgs(order)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, "save order "+order.ID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertOrderQuery, args...); err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}

		if deleteJobsForOrderID != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM connector_jobs WHERE order_id = $1`, deleteJobsForOrderID); err != nil {
				return fmt.Errorf("delete jobs: %w", err)
			}
		}

		if nextJob != nil {
			if err := insertJob(ctx, tx, nextJob); err != nil {
				return fmt.Errorf("insert next job: %w", err)
			}
		}

		return nil
	})
}

// CreateSuccessor в одной транзакции сохраняет проверенное состояние отмененного ордера,
// удаляет его задания и вставляет преемника. Возвращает false, если преемник уже существует
// (уникальный индекс по prev_order_id), в этом случае транзакция все равно фиксируется
func (r *OrderRepository) CreateSuccessor(ctx context.Context, checked, successor *models.Order) (bool, error) {
	now := time.Now().UTC()
	checked.UpdatedAt = now
	successor.CreatedAt = now
	successor.UpdatedAt = now

	checkedArgs, err := orderArgs(checked)
	if err != nil {
		return false, err
	}
	successorArgs, err := orderArgs(successor)
	if err != nil {
		return false, err
	}

	var created bool
	err = withTx(ctx, r.db, "create successor for "+checked.ID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertOrderQuery, checkedArgs...); err != nil {
			return fmt.Errorf("save checked order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM connector_jobs WHERE order_id = $1`, checked.ID); err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}

		result, err := tx.ExecContext(ctx, insertSuccessorQuery, successorArgs...)
		if err != nil {
			return fmt.Errorf("insert successor: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		return nil
	})

	return created, err
}

// FindIdleOpen возвращает открытые ордера enabled аккаунтов, у которых нет ни одного shared задания
func (r *OrderRepository) FindIdleOpen(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `
		SELECT o.id, o.user_ex_acc_id
		FROM user_orders o
		JOIN user_exchange_accs a ON a.id = o.user_ex_acc_id
		WHERE o.status = $1
			AND a.status = $2
			AND NOT EXISTS (
				SELECT 1 FROM connector_jobs j
				WHERE j.order_id = o.id AND j.allocation = $3
			)
		ORDER BY o.updated_at
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query,
		models.OrderStatusOpen, models.AccountStatusEnabled, models.AllocationShared, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		if err := rows.Scan(&order.ID, &order.UserExAccID); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// GetTradedPairs возвращает пары, по которым у аккаунта есть ордера
func (r *OrderRepository) GetTradedPairs(ctx context.Context, accountID string) ([]models.Pair, error) {
	query := `
		SELECT DISTINCT asset, currency
		FROM user_orders
		WHERE user_ex_acc_id = $1
		ORDER BY asset, currency`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.Pair
	for rows.Next() {
		var p models.Pair
		if err := rows.Scan(&p.Asset, &p.Currency); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return pairs, nil
}

// GetKnownExchangeIDs возвращает те exchange id из списка, которые уже есть в журнале аккаунта
func (r *OrderRepository) GetKnownExchangeIDs(ctx context.Context, accountID string, exchangeIDs []string) (map[string]bool, error) {
	known := make(map[string]bool, len(exchangeIDs))
	if len(exchangeIDs) == 0 {
		return known, nil
	}

	query := `
		SELECT exchange_order_id
		FROM user_orders
		WHERE user_ex_acc_id = $1 AND exchange_order_id = ANY($2)`

	rows, err := r.db.QueryContext(ctx, query, accountID, pq.Array(exchangeIDs))
	if err != nil {
		return nil, err
	}

	ids, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		known[id] = true
	}

	return known, nil
}

const insertOrderQuery = `
		INSERT INTO user_orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

const insertSuccessorQuery = insertOrderQuery + `
		ON CONFLICT (prev_order_id) WHERE prev_order_id IS NOT NULL DO NOTHING`

const upsertOrderQuery = insertOrderQuery + `
		ON CONFLICT (id) DO UPDATE SET
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			exchange_order_id = EXCLUDED.exchange_order_id,
			exchange_timestamp = EXCLUDED.exchange_timestamp,
			exchange_last_trade_at = EXCLUDED.exchange_last_trade_at,
			remaining = EXCLUDED.remaining,
			executed = EXCLUDED.executed,
			fee = EXCLUDED.fee,
			last_checked_at = EXCLUDED.last_checked_at,
			params = EXCLUDED.params,
			error = EXCLUDED.error,
			next_job = EXCLUDED.next_job,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at`

// orderArgs возвращает значения колонок в порядке orderColumns
func orderArgs(o *models.Order) ([]interface{}, error) {
	params, err := toJSON(o.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	nextJob, err := toJSON(o.NextJob)
	if err != nil {
		return nil, fmt.Errorf("marshal next_job: %w", err)
	}
	meta, err := toJSON(o.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}

	return []interface{}{
		o.ID, o.UserExAccID, o.UserRobotID, o.PositionID, o.UserPositionID, o.PrevOrderID,
		o.Exchange, o.Asset, o.Currency, o.Action, o.Direction, o.Type,
		o.SignalPrice, o.Price, o.Volume, o.Status,
		o.ExchangeOrderID, o.ExchangeTimestamp, o.ExchangeLastTrade,
		o.Remaining, o.Executed, o.Fee, o.LastCheckedAt,
		params, o.Error, nextJob, meta, o.CreatedAt, o.UpdatedAt,
	}, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var params, nextJob, meta []byte

	err := row.Scan(
		&order.ID, &order.UserExAccID, &order.UserRobotID, &order.PositionID, &order.UserPositionID, &order.PrevOrderID,
		&order.Exchange, &order.Asset, &order.Currency, &order.Action, &order.Direction, &order.Type,
		&order.SignalPrice, &order.Price, &order.Volume, &order.Status,
		&order.ExchangeOrderID, &order.ExchangeTimestamp, &order.ExchangeLastTrade,
		&order.Remaining, &order.Executed, &order.Fee, &order.LastCheckedAt,
		&params, &order.Error, &nextJob, &meta, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := fromJSON(params, &order.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := fromJSON(nextJob, &order.NextJob); err != nil {
		return nil, fmt.Errorf("unmarshal next_job: %w", err)
	}
	if err := fromJSON(meta, &order.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}

	return order, nil
}
