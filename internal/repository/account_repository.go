package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"connector/internal/models"
)

// Ошибки репозитория аккаунтов
var (
	ErrAccountNotFound = errors.New("exchange account not found")
)

// AccountRepository - работа с таблицей user_exchange_accs
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID возвращает аккаунт вместе с зашифрованными ключами
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.UserExchangeAccount, error) {
	query := `
		SELECT id, user_id, exchange, name, api_key, secret, password, status, balances, orders_cache, error, created_at, updated_at
		FROM user_exchange_accs
		WHERE id = $1`

	account := &models.UserExchangeAccount{}
	var balances, ordersCache []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.UserID,
		&account.Exchange,
		&account.Name,
		&account.APIKey,
		&account.Secret,
		&account.Password,
		&account.Status,
		&balances,
		&ordersCache,
		&account.Error,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if err := fromJSON(balances, &account.Balances); err != nil {
		return nil, fmt.Errorf("unmarshal balances: %w", err)
	}
	if err := fromJSON(ordersCache, &account.OrdersCache); err != nil {
		return nil, fmt.Errorf("unmarshal orders_cache: %w", err)
	}

	return account, nil
}

// GetStatus возвращает только статус аккаунта
func (r *AccountRepository) GetStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM user_exchange_accs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrAccountNotFound
		}
		return "", err
	}

	return status, nil
}

// UpdateStatus меняет статус аккаунта и сохраняет текст ошибки
func (r *AccountRepository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	query := `
		UPDATE user_exchange_accs
		SET status = $1, error = $2, updated_at = $3
		WHERE id = $4`

	return r.execOne(ctx, query, status, errMsg, time.Now().UTC(), id)
}

// UpdateBalances сохраняет кэш балансов
func (r *AccountRepository) UpdateBalances(ctx context.Context, id string, balances *models.Balances) error {
	data, err := toJSON(balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}

	query := `
		UPDATE user_exchange_accs
		SET balances = $1, updated_at = $2
		WHERE id = $3`

	return r.execOne(ctx, query, data, time.Now().UTC(), id)
}

// UpdateOrdersCache сохраняет служебное состояние сессии биржи
func (r *AccountRepository) UpdateOrdersCache(ctx context.Context, id string, cache models.OrdersCache) error {
	data, err := toJSON(cache)
	if err != nil {
		return fmt.Errorf("marshal orders_cache: %w", err)
	}

	query := `
		UPDATE user_exchange_accs
		SET orders_cache = $1, updated_at = $2
		WHERE id = $3`

	return r.execOne(ctx, query, data, time.Now().UTC(), id)
}

// FindStaleBalances возвращает enabled аккаунты, балансы которых не обновлялись с before
func (r *AccountRepository) FindStaleBalances(ctx context.Context, before time.Time) ([]string, error) {
	query := `
		SELECT id
		FROM user_exchange_accs
		WHERE status = $1
			AND (balances IS NULL
				OR balances->>'updatedAt' IS NULL
				OR (balances->>'updatedAt')::timestamptz < $2)`

	rows, err := r.db.QueryContext(ctx, query, models.AccountStatusEnabled, before)
	if err != nil {
		return nil, err
	}

	return scanStrings(rows)
}

// FindWithActiveRobots возвращает enabled аккаунты, на которых запущены роботы пользователей
func (r *AccountRepository) FindWithActiveRobots(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT a.id
		FROM user_exchange_accs a
		JOIN user_robots r ON r.user_ex_acc_id = a.id
		WHERE a.status = $1 AND r.status = $2`

	rows, err := r.db.QueryContext(ctx, query, models.AccountStatusEnabled, "started")
	if err != nil {
		return nil, err
	}

	return scanStrings(rows)
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
