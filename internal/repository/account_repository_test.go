package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"connector/internal/models"
)

// ============================================================
// AccountRepository Tests
// ============================================================

func TestAccountRepositoryGetByID(t *testing.T) {
	now := time.Now().UTC()
	columns := []string{"id", "user_id", "exchange", "name", "api_key", "secret", "password", "status", "balances", "orders_cache", "error", "created_at", "updated_at"}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(columns).AddRow(
					"acc-1", "user-1", "bybit", "main", "enc-key", "enc-secret", "", models.AccountStatusEnabled,
					[]byte(`{"totalUSD":"1500.5","updatedAt":"2024-01-15T10:00:00Z"}`),
					[]byte(`{"cursor":"abc"}`),
					"", now, now)
				mock.ExpectQuery(`FROM user_exchange_accs`).WithArgs("acc-1").WillReturnRows(rows)
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM user_exchange_accs`).WithArgs("acc-1").WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewAccountRepository(db)
			account, err := repo.GetByID(context.Background(), "acc-1")

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if account.APIKey != "enc-key" || !account.IsEnabled() {
					t.Errorf("unexpected account: %+v", account)
				}
				if account.Balances == nil || !account.Balances.TotalUSD.Equal(decimal.RequireFromString("1500.5")) {
					t.Errorf("balances = %+v", account.Balances)
				}
				if account.OrdersCache["cursor"] != "abc" {
					t.Errorf("orders cache = %v", account.OrdersCache)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestAccountRepositoryUpdateStatus(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE user_exchange_accs`).
					WithArgs(models.AccountStatusInvalid, "invalid api key", sqlmock.AnyArg(), "acc-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE user_exchange_accs`).
					WithArgs(models.AccountStatusInvalid, "invalid api key", sqlmock.AnyArg(), "acc-1").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expectError: ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewAccountRepository(db)
			err = repo.UpdateStatus(context.Background(), "acc-1", models.AccountStatusInvalid, "invalid api key")
			if !errors.Is(err, tt.expectError) && !(err == nil && tt.expectError == nil) {
				t.Errorf("expected %v, got %v", tt.expectError, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestAccountRepositoryUpdateBalancesAndCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`SET balances`).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acc-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET orders_cache`).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acc-1").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAccountRepository(db)
	balances := &models.Balances{TotalUSD: decimal.NewFromInt(100), UpdatedAt: time.Now()}
	if err := repo.UpdateBalances(context.Background(), "acc-1", balances); err != nil {
		t.Fatalf("UpdateBalances: %v", err)
	}
	if err := repo.UpdateOrdersCache(context.Background(), "acc-1", models.OrdersCache{"k": "v"}); err != nil {
		t.Fatalf("UpdateOrdersCache: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAccountRepositoryScans(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	before := time.Now().Add(-50 * time.Minute)
	mock.ExpectQuery(`balances->>'updatedAt'`).
		WithArgs(models.AccountStatusEnabled, before).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
	mock.ExpectQuery(`JOIN user_robots`).
		WithArgs(models.AccountStatusEnabled, "started").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-2").AddRow("acc-3"))

	repo := NewAccountRepository(db)

	stale, err := repo.FindStaleBalances(context.Background(), before)
	if err != nil || len(stale) != 1 || stale[0] != "acc-1" {
		t.Errorf("FindStaleBalances = %v, %v", stale, err)
	}

	active, err := repo.FindWithActiveRobots(context.Background())
	if err != nil || len(active) != 2 {
		t.Errorf("FindWithActiveRobots = %v, %v", active, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// UnknownOrderRepository Tests
// ============================================================

func TestUnknownOrderRepositoryUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`ON CONFLICT \(user_ex_acc_id, exchange_order_id\)`).
		WithArgs("u-1", "acc-1", "bybit", "ex-9", "BTC", "USDT", "sell", "limit",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			models.OrderStatusOpen, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewUnknownOrderRepository(db)
	err = repo.Upsert(context.Background(), &models.UnknownOrder{
		ID:          "u-1",
		UserExAccID: "acc-1",
		Exchange:    "bybit",
		ExchangeOrder: models.ExchangeOrder{
			ExchangeOrderID: "ex-9",
			Asset:           "BTC",
			Currency:        "USDT",
			Direction:       models.DirectionSell,
			Type:            models.OrderTypeLimit,
			Volume:          decimal.NewFromInt(1),
			Status:          models.OrderStatusOpen,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
