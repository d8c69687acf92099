package repository

import (
	"context"
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"connector/internal/errkind"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// withTx выполняет fn в одной транзакции: commit при успехе, rollback при любой ошибке или панике.
// Ошибки возвращаются как errkind.Persistence
func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.Persistence, op, fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return errkind.New(errkind.Persistence, op, err)
	}

	if err = tx.Commit(); err != nil {
		return errkind.New(errkind.Persistence, op, fmt.Errorf("commit: %w", err))
	}

	return nil
}

// toJSON сериализует значение для jsonb колонки. nil -> NULL
func toJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// fromJSON десериализует jsonb колонку. NULL оставляет значение нулевым
func fromJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanStrings читает колонку строк из результата запроса
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
