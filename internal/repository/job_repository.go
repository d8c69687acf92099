package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"connector/internal/models"
)

// execer - общий интерфейс *sql.DB и *sql.Tx для вставки заданий
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// JobRepository - работа с таблицей connector_jobs
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository создает новый экземпляр репозитория
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// GetDue возвращает shared задания аккаунта с next_job_at <= now, упорядоченные по (priority, next_job_at)
func (r *JobRepository) GetDue(ctx context.Context, accountID string, now time.Time) ([]*models.ConnectorJob, error) {
	query := `
		SELECT id, user_ex_acc_id, order_id, type, priority, next_job_at, data, allocation, created_at
		FROM connector_jobs
		WHERE user_ex_acc_id = $1
			AND allocation = $2
			AND next_job_at <= $3
		ORDER BY priority ASC, next_job_at ASC`

	rows, err := r.db.QueryContext(ctx, query, accountID, models.AllocationShared, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.ConnectorJob
	for rows.Next() {
		job := &models.ConnectorJob{}
		var data []byte
		err := rows.Scan(
			&job.ID,
			&job.UserExAccID,
			&job.OrderID,
			&job.Type,
			&job.Priority,
			&job.NextJobAt,
			&data,
			&job.Allocation,
			&job.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := fromJSON(data, &job.Data); err != nil {
			return nil, fmt.Errorf("unmarshal job data: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// Create вставляет задание
func (r *JobRepository) Create(ctx context.Context, job *models.ConnectorJob) error {
	return insertJob(ctx, r.db, job)
}

// DeleteByOrderID удаляет все задания ордера
func (r *JobRepository) DeleteByOrderID(ctx context.Context, orderID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connector_jobs WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// FindAccountsWithDueJobs возвращает enabled аккаунты, у которых есть просроченные shared задания
func (r *JobRepository) FindAccountsWithDueJobs(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT j.user_ex_acc_id
		FROM connector_jobs j
		JOIN user_exchange_accs a ON a.id = j.user_ex_acc_id
		WHERE a.status = $1
			AND j.allocation = $2
			AND j.next_job_at <= $3`

	rows, err := r.db.QueryContext(ctx, query, models.AccountStatusEnabled, models.AllocationShared, now)
	if err != nil {
		return nil, err
	}

	return scanStrings(rows)
}

func insertJob(ctx context.Context, db execer, job *models.ConnectorJob) error {
	query := `
		INSERT INTO connector_jobs (id, user_ex_acc_id, order_id, type, priority, next_job_at, data, allocation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Allocation == "" {
		job.Allocation = models.AllocationShared
	}

	data, err := toJSON(job.Data)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}

	_, err = db.ExecContext(ctx, query,
		job.ID,
		job.UserExAccID,
		job.OrderID,
		job.Type,
		job.Priority,
		job.NextJobAt,
		data,
		job.Allocation,
		job.CreatedAt,
	)
	return err
}
