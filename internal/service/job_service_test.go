package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"connector/internal/errkind"
	"connector/internal/models"
)

func newTestJobService(status string) (*JobService, *MockJobRepository, *MockEnqueuer) {
	jobs := &MockJobRepository{}
	orders := &MockOrderRepository{orders: map[string]*models.Order{
		"o1": {ID: "o1", UserExAccID: "acc1", Status: models.OrderStatusOpen},
	}}
	accounts := NewMockAccountRepository(&models.UserExchangeAccount{ID: "acc1", Status: status})
	queue := &MockEnqueuer{}

	svc := NewJobService(jobs, orders, accounts, queue, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, jobs, queue
}

func TestJobService_AddConnectorJob(t *testing.T) {
	svc, jobs, queue := newTestJobService(models.AccountStatusEnabled)

	price := decimal.NewNullDecimal(decimal.NewFromInt(100))
	job, err := svc.AddConnectorJob(context.Background(), &models.AddConnectorJobCommand{
		UserExAccID: "acc1",
		OrderID:     "o1",
		Type:        models.JobTypeRecreate,
		Data:        &models.JobData{Price: price},
	})
	if err != nil {
		t.Fatalf("AddConnectorJob() error = %v", err)
	}

	if job.ID == "" {
		t.Error("job id must be generated")
	}
	if job.Priority != models.PriorityMedium {
		t.Errorf("priority = %d, want medium", job.Priority)
	}
	if job.Allocation != models.AllocationShared {
		t.Errorf("allocation = %s", job.Allocation)
	}
	if !job.NextJobAt.Equal(svc.now()) {
		t.Errorf("nextJobAt = %v", job.NextJobAt)
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("stored jobs = %d", len(jobs.jobs))
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "acc1" {
		t.Errorf("enqueued = %v", queue.enqueued)
	}
}

func TestJobService_AddConnectorJob_ExplicitSchedule(t *testing.T) {
	svc, _, _ := newTestJobService(models.AccountStatusEnabled)

	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	job, err := svc.AddConnectorJob(context.Background(), &models.AddConnectorJobCommand{
		UserExAccID: "acc1", OrderID: "o1", Type: models.JobTypeCancel,
		Priority: models.PriorityHigh, NextJobAt: &at,
	})
	if err != nil {
		t.Fatalf("AddConnectorJob() error = %v", err)
	}
	if !job.NextJobAt.Equal(at) || job.Priority != models.PriorityHigh {
		t.Errorf("job = %+v", job)
	}
}

func TestJobService_AddConnectorJob_InactiveAccount(t *testing.T) {
	svc, jobs, queue := newTestJobService(models.AccountStatusInvalid)

	_, err := svc.AddConnectorJob(context.Background(), &models.AddConnectorJobCommand{
		UserExAccID: "acc1", OrderID: "o1", Type: models.JobTypeCheck,
	})
	if err != nil {
		t.Fatalf("AddConnectorJob() error = %v", err)
	}
	if len(jobs.jobs) != 1 {
		t.Error("job must be stored even for inactive account")
	}
	if len(queue.enqueued) != 0 {
		t.Error("inactive account must not be enqueued")
	}
}

func TestJobService_AddConnectorJob_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     *models.AddConnectorJobCommand
		wantErr error
	}{
		{"nil command", nil, ErrJobAccountRequired},
		{"no account", &models.AddConnectorJobCommand{OrderID: "o1", Type: "check"}, ErrJobAccountRequired},
		{"no order", &models.AddConnectorJobCommand{UserExAccID: "acc1", Type: "check"}, ErrJobOrderRequired},
		{"bad type", &models.AddConnectorJobCommand{UserExAccID: "acc1", OrderID: "o1", Type: "close"}, ErrJobInvalidType},
		{"bad priority", &models.AddConnectorJobCommand{UserExAccID: "acc1", OrderID: "o1", Type: "check", Priority: 7}, ErrJobInvalidPriority},
		{"foreign order", &models.AddConnectorJobCommand{UserExAccID: "acc2", OrderID: "o1", Type: "check"}, ErrJobOrderMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, jobs, _ := newTestJobService(models.AccountStatusEnabled)

			_, err := svc.AddConnectorJob(context.Background(), tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if !errkind.Is(err, errkind.Validation) {
				t.Errorf("expected validation kind, got %v", errkind.KindOf(err))
			}
			if len(jobs.jobs) != 0 {
				t.Error("invalid command must not store a job")
			}
		})
	}
}

func TestJobService_AddConnectorJob_UnknownOrder(t *testing.T) {
	svc, _, _ := newTestJobService(models.AccountStatusEnabled)

	_, err := svc.AddConnectorJob(context.Background(), &models.AddConnectorJobCommand{
		UserExAccID: "acc1", OrderID: "missing", Type: models.JobTypeCheck,
	})
	if !errkind.Is(err, errkind.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestJobService_AddConnectorJob_StoreError(t *testing.T) {
	svc, jobs, queue := newTestJobService(models.AccountStatusEnabled)
	jobs.createErr = errors.New("db down")

	_, err := svc.AddConnectorJob(context.Background(), &models.AddConnectorJobCommand{
		UserExAccID: "acc1", OrderID: "o1", Type: models.JobTypeCheck,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(queue.enqueued) != 0 {
		t.Error("account must not be enqueued when job is not stored")
	}
}
