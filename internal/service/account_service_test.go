package service

import (
	"context"
	"errors"
	"testing"

	"connector/internal/models"
	"connector/internal/repository"
)

func TestAccountService_EnableAccount(t *testing.T) {
	accounts := NewMockAccountRepository(&models.UserExchangeAccount{
		ID: "acc1", Status: models.AccountStatusInvalid, Error: "invalid api key",
	})
	queue := &MockEnqueuer{}
	svc := NewAccountService(accounts, queue, nil)

	if err := svc.EnableAccount(context.Background(), "acc1"); err != nil {
		t.Fatalf("EnableAccount() error = %v", err)
	}

	status, msg := accounts.status("acc1")
	if status != models.AccountStatusEnabled || msg != "" {
		t.Errorf("status = %s, error = %q", status, msg)
	}
	if len(queue.enqueued) != 1 {
		t.Error("account must be enqueued")
	}
}

func TestAccountService_EnableAccount_NotFound(t *testing.T) {
	svc := NewAccountService(NewMockAccountRepository(), &MockEnqueuer{}, nil)

	if err := svc.EnableAccount(context.Background(), "missing"); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountService_EnqueueAccount(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		busy    bool
		want    bool
		wantErr error
	}{
		{"enabled", models.AccountStatusEnabled, false, true, nil},
		{"already queued", models.AccountStatusEnabled, true, false, nil},
		{"disabled", models.AccountStatusDisabled, false, false, ErrAccountNotEnabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := NewMockAccountRepository(&models.UserExchangeAccount{ID: "acc1", Status: tt.status})
			queue := &MockEnqueuer{busy: map[string]bool{"acc1": tt.busy}}
			svc := NewAccountService(accounts, queue, nil)

			got, err := svc.EnqueueAccount(context.Background(), "acc1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EnqueueAccount() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Включение аккаунта не закрывает сессию, которую держит идущая задача аккаунта
func TestAccountService_EnableKeepsInFlightSession(t *testing.T) {
	accounts := NewMockAccountRepository(poolAccount())
	pool, f := newTestPool(&MockDecryptor{}, accounts, &MockPublisher{})

	conn, err := pool.Get(context.Background(), poolAccount())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	svc := NewAccountService(accounts, &MockEnqueuer{}, nil)
	if err := svc.EnableAccount(context.Background(), "acc1"); err != nil {
		t.Fatalf("EnableAccount() error = %v", err)
	}

	if pool.Len() != 1 || f.created[0].closed {
		t.Fatal("session of a running task must stay open")
	}
	if again, _ := pool.Get(context.Background(), poolAccount()); again != conn {
		t.Error("running task must keep its session")
	}
}
