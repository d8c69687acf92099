package handlers

import (
	"context"
	"errors"
	"sync"

	"connector/internal/models"
	"connector/internal/repository"
	"connector/internal/service"
)

// ErrMockDatabase - ошибка хранилища в моках
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Job Service ============

// MockJobService мок для JobServiceInterface
type MockJobService struct {
	mu   sync.Mutex
	cmds []*models.AddConnectorJobCommand
	err  error
}

func NewMockJobService() *MockJobService {
	return &MockJobService{}
}

func (m *MockJobService) AddConnectorJob(ctx context.Context, cmd *models.AddConnectorJobCommand) (*models.ConnectorJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cmds = append(m.cmds, cmd)
	if m.err != nil {
		return nil, m.err
	}
	return &models.ConnectorJob{
		ID:          "job-1",
		UserExAccID: cmd.UserExAccID,
		OrderID:     cmd.OrderID,
		Type:        cmd.Type,
		Priority:    cmd.Priority,
		Allocation:  models.AllocationShared,
	}, nil
}

var _ service.JobServiceInterface = (*MockJobService)(nil)

// ============ Mock Account Service ============

// MockAccountService мок для AccountServiceInterface
type MockAccountService struct {
	mu       sync.Mutex
	accounts map[string]*models.UserExchangeAccount
	queued   map[string]bool
	err      error
}

func NewMockAccountService() *MockAccountService {
	return &MockAccountService{
		accounts: make(map[string]*models.UserExchangeAccount),
		queued:   make(map[string]bool),
	}
}

func (m *MockAccountService) AddAccount(a *models.UserExchangeAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

func (m *MockAccountService) GetAccount(ctx context.Context, id string) (*models.UserExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return a, nil
}

func (m *MockAccountService) EnableAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Status = models.AccountStatusEnabled
	a.Error = ""
	return nil
}

func (m *MockAccountService) EnqueueAccount(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	if !a.IsEnabled() {
		return false, service.ErrAccountNotEnabled
	}
	if m.queued[id] {
		return false, nil
	}
	m.queued[id] = true
	return true, nil
}

var _ service.AccountServiceInterface = (*MockAccountService)(nil)
