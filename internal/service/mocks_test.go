package service

import (
	"context"
	"errors"
	"sync"

	"connector/internal/exchange"
	"connector/internal/models"
	"connector/internal/repository"
)

// ============ Mock AccountRepository ============

type MockAccountRepository struct {
	mu        sync.Mutex
	accounts  map[string]*models.UserExchangeAccount
	getErr    error
	updateErr error
}

func NewMockAccountRepository(accounts ...*models.UserExchangeAccount) *MockAccountRepository {
	m := &MockAccountRepository{accounts: make(map[string]*models.UserExchangeAccount)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.UserExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Status = status
	a.Error = errMsg
	return nil
}

func (m *MockAccountRepository) status(id string) (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Status, m.accounts[id].Error
}

// ============ Mock OrderRepository ============

type MockOrderRepository struct {
	orders map[string]*models.Order
	getErr error
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ============ Mock JobRepository ============

type MockJobRepository struct {
	jobs      []*models.ConnectorJob
	createErr error
}

func (m *MockJobRepository) Create(ctx context.Context, job *models.ConnectorJob) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// ============ Mock queue / events / decryptor ============

type MockEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
	busy     map[string]bool
}

func (m *MockEnqueuer) EnqueueOrders(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[accountID] {
		return false
	}
	m.enqueued = append(m.enqueued, accountID)
	return true
}

type MockPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (m *MockPublisher) Publish(ctx context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

type MockDecryptor struct {
	err   error
	calls int
}

func (m *MockDecryptor) Decrypt(ctx context.Context, userID, blob string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "plain:" + blob, nil
}

// ============ Mock connector ============

type MockConnector struct {
	exchange.PrivateConnector
	creds  exchange.Credentials
	cache  models.OrdersCache
	closed bool
}

func (m *MockConnector) Exchange() string                { return "mock" }
func (m *MockConnector) OrdersCache() models.OrdersCache { return m.cache }
func (m *MockConnector) Close() error {
	m.closed = true
	return nil
}

// mockFactory запоминает созданные сессии
type mockFactory struct {
	created []*MockConnector
	err     error
}

func (f *mockFactory) New(name string, opts exchange.Options) (exchange.PrivateConnector, error) {
	if f.err != nil {
		return nil, f.err
	}
	if name != "bybit" {
		return nil, errors.New("unsupported exchange: " + name)
	}
	c := &MockConnector{creds: opts.Credentials, cache: opts.OrdersCache}
	f.created = append(f.created, c)
	return c, nil
}
