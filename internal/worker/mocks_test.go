package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"connector/internal/errkind"
	"connector/internal/exchange"
	"connector/internal/models"
	"connector/internal/repository"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ============ In-memory ledger ============

// memLedger - журнал ордеров, заданий и аккаунтов в памяти
type memLedger struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	jobs     map[string]*models.ConnectorJob
	accounts map[string]*models.UserExchangeAccount
	unknown  map[string]*models.UnknownOrder
	pairs    []models.Pair

	saveErr  error
	saves    int
	getDueFn func()
}

func newMemLedger() *memLedger {
	return &memLedger{
		orders:   make(map[string]*models.Order),
		jobs:     make(map[string]*models.ConnectorJob),
		accounts: make(map[string]*models.UserExchangeAccount),
		unknown:  make(map[string]*models.UnknownOrder),
	}
}

func (m *memLedger) addOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

func (m *memLedger) addJob(j *models.ConnectorJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
}

func (m *memLedger) order(id string) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return o.Clone()
	}
	return nil
}

func (m *memLedger) jobsFor(orderID string) []*models.ConnectorJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConnectorJob
	for _, j := range m.jobs {
		if j.OrderID == orderID {
			out = append(out, j)
		}
	}
	return out
}

func (m *memLedger) successors(prevID string) []*models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.PrevOrderID != nil && *o.PrevOrderID == prevID {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (m *memLedger) account(id string) models.UserExchangeAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

// OrderStore

func (m *memLedger) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if o := m.order(id); o != nil {
		return o, nil
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memLedger) GetByPrevOrderID(ctx context.Context, prevID string) (*models.Order, error) {
	if s := m.successors(prevID); len(s) > 0 {
		return s[0], nil
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memLedger) SaveOrderTransaction(ctx context.Context, order *models.Order, deleteJobsForOrderID string, nextJob *models.ConnectorJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return errkind.New(errkind.Persistence, "save order", m.saveErr)
	}
	// Как database/sql: отмененный контекст обрывает транзакцию
	if err := ctx.Err(); err != nil {
		return errkind.New(errkind.Persistence, "save order", err)
	}
	m.saves++
	m.orders[order.ID] = order.Clone()
	for id, j := range m.jobs {
		if j.OrderID == deleteJobsForOrderID {
			delete(m.jobs, id)
		}
	}
	if nextJob != nil {
		cp := *nextJob
		m.jobs[nextJob.ID] = &cp
	}
	return nil
}

func (m *memLedger) CreateSuccessor(ctx context.Context, checked, successor *models.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, errkind.New(errkind.Persistence, "create successor", m.saveErr)
	}
	m.orders[checked.ID] = checked.Clone()
	for id, j := range m.jobs {
		if j.OrderID == checked.ID {
			delete(m.jobs, id)
		}
	}
	// Частичный уникальный индекс по prev_order_id
	for _, o := range m.orders {
		if o.PrevOrderID != nil && *o.PrevOrderID == *successor.PrevOrderID {
			return false, nil
		}
	}
	m.orders[successor.ID] = successor.Clone()
	return true, nil
}

func (m *memLedger) GetTradedPairs(ctx context.Context, accountID string) ([]models.Pair, error) {
	return m.pairs, nil
}

func (m *memLedger) GetKnownExchangeIDs(ctx context.Context, accountID string, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]bool)
	for _, o := range m.orders {
		if o.UserExAccID == accountID && o.HasExchangeID() {
			for _, id := range ids {
				if id == *o.ExchangeOrderID {
					known[id] = true
				}
			}
		}
	}
	return known, nil
}

// JobStore

func (m *memLedger) GetDue(ctx context.Context, accountID string, now time.Time) ([]*models.ConnectorJob, error) {
	if m.getDueFn != nil {
		m.getDueFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.ConnectorJob
	for _, j := range m.jobs {
		if j.UserExAccID == accountID && !j.NextJobAt.After(now) {
			cp := *j
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority < due[k].Priority
		}
		if !due[i].NextJobAt.Equal(due[k].NextJobAt) {
			return due[i].NextJobAt.Before(due[k].NextJobAt)
		}
		return due[i].ID < due[k].ID
	})
	return due, nil
}

func (m *memLedger) DeleteByOrderID(ctx context.Context, orderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.OrderID == orderID {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// AccountStore

type accountLedger struct{ *memLedger }

func (a accountLedger) GetByID(ctx context.Context, id string) (*models.UserExchangeAccount, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (a accountLedger) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[id].Status = status
	a.accounts[id].Error = errMsg
	return nil
}

func (a accountLedger) UpdateBalances(ctx context.Context, id string, balances *models.Balances) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[id].Balances = balances
	return nil
}

func (a accountLedger) UpdateOrdersCache(ctx context.Context, id string, cache models.OrdersCache) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[id].OrdersCache = cache
	return nil
}

// UnknownOrderStore

func (m *memLedger) Upsert(ctx context.Context, o *models.UnknownOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknown[o.UserExAccID+"/"+o.ExchangeOrderID] = o
	return nil
}

// ============ Fake connector ============

type fakeConnector struct {
	mu sync.Mutex

	createFn   func(o *models.Order) (*exchange.OrderResult, error)
	cancelFn   func(o *models.Order) (*exchange.OrderResult, error)
	checkFn    func(o *models.Order) (*exchange.OrderResult, error)
	balancesFn func() (*models.Balances, error)
	recentFn   func(asset, currency string) ([]*models.ExchangeOrder, error)

	creates, cancels, checks, balances int
	cache                              models.OrdersCache
}

func (f *fakeConnector) Exchange() string { return "fake" }

func (f *fakeConnector) CreateOrder(ctx context.Context, o *models.Order) (*exchange.OrderResult, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(o)
	}
	return openResult(o, "ex-"+o.ID, nil), nil
}

func (f *fakeConnector) CancelOrder(ctx context.Context, o *models.Order) (*exchange.OrderResult, error) {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	if f.cancelFn != nil {
		return f.cancelFn(o)
	}
	return statusResult(o, models.OrderStatusCanceled), nil
}

func (f *fakeConnector) CheckOrder(ctx context.Context, o *models.Order) (*exchange.OrderResult, error) {
	f.mu.Lock()
	f.checks++
	f.mu.Unlock()
	if f.checkFn != nil {
		return f.checkFn(o)
	}
	return statusResult(o, o.Status), nil
}

func (f *fakeConnector) GetBalances(ctx context.Context) (*models.Balances, error) {
	f.mu.Lock()
	f.balances++
	f.mu.Unlock()
	if f.balancesFn != nil {
		return f.balancesFn()
	}
	return &models.Balances{TotalUSD: decimal.NewFromInt(1000), UpdatedAt: testNow}, nil
}

func (f *fakeConnector) GetRecentOrders(ctx context.Context, asset, currency string) ([]*models.ExchangeOrder, error) {
	if f.recentFn != nil {
		return f.recentFn(asset, currency)
	}
	return nil, nil
}

func (f *fakeConnector) OrdersCache() models.OrdersCache { return f.cache }
func (f *fakeConnector) Close() error                    { return nil }

func (f *fakeConnector) calls() (creates, cancels, checks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.cancels, f.checks
}

func openResult(o *models.Order, exchangeID string, next *models.NextJob) *exchange.OrderResult {
	res := o.Clone()
	res.Status = models.OrderStatusOpen
	res.ExchangeOrderID = models.StringPtr(exchangeID)
	ts := testNow
	res.ExchangeTimestamp = &ts
	return &exchange.OrderResult{Order: res, NextJob: next}
}

func statusResult(o *models.Order, status string) *exchange.OrderResult {
	res := o.Clone()
	res.Status = status
	return &exchange.OrderResult{Order: res}
}

// ============ Fake pool / publisher ============

type fakePool struct {
	mu      sync.Mutex
	conn    exchange.PrivateConnector
	err     error
	gets    int
	evicted []string
}

func (p *fakePool) Get(ctx context.Context, account *models.UserExchangeAccount) (exchange.PrivateConnector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

func (p *fakePool) Evict(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted = append(p.evicted, accountID)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// ============ Fixtures ============

func newOrder(id string) *models.Order {
	return &models.Order{
		ID:          id,
		UserExAccID: "acc1",
		UserRobotID: models.StringPtr("robot1"),
		Exchange:    "bybit",
		Asset:       "BTC",
		Currency:    "USDT",
		Direction:   models.DirectionBuy,
		Type:        models.OrderTypeLimit,
		Price:       decimal.NewNullDecimal(decimal.NewFromInt(50000)),
		Volume:      decimal.RequireFromString("0.01"),
		Status:      models.OrderStatusNew,
	}
}

func openOrder(id string) *models.Order {
	o := newOrder(id)
	o.Status = models.OrderStatusOpen
	o.ExchangeOrderID = models.StringPtr("ex-" + id)
	ts := testNow.Add(-10 * time.Second)
	o.ExchangeTimestamp = &ts
	return o
}

func newJob(id, orderID, jobType string, at time.Time) *models.ConnectorJob {
	return &models.ConnectorJob{
		ID:          id,
		UserExAccID: "acc1",
		OrderID:     orderID,
		Type:        jobType,
		Priority:    models.PriorityMedium,
		NextJobAt:   at,
		Allocation:  models.AllocationShared,
	}
}

var errAuth = errkind.New(errkind.ExchangeAuth, "checkOrder", errors.New("bybit: API key is invalid (code 10003)"))
