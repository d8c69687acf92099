package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"connector/internal/worker"
	"connector/pkg/utils"
)

// TaskKind - вид задачи аккаунта
type TaskKind string

const (
	TaskOrders        TaskKind = "orders"
	TaskBalance       TaskKind = "balance"
	TaskUnknownOrders TaskKind = "unknownOrders"
)

// Task - запись очереди: задача одного аккаунта
type Task struct {
	Kind      TaskKind
	AccountID string
}

// Key - ключ дедупликации. Для orders это id аккаунта
func (t Task) Key() string {
	if t.Kind == TaskOrders {
		return t.AccountID
	}
	return string(t.Kind) + ":" + t.AccountID
}

// Handler выполняет задачи аккаунта
type Handler interface {
	RunOrders(ctx context.Context, accountID string) error
	RefreshBalances(ctx context.Context, accountID string) error
	AuditUnknownOrders(ctx context.Context, accountID string) error
}

var _ Handler = (*worker.Runner)(nil)

// QueueConfig - параметры очереди
type QueueConfig struct {
	Workers int
	Buffer  int
}

// Queue - очередь задач аккаунтов с пулом воркеров.
// Задачи разных аккаунтов выполняются параллельно, одного аккаунта - строго по очереди
type Queue struct {
	handler Handler
	dedup   Deduper
	tasks   chan Task
	workers int
	logger  *utils.Logger

	locksMu sync.Mutex
	locks   map[string]*accountLock

	wg sync.WaitGroup
}

// NewQueue создает очередь
func NewQueue(handler Handler, dedup Deduper, cfg QueueConfig, logger *utils.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if dedup == nil {
		dedup = NewMemoryDeduper()
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Queue{
		handler: handler,
		dedup:   dedup,
		tasks:   make(chan Task, cfg.Buffer),
		workers: cfg.Workers,
		logger:  logger.WithComponent("queue"),
		locks:   make(map[string]*accountLock),
	}
}

// Enqueue ставит задачу в очередь. false - такая задача уже в очереди или выполняется
func (q *Queue) Enqueue(t Task) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := q.dedup.Acquire(ctx, t.Key())
	if err != nil {
		q.logger.Warn("dedup acquire failed", utils.Task(string(t.Kind)), utils.AccountID(t.AccountID), utils.Err(err))
		TasksEnqueued.WithLabelValues(string(t.Kind), "error").Inc()
		return false
	}
	if !ok {
		TasksEnqueued.WithLabelValues(string(t.Kind), "duplicate").Inc()
		return false
	}

	select {
	case q.tasks <- t:
		TasksEnqueued.WithLabelValues(string(t.Kind), "queued").Inc()
		QueueDepth.Inc()
		return true
	default:
		// Буфер полон - задачу подберет следующий проход сканера
		q.release(t)
		TasksEnqueued.WithLabelValues(string(t.Kind), "overflow").Inc()
		q.logger.Warn("queue is full", utils.Task(string(t.Kind)), utils.AccountID(t.AccountID))
		return false
	}
}

// EnqueueOrders ставит обработку заданий аккаунта
func (q *Queue) EnqueueOrders(accountID string) bool {
	return q.Enqueue(Task{Kind: TaskOrders, AccountID: accountID})
}

// Start запускает воркеры. Отмена ctx останавливает выборку новых задач,
// текущие запуски дорабатывают без отмены
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Wait ждет завершения воркеров и освобождает ключи невыполненных задач
func (q *Queue) Wait() {
	q.wg.Wait()
	for {
		select {
		case t := <-q.tasks:
			QueueDepth.Dec()
			q.release(t)
		default:
			return
		}
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			QueueDepth.Dec()
			q.run(context.WithoutCancel(ctx), t)
		}
	}
}

func (q *Queue) run(ctx context.Context, t Task) {
	defer q.release(t)

	// Балансы и сверка используют ту же сессию аккаунта, что и обработка ордеров
	unlock := q.lockAccount(t.AccountID)
	defer unlock()

	InFlight.Inc()
	defer InFlight.Dec()

	var err error
	switch t.Kind {
	case TaskOrders:
		err = q.handler.RunOrders(ctx, t.AccountID)
	case TaskBalance:
		err = q.handler.RefreshBalances(ctx, t.AccountID)
	case TaskUnknownOrders:
		err = q.handler.AuditUnknownOrders(ctx, t.AccountID)
	default:
		err = errors.New("unknown task kind")
	}

	if err != nil {
		TasksFailed.WithLabelValues(string(t.Kind)).Inc()
		q.logger.Warn("task failed",
			utils.Task(string(t.Kind)),
			utils.AccountID(t.AccountID),
			utils.Err(err))
	}
}

func (q *Queue) release(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.dedup.Release(ctx, t.Key()); err != nil {
		q.logger.Warn("dedup release failed", utils.Task(string(t.Kind)), utils.AccountID(t.AccountID), utils.Err(err))
	}
}

// accountLock - мьютекс аккаунта со счетчиком ожидающих.
// Запись удаляется из карты, когда последний держатель ее отпускает
type accountLock struct {
	mu   sync.Mutex
	refs int
}

func (q *Queue) lockAccount(accountID string) (unlock func()) {
	q.locksMu.Lock()
	lock, ok := q.locks[accountID]
	if !ok {
		lock = &accountLock{}
		q.locks[accountID] = lock
	}
	lock.refs++
	q.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		q.locksMu.Lock()
		defer q.locksMu.Unlock()
		lock.refs--
		if lock.refs == 0 {
			delete(q.locks, accountID)
		}
	}
}

func (q *Queue) lockCount() int {
	q.locksMu.Lock()
	defer q.locksMu.Unlock()
	return len(q.locks)
}
