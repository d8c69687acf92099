package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jasonlvhit/gocron"

	"connector/internal/models"
	"connector/internal/repository"
	"connector/pkg/utils"
)

// Имена сканеров (метки метрик и логов)
const (
	ScanIdleJobs      = "idle_jobs"
	ScanIdleOrders    = "idle_orders"
	ScanStaleBalances = "stale_balances"
	ScanUnknownOrders = "unknown_orders"
)

const scanTimeout = time.Minute

// JobStore - выборки и вставка заданий для сканеров
type JobStore interface {
	FindAccountsWithDueJobs(ctx context.Context, now time.Time) ([]string, error)
	Create(ctx context.Context, job *models.ConnectorJob) error
}

// OrderScanner находит открытые ордера без заданий
type OrderScanner interface {
	FindIdleOpen(ctx context.Context, limit int) ([]*models.Order, error)
}

// AccountScanner находит аккаунты для фоновых задач
type AccountScanner interface {
	FindStaleBalances(ctx context.Context, before time.Time) ([]string, error)
	FindWithActiveRobots(ctx context.Context) ([]string, error)
}

var _ JobStore = (*repository.JobRepository)(nil)
var _ OrderScanner = (*repository.OrderRepository)(nil)
var _ AccountScanner = (*repository.AccountRepository)(nil)

// Enqueuer ставит задачи аккаунтов в очередь
type Enqueuer interface {
	Enqueue(t Task) bool
}

// Config - периоды сканеров
type Config struct {
	IdleJobsInterval    time.Duration
	IdleOrdersInterval  time.Duration
	BalanceScanInterval time.Duration
	BalanceStaleAfter   time.Duration

	// UnknownOrdersAt - время суток запуска сверки, "hh:mm"
	UnknownOrdersAt []string

	// IdleOrdersLimit - максимум ордеров за один проход
	IdleOrdersLimit int
}

// Scheduler - периодические сверки журнала с очередью и биржей.
// Каждый сканер идемпотентен, повторный запуск безопасен
type Scheduler struct {
	jobs     JobStore
	orders   OrderScanner
	accounts AccountScanner
	queue    Enqueuer
	cfg      Config
	logger   *utils.Logger
	now      func() time.Time

	cron    *gocron.Scheduler
	stop    chan bool
	ctx     context.Context
	running sync.Map // scan -> *int32
}

// New создает планировщик
func New(jobs JobStore, orders OrderScanner, accounts AccountScanner, queue Enqueuer, cfg Config, logger *utils.Logger) *Scheduler {
	if cfg.IdleJobsInterval <= 0 {
		cfg.IdleJobsInterval = 15 * time.Second
	}
	if cfg.IdleOrdersInterval <= 0 {
		cfg.IdleOrdersInterval = 120 * time.Second
	}
	if cfg.BalanceScanInterval <= 0 {
		cfg.BalanceScanInterval = 60 * time.Second
	}
	if cfg.BalanceStaleAfter <= 0 {
		cfg.BalanceStaleAfter = 50 * time.Minute
	}
	if len(cfg.UnknownOrdersAt) == 0 {
		cfg.UnknownOrdersAt = []string{"00:00", "12:00"}
	}
	if cfg.IdleOrdersLimit <= 0 {
		cfg.IdleOrdersLimit = 1000
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Scheduler{
		jobs:     jobs,
		orders:   orders,
		accounts: accounts,
		queue:    queue,
		cfg:      cfg,
		logger:   logger.WithComponent("scheduler"),
		now:      time.Now,
	}
}

// Start регистрирует сканеры и запускает планировщик. ctx ограничивает время жизни проходов
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron = gocron.NewScheduler()

	s.cron.Every(seconds(s.cfg.IdleJobsInterval)).Seconds().Do(s.job(ScanIdleJobs, s.ScanIdleJobs))
	s.cron.Every(seconds(s.cfg.IdleOrdersInterval)).Seconds().Do(s.job(ScanIdleOrders, s.ScanIdleOrders))
	s.cron.Every(seconds(s.cfg.BalanceScanInterval)).Seconds().Do(s.job(ScanStaleBalances, s.ScanStaleBalances))
	for _, at := range s.cfg.UnknownOrdersAt {
		s.cron.Every(1).Day().At(at).Do(s.job(ScanUnknownOrders, s.ScanUnknownOrders))
	}

	s.stop = s.cron.Start()

	s.logger.Info("scheduler started",
		utils.String("idle_jobs", s.cfg.IdleJobsInterval.String()),
		utils.String("idle_orders", s.cfg.IdleOrdersInterval.String()),
		utils.String("balances", s.cfg.BalanceScanInterval.String()),
		utils.Any("unknown_orders_at", s.cfg.UnknownOrdersAt))
}

// Stop останавливает планировщик
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	s.stop <- true
	s.cron.Clear()
	s.logger.Info("scheduler stopped")
}

// job оборачивает сканер для gocron: не допускает наложения проходов одного сканера
func (s *Scheduler) job(name string, scan func(ctx context.Context) (int, error)) func() {
	flag, _ := s.running.LoadOrStore(name, new(int32))
	running := flag.(*int32)

	return func() {
		if !atomic.CompareAndSwapInt32(running, 0, 1) {
			return
		}
		defer atomic.StoreInt32(running, 0)

		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, scanTimeout)
		defer cancel()

		n, err := scan(ctx)
		if err != nil {
			ScanErrors.WithLabelValues(name).Inc()
			s.logger.Warn("scan failed", utils.Scan(name), utils.Err(err))
			return
		}
		if n > 0 {
			s.logger.Debug("scan enqueued tasks", utils.Scan(name), utils.Int("count", n))
		}
	}
}

// ScanIdleJobs ставит в очередь аккаунты с наступившими заданиями
func (s *Scheduler) ScanIdleJobs(ctx context.Context) (int, error) {
	ids, err := s.jobs.FindAccountsWithDueJobs(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find accounts with due jobs: %w", err)
	}
	return s.enqueueAll(ScanIdleJobs, TaskOrders, ids), nil
}

// ScanIdleOrders создает check для открытых ордеров, потерявших задание
func (s *Scheduler) ScanIdleOrders(ctx context.Context) (int, error) {
	orders, err := s.orders.FindIdleOpen(ctx, s.cfg.IdleOrdersLimit)
	if err != nil {
		return 0, fmt.Errorf("find idle open orders: %w", err)
	}

	now := s.now().UTC()
	accounts := make([]string, 0, len(orders))
	seen := make(map[string]bool)

	for _, o := range orders {
		job := &models.ConnectorJob{
			ID:          uuid.NewString(),
			UserExAccID: o.UserExAccID,
			OrderID:     o.ID,
			Type:        models.JobTypeCheck,
			Priority:    models.PriorityMedium,
			NextJobAt:   now,
			Allocation:  models.AllocationShared,
			CreatedAt:   now,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			return 0, fmt.Errorf("create check job for %s: %w", o.ID, err)
		}
		if !seen[o.UserExAccID] {
			seen[o.UserExAccID] = true
			accounts = append(accounts, o.UserExAccID)
		}
	}

	return s.enqueueAll(ScanIdleOrders, TaskOrders, accounts), nil
}

// ScanStaleBalances ставит обновление балансов с устаревшим кэшем
func (s *Scheduler) ScanStaleBalances(ctx context.Context) (int, error) {
	ids, err := s.accounts.FindStaleBalances(ctx, s.now().Add(-s.cfg.BalanceStaleAfter))
	if err != nil {
		return 0, fmt.Errorf("find stale balances: %w", err)
	}
	return s.enqueueAll(ScanStaleBalances, TaskBalance, ids), nil
}

// ScanUnknownOrders ставит сверку ордеров аккаунтов с запущенными роботами
func (s *Scheduler) ScanUnknownOrders(ctx context.Context) (int, error) {
	ids, err := s.accounts.FindWithActiveRobots(ctx)
	if err != nil {
		return 0, fmt.Errorf("find accounts with active robots: %w", err)
	}
	return s.enqueueAll(ScanUnknownOrders, TaskUnknownOrders, ids), nil
}

func (s *Scheduler) enqueueAll(scan string, kind TaskKind, accountIDs []string) int {
	n := 0
	for _, id := range accountIDs {
		if s.queue.Enqueue(Task{Kind: kind, AccountID: id}) {
			n++
		}
	}
	ScanEnqueued.WithLabelValues(scan).Add(float64(n))
	return n
}

func seconds(d time.Duration) uint64 {
	if d < time.Second {
		return 1
	}
	return uint64(d / time.Second)
}
