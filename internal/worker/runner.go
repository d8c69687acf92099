package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"connector/internal/errkind"
	"connector/internal/exchange"
	"connector/internal/models"
	"connector/internal/repository"
	"connector/pkg/utils"
)

// ErrAccountNotEnabled - аккаунт выключен или признан невалидным
var ErrAccountNotEnabled = errors.New("exchange account is not enabled")

// Config - параметры запуска по аккаунту
type Config struct {
	// OrderConcurrency - сколько ордеров аккаунта обрабатывается параллельно
	OrderConcurrency int

	// MaxDrainPasses - предел проходов за запуск, остаток подберет сканер заданий
	MaxDrainPasses int
}

// Runner выполняет задачи одного аккаунта: обработку заданий ордеров,
// обновление балансов и сверку ордеров с биржей
type Runner struct {
	jobs     JobStore
	orders   OrderStore
	accounts AccountStore
	unknown  UnknownOrderStore
	pool     ConnectorSource
	events   EventPublisher
	sm       *StateMachine
	cfg      Config
	logger   *utils.Logger
	now      func() time.Time
	newID    func() string
}

// NewRunner создает Runner
func NewRunner(
	jobs JobStore,
	orders OrderStore,
	accounts AccountStore,
	unknown UnknownOrderStore,
	pool ConnectorSource,
	events EventPublisher,
	cfg Config,
	logger *utils.Logger,
) *Runner {
	if cfg.OrderConcurrency <= 0 {
		cfg.OrderConcurrency = 1
	}
	if cfg.MaxDrainPasses <= 0 {
		cfg.MaxDrainPasses = 100
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Runner{
		jobs:     jobs,
		orders:   orders,
		accounts: accounts,
		unknown:  unknown,
		pool:     pool,
		events:   events,
		sm:       NewStateMachine(orders),
		cfg:      cfg,
		logger:   logger.WithComponent("runner"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock подменяет источник времени (тесты)
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
	r.sm.now = now
}

// RunOrders обрабатывает все наступившие задания аккаунта до тех пор, пока они есть.
// Ошибки уровня аккаунта переводят его в invalid и возвращаются вызывающему
func (r *Runner) RunOrders(ctx context.Context, accountID string) (err error) {
	start := time.Now()
	defer func() { RunDuration.WithLabelValues("orders").Observe(time.Since(start).Seconds()) }()

	log := r.logger.WithAccount(accountID)

	due, err := r.jobs.GetDue(ctx, accountID, r.now())
	if err != nil {
		return fmt.Errorf("load due jobs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	account, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.IsEnabled() {
		return fmt.Errorf("%w: %s is %s", ErrAccountNotEnabled, accountID, account.Status)
	}

	defer r.pool.Evict(accountID)

	conn, err := r.pool.Get(ctx, account)
	if err != nil {
		return r.fail(ctx, accountID, err)
	}

	processed, passes := 0, 0
	for ; len(due) > 0; passes++ {
		if passes >= r.cfg.MaxDrainPasses {
			log.Warn("drain pass limit reached, leaving jobs to scheduler", utils.Int("passes", passes))
			break
		}

		selected := selectJobs(due)
		if dropped := len(due) - len(selected); dropped > 0 {
			log.Debug("superseded jobs dropped", utils.Int("dropped", dropped))
		}

		if err := r.drainPass(ctx, log, conn, account, selected); err != nil {
			return r.fail(ctx, accountID, err)
		}
		processed += len(selected)

		if due, err = r.jobs.GetDue(ctx, accountID, r.now()); err != nil {
			return fmt.Errorf("load due jobs: %w", err)
		}
	}
	DrainPasses.Observe(float64(passes))

	if err := r.accounts.UpdateOrdersCache(ctx, accountID, conn.OrdersCache()); err != nil {
		log.Warn("failed to save orders cache", utils.Err(err))
	}

	log.Info("orders run finished",
		utils.Int("orders", processed),
		utils.Int("passes", passes),
		utils.Elapsed(time.Since(start)))

	return nil
}

// drainPass обрабатывает выбранные задания параллельно по ордерам.
// Ошибка одного ордера не отменяет остальные: их вызовы биржи уже могли пройти,
// и результат обязан попасть в журнал. После ошибки уровня аккаунта
// еще не начатые ордера пропускаются, их задания остаются в журнале
func (r *Runner) drainPass(ctx context.Context, log *utils.Logger, conn exchange.PrivateConnector, account *models.UserExchangeAccount, selected []*models.ConnectorJob) error {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []error
		aborted  atomic.Bool
	)
	g.SetLimit(r.cfg.OrderConcurrency)

	for _, job := range selected {
		job := job
		g.Go(func() error {
			if aborted.Load() {
				return nil
			}
			err := r.processOrder(ctx, conn, account, job)
			if err == nil {
				return nil
			}
			if errkind.IsAccountLevel(err) {
				aborted.Store(true)
			}
			log.Error("order processing failed",
				utils.OrderID(job.OrderID),
				utils.JobType(job.Type),
				utils.ErrorKind(errkind.KindOf(err).String()),
				utils.Err(err))

			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	// Ошибка уровня аккаунта - первой, по ней определяется класс итоговой ошибки
	sort.SliceStable(failures, func(i, j int) bool {
		return errkind.IsAccountLevel(failures[i]) && !errkind.IsAccountLevel(failures[j])
	})
	if len(failures) == 1 {
		return failures[0]
	}
	return errors.Join(failures...)
}

// selectJobs оставляет по одному заданию на ордер: с наибольшим nextJobAt,
// при равенстве - с меньшим приоритетом, затем с меньшим id.
// Остальные задания ордера удалятся при сохранении результата
func selectJobs(due []*models.ConnectorJob) []*models.ConnectorJob {
	winners := make(map[string]*models.ConnectorJob, len(due))
	order := make([]string, 0, len(due))

	for _, job := range due {
		cur, ok := winners[job.OrderID]
		if !ok {
			winners[job.OrderID] = job
			order = append(order, job.OrderID)
			continue
		}
		if laterJob(job, cur) {
			JobsSuperseded.WithLabelValues(cur.Type).Inc()
			winners[job.OrderID] = job
		} else {
			JobsSuperseded.WithLabelValues(job.Type).Inc()
		}
	}

	selected := make([]*models.ConnectorJob, 0, len(order))
	for _, id := range order {
		selected = append(selected, winners[id])
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority < selected[j].Priority
	})
	return selected
}

func laterJob(a, b *models.ConnectorJob) bool {
	if !a.NextJobAt.Equal(b.NextJobAt) {
		return a.NextJobAt.After(b.NextJobAt)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// processOrder применяет задание к свежезагруженному ордеру и сохраняет результат.
// Возвращает только ошибки, прерывающие запуск аккаунта
func (r *Runner) processOrder(ctx context.Context, conn exchange.PrivateConnector, account *models.UserExchangeAccount, job *models.ConnectorJob) error {
	log := r.logger.WithAccount(account.ID).With(utils.OrderID(job.OrderID), utils.JobType(job.Type))

	order, err := r.orders.GetByID(ctx, job.OrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		log.Warn("order not found, dropping its jobs")
		if _, err := r.jobs.DeleteByOrderID(ctx, job.OrderID); err != nil {
			return errkind.New(errkind.Persistence, "delete jobs", err)
		}
		RecordJob(job.Type, "not_found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", job.OrderID, err)
	}

	tr, err := r.sm.Apply(ctx, conn, order, job)
	if err != nil {
		if ctx.Err() != nil {
			// Запуск прерван: задание останется в журнале и будет подобрано сканером
			return ctx.Err()
		}
		if errkind.IsAccountLevel(err) {
			RecordJob(job.Type, "account_error")
			return err
		}
		return r.recordOrderError(ctx, log, order, job, tr, err)
	}

	result := tr.Order
	if result.Status == models.OrderStatusClosed {
		if err := r.stampBalance(ctx, conn, account.ID, result); err != nil {
			return err
		}
	}

	var next *models.ConnectorJob
	if tr.NextJob != nil {
		next = tr.NextJob.ToJob(r.newID(), result)
	}
	result.NextJob = tr.NextJob
	result.UpdatedAt = r.now().UTC()

	// Вызов биржи уже выполнен: сохранение не должно прерываться отменой запуска
	if err := r.orders.SaveOrderTransaction(context.WithoutCancel(ctx), result, result.ID, next); err != nil {
		RecordJob(job.Type, "account_error")
		return err
	}

	RecordJob(job.Type, "ok")
	r.publishOrder(ctx, result)
	return nil
}

// recordOrderError сохраняет ошибку на ордере. Неудачная отправка нового ордера
// возвращает его в canceled. Если create ушел в проверку уже отправленного ордера,
// статус не меняется: ордер живет на бирже
func (r *Runner) recordOrderError(ctx context.Context, log *utils.Logger, order *models.Order, job *models.ConnectorJob, tr *Transition, cause error) error {
	target := order
	if tr != nil && tr.Order != nil {
		target = tr.Order
	}

	failed := target.Clone()
	failed.Error = cause.Error()
	failed.NextJob = nil
	failed.UpdatedAt = r.now().UTC()
	if job.Type == models.JobTypeCreate && submitsNew(order) {
		failed.Status = models.OrderStatusCanceled
	}

	log.Warn("order job failed",
		utils.ErrorKind(errkind.KindOf(cause).String()),
		utils.Status(failed.Status),
		utils.Err(cause))

	if err := r.orders.SaveOrderTransaction(context.WithoutCancel(ctx), failed, failed.ID, nil); err != nil {
		RecordJob(job.Type, "account_error")
		return err
	}

	RecordJob(job.Type, "order_error")
	r.publishOrder(ctx, failed)
	return nil
}

// submitsNew - create для этого ордера действительно вызывает CreateOrder
func submitsNew(order *models.Order) bool {
	return order.Status == models.OrderStatusNew && !order.HasExchangeID()
}

// stampBalance обновляет балансы аккаунта и записывает итог в meta ордера
func (r *Runner) stampBalance(ctx context.Context, conn exchange.PrivateConnector, accountID string, order *models.Order) error {
	balances, err := conn.GetBalances(ctx)
	if err != nil {
		if errkind.IsAccountLevel(err) {
			return err
		}
		r.logger.Warn("failed to refresh balances after close",
			utils.AccountID(accountID), utils.OrderID(order.ID), utils.Err(err))
		return nil
	}

	if err := r.accounts.UpdateBalances(ctx, accountID, balances); err != nil {
		return errkind.New(errkind.Persistence, "update balances", err)
	}
	order.SetMeta(models.MetaCurrentBalance, balances.TotalUSD.String())
	return nil
}

// publishOrder отправляет ORDER_STATUS для итоговых статусов и ORDER_ERROR при ошибке
func (r *Runner) publishOrder(ctx context.Context, order *models.Order) {
	if order.Error == "" && !order.IsTerminal() {
		return
	}
	now := r.now().UTC()
	eventType, data := models.NewOrderEvent(order, now)
	r.publish(ctx, models.NewEvent(eventType, order.UserExAccID, data, now))
}

func (r *Runner) publish(ctx context.Context, ev *models.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.Warn("failed to publish event", utils.String("type", ev.Type), utils.Err(err))
	}
}

// fail обрабатывает ошибку, прервавшую запуск: ошибки уровня аккаунта переводят его в invalid
func (r *Runner) fail(ctx context.Context, accountID string, err error) error {
	if errkind.IsAccountLevel(err) && ctx.Err() == nil {
		r.invalidate(ctx, accountID, err)
	}
	return err
}

func (r *Runner) invalidate(ctx context.Context, accountID string, cause error) {
	kind := errkind.KindOf(cause).String()
	AccountInvalidations.WithLabelValues(kind).Inc()

	r.logger.Error("invalidating account",
		utils.AccountID(accountID), utils.ErrorKind(kind), utils.Err(cause))

	if err := r.accounts.UpdateStatus(ctx, accountID, models.AccountStatusInvalid, cause.Error()); err != nil {
		r.logger.Error("failed to invalidate account", utils.AccountID(accountID), utils.Err(err))
	}

	now := r.now().UTC()
	r.publish(ctx, models.NewEvent(models.EventUserExAccError, accountID, &models.AccountErrorEvent{
		UserExAccID: accountID,
		Error:       cause.Error(),
		Timestamp:   now,
	}, now))
}
