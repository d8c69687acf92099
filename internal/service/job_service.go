package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"connector/internal/errkind"
	"connector/internal/models"
	"connector/internal/repository"
	"connector/pkg/utils"
)

// Ошибки сервиса
var (
	ErrJobAccountRequired = errors.New("userExAccId is required")
	ErrJobOrderRequired   = errors.New("orderId is required")
	ErrJobInvalidType     = errors.New("invalid job type")
	ErrJobInvalidPriority = errors.New("priority must be between 1 and 3")
	ErrJobOrderMismatch   = errors.New("order does not belong to account")
	ErrAccountNotEnabled  = errors.New("exchange account is not enabled")
)

// JobService принимает команды ADD_CONNECTOR_JOB из API и шины
type JobService struct {
	jobs     JobRepositoryInterface
	orders   OrderRepositoryInterface
	accounts AccountRepositoryInterface
	queue    AccountEnqueuer
	logger   *utils.Logger
	now      func() time.Time
}

// NewJobService создает сервис заданий
func NewJobService(
	jobs JobRepositoryInterface,
	orders OrderRepositoryInterface,
	accounts AccountRepositoryInterface,
	queue AccountEnqueuer,
	logger *utils.Logger,
) *JobService {
	if logger == nil {
		logger = utils.L()
	}
	return &JobService{
		jobs:     jobs,
		orders:   orders,
		accounts: accounts,
		queue:    queue,
		logger:   logger.WithComponent("job_service"),
		now:      time.Now,
	}
}

// AddConnectorJob проверяет команду, сохраняет задание и, если аккаунт активен,
// ставит обработку аккаунта в очередь
func (s *JobService) AddConnectorJob(ctx context.Context, cmd *models.AddConnectorJobCommand) (*models.ConnectorJob, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, errkind.New(errkind.Validation, "addConnectorJob", err)
	}

	order, err := s.orders.GetByID(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, errkind.New(errkind.Validation, "addConnectorJob", err)
		}
		return nil, err
	}
	if order.UserExAccID != cmd.UserExAccID {
		return nil, errkind.New(errkind.Validation, "addConnectorJob", ErrJobOrderMismatch)
	}

	priority := cmd.Priority
	if priority == 0 {
		priority = models.PriorityMedium
	}
	nextJobAt := s.now().UTC()
	if cmd.NextJobAt != nil {
		nextJobAt = cmd.NextJobAt.UTC()
	}

	job := &models.ConnectorJob{
		ID:          uuid.NewString(),
		UserExAccID: cmd.UserExAccID,
		OrderID:     cmd.OrderID,
		Type:        cmd.Type,
		Priority:    priority,
		NextJobAt:   nextJobAt,
		Data:        cmd.Data,
		Allocation:  models.AllocationShared,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, cmd.UserExAccID)
	if err != nil {
		return nil, err
	}
	if account.IsEnabled() {
		s.queue.EnqueueOrders(account.ID)
	} else {
		s.logger.Info("job stored for inactive account",
			utils.AccountID(account.ID), utils.JobID(job.ID), utils.Status(account.Status))
	}

	return job, nil
}

func validateCommand(cmd *models.AddConnectorJobCommand) error {
	switch {
	case cmd == nil || cmd.UserExAccID == "":
		return ErrJobAccountRequired
	case cmd.OrderID == "":
		return ErrJobOrderRequired
	case !models.IsValidJobType(cmd.Type):
		return ErrJobInvalidType
	case cmd.Priority < 0 || cmd.Priority > models.PriorityLow:
		return ErrJobInvalidPriority
	}
	return nil
}
