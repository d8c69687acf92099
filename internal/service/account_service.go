package service

import (
	"context"

	"connector/internal/models"
	"connector/pkg/utils"
)

// AccountService - ручное восстановление аккаунтов после invalid/disabled
type AccountService struct {
	accounts AccountRepositoryInterface
	queue    AccountEnqueuer
	logger   *utils.Logger
}

// NewAccountService создает сервис аккаунтов
func NewAccountService(accounts AccountRepositoryInterface, queue AccountEnqueuer, logger *utils.Logger) *AccountService {
	if logger == nil {
		logger = utils.L()
	}
	return &AccountService{
		accounts: accounts,
		queue:    queue,
		logger:   logger.WithComponent("account_service"),
	}
}

// GetAccount возвращает аккаунт (ключи в JSON не попадают)
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.UserExchangeAccount, error) {
	return s.accounts.GetByID(ctx, id)
}

// EnableAccount включает аккаунт, очищает ошибку и запускает обработку накопившихся заданий.
// Сессию аккаунта не трогает: ее сбрасывает Runner в конце каждого запуска,
// так что следующий запуск перечитает ключи
func (s *AccountService) EnableAccount(ctx context.Context, id string) error {
	if _, err := s.accounts.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.accounts.UpdateStatus(ctx, id, models.AccountStatusEnabled, ""); err != nil {
		return err
	}

	s.queue.EnqueueOrders(id)

	s.logger.Info("account enabled", utils.AccountID(id))
	return nil
}

// EnqueueAccount принудительно ставит обработку аккаунта в очередь.
// false - запуск уже в очереди или выполняется
func (s *AccountService) EnqueueAccount(ctx context.Context, id string) (bool, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !account.IsEnabled() {
		return false, ErrAccountNotEnabled
	}
	return s.queue.EnqueueOrders(id), nil
}
