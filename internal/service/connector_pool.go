package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"connector/internal/errkind"
	"connector/internal/exchange"
	"connector/internal/models"
	"connector/pkg/crypto"
	"connector/pkg/ratelimit"
	"connector/pkg/utils"
)

// PoolConfig - параметры сессий, создаваемых пулом
type PoolConfig struct {
	// Лимит запросов одного аккаунта в секунду и размер всплеска
	Rate  float64
	Burst float64

	HTTPClient *http.Client
	BaseURL    string
}

// ConnectorPool владеет приватными сессиями аккаунтов.
// Runner берет сессию через Get на время запуска и обязан вызвать Evict в конце
type ConnectorPool struct {
	factory   exchange.Factory
	decryptor Decryptor
	accounts  AccountRepositoryInterface
	events    EventPublisher
	limiters  *ratelimit.MultiLimiter
	cfg       PoolConfig
	logger    *utils.Logger
	now       func() time.Time

	mu    sync.Mutex
	conns map[string]exchange.PrivateConnector
}

// NewConnectorPool создает пул сессий
func NewConnectorPool(
	factory exchange.Factory,
	decryptor Decryptor,
	accounts AccountRepositoryInterface,
	events EventPublisher,
	cfg PoolConfig,
	logger *utils.Logger,
) *ConnectorPool {
	if factory == nil {
		factory = exchange.NewPrivateConnector
	}
	if logger == nil {
		logger = utils.L()
	}
	return &ConnectorPool{
		factory:   factory,
		decryptor: decryptor,
		accounts:  accounts,
		events:    events,
		limiters:  ratelimit.NewMultiLimiter(cfg.Rate, cfg.Burst),
		cfg:       cfg,
		logger:    logger.WithComponent("connector_pool"),
		now:       time.Now,
		conns:     make(map[string]exchange.PrivateConnector),
	}
}

// Get возвращает закешированную сессию аккаунта или создает новую.
// Ошибки сессии на выходе уже классифицированы (errkind)
func (p *ConnectorPool) Get(ctx context.Context, account *models.UserExchangeAccount) (exchange.PrivateConnector, error) {
	p.mu.Lock()
	if conn, ok := p.conns[account.ID]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	creds, err := p.credentials(ctx, account)
	if err != nil {
		return nil, err
	}

	raw, err := p.factory(account.Exchange, exchange.Options{
		Credentials: creds,
		OrdersCache: account.OrdersCache,
		Limiter:     p.limiters.Get(account.ID),
		HTTPClient:  p.cfg.HTTPClient,
		BaseURL:     p.cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	conn := exchange.WithClassification(raw)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[account.ID]; ok {
		_ = conn.Close()
		return existing, nil
	}
	p.conns[account.ID] = conn

	return conn, nil
}

// Evict закрывает и удаляет сессию аккаунта. Безопасно вызывать для отсутствующей сессии
func (p *ConnectorPool) Evict(accountID string) {
	p.mu.Lock()
	conn, ok := p.conns[accountID]
	delete(p.conns, accountID)
	p.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			p.logger.Warn("failed to close connector", utils.AccountID(accountID), utils.Err(err))
		}
	}
}

// Len возвращает число закешированных сессий
func (p *ConnectorPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *ConnectorPool) credentials(ctx context.Context, account *models.UserExchangeAccount) (exchange.Credentials, error) {
	var creds exchange.Credentials
	var err error

	if creds.APIKey, err = p.decrypt(ctx, account, account.APIKey); err != nil {
		return creds, err
	}
	if creds.Secret, err = p.decrypt(ctx, account, account.Secret); err != nil {
		return creds, err
	}
	if account.Password != "" {
		if creds.Password, err = p.decrypt(ctx, account, account.Password); err != nil {
			return creds, err
		}
	}

	return creds, nil
}

func (p *ConnectorPool) decrypt(ctx context.Context, account *models.UserExchangeAccount, blob string) (string, error) {
	plain, err := p.decryptor.Decrypt(ctx, account.UserID, blob)
	if err == nil {
		return plain, nil
	}
	if !crypto.IsBadDecrypt(err) {
		return "", err
	}

	// Ключ шифрования сменился: без вмешательства пользователя аккаунт не восстановить
	msg := fmt.Sprintf("failed to decrypt exchange keys: %v", err)
	p.logger.Error("disabling account", utils.AccountID(account.ID), utils.Err(err))

	if uerr := p.accounts.UpdateStatus(ctx, account.ID, models.AccountStatusDisabled, msg); uerr != nil {
		p.logger.Error("failed to disable account", utils.AccountID(account.ID), utils.Err(uerr))
	}
	if p.events != nil {
		ev := models.NewEvent(models.EventUserExAccError, account.ID, &models.AccountErrorEvent{
			UserExAccID: account.ID,
			Error:       msg,
			Timestamp:   p.now().UTC(),
		}, p.now().UTC())
		if perr := p.events.Publish(ctx, ev); perr != nil {
			p.logger.Warn("failed to publish account error", utils.AccountID(account.ID), utils.Err(perr))
		}
	}

	return "", errkind.New(errkind.Decrypt, "decrypt credentials", err)
}
