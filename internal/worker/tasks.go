package worker

import (
	"context"
	"fmt"
	"time"

	"connector/internal/errkind"
	"connector/internal/models"
	"connector/pkg/utils"
)

// RefreshBalances обновляет кэш балансов аккаунта
func (r *Runner) RefreshBalances(ctx context.Context, accountID string) error {
	start := time.Now()
	defer func() { RunDuration.WithLabelValues("balance").Observe(time.Since(start).Seconds()) }()

	account, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.IsEnabled() {
		return nil
	}

	defer r.pool.Evict(accountID)

	conn, err := r.pool.Get(ctx, account)
	if err != nil {
		return r.fail(ctx, accountID, err)
	}

	balances, err := conn.GetBalances(ctx)
	if err != nil {
		return r.fail(ctx, accountID, err)
	}

	if err := r.accounts.UpdateBalances(ctx, accountID, balances); err != nil {
		return fmt.Errorf("update balances: %w", err)
	}

	r.logger.Debug("balances refreshed",
		utils.AccountID(accountID),
		utils.String("total_usd", balances.TotalUSD.String()))
	return nil
}

// AuditUnknownOrders сверяет последние ордера биржи по торгуемым парам с журналом
// и записывает отсутствующие в журнале в таблицу неизвестных ордеров
func (r *Runner) AuditUnknownOrders(ctx context.Context, accountID string) error {
	start := time.Now()
	defer func() { RunDuration.WithLabelValues("unknown_orders").Observe(time.Since(start).Seconds()) }()

	log := r.logger.WithAccount(accountID)

	account, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.IsEnabled() {
		return nil
	}

	pairs, err := r.orders.GetTradedPairs(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load traded pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil
	}

	defer r.pool.Evict(accountID)

	conn, err := r.pool.Get(ctx, account)
	if err != nil {
		return r.fail(ctx, accountID, err)
	}

	found := 0
	for _, pair := range pairs {
		n, err := r.auditPair(ctx, conn.GetRecentOrders, account, pair)
		if err != nil {
			if errkind.IsAccountLevel(err) || ctx.Err() != nil {
				return r.fail(ctx, accountID, err)
			}
			log.Warn("unknown orders audit failed for pair",
				utils.String("asset", pair.Asset),
				utils.String("currency", pair.Currency),
				utils.Err(err))
			continue
		}
		found += n
	}

	if err := r.accounts.UpdateOrdersCache(ctx, accountID, conn.OrdersCache()); err != nil {
		log.Warn("failed to save orders cache", utils.Err(err))
	}

	if found > 0 {
		log.Info("unknown orders found", utils.Int("count", found))
	}
	return nil
}

type recentOrdersFunc func(ctx context.Context, asset, currency string) ([]*models.ExchangeOrder, error)

func (r *Runner) auditPair(ctx context.Context, recent recentOrdersFunc, account *models.UserExchangeAccount, pair models.Pair) (int, error) {
	orders, err := recent(ctx, pair.Asset, pair.Currency)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ExchangeOrderID)
	}

	known, err := r.orders.GetKnownExchangeIDs(ctx, account.ID, ids)
	if err != nil {
		return 0, fmt.Errorf("load known exchange ids: %w", err)
	}

	found := 0
	now := r.now().UTC()
	for _, o := range orders {
		if known[o.ExchangeOrderID] {
			continue
		}
		unknown := &models.UnknownOrder{
			ID:            r.newID(),
			UserExAccID:   account.ID,
			Exchange:      account.Exchange,
			ExchangeOrder: *o,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.unknown.Upsert(ctx, unknown); err != nil {
			return found, fmt.Errorf("upsert unknown order: %w", err)
		}
		found++
	}

	UnknownOrdersFound.Add(float64(found))
	return found, nil
}
