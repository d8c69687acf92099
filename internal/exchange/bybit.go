package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"connector/internal/errkind"
	"connector/internal/models"
	"connector/pkg/ratelimit"
	"connector/pkg/retry"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
	bybitCategory   = "spot"

	// bybitOrderNotFound - ордер уже исполнен/отменен или не существует
	bybitOrderNotFound = "170213"
)

// Интервалы повторной проверки ордера, которые Bybit-сессия предлагает как следующее задание
const (
	bybitMarketCheckDelay = 2 * time.Second
	bybitLimitCheckDelay  = 10 * time.Second
	bybitCancelCheckDelay = 1 * time.Second
)

// Bybit - приватная сессия спотового аккаунта Bybit (API v5)
type Bybit struct {
	apiKey    string
	secretKey string
	baseURL   string

	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	now        func() time.Time

	cacheMu sync.Mutex
	cache   models.OrdersCache
}

// NewBybit создает сессию Bybit
func NewBybit(opts Options) *Bybit {
	b := &Bybit{
		apiKey:     opts.Credentials.APIKey,
		secretKey:  opts.Credentials.Secret,
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		limiter:    opts.Limiter,
		now:        opts.Now,
		cache:      make(models.OrdersCache),
	}
	if b.baseURL == "" {
		b.baseURL = bybitBaseURL
	}
	if b.httpClient == nil {
		b.httpClient = GetGlobalHTTPClient()
	}
	if b.now == nil {
		b.now = time.Now
	}
	for k, v := range opts.OrdersCache {
		b.cache[k] = v
	}
	return b
}

// Exchange возвращает имя биржи
func (b *Bybit) Exchange() string {
	return "bybit"
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет подписанный запрос и возвращает поле result ответа
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var payload, reqURL string
	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		payload = query.Encode()
		reqURL = b.baseURL + endpoint
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		payload = string(body)
		reqURL = b.baseURL + endpoint
	}

	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(b.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{
			Exchange:   "bybit",
			Message:    fmt.Sprintf("http status %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	}

	var envelope struct {
		RetCode int                 `json:"retCode"`
		RetMsg  string              `json:"retMsg"`
		Result  jsoniter.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("bybit: decode response: %w", err)
	}

	if envelope.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange:   "bybit",
			Code:       strconv.Itoa(envelope.RetCode),
			Message:    envelope.RetMsg,
			HTTPStatus: resp.StatusCode,
		}
	}

	return envelope.Result, nil
}

// read выполняет идемпотентный запрос с повтором временных ошибок
func (b *Bybit) read(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	cfg := retry.ReadConfig()
	cfg.RetryIf = func(err error) bool {
		return retry.IsRetryable(Classify("bybit read", err))
	}

	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return b.doRequest(ctx, http.MethodGet, endpoint, params)
	}, cfg)
}

// CreateOrder размещает ордер. orderLinkId = id ордера, поэтому повторная отправка
// того же ордера отклоняется биржей
func (b *Bybit) CreateOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	params := map[string]string{
		"category":    bybitCategory,
		"symbol":      bybitSymbol(order.Asset, order.Currency),
		"side":        bybitSide(order.Direction),
		"qty":         order.Volume.String(),
		"orderLinkId": order.ID,
	}

	market := order.Type == models.OrderTypeMarket || order.Type == models.OrderTypeForceMarket
	if market {
		params["orderType"] = "Market"
		params["marketUnit"] = "baseCoin"
	} else {
		if !order.Price.Valid {
			return nil, errkind.Errorf(errkind.Validation, "createOrder", "limit order %s has no price", order.ID)
		}
		params["orderType"] = "Limit"
		params["price"] = order.Price.Decimal.String()
		params["timeInForce"] = "GTC"
	}

	result, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, err
	}

	now := b.now().UTC()
	updated := order.Clone()
	updated.ExchangeOrderID = models.StringPtr(resp.OrderID)
	updated.ExchangeTimestamp = &now
	updated.LastCheckedAt = &now
	updated.Status = models.OrderStatusOpen
	updated.Error = ""

	delay, priority := bybitLimitCheckDelay, models.PriorityMedium
	if market {
		delay, priority = bybitMarketCheckDelay, models.PriorityHigh
	}

	return &OrderResult{
		Order:   updated,
		NextJob: &models.NextJob{Type: models.JobTypeCheck, Priority: priority, NextJobAt: now.Add(delay)},
	}, nil
}

// CancelOrder отменяет ордер и запрашивает его итоговое состояние
func (b *Bybit) CancelOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   bybitSymbol(order.Asset, order.Currency),
		"orderId":  *order.ExchangeOrderID,
	}

	if _, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params); err != nil {
		var exErr *ExchangeError
		if !errors.As(err, &exErr) || exErr.Code != bybitOrderNotFound {
			return nil, err
		}
		// Ордер уже не активен: итоговое состояние покажет проверка
	}

	res, err := b.CheckOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	if res.Order.Status == models.OrderStatusOpen {
		// Отмена на бирже асинхронна, подтверждаем ее следующей проверкой
		res.NextJob = &models.NextJob{
			Type:      models.JobTypeCheck,
			Priority:  models.PriorityHigh,
			NextJobAt: b.now().UTC().Add(bybitCancelCheckDelay),
		}
	}

	return res, nil
}

// CheckOrder запрашивает актуальное состояние ордера: сначала среди активных, затем в истории
func (b *Bybit) CheckOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   bybitSymbol(order.Asset, order.Currency),
		"orderId":  *order.ExchangeOrderID,
	}

	info, err := b.findOrder(ctx, "/v5/order/realtime", params)
	if err != nil {
		return nil, err
	}
	if info == nil {
		if info, err = b.findOrder(ctx, "/v5/order/history", params); err != nil {
			return nil, err
		}
	}
	if info == nil {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     bybitOrderNotFound,
			Message:  "order " + *order.ExchangeOrderID + " not found",
		}
	}

	now := b.now().UTC()
	updated := order.Clone()
	info.apply(updated)
	updated.LastCheckedAt = &now

	res := &OrderResult{Order: updated}
	if updated.Status == models.OrderStatusOpen {
		delay := bybitLimitCheckDelay
		if order.Type != models.OrderTypeLimit {
			delay = bybitMarketCheckDelay
		}
		res.NextJob = &models.NextJob{Type: models.JobTypeCheck, Priority: models.PriorityMedium, NextJobAt: now.Add(delay)}
	}

	return res, nil
}

// GetBalances получает балансы единого торгового аккаунта
func (b *Bybit) GetBalances(ctx context.Context) (*models.Balances, error) {
	result, err := b.read(ctx, "/v5/account/wallet-balance", map[string]string{"accountType": "UNIFIED"})
	if err != nil {
		return nil, err
	}

	var resp struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
				USDValue      string `json:"usdValue"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, err
	}

	balances := &models.Balances{
		Info:      make(map[string]models.CoinBalance),
		UpdatedAt: b.now().UTC(),
	}
	if len(resp.List) == 0 {
		return balances, nil
	}

	balances.TotalUSD = parseDecimal(resp.List[0].TotalEquity)
	for _, c := range resp.List[0].Coin {
		total := parseDecimal(c.WalletBalance)
		locked := parseDecimal(c.Locked)
		balances.Info[c.Coin] = models.CoinBalance{
			Free:  total.Sub(locked),
			Used:  locked,
			Total: total,
			USD:   parseDecimal(c.USDValue),
		}
	}

	return balances, nil
}

// GetRecentOrders получает последние ордера пары из истории
func (b *Bybit) GetRecentOrders(ctx context.Context, asset, currency string) ([]*models.ExchangeOrder, error) {
	symbol := bybitSymbol(asset, currency)
	result, err := b.read(ctx, "/v5/order/history", map[string]string{
		"category": bybitCategory,
		"symbol":   symbol,
		"limit":    "50",
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		List           []bybitOrder `json:"list"`
		NextPageCursor string       `json:"nextPageCursor"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, err
	}

	orders := make([]*models.ExchangeOrder, 0, len(resp.List))
	for i := range resp.List {
		orders = append(orders, resp.List[i].toExchangeOrder(asset, currency))
	}

	b.cacheMu.Lock()
	b.cache["historyCursor:"+symbol] = resp.NextPageCursor
	b.cacheMu.Unlock()

	return orders, nil
}

// OrdersCache возвращает копию служебного состояния
func (b *Bybit) OrdersCache() models.OrdersCache {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	out := make(models.OrdersCache, len(b.cache))
	for k, v := range b.cache {
		out[k] = v
	}
	return out
}

// Close - HTTP клиент общий, закрывать нечего
func (b *Bybit) Close() error {
	return nil
}

func (b *Bybit) findOrder(ctx context.Context, endpoint string, params map[string]string) (*bybitOrder, error) {
	result, err := b.read(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		List []bybitOrder `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, err
	}

	for i := range resp.List {
		if resp.List[i].OrderID == params["orderId"] {
			return &resp.List[i], nil
		}
	}
	return nil, nil
}

// bybitOrder - ордер в ответах /v5/order/realtime и /v5/order/history
type bybitOrder struct {
	OrderID     string `json:"orderId"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	AvgPrice    string `json:"avgPrice"`
	LeavesQty   string `json:"leavesQty"`
	CumExecQty  string `json:"cumExecQty"`
	CumExecFee  string `json:"cumExecFee"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

func (o *bybitOrder) apply(order *models.Order) {
	order.Status = bybitStatus(o.OrderStatus)
	order.Executed = decimal.NewNullDecimal(parseDecimal(o.CumExecQty))
	order.Remaining = decimal.NewNullDecimal(parseDecimal(o.LeavesQty))
	order.Fee = decimal.NewNullDecimal(parseDecimal(o.CumExecFee))

	if avg := parseDecimal(o.AvgPrice); avg.IsPositive() {
		order.Price = decimal.NewNullDecimal(avg)
	}
	if ts := parseMillis(o.CreatedTime); !ts.IsZero() && order.ExchangeTimestamp == nil {
		order.ExchangeTimestamp = &ts
	}
	if ts := parseMillis(o.UpdatedTime); !ts.IsZero() && order.Executed.Decimal.IsPositive() {
		order.ExchangeLastTrade = &ts
	}
}

func (o *bybitOrder) toExchangeOrder(asset, currency string) *models.ExchangeOrder {
	eo := &models.ExchangeOrder{
		ExchangeOrderID:   o.OrderID,
		Asset:             asset,
		Currency:          currency,
		Direction:         strings.ToLower(o.Side),
		Type:              strings.ToLower(o.OrderType),
		Volume:            parseDecimal(o.Qty),
		Executed:          parseDecimal(o.CumExecQty),
		Remaining:         parseDecimal(o.LeavesQty),
		Status:            bybitStatus(o.OrderStatus),
		ExchangeTimestamp: parseMillis(o.CreatedTime),
	}
	if p := parseDecimal(o.Price); p.IsPositive() {
		eo.Price = decimal.NewNullDecimal(p)
	}
	return eo
}

// bybitStatus переводит статус Bybit в статус ордера
func bybitStatus(s string) string {
	switch s {
	case "New", "PartiallyFilled", "Untriggered", "Created":
		return models.OrderStatusOpen
	case "Filled":
		return models.OrderStatusClosed
	default: // Cancelled, Rejected, PartiallyFilledCanceled, Deactivated
		return models.OrderStatusCanceled
	}
}

func bybitSymbol(asset, currency string) string {
	return strings.ToUpper(asset + currency)
}

func bybitSide(direction string) string {
	if direction == models.DirectionSell {
		return "Sell"
	}
	return "Buy"
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
