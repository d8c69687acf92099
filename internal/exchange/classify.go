package exchange

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"connector/internal/errkind"
	"connector/internal/models"
)

// Коды Bybit v5, означающие проблему с ключами
var bybitAuthCodes = map[string]bool{
	"10002": true, // timestamp / recv_window (аналог invalid nonce)
	"10003": true, // API key is invalid
	"10004": true, // sign error
	"10005": true, // permission denied
	"10007": true, // user authentication failed
	"10009": true, // IP banned
	"33004": true, // API key expired
}

// Коды Bybit v5, после которых запрос можно повторить
var bybitTransientCodes = map[string]bool{
	"10000": true, // server timeout
	"10006": true, // too many visits
	"10016": true, // server error
	"10018": true, // IP rate limit
	"10429": true, // system level frequency protection
}

// Фрагменты текста ошибок авторизации, общие для бирж
var authMessageMarkers = []string{
	"authentication",
	"invalid api key",
	"api key is invalid",
	"api-key",
	"invalid nonce",
	"nonce",
	"invalid signature",
}

// Classify переводит сырую ошибку биржи в errkind. Уже классифицированные ошибки не меняются
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errkind.KindOf(err) != errkind.Unknown {
		return err
	}

	return errkind.New(classifyKind(err), op, err)
}

func classifyKind(err error) errkind.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errkind.ExchangeTransient
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		switch {
		case bybitAuthCodes[exErr.Code] && exErr.Exchange == "bybit":
			return errkind.ExchangeAuth
		case bybitTransientCodes[exErr.Code] && exErr.Exchange == "bybit":
			return errkind.ExchangeTransient
		case exErr.HTTPStatus == http.StatusUnauthorized || exErr.HTTPStatus == http.StatusForbidden:
			return errkind.ExchangeAuth
		case exErr.HTTPStatus == http.StatusTooManyRequests || exErr.HTTPStatus >= 500:
			return errkind.ExchangeTransient
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range authMessageMarkers {
		if strings.Contains(msg, marker) {
			return errkind.ExchangeAuth
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errkind.ExchangeTransient
	}

	return errkind.Unknown
}

// classified оборачивает сессию так, что все ее ошибки выходят классифицированными
type classified struct {
	conn PrivateConnector
}

// WithClassification возвращает сессию, переводящую ошибки в errkind на границе
func WithClassification(conn PrivateConnector) PrivateConnector {
	if _, ok := conn.(*classified); ok {
		return conn
	}
	return &classified{conn: conn}
}

func (c *classified) Exchange() string { return c.conn.Exchange() }

func (c *classified) CreateOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	res, err := c.conn.CreateOrder(ctx, order)
	return res, Classify("createOrder", err)
}

func (c *classified) CancelOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	res, err := c.conn.CancelOrder(ctx, order)
	return res, Classify("cancelOrder", err)
}

func (c *classified) CheckOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	res, err := c.conn.CheckOrder(ctx, order)
	return res, Classify("checkOrder", err)
}

func (c *classified) GetBalances(ctx context.Context) (*models.Balances, error) {
	res, err := c.conn.GetBalances(ctx)
	return res, Classify("getBalances", err)
}

func (c *classified) GetRecentOrders(ctx context.Context, asset, currency string) ([]*models.ExchangeOrder, error) {
	res, err := c.conn.GetRecentOrders(ctx, asset, currency)
	return res, Classify("getRecentOrders", err)
}

func (c *classified) OrdersCache() models.OrdersCache { return c.conn.OrdersCache() }

func (c *classified) Close() error { return c.conn.Close() }
