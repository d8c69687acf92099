package exchange

import (
	"strings"

	"connector/internal/errkind"
)

// SupportedExchanges - биржи, для которых реализована приватная сессия
var SupportedExchanges = []string{
	"bybit",
}

// Factory создает сессию биржи по имени
type Factory func(name string, opts Options) (PrivateConnector, error)

// NewPrivateConnector - Factory по умолчанию
func NewPrivateConnector(name string, opts Options) (PrivateConnector, error) {
	switch strings.ToLower(name) {
	case "bybit":
		return NewBybit(opts), nil
	default:
		return nil, errkind.Errorf(errkind.Validation, "new connector", "unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
