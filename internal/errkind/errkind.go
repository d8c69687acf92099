// Package errkind содержит типизированную классификацию ошибок воркера.
// Сырые ошибки бирж, БД и расшифровки переводятся в Kind на границе компонента,
// дальше по коду решения принимаются только по Kind.
package errkind

import (
	"errors"
	"fmt"
)

// Kind - класс ошибки
type Kind int

const (
	// Unknown - ошибка не классифицирована, обрабатывается как ошибка ордера
	Unknown Kind = iota
	// Validation - некорректное задание или ордер
	Validation
	// ExchangeTransient - сеть, rate limit, 5xx. Фиксируется на ордере, повтор следующим заданием
	ExchangeTransient
	// ExchangeAuth - ключи недействительны или отозваны
	ExchangeAuth
	// Persistence - не удалось записать в БД
	Persistence
	// Decrypt - не удалось расшифровать ключи
	Decrypt
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case ExchangeTransient:
		return "exchange_transient"
	case ExchangeAuth:
		return "exchange_auth"
	case Persistence:
		return "persistence"
	case Decrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// Error - ошибка с классом и операцией
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable используется pkg/retry: повторять имеет смысл только временные ошибки биржи
func (e *Error) Retryable() bool {
	return e.Kind == ExchangeTransient
}

// New оборачивает err в классифицированную ошибку. Уже классифицированная ошибка не переоборачивается
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf создает классифицированную ошибку из форматной строки
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf возвращает класс ошибки или Unknown
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Unknown
}

// Is проверяет класс ошибки
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAccountLevel - ошибки, после которых аккаунт переводится в invalid и обработка прекращается
func IsAccountLevel(err error) bool {
	switch KindOf(err) {
	case ExchangeAuth, Persistence:
		return true
	}
	return false
}
