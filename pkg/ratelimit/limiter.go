package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - token bucket: ведро емкостью burst пополняется со скоростью rate токенов/сек,
// каждый запрос к бирже забирает один токен
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создает лимитер. rate <= 0 -> 10 req/sec, burst <= 0 -> 2*rate
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill вызывается под mu
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен без ожидания
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// MultiLimiter хранит лимитеры по ключу (например, аккаунт + категория запросов).
// Лимитеры живут дольше сессий бирж: лимиты биржи считаются на аккаунт, а не на соединение
type MultiLimiter struct {
	rate     float64
	burst    float64
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewMultiLimiter создает набор лимитеров с общими параметрами
func NewMultiLimiter(rate, burst float64) *MultiLimiter {
	return &MultiLimiter{
		rate:     rate,
		burst:    burst,
		limiters: make(map[string]*RateLimiter),
	}
}

// Get возвращает лимитер для ключа, создавая его при первом обращении
func (ml *MultiLimiter) Get(key string) *RateLimiter {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	l, ok := ml.limiters[key]
	if !ok {
		l = NewRateLimiter(ml.rate, ml.burst)
		ml.limiters[key] = l
	}
	return l
}

// Len - количество созданных лимитеров
func (ml *MultiLimiter) Len() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.limiters)
}
