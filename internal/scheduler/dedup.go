package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deduper гарантирует не более одной записи очереди на ключ.
// Acquire возвращает false, если ключ уже занят
type Deduper interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryDeduper - дедупликация внутри одного процесса
type MemoryDeduper struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemoryDeduper создает MemoryDeduper
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{keys: make(map[string]struct{})}
}

func (d *MemoryDeduper) Acquire(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[key]; ok {
		return false, nil
	}
	d.keys[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

// Ключ удаляется и продлевается только владельцем токена
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// lease - ключ, занятый этим процессом
type lease struct {
	token string
	stop  chan struct{}
}

// RedisDeduper - дедупликация между процессами воркера через SET NX.
// Значение ключа - токен владельца. Пока ключ занят, TTL продлевается каждые ttl/3,
// так что истекает он только у упавшего или зависшего процесса
type RedisDeduper struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	newToken func() string

	mu     sync.Mutex
	leases map[string]*lease
}

// NewRedisDeduper создает RedisDeduper
func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDeduper{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		newToken: uuid.NewString,
		leases:   make(map[string]*lease),
	}
}

func (d *RedisDeduper) Acquire(ctx context.Context, key string) (bool, error) {
	token := d.newToken()
	ok, err := d.client.SetNX(ctx, d.prefix+key, token, d.ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	l := &lease{token: token, stop: make(chan struct{})}
	d.mu.Lock()
	if old, exists := d.leases[key]; exists {
		// Прежний ключ этого процесса истек и уже занят заново
		close(old.stop)
	}
	d.leases[key] = l
	d.mu.Unlock()

	go d.keepAlive(key, l)
	return true, nil
}

// Release освобождает ключ, если он все еще принадлежит этому процессу
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	d.mu.Lock()
	l, ok := d.leases[key]
	if ok {
		delete(d.leases, key)
		close(l.stop)
	}
	d.mu.Unlock()

	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, d.client, []string{d.prefix + key}, l.token).Err()
}

func (d *RedisDeduper) keepAlive(key string, l *lease) {
	ticker := time.NewTicker(max(d.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			held, err := d.extend(ctx, key, l.token)
			cancel()
			if err == nil && !held {
				return
			}
		}
	}
}

// extend продлевает TTL ключа. false - ключ истек или занят другим владельцем
func (d *RedisDeduper) extend(ctx context.Context, key, token string) (bool, error) {
	n, err := extendScript.Run(ctx, d.client, []string{d.prefix + key}, token, d.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
