package service

import (
	"context"

	"golang.org/x/sync/semaphore"

	"connector/pkg/crypto"
)

// DecryptPool расшифровывает ключи с ограничением параллельности,
// чтобы массовая инициализация аккаунтов не занимала все CPU
type DecryptPool struct {
	sem       *semaphore.Weighted
	masterKey []byte
}

// NewDecryptPool создает пул расшифровки
func NewDecryptPool(masterKey []byte, concurrency int) *DecryptPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DecryptPool{
		sem:       semaphore.NewWeighted(int64(concurrency)),
		masterKey: masterKey,
	}
}

// Decrypt ждет свободный слот и расшифровывает blob ключом пользователя
func (p *DecryptPool) Decrypt(ctx context.Context, userID, blob string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	return crypto.DecryptForUser(blob, p.masterKey, userID)
}
