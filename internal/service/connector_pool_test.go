package service

import (
	"context"
	"errors"
	"testing"

	"connector/internal/errkind"
	"connector/internal/models"
	"connector/pkg/crypto"
)

func poolAccount() *models.UserExchangeAccount {
	return &models.UserExchangeAccount{
		ID:          "acc1",
		UserID:      "user1",
		Exchange:    "bybit",
		APIKey:      "k",
		Secret:      "s",
		Status:      models.AccountStatusEnabled,
		OrdersCache: models.OrdersCache{"cursor": "c1"},
	}
}

func newTestPool(dec Decryptor, accounts *MockAccountRepository, pub *MockPublisher) (*ConnectorPool, *mockFactory) {
	f := &mockFactory{}
	return NewConnectorPool(f.New, dec, accounts, pub, PoolConfig{Rate: 10, Burst: 10}, nil), f
}

func TestConnectorPool_GetCachesSession(t *testing.T) {
	dec := &MockDecryptor{}
	pool, f := newTestPool(dec, NewMockAccountRepository(poolAccount()), &MockPublisher{})

	c1, err := pool.Get(context.Background(), poolAccount())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	c2, err := pool.Get(context.Background(), poolAccount())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if c1 != c2 {
		t.Error("second Get must return cached session")
	}
	if len(f.created) != 1 {
		t.Errorf("created = %d, want 1", len(f.created))
	}
	// Пароль пустой - расшифровываются только ключ и секрет
	if dec.calls != 2 {
		t.Errorf("decrypt calls = %d, want 2", dec.calls)
	}

	mc := f.created[0]
	if mc.creds.APIKey != "plain:k" || mc.creds.Secret != "plain:s" {
		t.Errorf("credentials = %+v", mc.creds)
	}
	if mc.cache["cursor"] != "c1" {
		t.Error("orders cache must be restored from account")
	}
	if c1.OrdersCache()["cursor"] != "c1" {
		t.Error("classified wrapper must delegate OrdersCache")
	}
}

func TestConnectorPool_Evict(t *testing.T) {
	pool, f := newTestPool(&MockDecryptor{}, NewMockAccountRepository(poolAccount()), &MockPublisher{})

	if _, err := pool.Get(context.Background(), poolAccount()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	pool.Evict("acc1")

	if pool.Len() != 0 {
		t.Errorf("Len() = %d, want 0", pool.Len())
	}
	if !f.created[0].closed {
		t.Error("evicted session must be closed")
	}

	// Повторный Evict безопасен
	pool.Evict("acc1")

	if _, err := pool.Get(context.Background(), poolAccount()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(f.created) != 2 {
		t.Errorf("session must be recreated after evict, created = %d", len(f.created))
	}
}

func TestConnectorPool_BadDecryptDisablesAccount(t *testing.T) {
	accounts := NewMockAccountRepository(poolAccount())
	pub := &MockPublisher{}
	pool, f := newTestPool(&MockDecryptor{err: crypto.ErrDecryptionFailed}, accounts, pub)

	_, err := pool.Get(context.Background(), poolAccount())
	if !errkind.Is(err, errkind.Decrypt) {
		t.Fatalf("expected decrypt error, got %v", err)
	}

	status, msg := accounts.status("acc1")
	if status != models.AccountStatusDisabled {
		t.Errorf("status = %s, want disabled", status)
	}
	if msg == "" {
		t.Error("account error must be recorded")
	}

	if len(pub.events) != 1 || pub.events[0].Type != models.EventUserExAccError {
		t.Fatalf("expected one account error event, got %+v", pub.events)
	}
	if pub.events[0].Key != "acc1" {
		t.Errorf("event key = %s", pub.events[0].Key)
	}
	if len(f.created) != 0 {
		t.Error("session must not be created")
	}
}

func TestConnectorPool_OtherDecryptErrorPropagates(t *testing.T) {
	accounts := NewMockAccountRepository(poolAccount())
	pub := &MockPublisher{}
	boom := errors.New("boom")
	pool, _ := newTestPool(&MockDecryptor{err: boom}, accounts, pub)

	_, err := pool.Get(context.Background(), poolAccount())
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if status, _ := accounts.status("acc1"); status != models.AccountStatusEnabled {
		t.Errorf("status = %s, want enabled", status)
	}
	if len(pub.events) != 0 {
		t.Error("no event expected")
	}
}

func TestConnectorPool_FactoryError(t *testing.T) {
	pool, _ := newTestPool(&MockDecryptor{}, NewMockAccountRepository(poolAccount()), &MockPublisher{})

	acc := poolAccount()
	acc.Exchange = "kraken"
	if _, err := pool.Get(context.Background(), acc); err == nil {
		t.Error("expected error for unsupported exchange")
	}
	if pool.Len() != 0 {
		t.Error("failed session must not be cached")
	}
}

func TestDecryptPool(t *testing.T) {
	master, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	blob, err := crypto.EncryptForUser("api-secret", master, "user1")
	if err != nil {
		t.Fatalf("EncryptForUser() error = %v", err)
	}

	pool := NewDecryptPool(master, 2)

	plain, err := pool.Decrypt(context.Background(), "user1", blob)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "api-secret" {
		t.Errorf("plain = %s", plain)
	}

	// Чужой пользователь - другой ключ
	if _, err := pool.Decrypt(context.Background(), "user2", blob); !crypto.IsBadDecrypt(err) {
		t.Errorf("expected bad decrypt, got %v", err)
	}
}

func TestDecryptPool_ContextCanceled(t *testing.T) {
	pool := NewDecryptPool([]byte("k"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Decrypt(ctx, "u", "blob"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
