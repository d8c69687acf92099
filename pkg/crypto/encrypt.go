package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize - длина ключа AES-256
const KeySize = 32

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	// ErrDecryptionFailed - сигнал "bad decrypt": неверный или ротированный ключ
	ErrDecryptionFailed = errors.New("bad decrypt")
)

// DeriveUserKey выводит ключ пользователя из мастер-ключа (HKDF-SHA256, info = userID).
// Ключи бирж каждого пользователя шифруются своим ключом
func DeriveUserKey(master []byte, userID string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte("user-exchange-keys:"+userID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	return key, nil
}

// EncryptForUser шифрует значение ключом пользователя
func EncryptForUser(plaintext string, master []byte, userID string) (string, error) {
	key, err := DeriveUserKey(master, userID)
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, key)
}

// DecryptForUser расшифровывает значение ключом пользователя
func DecryptForUser(blob string, master []byte, userID string) (string, error) {
	key, err := DeriveUserKey(master, userID)
	if err != nil {
		return "", err
	}
	return Decrypt(blob, key)
}

// Encrypt шифрует plaintext AES-256-GCM и возвращает base64(nonce || ciphertext || tag)
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает результат Encrypt. Ошибка аутентификации GCM -> ErrDecryptionFailed
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GenerateKey генерирует случайный ключ AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// IsBadDecrypt сообщает, что ключ не подошел к шифротексту
func IsBadDecrypt(err error) bool {
	return errors.Is(err, ErrDecryptionFailed) || errors.Is(err, ErrInvalidCiphertext) || errors.Is(err, ErrCiphertextTooShort)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
