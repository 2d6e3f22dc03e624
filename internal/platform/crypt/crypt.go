package crypt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imran1337/solid-prediction/internal/platform/envutil"
)

const (
	CipherFernet            = "fernet"
	CipherXChaCha20Poly1305 = "xchacha20poly1305"
)

var (
	ErrEmptyPassphrase = errors.New("crypt: empty passphrase")
	ErrInvalidToken    = errors.New("crypt: invalid token")
)

// Cipher seals small payloads into printable tokens. Fingerprint identifies
// the derived key without revealing it.
type Cipher interface {
	Name() string
	Fingerprint() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(token []byte) ([]byte, error)
}

func New(name, passphrase string) (Cipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CipherFernet:
		f, err := NewFernet(passphrase)
		if err != nil {
			return nil, err
		}
		return f, nil
	case CipherXChaCha20Poly1305, "xchacha":
		x, err := NewXChaCha(passphrase)
		if err != nil {
			return nil, err
		}
		return x, nil
	default:
		return nil, fmt.Errorf("crypt: unknown cipher %q", name)
	}
}

// NewFromEnv reads ENCRYPTION_KEY and METADATA_CIPHER.
func NewFromEnv() (Cipher, error) {
	return New(envutil.String("METADATA_CIPHER", CipherFernet), envutil.String("ENCRYPTION_KEY", ""))
}
