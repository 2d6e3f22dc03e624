package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "solid-prediction artifact metadata v1"

// XChaCha seals with XChaCha20-Poly1305. Tokens are base64url(nonce || sealed).
type XChaCha struct {
	key  []byte
	rand io.Reader
}

func NewXChaCha(passphrase string) (*XChaCha, error) {
	secret := sha256.Sum256([]byte(passphrase))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret[:], nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &XChaCha{key: key, rand: rand.Reader}, nil
}

func (x *XChaCha) Name() string { return CipherXChaCha20Poly1305 }

func (x *XChaCha) Fingerprint() string {
	sum := sha256.Sum256(x.key)
	return hex.EncodeToString(sum[:])
}

func (x *XChaCha) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(x.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(x.rand, nonce); err != nil {
		return nil, fmt.Errorf("xchacha nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.URLEncoding.EncodedLen(len(sealed)))
	base64.URLEncoding.Encode(out, sealed)
	return out, nil
}

func (x *XChaCha) Decrypt(token []byte) ([]byte, error) {
	raw := make([]byte, base64.URLEncoding.DecodedLen(len(token)))
	n, err := base64.URLEncoding.Decode(raw, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	raw = raw[:n]
	aead, err := chacha20poly1305.NewX(x.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidToken
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return plain, nil
}
