package crypt

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/fernet/fernet-go"
)

// Fernet produces Fernet tokens. The 32-byte key is the hex MD5 digest of the
// passphrase, which is what existing clients expect.
type Fernet struct {
	key *fernet.Key
}

func NewFernet(passphrase string) (*Fernet, error) {
	k, err := fernet.DecodeKey(FernetKey(passphrase))
	if err != nil {
		return nil, fmt.Errorf("fernet key: %w", err)
	}
	return &Fernet{key: k}, nil
}

// FernetKey returns the base64url key a Fernet client needs to read tokens.
func FernetKey(passphrase string) string {
	sum := md5.Sum([]byte(passphrase))
	return base64.URLEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))
}

func (f *Fernet) Name() string { return CipherFernet }

func (f *Fernet) Fingerprint() string {
	sum := sha256.Sum256(f.key[:])
	return hex.EncodeToString(sum[:])
}

func (f *Fernet) Encrypt(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, f.key)
	if err != nil {
		return nil, fmt.Errorf("fernet encrypt: %w", err)
	}
	return tok, nil
}

// Decrypt verifies and opens token. Tokens never expire.
func (f *Fernet) Decrypt(token []byte) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(bytes.TrimSpace(token), -1, []*fernet.Key{f.key})
	if msg == nil {
		return nil, ErrInvalidToken
	}
	return msg, nil
}
