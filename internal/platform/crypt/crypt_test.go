package crypt

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func TestNewSelectsCipher(t *testing.T) {
	c, err := New("", "pass")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Name() != CipherFernet {
		t.Fatalf("default cipher: want=%q got=%q", CipherFernet, c.Name())
	}
	c, err = New("XChaCha20Poly1305", "pass")
	if err != nil {
		t.Fatalf("New xchacha: %v", err)
	}
	if c.Name() != CipherXChaCha20Poly1305 {
		t.Fatalf("cipher: want=%q got=%q", CipherXChaCha20Poly1305, c.Name())
	}
	if _, err := New("rot13", "pass"); err == nil {
		t.Fatalf("expected unknown cipher error")
	}
	if _, err := New(CipherFernet, ""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Fatalf("empty passphrase: want=%v got=%v", ErrEmptyPassphrase, err)
	}
}

func TestRoundTrip(t *testing.T) {
	payload := []byte(`{"image_file_names": ["a.png"], "length": 512}`)
	for _, name := range []string{CipherFernet, CipherXChaCha20Poly1305} {
		c, err := New(name, "correct horse")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		tok, err := c.Encrypt(payload)
		if err != nil {
			t.Fatalf("%s encrypt: %v", name, err)
		}
		if bytes.Contains(tok, []byte("image_file_names")) {
			t.Fatalf("%s: token leaks plaintext", name)
		}
		got, err := c.Decrypt(tok)
		if err != nil {
			t.Fatalf("%s decrypt: %v", name, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s: want=%q got=%q", name, payload, got)
		}

		other, _ := New(name, "wrong horse")
		if _, err := other.Decrypt(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s wrong key: want=%v got=%v", name, ErrInvalidToken, err)
		}

		tampered := append([]byte{}, tok...)
		tampered[len(tampered)/2] ^= 0x01
		if _, err := c.Decrypt(tampered); err == nil {
			t.Fatalf("%s: tampered token decrypted", name)
		}
	}
}

func TestFernetKey(t *testing.T) {
	// md5("") = d41d8cd98f00b204e9800998ecf8427e
	want := base64.URLEncoding.EncodeToString([]byte("d41d8cd98f00b204e9800998ecf8427e"))
	if got := FernetKey(""); got != want {
		t.Fatalf("FernetKey: want=%q got=%q", want, got)
	}
	if len(FernetKey("anything")) != 44 {
		t.Fatalf("FernetKey length: want=44 got=%d", len(FernetKey("anything")))
	}
}

func TestFernetTokenLayout(t *testing.T) {
	f, err := NewFernet("pass")
	if err != nil {
		t.Fatalf("NewFernet: %v", err)
	}
	before := time.Now().Unix()
	tok, err := f.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	after := time.Now().Unix()

	raw, err := base64.URLEncoding.DecodeString(string(tok))
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	// version | ts | iv | one AES block | hmac
	if len(raw) != 1+8+16+16+32 {
		t.Fatalf("token length: want=%d got=%d", 1+8+16+16+32, len(raw))
	}
	if raw[0] != 0x80 {
		t.Fatalf("version: want=0x80 got=%#x", raw[0])
	}
	if ts := int64(binary.BigEndian.Uint64(raw[1:9])); ts < before || ts > after {
		t.Fatalf("timestamp: want=[%d,%d] got=%d", before, after, ts)
	}
	sum := md5.Sum([]byte("pass"))
	signKey := []byte(hex.EncodeToString(sum[:]))[:16]
	mac := hmac.New(sha256.New, signKey)
	mac.Write(raw[:len(raw)-32])
	if !hmac.Equal(mac.Sum(nil), raw[len(raw)-32:]) {
		t.Fatalf("hmac does not cover the token body")
	}
}

func TestFingerprint(t *testing.T) {
	a, _ := New(CipherFernet, "one")
	b, _ := New(CipherFernet, "one")
	c, _ := New(CipherFernet, "two")
	x, _ := New(CipherXChaCha20Poly1305, "one")
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("same key: want=%s got=%s", a.Fingerprint(), b.Fingerprint())
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("different keys share fingerprint %s", a.Fingerprint())
	}
	if a.Fingerprint() == "" || x.Fingerprint() == "" {
		t.Fatalf("empty fingerprint")
	}
}
