// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypt

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return New(key)
}

func TestSealOpen(t *testing.T) {
	e := testEngine(t)

	aesKey, err := GenerateAESKey()
	if err != nil {
		t.Fatal(err)
	}
	err = e.SetAESKey(aesKey)
	if err != nil {
		t.Fatal(err)
	}

	var payload [1024]byte
	_, err = io.ReadFull(rand.Reader, payload[:])
	if err != nil {
		t.Fatal(err)
	}

	ct, iv, err := e.Seal(payload[:])
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(ct, payload[:64]) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	plain, err := e.Open(ct, iv)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, payload[:]) {
		t.Fatalf("corrupted data")
	}
}

func TestSealWithoutKey(t *testing.T) {
	e := testEngine(t)

	_, _, err := e.Seal([]byte("hello"))
	if !errors.Is(err, ErrNoAESKey) {
		t.Fatalf("expected ErrNoAESKey, got %v", err)
	}
	_, err = e.Open([]byte("0123456789abcdef"), []byte("0123456789abcdef"))
	if !errors.Is(err, ErrNoAESKey) {
		t.Fatalf("expected ErrNoAESKey, got %v", err)
	}
}

func TestOpenBadPadding(t *testing.T) {
	e := testEngine(t)

	aesKey, err := GenerateAESKey()
	if err != nil {
		t.Fatal(err)
	}
	err = e.SetAESKey(aesKey)
	if err != nil {
		t.Fatal(err)
	}

	ct, iv, err := e.Seal([]byte("some plaintext"))
	if err != nil {
		t.Fatal(err)
	}

	// flip a bit in the last block to corrupt the padding
	ct[len(ct)-1] ^= 0xff
	_, err = e.Open(ct, iv)
	if !errors.Is(err, ErrBadPadding) {
		t.Fatalf("expected ErrBadPadding, got %v", err)
	}

	// truncated ciphertext
	_, err = e.Open(ct[:7], iv)
	if !errors.Is(err, ErrBadPadding) {
		t.Fatalf("expected ErrBadPadding, got %v", err)
	}
}

func TestRSARoundTrip(t *testing.T) {
	e := testEngine(t)

	secret := []byte("0123456789ABCDEF")
	ct, err := EncryptRSA(secret, e.PublicKeyPEM())
	if err != nil {
		t.Fatal(err)
	}
	pt, err := e.DecryptRSA(ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, secret) {
		t.Fatalf("corrupted data")
	}
}

func TestEncryptRSAInvalidKey(t *testing.T) {
	junk := make([]byte, 2048)
	_, err := EncryptRSA([]byte("data"), junk)
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLoadOrCreateRSA(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "private.pem")

	key1, err := LoadOrCreateRSA(filename)
	if err != nil {
		t.Fatal(err)
	}
	key2, err := LoadOrCreateRSA(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !key1.Equal(key2) {
		t.Fatalf("key was not persisted")
	}
}

func TestHashPassword(t *testing.T) {
	salt := []byte("0123456789abcdef")
	pepper := []byte("PEPPER")

	h1 := HashPassword("secret", salt, pepper)
	h2 := HashPassword("secret", salt, pepper)
	if h1 != h2 {
		t.Fatalf("hash is not deterministic")
	}
	if HashPassword("secret", salt, []byte("other")) == h1 {
		t.Fatalf("pepper is not part of the hash")
	}
	if HashPassword("other", salt, pepper) == h1 {
		t.Fatalf("password is not part of the hash")
	}
	if len(h1) != 64 {
		t.Fatalf("expected hex sha256, got %v chars", len(h1))
	}
}

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 16 {
		t.Fatalf("expected 16 bytes, got %v", len(b))
	}
}
