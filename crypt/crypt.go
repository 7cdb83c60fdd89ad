// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// crypt implements the cryptographic primitives of the noted protocol: a
// long lived RSA-2048 server key used for the key exchange, AES-128-CBC with
// PKCS7 padding for everything after it, and the salted and peppered SHA-256
// password hash.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const (
	// AESKeySize is the session key size in bytes.  The client generates
	// the key and sends it RSA encrypted during the key exchange.
	AESKeySize = 16

	rsaBits = 2048
)

var (
	ErrNoAESKey   = errors.New("aes key is not set")
	ErrInvalidKey = errors.New("invalid key")
	ErrBadPadding = errors.New("bad padding")
)

// Engine holds the per-connection cryptographic state.  The RSA key pair is
// shared by all connections; the AES key is set once the peer completes the
// key exchange.
type Engine struct {
	key    *rsa.PrivateKey
	aesKey []byte
}

// New returns an Engine bound to the provided RSA key pair.
func New(key *rsa.PrivateKey) *Engine {
	return &Engine{key: key}
}

// LoadOrCreateRSA reads a PEM encoded RSA private key from filename.  If the
// file does not exist a new 2048 bit key is generated and persisted before
// being returned.
func LoadOrCreateRSA(filename string) (*rsa.PrivateKey, error) {
	blob, err := os.ReadFile(filename)
	if err == nil {
		block, _ := pem.Decode(blob)
		if block == nil {
			return nil, ErrInvalidKey
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse %v: %w", filename, ErrInvalidKey)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, err
	}
	blob = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	err = os.WriteFile(filename, blob, 0600)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// PublicKeyPEM exports the public half of the engine's RSA key pair as PEM.
func (e *Engine) PublicKeyPEM() []byte {
	der, err := x509.MarshalPKIXPublicKey(&e.key.PublicKey)
	if err != nil {
		// the key was generated or parsed by us, this cannot happen
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})
}

// DecryptRSA decrypts ct with the private key using OAEP.
func (e *Engine) DecryptRSA(ct []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, e.key, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return pt, nil
}

// EncryptRSA encrypts pt to a peer public key provided in PEM form using
// OAEP.  The server only needs this for tests and tooling; clients use it
// to wrap their AES key.
func EncryptRSA(pt, peerPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(peerPEM)
	if block == nil {
		return nil, ErrInvalidKey
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ErrInvalidKey
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, pt, nil)
}

// SetAESKey installs the negotiated session key.
func (e *Engine) SetAESKey(key []byte) error {
	if len(key) != AESKeySize {
		return ErrInvalidKey
	}
	e.aesKey = key
	return nil
}

// HasAESKey returns true once the key exchange completed.
func (e *Engine) HasAESKey() bool {
	return e.aesKey != nil
}

// GenerateAESKey returns a fresh random session key.
func GenerateAESKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Seal encrypts plain with AES-128-CBC under a fresh IV and returns the
// ciphertext and the IV.
func (e *Engine) Seal(plain []byte) (ct, iv []byte, err error) {
	if e.aesKey == nil {
		return nil, nil, ErrNoAESKey
	}
	block, err := aes.NewCipher(e.aesKey)
	if err != nil {
		return nil, nil, err
	}
	iv, err = RandomBytes(aes.BlockSize)
	if err != nil {
		return nil, nil, err
	}
	padded := pad(plain, aes.BlockSize)
	ct = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return ct, iv, nil
}

// Open decrypts ct with the session key and the provided IV.  It fails with
// ErrBadPadding when the ciphertext does not decrypt to valid PKCS7.
func (e *Engine) Open(ct, iv []byte) ([]byte, error) {
	if e.aesKey == nil {
		return nil, ErrNoAESKey
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 ||
		len(ct)%aes.BlockSize != 0 {
		return nil, ErrBadPadding
	}
	block, err := aes.NewCipher(e.aesKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return unpad(plain, aes.BlockSize)
}

// HashPassword returns the hex encoded SHA-256 of password || salt || pepper.
func HashPassword(password string, salt, pepper []byte) string {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write(salt)
	h.Write(pepper)
	return hex.EncodeToString(h.Sum(nil))
}

// pad appends PKCS7 padding up to the next multiple of blockSize.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad strips and validates PKCS7 padding.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
