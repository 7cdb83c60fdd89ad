// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// session implements the encrypted transport of the noted protocol.  A
// Session owns one net.Conn and its cryptographic context.  The server side
// calls KeyExchange once per connection; afterwards Send and Recv move
// ENCODED envelopes whose inner payloads are the business messages.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/notedco/noted/crypt"
	"github.com/notedco/noted/wire"
)

var (
	ErrKeyExchange = errors.New("key exchange failed")
	ErrNotEncoded  = errors.New("plaintext frame after key exchange")
	ErrTimeout     = errors.New("read timeout")
	ErrClosed      = errors.New("session closed")
)

// PollInterval bounds a single blocking read so the receive loop can check
// for shutdown and let broadcast deliveries through.
const PollInterval = 500 * time.Millisecond

// Session is the per-connection encrypted transport.
type Session struct {
	conn     net.Conn
	crypt    *crypt.Engine
	maxFrame int

	// mtx serializes writes; the receive path is owned by a single
	// goroutine and needs no lock.  Holders must never call into
	// another Session synchronously.
	mtx sync.Mutex

	userMtx sync.Mutex
	userID  int64 // 0 until LOGIN succeeds
}

// New wraps an accepted connection.  maxFrame of 0 uses the wire default.
func New(conn net.Conn, ce *crypt.Engine, maxFrame int) *Session {
	return &Session{
		conn:     conn,
		crypt:    ce,
		maxFrame: maxFrame,
	}
}

// KeyExchange performs the server side of the handshake:
//	1. S->C plaintext KEY~<base64 PEM RSA public key>
//	2. C->S plaintext KEY~<base64 RSA-OAEP(base64 AES key)>
// The decrypted AES key is installed on the session's crypto engine.
func (s *Session) KeyExchange() error {
	pub := base64.StdEncoding.EncodeToString(s.crypt.PublicKeyPEM())
	payload, err := wire.BuildMessage(wire.CmdKey, pub)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	err = wire.WriteFrame(s.conn, payload)
	s.mtx.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}

	frame, err := wire.ReadFrame(s.conn, s.maxFrame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	m, err := wire.ParseMessage(frame)
	if err != nil || m.Code != wire.CmdKey || len(m.Params) != 1 {
		return ErrKeyExchange
	}
	ct, err := base64.StdEncoding.DecodeString(m.Param(0))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	wrapped, err := s.crypt.DecryptRSA(ct)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	aesKey, err := base64.StdEncoding.DecodeString(string(wrapped))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	err = s.crypt.SetAESKey(aesKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	return nil
}

// Send seals an inner envelope and writes it as an ENCODED frame.  It is
// safe to call from any goroutine.
func (s *Session) Send(code string, params ...string) error {
	inner, err := wire.BuildMessage(code, params...)
	if err != nil {
		return err
	}
	ct, iv, err := s.crypt.Seal(inner)
	if err != nil {
		return err
	}
	outer, err := wire.BuildMessage(wire.CmdEncoded,
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(iv))
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	return wire.WriteFrame(s.conn, outer)
}

// Recv reads and decrypts one inner message.  It returns ErrTimeout when the
// poll deadline elapsed without a frame; callers loop on that to interleave
// shutdown checks.
func (s *Session) Recv() (*wire.Msg, error) {
	err := s.conn.SetReadDeadline(time.Now().Add(PollInterval))
	if err != nil {
		return nil, err
	}
	frame, err := wire.ReadFrame(s.conn, s.maxFrame)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}

	outer, err := wire.ParseMessage(frame)
	if err != nil {
		return nil, err
	}
	if outer.Code != wire.CmdEncoded || len(outer.Params) != 2 {
		return nil, ErrNotEncoded
	}
	ct, err := base64.StdEncoding.DecodeString(outer.Param(0))
	if err != nil {
		return nil, err
	}
	iv, err := base64.StdEncoding.DecodeString(outer.Param(1))
	if err != nil {
		return nil, err
	}
	inner, err := s.crypt.Open(ct, iv)
	if err != nil {
		return nil, err
	}
	return wire.ParseMessage(inner)
}

// BindUser associates an authenticated user with the session.
func (s *Session) BindUser(id int64) {
	s.userMtx.Lock()
	s.userID = id
	s.userMtx.Unlock()
}

// UserID returns the bound user id, 0 when not logged in.
func (s *Session) UserID() int64 {
	s.userMtx.Lock()
	defer s.userMtx.Unlock()
	return s.userID
}

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close tears down the underlying connection.  Safe to call more than once.
func (s *Session) Close() error {
	return s.conn.Close()
}
