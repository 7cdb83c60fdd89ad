// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// wire contains all structures and codes required by the noted protocol.
//
// A noted session has two discrete phases:
//	1. key exchange phase, two plaintext KEY frames negotiating the
//	   session AES key
//	2. session phase, used for all other commands
//
// Every frame on the socket is a ten byte ASCII decimal length, right
// justified and space padded, followed by exactly that many payload bytes.
// The payload is an envelope of the form CODE~param1~param2~...  After the
// key exchange completes every envelope on the wire has outer code ENCODED
// carrying base64 ciphertext and base64 IV; the decrypted inner payload is
// itself a CODE~... envelope.
//
// The tilde separator has no escaping.  Binary and structured parameters
// must therefore be base64 encoded; structured payloads are JSON.
package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// key exchange phase
	CmdKey = "KEY"

	// outer envelope for everything after the key exchange
	CmdEncoded = "ENCODED"

	// session phase, client to server
	CmdLogin           = "LOGIN"
	CmdRegister        = "REGISTER"
	CmdGetSummaries    = "GETSUMMARIES"
	CmdGetSummary      = "GETSUMMARY"
	CmdGetSummaryLink  = "GETSUMMARYLINK"
	CmdSave            = "SAVE"
	CmdUpdateDoc       = "UPDATEDOC"
	CmdShareSummary    = "SHARESUMMARY"
	CmdGetGraph        = "GETGRAPH"
	CmdGetHistoricList = "GETHISTORICLIST"
	CmdLoadHistoric    = "LOADHISTORIC"
	CmdHistoricGraph   = "HISTORICGRAPH"
	CmdAddEvent        = "ADDEVENT"
	CmdGetEvents       = "GETEVENTS"
	CmdDeleteEvent     = "DELETEEVENT"
	CmdSaveEvents      = "SAVE_EVENTS"
	CmdFile            = "FILE"
	CmdChunk           = "CHUNK"
	CmdEnd             = "END"
	CmdGetFileContent  = "GETFILECONTENT"
	CmdSummarize       = "SUMMARIZE"
	CmdExport          = "EXPORT"
	CmdImportGcal      = "IMPORT_GCAL"
	CmdExit            = "EXIT"

	// session phase, server to client
	ReplyLoginSuccess    = "LOGIN_SUCCESS"
	ReplyLoginFail       = "LOGIN_FAIL"
	ReplyRegisterSuccess = "REGISTER_SUCCESS"
	ReplyRegisterFail    = "REGISTER_FAIL"
	ReplyTakeSummaries   = "TAKESUMMARIES"
	ReplyTakeSummary     = "TAKESUMMARY"
	ReplyTakeSummaryLink = "TAKESUMMARYLINK"
	ReplySaveSuccess     = "SAVE_SUCCESS"
	ReplyShareSuccess    = "SHARE_SUCCESS"
	ReplyTakeUpdate      = "TAKEUPDATE"
	ReplyTakeGraph       = "TAKEGRAPH"
	ReplyHistoricList    = "HISTORICLIST"
	ReplyTakeHist        = "TAKEHIST"
	ReplyEventSuccess    = "EVENT_SUCCESS"
	ReplyTakeEvents      = "TAKEEVENTS"
	ReplyDeleteSuccess   = "DELETE_SUCCESS"
	ReplyFileContent     = "FILECONTENT"
	ReplySummary         = "SUMMARY"
	ReplyExported        = "EXPORTED"
	ReplyGcalEvents      = "GCAL_EVENTS"
	ReplyError           = "ERROR"
)

const (
	// FrameHeaderSize is the fixed width of the decimal length prefix.
	FrameHeaderSize = 10

	// MaxFrameSize bounds a single payload.  Anything larger is treated
	// as a protocol violation and fails the read.
	MaxFrameSize = 16 * 1024 * 1024

	separator = "~"
)

var (
	ErrShortFrame   = errors.New("short frame")
	ErrFrameTooBig  = errors.New("frame too large")
	ErrBadHeader    = errors.New("malformed frame header")
	ErrBadEnvelope  = errors.New("malformed envelope")
	ErrBadParameter = errors.New("parameter contains separator")
)

// Msg is a parsed envelope.
type Msg struct {
	Code   string   // discriminator
	Params []string // opaque parameters, binary fields are base64
}

// BuildMessage assembles an envelope payload.  Parameters containing the
// separator are rejected; callers must base64 anything that is not known to
// be tilde free.
func BuildMessage(code string, params ...string) ([]byte, error) {
	if code == "" || strings.Contains(code, separator) {
		return nil, ErrBadEnvelope
	}
	for _, p := range params {
		if strings.Contains(p, separator) {
			return nil, ErrBadParameter
		}
	}
	payload := code
	if len(params) > 0 {
		payload += separator + strings.Join(params, separator)
	} else {
		payload += separator
	}
	return []byte(payload), nil
}

// ParseMessage splits an envelope into its code and parameters.  The code is
// everything before the first separator; the parameters are the remainder
// split on it.
func ParseMessage(payload []byte) (*Msg, error) {
	s := string(payload)
	idx := strings.Index(s, separator)
	if idx <= 0 {
		return nil, ErrBadEnvelope
	}
	rest := s[idx+1:]
	m := &Msg{Code: s[:idx]}
	if rest != "" {
		m.Params = strings.Split(rest, separator)
	}
	return m, nil
}

// Param returns parameter i or the empty string when absent.
func (m *Msg) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// WriteFrame writes the ten digit length header followed by the payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooBig
	}
	hdr := fmt.Sprintf("%*d", FrameHeaderSize, len(payload))
	_, err := w.Write([]byte(hdr))
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length prefixed frame.  maxSize of 0 falls back to
// MaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxFrameSize
	}
	var hdr [FrameHeaderSize]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(hdr[:])))
	if err != nil || n < 0 {
		return nil, ErrBadHeader
	}
	if n > maxSize {
		return nil, ErrFrameTooBig
	}
	payload := make([]byte, n)
	_, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
