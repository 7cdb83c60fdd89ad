// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notedco/noted/crypt"
	"github.com/notedco/noted/engine"
	"github.com/notedco/noted/export"
	"github.com/notedco/noted/gcal"
	"github.com/notedco/noted/session"
	"github.com/notedco/noted/store"
	"github.com/notedco/noted/wire"
)

const writerDepth = 32

// sessionContext is the per-connection state above the transport: the
// engine broadcast channel, the bound summary and the staged uploads.
type sessionContext struct {
	id     string // correlation id for the log
	sess   *session.Session
	writer chan engine.Broadcast
	quit   chan struct{}

	boundSID   int64 // summary whose engine this session follows
	subscribed bool
	uploads    map[string]*os.File
}

// handlers is the static dispatch table.  EXIT is handled by the session
// loop itself.
var handlers = map[string]func(*NS, *sessionContext, *wire.Msg) error{
	wire.CmdLogin:           (*NS).handleLogin,
	wire.CmdRegister:        (*NS).handleRegister,
	wire.CmdGetSummaries:    (*NS).handleGetSummaries,
	wire.CmdGetSummary:      (*NS).handleGetSummary,
	wire.CmdGetSummaryLink:  (*NS).handleGetSummaryLink,
	wire.CmdSave:            (*NS).handleSave,
	wire.CmdUpdateDoc:       (*NS).handleUpdateDoc,
	wire.CmdShareSummary:    (*NS).handleShareSummary,
	wire.CmdGetGraph:        (*NS).handleGetGraph,
	wire.CmdGetHistoricList: (*NS).handleGetHistoricList,
	wire.CmdLoadHistoric:    (*NS).handleLoadHistoric,
	wire.CmdHistoricGraph:   (*NS).handleHistoricGraph,
	wire.CmdAddEvent:        (*NS).handleAddEvent,
	wire.CmdGetEvents:       (*NS).handleGetEvents,
	wire.CmdDeleteEvent:     (*NS).handleDeleteEvent,
	wire.CmdSaveEvents:      (*NS).handleSaveEvents,
	wire.CmdFile:            (*NS).handleFile,
	wire.CmdChunk:           (*NS).handleChunk,
	wire.CmdEnd:             (*NS).handleEnd,
	wire.CmdGetFileContent:  (*NS).handleGetFileContent,
	wire.CmdSummarize:       (*NS).handleSummarize,
	wire.CmdExport:          (*NS).handleExport,
	wire.CmdImportGcal:      (*NS).handleImportGcal,
}

// noAuth lists the codes allowed before LOGIN bound a user.
var noAuth = map[string]bool{
	wire.CmdLogin:    true,
	wire.CmdRegister: true,
}

// sessionWriter pumps engine broadcasts onto the wire.  A write failure
// closes the connection, which fails the session read loop.
func (z *NS) sessionWriter(sc *sessionContext) {
	defer func() {
		z.Dbg(idSes, "sessionWriter exit: %v", sc.id)
		sc.sess.Close()
	}()

	for {
		select {
		case <-sc.quit:
			return

		case b := <-sc.writer:
			z.T(idSes, "sessionWriter write %v: %v", sc.id, b.Code)
			err := sc.sess.Send(b.Code, b.Params...)
			if err != nil {
				z.Error(idSes, "sessionWriter write failed %v: %v",
					sc.id, err)
				return
			}
		}
	}
}

// handleSession runs the receive loop of one authenticated transport until
// EXIT, transport failure or server shutdown.
func (z *NS) handleSession(sess *session.Session) error {
	sc := &sessionContext{
		id:      uuid.NewString(),
		sess:    sess,
		writer:  make(chan engine.Broadcast, writerDepth),
		quit:    make(chan struct{}),
		uploads: make(map[string]*os.File),
	}
	z.Dbg(idSes, "session %v: %v", sc.id, sess.RemoteAddr())
	go z.sessionWriter(sc)

	defer func() {
		close(sc.quit)
		z.leaveEngine(sc)
		for name, f := range sc.uploads {
			z.Warn(idSes, "discarding unfinished upload: %v", name)
			f.Close()
		}
	}()

	for {
		m, err := sess.Recv()
		if errors.Is(err, session.ErrTimeout) {
			select {
			case <-z.quit:
				return nil
			default:
			}
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if errors.Is(err, crypt.ErrBadPadding) ||
			errors.Is(err, wire.ErrBadEnvelope) {
			// garbage inside the crypto channel is fatal
			return err
		}
		if err != nil {
			// connection went away
			z.Dbg(idSes, "recv %v: %v", sess.RemoteAddr(), err)
			return nil
		}

		z.T(idSes, "dispatch %v: %v", sess.RemoteAddr(), m.Code)
		exit, err := z.dispatch(sc, m)
		if err != nil {
			return err
		}
		if exit {
			return nil
		}
	}
}

func (z *NS) dispatch(sc *sessionContext, m *wire.Msg) (bool, error) {
	if m.Code == wire.CmdExit {
		return true, nil
	}

	h, ok := handlers[m.Code]
	if !ok {
		z.Warn(idSes, "unhandled code %v: %v", m.Code,
			sc.sess.RemoteAddr())
		return false, sc.sess.Send(wire.ReplyError, "UNHANDLED")
	}
	if !noAuth[m.Code] && sc.sess.UserID() == 0 {
		z.Warn(idSes, "%v before login: %v", m.Code,
			sc.sess.RemoteAddr())
		return false, sc.sess.Send(wire.ReplyError, "NOT LOGGED IN")
	}
	return false, h(z, sc, m)
}

// storeFail logs the underlying failure and keeps the session alive with a
// generic reply.
func (z *NS) storeFail(sc *sessionContext, op string, err error) error {
	z.Error(idSes, "%v: %v", op, err)
	return sc.sess.Send(wire.ReplyError, "STORAGE FAILURE")
}

//
// accounts
//

func (z *NS) handleLogin(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 2 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	username, password := m.Param(0), m.Param(1)

	salt, err := z.store.Salt(username)
	if errors.Is(err, store.ErrNotFound) {
		// burn a hash so unknown users cost the same as bad passwords
		dummy, err := crypt.RandomBytes(16)
		if err != nil {
			z.Warn(idSes, "dummy salt: %v", err)
			dummy = make([]byte, 16)
		}
		crypt.HashPassword(password, dummy, []byte(z.settings.Pepper))
		return sc.sess.Send(wire.ReplyLoginFail)
	}
	if err != nil {
		return z.storeFail(sc, "Salt", err)
	}

	hash := crypt.HashPassword(password, salt, []byte(z.settings.Pepper))
	u, err := z.store.Authenticate(username, hash)
	if errors.Is(err, store.ErrAuthFailed) {
		z.Info(idSes, "failed login for %v: %v", username,
			sc.sess.RemoteAddr())
		return sc.sess.Send(wire.ReplyLoginFail)
	}
	if err != nil {
		return z.storeFail(sc, "Authenticate", err)
	}

	sc.sess.BindUser(u.ID)
	z.Info(idSes, "user %v logged in: %v", username, sc.sess.RemoteAddr())

	window := time.Duration(z.settings.EventWindowDays) * 24 * time.Hour
	events, err := z.store.UpcomingEvents(u.ID, window)
	if err != nil {
		z.Error(idSes, "UpcomingEvents: %v", err)
		events = nil
	}
	params := make([]string, 0, len(events))
	for i := range events {
		p, err := wire.EncodePayload(&events[i])
		if err != nil {
			return err
		}
		params = append(params, p)
	}
	return sc.sess.Send(wire.ReplyLoginSuccess, params...)
}

func (z *NS) handleRegister(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 2 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	username, password := m.Param(0), m.Param(1)
	if username == "" || password == "" {
		return sc.sess.Send(wire.ReplyRegisterFail)
	}

	salt, err := crypt.RandomBytes(16)
	if err != nil {
		return err
	}
	hash := crypt.HashPassword(password, salt, []byte(z.settings.Pepper))
	_, err = z.store.InsertUser(username, hash, salt)
	if errors.Is(err, store.ErrExists) {
		return sc.sess.Send(wire.ReplyRegisterFail)
	}
	if err != nil {
		return z.storeFail(sc, "InsertUser", err)
	}
	z.Info(idSes, "registered user %v", username)
	return sc.sess.Send(wire.ReplyRegisterSuccess)
}

//
// summaries
//

func (z *NS) handleGetSummaries(sc *sessionContext, m *wire.Msg) error {
	summaries, err := z.store.AllUserCanAccess(sc.sess.UserID())
	if err != nil {
		return z.storeFail(sc, "AllUserCanAccess", err)
	}
	params := make([]string, 0, len(summaries))
	for i := range summaries {
		p, err := wire.EncodePayload(&summaries[i])
		if err != nil {
			return err
		}
		params = append(params, p)
	}
	return sc.sess.Send(wire.ReplyTakeSummaries, params...)
}

func (z *NS) handleGetSummary(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	sid, err := strconv.ParseInt(m.Param(0), 10, 64)
	if err != nil {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}

	can, err := z.store.CanAccess(sid, sc.sess.UserID())
	if err != nil {
		return z.storeFail(sc, "CanAccess", err)
	}
	if !can {
		return sc.sess.Send(wire.ReplyError, "PERMISSION DENIED")
	}

	sm, err := z.store.Summary(sid)
	if errors.Is(err, store.ErrNotFound) {
		return sc.sess.Send(wire.ReplyError, "SUMMARY NOT FOUND")
	}
	if err != nil {
		return z.storeFail(sc, "Summary", err)
	}
	sm.Content, err = z.store.SummaryContent(sid)
	if err != nil {
		return z.storeFail(sc, "SummaryContent", err)
	}

	// one live document per session: leave the old engine first
	z.leaveEngine(sc)
	e, err := z.engineFor(sid)
	if err != nil {
		return z.storeFail(sc, "engineFor", err)
	}
	e.Subscribe(sc.sess.UserID(), sc.writer)
	sc.boundSID = sid
	sc.subscribed = true

	payload, err := wire.EncodePayload(sm)
	if err != nil {
		return err
	}
	return sc.sess.Send(wire.ReplyTakeSummary, payload)
}

func (z *NS) handleGetSummaryLink(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	sm, err := z.store.SummaryByLink(m.Param(0))
	if errors.Is(err, store.ErrNotFound) {
		return sc.sess.Send(wire.ReplyError, "SUMMARY NOT FOUND")
	}
	if err != nil {
		return z.storeFail(sc, "SummaryByLink", err)
	}
	return sc.sess.Send(wire.ReplyTakeSummaryLink,
		strconv.FormatInt(sm.ID, 10))
}

func (z *NS) handleSave(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) < 3 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	// content may contain the separator; everything between the title
	// and the trailing font belongs to it
	title := m.Param(0)
	font := m.Param(len(m.Params) - 1)
	content := strings.Join(m.Params[1:len(m.Params)-1], "~")

	if title == "" {
		// update the currently bound summary
		if sc.boundSID == 0 {
			return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
		}
		err := z.store.SaveSummary(sc.boundSID, content)
		if err != nil {
			return z.storeFail(sc, "SaveSummary", err)
		}
		err = z.store.UpdateSummaryMeta(sc.boundSID, font)
		if err != nil {
			return z.storeFail(sc, "UpdateSummaryMeta", err)
		}
		err = z.store.SaveGraph(sc.boundSID)
		if err != nil {
			z.Error(idSes, "SaveGraph: %v", err)
		}
		return sc.sess.Send(wire.ReplySaveSuccess)
	}

	sid, err := z.store.InsertSummary(title, content, sc.sess.UserID(), font)
	if errors.Is(err, store.ErrExists) {
		return sc.sess.Send(wire.ReplyError, "TITLE TAKEN")
	}
	if err != nil {
		return z.storeFail(sc, "InsertSummary", err)
	}
	err = z.store.SaveGraph(sid)
	if err != nil {
		z.Error(idSes, "SaveGraph: %v", err)
	}
	return sc.sess.Send(wire.ReplySaveSuccess)
}

func (z *NS) handleUpdateDoc(sc *sessionContext, m *wire.Msg) error {
	if !sc.subscribed {
		return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
	}
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}

	batch, err := wire.ParseChangeBatch(m.Param(0))
	if err != nil {
		// malformed batches are dropped, the session survives
		z.Warn(idSes, "dropped change batch from %v: %v",
			sc.sess.RemoteAddr(), err)
		return nil
	}
	batch.UserID = sc.sess.UserID()

	e, err := z.engineFor(sc.boundSID)
	if err != nil {
		return z.storeFail(sc, "engineFor", err)
	}
	err = e.Enqueue(*batch)
	if errors.Is(err, engine.ErrReadOnly) {
		return sc.sess.Send(wire.ReplyError, "DOCUMENT LOCKED")
	}
	if err != nil {
		z.Warn(idSes, "enqueue: %v", err)
	}
	return nil
}

func (z *NS) handleShareSummary(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) < 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	if sc.boundSID == 0 {
		return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
	}
	kind := wire.PermEdit
	if len(m.Params) > 1 {
		kind = m.Param(1)
	}

	target, err := z.store.UserByName(m.Param(0))
	if errors.Is(err, store.ErrNotFound) {
		return sc.sess.Send(wire.ReplyError, "USER NOT FOUND")
	}
	if err != nil {
		return z.storeFail(sc, "UserByName", err)
	}

	err = z.store.ShareSummary(sc.boundSID, sc.sess.UserID(), target.ID, kind)
	switch {
	case errors.Is(err, store.ErrPermission):
		return sc.sess.Send(wire.ReplyError, "PERMISSION DENIED")
	case errors.Is(err, store.ErrBadInput):
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	case err != nil:
		return z.storeFail(sc, "ShareSummary", err)
	}
	return sc.sess.Send(wire.ReplyShareSuccess)
}

//
// graphs and history
//

func (z *NS) handleGetGraph(sc *sessionContext, m *wire.Msg) error {
	if sc.boundSID == 0 {
		return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
	}
	nodes, err := z.store.Graph(sc.boundSID)
	if err != nil {
		return z.storeFail(sc, "Graph", err)
	}
	err = z.store.SaveGraph(sc.boundSID)
	if err != nil {
		z.Error(idSes, "SaveGraph: %v", err)
	}
	payload, err := wire.EncodePayload(nodes)
	if err != nil {
		return err
	}
	return sc.sess.Send(wire.ReplyTakeGraph, payload)
}

func (z *NS) handleGetHistoricList(sc *sessionContext, m *wire.Msg) error {
	if sc.boundSID == 0 {
		return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
	}
	stamps, err := z.store.HistoricList(sc.boundSID)
	if err != nil {
		return z.storeFail(sc, "HistoricList", err)
	}
	return sc.sess.Send(wire.ReplyHistoricList, stamps...)
}

func (z *NS) handleLoadHistoric(sc *sessionContext, m *wire.Msg) error {
	if sc.boundSID == 0 {
		return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
	}
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	content, err := z.store.LoadHistoric(sc.boundSID, m.Param(0))
	switch {
	case errors.Is(err, store.ErrBadInput):
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	case errors.Is(err, store.ErrNotFound):
		return sc.sess.Send(wire.ReplyError, "SNAPSHOT NOT FOUND")
	case err != nil:
		return z.storeFail(sc, "LoadHistoric", err)
	}

	// a historic view is not live; stop following the engine
	z.leaveEngine(sc)

	return sc.sess.Send(wire.ReplyTakeHist,
		base64.StdEncoding.EncodeToString([]byte(content)))
}

func (z *NS) handleHistoricGraph(sc *sessionContext, m *wire.Msg) error {
	if sc.boundSID == 0 {
		return sc.sess.Send(wire.ReplyError, "NO DOCUMENT")
	}
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	nodes, err := z.store.HistoricGraph(sc.boundSID, m.Param(0))
	switch {
	case errors.Is(err, store.ErrBadInput):
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	case errors.Is(err, store.ErrNotFound):
		return sc.sess.Send(wire.ReplyError, "SNAPSHOT NOT FOUND")
	case err != nil:
		return z.storeFail(sc, "HistoricGraph", err)
	}
	payload, err := wire.EncodePayload(nodes)
	if err != nil {
		return err
	}
	return sc.sess.Send(wire.ReplyTakeGraph, payload)
}

//
// events
//

// eventTimeFormats are accepted ADDEVENT datetime shapes, most specific
// first.
var eventTimeFormats = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

func parseEventTime(s string) (time.Time, error) {
	var err error
	for _, format := range eventTimeFormats {
		var t time.Time
		t, err = time.Parse(format, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (z *NS) handleAddEvent(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 2 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	date, err := parseEventTime(m.Param(1))
	if err != nil {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}

	uid := sc.sess.UserID()
	eid, err := z.store.InsertEvent(uid, m.Param(0), date)
	if err != nil {
		return z.storeFail(sc, "InsertEvent", err)
	}
	payload, err := wire.EncodePayload(&wire.Event{
		ID:        eid,
		UserID:    uid,
		Title:     m.Param(0),
		EventDate: date,
	})
	if err != nil {
		return err
	}
	return sc.sess.Send(wire.ReplyEventSuccess, payload)
}

func (z *NS) handleGetEvents(sc *sessionContext, m *wire.Msg) error {
	events, err := z.store.Events(sc.sess.UserID())
	if err != nil {
		return z.storeFail(sc, "Events", err)
	}
	params := make([]string, 0, len(events))
	for i := range events {
		p, err := wire.EncodePayload(&events[i])
		if err != nil {
			return err
		}
		params = append(params, p)
	}
	return sc.sess.Send(wire.ReplyTakeEvents, params...)
}

func (z *NS) handleDeleteEvent(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	eid, err := strconv.ParseInt(m.Param(0), 10, 64)
	if err != nil {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	err = z.store.DeleteEvent(sc.sess.UserID(), eid)
	if errors.Is(err, store.ErrNotFound) {
		return sc.sess.Send(wire.ReplyError, "EVENT NOT FOUND")
	}
	if err != nil {
		return z.storeFail(sc, "DeleteEvent", err)
	}
	return sc.sess.Send(wire.ReplyDeleteSuccess, m.Param(0))
}

func (z *NS) handleSaveEvents(sc *sessionContext, m *wire.Msg) error {
	uid := sc.sess.UserID()
	for _, p := range m.Params {
		var ev wire.Event
		err := wire.DecodePayload(p, &ev)
		if err != nil {
			return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
		}
		_, err = z.store.InsertEvent(uid, ev.Title, ev.EventDate)
		if err != nil {
			return z.storeFail(sc, "InsertEvent", err)
		}
	}
	return sc.sess.Send(wire.ReplyEventSuccess)
}

//
// uploads, ocr, export
//

// safeUploadName rejects anything that could escape the user's tmp
// directory.
func safeUploadName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return !strings.Contains(name, "..")
}

func (z *NS) tmpDir(uid int64) string {
	return filepath.Join(z.settings.DataDir, strconv.FormatInt(uid, 10),
		"tmp")
}

func (z *NS) handleFile(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 1 || !safeUploadName(m.Param(0)) {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	name := m.Param(0)
	if _, ok := sc.uploads[name]; ok {
		return sc.sess.Send(wire.ReplyError, "FILE ALREADY EXISTS")
	}

	dir := z.tmpDir(sc.sess.UserID())
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return z.storeFail(sc, "MkdirAll", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name),
		os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if os.IsExist(err) {
		return sc.sess.Send(wire.ReplyError, "FILE ALREADY EXISTS")
	}
	if err != nil {
		return z.storeFail(sc, "OpenFile", err)
	}
	sc.uploads[name] = f
	z.Dbg(idSes, "upload started: %v", name)
	return nil
}

func (z *NS) handleChunk(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 2 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	f, ok := sc.uploads[m.Param(0)]
	if !ok {
		return sc.sess.Send(wire.ReplyError, "NO FILE OPENED")
	}
	blob, err := base64.StdEncoding.DecodeString(m.Param(1))
	if err != nil {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	_, err = f.Write(blob)
	if err != nil {
		return z.storeFail(sc, "Write", err)
	}
	return nil
}

func (z *NS) handleEnd(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	f, ok := sc.uploads[m.Param(0)]
	if !ok {
		return sc.sess.Send(wire.ReplyError, "NO FILE OPENED")
	}
	delete(sc.uploads, m.Param(0))
	err := f.Close()
	if err != nil {
		return z.storeFail(sc, "Close", err)
	}
	z.Dbg(idSes, "upload finished: %v", m.Param(0))
	return nil
}

func (z *NS) handleGetFileContent(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) != 1 || !safeUploadName(m.Param(0)) {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	path := filepath.Join(z.tmpDir(sc.sess.UserID()), m.Param(0))
	text, err := z.ocr(path)
	if err != nil {
		z.Error(idSes, "ocr %v: %v", path, err)
		return sc.sess.Send(wire.ReplyError, "OCR FAILED")
	}
	return sc.sess.Send(wire.ReplyFileContent,
		base64.StdEncoding.EncodeToString([]byte(text)))
}

func (z *NS) handleSummarize(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) < 1 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	paragraph := strings.Join(m.Params, "~")
	text, err := z.summarize(paragraph)
	if err != nil {
		z.Error(idSes, "summarize: %v", err)
		return sc.sess.Send(wire.ReplyError, "SUMMARIZE FAILED")
	}
	return sc.sess.Send(wire.ReplySummary,
		base64.StdEncoding.EncodeToString([]byte(text)))
}

func (z *NS) handleExport(sc *sessionContext, m *wire.Msg) error {
	if len(m.Params) < 2 {
		return sc.sess.Send(wire.ReplyError, "BAD REQUEST")
	}
	ext := m.Param(len(m.Params) - 1)
	content := strings.Join(m.Params[:len(m.Params)-1], "~")

	blob, err := export.Render(ext, "summary", content)
	if errors.Is(err, export.ErrInvalidFormat) {
		return sc.sess.Send(wire.ReplyError, "INVALID FORMAT")
	}
	if err != nil {
		return z.storeFail(sc, "Render", err)
	}
	return sc.sess.Send(wire.ReplyExported,
		base64.StdEncoding.EncodeToString(blob))
}

func (z *NS) handleImportGcal(sc *sessionContext, m *wire.Msg) error {
	if z.gcal == nil {
		return sc.sess.Send(wire.ReplyError, "GCAL NOT CONFIGURED")
	}
	window := time.Duration(z.settings.EventWindowDays) * 24 * time.Hour
	events, err := z.gcal.UpcomingEvents(z.ctx, window)
	if err != nil {
		if errors.Is(err, gcal.ErrNotConfigured) {
			return sc.sess.Send(wire.ReplyError, "GCAL NOT CONFIGURED")
		}
		z.Error(idSes, "gcal: %v", err)
		return sc.sess.Send(wire.ReplyError, "GCAL FAILED")
	}
	payload, err := wire.EncodePayload(events)
	if err != nil {
		return err
	}
	return sc.sess.Send(wire.ReplyGcalEvents, payload)
}
