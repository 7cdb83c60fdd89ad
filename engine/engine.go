// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// engine implements the per-document collaboration engine.  One Engine owns
// one authoritative text document.  Handler goroutines post change batches
// into a pending queue and return; a single worker goroutine drains the
// queue, merges concurrent edits with operational transformation, adjusts
// co-editor cursors and broadcasts the resulting snapshot to every
// subscriber.
package engine

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/notedco/noted/wire"
)

const (
	// MaxHistory bounds the ring of applied changes kept for transforms.
	MaxHistory = 100

	// recentChanges is how many applied changes ride along with every
	// broadcast.
	recentChanges = 5

	// sendFailLimit is how many consecutive undeliverable broadcasts a
	// subscriber may accumulate before it is dropped.
	sendFailLimit = 3

	defaultPersistInterval = 5 * time.Second
)

var (
	ErrReadOnly = errors.New("document is locked")
	ErrStopped  = errors.New("engine stopped")
)

// Broadcast is one outbound delivery for a subscriber's session writer.
type Broadcast struct {
	Code   string
	Params []string
}

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	SaveSummary(sid int64, content string) error
	SummaryContent(sid int64) (string, error)
}

// Config carries the knobs for a new Engine.
type Config struct {
	SID     int64
	Content string
	Store   Store

	// Logf receives internal diagnostics (clamps, dropped batches,
	// restarts).  May be nil.
	Logf func(format string, args ...interface{})

	PersistInterval time.Duration
}

// Engine is the per-summary merge worker.
type Engine struct {
	sid             int64
	store           Store
	logf            func(string, ...interface{})
	persistInterval time.Duration

	// mtx protects pending, joined, subscribers, cursors, selections,
	// clientOwner, sendFails, needsUpdate and readOnly.  content and
	// history are touched only by the worker goroutine.
	mtx         sync.Mutex
	pending     []wire.ChangeBatch
	joined      []int64
	subscribers map[int64]chan<- Broadcast
	cursors     map[string]int
	selections  map[string][2]int
	clientOwner map[string]int64
	sendFails   map[int64]int
	needsUpdate map[int64]bool
	readOnly    bool

	content   string
	history   []wire.Change
	dirty     bool
	restarted bool

	work chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates an Engine seeded with cfg.Content and starts its worker.
func New(cfg Config) *Engine {
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	interval := cfg.PersistInterval
	if interval <= 0 {
		interval = defaultPersistInterval
	}
	e := &Engine{
		sid:             cfg.SID,
		store:           cfg.Store,
		logf:            logf,
		persistInterval: interval,
		subscribers:     make(map[int64]chan<- Broadcast),
		cursors:         make(map[string]int),
		selections:      make(map[string][2]int),
		clientOwner:     make(map[string]int64),
		sendFails:       make(map[int64]int),
		needsUpdate:     make(map[int64]bool),
		content:         cfg.Content,
		work:            make(chan struct{}, 1),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	go e.run()
	return e
}

// SID returns the summary id this engine serves.
func (e *Engine) SID() int64 {
	return e.sid
}

// Subscribe registers a user's delivery channel.  The worker pushes a full
// snapshot to the new subscriber on its next pass.
func (e *Engine) Subscribe(userID int64, ch chan<- Broadcast) {
	e.mtx.Lock()
	e.subscribers[userID] = ch
	e.joined = append(e.joined, userID)
	e.mtx.Unlock()
	e.signal()
}

// Unsubscribe removes a user and everything keyed to its clients.  It
// returns the number of remaining subscribers; the supervisor reaps the
// engine when it hits zero.  Unsubscribing twice is harmless.
func (e *Engine) Unsubscribe(userID int64) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	delete(e.subscribers, userID)
	delete(e.sendFails, userID)
	delete(e.needsUpdate, userID)
	for clientID, owner := range e.clientOwner {
		if owner == userID {
			delete(e.clientOwner, clientID)
			delete(e.cursors, clientID)
			delete(e.selections, clientID)
		}
	}
	return len(e.subscribers)
}

// Subscribers returns the current subscriber count.
func (e *Engine) Subscribers() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.subscribers)
}

// IsSubscribed reports whether userID currently receives broadcasts.
func (e *Engine) IsSubscribed(userID int64) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	_, ok := e.subscribers[userID]
	return ok
}

// Enqueue posts a change batch for the worker.  It never blocks on the
// merge itself.
func (e *Engine) Enqueue(batch wire.ChangeBatch) error {
	e.mtx.Lock()
	if e.readOnly {
		e.mtx.Unlock()
		return ErrReadOnly
	}
	select {
	case <-e.quit:
		e.mtx.Unlock()
		return ErrStopped
	default:
	}
	e.pending = append(e.pending, batch)
	e.mtx.Unlock()
	e.signal()
	return nil
}

// Stop drains the queue, persists and terminates the worker.  It blocks
// until the worker exited.
func (e *Engine) Stop() {
	e.mtx.Lock()
	select {
	case <-e.quit:
		e.mtx.Unlock()
		<-e.done
		return
	default:
	}
	close(e.quit)
	e.mtx.Unlock()
	<-e.done
}

func (e *Engine) signal() {
	select {
	case e.work <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)

	tick := time.NewTicker(e.persistInterval)
	defer tick.Stop()

	for {
		select {
		case <-e.quit:
			e.pass()
			if e.dirty {
				e.persist()
			}
			return

		case <-e.work:
			e.safePass()

		case <-tick.C:
			if e.dirty {
				e.persist()
			}
			e.redeliver()
		}
	}
}

// redeliver retries subscribers whose channel was full on the last
// broadcast so a transiently busy session still sees the latest snapshot.
func (e *Engine) redeliver() {
	e.mtx.Lock()
	pending := make([]int64, 0, len(e.needsUpdate))
	for userID := range e.needsUpdate {
		pending = append(pending, userID)
	}
	e.mtx.Unlock()

	if len(pending) > 0 {
		e.broadcast(pending)
	}
}

// persist writes the current content through the store.  A failed write
// keeps the document dirty so the next tick retries.
func (e *Engine) persist() {
	err := e.store.SaveSummary(e.sid, e.content)
	if err != nil {
		e.logf("engine %v: persist failed: %v", e.sid, err)
		return
	}
	e.dirty = false
}

// safePass wraps one merge pass with the restart policy: the first panic
// reloads the persisted content and continues, the second locks the
// document.
func (e *Engine) safePass() {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e.logf("engine %v: worker panic: %v", e.sid, r)
		if e.restarted {
			e.lock()
			return
		}
		e.restarted = true
		content, err := e.store.SummaryContent(e.sid)
		if err != nil {
			e.logf("engine %v: reload failed: %v", e.sid, err)
			e.lock()
			return
		}
		e.content = content
		e.history = nil
		e.dirty = false
	}()
	e.pass()
}

// lock marks the document read-only and tells every subscriber.
func (e *Engine) lock() {
	e.mtx.Lock()
	e.readOnly = true
	e.pending = nil
	channels := e.channelsLocked()
	e.mtx.Unlock()

	locked := Broadcast{Code: wire.ReplyError, Params: []string{"DOCUMENT LOCKED"}}
	for _, ch := range channels {
		select {
		case ch <- locked:
		default:
		}
	}
}

func (e *Engine) channelsLocked() []chan<- Broadcast {
	channels := make([]chan<- Broadcast, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		channels = append(channels, ch)
	}
	return channels
}

// pass performs one drain-merge-broadcast cycle.
func (e *Engine) pass() {
	e.mtx.Lock()
	batches := e.pending
	e.pending = nil
	joined := e.joined
	e.joined = nil

	// register client ownership and take cursor updates before merging
	// so the client's own edits do not shift its fresh cursor
	for _, b := range batches {
		e.clientOwner[b.ClientID] = b.UserID
		if b.Cursor != nil {
			e.cursors[b.ClientID] = *b.Cursor
		}
		if b.Selection != nil {
			e.selections[b.ClientID] = *b.Selection
		}
	}
	e.mtx.Unlock()

	changes := flatten(batches)
	for _, c := range changes {
		e.apply(c)
	}

	if len(changes) > 0 {
		e.dirty = true
		e.broadcast(nil)
	} else if len(joined) > 0 {
		e.broadcast(joined)
	}
}

// flatten merges batches into one list ordered by (timestamp, clientId).
func flatten(batches []wire.ChangeBatch) []wire.Change {
	var changes []wire.Change
	for _, b := range batches {
		changes = append(changes, b.Changes...)
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Timestamp != changes[j].Timestamp {
			return changes[i].Timestamp < changes[j].Timestamp
		}
		return changes[i].ClientID < changes[j].ClientID
	})
	return changes
}

// apply transforms one change against the applied history, mutates the
// content and adjusts every other client's cursor and selection.
func (e *Engine) apply(c wire.Change) {
	for _, prior := range e.history {
		c.Range[0] = transformPos(c.Range[0], prior)
		c.Range[1] = transformPos(c.Range[1], prior)
	}

	// a range collapsed by transformation carries no intent anymore
	if c.Op != wire.OpInsert && c.Range[0] == c.Range[1] {
		e.logf("engine %v: dropped collapsed %v change %v",
			e.sid, c.Op, c.ChangeID)
		return
	}

	e.content = e.applyText(c)

	e.mtx.Lock()
	for clientID, pos := range e.cursors {
		if clientID == c.ClientID {
			continue
		}
		e.cursors[clientID] = transformPos(pos, c)
	}
	for clientID, sel := range e.selections {
		if clientID == c.ClientID {
			continue
		}
		e.selections[clientID] = [2]int{
			transformPos(sel[0], c),
			transformPos(sel[1], c),
		}
	}
	e.mtx.Unlock()

	e.history = append(e.history, c)
	if len(e.history) > MaxHistory {
		e.history = e.history[len(e.history)-MaxHistory:]
	}
}

// applyText performs the text operation, clamping out of range coordinates
// to the valid document bounds.
func (e *Engine) applyText(c wire.Change) string {
	doc := []rune(e.content)
	s, eEnd := c.Range[0], c.Range[1]
	if s < 0 || s > len(doc) || eEnd < s || eEnd > len(doc) {
		e.logf("engine %v: clamped change %v range [%v,%v] len %v",
			e.sid, c.ChangeID, s, eEnd, len(doc))
		s = clamp(s, 0, len(doc))
		eEnd = clamp(eEnd, s, len(doc))
	}

	switch c.Op {
	case wire.OpInsert:
		return string(doc[:s]) + c.Text + string(doc[s:])
	case wire.OpDelete:
		return string(doc[:s]) + string(doc[eEnd:])
	case wire.OpUpdate:
		return string(doc[:s]) + c.Text + string(doc[eEnd:])
	}
	return e.content
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// transformPos rewrites a single position so its intent survives a prior,
// concurrent change.
func transformPos(p int, prior wire.Change) int {
	s, end := prior.Range[0], prior.Range[1]
	l := len([]rune(prior.Text))

	switch prior.Op {
	case wire.OpInsert:
		if p >= s {
			return p + l
		}
		return p

	case wire.OpDelete:
		switch {
		case p >= end:
			return p - (end - s)
		case p > s:
			return s
		default:
			return p
		}

	case wire.OpUpdate:
		switch {
		case p >= end:
			return p + l - (end - s)
		case p > s:
			// scale interior positions into the replacement text
			return s + int(math.Round(
				float64(p-s)*float64(l)/float64(end-s)))
		default:
			return p
		}
	}
	return p
}

// broadcast builds a per-subscriber update and delivers it without
// blocking.  A full channel counts against the subscriber; persistently
// stuck subscribers are dropped.  only restricts delivery to the given
// users (nil means everyone).
func (e *Engine) broadcast(only []int64) {
	e.mtx.Lock()
	targets := make(map[int64]chan<- Broadcast, len(e.subscribers))
	if only == nil {
		for id, ch := range e.subscribers {
			targets[id] = ch
		}
	} else {
		for _, id := range only {
			if ch, ok := e.subscribers[id]; ok {
				targets[id] = ch
			}
		}
	}

	recent := e.history
	if len(recent) > recentChanges {
		recent = recent[len(recent)-recentChanges:]
	}

	var stuck []int64
	for userID, ch := range targets {
		update := wire.DocUpdate{
			DocContent:    e.content,
			Cursors:       make(map[string]int),
			Selections:    make(map[string][2]int),
			RecentChanges: append([]wire.Change(nil), recent...),
		}
		for clientID, pos := range e.cursors {
			if e.clientOwner[clientID] == userID {
				continue
			}
			update.Cursors[clientID] = pos
		}
		for clientID, sel := range e.selections {
			if e.clientOwner[clientID] == userID {
				continue
			}
			update.Selections[clientID] = sel
		}
		param, err := wire.EncodePayload(&update)
		if err != nil {
			e.logf("engine %v: encode update: %v", e.sid, err)
			continue
		}

		select {
		case ch <- Broadcast{
			Code:   wire.ReplyTakeUpdate,
			Params: []string{param},
		}:
			e.sendFails[userID] = 0
			delete(e.needsUpdate, userID)
		default:
			e.sendFails[userID]++
			e.needsUpdate[userID] = true
			e.logf("engine %v: subscriber %v not keeping up (%v)",
				e.sid, userID, e.sendFails[userID])
			if e.sendFails[userID] >= sendFailLimit {
				stuck = append(stuck, userID)
			}
		}
	}
	for _, userID := range stuck {
		e.logf("engine %v: dropping stuck subscriber %v", e.sid, userID)
		delete(e.subscribers, userID)
		delete(e.sendFails, userID)
		delete(e.needsUpdate, userID)
	}
	e.mtx.Unlock()
}
