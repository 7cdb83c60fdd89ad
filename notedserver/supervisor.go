// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/notedco/noted/engine"
)

// engineFor returns the live engine of sid, creating it on first use with
// the persisted content.  The registry lock is held only for map access;
// the content load happens outside it.
func (z *NS) engineFor(sid int64) (*engine.Engine, error) {
	z.engMtx.Lock()
	e, ok := z.engines[sid]
	z.engMtx.Unlock()
	if ok {
		return e, nil
	}

	content, err := z.store.SummaryContent(sid)
	if err != nil {
		return nil, err
	}

	z.engMtx.Lock()
	defer z.engMtx.Unlock()
	// another session may have raced us here
	e, ok = z.engines[sid]
	if ok {
		return e, nil
	}
	e = engine.New(engine.Config{
		SID:     sid,
		Content: content,
		Store:   z.store,
		Logf: func(format string, args ...interface{}) {
			z.Dbg(idEng, format, args...)
		},
	})
	z.engines[sid] = e
	z.Dbg(idEng, "engine %v started", sid)
	return e, nil
}

// leaveEngine drops the session's live subscription, if any, and reaps the
// engine when it was the last subscriber.  Reaping stops the worker, which
// drains and persists.
func (z *NS) leaveEngine(sc *sessionContext) {
	if !sc.subscribed {
		return
	}
	sc.subscribed = false

	z.engMtx.Lock()
	e, ok := z.engines[sc.boundSID]
	z.engMtx.Unlock()
	if !ok {
		return
	}

	remaining := e.Unsubscribe(sc.sess.UserID())
	if remaining > 0 {
		return
	}

	z.engMtx.Lock()
	// only reap if nobody subscribed while we were unlocked
	if e.Subscribers() == 0 {
		delete(z.engines, sc.boundSID)
		z.engMtx.Unlock()
		e.Stop()
		z.Dbg(idEng, "engine %v reaped", sc.boundSID)
		return
	}
	z.engMtx.Unlock()
}

// shutdownEngines stops every live engine, persisting their content.
func (z *NS) shutdownEngines() {
	z.engMtx.Lock()
	engines := make([]*engine.Engine, 0, len(z.engines))
	for _, e := range z.engines {
		engines = append(engines, e)
	}
	z.engines = make(map[int64]*engine.Engine)
	z.engMtx.Unlock()

	for _, e := range engines {
		e.Stop()
	}
	z.Info(idApp, "%v engines drained", len(engines))
}
