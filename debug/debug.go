// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// debug is the leveled subsystem logger used by every long-lived goroutine
// in the server.  Subsystems register an id once at startup and tag every
// line with it, so one log file interleaves the listener, sessions, engines
// and the store coherently.
package debug

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var ErrDuplicateSubsystem = errors.New("duplicate subsystem")

type Debug struct {
	sync.Mutex
	w          io.Writer
	format     string
	subsystems map[int]string
	debug      bool // debug enabled?
	trace      bool // trace enabled?
}

// New logs to filename; "-" or the empty string log to stderr instead.
func New(filename, format string) (*Debug, error) {
	var w io.Writer = os.Stderr
	if filename != "" && filename != "-" {
		f, err := os.OpenFile(filename,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return &Debug{
		w:          w,
		format:     format,
		subsystems: make(map[int]string),
	}, nil
}

// Register names a subsystem id.  Ids must be unique.
func (d *Debug) Register(id int, name string) error {
	d.Lock()
	defer d.Unlock()

	_, found := d.subsystems[id]
	if found {
		return ErrDuplicateSubsystem
	}
	d.subsystems[id] = name
	return nil
}

func (d *Debug) Info(id int, format string, args ...interface{}) {
	d.log(id, "[INF] ", format, args...)
}

func (d *Debug) Warn(id int, format string, args ...interface{}) {
	d.log(id, "[WAR] ", format, args...)
}

func (d *Debug) Error(id int, format string, args ...interface{}) {
	d.log(id, "[ERR] ", format, args...)
}

func (d *Debug) Critical(id int, format string, args ...interface{}) {
	d.log(id, "[CRI] ", format, args...)
}

func (d *Debug) Dbg(id int, format string, args ...interface{}) {
	// let it race!
	if !d.debug {
		return
	}

	d.log(id, "[DBG] ", format, args...)
}

func (d *Debug) T(id int, format string, args ...interface{}) {
	// let it race!
	if !d.trace {
		return
	}

	d.log(id, "[TRC] ", format, args...)
}

func (d *Debug) log(id int, prefix string, format string, args ...interface{}) {
	d.Lock()
	defer d.Unlock()

	s, found := d.subsystems[id]
	if !found {
		s = "[UNK]"
	}

	t := time.Now().Format(d.format)
	fmt.Fprintf(d.w, t+" "+s+prefix+format+"\n", args...)
}

func (d *Debug) EnableDebug() {
	d.Lock()
	defer d.Unlock()

	d.debug = true
}

func (d *Debug) EnableTrace() {
	d.Lock()
	defer d.Unlock()

	d.trace = true
}
