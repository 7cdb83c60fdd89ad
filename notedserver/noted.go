// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"

	"github.com/notedco/noted/crypt"
	"github.com/notedco/noted/debug"
	"github.com/notedco/noted/engine"
	"github.com/notedco/noted/gcal"
	"github.com/notedco/noted/notedserver/settings"
	"github.com/notedco/noted/session"
	"github.com/notedco/noted/store"
)

const (
	idApp = 0
	idSes = 1
	idEng = 2
)

const version = "1.1.0"

type NS struct {
	*debug.Debug
	settings  *settings.Settings
	store     store.Store
	serverKey *rsa.PrivateKey
	gcal      *gcal.Client
	ctx       context.Context

	// black box text services, swappable in tests
	ocr       func(path string) (string, error)
	summarize func(text string) (string, error)

	engMtx  sync.Mutex
	engines map[int64]*engine.Engine

	// sessWG counts live session goroutines; shutdown drains the engines
	// only after the last one exited, so no session can resurrect an
	// engine behind the drain
	sessWG sync.WaitGroup

	quit chan struct{}
}

// runSession tracks conn's goroutine on the session wait group.
func (z *NS) runSession(conn net.Conn) {
	z.sessWG.Add(1)
	go func() {
		defer z.sessWG.Done()
		z.preSession(conn)
	}()
}

// preSession runs the key exchange and hands the encrypted transport to
// the session loop.
func (z *NS) preSession(conn net.Conn) {
	z.Dbg(idApp, "incoming connection: %v", conn.RemoteAddr())

	defer func() {
		conn.Close()
		z.Info(idApp, "connection closed: %v", conn.RemoteAddr())
	}()

	sess := session.New(conn, crypt.New(z.serverKey), 0)
	err := sess.KeyExchange()
	if err != nil {
		z.Warn(idApp, "key exchange failed %v: %v",
			conn.RemoteAddr(), err)
		return
	}
	z.Dbg(idApp, "key exchange complete: %v", conn.RemoteAddr())

	err = z.handleSession(sess)
	if err != nil {
		z.Error(idSes, "session %v: %v", conn.RemoteAddr(), err)
	}
}

// listen accepts connections until ctx is canceled, then drains the live
// engines.
func (z *NS) listen(ctx context.Context) error {
	l, err := net.Listen("tcp", z.settings.Listen)
	if err != nil {
		return fmt.Errorf("could not listen: %v", err)
	}
	z.Info(idApp, "Listening on %v", z.settings.Listen)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		close(z.quit)
		return l.Close()
	})
	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				z.Error(idApp, "Accept: %v", err)
				continue
			}
			conn.(*net.TCPConn).SetKeepAlive(true)
			z.runSession(conn)
		}
	})
	err = g.Wait()
	z.sessWG.Wait()
	z.shutdownEngines()
	return err
}

func _main() error {
	z := &NS{
		engines: make(map[int64]*engine.Engine),
		quit:    make(chan struct{}),
	}

	// flags and settings
	var err error
	z.settings, err = ObtainSettings()
	if err != nil {
		return err
	}

	// create paths
	err = os.MkdirAll(z.settings.Root, 0700)
	if err != nil {
		return err
	}

	// handle logging
	z.Debug, err = debug.New(z.settings.LogFile, z.settings.TimeFormat)
	if err != nil {
		return err
	}
	z.Register(idApp, "[APP]")
	z.Register(idSes, "[SES]")
	z.Register(idEng, "[ENG]")

	z.Info(idApp, "Start of day")
	z.Info(idApp, "Version: %v", version)
	z.Info(idApp, "Settings %v", spew.Sdump(z.settings))
	defer z.Info(idApp, "End of times")

	// debugging
	if z.settings.Debug {
		z.Info(idApp, "Debug enabled")
		z.EnableDebug()
		if z.settings.Profiler != "" {
			z.Info(idApp, "Profiler enabled on http://%v/debug/pprof",
				z.settings.Profiler)
			go http.ListenAndServe(z.settings.Profiler, nil)
		}
		if z.settings.Trace {
			z.Info(idApp, "Trace enabled")
			z.EnableTrace()
		}
	}

	// server key, created on first run
	z.serverKey, err = crypt.LoadOrCreateRSA(z.settings.KeyFile)
	if err != nil {
		return err
	}

	// database
	z.Info(idApp, "Store bringup started")
	st, err := store.Open(store.Config{
		Host:     z.settings.DBHost,
		Port:     z.settings.DBPort,
		Name:     z.settings.DBName,
		User:     z.settings.DBUser,
		Password: z.settings.DBPassword,
		DataDir:  z.settings.DataDir,
		SaveDir:  z.settings.SaveDir,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	z.store = st
	z.Info(idApp, "Store bringup complete")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	z.ctx = ctx

	// calendar integration is optional
	z.gcal, err = gcal.New(ctx, z.settings.GcalSecret, z.settings.GcalToken)
	if err == gcal.ErrNotConfigured {
		z.Info(idApp, "Google Calendar integration not configured")
		z.gcal = nil
	} else if err != nil {
		return err
	}

	z.ocr = defaultOCR
	z.summarize = defaultSummarize

	return z.listen(ctx)
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
