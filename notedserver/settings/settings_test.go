// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	s := New()
	err := s.Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Listen != "127.0.0.1:12345" {
		t.Fatalf("unexpected listen %v", s.Listen)
	}
	if s.EventWindowDays != 7 {
		t.Fatalf("unexpected event window %v", s.EventWindowDays)
	}
	if s.Pepper != "PEPPER" {
		t.Fatalf("unexpected pepper %v", s.Pepper)
	}
}

func TestLoadFile(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "notedserver.conf")
	err := os.WriteFile(conf, []byte(`
listen = 0.0.0.0:9999
datadir = /srv/noted/data

[auth]
eventwindow = 14

[db]
host = db.internal
port = 3307
name = noted_prod

[log]
debug = true
`), 0600)
	if err != nil {
		t.Fatal(err)
	}

	s := New()
	err = s.Load(conf)
	if err != nil {
		t.Fatal(err)
	}
	if s.Listen != "0.0.0.0:9999" {
		t.Fatalf("unexpected listen %v", s.Listen)
	}
	if s.DataDir != "/srv/noted/data" {
		t.Fatalf("unexpected datadir %v", s.DataDir)
	}
	if s.EventWindowDays != 14 {
		t.Fatalf("unexpected event window %v", s.EventWindowDays)
	}
	if s.DBHost != "db.internal" || s.DBPort != 3307 {
		t.Fatalf("unexpected db %v:%v", s.DBHost, s.DBPort)
	}
	if !s.Debug {
		t.Fatalf("debug not enabled")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "notedserver.conf")
	err := os.WriteFile(conf, []byte("[db]\nhost = fromfile\n"), 0600)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("DB_HOST", "fromenv")
	t.Setenv("DB_PORT", "3310")
	t.Setenv("DB_PASSWORD", "hunter2")

	s := New()
	err = s.Load(conf)
	if err != nil {
		t.Fatal(err)
	}
	if s.DBHost != "fromenv" {
		t.Fatalf("env did not win: %v", s.DBHost)
	}
	if s.DBPort != 3310 || s.DBPassword != "hunter2" {
		t.Fatalf("unexpected db settings %v %v", s.DBPort, s.DBPassword)
	}
}

func TestTildeExpansion(t *testing.T) {
	s := New()
	err := s.Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Root) == 0 || s.Root[0] == '~' {
		t.Fatalf("root not expanded: %v", s.Root)
	}
	if len(s.KeyFile) == 0 || s.KeyFile[0] == '~' {
		t.Fatalf("keyfile not expanded: %v", s.KeyFile)
	}
}
