// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settings

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"
)

// Settings is the collection of all notedserver settings.  This is separated
// out in order to be able to reuse in various tests.
type Settings struct {
	// default section
	Root    string // root directory for notedserver
	Listen  string // listen address and port
	DataDir string // summary bodies and staged uploads
	SaveDir string // historic snapshots
	KeyFile string // server RSA private key

	// auth section
	Pepper          string // server wide hash pepper
	EventWindowDays int    // LOGIN upcoming events window

	// db section, overridable from the environment
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// gcal section
	GcalSecret string // OAuth client secret JSON
	GcalToken  string // cached OAuth token

	// log section
	LogFile    string // log filename, "-" for stderr
	TimeFormat string // debug file time stamp format
	Debug      bool   // enable debug
	Trace      bool   // enable tracing
	Profiler   string // go profiler link
}

var errIniNotFound = errors.New("not found")

// New returns a default settings structure.
func New() *Settings {
	return &Settings{
		// default
		Root:    "~/.notedserver",
		Listen:  "127.0.0.1:12345",
		DataDir: "data",
		SaveDir: "save",
		KeyFile: "~/.notedserver/private.pem",

		// auth
		Pepper:          "PEPPER",
		EventWindowDays: 7,

		// db
		DBHost: "127.0.0.1",
		DBPort: 3306,
		DBName: "noted",
		DBUser: "noted",

		// log
		LogFile:    "-",
		TimeFormat: "2006-01-02 15:04:05",
		Debug:      false,
		Trace:      false,
		Profiler:   "localhost:6060",
	}
}

// Load retrieves settings from an ini file and then lets the environment
// override the database coordinates.  A missing config file keeps the
// defaults; it is not an error.  Additionally all ~ are expanded to the
// current user home directory.
func (s *Settings) Load(filename string) error {
	cfg, err := ini.LoadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if cfg != nil {
		iniString(cfg, &s.Root, "", "root")
		iniString(cfg, &s.Listen, "", "listen")
		iniString(cfg, &s.DataDir, "", "datadir")
		iniString(cfg, &s.SaveDir, "", "savedir")
		iniString(cfg, &s.KeyFile, "", "keyfile")

		iniString(cfg, &s.Pepper, "auth", "pepper")
		err = iniInt(cfg, &s.EventWindowDays, "auth", "eventwindow")
		if err != nil && err != errIniNotFound {
			return err
		}

		iniString(cfg, &s.DBHost, "db", "host")
		err = iniInt(cfg, &s.DBPort, "db", "port")
		if err != nil && err != errIniNotFound {
			return err
		}
		iniString(cfg, &s.DBName, "db", "name")
		iniString(cfg, &s.DBUser, "db", "username")
		iniString(cfg, &s.DBPassword, "db", "password")

		iniString(cfg, &s.GcalSecret, "gcal", "secret")
		iniString(cfg, &s.GcalToken, "gcal", "token")

		iniString(cfg, &s.LogFile, "log", "logfile")
		iniString(cfg, &s.TimeFormat, "log", "timeformat")
		err = iniBool(cfg, &s.Debug, "log", "debug")
		if err != nil && err != errIniNotFound {
			return err
		}
		err = iniBool(cfg, &s.Trace, "log", "trace")
		if err != nil && err != errIniNotFound {
			return err
		}
		iniString(cfg, &s.Profiler, "log", "profiler")
	}

	err = s.loadEnv()
	if err != nil {
		return err
	}

	// expand ~ in all paths
	for _, p := range []*string{&s.Root, &s.DataDir, &s.SaveDir,
		&s.KeyFile, &s.GcalSecret, &s.GcalToken, &s.LogFile} {
		if *p == "" || *p == "-" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	return nil
}

// loadEnv reads a .env file when present and applies the DB_* environment
// variables on top of the file settings.
func (s *Settings) loadEnv() error {
	godotenv.Load()

	if v := os.Getenv("DB_HOST"); v != "" {
		s.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		s.DBPort = port
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		s.DBName = v
	}
	if v := os.Getenv("DB_USERNAME"); v != "" {
		s.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		s.DBPassword = v
	}
	return nil
}

func iniString(cfg ini.File, p *string, section, key string) {
	v, ok := cfg.Get(section, key)
	if ok {
		*p = v
	}
}

func iniBool(cfg ini.File, p *bool, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*p = b
	return nil
}

func iniInt(cfg ini.File, p *int, section, key string) error {
	v, ok := cfg.Get(section, key)
	if !ok {
		return errIniNotFound
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*p = n
	return nil
}
