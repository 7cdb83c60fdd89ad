// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"net"
	"strconv"

	"github.com/mitchellh/go-homedir"

	"github.com/notedco/noted/notedserver/settings"
)

func ObtainSettings() (*settings.Settings, error) {
	// defaults
	s := settings.New()

	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	// config file
	filename := flag.String("cfg", home+"/.notedserver/notedserver.conf",
		"config file")
	flag.Parse()

	// load file, environment on top
	err = s.Load(*filename)
	if err != nil {
		return nil, err
	}

	// optional positional port overrides the listen address
	if flag.NArg() > 0 {
		port, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(s.Listen)
		if err != nil {
			return nil, err
		}
		s.Listen = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return s, nil
}
