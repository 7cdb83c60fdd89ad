// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/notedco/noted/wire"
)

// StampFormat is the directory name of one historic snapshot.
const StampFormat = "20060102150405"

func (s *MySQL) historicDir(sid int64) string {
	return filepath.Join(s.saveDir, strconv.FormatInt(sid, 10))
}

// snapshotHistoric copies the current summary file and serialized graph
// into save/<sid>/<stamp>/.  A summary without a serialized graph yet gets
// one computed on the spot.
func (s *MySQL) snapshotHistoric(sid int64) error {
	content, err := s.SummaryContent(sid)
	if err != nil {
		return err
	}

	stamp := time.Now().Format(StampFormat)
	dir := filepath.Join(s.historicDir(sid), stamp)
	err = writeFileAtomic(filepath.Join(dir, "summary.md"), []byte(content))
	if err != nil {
		return err
	}

	blob, err := os.ReadFile(s.graphPath(sid))
	if os.IsNotExist(err) {
		nodes, gerr := s.Graph(sid)
		if gerr != nil {
			return gerr
		}
		blob, gerr = EncodeGraph(nodes)
		if gerr != nil {
			return gerr
		}
	} else if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "graph.pkl"), blob)
}

// HistoricList returns the snapshot stamps of sid, oldest first.  A summary
// with no history yields an empty list, not an error.
func (s *MySQL) HistoricList(sid int64) ([]string, error) {
	entries, err := os.ReadDir(s.historicDir(sid))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stamps []string
	for _, e := range entries {
		if e.IsDir() {
			stamps = append(stamps, e.Name())
		}
	}
	sort.Strings(stamps)
	return stamps, nil
}

// LoadHistoric returns the content of one snapshot.
func (s *MySQL) LoadHistoric(sid int64, stamp string) (string, error) {
	if !validStamp(stamp) {
		return "", ErrBadInput
	}
	blob, err := os.ReadFile(filepath.Join(s.historicDir(sid), stamp,
		"summary.md"))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// HistoricGraph returns the graph captured with one snapshot.
func (s *MySQL) HistoricGraph(sid int64, stamp string) ([]*wire.Node, error) {
	if !validStamp(stamp) {
		return nil, ErrBadInput
	}
	blob, err := os.ReadFile(filepath.Join(s.historicDir(sid), stamp,
		"graph.pkl"))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeGraph(blob)
}

// validStamp keeps snapshot lookups from walking the filesystem.
func validStamp(stamp string) bool {
	if len(stamp) != len(StampFormat) {
		return false
	}
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
