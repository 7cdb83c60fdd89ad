// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// store is the persistence layer: user accounts, summary metadata,
// permissions, calendar events and link edges live in MySQL; the summary
// bodies, serialized graphs and historic snapshots live on the filesystem.
package store

import (
	"errors"
	"time"

	"github.com/notedco/noted/wire"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrExists     = errors.New("already exists")
	ErrAuthFailed = errors.New("authentication failed")
	ErrPermission = errors.New("permission denied")
	ErrBadInput   = errors.New("bad input")
)

// User is one account row.
type User struct {
	ID         int64
	Username   string
	HashedPass string
	Salt       []byte
	IsPublic   bool
	CreateTime time.Time
}

// Store is the persistence contract the server programs against.  The
// MySQL type implements it; tests substitute in-memory fakes.
type Store interface {
	// accounts
	Salt(username string) ([]byte, error)
	Authenticate(username, passHash string) (*User, error)
	InsertUser(username, passHash string, salt []byte) (int64, error)
	UserByName(username string) (*User, error)

	// summaries
	InsertSummary(title, content string, ownerID int64, font string) (int64, error)
	SaveSummary(sid int64, content string) error
	SummaryContent(sid int64) (string, error)
	UpdateSummaryMeta(sid int64, font string) error
	Summary(sid int64) (*wire.Summary, error)
	SummaryByLink(title string) (*wire.Summary, error)
	DeleteSummary(sid int64) error
	AllByUser(userID int64) ([]wire.Summary, error)
	AllUserCanAccess(userID int64) ([]wire.Summary, error)

	// permissions
	ShareSummary(sid, ownerID, targetUserID int64, kind string) error
	UpdatePermission(sid, userID int64, kind string) error
	CanAccess(sid, userID int64) (bool, error)

	// events
	InsertEvent(userID int64, title string, date time.Time) (int64, error)
	Events(userID int64) ([]wire.Event, error)
	UpdateEvent(userID, eventID int64, title string, date time.Time) error
	DeleteEvent(userID, eventID int64) error
	UpcomingEvents(userID int64, within time.Duration) ([]wire.Event, error)

	// graphs and history
	Graph(sid int64) ([]*wire.Node, error)
	SaveGraph(sid int64) error
	HistoricList(sid int64) ([]string, error)
	LoadHistoric(sid int64, stamp string) (string, error)
	HistoricGraph(sid int64, stamp string) ([]*wire.Node, error)
}
