// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// Structured parameters travel as base64(JSON).  Every payload that the
// original protocol shipped as a language specific object dump is documented
// here as an explicit type instead.

// change operations
const (
	OpInsert = "INSERT"
	OpDelete = "DELETE"
	OpUpdate = "UPDATE"
)

// permission kinds
const (
	PermView = "view"
	PermEdit = "edit"
)

var ErrLegacyPayload = errors.New("legacy change payload rejected")

// Summary is the metadata of a user owned document.  Content is populated
// only on payloads that carry the document body.
type Summary struct {
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"ownerId"`
	ShareLink  string    `json:"shareLink"` // case-insensitive unique title
	Path       string    `json:"path"`
	Font       string    `json:"font"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
	Content    string    `json:"content,omitempty"`
}

// Event is a calendar entry owned by a user.
type Event struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Title      string    `json:"title"`
	EventDate  time.Time `json:"eventDate"`
	CreateTime time.Time `json:"createTime"`
}

// GcalEvent is one imported Google Calendar entry.
type GcalEvent struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
}

// Node is one vertex of a summary dependency graph.  The root node has type
// "summary"; summaries it links to appear as its "child" children; summaries
// linking to it are returned as additional "parent" nodes each carrying the
// root as their only child.
type Node struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"` // summary, parent or child
	Children []*Node `json:"children"`
}

// Change is a single range targeted edit.  Range positions are zero based
// character offsets into the normalized document.
type Change struct {
	Range     [2]int `json:"range"`
	Op        string `json:"op"`
	Text      string `json:"text"`
	ClientID  string `json:"clientId"`
	UserID    int64  `json:"userId"`
	Timestamp int64  `json:"timestamp"` // client clock, unix milliseconds
	ChangeID  string `json:"changeId"`
}

// ChangeBatch is the set of changes a client sent in one frame, together
// with the client's current cursor and selection.
type ChangeBatch struct {
	ClientID  string   `json:"clientId"`
	Changes   []Change `json:"changes"`
	Cursor    *int     `json:"cursor,omitempty"`
	Selection *[2]int  `json:"selection,omitempty"`

	// filled in by the router from the session, never trusted from the
	// wire
	UserID int64 `json:"-"`
}

// DocUpdate is the broadcast sent to every subscriber after a merge pass.
type DocUpdate struct {
	DocContent    string            `json:"doc_content"`
	Cursors       map[string]int    `json:"cursors"`    // other clients only
	Selections    map[string][2]int `json:"selections"` // other clients only
	RecentChanges []Change          `json:"recent_changes"`
}

// EncodePayload marshals v to JSON and base64 encodes it for use as an
// envelope parameter.
func EncodePayload(v interface{}) (string, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(param string, v interface{}) error {
	blob, err := base64.StdEncoding.DecodeString(param)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, v)
}

// ParseChangeBatch decodes and validates an UPDATEDOC parameter.  Batches
// without a client id are the legacy "update everything" shape and are
// rejected outright.
func ParseChangeBatch(param string) (*ChangeBatch, error) {
	var batch ChangeBatch
	err := DecodePayload(param, &batch)
	if err != nil {
		return nil, err
	}
	if batch.ClientID == "" {
		return nil, ErrLegacyPayload
	}
	for i := range batch.Changes {
		c := &batch.Changes[i]
		if c.ClientID == "" {
			c.ClientID = batch.ClientID
		}
		switch c.Op {
		case OpInsert, OpDelete, OpUpdate:
		default:
			return nil, ErrBadEnvelope
		}
		if c.Range[1] < c.Range[0] {
			return nil, ErrBadEnvelope
		}
	}
	return &batch, nil
}
