// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	xdr "github.com/davecgh/go-xdr/xdr2"

	"github.com/notedco/noted/wire"
)

// rewriteLinks replaces every outbound link edge of sid with the links
// currently present in content.  Titles that do not resolve to a summary
// are ignored.
func (s *MySQL) rewriteLinks(tx *sql.Tx, sid int64, content string) error {
	_, err := tx.Exec("DELETE FROM links WHERE source_summary_id = ?", sid)
	if err != nil {
		return err
	}
	for _, title := range ExtractLinks(content) {
		var target int64
		err = tx.QueryRow("SELECT id FROM Summary WHERE "+
			"LOWER(shareLink) = LOWER(?)", title).Scan(&target)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO links (source_summary_id, "+
			"target_summary_id, link_text) VALUES (?, ?, ?)",
			sid, target, title)
		if err != nil {
			return err
		}
	}
	return nil
}

// BuildGraph assembles the node list for a root summary: the root with its
// outbound links as children, followed by one parent node per inbound link,
// each carrying the root as its only child.
func BuildGraph(root wire.Summary, children, parents []wire.Summary) []*wire.Node {
	rootNode := &wire.Node{
		ID:       root.ID,
		Name:     root.ShareLink,
		Type:     "summary",
		Children: []*wire.Node{},
	}
	for _, c := range children {
		rootNode.Children = append(rootNode.Children, &wire.Node{
			ID:       c.ID,
			Name:     c.ShareLink,
			Type:     "child",
			Children: []*wire.Node{},
		})
	}

	nodes := []*wire.Node{rootNode}
	for _, p := range parents {
		nodes = append(nodes, &wire.Node{
			ID:   p.ID,
			Name: p.ShareLink,
			Type: "parent",
			Children: []*wire.Node{{
				ID:       root.ID,
				Name:     root.ShareLink,
				Type:     "summary",
				Children: []*wire.Node{},
			}},
		})
	}
	return nodes
}

func (s *MySQL) linkedSummaries(query string, sid int64) ([]wire.Summary, error) {
	rows, err := s.db.Query(query, sid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wire.Summary
	for rows.Next() {
		var sm wire.Summary
		err = rows.Scan(&sm.ID, &sm.ShareLink)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *MySQL) Graph(sid int64) ([]*wire.Node, error) {
	root, err := s.Summary(sid)
	if err != nil {
		return nil, err
	}
	children, err := s.linkedSummaries("SELECT s.id, s.shareLink FROM "+
		"links l JOIN Summary s ON s.id = l.target_summary_id WHERE "+
		"l.source_summary_id = ?", sid)
	if err != nil {
		return nil, err
	}
	parents, err := s.linkedSummaries("SELECT s.id, s.shareLink FROM "+
		"links l JOIN Summary s ON s.id = l.source_summary_id WHERE "+
		"l.target_summary_id = ?", sid)
	if err != nil {
		return nil, err
	}
	return BuildGraph(*root, children, parents), nil
}

// EncodeGraph serializes a node list to its on-disk form.
func EncodeGraph(nodes []*wire.Node) ([]byte, error) {
	var bb bytes.Buffer
	_, err := xdr.Marshal(&bb, nodes)
	if err != nil {
		return nil, err
	}
	return bb.Bytes(), nil
}

// DecodeGraph reverses EncodeGraph.
func DecodeGraph(blob []byte) ([]*wire.Node, error) {
	var nodes []*wire.Node
	_, err := xdr.Unmarshal(bytes.NewReader(blob), &nodes)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *MySQL) graphPath(sid int64) string {
	return filepath.Join(s.dataDir, "graphs",
		fmt.Sprintf("graph_%d.pkl", sid))
}

// SaveGraph recomputes the graph of sid and writes its serialized form
// next to the other graphs.
func (s *MySQL) SaveGraph(sid int64) error {
	nodes, err := s.Graph(sid)
	if err != nil {
		return err
	}
	blob, err := EncodeGraph(nodes)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.graphPath(sid), blob)
}

// LoadGraph reads the last serialized graph of sid.
func (s *MySQL) LoadGraph(sid int64) ([]*wire.Node, error) {
	blob, err := os.ReadFile(s.graphPath(sid))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeGraph(blob)
}
