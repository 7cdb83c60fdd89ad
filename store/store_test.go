// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notedco/noted/wire"
)

func TestSafeTitle(t *testing.T) {
	require.Equal(t, "Biology Notes", SafeTitle("Biology Notes"))
	require.Equal(t, "etcpasswd", SafeTitle("../../etc/passwd"))
	require.Equal(t, "week 2 - cells", SafeTitle("week 2 - cells!?"))
	require.Equal(t, "untitled", SafeTitle("///"))
	require.Equal(t, "untitled", SafeTitle(""))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	first := uniquePath(dir, "notes", ".md")
	require.Equal(t, filepath.Join(dir, "notes.md"), first)
	require.NoError(t, os.WriteFile(first, nil, 0600))

	second := uniquePath(dir, "notes", ".md")
	require.Equal(t, filepath.Join(dir, "notes(1).md"), second)
	require.NoError(t, os.WriteFile(second, nil, 0600))

	third := uniquePath(dir, "notes", ".md")
	require.Equal(t, filepath.Join(dir, "notes(2).md"), third)
}

func TestExtractLinks(t *testing.T) {
	content := "# Biology\nsome text\n###link Chemistry\nmore\n" +
		"###link  Physics \n###link\n"
	require.Equal(t, []string{"Chemistry", "Physics"},
		ExtractLinks(content))

	// a link on the final line without a newline does not count
	require.Nil(t, ExtractLinks("###link Dangling"))

	// extraction is stable under repeated application to the same text
	require.Equal(t, ExtractLinks(content), ExtractLinks(content))
}

func TestBuildGraph(t *testing.T) {
	root := wire.Summary{ID: 1, ShareLink: "Biology"}
	children := []wire.Summary{
		{ID: 2, ShareLink: "Chemistry"},
		{ID: 3, ShareLink: "Physics"},
	}
	parents := []wire.Summary{{ID: 4, ShareLink: "Science"}}

	nodes := BuildGraph(root, children, parents)
	require.Len(t, nodes, 2)

	require.Equal(t, "summary", nodes[0].Type)
	require.Equal(t, "Biology", nodes[0].Name)
	require.Len(t, nodes[0].Children, 2)
	require.Equal(t, "child", nodes[0].Children[0].Type)

	require.Equal(t, "parent", nodes[1].Type)
	require.Len(t, nodes[1].Children, 1)
	require.Equal(t, root.ID, nodes[1].Children[0].ID)
}

func TestGraphCodecRoundTrip(t *testing.T) {
	nodes := BuildGraph(
		wire.Summary{ID: 1, ShareLink: "Biology"},
		[]wire.Summary{{ID: 2, ShareLink: "Chemistry"}},
		[]wire.Summary{{ID: 3, ShareLink: "Science"}},
	)
	blob, err := EncodeGraph(nodes)
	require.NoError(t, err)

	got, err := DecodeGraph(blob)
	require.NoError(t, err)
	require.Equal(t, nodes, got)
}

func TestValidStamp(t *testing.T) {
	require.True(t, validStamp("20250825120000"))
	require.False(t, validStamp("2025"))
	require.False(t, validStamp("../../../../et"))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deep", "nested", "summary.md")

	require.NoError(t, writeFileAtomic(path, []byte("v1")))
	require.NoError(t, writeFileAtomic(path, []byte("v2")))

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "v2", string(blob))
}
