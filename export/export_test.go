// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package export

import (
	"bytes"
	"errors"
	"testing"
)

func TestRenderPassThrough(t *testing.T) {
	content := "# Biology\ncells divide\n"
	for _, format := range []string{"txt", "md", "TXT"} {
		out, err := Render(format, "Biology", content)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != content {
			t.Fatalf("%v: corrupted content %q", format, out)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	out, err := Render("html", "Bio <notes>",
		"# Biology\n## Cells\n###link Chemistry\nplain <text>\n")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"<title>Bio &lt;notes&gt;</title>",
		"<h1>Biology</h1>",
		"<h2>Cells</h2>",
		"<a href=\"Chemistry\">Chemistry</a>",
		"<p>plain &lt;text&gt;</p>",
	} {
		if !bytes.Contains(out, []byte(want)) {
			t.Fatalf("missing %q in output", want)
		}
	}
}

func TestRenderPDF(t *testing.T) {
	out, err := Render("pdf", "Biology", "line (one)\nline \\two\n")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-1.4")) {
		t.Fatalf("not a pdf: %q", out[:16])
	}
	if !bytes.Contains(out, []byte("(line \\(one\\)) Tj")) {
		t.Fatalf("parens not escaped")
	}
	if !bytes.Contains(out, []byte("%%EOF")) {
		t.Fatalf("missing trailer")
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render("docx", "Biology", "text")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
