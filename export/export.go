// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// export renders a summary document into one of the downloadable formats.
package export

import (
	"errors"
	"fmt"
	"html"
	"strings"
)

var ErrInvalidFormat = errors.New("invalid format")

// Render converts content into the requested format.  Formats txt and md
// pass the document through unchanged; html renders the line markup; pdf
// wraps the text in a minimal single page document.
func Render(format, title, content string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "txt", "md":
		return []byte(content), nil
	case "html":
		return renderHTML(title, content), nil
	case "pdf":
		return renderPDF(content), nil
	}
	return nil, ErrInvalidFormat
}

// renderHTML maps the editor's line prefixes onto markup: "# " and "## "
// become headings, "###link " becomes an anchor, everything else is a
// paragraph.
func renderHTML(title, content string) []byte {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head><title>")
	sb.WriteString(html.EscapeString(title))
	sb.WriteString("</title></head>\n<body>\n")
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "###link "):
			target := html.EscapeString(
				strings.TrimSpace(line[len("###link "):]))
			fmt.Fprintf(&sb, "<a href=\"%s\">%s</a><br>\n",
				target, target)
		case strings.HasPrefix(line, "## "):
			fmt.Fprintf(&sb, "<h2>%s</h2>\n",
				html.EscapeString(line[3:]))
		case strings.HasPrefix(line, "# "):
			fmt.Fprintf(&sb, "<h1>%s</h1>\n",
				html.EscapeString(line[2:]))
		case line == "":
			sb.WriteString("<br>\n")
		default:
			fmt.Fprintf(&sb, "<p>%s</p>\n", html.EscapeString(line))
		}
	}
	sb.WriteString("</body>\n</html>\n")
	return []byte(sb.String())
}

// renderPDF emits a minimal one page PDF: a catalog, a page tree, one page,
// a Helvetica resource and a text stream with one Tj per line.
func renderPDF(content string) []byte {
	var text strings.Builder
	text.WriteString("BT\n/F1 11 Tf\n50 780 Td\n13 TL\n")
	for _, line := range strings.Split(content, "\n") {
		text.WriteString("(")
		text.WriteString(escapePDF(line))
		text.WriteString(") Tj\nT*\n")
	}
	text.WriteString("ET\n")
	stream := text.String()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
			"/Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream",
			len(stream), stream),
	}

	var pdf strings.Builder
	pdf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = pdf.Len()
		fmt.Fprintf(&pdf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := pdf.Len()
	fmt.Fprintf(&pdf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&pdf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&pdf, "trailer\n<< /Size %d /Root 1 0 R >>\n"+
		"startxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(pdf.String())
}

func escapePDF(line string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(line)
}
