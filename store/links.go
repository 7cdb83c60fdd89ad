// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"regexp"
	"strings"
)

// linkRE matches one "###link <title>" line.  The trailing newline is part
// of the pattern, so a link on the final unterminated line is ignored the
// same way the desktop client renders it.
var linkRE = regexp.MustCompile(`###link\s+([^\n]+)\n`)

// ExtractLinks returns the linked titles in document order, trimmed.
// Duplicates are preserved; resolution happens against the summary table.
func ExtractLinks(content string) []string {
	var titles []string
	for _, m := range linkRE.FindAllStringSubmatch(content, -1) {
		title := strings.TrimSpace(m[1])
		if title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}
