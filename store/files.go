// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SafeTitle strips a user supplied title down to characters that are safe
// in a filename.  An empty result falls back to "untitled".
func SafeTitle(title string) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteRune(r)
		}
	}
	clean := strings.TrimSpace(sb.String())
	if clean == "" {
		return "untitled"
	}
	return clean
}

// uniquePath returns dir/<base><ext>, appending "(n)" to base until the
// name does not collide with an existing file.
func uniquePath(dir, base, ext string) string {
	path := filepath.Join(dir, base+ext)
	for n := 1; ; n++ {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, n, ext))
	}
}

// writeFileAtomic writes content via a temp file and rename so a crashed
// write never leaves a truncated summary behind.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(content)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
