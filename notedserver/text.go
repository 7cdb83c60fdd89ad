// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"strings"
)

// defaultOCR reads a staged upload back as plain text.  Deployments with a
// real OCR engine swap this function out on the server struct.
func defaultOCR(path string) (string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// defaultSummarize keeps the leading sentences of a paragraph: all but the
// last two when there are more than two, otherwise the first.
func defaultSummarize(text string) (string, error) {
	sentences := strings.SplitAfter(text, ".")
	// SplitAfter leaves a tail after the final period
	if n := len(sentences); n > 0 && strings.TrimSpace(sentences[n-1]) == "" {
		sentences = sentences[:n-1]
	}
	if len(sentences) == 0 {
		return text, nil
	}

	keep := 1
	if len(sentences) > 2 {
		keep = len(sentences) - 2
	}
	return strings.TrimSpace(strings.Join(sentences[:keep], "")), nil
}
