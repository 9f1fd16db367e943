// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"fmt"
	"strings"
)

// ApplyError reports the first block that could not be matched against the
// buffer. The caller receives no partially-patched content alongside it.
type ApplyError struct {
	// Index is the zero-based position of the offending block.
	Index int

	// Search is the search text that failed to match.
	Search string
}

// Error implements error.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("patch: block %d did not match buffer (search %q)", e.Index, truncate(e.Search, 80))
}

// Apply merges an ordered sequence of edit blocks into original.
//
// Description:
//
//	Blocks are applied strictly in order against the running buffer, so
//	mutations from earlier blocks are visible to later ones. Each block is
//	matched with two strategies:
//
//	 1. Exact: if Search appears verbatim, the first occurrence only is
//	    replaced with Replace.
//	 2. Fuzzy: Search is reduced to its stripped non-blank lines and the
//	    buffer is scanned for the first contiguous line window whose
//	    stripped non-blank lines equal that sequence exactly (same count,
//	    order, and content). The whole raw window, including any blank
//	    lines it contained, is replaced with Replace plus a newline.
//	    Everything outside the window keeps its original bytes.
//
//	The fuzzy strategy tolerates the reflowed indentation models produce
//	when quoting file content, without permitting silent misapplication:
//	only whitespace is forgiven, never line count or order.
//
//	Application is all-or-nothing. If any block matches neither way the
//	call fails with an *ApplyError identifying the block, and blocks
//	already merged in this call are discarded.
//
// Inputs:
//
//	original - The buffer to patch. Not modified.
//	blocks - Edit blocks in application order.
//
// Outputs:
//
//	string - The fully patched buffer. Empty on failure.
//	error - *ApplyError when a block cannot be matched.
func Apply(original string, blocks []EditBlock) (string, error) {
	merged, _, err := ApplyWithStats(original, blocks)
	return merged, err
}

// Stats counts how the blocks of a successful Apply call were matched.
type Stats struct {
	Exact int
	Fuzzy int
}

// ApplyWithStats is Apply plus per-strategy match counts.
func ApplyWithStats(original string, blocks []EditBlock) (string, Stats, error) {
	var stats Stats
	buf := original
	for i, block := range blocks {
		if strings.Contains(buf, block.Search) {
			buf = strings.Replace(buf, block.Search, block.Replace, 1)
			stats.Exact++
			continue
		}

		merged, ok := fuzzyReplace(buf, block)
		if !ok {
			return "", Stats{}, &ApplyError{Index: i, Search: block.Search}
		}
		buf = merged
		stats.Fuzzy++
	}
	return buf, stats, nil
}

// fuzzyReplace performs the whitespace-tolerant line-window replacement.
//
// The window starts at a raw line whose stripped content equals the first
// stripped search line and ends at the line matching the last one. Blank
// lines inside the window are permitted and consumed; a non-blank mismatch
// aborts the window and the scan resumes at the next start position.
func fuzzyReplace(buf string, block EditBlock) (string, bool) {
	want := strippedLines(block.Search)
	if len(want) == 0 {
		return "", false
	}

	// SplitAfter keeps each line's terminator so untouched regions are
	// reassembled byte-identical.
	lines := strings.SplitAfter(buf, "\n")

	for start := 0; start < len(lines); start++ {
		if strings.TrimSpace(lines[start]) != want[0] {
			continue
		}

		matched := 1
		end := start
		for i := start + 1; i < len(lines) && matched < len(want); i++ {
			stripped := strings.TrimSpace(lines[i])
			if stripped == "" {
				continue
			}
			if stripped != want[matched] {
				matched = -1
				break
			}
			matched++
			end = i
		}

		if matched != len(want) {
			continue
		}

		var sb strings.Builder
		for _, l := range lines[:start] {
			sb.WriteString(l)
		}
		sb.WriteString(block.Replace)
		sb.WriteString("\n")
		for _, l := range lines[end+1:] {
			sb.WriteString(l)
		}
		return sb.String(), true
	}

	return "", false
}

// strippedLines returns the non-blank lines of s, stripped of leading and
// trailing whitespace.
func strippedLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped != "" {
			out = append(out, stripped)
		}
	}
	return out
}

// truncate shortens s to maxLen characters for log and error output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
