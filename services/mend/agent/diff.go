// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// unifiedDiff renders the change to one file as a unified diff with
// per-file hunk statistics, for posting back to the issue tracker.
func unifiedDiff(name, before, after string) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("agent: diffing %s: %w", name, err)
	}
	if text == "" {
		return "", nil
	}

	header := name
	if fileDiff, err := diff.ParseFileDiff([]byte(text)); err == nil {
		stat := fileDiff.Stat()
		header = fmt.Sprintf("%s (+%d -%d ~%d)", name, stat.Added, stat.Deleted, stat.Changed)
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n{code}\n")
	sb.WriteString(strings.TrimRight(text, "\n"))
	sb.WriteString("\n{code}")
	return sb.String(), nil
}
