// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch turns model-generated patch text into deterministic file
// transformations.
//
// A patch response carries one or more SEARCH/REPLACE blocks:
//
//	<<<< SEARCH
//	[lines to be replaced, exactly as they appear in the file]
//	==== REPLACE
//	[new lines]
//	>>>>
//
// ParseBlocks extracts the blocks, Unwrap strips markdown fencing that
// models add despite instructions, and Apply merges the blocks into a
// buffer with an exact strategy and a whitespace-tolerant fallback.
//
// Thread Safety:
//
//	All functions in this package are pure and safe for concurrent use.
package patch

import (
	"regexp"
	"strings"
)

// EditBlock is a single search/replace pair extracted from a patch response.
//
// Blocks are immutable once parsed and are applied strictly in order of
// appearance. Duplicate blocks are legal.
type EditBlock struct {
	// Search is the text expected to appear in the target buffer.
	Search string

	// Replace is the text that takes its place.
	Replace string
}

// blockPattern matches one SEARCH/REPLACE block. Non-greedy bodies so a
// block ends at the nearest closing delimiter.
var blockPattern = regexp.MustCompile(`(?s)<<<< SEARCH\n(.*?)\n==== REPLACE\n(.*?)\n>>>>`)

// ParseBlocks extracts all SEARCH/REPLACE blocks from raw response text.
//
// Description:
//
//	Scans the text for delimited blocks in order of appearance. A response
//	without any block yields an empty slice, not an error: callers treat
//	"no blocks" as "patch strategy inapplicable" and fall back to a full
//	rewrite request.
//
// Inputs:
//
//	raw - Raw response text, already unwrapped from markdown fencing.
//
// Outputs:
//
//	[]EditBlock - Blocks in order of appearance. Never nil.
func ParseBlocks(raw string) []EditBlock {
	matches := blockPattern.FindAllStringSubmatch(raw, -1)
	blocks := make([]EditBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, EditBlock{Search: m[1], Replace: m[2]})
	}
	return blocks
}

// Unwrap strips markdown code-fence wrapping from raw model output.
//
// Description:
//
//	If the text contains a fenced block (a line of backticks with an
//	optional language tag, a body, and a closing line of backticks), the
//	trimmed body of the first such fence is returned. Otherwise the
//	trimmed input is returned unchanged. Responses are not guaranteed
//	fence-free, so this must run before ParseBlocks and before consuming
//	a full-file rewrite.
//
// Inputs:
//
//	raw - Raw response text.
//
// Outputs:
//
//	string - The fence body, or the input, trimmed of surrounding space.
func Unwrap(raw string) string {
	lines := strings.Split(raw, "\n")

	open := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = i
			break
		}
	}
	if open < 0 {
		return strings.TrimSpace(raw)
	}

	for j := open + 1; j < len(lines); j++ {
		if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
			body := strings.Join(lines[open+1:j], "\n")
			return strings.TrimSpace(body)
		}
	}

	// Opening fence without a close: treat the input as unfenced.
	return strings.TrimSpace(raw)
}
