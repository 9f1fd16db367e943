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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_Exact(t *testing.T) {
	t.Run("end_to_end_example", func(t *testing.T) {
		original := "def add(a, b):\n    return a - b\n"
		blocks := []EditBlock{{Search: "return a - b", Replace: "return a + b"}}

		got, err := Apply(original, blocks)
		require.NoError(t, err)
		assert.Equal(t, "def add(a, b):\n    return a + b\n", got)
	})

	t.Run("idempotent_when_search_equals_replace", func(t *testing.T) {
		original := "alpha\nbeta\ngamma\n"
		got, err := Apply(original, []EditBlock{{Search: "beta", Replace: "beta"}})
		require.NoError(t, err)
		assert.Equal(t, original, got)
	})

	t.Run("first_occurrence_only", func(t *testing.T) {
		original := "x = 1\ny = 1\n"
		got, err := Apply(original, []EditBlock{{Search: "= 1", Replace: "= 2"}})
		require.NoError(t, err)
		assert.Equal(t, "x = 2\ny = 1\n", got)
	})

	t.Run("later_blocks_see_earlier_mutations", func(t *testing.T) {
		original := "one\ntwo\n"
		blocks := []EditBlock{
			{Search: "one", Replace: "uno"},
			{Search: "uno\ntwo", Replace: "uno\ndos"},
		}
		got, err := Apply(original, blocks)
		require.NoError(t, err)
		assert.Equal(t, "uno\ndos\n", got)
	})

	t.Run("empty_block_list_returns_original", func(t *testing.T) {
		got, err := Apply("unchanged\n", nil)
		require.NoError(t, err)
		assert.Equal(t, "unchanged\n", got)
	})
}

func TestApply_Fuzzy(t *testing.T) {
	t.Run("reflowed_indentation_matches", func(t *testing.T) {
		original := "def add(a, b):\n        return a - b\n"
		// Search quotes the body without the buffer's actual indentation,
		// so the exact strategy cannot find it.
		blocks := []EditBlock{{
			Search:  "def add(a, b):\nreturn a - b",
			Replace: "def add(a, b):\n    return a + b",
		}}

		got, err := Apply(original, blocks)
		require.NoError(t, err)
		assert.Equal(t, "def add(a, b):\n    return a + b\n", got)
	})

	t.Run("surrounding_lines_keep_original_bytes", func(t *testing.T) {
		original := "before\n\tkeep me\n  target line  \nafter\n"
		blocks := []EditBlock{{
			Search:  "keep me\ntarget line",
			Replace: "\tkeep me\nreplaced",
		}}

		got, err := Apply(original, blocks)
		require.NoError(t, err)
		assert.Equal(t, "before\n\tkeep me\nreplaced\nafter\n", got)
	})

	t.Run("window_consumes_interior_blank_lines", func(t *testing.T) {
		original := "start\nfirst\n\n\nsecond\nend\n"
		blocks := []EditBlock{{Search: "first\nsecond", Replace: "merged"}}

		got, err := Apply(original, blocks)
		require.NoError(t, err)
		assert.Equal(t, "start\nmerged\nend\n", got)
	})

	t.Run("multi_line_window_with_mixed_indentation", func(t *testing.T) {
		original := "class C:\n    def f(self):\n        return 1\n"
		blocks := []EditBlock{{
			Search:  "def f(self):\nreturn 1",
			Replace: "    def f(self):\n        return 2",
		}}

		got, err := Apply(original, blocks)
		require.NoError(t, err)
		assert.Equal(t, "class C:\n    def f(self):\n        return 2\n", got)
	})

	t.Run("line_order_is_not_forgiven", func(t *testing.T) {
		original := "b\na\n"
		_, err := Apply(original, []EditBlock{{Search: "a\nb", Replace: "c"}})
		var applyErr *ApplyError
		require.ErrorAs(t, err, &applyErr)
	})

	t.Run("line_count_is_not_forgiven", func(t *testing.T) {
		original := "a\nc\n"
		_, err := Apply(original, []EditBlock{{Search: "a\nb\nc", Replace: "x"}})
		var applyErr *ApplyError
		require.ErrorAs(t, err, &applyErr)
	})

	t.Run("blank_only_search_never_matches", func(t *testing.T) {
		_, err := Apply("content\n", []EditBlock{{Search: "  \n\t\n", Replace: "x"}})
		var applyErr *ApplyError
		require.ErrorAs(t, err, &applyErr)
	})
}

func TestApply_AllOrNothing(t *testing.T) {
	original := "alpha\nbeta\n"
	blocks := []EditBlock{
		{Search: "alpha", Replace: "ALPHA"},
		{Search: "missing", Replace: "whatever"},
	}

	got, err := Apply(original, blocks)

	var applyErr *ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, 1, applyErr.Index)
	assert.Empty(t, got, "no partially-patched buffer on failure")
	assert.Equal(t, "alpha\nbeta\n", original, "caller's buffer is untouched")
}
