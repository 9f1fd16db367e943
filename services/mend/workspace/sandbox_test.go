// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSandbox builds a sandbox over a populated temp tree.
func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"app/main.py":             "print('hi')\n",
		"app/utils/helpers.py":    "def helper():\n    pass\n",
		"web/index.html":          "<html></html>\n",
		"README.md":               "# readme\n",
		".git/config":             "[core]\n",
		"node_modules/pkg/idx.js": "module.exports = {}\n",
		"__pycache__/main.pyc":    "binary",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	sb, err := NewSandbox(root, nil)
	require.NoError(t, err)
	return sb
}

func TestNewSandbox(t *testing.T) {
	t.Run("valid_root", func(t *testing.T) {
		sb, err := NewSandbox(t.TempDir(), nil)
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(sb.Root()))
	})

	t.Run("missing_root_rejected", func(t *testing.T) {
		_, err := NewSandbox("/nonexistent/path/12345", nil)
		assert.Error(t, err)
	})

	t.Run("file_root_rejected", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "f.txt")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
		_, err := NewSandbox(f, nil)
		assert.Error(t, err)
	})
}

func TestSandbox_Resolve(t *testing.T) {
	sb := newTestSandbox(t)

	t.Run("relative_to_root", func(t *testing.T) {
		target, err := sb.Resolve("app/main.py")
		require.NoError(t, err)
		assert.False(t, target.IsNew)
		assert.Equal(t, filepath.Join(sb.Root(), "app", "main.py"), target.Path)
	})

	t.Run("bare_filename_found_by_suffix_search", func(t *testing.T) {
		target, err := sb.Resolve("helpers.py")
		require.NoError(t, err)
		assert.False(t, target.IsNew)
		assert.Equal(t, filepath.Join(sb.Root(), "app", "utils", "helpers.py"), target.Path)
	})

	t.Run("suffix_search_respects_path_boundaries", func(t *testing.T) {
		// "ain.py" is a suffix of app/main.py but not on a path boundary,
		// so it must resolve as a new file, not to main.py.
		target, err := sb.Resolve("ain.py")
		require.NoError(t, err)
		assert.True(t, target.IsNew)
	})

	t.Run("suffix_search_is_lexicographic_first", func(t *testing.T) {
		root := t.TempDir()
		for _, rel := range []string{"b/dup.py", "a/dup.py", "c/dup.py"} {
			path := filepath.Join(root, rel)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0644))
		}
		sb2, err := NewSandbox(root, nil)
		require.NoError(t, err)

		target, err := sb2.Resolve("dup.py")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(sb2.Root(), "a", "dup.py"), target.Path)
	})

	t.Run("ignored_directories_are_not_searched", func(t *testing.T) {
		// idx.js only exists under node_modules, which is pruned; the
		// candidate therefore falls through to the new-file branch.
		target, err := sb.Resolve("idx.js")
		require.NoError(t, err)
		assert.True(t, target.IsNew)
	})

	t.Run("unknown_name_inside_root_is_new", func(t *testing.T) {
		target, err := sb.Resolve("app/feature.py")
		require.NoError(t, err)
		assert.True(t, target.IsNew)
		assert.Equal(t, filepath.Join(sb.Root(), "app", "feature.py"), target.Path)
	})

	t.Run("traversal_escape_is_rejected", func(t *testing.T) {
		for _, candidate := range []string{
			"../../etc/passwd",
			"../outside.py",
			"app/../../../../tmp/x.py",
		} {
			target, err := sb.Resolve(candidate)
			assert.ErrorIs(t, err, ErrOutsideSandbox, "candidate %q", candidate)
			assert.Nil(t, target)
		}
	})

	t.Run("absolute_path_outside_root_is_rejected", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "other.py")
		require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

		_, err := sb.Resolve(outside)
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})

	t.Run("absolute_new_path_inside_root", func(t *testing.T) {
		abs := filepath.Join(sb.Root(), "app", "planned.py")
		target, err := sb.Resolve(abs)
		require.NoError(t, err)
		assert.True(t, target.IsNew)
		assert.Equal(t, abs, target.Path)
	})

	t.Run("empty_candidate", func(t *testing.T) {
		_, err := sb.Resolve("")
		assert.ErrorIs(t, err, ErrUnresolved)
	})
}

func TestSandbox_ReadWrite(t *testing.T) {
	sb := newTestSandbox(t)

	t.Run("read_existing", func(t *testing.T) {
		target, err := sb.Resolve("app/main.py")
		require.NoError(t, err)
		content, err := sb.Read(target)
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", content)
	})

	t.Run("overwrite_creates_backup", func(t *testing.T) {
		target, err := sb.Resolve("app/main.py")
		require.NoError(t, err)
		require.NoError(t, sb.Write(target, "print('bye')\n"))

		content, err := os.ReadFile(target.Path)
		require.NoError(t, err)
		assert.Equal(t, "print('bye')\n", string(content))

		backup, err := os.ReadFile(target.Path + BackupSuffix)
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", string(backup))
	})

	t.Run("new_file_written_directly_with_parents", func(t *testing.T) {
		target, err := sb.Resolve("brand/new/module.py")
		require.NoError(t, err)
		require.True(t, target.IsNew)
		require.NoError(t, sb.Write(target, "x = 1\n"))

		content, err := os.ReadFile(target.Path)
		require.NoError(t, err)
		assert.Equal(t, "x = 1\n", string(content))

		_, err = os.Stat(target.Path + BackupSuffix)
		assert.True(t, os.IsNotExist(err), "new files get no backup")
	})

	t.Run("write_outside_root_is_refused", func(t *testing.T) {
		target := &Target{Candidate: "evil", Path: "/tmp/evil.py"}
		assert.ErrorIs(t, sb.Write(target, "x"), ErrOutsideSandbox)
	})
}

func TestSandbox_Listing(t *testing.T) {
	sb := newTestSandbox(t)

	listing, err := sb.Listing()
	require.NoError(t, err)

	lines := strings.Split(listing, "\n")
	assert.Contains(t, lines, "app/main.py")
	assert.Contains(t, lines, "app/utils/helpers.py")
	assert.Contains(t, lines, "web/index.html")
	assert.Contains(t, lines, "README.md")

	for _, line := range lines {
		assert.NotContains(t, line, ".git")
		assert.NotContains(t, line, "node_modules")
		assert.NotContains(t, line, "__pycache__")
	}

	t.Run("cache_invalidated_by_write", func(t *testing.T) {
		target, err := sb.Resolve("fresh.py")
		require.NoError(t, err)
		require.NoError(t, sb.Write(target, "pass\n"))

		listing, err := sb.Listing()
		require.NoError(t, err)
		assert.Contains(t, strings.Split(listing, "\n"), "fresh.py")
	})
}
