// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForPath(t *testing.T) {
	cases := map[string]Kind{
		"app/main.py":      KindPython,
		"web/index.HTML":   KindHTML,
		"style.css":        KindCSS,
		"data.json":        KindJSON,
		"README.md":        KindMarkdown,
		"script.sh":        KindBash,
		"pkg/server.go":    KindGo,
		"src/app.ts":       KindTypeScript,
		"src/legacy.js":    KindJavaScript,
		"config.yaml":      KindYAML,
		"binary.exe":       KindUnknown,
		"no_extension":     KindUnknown,
		"archive.tar.gz":   KindUnknown,
		"nested/deep.pyi":  KindPython,
	}
	for path, want := range cases {
		assert.Equal(t, want, KindForPath(path), "path %q", path)
	}
}

func TestKind_HasValidator(t *testing.T) {
	assert.True(t, KindPython.HasValidator())
	assert.True(t, KindGo.HasValidator())
	assert.False(t, KindJSON.HasValidator())
	assert.False(t, KindMarkdown.HasValidator())
	assert.False(t, KindUnknown.HasValidator())
}

func TestValidator_Content_Python(t *testing.T) {
	v := NewValidator(nil)

	t.Run("valid_source", func(t *testing.T) {
		res := v.Content(context.Background(), KindPython, []byte("def add(a, b):\n    return a + b\n"))
		assert.True(t, res.Valid)
		assert.True(t, res.Checked)
		assert.Empty(t, res.Errors)
	})

	t.Run("invalid_source_reports_position", func(t *testing.T) {
		res := v.Content(context.Background(), KindPython, []byte("def broken(:\n    return\n"))
		require.False(t, res.Valid)
		assert.True(t, res.Checked)
		require.NotEmpty(t, res.Errors)
		assert.GreaterOrEqual(t, res.Errors[0].Line, 1)
	})
}

func TestValidator_Content_Go(t *testing.T) {
	v := NewValidator(nil)

	res := v.Content(context.Background(), KindGo, []byte("package main\n\nfunc main() {\n"))
	assert.True(t, res.Checked)
	assert.False(t, res.Valid)
}

func TestValidator_Content_UncheckedKinds(t *testing.T) {
	v := NewValidator(nil)

	// Garbage content in kinds without a grammar is accepted and flagged
	// as unchecked.
	for _, kind := range []Kind{KindJSON, KindHTML, KindCSS, KindMarkdown, KindUnknown} {
		res := v.Content(context.Background(), kind, []byte("{{{{ not parseable"))
		assert.True(t, res.Valid, "kind %s", kind)
		assert.False(t, res.Checked, "kind %s", kind)
	}
}
