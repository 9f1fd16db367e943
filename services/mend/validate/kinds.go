// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate gates generated file content on syntactic validity.
//
// File kinds form a small closed set. Kinds backed by a tree-sitter
// grammar are fully parsed; kinds without one are accepted unconditionally
// and the result says so via Checked=false. Callers must not assume
// unchecked kinds were inspected.
//
// Thread Safety:
//
//	Validator is safe for concurrent use. Tree-sitter parsers are created
//	per call.
package validate

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Kind identifies a recognized file kind.
type Kind int

const (
	// KindUnknown is any extension outside the recognized set.
	KindUnknown Kind = iota
	KindPython
	KindGo
	KindJavaScript
	KindTypeScript
	KindBash
	KindHTML
	KindCSS
	KindJSON
	KindYAML
	KindMarkdown
)

// kindSpec describes one entry of the closed kind table.
type kindSpec struct {
	name string

	// grammar returns the tree-sitter language for kinds that have a
	// structural validator. Nil means "no validator available".
	grammar func() *sitter.Language
}

// kindTable is the single dispatch point for per-kind behavior. Adding a
// kind means adding a row here, not scattering suffix checks.
var kindTable = map[Kind]kindSpec{
	KindUnknown:    {name: "unknown"},
	KindPython:     {name: "python", grammar: python.GetLanguage},
	KindGo:         {name: "go", grammar: golang.GetLanguage},
	KindJavaScript: {name: "javascript", grammar: javascript.GetLanguage},
	KindTypeScript: {name: "typescript", grammar: typescript.GetLanguage},
	KindBash:       {name: "bash", grammar: bash.GetLanguage},
	KindHTML:       {name: "html"},
	KindCSS:        {name: "css"},
	KindJSON:       {name: "json"},
	KindYAML:       {name: "yaml"},
	KindMarkdown:   {name: "markdown"},
}

// extTable maps lowercased file extensions to kinds.
var extTable = map[string]Kind{
	".py":   KindPython,
	".pyi":  KindPython,
	".go":   KindGo,
	".js":   KindJavaScript,
	".jsx":  KindJavaScript,
	".mjs":  KindJavaScript,
	".ts":   KindTypeScript,
	".tsx":  KindTypeScript,
	".sh":   KindBash,
	".bash": KindBash,
	".html": KindHTML,
	".css":  KindCSS,
	".json": KindJSON,
	".yaml": KindYAML,
	".yml":  KindYAML,
	".md":   KindMarkdown,
}

// KindForPath returns the kind for a file path based on its extension.
func KindForPath(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if k, ok := extTable[ext]; ok {
		return k
	}
	return KindUnknown
}

// String returns the kind's display name.
func (k Kind) String() string {
	if spec, ok := kindTable[k]; ok {
		return spec.name
	}
	return "unknown"
}

// HasValidator reports whether the kind carries a structural validator.
func (k Kind) HasValidator() bool {
	spec, ok := kindTable[k]
	return ok && spec.grammar != nil
}
