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
	"fmt"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxErrors caps collected errors on heavily malformed input.
const maxErrors = 50

// maxDepth caps tree traversal on pathologically nested input.
const maxDepth = 1000

// SyntaxError is one structural error with its source position.
type SyntaxError struct {
	// Line is 1-based.
	Line int

	// Column is 0-based, matching tree-sitter points.
	Column int

	// Message describes the error.
	Message string
}

// Result is the outcome of validating one piece of content.
type Result struct {
	// Valid is true when no structural errors were found. Always true
	// when Checked is false.
	Valid bool

	// Checked is true only when a grammar-backed validation actually ran.
	Checked bool

	// Kind is the file kind the content was validated as.
	Kind Kind

	// Errors holds structural errors, capped at maxErrors.
	Errors []SyntaxError
}

// Validator validates file content against the kind table.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator.
//
// Inputs:
//
//	logger - Structured logger. slog.Default() is used when nil.
//
// Outputs:
//
//	*Validator - Ready-to-use validator, never nil.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Content validates content as the given kind.
//
// Description:
//
//	Kinds with a tree-sitter grammar get a full parse; ERROR and MISSING
//	nodes are reported with line and column positions. Kinds without a
//	grammar are accepted unconditionally — a deliberate scope limit, not
//	an oversight — with Checked=false so callers can tell the difference.
//
// Inputs:
//
//	ctx - Context for cancellation of the parse.
//	kind - The file kind to validate as.
//	content - The content bytes.
//
// Outputs:
//
//	*Result - Validation outcome, never nil.
func (v *Validator) Content(ctx context.Context, kind Kind, content []byte) *Result {
	spec, ok := kindTable[kind]
	if !ok || spec.grammar == nil {
		return &Result{Valid: true, Checked: false, Kind: kind}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.grammar())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		v.logger.Warn("syntax parse aborted",
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		return &Result{
			Valid:   false,
			Checked: true,
			Kind:    kind,
			Errors:  []SyntaxError{{Line: 1, Message: fmt.Sprintf("parse aborted: %v", err)}},
		}
	}
	defer tree.Close()

	var errs []SyntaxError
	collectErrors(tree.RootNode(), content, &errs, 0)

	if len(errs) > 0 {
		v.logger.Debug("syntax validation failed",
			slog.String("kind", kind.String()),
			slog.Int("error_count", len(errs)),
			slog.Int("first_line", errs[0].Line),
		)
	}

	return &Result{
		Valid:   len(errs) == 0,
		Checked: true,
		Kind:    kind,
		Errors:  errs,
	}
}

// collectErrors walks the tree collecting ERROR and MISSING nodes.
func collectErrors(node *sitter.Node, content []byte, errs *[]SyntaxError, depth int) {
	if depth > maxDepth || len(*errs) >= maxErrors {
		return
	}

	if node.IsError() || node.IsMissing() {
		point := node.StartPoint()
		msg := "syntax error"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %s", node.Type())
		} else if ctxStr := errorContext(node, content); ctxStr != "" {
			msg = fmt.Sprintf("unexpected: %s", ctxStr)
		}
		*errs = append(*errs, SyntaxError{
			Line:    int(point.Row) + 1,
			Column:  int(point.Column),
			Message: msg,
		})
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectErrors(node.Child(i), content, errs, depth+1)
	}
}

// errorContext extracts a short slice of the offending source text.
func errorContext(node *sitter.Node, content []byte) string {
	start, end := node.StartByte(), node.EndByte()
	if end > uint32(len(content)) {
		end = uint32(len(content))
	}
	if end <= start || end-start > 60 {
		return ""
	}
	return string(content[start:end])
}
