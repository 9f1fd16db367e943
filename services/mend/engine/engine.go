// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine defines the model-facing surface of the repair agent.
//
// The rest of the system talks to the model through the Engine interface
// and never sees raw prompts or completions. Implementations own prompt
// construction, rate limiting, and response cleanup.
package engine

import "context"

// IdentifyRequest asks which files in the workspace an issue touches.
type IdentifyRequest struct {
	Summary     string
	Description string
	// Listing is the newline-joined relative paths of the workspace.
	Listing string
}

// FixRequest asks for search/replace edit blocks against one file.
type FixRequest struct {
	Filename    string
	Content     string
	Summary     string
	Description string
	// Listing gives the model the surrounding codebase structure.
	Listing string
}

// RewriteRequest asks for a complete replacement of one file. It is the
// fallback when the edit blocks for the same file failed to apply.
type RewriteRequest struct {
	Filename    string
	Content     string
	Summary     string
	Description string
	Listing     string
}

// ReviewRequest asks whether a set of modified files resolves an issue.
type ReviewRequest struct {
	Summary     string
	Description string
	// Files maps candidate filename to its full post-edit content.
	Files map[string]string
}

// PlanRequest asks for a short repair plan before any edits are made.
type PlanRequest struct {
	Summary     string
	Description string
	Listing     string
}

// Engine generates repair content for the fix loop.
//
// All methods block until the model responds or ctx is done.
type Engine interface {
	// IdentifyFiles returns the relative paths the model believes are
	// involved in the issue. A response that cannot be parsed yields an
	// empty slice and a nil error so the caller can fall back to paths
	// mentioned in the issue text.
	IdentifyFiles(ctx context.Context, req IdentifyRequest) ([]string, error)

	// Plan returns a short free-text repair plan.
	Plan(ctx context.Context, req PlanRequest) (string, error)

	// ProposeFix returns raw model output expected to contain
	// search/replace edit blocks for the given file.
	ProposeFix(ctx context.Context, req FixRequest) (string, error)

	// Rewrite returns the complete replacement content for the file.
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)

	// Review critiques the modified files. An empty string means the
	// changes are approved; anything else is the critique text fed back
	// into the next attempt.
	Review(ctx context.Context, req ReviewRequest) (string, error)

	// Name identifies the backend for logs.
	Name() string

	// Model returns the configured model identifier.
	Model() string
}
