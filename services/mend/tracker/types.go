// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker defines the issue-tracker collaborator interface and
// its Jira REST implementation.
//
// The agent core depends only on the Tracker interface; everything
// Jira-specific (JQL, transition IDs, comment bodies) stays here.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
package tracker

import "context"

// Issue is the minimal issue surface the agent consumes.
type Issue struct {
	// Key is the tracker-unique issue identifier (e.g. "MEND-42").
	Key string

	// Summary is the one-line title.
	Summary string

	// Description is the free-form body. May be empty.
	Description string

	// Status is the current workflow status name.
	Status string
}

// Tracker is the issue-tracker collaborator.
type Tracker interface {
	// Search returns issues matching the query, in the order the tracker
	// returns them.
	Search(ctx context.Context, query string) ([]Issue, error)

	// Get retrieves one issue by key. Returns nil without error when the
	// issue does not exist.
	Get(ctx context.Context, key string) (*Issue, error)

	// AddNote posts a comment on the issue.
	AddNote(ctx context.Context, key, body string) error

	// Transition moves the issue to the first workflow state whose name
	// matches one of the candidates, case-insensitively. Candidates exist
	// because state names are localized per tracker instance. Best-effort:
	// no matching transition is an error the caller may ignore.
	Transition(ctx context.Context, key string, candidates []string) error

	// ListNotes returns the issue's comment bodies, oldest first.
	ListNotes(ctx context.Context, key string) ([]string, error)
}
