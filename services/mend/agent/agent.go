// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent polls the issue tracker and feeds new issues to the fix
// loop, oldest first, one at a time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianMend/services/mend/loop"
	"github.com/AleutianAI/AleutianMend/services/mend/metrics"
	"github.com/AleutianAI/AleutianMend/services/mend/state"
	"github.com/AleutianAI/AleutianMend/services/mend/tracker"
)

// jiraTimeLayout is the datetime format Jira accepts inside JQL.
const jiraTimeLayout = "2006-01-02 15:04"

// Options configures the agent.
type Options struct {
	// Project is the tracker project key to poll.
	Project string

	// PollInterval is the pause between tracker polls.
	PollInterval time.Duration

	// MaxIssuesPerCycle bounds how many issues one poll handles.
	// Zero means no bound.
	MaxIssuesPerCycle int

	// StartStates are transition names meaning "work has started".
	// Matched case-insensitively, first hit wins.
	StartStates []string

	// DoneStates are transition names meaning "work is finished".
	DoneStates []string

	// DryRun suppresses every tracker write: no comments, no workflow
	// transitions. Issues are still marked seen so a dry run does not
	// revisit them forever.
	DryRun bool
}

// DefaultOptions returns the agent defaults. The transition candidates
// carry both English and Korean workflow names since hosted trackers
// localize them per site.
func DefaultOptions() Options {
	return Options{
		PollInterval:      60 * time.Second,
		StartStates:       []string{"In Progress", "진행 중"},
		DoneStates:        []string{"Done", "Resolved", "완료"},
		MaxIssuesPerCycle: 0,
	}
}

// Agent is the long-running poll worker.
type Agent struct {
	tracker tracker.Tracker
	loop    *loop.Loop
	store   *state.Store
	metrics *metrics.Metrics
	opts    Options
	logger  *slog.Logger
}

// New creates an agent.
//
// Inputs:
//
//	trk - The issue tracker. Must not be nil.
//	l - The fix loop. Must not be nil.
//	store - Poll state persistence. Must not be nil.
//	m - Metrics sink. Must not be nil.
//	opts - Agent options. Project must be set.
//	logger - Structured logger. slog.Default() when nil.
func New(trk tracker.Tracker, l *loop.Loop, store *state.Store, m *metrics.Metrics, opts Options, logger *slog.Logger) (*Agent, error) {
	if trk == nil || l == nil || store == nil || m == nil {
		return nil, errors.New("agent: tracker, loop, store, and metrics are required")
	}
	if opts.Project == "" {
		return nil, errors.New("agent: project key is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if len(opts.StartStates) == 0 {
		opts.StartStates = DefaultOptions().StartStates
	}
	if len(opts.DoneStates) == 0 {
		opts.DoneStates = DefaultOptions().DoneStates
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		tracker: trk,
		loop:    l,
		store:   store,
		metrics: m,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Run polls until ctx is cancelled.
//
// The first poll happens immediately. A failed poll is logged and the
// agent waits for the next tick; only ctx cancellation stops it.
func (a *Agent) Run(ctx context.Context) error {
	st, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("agent: loading poll state: %w", err)
	}
	a.logger.Info("agent started",
		slog.String("project", a.opts.Project),
		slog.Duration("interval", a.opts.PollInterval),
		slog.Time("cursor", st.Cursor),
	)

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		a.metrics.PollCycles.Inc()
		if err := a.pollOnce(ctx, st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.metrics.PollErrors.Inc()
			a.logger.Error("poll cycle failed", slog.Any("error", err))
		}
		if err := a.store.Save(st); err != nil {
			a.logger.Error("saving poll state failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll cycle and returns. Used by the one-shot
// CLI mode and by tests.
func (a *Agent) RunOnce(ctx context.Context) error {
	st, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("agent: loading poll state: %w", err)
	}
	pollErr := a.pollOnce(ctx, st)
	if err := a.store.Save(st); err != nil {
		return fmt.Errorf("agent: saving poll state: %w", err)
	}
	return pollErr
}

// pollOnce fetches new issues and processes them oldest first.
func (a *Agent) pollOnce(ctx context.Context, st *state.PollState) error {
	query := a.query(st)
	issues, err := a.tracker.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("searching tracker: %w", err)
	}

	fresh := make([]tracker.Issue, 0, len(issues))
	for _, issue := range issues {
		if !st.HasSeen(issue.Key) {
			fresh = append(fresh, issue)
		}
	}
	// The query already orders by creation time, but a tracker is not
	// obliged to honor it. Keys encode creation order within a project.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Key < fresh[j].Key })

	if len(fresh) == 0 {
		a.logger.Debug("no new issues", slog.String("query", query))
		return nil
	}
	a.logger.Info("found new issues", slog.Int("count", len(fresh)))

	for i, issue := range fresh {
		if a.opts.MaxIssuesPerCycle > 0 && i >= a.opts.MaxIssuesPerCycle {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		a.processIssue(ctx, st, issue)
	}
	return nil
}

// query builds the JQL for the next poll.
func (a *Agent) query(st *state.PollState) string {
	return fmt.Sprintf(
		"project = %s AND created >= %q ORDER BY created ASC",
		a.opts.Project,
		st.Cursor.UTC().Format(jiraTimeLayout),
	)
}

// processIssue runs the fix loop for one issue and reports back to the
// tracker. Tracker write failures are logged, never fatal: the fix
// matters more than the bookkeeping.
func (a *Agent) processIssue(ctx context.Context, st *state.PollState, issue tracker.Issue) {
	logger := a.logger.With(slog.String("issue", issue.Key))
	logger.Info("processing issue", slog.String("summary", issue.Summary))

	if !a.opts.DryRun {
		if err := a.tracker.Transition(ctx, issue.Key, a.opts.StartStates); err != nil {
			logger.Warn("could not mark issue in progress", slog.Any("error", err))
		}
	}

	result, err := a.loop.Run(ctx, loop.WorkUnit{
		Key:         issue.Key,
		Summary:     issue.Summary,
		Description: issue.Description,
	})
	if err != nil {
		logger.Error("fix loop failed", slog.Any("error", err))
		if !a.opts.DryRun {
			a.note(ctx, issue.Key, "Automated fix attempt failed: "+err.Error())
		}
		// Still marked seen. Retrying an issue that errors every time
		// would pin the agent to it forever.
		st.MarkSeen(issue.Key)
		return
	}

	if !a.opts.DryRun {
		a.note(ctx, issue.Key, a.composeNote(result))

		switch result.Outcome {
		case loop.OutcomeApproved, loop.OutcomeSingleShot:
			if err := a.tracker.Transition(ctx, issue.Key, a.opts.DoneStates); err != nil {
				logger.Warn("could not mark issue done", slog.Any("error", err))
			}
		}
	}

	st.MarkSeen(issue.Key)
	logger.Info("issue processed",
		slog.String("outcome", string(result.Outcome)),
		slog.Int("attempts", result.Attempts),
		slog.Int("files", len(result.ModifiedFiles)),
	)
}

func (a *Agent) note(ctx context.Context, key, body string) {
	if err := a.tracker.AddNote(ctx, key, body); err != nil {
		a.logger.Warn("could not add note",
			slog.String("issue", key),
			slog.Any("error", err),
		)
	}
}

// composeNote renders a loop result as a tracker comment.
func (a *Agent) composeNote(result *loop.Result) string {
	var sb strings.Builder

	switch result.Outcome {
	case loop.OutcomeApproved:
		fmt.Fprintf(&sb, "Automated fix applied and approved after %d attempt(s).\n", result.Attempts)
	case loop.OutcomeSingleShot:
		fmt.Fprintf(&sb, "Automated fix applied (no review pass).\n")
	case loop.OutcomeNoChanges:
		sb.WriteString("No fix could be produced for this issue.\n")
	case loop.OutcomeCycleDetected:
		fmt.Fprintf(&sb, "Automated fix stopped after %d attempt(s): the reviewer kept repeating the same objection.\n", result.Attempts)
	case loop.OutcomeExhausted:
		fmt.Fprintf(&sb, "Automated fix gave up after %d attempt(s) without reviewer approval.\n", result.Attempts)
	}

	if len(result.Critiques) > 0 {
		sb.WriteString("\nLast review: ")
		sb.WriteString(result.Critiques[len(result.Critiques)-1])
		sb.WriteString("\n")
	}

	for _, name := range result.ModifiedFiles {
		rendered, err := unifiedDiff(name, result.Originals[name], result.Contents[name])
		if err != nil || rendered == "" {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(rendered)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
