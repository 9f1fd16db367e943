// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loop runs the propose/apply/review cycle for one issue.
//
// The loop is a small state machine. PLANNING selects candidate files,
// EXECUTING asks the engine for edit blocks and applies them to the
// sandbox, and REVIEWING feeds the modified files back to the engine for
// a verdict. A critique restarts the cycle at PLANNING with the critique
// folded into the issue description, so the next round can discover files
// the critique names, until the reviewer approves, repeats itself, or the
// attempt budget runs out.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianMend/services/mend/engine"
	"github.com/AleutianAI/AleutianMend/services/mend/metrics"
	"github.com/AleutianAI/AleutianMend/services/mend/patch"
	"github.com/AleutianAI/AleutianMend/services/mend/validate"
	"github.com/AleutianAI/AleutianMend/services/mend/workspace"
)

// filenamePattern finds file paths mentioned in issue text. Only paths
// with a recognized source extension count; bare words never match.
var filenamePattern = regexp.MustCompile(`[\w./\-]+\.(?:py|go|js|ts|sh|html|css|json|ya?ml|md)\b`)

// WorkUnit is one issue to fix.
type WorkUnit struct {
	Key         string
	Summary     string
	Description string
}

// Result reports how the loop ended.
type Result struct {
	// Outcome says why the loop stopped.
	Outcome Outcome

	// Attempts is the number of EXECUTING passes that ran.
	Attempts int

	// Plan is the engine's free-text repair plan, when one was produced.
	Plan string

	// ModifiedFiles are the candidate names that were changed, sorted.
	ModifiedFiles []string

	// Contents maps modified candidate names to their final content.
	Contents map[string]string

	// Originals maps modified candidate names to their pre-loop content.
	Originals map[string]string

	// Critiques are the reviewer objections, in order.
	Critiques []string
}

// Options configures a Loop.
type Options struct {
	// MaxAttempts bounds EXECUTING passes per issue. Minimum 1.
	MaxAttempts int

	// ReviewEnabled turns the REVIEWING phase on.
	ReviewEnabled bool

	// ReviewFailOpen keeps applied changes when the reviewer itself
	// errors. When false the error counts as a failed attempt and the
	// loop retries.
	ReviewFailOpen bool

	// DryRun applies edits in memory only. Nothing is written to disk.
	DryRun bool

	// PlanFirst asks the engine for a repair plan before editing.
	PlanFirst bool
}

// Loop drives the fix cycle for single issues.
type Loop struct {
	engine    engine.Engine
	sandbox   *workspace.Sandbox
	validator *validate.Validator
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Loop.
//
// Inputs:
//
//	eng - The model backend. Must not be nil.
//	sandbox - The workspace under repair. Must not be nil.
//	validator - Syntax checker for edited files. Must not be nil.
//	m - Metrics sink. Must not be nil.
//	opts - Loop options.
//	logger - Structured logger. slog.Default() when nil.
func New(eng engine.Engine, sandbox *workspace.Sandbox, validator *validate.Validator, m *metrics.Metrics, opts Options, logger *slog.Logger) (*Loop, error) {
	if eng == nil || sandbox == nil || validator == nil || m == nil {
		return nil, errors.New("loop: engine, sandbox, validator, and metrics are required")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		engine:    eng,
		sandbox:   sandbox,
		validator: validator,
		metrics:   m,
		opts:      opts,
		logger:    logger,
		tracer:    otel.Tracer("mend/loop"),
	}, nil
}

// Run fixes one issue.
//
// Engine failures on a single file never abort the run; the candidate is
// skipped for that round and the loop carries on with what it has.
//
// Outputs:
//
//	*Result - Never nil on a nil error.
//	error - Non-nil on workspace listing failure or cancellation.
//	Partial disk writes may remain; backups carry the originals.
func (l *Loop) Run(ctx context.Context, unit WorkUnit) (*Result, error) {
	ctx, span := l.tracer.Start(ctx, "loop.run")
	defer span.End()
	span.SetAttributes(attribute.String("issue.key", unit.Key))

	sm := NewStateMachine()
	logger := l.logger.With(slog.String("issue", unit.Key))

	run := &issueRun{
		unit:        unit,
		description: unit.Description,
		targets:     make(map[string]*workspace.Target),
		originals:   make(map[string]string),
		contents:    make(map[string]string),
	}

	for run.attempts < l.opts.MaxAttempts {
		// === PLANNING ===
		// Re-entered on every retry: a critique folded into the
		// description can name files no earlier round selected.
		if err := l.plan(ctx, run, logger); err != nil {
			return nil, err
		}
		if len(run.candidates) == 0 {
			_ = sm.Transition(StateDone)
			logger.Info("no candidate files for issue")
			l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeNoChanges)).Inc()
			return run.result(OutcomeNoChanges), nil
		}
		if err := sm.Transition(StateExecuting); err != nil {
			return nil, err
		}

		// === EXECUTING ===
		run.attempts++
		l.metrics.FixRounds.Inc()

		changed, err := l.execute(ctx, run, logger)
		if err != nil {
			return nil, err
		}

		if len(run.contents) == 0 {
			_ = sm.Transition(StateDone)
			logger.Info("engine produced no applicable edits")
			l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeNoChanges)).Inc()
			return run.result(OutcomeNoChanges), nil
		}

		if !l.opts.ReviewEnabled {
			_ = sm.Transition(StateDone)
			l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeSingleShot)).Inc()
			return run.result(OutcomeSingleShot), nil
		}

		// === REVIEWING ===
		if err := sm.Transition(StateReviewing); err != nil {
			return nil, err
		}

		critique, err := l.engine.Review(ctx, engine.ReviewRequest{
			Summary:     unit.Summary,
			Description: unit.Description,
			Files:       run.reviewFiles(),
		})
		if err != nil {
			if l.opts.ReviewFailOpen {
				_ = sm.Transition(StateDone)
				logger.Warn("review failed, keeping changes", slog.Any("error", err))
				l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeSingleShot)).Inc()
				return run.result(OutcomeSingleShot), nil
			}
			logger.Warn("review failed, retrying", slog.Any("error", err))
			if err := sm.Transition(StatePlanning); err != nil {
				return nil, err
			}
			continue
		}

		if critique == "" {
			_ = sm.Transition(StateDone)
			logger.Info("review approved changes", slog.Int("attempts", run.attempts))
			l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeApproved)).Inc()
			return run.result(OutcomeApproved), nil
		}

		if run.hasCritique(critique) {
			_ = sm.Transition(StateDone)
			logger.Warn("reviewer repeated a critique, stopping",
				slog.String("critique", truncate(critique, 120)))
			run.critiques = append(run.critiques, critique)
			l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeCycleDetected)).Inc()
			return run.result(OutcomeCycleDetected), nil
		}

		logger.Info("review rejected changes",
			slog.Int("attempt", run.attempts),
			slog.String("critique", truncate(critique, 120)),
			slog.Bool("changed_this_round", changed),
		)
		run.critiques = append(run.critiques, critique)
		run.description += "\n\nA previous fix attempt was rejected with this review:\n" + critique
		if err := sm.Transition(StatePlanning); err != nil {
			return nil, err
		}
	}

	_ = sm.Transition(StateDone)
	logger.Warn("attempt budget exhausted", slog.Int("attempts", run.attempts))
	l.metrics.IssuesProcessed.WithLabelValues(string(OutcomeExhausted)).Inc()
	return run.result(OutcomeExhausted), nil
}

// issueRun is the mutable state of one Run call.
type issueRun struct {
	unit        WorkUnit
	description string
	listing     string
	plan        string
	attempts    int
	candidates  []string
	targets     map[string]*workspace.Target
	originals   map[string]string
	contents    map[string]string
	critiques   []string
}

func (r *issueRun) hasCritique(critique string) bool {
	for _, prev := range r.critiques {
		if prev == critique {
			return true
		}
	}
	return false
}

// reviewFiles returns the current content of every modified file. Files
// the loop never changed are not part of the fix under review.
func (r *issueRun) reviewFiles() map[string]string {
	files := make(map[string]string, len(r.contents))
	for name, content := range r.contents {
		files[name] = content
	}
	return files
}

func (r *issueRun) result(outcome Outcome) *Result {
	modified := make([]string, 0, len(r.contents))
	for c := range r.contents {
		modified = append(modified, c)
	}
	sort.Strings(modified)

	originals := make(map[string]string, len(modified))
	for _, c := range modified {
		originals[c] = r.originals[c]
	}

	return &Result{
		Outcome:       outcome,
		Attempts:      r.attempts,
		Plan:          r.plan,
		ModifiedFiles: modified,
		Contents:      r.contents,
		Originals:     originals,
		Critiques:     r.critiques,
	}
}

// plan selects candidate files and records their original content. On
// retry rounds it runs against the critique-augmented description and
// only adds candidates; earlier selections are kept.
//
// Candidates are the union of paths the engine identifies from the
// workspace listing and paths mentioned verbatim in the issue text.
// Candidates that resolve outside the sandbox or cannot be read are
// dropped.
func (l *Loop) plan(ctx context.Context, run *issueRun, logger *slog.Logger) error {
	ctx, span := l.tracer.Start(ctx, "loop.plan")
	defer span.End()

	listing, err := l.sandbox.Listing()
	if err != nil {
		return fmt.Errorf("loop: listing workspace: %w", err)
	}
	run.listing = listing

	if l.opts.PlanFirst && run.attempts == 0 {
		plan, err := l.engine.Plan(ctx, engine.PlanRequest{
			Summary:     run.unit.Summary,
			Description: run.unit.Description,
			Listing:     listing,
		})
		if err != nil {
			logger.Warn("planning failed, continuing without a plan", slog.Any("error", err))
		} else {
			run.plan = plan
			logger.Debug("repair plan", slog.String("plan", truncate(plan, 400)))
		}
	}

	identified, err := l.engine.IdentifyFiles(ctx, engine.IdentifyRequest{
		Summary:     run.unit.Summary,
		Description: run.description,
		Listing:     listing,
	})
	if err != nil {
		// Identification is advisory. Filenames mentioned in the issue
		// text still yield candidates.
		logger.Warn("file identification failed", slog.Any("error", err))
		identified = nil
	}

	mentioned := filenamePattern.FindAllString(run.unit.Summary+"\n"+run.description, -1)

	seen := make(map[string]bool)
	for _, candidate := range append(identified, mentioned...) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true

		target, err := l.sandbox.Resolve(candidate)
		if err != nil {
			logger.Warn("dropping unresolvable candidate",
				slog.String("candidate", candidate),
				slog.Any("error", err),
			)
			continue
		}
		if run.targets[target.Candidate] != nil {
			continue
		}

		original := ""
		if !target.IsNew {
			original, err = l.sandbox.Read(target)
			if err != nil {
				logger.Warn("dropping unreadable candidate",
					slog.String("candidate", candidate),
					slog.Any("error", err),
				)
				continue
			}
		}

		run.candidates = append(run.candidates, target.Candidate)
		run.targets[target.Candidate] = target
		run.originals[target.Candidate] = original
	}
	sort.Strings(run.candidates)

	span.SetAttributes(attribute.Int("loop.candidates", len(run.candidates)))
	logger.Info("selected candidate files", slog.Any("candidates", run.candidates))
	return nil
}

// execute runs one propose/apply pass over every candidate. It reports
// whether any file content changed during this pass. A failure on one
// candidate skips that candidate only; the pass continues.
func (l *Loop) execute(ctx context.Context, run *issueRun, logger *slog.Logger) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "loop.execute")
	defer span.End()
	span.SetAttributes(attribute.Int("loop.attempt", run.attempts))

	changed := false
	for _, candidate := range run.candidates {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		current, ok := run.contents[candidate]
		if !ok {
			current = run.originals[candidate]
		}

		updated, err := l.edit(ctx, candidate, current, run, logger)
		if err != nil {
			logger.Warn("skipping candidate after engine failure",
				slog.String("file", candidate),
				slog.Any("error", err),
			)
			continue
		}
		if updated == "" || updated == current {
			continue
		}

		if kind := validate.KindForPath(candidate); kind != validate.KindUnknown {
			result := l.validator.Content(ctx, kind, []byte(updated))
			if result.Checked && !result.Valid {
				l.metrics.ValidationFailures.Inc()
				logger.Warn("rejecting edit that breaks syntax",
					slog.String("file", candidate),
					slog.Int("errors", len(result.Errors)),
				)
				continue
			}
		}

		if !l.opts.DryRun {
			if err := l.sandbox.Write(run.targets[candidate], updated); err != nil {
				logger.Warn("skipping candidate after write failure",
					slog.String("file", candidate),
					slog.Any("error", err),
				)
				continue
			}
		}
		run.contents[candidate] = updated
		changed = true
	}
	return changed, nil
}

// edit asks the engine for edit blocks against one file and applies them,
// falling back to a full-file rewrite when the blocks cannot be matched.
// An empty return means this file is unchanged this round.
func (l *Loop) edit(ctx context.Context, candidate, current string, run *issueRun, logger *slog.Logger) (string, error) {
	raw, err := l.engine.ProposeFix(ctx, engine.FixRequest{
		Filename:    candidate,
		Content:     current,
		Summary:     run.unit.Summary,
		Description: run.description,
		Listing:     run.listing,
	})
	if err != nil {
		return "", fmt.Errorf("loop: proposing fix for %s: %w", candidate, err)
	}

	blocks := patch.ParseBlocks(patch.Unwrap(raw))
	if len(blocks) == 0 {
		logger.Debug("no edit blocks for file", slog.String("file", candidate))
		return "", nil
	}

	updated, stats, err := patch.ApplyWithStats(current, blocks)
	if err == nil {
		l.metrics.PatchesApplied.WithLabelValues("exact").Add(float64(stats.Exact))
		l.metrics.PatchesApplied.WithLabelValues("fuzzy").Add(float64(stats.Fuzzy))
		return updated, nil
	}

	var applyErr *patch.ApplyError
	if !errors.As(err, &applyErr) {
		return "", fmt.Errorf("loop: applying blocks to %s: %w", candidate, err)
	}

	logger.Warn("edit blocks did not match, falling back to rewrite",
		slog.String("file", candidate),
		slog.Int("block", applyErr.Index),
	)
	l.metrics.Rewrites.Inc()

	rewritten, err := l.engine.Rewrite(ctx, engine.RewriteRequest{
		Filename:    candidate,
		Content:     current,
		Summary:     run.unit.Summary,
		Description: run.description,
		Listing:     run.listing,
	})
	if err != nil {
		return "", fmt.Errorf("loop: rewriting %s: %w", candidate, err)
	}

	rewritten = patch.Unwrap(rewritten)
	if strings.TrimSpace(rewritten) == "" {
		return "", nil
	}
	if !strings.HasSuffix(rewritten, "\n") {
		rewritten += "\n"
	}
	return rewritten, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
