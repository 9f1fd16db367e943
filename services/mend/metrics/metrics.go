// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes Prometheus counters for the repair agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	// IssuesProcessed counts issues the agent attempted, by outcome.
	IssuesProcessed *prometheus.CounterVec

	// FixRounds counts propose/apply/review rounds.
	FixRounds prometheus.Counter

	// PatchesApplied counts edit blocks applied, by strategy.
	PatchesApplied *prometheus.CounterVec

	// Rewrites counts full-file rewrite fallbacks.
	Rewrites prometheus.Counter

	// ValidationFailures counts syntax check rejections.
	ValidationFailures prometheus.Counter

	// PollCycles counts tracker polls.
	PollCycles prometheus.Counter

	// PollErrors counts failed tracker polls.
	PollErrors prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IssuesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "issues_processed_total",
			Help:      "Issues the agent attempted to fix, by outcome.",
		}, []string{"outcome"}),
		FixRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "fix_rounds_total",
			Help:      "Propose/apply/review rounds across all issues.",
		}),
		PatchesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "patches_applied_total",
			Help:      "Edit blocks applied, by matching strategy.",
		}, []string{"strategy"}),
		Rewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "rewrites_total",
			Help:      "Full-file rewrites used after edit blocks failed to apply.",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "validation_failures_total",
			Help:      "Edits rejected by the syntax validator.",
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "poll_cycles_total",
			Help:      "Completed tracker poll cycles.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mend",
			Name:      "poll_errors_total",
			Help:      "Tracker poll cycles that failed.",
		}),
	}
	reg.MustRegister(
		m.IssuesProcessed,
		m.FixRounds,
		m.PatchesApplied,
		m.Rewrites,
		m.ValidationFailures,
		m.PollCycles,
		m.PollErrors,
	)
	return m
}

// NewUnregistered creates collectors on a private registry. Useful in
// tests that do not inspect metric values.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
