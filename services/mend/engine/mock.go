// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a scripted Engine for testing.
//
// Thread Safety:
//
//	Mock is safe for concurrent use.
type Mock struct {
	mu sync.Mutex

	// identifyResults are queued IdentifyFiles results.
	identifyResults [][]string

	// fixes are queued ProposeFix responses.
	fixes []string

	// rewrites are queued Rewrite responses.
	rewrites []string

	// reviews are queued Review responses. Empty string means approved.
	reviews []string

	// plan is returned by every Plan call.
	plan string

	// errorToReturn causes every method to fail.
	errorToReturn error

	// reviewErr causes only Review to fail, so tests can exercise the
	// fail-open and fail-closed policies.
	reviewErr error

	// identifyErr causes only IdentifyFiles to fail.
	identifyErr error

	// fixCalls records every ProposeFix request.
	fixCalls []FixRequest

	// rewriteCalls records every Rewrite request.
	rewriteCalls []RewriteRequest

	// reviewCalls records every Review request.
	reviewCalls []ReviewRequest
}

// NewMock creates a scripted engine.
func NewMock() *Mock {
	return &Mock{plan: "1. Read the file.\n2. Fix the bug."}
}

// QueueIdentify queues one IdentifyFiles result.
func (m *Mock) QueueIdentify(files ...string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identifyResults = append(m.identifyResults, files)
	return m
}

// QueueFix queues one ProposeFix response.
func (m *Mock) QueueFix(response string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixes = append(m.fixes, response)
	return m
}

// QueueRewrite queues one Rewrite response.
func (m *Mock) QueueRewrite(content string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewrites = append(m.rewrites, content)
	return m
}

// QueueReview queues one Review response. Pass "" to approve.
func (m *Mock) QueueReview(critique string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, critique)
	return m
}

// WithError makes every method return err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorToReturn = err
	return m
}

// WithReviewError makes only Review return err.
func (m *Mock) WithReviewError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewErr = err
	return m
}

// WithIdentifyError makes only IdentifyFiles return err.
func (m *Mock) WithIdentifyError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identifyErr = err
	return m
}

// Name implements Engine.
func (m *Mock) Name() string { return "mock" }

// Model implements Engine.
func (m *Mock) Model() string { return "mock-model" }

// IdentifyFiles implements Engine.
func (m *Mock) IdentifyFiles(ctx context.Context, req IdentifyRequest) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errorToReturn != nil {
		return nil, m.errorToReturn
	}
	if m.identifyErr != nil {
		return nil, m.identifyErr
	}
	if len(m.identifyResults) == 0 {
		return []string{}, nil
	}
	result := m.identifyResults[0]
	m.identifyResults = m.identifyResults[1:]
	return result, nil
}

// Plan implements Engine.
func (m *Mock) Plan(ctx context.Context, req PlanRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errorToReturn != nil {
		return "", m.errorToReturn
	}
	return m.plan, nil
}

// ProposeFix implements Engine.
func (m *Mock) ProposeFix(ctx context.Context, req FixRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixCalls = append(m.fixCalls, req)
	if m.errorToReturn != nil {
		return "", m.errorToReturn
	}
	if len(m.fixes) == 0 {
		return "", fmt.Errorf("mock: no queued fix responses")
	}
	response := m.fixes[0]
	m.fixes = m.fixes[1:]
	return response, nil
}

// Rewrite implements Engine.
func (m *Mock) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewriteCalls = append(m.rewriteCalls, req)
	if m.errorToReturn != nil {
		return "", m.errorToReturn
	}
	if len(m.rewrites) == 0 {
		return "", fmt.Errorf("mock: no queued rewrite responses")
	}
	content := m.rewrites[0]
	m.rewrites = m.rewrites[1:]
	return content, nil
}

// Review implements Engine.
func (m *Mock) Review(ctx context.Context, req ReviewRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewCalls = append(m.reviewCalls, req)
	if m.errorToReturn != nil {
		return "", m.errorToReturn
	}
	if m.reviewErr != nil {
		return "", m.reviewErr
	}
	if len(m.reviews) == 0 {
		return "", nil
	}
	critique := m.reviews[0]
	m.reviews = m.reviews[1:]
	return critique, nil
}

// FixCalls returns all recorded ProposeFix requests.
func (m *Mock) FixCalls() []FixRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]FixRequest, len(m.fixCalls))
	copy(calls, m.fixCalls)
	return calls
}

// RewriteCalls returns all recorded Rewrite requests.
func (m *Mock) RewriteCalls() []RewriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]RewriteRequest, len(m.rewriteCalls))
	copy(calls, m.rewriteCalls)
	return calls
}

// ReviewCalls returns all recorded Review requests.
func (m *Mock) ReviewCalls() []ReviewRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ReviewRequest, len(m.reviewCalls))
	copy(calls, m.reviewCalls)
	return calls
}

// Verify returns an error if any queued responses were not consumed.
func (m *Mock) Verify() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.fixes) + len(m.rewrites) + len(m.reviews) + len(m.identifyResults); n > 0 {
		return fmt.Errorf("mock: %d queued responses not consumed", n)
	}
	return nil
}
