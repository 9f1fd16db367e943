// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"fmt"
	"sync"
)

// State is a phase of the fix loop for one issue.
type State string

const (
	// StatePlanning selects candidate files and reads their content.
	StatePlanning State = "PLANNING"

	// StateExecuting asks the engine for edits and applies them.
	StateExecuting State = "EXECUTING"

	// StateReviewing asks the engine to critique the applied edits.
	StateReviewing State = "REVIEWING"

	// StateDone is terminal. The Result's Outcome says why.
	StateDone State = "DONE"
)

// AllStates returns every loop state.
func AllStates() []State {
	return []State{StatePlanning, StateExecuting, StateReviewing, StateDone}
}

// Outcome explains why the loop stopped.
type Outcome string

const (
	// OutcomeApproved means the reviewer accepted the changes.
	OutcomeApproved Outcome = "approved"

	// OutcomeSingleShot means the changes were applied with review
	// disabled, so they stand without a verdict.
	OutcomeSingleShot Outcome = "single_shot"

	// OutcomeNoChanges means no candidate file could be identified or
	// no edit was produced.
	OutcomeNoChanges Outcome = "no_changes"

	// OutcomeCycleDetected means the reviewer repeated a critique
	// verbatim, so further attempts would not converge.
	OutcomeCycleDetected Outcome = "cycle_detected"

	// OutcomeExhausted means the attempt budget ran out with the
	// reviewer still objecting.
	OutcomeExhausted Outcome = "exhausted"
)

// StateMachine enforces the fix loop's transition graph:
//
//	PLANNING → EXECUTING   : Candidates selected
//	PLANNING → DONE        : No candidates (no_changes)
//	EXECUTING → REVIEWING  : Edits applied, review enabled
//	EXECUTING → DONE       : No edits, or review disabled
//	REVIEWING → PLANNING   : Critique received, retry from discovery
//	REVIEWING → DONE       : Approved, cycle, or budget exhausted
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[State]map[State]bool

	// current is the loop's present state.
	current State
}

// NewStateMachine creates a state machine positioned at PLANNING.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[State]map[State]bool),
		current:     StatePlanning,
	}

	for _, state := range AllStates() {
		sm.transitions[state] = make(map[State]bool)
	}

	sm.addTransition(StatePlanning, StateExecuting)
	sm.addTransition(StatePlanning, StateDone)

	sm.addTransition(StateExecuting, StateReviewing)
	sm.addTransition(StateExecuting, StateDone)

	sm.addTransition(StateReviewing, StatePlanning)
	sm.addTransition(StateReviewing, StateDone)

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to State) {
	sm.transitions[from][to] = true
}

// Current returns the loop's present state.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransition checks whether moving from one state to another is valid.
func (sm *StateMachine) CanTransition(from, to State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition moves the machine to the target state.
//
// Outputs:
//
//	error - Non-nil if the transition is not in the graph.
func (sm *StateMachine) Transition(to State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.transitions[sm.current][to] {
		return fmt.Errorf("loop: invalid transition %s -> %s", sm.current, to)
	}
	sm.current = to
	return nil
}
