// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package detection

import "sync"

// TargetState is one state in a tracked target's lifecycle:
// Absent -> Seen(value) -> Changing(value_from->value_to) -> Settled(value).
type TargetState int

const (
	StateAbsent TargetState = iota
	StateSeen
	StateChanging
	StateSettled
)

func (s TargetState) String() string {
	switch s {
	case StateSeen:
		return "seen"
	case StateChanging:
		return "changing"
	case StateSettled:
		return "settled"
	default:
		return "absent"
	}
}

type targetEntry struct {
	state           TargetState
	value           string
	pendingFrom     string
	pendingTo       string
	consecutiveSame int
}

// TargetTracker maintains the per-target state machine
// Absent -> Seen -> Changing -> Settled. Only the Changing -> Settled
// transition (two consecutive observations of the same new value)
// emits a field_change; a value still in flux never does.
type TargetTracker struct {
	mu      sync.Mutex
	targets map[string]*targetEntry
}

// NewTargetTracker builds an empty tracker.
func NewTargetTracker() *TargetTracker {
	return &TargetTracker{targets: make(map[string]*targetEntry)}
}

// Observe records a new observed value for target and reports whether
// this observation settles a pending field_change, returning the
// (from, to) pair to emit when it does.
func (t *TargetTracker) Observe(target, value string) (settledFrom, settledTo string, settled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.targets[target]
	if !ok {
		e = &targetEntry{state: StateSeen, value: value, consecutiveSame: 1}
		t.targets[target] = e
		return "", "", false
	}

	switch e.state {
	case StateSeen, StateSettled:
		if value == e.value {
			e.consecutiveSame++
			return "", "", false
		}
		e.state = StateChanging
		e.pendingFrom = e.value
		e.pendingTo = value
		e.consecutiveSame = 1
		return "", "", false

	case StateChanging:
		if value == e.pendingTo {
			e.consecutiveSame++
			if e.consecutiveSame >= 2 {
				from, to := e.pendingFrom, e.pendingTo
				e.state = StateSettled
				e.value = to
				e.consecutiveSame = 1
				return from, to, true
			}
			return "", "", false
		}
		// value changed again mid-transition: restart the pending change.
		e.pendingFrom = e.pendingTo
		e.pendingTo = value
		e.consecutiveSame = 1
		return "", "", false
	}
	return "", "", false
}

// State returns the current state of a target, for metrics/debugging.
func (t *TargetTracker) State(target string) TargetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.targets[target]; ok {
		return e.state
	}
	return StateAbsent
}

// Prune drops tracked targets absent from liveTargets, bounding memory
// when the sliding window ages them out.
func (t *TargetTracker) Prune(liveTargets map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.targets {
		if _, ok := liveTargets[k]; !ok {
			delete(t.targets, k)
		}
	}
}
