// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

// Package privacy implements the cross-cutting privacy gate: allowlist
// enforcement at capture ingress, PII-masking provenance, and the
// immediate pause/privacy-mode/emergency-stop controls.
//
// State is published as immutable snapshots swapped atomically, the
// same idiom internal/config uses for its hot-reloaded layers: readers
// never observe a torn update, writers replace wholesale.
package privacy

import (
	"strings"
	"sync/atomic"

	"github.com/watchtower/screenlog/internal/config"
)

// Scope is one of the two rule scopes; per-display overrides global.
type Scope struct {
	Allow map[string]struct{}
	Block map[string]struct{}
}

func newScope(rules []string) Scope {
	s := Scope{Allow: map[string]struct{}{}, Block: map[string]struct{}{}}
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if strings.HasPrefix(r, "!") {
			s.Block[strings.ToLower(r[1:])] = struct{}{}
		} else {
			s.Allow[strings.ToLower(r)] = struct{}{}
		}
	}
	return s
}

// snapshot is one immutable allowlist configuration version.
type snapshot struct {
	mode       string // "allowlist" or "blocklist"
	global     Scope
	perDisplay map[string]Scope
}

// Gate evaluates should_capture(app, display) in O(1). Config changes
// take effect on the next ShouldCapture call without restarting capture
// sessions; no change notification is sent to subscribers.
type Gate struct {
	current atomic.Pointer[snapshot]
	subs    chan struct{} // not signalled: Publish neither closes nor replaces it
}

// NewGate builds a Gate from the initial privacy config.
func NewGate(cfg config.PrivacyConfig) *Gate {
	g := &Gate{}
	g.Publish(cfg)
	return g
}

// Publish atomically swaps in a new allowlist/blocklist configuration.
// Existing ShouldCapture callers immediately observe the new rules;
// no session restart is required.
func (g *Gate) Publish(cfg config.PrivacyConfig) {
	snap := &snapshot{
		mode:       cfg.Mode,
		global:     newScope(cfg.GlobalRules),
		perDisplay: make(map[string]Scope, len(cfg.PerDisplayRules)),
	}
	for display, rules := range cfg.PerDisplayRules {
		snap.perDisplay[display] = newScope(rules)
	}
	g.current.Store(snap)
}

// ShouldCapture reports whether frames from appBundleID on displayID
// should be captured. Block always wins within a scope; per-display
// wins over global. In "blocklist" mode, apps not explicitly blocked
// are captured by default; in "allowlist" mode, apps not explicitly
// allowed are dropped by default.
func (g *Gate) ShouldCapture(appBundleID, displayID string) bool {
	snap := g.current.Load()
	if snap == nil {
		return true
	}
	app := strings.ToLower(appBundleID)

	if per, ok := snap.perDisplay[displayID]; ok {
		if _, blocked := per.Block[app]; blocked {
			return false
		}
		if _, allowed := per.Allow[app]; allowed {
			return true
		}
	}
	if _, blocked := snap.global.Block[app]; blocked {
		return false
	}
	if _, allowed := snap.global.Allow[app]; allowed {
		return true
	}
	return snap.mode != "allowlist"
}
