// Screenlog - Local Screen Activity Recording and Analysis
// Copyright 2026 The Screenlog Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchtower/screenlog

package perception

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// builtinPatterns are the default redactors: credit-card, SSN, email,
// phone. Compiled once at Masker construction, never per-row.
var builtinPatterns = []struct {
	name string
	expr string
}{
	{"credit_card", `\b(?:\d[ -]?){13,16}\b`},
	{"ssn", `\b\d{3}-\d{2}-\d{4}\b`},
	{"email", `\b[\w.+-]+@[\w-]+\.[\w.-]+\b`},
	{"phone", `\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`},
}

// Redactor is one compiled, versioned masking pattern.
type Redactor struct {
	Name    string
	Version int
	re      *regexp.Regexp
}

// Masker applies every configured redactor to OCR text before it is
// persisted. The original text is never retained; a provenance flag
// on the row records that masking ran, so downstream components can't
// "unmask by correlation" against a hypothetical unmasked copy.
type Masker struct {
	mu        sync.RWMutex
	redactors []Redactor
}

// NewMasker builds a Masker with the builtin redactors plus any
// user-supplied extra patterns. Extra patterns are validated against
// catastrophic-backtracking shapes before being compiled.
func NewMasker(extra map[string]string) (*Masker, error) {
	m := &Masker{}
	for _, b := range builtinPatterns {
		re, err := regexp.Compile(b.expr)
		if err != nil {
			return nil, fmt.Errorf("perception: compile builtin redactor %s: %w", b.name, err)
		}
		m.redactors = append(m.redactors, Redactor{Name: b.name, Version: 1, re: re})
	}
	for name, expr := range extra {
		if err := checkBacktrackSafety(expr); err != nil {
			return nil, fmt.Errorf("perception: redactor %s: %w", name, err)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("perception: compile redactor %s: %w", name, err)
		}
		m.redactors = append(m.redactors, Redactor{Name: name, Version: 1, re: re})
	}
	return m, nil
}

// AddPattern validates and appends a user-extended redactor at
// runtime, versioned independently of the builtin set.
func (m *Masker) AddPattern(name, expr string, version int) error {
	if err := checkBacktrackSafety(expr); err != nil {
		return fmt.Errorf("perception: redactor %s: %w", name, err)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("perception: compile redactor %s: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redactors = append(m.redactors, Redactor{Name: name, Version: version, re: re})
	return nil
}

// Mask replaces every redactor match in text with "[redacted:<name>]"
// and reports whether any redactor fired.
func (m *Masker) Mask(text string) (masked string, applied bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := text
	for _, r := range m.redactors {
		replaced := r.re.ReplaceAllString(out, "[redacted:"+r.Name+"]")
		if replaced != out {
			applied = true
		}
		out = replaced
	}
	return out, applied
}

// checkBacktrackSafety rejects a small set of regex shapes known to
// cause catastrophic backtracking against adversarial input: nested
// quantifiers like (a+)+ or (.*)+ with no intervening anchor. This is
// a heuristic scan, not a full analysis of Go's RE2 engine (RE2 itself
// is linear-time and immune to classic backtracking blowup, but we
// still reject the shape so a pattern doesn't behave pathologically
// if the regexp backend ever changes).
func checkBacktrackSafety(expr string) error {
	suspects := []string{"+)+", "+)*", "*)*", "*)+"}
	for _, s := range suspects {
		if strings.Contains(expr, s) {
			return fmt.Errorf("pattern %q has a nested-quantifier shape (%q) rejected as unsafe", expr, s)
		}
	}
	return nil
}
