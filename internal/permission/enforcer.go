// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package permission provides glob-based permission checks for elevated
// broker operations.
//
// Pattern matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "drm.*" matches "drm.certificates" but not "drm.certificates.sign"
//   - "drm.**" matches both
//   - "**" matches any permission
package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks caller permissions at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use
// without calling NewEnforcer.
type Enforcer struct {
	grants map[string][]compiledGrant // subject -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a permission enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants configures permissions for a subject (a caller identity).
// The slice is copied; calling SetGrants again for the same subject
// replaces all previous grants. If any pattern fails to compile, no
// changes are made.
func (e *Enforcer) SetGrants(subject string, permissions []string) error {
	if subject == "" {
		return errors.New("subject cannot be empty")
	}

	compiled := make([]compiledGrant, len(permissions))
	for i, pattern := range permissions {
		if pattern == "" {
			return fmt.Errorf("permission %d: empty permission pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("permission %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[subject] = compiled
	return nil
}

// RemoveGrants drops all permissions for a subject.
func (e *Enforcer) RemoveGrants(subject string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, subject)
}

// Allow reports whether the subject holds a grant matching permission.
// Unknown subjects hold nothing.
func (e *Enforcer) Allow(subject, perm string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[subject] {
		if g.glob.Match(perm) {
			return true
		}
	}
	return false
}
