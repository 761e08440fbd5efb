package compose

import (
	"fmt"
	"sort"
	"strings"
)

// ConflictKind classifies a merge conflict.
type ConflictKind string

const (
	ConflictAlias ConflictKind = "alias"
	ConflictRoute ConflictKind = "route"
)

// Claim is one side of a conflict: a value and the fragment that set it.
type Claim struct {
	Value  string
	Source string
}

func (c Claim) String() string {
	if c.Source == "" {
		return fmt.Sprintf("%q", c.Value)
	}
	return fmt.Sprintf("%q (from %s)", c.Value, c.Source)
}

// Conflict records two incompatible assignments to the same key.
type Conflict struct {
	Kind   ConflictKind
	Key    string
	First  Claim
	Second Claim
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s %q: %s vs %s", c.Kind, c.Key, c.First, c.Second)
}

// ConfigConflictError is returned when fragments assign incompatible values to
// the same alias or route key. Conflicts are sorted so the message is stable.
type ConfigConflictError struct {
	Conflicts []Conflict
}

func (e *ConfigConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return "config conflict: " + strings.Join(parts, "; ")
}

// Keys returns the conflicting keys in report order.
func (e *ConfigConflictError) Keys() []string {
	keys := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		keys[i] = c.Key
	}
	return keys
}

// NewConflictError sorts conflicts and wraps them. It returns nil for none.
func NewConflictError(conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	sorted := make([]Conflict, len(conflicts))
	copy(sorted, conflicts)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.First.Value != b.First.Value {
			return a.First.Value < b.First.Value
		}
		return a.Second.Value < b.Second.Value
	})
	return &ConfigConflictError{Conflicts: sorted}
}
