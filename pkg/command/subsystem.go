package command

import (
	"context"
	"slices"
)

// Subsystem identifies an exclusive resource such as a drivetrain or an
// intake. Implementations must be comparable; pointer types are the usual
// choice. A command only declares the subsystems it needs, exclusion is
// enforced by whoever schedules it.
type Subsystem interface {
	Name() string
}

// Periodic is implemented by subsystems that need a hook on every scheduler
// step, whether or not a command holds them, e.g. to refresh sensor state.
// The hook runs before any command ticks.
type Periodic interface {
	Periodic(ctx context.Context)
}

// Resource is the minimal Subsystem: a named identity compared by pointer.
type Resource struct {
	name string
}

var _ Subsystem = (*Resource)(nil)

func NewResource(name string) *Resource {
	return &Resource{name: name}
}

func (r *Resource) Name() string   { return r.name }
func (r *Resource) String() string { return r.name }

// Requirements is the ordered list of subsystems a command declared. It may
// hold duplicates; membership tests treat it as a set.
type Requirements []Subsystem

// Contains reports whether s was declared.
func (r Requirements) Contains(s Subsystem) bool {
	return slices.Contains(r, s)
}

// Shared returns the distinct subsystems present in both r and other, in the
// order they appear in r.
func (r Requirements) Shared(other Requirements) Requirements {
	var out Requirements
	for _, s := range r.Unique() {
		if other.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

// Overlaps reports whether r and other have a subsystem in common.
func (r Requirements) Overlaps(other Requirements) bool {
	for _, s := range r {
		if other.Contains(s) {
			return true
		}
	}
	return false
}

// Unique returns r without duplicates, keeping first occurrences.
func (r Requirements) Unique() Requirements {
	out := make(Requirements, 0, len(r))
	for _, s := range r {
		if !out.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

func (r Requirements) Names() []string {
	names := make([]string, 0, len(r))
	for _, s := range r {
		names = append(names, s.Name())
	}
	return names
}
