// Package patientset provides the patient-id set type used by the cohort
// computations. All cohort operations produce and consume these sets, so
// union/difference/intersection stay O(n) with hash lookups.
package patientset

import (
	"sort"

	"github.com/google/uuid"
)

// Set is a set of patient ids.
type Set map[uuid.UUID]struct{}

// New returns a set containing the given patient ids.
func New(ids ...uuid.UUID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Add(id uuid.UUID) {
	s[id] = struct{}{}
}

func (s Set) Contains(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Union returns a new set with the members of s and others.
func (s Set) Union(others ...Set) Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	for _, o := range others {
		for id := range o {
			out[id] = struct{}{}
		}
	}
	return out
}

// Diff returns the members of s not present in any of the others.
func (s Set) Diff(others ...Set) Set {
	out := make(Set)
	for id := range s {
		excluded := false
		for _, o := range others {
			if o.Contains(id) {
				excluded = true
				break
			}
		}
		if !excluded {
			out[id] = struct{}{}
		}
	}
	return out
}

// Intersect returns the members of s present in other.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for id := range s {
		if other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// IDs returns the members sorted by their string form, for stable JSON output.
func (s Set) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
