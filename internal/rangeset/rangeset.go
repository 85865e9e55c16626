// Package rangeset tracks the inclusive address intervals owned by a single
// I/O client. Overlapping intervals are allowed on purpose: routing is
// first-registered-first-matched, and precedence between clients is the
// caller's responsibility.
package rangeset

import (
	"errors"

	"github.com/google/btree"
)

// ErrInvalidRange is returned by Add when end < start.
var ErrInvalidRange = errors.New("rangeset: end is before start")

const btreeDegree = 8

// Range is an inclusive byte interval [Start, End].
type Range struct {
	Start uint64
	End   uint64
}

func rangeLess(a, b Range) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

// Set is an ordered collection of Ranges. It is not safe for concurrent use;
// the owning client serializes access.
type Set struct {
	tree *btree.BTreeG[Range]
}

// New returns an empty Set.
func New() *Set {
	return &Set{tree: btree.NewG(btreeDegree, rangeLess)}
}

// Add registers the interval [start, end]. Adding an interval that is
// already present is a no-op.
func (s *Set) Add(start, end uint64) error {
	if end < start {
		return ErrInvalidRange
	}
	s.tree.ReplaceOrInsert(Range{Start: start, End: end})
	return nil
}

// Remove drops the interval [start, end] if present.
func (s *Set) Remove(start, end uint64) {
	s.tree.Delete(Range{Start: start, End: end})
}

// Contains reports whether an access of the given width at addr falls
// entirely inside one registered interval.
func (s *Set) Contains(addr, width uint64) bool {
	if width == 0 {
		return false
	}
	last := addr + width - 1
	found := false
	s.tree.DescendLessOrEqual(Range{Start: addr, End: ^uint64(0)}, func(r Range) bool {
		if addr >= r.Start && last <= r.End {
			found = true
			return false
		}
		return true
	})
	return found
}

// Len returns the number of registered intervals.
func (s *Set) Len() int {
	return s.tree.Len()
}

// Each calls fn for every interval in ascending start order until fn
// returns false.
func (s *Set) Each(fn func(Range) bool) {
	s.tree.Ascend(fn)
}
