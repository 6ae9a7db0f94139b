package set

import (
	"cmp"
	"iter"
	"maps"
	"slices"
)

// Set is an unordered collection of distinct comparable values.
type Set[T comparable] map[T]struct{}

func New[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	s.Add(items...)
	return s
}

func (s Set[T]) Add(items ...T) {
	for _, item := range items {
		s[item] = struct{}{}
	}
}

func (s Set[T]) Contains(item T) bool {
	_, ok := s[item]
	return ok
}

func (s Set[T]) Size() int {
	return len(s)
}

// Items yields the members in no particular order.
func (s Set[T]) Items() iter.Seq[T] {
	return maps.Keys(s)
}

// Clone returns a shallow copy that can be handed out without exposing s.
func (s Set[T]) Clone() Set[T] {
	return maps.Clone(s)
}

// Intersects reports whether s and other share at least one member.
func (s Set[T]) Intersects(other Set[T]) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for item := range small {
		if large.Contains(item) {
			return true
		}
	}
	return false
}

// Sorted returns the members ordered by compare.
func Sorted[T comparable](s Set[T], compare func(a, b T) int) []T {
	return slices.SortedFunc(s.Items(), compare)
}

// SortedOrdered returns the members of a set of ordered values in ascending order.
func SortedOrdered[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(s.Items())
}
