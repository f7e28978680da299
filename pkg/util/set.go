package util

// Set holds unique comparable values. The zero map is a usable empty set
// for reads; use SetOf or make before adding
type Set[T comparable] map[T]struct{}

// SetOf builds a set from the given values, collapsing duplicates
func SetOf[T comparable](values ...T) Set[T] {
	res := make(Set[T], len(values))
	for _, v := range values {
		res.Add(v)
	}
	return res
}

// Add inserts a value. Inserting an existing value is a no-op
func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

// Remove drops a value, present or not
func (s Set[T]) Remove(v T) {
	delete(s, v)
}

// Contains reports whether the value is in the set
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of distinct values
func (s Set[T]) Len() int {
	return len(s)
}

// Empty reports whether the set holds nothing
func (s Set[T]) Empty() bool {
	return len(s) == 0
}
