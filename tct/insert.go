package tct

// Insert is a value headed into a tier, tagged with whether the tier keeps it.
//
// A kept value stays witnessable. A forgotten value contributes exactly the same digest to its
// parent, but only that digest is stored.
type Insert[T any] struct {
	value T
	keep  bool
}

// Keep marks v to be retained and witnessable.
func Keep[T any](v T) Insert[T] {
	return Insert[T]{value: v, keep: true}
}

// Forget marks v to be recorded by digest only.
func Forget[T any](v T) Insert[T] {
	return Insert[T]{value: v}
}

func (i Insert[T]) IsKeep() bool {
	return i.keep
}

// Value returns the carried value regardless of the tag.
func (i Insert[T]) Value() T {
	return i.value
}

// Keep returns the value if it is to be kept.
func (i Insert[T]) Keep() (T, bool) {
	if !i.keep {
		var zero T
		return zero, false
	}
	return i.value, true
}

// MapInsert converts the carried value, preserving the tag.
func MapInsert[T, U any](i Insert[T], f func(T) U) Insert[U] {
	return Insert[U]{value: f(i.value), keep: i.keep}
}
