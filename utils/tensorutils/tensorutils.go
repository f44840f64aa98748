// Package tensorutils provides small helpers for working with
// Gorgonia tensors.
package tensorutils

// Slice selects the half-open index range [start, stop) with the given
// step along a single axis of a tensor. It satisfies Gorgonia's
// tensor.Slice interface, so for a tensor T, T.Slice(..., S, ...) is
// equivalent to T[..., S.Start():S.End():S.Step(), ...]
type Slice struct {
	start, stop, step int
}

// NewSlice returns a new Slice that can be used to slice tensors
func NewSlice(start, stop, step int) Slice {
	return Slice{start: start, stop: stop, step: step}
}

// Start returns the first index included in the slice
func (s Slice) Start() int {
	return s.start
}

// End returns the index one past the last index included in the slice
func (s Slice) End() int {
	return s.stop
}

// Step returns the step of the slice
func (s Slice) Step() int {
	return s.step
}
