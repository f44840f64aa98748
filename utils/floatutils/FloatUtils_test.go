package floatutils

import (
	"math"
	"testing"
)

func TestClipAll(t *testing.T) {
	values := []float64{-3.0, -1.0, -0.25, 0.0, 0.99, 1.0, 17.5}
	ClipAll(values, -1.0, 1.0)

	expected := []float64{-1.0, -1.0, -0.25, 0.0, 0.99, 1.0, 1.0}
	for i := range values {
		if values[i] != expected[i] {
			t.Errorf("clipped value at index %d incorrect \n\twant(%v) "+
				"\n\thave(%v)", i, expected[i], values[i])
		}
	}
}

func TestReplaceNonFinite(t *testing.T) {
	values := []float64{1.0, math.NaN(), math.Inf(1), -2.5, math.Inf(-1)}
	ReplaceNonFinite(values, 0.0)

	expected := []float64{1.0, 0.0, 0.0, -2.5, 0.0}
	for i := range values {
		if values[i] != expected[i] {
			t.Errorf("replaced value at index %d incorrect \n\twant(%v) "+
				"\n\thave(%v)", i, expected[i], values[i])
		}
	}
}

func TestArgSortDescending(t *testing.T) {
	values := []float64{0.5, 2.0, -1.0, 2.0, 0.75}
	indices := ArgSortDescending(values)

	// Equal values keep their original relative order
	expected := []int{1, 3, 4, 0, 2}
	for i := range indices {
		if indices[i] != expected[i] {
			t.Errorf("sorted index at position %d incorrect \n\twant(%v) "+
				"\n\thave(%v)", i, expected[i], indices[i])
		}
	}

	for i := range values {
		if values[i] != []float64{0.5, 2.0, -1.0, 2.0, 0.75}[i] {
			t.Error("ArgSortDescending should not mutate its argument")
		}
	}
}
