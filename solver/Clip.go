package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// ClipGradNorm rescales the gradients of model in place so that their
// global L2 norm is at most maxNorm. The global norm is computed over
// all gradients of all learnables in model as if they were
// concatenated into a single vector. The norm computed before any
// rescaling is returned.
//
// Gorgonia Solvers support clipping single gradient values to an
// interval through WithClip. ClipGradNorm instead scales all gradients
// jointly, preserving their direction. Call ClipGradNorm after running
// a virtual machine over a graph with bound dual values, but before
// stepping a Solver on model.
//
// If maxNorm <= 0, the gradients are left unchanged and only the norm
// is returned.
func ClipGradNorm(model []G.ValueGrad, maxNorm float64) (float64, error) {
	grads := make([][]float64, len(model))

	totalSq := 0.0
	for i, learnable := range model {
		grad, err := learnable.Grad()
		if err != nil {
			return 0, fmt.Errorf("clipgradnorm: could not get gradient: %v",
				err)
		}

		data, ok := grad.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("clipgradnorm: gradients must be []float64 "+
				"but got %T", grad.Data())
		}
		grads[i] = data

		for _, g := range data {
			totalSq += g * g
		}
	}
	norm := math.Sqrt(totalSq)

	if maxNorm <= 0 || norm <= maxNorm {
		return norm, nil
	}

	scale := maxNorm / (norm + 1e-6)
	for _, data := range grads {
		for j := range data {
			data[j] *= scale
		}
	}

	return norm, nil
}
