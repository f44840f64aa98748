// Package scale provides running normalizers for value estimates
package scale

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// epsilon is the floor applied to the scale before division so that a
// degenerate scale can never blow up normalized values
const epsilon float64 = 1e-8

// percentile bounds of the spread statistic
const (
	lowerPercentile float64 = 0.05
	upperPercentile float64 = 0.95
)

// RunningScale maintains a running estimate of the spread of a stream
// of value estimates. Each Update ingests one batch of values and
// moves the estimate toward the batch statistic
//
//	max(p95 - p5, |p95|)
//
// by an exponential smoothing factor. The first Update initializes
// the estimate to the batch statistic directly. Apply divides values
// by the current estimate, floored at a small epsilon.
//
// The estimate only ever changes through Update. In particular it is
// never affected by gradient updates of the values it normalizes, and
// it is never reset over the lifetime of an agent.
type RunningScale struct {
	scale       float64
	tau         float64
	initialized bool
}

// NewRunningScale returns a new RunningScale with smoothing factor tau
func NewRunningScale(tau float64) (*RunningScale, error) {
	if tau <= 0.0 || tau > 1.0 {
		return nil, fmt.Errorf("newRunningScale: tau must be in (0, 1] "+
			"\n\thave(%v)", tau)
	}
	return &RunningScale{tau: tau}, nil
}

// Update ingests a batch of values and updates the running spread
// estimate
func (r *RunningScale) Update(values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("update: cannot update scale from an empty batch")
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pLow := stat.Quantile(lowerPercentile, stat.LinInterp, sorted, nil)
	pHigh := stat.Quantile(upperPercentile, stat.LinInterp, sorted, nil)
	spread := math.Max(pHigh-pLow, math.Abs(pHigh))

	if !r.initialized {
		r.scale = spread
		r.initialized = true
	} else {
		r.scale += r.tau * (spread - r.scale)
	}
	return nil
}

// Value returns the current spread estimate
func (r *RunningScale) Value() float64 {
	return r.scale
}

// Inv returns the multiplier 1 / max(scale, epsilon) that Apply
// multiplies values by
func (r *RunningScale) Inv() float64 {
	return 1.0 / math.Max(r.scale, epsilon)
}

// Apply normalizes values in-place by the current spread estimate and
// returns the slice
func (r *RunningScale) Apply(values []float64) []float64 {
	inv := r.Inv()
	for i := range values {
		values[i] *= inv
	}
	return values
}
