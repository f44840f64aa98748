// Package twohot implements a discretized two-hot codec for scalar
// regression targets.
//
// A continuous scalar is first mapped through a symmetric logarithm to
// compress its magnitude, then represented as a categorical
// distribution over a fixed grid of bins: all probability mass is
// split between the two bins adjacent to the transformed value, in
// proportion to its distance from each. Predictions are categorical
// logits over the same grid, decoded back to a scalar by taking the
// probability-weighted bin value and inverting the symmetric
// logarithm.
package twohot

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gotdmpc/utils/floatutils"
)

// Symlog calculates the symmetric logarithm sign(x) * log(1 + |x|),
// which compresses large magnitudes while staying identity-like and
// smooth around 0.
func Symlog(x float64) float64 {
	if x < 0 {
		return -math.Log1p(-x)
	}
	return math.Log1p(x)
}

// Symexp calculates the inverse of Symlog: sign(x) * (exp(|x|) - 1)
func Symexp(x float64) float64 {
	if x < 0 {
		return -math.Expm1(-x)
	}
	return math.Expm1(x)
}

// Codec encodes scalars into two-hot categorical distributions over a
// fixed bin grid and decodes categorical predictions back to scalars.
//
// Two degenerate grids are supported. With a single bin the codec
// falls back to direct regression in symmetric-log space: Encode
// returns the symmetric log of the scalar and Decode inverts it. With
// zero bins the codec is the identity and no transformation is
// applied at all.
type Codec struct {
	numBins    int
	vMin, vMax float64
	binSize    float64
	centers    []float64
}

// New returns a new Codec with numBins bins spaced uniformly over
// [vMin, vMax] in symmetric-log space.
func New(numBins int, vMin, vMax float64) (*Codec, error) {
	if numBins < 0 {
		return nil, fmt.Errorf("new: numBins must be non-negative \n\t"+
			"have(%v)", numBins)
	}
	if numBins > 1 && vMin >= vMax {
		return nil, fmt.Errorf("new: vMin must be less than vMax \n\t"+
			"have(vMin: %v, vMax: %v)", vMin, vMax)
	}

	c := &Codec{
		numBins: numBins,
		vMin:    vMin,
		vMax:    vMax,
	}
	if numBins > 1 {
		c.binSize = (vMax - vMin) / float64(numBins-1)
		c.centers = make([]float64, numBins)
		for i := range c.centers {
			c.centers[i] = vMin + float64(i)*c.binSize
		}
	}
	return c, nil
}

// NumBins returns the number of bins in the codec's grid
func (c *Codec) NumBins() int {
	return c.numBins
}

// Width returns the number of units a network head predicting this
// codec's representation must output
func (c *Codec) Width() int {
	if c.numBins > 1 {
		return c.numBins
	}
	return 1
}

// Centers returns a copy of the bin values in symmetric-log space
func (c *Codec) Centers() []float64 {
	centers := make([]float64, len(c.centers))
	copy(centers, c.centers)
	return centers
}

// Encode returns the two-hot representation of x. The returned slice
// has length Width().
func (c *Codec) Encode(x float64) []float64 {
	dst := make([]float64, c.Width())
	c.EncodeInto(x, dst)
	return dst
}

// EncodeInto writes the two-hot representation of x into dst, which
// must have length Width(). The transformed scalar is clamped into
// the bin grid, so values outside [vMin, vMax] in symmetric-log space
// saturate at the outermost bins.
func (c *Codec) EncodeInto(x float64, dst []float64) {
	if len(dst) != c.Width() {
		panic(fmt.Sprintf("encodeInto: destination length mismatch "+
			"\n\twant(%v) \n\thave(%v)", c.Width(), len(dst)))
	}

	switch c.numBins {
	case 0:
		dst[0] = x
		return
	case 1:
		dst[0] = Symlog(x)
		return
	}

	for i := range dst {
		dst[i] = 0.0
	}

	s := floatutils.Clip(Symlog(x), c.vMin, c.vMax)
	idx := int(math.Floor((s - c.vMin) / c.binSize))
	offset := (s-c.vMin)/c.binSize - float64(idx)
	if idx >= c.numBins-1 {
		idx = c.numBins - 1
		offset = 0.0
	}

	dst[idx] = 1.0 - offset
	if offset > 0 {
		dst[idx+1] = offset
	}
}

// Decode returns the scalar represented by a categorical distribution
// over the bin grid. probs must have length Width() and rows should
// sum to 1; for the degenerate grids the single entry is inverted
// directly.
func (c *Codec) Decode(probs []float64) float64 {
	if len(probs) != c.Width() {
		panic(fmt.Sprintf("decode: distribution length mismatch "+
			"\n\twant(%v) \n\thave(%v)", c.Width(), len(probs)))
	}

	switch c.numBins {
	case 0:
		return probs[0]
	case 1:
		return Symexp(probs[0])
	}

	expectation := 0.0
	for i, p := range probs {
		expectation += p * c.centers[i]
	}
	return Symexp(expectation)
}

// DecodeLogits softmaxes a batch row of unnormalized logits over the
// bin grid and returns the decoded scalar
func (c *Codec) DecodeLogits(logits []float64) float64 {
	if c.numBins <= 1 {
		return c.Decode(logits)
	}

	max := floatutils.Max(logits...)
	sum := 0.0
	expectation := 0.0
	for i, logit := range logits {
		p := math.Exp(logit - max)
		sum += p
		expectation += p * c.centers[i]
	}
	return Symexp(expectation / sum)
}
