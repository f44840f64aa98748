package tdmpc

import (
	"github.com/samuelfneumann/gotdmpc/utils/floatutils"
)

// discountFor returns the value bootstrapping discount for a task with
// the given episode length. A nonzero hardcoded override is returned
// unchanged. Otherwise the discount grows with episode length as
// (frac - 1) / frac, where frac = episodeLength / denom, clamped into
// [DiscountMin, DiscountMax]. Degenerate episode lengths saturate at
// the bounds.
func discountFor(episodeLength int, c Config) float64 {
	if c.DiscountHardcoded != 0 {
		return c.DiscountHardcoded
	}

	frac := float64(episodeLength) / c.DiscountDenom
	return floatutils.Clip((frac-1.0)/frac, c.DiscountMin, c.DiscountMax)
}

// discounts returns one bootstrapping discount per task
func discounts(c Config) []float64 {
	out := make([]float64, len(c.EpisodeLengths))
	for i, length := range c.EpisodeLengths {
		out[i] = discountFor(length, c)
	}
	return out
}
