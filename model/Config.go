package model

import (
	"fmt"

	"github.com/samuelfneumann/gotdmpc/initwfn"
	"github.com/samuelfneumann/gotdmpc/network"
)

// Config describes the architecture of a LatentModel. All prediction
// heads share the hidden layer architecture described by HiddenSizes,
// Biases, and Activations, differing only in their input and output
// dimensions.
type Config struct {
	Features   int // Observation features
	ActionDims int // Action dimensions
	LatentDims int // Latent state dimensions

	// Value ensemble and two-hot return decoding
	NumQ    int
	NumBins int
	VMin    float64
	VMax    float64

	// Hidden layers of each prediction head. A final linear layer
	// mapping to each head's output dimensions is always added.
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	InitWFn     *initwfn.InitWFn

	// Tau is the Polyak averaging constant for target value updates
	Tau float64

	// Bounds on the log standard deviation of the policy head
	LogStdMin float64
	LogStdMax float64
}

// Validate ensures that the Config is valid, returning an error
// describing the first problem found.
func (c Config) Validate() error {
	if c.Features <= 0 {
		return fmt.Errorf("validate: features must be positive \n\t"+
			"have(%v)", c.Features)
	}
	if c.ActionDims <= 0 {
		return fmt.Errorf("validate: action dimensions must be "+
			"positive \n\thave(%v)", c.ActionDims)
	}
	if c.LatentDims <= 0 {
		return fmt.Errorf("validate: latent dimensions must be "+
			"positive \n\thave(%v)", c.LatentDims)
	}
	if c.NumQ <= 0 {
		return fmt.Errorf("validate: ensemble needs at least one "+
			"value head \n\thave(%v)", c.NumQ)
	}
	if c.NumBins < 0 {
		return fmt.Errorf("validate: bins cannot be negative \n\t"+
			"have(%v)", c.NumBins)
	}
	if c.NumBins > 1 && c.VMax <= c.VMin {
		return fmt.Errorf("validate: value support is empty \n\t"+
			"vMin(%v) \n\tvMax(%v)", c.VMin, c.VMax)
	}
	if len(c.HiddenSizes) != len(c.Biases) {
		return fmt.Errorf("validate: invalid number of biases \n\t"+
			"want(%v) \n\thave(%v)", len(c.HiddenSizes), len(c.Biases))
	}
	if len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("validate: invalid number of activations "+
			"\n\twant(%v) \n\thave(%v)", len(c.HiddenSizes),
			len(c.Activations))
	}
	for i, act := range c.Activations {
		if act == nil {
			return fmt.Errorf("validate: activation at index %v is "+
				"nil", i)
		}
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer given")
	}
	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("validate: tau must be in (0, 1] \n\t"+
			"have(%v)", c.Tau)
	}
	if c.LogStdMax <= c.LogStdMin {
		return fmt.Errorf("validate: log std bounds are empty \n\t"+
			"min(%v) \n\tmax(%v)", c.LogStdMin, c.LogStdMax)
	}
	return nil
}
