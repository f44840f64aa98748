package pendulum

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/timestep"
	"github.com/samuelfneumann/gotdmpc/utils/floatutils"
)

// Continuous implements the pendulum environment with continuous
// actions. Actions are 1-dimensional normalized torques in [-1, 1],
// scaled by the environment to [-TorqueBound, TorqueBound]. Actions
// outside the legal range are clipped to stay within it.
//
// Continuous implements the environment.Environment interface
type Continuous struct {
	*base
}

// NewContinuous creates and returns a new Continuous environment
func NewContinuous(t environment.Task, discount float64) (*Continuous,
	timestep.TimeStep) {
	baseEnv, firstStep := newBase(t, discount)

	return &Continuous{baseEnv}, firstStep
}

// Step takes one environmental step given action a and returns the
// next timestep and a bool indicating whether or not the episode has
// ended
func (p *Continuous) Step(action *mat.VecDense) (timestep.TimeStep,
	bool) {
	if action.Len() != ActionDims {
		panic(fmt.Sprintf("step: actions should be %v-dimensional",
			ActionDims))
	}

	// Actions are normalized torques
	normalized := floatutils.Clip(action.AtVec(0), MinContinuousAction,
		MaxContinuousAction)
	torque := normalized * TorqueBound

	nextState := p.nextState(p.lastStep, torque)

	return p.update(action, nextState)
}

// ActionSpec returns the action specification of the environment
func (p *Continuous) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(ActionDims, nil)

	lowerBound := mat.NewVecDense(ActionDims,
		[]float64{MinContinuousAction})
	upperBound := mat.NewVecDense(ActionDims,
		[]float64{MaxContinuousAction})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Continuous)
}
