// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gotdmpc/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Ender determines when episodes end. If the episode should end at
// the argument timestep, End marks the step as the last in its
// episode and returns true.
type Ender interface {
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme and episode structure for taking
// actions in some environment
type Task interface {
	Starter
	Ender

	// GetReward returns the reward for taking an action in a state,
	// leading to the next state
	GetReward(state, action, nextState mat.Vector) float64

	// AtGoal returns whether the argument state is a goal state
	AtGoal(state mat.Matrix) bool

	Min() float64 // Minimum attainable reward
	Max() float64 // Maximum attainable reward

	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task
	fmt.Stringer

	// Reset resets the environment between episodes and returns the
	// first timestep of the new episode
	Reset() timestep.TimeStep

	// Step takes one environmental step given an action, returning
	// the next timestep and whether it is the last in its episode
	Step(action *mat.VecDense) (timestep.TimeStep, bool)

	// LastTimeStep returns the most recent TimeStep of the environment
	LastTimeStep() timestep.TimeStep

	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
