package pendulum

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/utils/floatutils"
)

// reward shaping weights of the swing-up cost
const (
	speedCostWeight  float64 = 0.1
	torqueCostWeight float64 = 0.001
)

// goalAngle is the angle below which the pendulum counts as upright
const goalAngle float64 = math.Pi / 12

// SwingUp implements a task where the agent must swing the pendulum
// up and hold it in a vertical position. Rewards are the negative
// cost
//
//	θ² + 0.1·θ̇² + 0.001·τ²
//
// of the state the action was taken in and the torque applied, so
// the maximum per-step reward of 0 is attained by balancing the
// pendulum upright with no torque. Episodes end at a fixed step
// limit.
type SwingUp struct {
	environment.Starter
	environment.Ender
}

// NewSwingUp creates and returns a new SwingUp task whose episodes
// last maxSteps steps
func NewSwingUp(s environment.Starter, maxSteps int) *SwingUp {
	return &SwingUp{s, environment.NewStepLimit(maxSteps)}
}

// GetReward returns the reward for applying an action in a state
func (s *SwingUp) GetReward(state, action, _ mat.Vector) float64 {
	th := state.AtVec(0)
	thdot := state.AtVec(1)
	torque := floatutils.Clip(action.AtVec(0), MinContinuousAction,
		MaxContinuousAction) * TorqueBound

	return -(th*th + speedCostWeight*thdot*thdot +
		torqueCostWeight*torque*torque)
}

// AtGoal returns whether the argument state has the pendulum upright
func (s *SwingUp) AtGoal(state mat.Matrix) bool {
	return math.Abs(state.At(0, 0)) < goalAngle
}

// Min returns the minimum possible reward
func (s *SwingUp) Min() float64 {
	return -(AngleBound*AngleBound +
		speedCostWeight*SpeedBound*SpeedBound +
		torqueCostWeight*TorqueBound*TorqueBound)
}

// Max returns the maximum possible reward
func (s *SwingUp) Max() float64 {
	return 0.0
}

// RewardSpec returns the reward specification of the Task
func (s *SwingUp) RewardSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{s.Min()})
	upperBound := mat.NewVecDense(1, []float64{s.Max()})

	return environment.NewSpec(shape, environment.Reward, lowerBound,
		upperBound, environment.Continuous)
}
