// Package pendulum implements the pendulum classic control environment
package pendulum

import (
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/timestep"
	"github.com/samuelfneumann/gotdmpc/utils/floatutils"
)

// default physical constants
const (
	AngleBound  float64 = math.Pi // +/- Angle bounds
	SpeedBound  float64 = 8.0     // +/- Speed bounds
	TorqueBound float64 = 2.0     // +/- Torque bounds

	// Agent actions are normalized torques in [-1, 1], scaled to the
	// torque bounds by the environment
	MaxContinuousAction float64 = 1.0
	MinContinuousAction float64 = -MaxContinuousAction

	dt              float64 = 0.05
	Gravity         float64 = 9.8
	Mass            float64 = 1.0
	Length          float64 = 1.0
	ActionDims      int     = 1
	ObservationDims int     = 2
)

// rendered frame dimensions in pixels
const (
	frameWidth  int = 500
	frameHeight int = 500
)

// base implements the dynamics of the pendulum environment. A
// pendulum is attached to a fixed base. An agent can swing the
// pendulum back and forth, but the swinging torque is underpowered.
// In order to swing the pendulum straight up, it must first be rocked
// back and forth, using the momentum to gradually climb higher until
// the pendulum can point straight up.
//
// State features consist of the angle of the pendulum from the
// positive y-axis and the angular velocity of the pendulum. Both
// state features are bounded by the AngleBound and SpeedBound
// constants in this package. The sign of the angular velocity
// indicates direction, with negative sign indicating counter
// clockwise rotation. The angular velocity is clipped to
// [-SpeedBound, SpeedBound]. Angles are normalized to stay within
// [-AngleBound, AngleBound] = [-π, π].
type base struct {
	environment.Task
	dt           float64
	gravity      float64
	mass         float64
	length       float64
	angleBounds  r1.Interval
	speedBounds  r1.Interval
	torqueBounds r1.Interval
	lastStep     timestep.TimeStep
	discount     float64

	backgroundShade color.Color
	rodShade        color.Color
	bobShade        color.Color
	pivotShade      color.Color
}

// newBase creates and returns a new base environment
func newBase(t environment.Task, d float64) (*base, timestep.TimeStep) {
	angleBounds := r1.Interval{Min: -AngleBound, Max: AngleBound}
	speedBounds := r1.Interval{Min: -SpeedBound, Max: SpeedBound}
	torqueBounds := r1.Interval{Min: -TorqueBound, Max: TorqueBound}

	state := t.Start()
	validateState(state, angleBounds, speedBounds)

	firstStep := timestep.New(timestep.First, 0.0, d, state, 0)

	pendulum := base{
		Task:         t,
		dt:           dt,
		gravity:      Gravity,
		mass:         Mass,
		length:       Length,
		angleBounds:  angleBounds,
		speedBounds:  speedBounds,
		torqueBounds: torqueBounds,
		lastStep:     firstStep,
		discount:     d,

		backgroundShade: color.RGBA{R: 30, G: 30, B: 30, A: 255},
		rodShade:        color.RGBA{R: 128, G: 102, B: 230, A: 255},
		bobShade:        color.RGBA{R: 255, G: 166, B: 0, A: 255},
		pivotShade:      color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}

	return &pendulum, firstStep
}

// LastTimeStep returns the most recent TimeStep of the environment
func (p *base) LastTimeStep() timestep.TimeStep {
	return p.lastStep
}

// Reset resets the environment and returns a starting state drawn
// from the Starter
func (p *base) Reset() timestep.TimeStep {
	state := p.Start()
	validateState(state, p.angleBounds, p.speedBounds)
	startStep := timestep.New(timestep.First, 0.0, p.discount, state, 0)
	p.lastStep = startStep

	return startStep
}

// nextState computes the next state of the environment given a
// timestep and an amount of torque to apply at the pendulum's fixed
// base. The torque is first clipped to the torque bounds.
func (p *base) nextState(t timestep.TimeStep, torque float64) *mat.VecDense {
	obs := t.Observation
	th, thdot := obs.AtVec(0), obs.AtVec(1)

	torque = floatutils.ClipInterval(torque, p.torqueBounds)

	newthdot := thdot + (-3*p.gravity/(2*p.length)*math.Sin(th+math.Pi)+
		3.0/(p.mass*math.Pow(p.length, 2))*torque)*p.dt

	newth := th + (newthdot * p.dt)

	// Clip the angular velocity
	newthdot = floats.Min([]float64{newthdot, p.speedBounds.Max})
	newthdot = floats.Max([]float64{newthdot, p.speedBounds.Min})

	// Normalize the angle
	newth = normalizeAngle(newth, p.angleBounds)

	return mat.NewVecDense(2, []float64{newth, newthdot})
}

// update constructs the timestep of a transition to newState under
// action and records it as the most recent step of the environment
func (p *base) update(action, newState *mat.VecDense) (timestep.TimeStep,
	bool) {
	reward := p.GetReward(p.lastStep.Observation, action, newState)
	nextStep := timestep.New(timestep.Mid, reward, p.discount, newState,
		p.lastStep.Number+1)

	p.End(&nextStep)

	p.lastStep = nextStep
	return nextStep, nextStep.Last()
}

// DiscountSpec returns the discount specification of the environment
func (p *base) DiscountSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	bound := mat.NewVecDense(1, []float64{p.discount})

	return environment.NewSpec(shape, environment.Discount, bound, bound,
		environment.Continuous)
}

// ObservationSpec returns the observation specification of the
// environment
func (p *base) ObservationSpec() environment.Spec {
	shape := mat.NewVecDense(ObservationDims, nil)

	minObs := []float64{p.angleBounds.Min, p.speedBounds.Min}
	lowerBound := mat.NewVecDense(ObservationDims, minObs)

	maxObs := []float64{p.angleBounds.Max, p.speedBounds.Max}
	upperBound := mat.NewVecDense(ObservationDims, maxObs)

	return environment.NewSpec(shape, environment.Observation, lowerBound,
		upperBound, environment.Continuous)
}

// String converts the environment to a string representation
func (p *base) String() string {
	str := "Pendulum  |  theta: %v  |  theta dot: %v\n"
	theta := p.lastStep.Observation.AtVec(0)
	thetadot := p.lastStep.Observation.AtVec(1)

	return fmt.Sprintf(str, theta, thetadot)
}

// Render draws the current state of the environment to a PNG file
// with the argument frame number in its name
func (p *base) Render(frame int) error {
	dc := gg.NewContext(frameWidth, frameHeight)
	dc.SetColor(p.backgroundShade)
	dc.Clear()

	// The pendulum hangs from the frame center; angle 0 points up
	angle := p.lastStep.Observation.AtVec(0)
	rod := float64(frameHeight) / 2.5 * p.length
	cx, cy := float64(frameWidth)/2, float64(frameHeight)/2
	tipX := cx + math.Sin(angle)*rod
	tipY := cy - math.Cos(angle)*rod

	dc.SetColor(p.rodShade)
	dc.SetLineWidth(6.0)
	dc.DrawLine(cx, cy, tipX, tipY)
	dc.Stroke()

	dc.ClearPath()
	dc.SetColor(p.bobShade)
	dc.DrawCircle(tipX, tipY, 18.0)
	dc.Fill()

	dc.ClearPath()
	dc.SetColor(p.pivotShade)
	dc.DrawCircle(cx, cy, 8.0)
	dc.Fill()

	return dc.SavePNG(fmt.Sprintf("./Pendulum%v.png", frame))
}

// normalizeAngle normalizes the pendulum angle to the angle limits
func normalizeAngle(th float64, angleBounds r1.Interval) float64 {
	if angleBounds.Max != -angleBounds.Min {
		panic("angle bounds should be centered around 0")
	}

	if th > angleBounds.Max {
		divisor := int(th / angleBounds.Max)
		return -math.Pi + th - (angleBounds.Max * float64(divisor))
	} else if th < angleBounds.Min {
		divisor := int(th / angleBounds.Min)
		return math.Pi + th - (angleBounds.Min * float64(divisor))
	} else {
		return th
	}
}

// validateState panics unless the angle and angular velocity are
// within the environmental limits
func validateState(obs mat.Vector, angleBounds, speedBounds r1.Interval) {
	thWithinBounds := obs.AtVec(0) <= angleBounds.Max &&
		obs.AtVec(0) >= angleBounds.Min
	if !thWithinBounds {
		panic(fmt.Sprintf("theta is not within bounds %v", angleBounds))
	}

	thdotWithinBounds := obs.AtVec(1) <= speedBounds.Max &&
		obs.AtVec(1) >= speedBounds.Min
	if !thdotWithinBounds {
		panic(fmt.Sprintf("theta dot is not within bounds %v", speedBounds))
	}
}
