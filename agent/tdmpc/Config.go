package tdmpc

import (
	"fmt"
	"reflect"

	"github.com/samuelfneumann/gotdmpc/agent"
	env "github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/model"
	"github.com/samuelfneumann/gotdmpc/solver"
)

func init() {
	// Register ConfigList type so that it can be typed using
	// agent.TypedConfigList to help with serialization/deserialization.
	agent.Register(agent.TDMPCMLP, ConfigList{})
}

// ConfigList implements functionality for storing a list of Config's
// in a simple way. Instead of storing a slice of Configs, the
// ConfigList stores each field's values and constructs the list by
// every combination of field values.
type ConfigList struct {
	// Planning
	Horizon     []int
	NumSamples  []int
	NumPiTrajs  []int
	NumElites   []int
	Iterations  []int
	Temperature []float64
	MinStd      []float64
	MaxStd      []float64
	MPC         []bool

	// Value bootstrapping discount
	DiscountMin       []float64
	DiscountMax       []float64
	DiscountDenom     []float64
	DiscountHardcoded []float64

	// Update engine
	Rho             []float64
	EntropyCoef     []float64
	ConsistencyCoef []float64
	RewardCoef      []float64
	ValueCoef       []float64
	GradClipNorm    []float64
	ActionPenalty   []bool
	EncoderLRScale  []float64

	Solver   []*solver.Solver
	PiSolver []*solver.Solver

	// Sequence replay
	BufferCapacity    []int
	BufferMinCapacity []int
	BatchSize         []int

	// Tasks
	EpisodeLengths [][]int
	ActionMasks    [][][]float64

	Model []model.Config
}

// NewConfigList types the argument ConfigList and returns it as an
// agent.TypedConfigList, which can safely be JSON serialized and
// deserialized without specifying what the type of the ConfigList is.
func NewConfigList(c ConfigList) agent.TypedConfigList {
	return agent.NewTypedConfigList(c)
}

// Type returns the type of Config stored in the list
func (c ConfigList) Type() agent.Type {
	return agent.TDMPCMLP
}

// NumFields gets the total number of settable fields/hyperparameters
// for the agent configuration
func (c ConfigList) NumFields() int {
	rValue := reflect.ValueOf(c)
	return rValue.NumField()
}

// Config returns an empty Config that is of the type stored by
// ConfigList
func (c ConfigList) Config() agent.Config {
	return Config{}
}

// Len returns the number of configurations stored in the list
func (c ConfigList) Len() int {
	total := 1
	rValue := reflect.ValueOf(c)
	for i := 0; i < rValue.NumField(); i++ {
		if rValue.Field(i).Kind() == reflect.Slice {
			total *= rValue.Field(i).Len()
		}
	}
	return total
}

// Config implements a configuration for a TD-MPC agent.
//
// A single planning Horizon governs both the trajectory optimizer and
// the length of the replay windows that the update engine learns from.
// The model sub-configuration describes the world model architecture;
// its Features and ActionDims fields are filled in from the
// environment when the agent is created and should be left zero.
type Config struct {
	// Planning
	Horizon     int     // Steps planned into the future
	NumSamples  int     // Gaussian candidate trajectories per iteration
	NumPiTrajs  int     // Policy-seeded candidate trajectories
	NumElites   int     // Candidates refitting the sampling distribution
	Iterations  int     // Optimization iterations per planning call
	Temperature float64 // Sharpness of the elite score weighting
	MinStd      float64 // Lower bound on the sampling std
	MaxStd      float64 // Upper bound on the sampling std

	// MPC selects full trajectory optimization for action selection.
	// When false, actions come directly from the policy head.
	MPC bool

	// Value bootstrapping discount, derived from each task's episode
	// length unless DiscountHardcoded is nonzero
	DiscountMin       float64
	DiscountMax       float64
	DiscountDenom     float64
	DiscountHardcoded float64

	// Update engine
	Rho             float64 // Per-timestep loss decay over the horizon
	EntropyCoef     float64 // Policy entropy regularization
	ConsistencyCoef float64 // Latent consistency loss coefficient
	RewardCoef      float64 // Reward loss coefficient
	ValueCoef       float64 // Value loss coefficient
	GradClipNorm    float64 // Global gradient norm bound, 0 disables

	// ActionPenalty subtracts the mean squared action magnitude from
	// rewards when constructing value targets
	ActionPenalty bool

	// EncoderLRScale scales the encoder's step size relative to the
	// Solver's
	EncoderLRScale float64

	Solver   *solver.Solver // Model, reward, and value weights
	PiSolver *solver.Solver // Policy weights

	// Sequence replay
	BufferCapacity    int
	BufferMinCapacity int
	BatchSize         int

	// Tasks. Single-task configurations hold one episode length.
	// ActionMasks may be nil, in which case no action dimensions are
	// masked; otherwise it holds one 0/1 mask per task.
	EpisodeLengths []int
	ActionMasks    [][]float64

	Model model.Config
}

// Type returns the type of the configuration
func (c Config) Type() agent.Type {
	return agent.TDMPCMLP
}

// ValidAgent returns whether the input agent is valid for this config
func (c Config) ValidAgent(a agent.Agent) bool {
	switch a.(type) {
	case *TDMPC:
		return true
	}
	return false
}

// Validate checks a Config to ensure it is a valid configuration
func (c Config) Validate() error {
	if c.Horizon < 1 {
		return fmt.Errorf("planning horizon must be positive \n\t"+
			"have(%v)", c.Horizon)
	}
	if c.NumSamples < 1 {
		return fmt.Errorf("need at least one sampled candidate \n\t"+
			"have(%v)", c.NumSamples)
	}
	if c.NumPiTrajs < 0 {
		return fmt.Errorf("policy candidates cannot be negative \n\t"+
			"have(%v)", c.NumPiTrajs)
	}
	if c.NumElites < 1 || c.NumElites > c.NumSamples+c.NumPiTrajs {
		return fmt.Errorf("elites must be in [1, %v] \n\thave(%v)",
			c.NumSamples+c.NumPiTrajs, c.NumElites)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("need at least one planning iteration \n\t"+
			"have(%v)", c.Iterations)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive \n\thave(%v)",
			c.Temperature)
	}
	if c.MinStd < 0 || c.MinStd > c.MaxStd {
		return fmt.Errorf("invalid sampling std bounds \n\thave([%v, "+
			"%v])", c.MinStd, c.MaxStd)
	}

	if c.DiscountHardcoded == 0 {
		if c.DiscountDenom <= 0 {
			return fmt.Errorf("discount denominator must be positive "+
				"\n\thave(%v)", c.DiscountDenom)
		}
		if c.DiscountMin <= 0 || c.DiscountMin > c.DiscountMax ||
			c.DiscountMax > 1 {
			return fmt.Errorf("invalid discount bounds \n\thave([%v, "+
				"%v])", c.DiscountMin, c.DiscountMax)
		}
	} else if c.DiscountHardcoded < 0 || c.DiscountHardcoded > 1 {
		return fmt.Errorf("hardcoded discount must be in (0, 1] \n\t"+
			"have(%v)", c.DiscountHardcoded)
	}

	if c.Rho <= 0 || c.Rho > 1 {
		return fmt.Errorf("rho must be in (0, 1] \n\thave(%v)", c.Rho)
	}
	if c.GradClipNorm < 0 {
		return fmt.Errorf("gradient norm bound cannot be negative \n\t"+
			"have(%v)", c.GradClipNorm)
	}
	if c.EncoderLRScale <= 0 {
		return fmt.Errorf("encoder step size scale must be positive "+
			"\n\thave(%v)", c.EncoderLRScale)
	}
	if c.Solver == nil || c.PiSolver == nil {
		return fmt.Errorf("no solver given")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive \n\thave(%v)",
			c.BatchSize)
	}
	if c.BufferCapacity <= c.Horizon {
		return fmt.Errorf("replay capacity must exceed the horizon "+
			"\n\twant(> %v) \n\thave(%v)", c.Horizon, c.BufferCapacity)
	}
	if c.BufferMinCapacity < 1 {
		return fmt.Errorf("minimum replay capacity must be positive "+
			"\n\thave(%v)", c.BufferMinCapacity)
	}

	if len(c.EpisodeLengths) < 1 {
		return fmt.Errorf("need at least one task episode length")
	}
	if c.ActionMasks != nil &&
		len(c.ActionMasks) != len(c.EpisodeLengths) {
		return fmt.Errorf("invalid number of action masks \n\twant(%v)"+
			" \n\thave(%v)", len(c.EpisodeLengths), len(c.ActionMasks))
	}

	return nil
}

// CreateAgent creates and returns the agent determined by the
// configuration
func (c Config) CreateAgent(e env.Environment, seed uint64) (agent.Agent,
	error) {
	return New(e, c, seed)
}
