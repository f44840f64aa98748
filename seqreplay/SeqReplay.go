// Package seqreplay implements experience replay over contiguous
// trajectory windows.
//
// Unlike a transition replay buffer, which samples independent
// (s, a, r, s') tuples, a sequence replay buffer stores whole episodes
// step by step and samples fixed-length windows of consecutive steps:
// horizon+1 observations, along with the horizon actions taken at the
// first horizon of them and the horizon rewards those actions earned.
// Windows never cross an episode boundary.
package seqreplay

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gotdmpc/timestep"
	"github.com/samuelfneumann/gotdmpc/utils/matutils"
)

// Config implements a specific configuration of a SequenceReplayer
type Config struct {
	// Horizon is the number of actions in a sampled window. A window
	// holds Horizon+1 observations.
	Horizon int

	// BatchSize is the number of windows returned per sample
	BatchSize int

	// MaxCapacity is the maximum number of steps stored; once full,
	// the oldest steps are overwritten
	MaxCapacity int

	// MinCapacity is the number of complete windows that must exist
	// before sampling is allowed
	MinCapacity int
}

// Create creates and returns the SequenceReplayer with the specified
// Config.
func (c Config) Create(featureSize, actionSize int,
	seed int64) (SequenceReplayer, error) {

	return New(c.Horizon, c.BatchSize, c.MinCapacity, c.MaxCapacity,
		featureSize, actionSize, seed)
}

// SequenceReplayer implements a sequence replay buffer
type SequenceReplayer interface {
	// StartEpisode records the first observation of a new episode
	StartEpisode(t timestep.TimeStep) error

	// Add records the action taken at the most recent observation and
	// the timestep the environment returned for it
	Add(action mat.Vector, t timestep.TimeStep) error

	// SampleWindows samples a batch of trajectory windows. The
	// returned slices hold horizon+1 observation batches, horizon
	// action batches, and horizon reward batches; batch b of timestep
	// t of the window is stored row-major at index b within slice t.
	SampleWindows() ([][]float64, [][]float64, [][]float64, error)

	// Capacity returns the current number of steps in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable steps in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of complete windows required to
	// be in the buffer before the buffer can be sampled
	MinCapacity() int

	// Windows returns the current number of complete windows
	Windows() int

	// BatchSize returns the number of windows returned by
	// SampleWindows()
	BatchSize() int

	// Horizon returns the number of actions per sampled window
	Horizon() int
}

// cache implements a concrete SequenceReplayer as a ring of steps.
// Each slot holds one observation, the action taken at it, and the
// reward that action earned. The action and reward of an episode's
// final slot and of the newest slot are not yet known; windows are
// constructed so that those fields are never read.
type cache struct {
	obsCache    []float64
	actionCache []float64
	rewardCache []float64
	first       []bool

	insert  int // next ring slot to write
	size    int // number of slots holding data
	pending bool

	horizon     int
	batchSize   int
	minCapacity int
	maxCapacity int
	featureSize int
	actionSize  int

	rng *rand.Rand
}

// New creates and returns a new SequenceReplayer storing at most
// maxCapacity steps and sampling batchSize windows of horizon actions
// each. The featureSize and actionSize parameters define the size of
// the observation and action vectors. Sampling is refused until at
// least minCapacity complete windows exist.
func New(horizon, batchSize, minCapacity, maxCapacity, featureSize,
	actionSize int, seed int64) (SequenceReplayer, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("new: horizon must be > 0")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("new: batchSize must be > 0")
	}
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity <= horizon {
		return nil, fmt.Errorf("new: maxCapacity must exceed horizon "+
			"\n\twant(> %v)\n\thave(%v)", horizon, maxCapacity)
	}
	if featureSize < 1 || actionSize < 1 {
		return nil, fmt.Errorf("new: featureSize and actionSize must be > 0")
	}

	return &cache{
		obsCache:    make([]float64, maxCapacity*featureSize),
		actionCache: make([]float64, maxCapacity*actionSize),
		rewardCache: make([]float64, maxCapacity),
		first:       make([]bool, maxCapacity),

		horizon:     horizon,
		batchSize:   batchSize,
		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		featureSize: featureSize,
		actionSize:  actionSize,

		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// pos maps the logical index l (0 = oldest step) to its ring slot
func (c *cache) pos(l int) int {
	start := (c.insert - c.size + c.maxCapacity) % c.maxCapacity
	return (start + l) % c.maxCapacity
}

// push inserts a new step holding only an observation
func (c *cache) push(obs mat.Vector, first bool) error {
	if obs.Len() != c.featureSize {
		return fmt.Errorf("invalid feature size \n\twant(%v)\n\thave(%v)",
			c.featureSize, obs.Len())
	}

	slot := c.insert
	copy(c.obsCache[slot*c.featureSize:(slot+1)*c.featureSize],
		matutils.Data(obs))
	for i := slot * c.actionSize; i < (slot+1)*c.actionSize; i++ {
		c.actionCache[i] = 0.0
	}
	c.rewardCache[slot] = 0.0
	c.first[slot] = first

	c.insert = (c.insert + 1) % c.maxCapacity
	if c.size < c.maxCapacity {
		c.size++
	}
	return nil
}

// StartEpisode records the first observation of a new episode
func (c *cache) StartEpisode(t timestep.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("startEpisode: timestep must be the first of an "+
			"episode \n\thave(%v)", t)
	}
	if err := c.push(t.Observation, true); err != nil {
		return fmt.Errorf("startEpisode: %v", err)
	}
	c.pending = true
	return nil
}

// Add records the action taken at the most recent observation together
// with the timestep that action produced
func (c *cache) Add(action mat.Vector, t timestep.TimeStep) error {
	if !c.pending {
		return &SeqReplayError{Op: "add", Err: errNoEpisode}
	}
	if action.Len() != c.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)\n\thave(%v)",
			c.actionSize, action.Len())
	}

	// Complete the newest step with the action taken at it and the
	// reward it earned
	slot := (c.insert - 1 + c.maxCapacity) % c.maxCapacity
	copy(c.actionCache[slot*c.actionSize:(slot+1)*c.actionSize],
		matutils.Data(action))
	c.rewardCache[slot] = t.Reward

	if err := c.push(t.Observation, false); err != nil {
		return fmt.Errorf("add: %v", err)
	}
	c.pending = !t.Last()
	return nil
}

// validStarts returns the logical indices at which a window of
// horizon+1 steps fits without crossing an episode boundary
func (c *cache) validStarts() []int {
	if c.size <= c.horizon {
		return nil
	}

	// latestFirst[l] is the largest logical index ≤ l at which an
	// episode begins. A window starting at l is valid when no episode
	// begins strictly inside it.
	latestFirst := make([]int, c.size)
	latest := -1
	for l := 0; l < c.size; l++ {
		if c.first[c.pos(l)] {
			latest = l
		}
		latestFirst[l] = latest
	}

	var starts []int
	for l := 0; l+c.horizon < c.size; l++ {
		if latestFirst[l+c.horizon] <= l {
			starts = append(starts, l)
		}
	}
	return starts
}

// SampleWindows samples a batch of trajectory windows uniformly with
// replacement from all complete windows in the buffer
func (c *cache) SampleWindows() ([][]float64, [][]float64, [][]float64,
	error) {
	if c.size == 0 {
		return nil, nil, nil, &SeqReplayError{Op: "sampleWindows",
			Err: errEmptyCache}
	}

	starts := c.validStarts()
	if len(starts) < c.minCapacity {
		return nil, nil, nil, &SeqReplayError{Op: "sampleWindows",
			Err: errInsufficientSamples}
	}

	obsBatch := make([][]float64, c.horizon+1)
	for t := range obsBatch {
		obsBatch[t] = make([]float64, c.batchSize*c.featureSize)
	}
	actionBatch := make([][]float64, c.horizon)
	rewardBatch := make([][]float64, c.horizon)
	for t := range actionBatch {
		actionBatch[t] = make([]float64, c.batchSize*c.actionSize)
		rewardBatch[t] = make([]float64, c.batchSize)
	}

	for b := 0; b < c.batchSize; b++ {
		l := starts[c.rng.Int()%len(starts)]

		for t := 0; t <= c.horizon; t++ {
			slot := c.pos(l + t)
			copy(obsBatch[t][b*c.featureSize:(b+1)*c.featureSize],
				c.obsCache[slot*c.featureSize:(slot+1)*c.featureSize])

			if t < c.horizon {
				copy(actionBatch[t][b*c.actionSize:(b+1)*c.actionSize],
					c.actionCache[slot*c.actionSize:(slot+1)*c.actionSize])
				rewardBatch[t][b] = c.rewardCache[slot]
			}
		}
	}

	return obsBatch, actionBatch, rewardBatch, nil
}

// Capacity returns the current number of steps in the buffer
func (c *cache) Capacity() int {
	return c.size
}

// MaxCapacity returns the maximum number of steps that are allowed
// in the buffer
func (c *cache) MaxCapacity() int {
	return c.maxCapacity
}

// MinCapacity returns the minimum number of complete windows required
// in the buffer before sampling is allowed
func (c *cache) MinCapacity() int {
	return c.minCapacity
}

// Windows returns the current number of complete windows in the buffer
func (c *cache) Windows() int {
	return len(c.validStarts())
}

// BatchSize returns the number of windows sampled using
// SampleWindows() - a.k.a the batch size
func (c *cache) BatchSize() int {
	return c.batchSize
}

// Horizon returns the number of actions per sampled window
func (c *cache) Horizon() int {
	return c.horizon
}

// String returns the string representation of the cache
func (c *cache) String() string {
	baseStr := "Steps: %v/%v \nWindows: %v \nHorizon: %v"
	return fmt.Sprintf(baseStr, c.size, c.maxCapacity, c.Windows(),
		c.horizon)
}
