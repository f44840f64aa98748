package tdmpc

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/gotdmpc/model"
	"github.com/samuelfneumann/gotdmpc/utils/floatutils"
)

const (
	// Action spaces with at least largeActionDims dimensions get
	// extraIterations additional refinement iterations per plan
	largeActionDims = 20
	extraIterations = 2

	// scoreStability is added to the elite score total when refitting
	// the sampling distribution
	scoreStability = 1e-9
)

// Planner selects actions by iteratively refining a population of
// candidate action sequences against a WorldModel's reward and value
// predictions. Each call to Plan draws NumSamples Gaussian candidate
// sequences around a running mean, appends NumPiTrajs sequences rolled
// out from the model's policy head, scores every candidate by its
// model-estimated return, and refits the mean and standard deviation
// to the NumElites best candidates. After the final iteration, one
// elite is drawn per environment with probability proportional to its
// score and its first action is returned.
//
// The refined mean is kept between calls as a warm start, shifted one
// timestep left so that the plan for the upcoming step seeds the next
// optimization. Reset discards the warm start; the agent calls it at
// episode boundaries.
//
// A Planner is not safe for concurrent use.
type Planner struct {
	model model.WorldModel

	horizon     int
	numSamples  int
	numPiTrajs  int
	numElites   int
	iterations  int
	temperature float64

	stdBounds    r1.Interval
	actionBounds r1.Interval

	discounts []float64
	masks     [][]float64
	task      int

	envs       int
	actionDims int

	// Warm start: the refined mean of the previous Plan call
	prevMean []float64
	havePrev bool

	evalMode bool

	src  rand.Source
	norm distuv.Normal
}

// NewPlanner returns a new Planner that selects one action per call
// for each of envs parallel copies of the environment.
func NewPlanner(m model.WorldModel, config Config, envs int,
	seed uint64) (*Planner, error) {
	if m == nil {
		return nil, fmt.Errorf("newplanner: no world model given")
	}
	if envs < 1 {
		return nil, fmt.Errorf("newplanner: must plan for at least one "+
			"environment \n\thave(%v)", envs)
	}
	for task, mask := range config.ActionMasks {
		if len(mask) != m.ActionDims() {
			return nil, fmt.Errorf("newplanner: invalid action mask for "+
				"task %v \n\twant(length %v) \n\thave(length %v)", task,
				m.ActionDims(), len(mask))
		}
	}

	iterations := config.Iterations
	if m.ActionDims() >= largeActionDims {
		iterations += extraIterations
	}

	src := rand.NewSource(seed)
	return &Planner{
		model:        m,
		horizon:      config.Horizon,
		numSamples:   config.NumSamples,
		numPiTrajs:   config.NumPiTrajs,
		numElites:    config.NumElites,
		iterations:   iterations,
		temperature:  config.Temperature,
		stdBounds:    r1.Interval{Min: config.MinStd, Max: config.MaxStd},
		actionBounds: r1.Interval{Min: -1.0, Max: 1.0},
		discounts:    discounts(config),
		masks:        config.ActionMasks,
		envs:         envs,
		actionDims:   m.ActionDims(),
		src:          src,
		norm:         distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: src},
	}, nil
}

// SetTask selects the task whose discount and action mask are used for
// planning
func (p *Planner) SetTask(task int) error {
	if task < 0 || task >= len(p.discounts) {
		return fmt.Errorf("settask: no such task \n\twant(task in [0, "+
			"%v)) \n\thave(%v)", len(p.discounts), task)
	}
	p.task = task
	return nil
}

// Reset discards the warm-started sampling mean. Call at the start of
// each episode.
func (p *Planner) Reset() {
	p.havePrev = false
}

// Eval sets the Planner to evaluation mode, in which the returned
// action is not perturbed by exploration noise
func (p *Planner) Eval() { p.evalMode = true }

// Train sets the Planner to training mode, in which exploration noise
// drawn from the refined standard deviation perturbs the returned
// action
func (p *Planner) Train() { p.evalMode = false }

// IsEval returns whether the Planner is in evaluation mode
func (p *Planner) IsEval() bool { return p.evalMode }

// mask returns the active task's action mask, or nil when actions are
// not masked
func (p *Planner) mask() []float64 {
	if p.masks == nil {
		return nil
	}
	return p.masks[p.task]
}

// Plan returns one action per environment given each environment's
// observation. Actions and the candidate sequences they are chosen
// from always lie in [-1, 1] elementwise, with masked action
// dimensions zeroed.
func (p *Planner) Plan(obs [][]float64) ([][]float64, error) {
	if len(obs) != p.envs {
		return nil, fmt.Errorf("plan: invalid number of observations "+
			"\n\twant(%v) \n\thave(%v)", p.envs, len(obs))
	}

	horizon, envs, dims := p.horizon, p.envs, p.actionDims
	piTrajs := p.numPiTrajs
	candidates := p.numSamples + piTrajs
	mask := p.mask()

	z0, err := p.model.Encode(obs)
	if err != nil {
		return nil, fmt.Errorf("plan: could not encode observations: %v",
			err)
	}

	// Policy candidates are rolled out once and fill the first slots
	// of every iteration's population
	piActions, err := p.rolloutPi(z0)
	if err != nil {
		return nil, fmt.Errorf("plan: %v", err)
	}

	// The sampling mean is warm started by shifting the previous
	// plan's mean one timestep left. The standard deviation always
	// restarts wide.
	mean := make([]float64, horizon*envs*dims)
	if p.havePrev {
		copy(mean[:(horizon-1)*envs*dims], p.prevMean[envs*dims:])
	}
	std := make([]float64, horizon*envs*dims)
	for i := range std {
		std[i] = p.stdBounds.Max
	}

	z := repeatRows(z0, candidates)
	actions := make([]float64, horizon*envs*candidates*dims)
	finalScores := make([][]float64, envs)
	finalElites := make([][]int, envs)

	for i := 0; i < p.iterations; i++ {
		for t := 0; t < horizon; t++ {
			for e := 0; e < envs; e++ {
				base := (t*envs + e) * candidates * dims
				distBase := (t*envs + e) * dims
				for c := 0; c < candidates; c++ {
					for d := 0; d < dims; d++ {
						var a float64
						if c < piTrajs {
							a = piActions[((t*envs+e)*piTrajs+c)*dims+d]
						} else {
							a = mean[distBase+d] +
								std[distBase+d]*p.norm.Rand()
							a = floatutils.ClipInterval(a, p.actionBounds)
						}
						if mask != nil {
							a *= mask[d]
						}
						actions[base+c*dims+d] = a
					}
				}
			}
		}

		values, err := p.estimateValue(z, actions)
		if err != nil {
			return nil, fmt.Errorf("plan: %v", err)
		}

		for e := 0; e < envs; e++ {
			scores, elites := p.scoreElites(
				values[e*candidates : (e+1)*candidates],
			)
			p.refit(mean, std, actions, scores, elites, e)
			finalScores[e], finalElites[e] = scores, elites
		}
	}

	// One elite is drawn per environment with probability proportional
	// to its score. Outside evaluation, the refined standard deviation
	// perturbs the chosen action; masked dimensions have zero standard
	// deviation and so stay zero.
	out := make([][]float64, envs)
	for e := range out {
		dist := distuv.NewCategorical(finalScores[e], p.src)
		pick := finalElites[e][int(dist.Rand())]

		action := make([]float64, dims)
		copy(action, actions[(e*candidates+pick)*dims:])
		if !p.evalMode {
			for d := range action {
				action[d] += std[e*dims+d] * p.norm.Rand()
			}
		}
		out[e] = floatutils.ClipAllInterval(action, p.actionBounds)
	}

	p.prevMean = mean
	p.havePrev = true
	return out, nil
}

// rolloutPi rolls the model's policy head through the latent dynamics
// from each environment's latent state, producing NumPiTrajs candidate
// action sequences per environment
func (p *Planner) rolloutPi(z0 [][]float64) ([]float64, error) {
	if p.numPiTrajs == 0 {
		return nil, nil
	}

	horizon, envs, dims := p.horizon, p.envs, p.actionDims
	piTrajs := p.numPiTrajs
	mask := p.mask()

	out := make([]float64, horizon*envs*piTrajs*dims)
	z := repeatRows(z0, piTrajs)
	for t := 0; t < horizon; t++ {
		_, sampled, _, err := p.model.Pi(z)
		if err != nil {
			return nil, fmt.Errorf("rolloutpi: could not sample policy: %v",
				err)
		}

		base := t * envs * piTrajs * dims
		for r := range sampled {
			if mask != nil {
				for d := range sampled[r] {
					sampled[r][d] *= mask[d]
				}
			}
			copy(out[base+r*dims:base+(r+1)*dims], sampled[r])
		}

		if t < horizon-1 {
			if z, err = p.model.Next(z, sampled); err != nil {
				return nil, fmt.Errorf("rolloutpi: could not step "+
					"latents: %v", err)
			}
		}
	}
	return out, nil
}

// estimateValue returns the model-estimated return of each candidate
// action sequence: predicted rewards accumulated over the horizon plus
// the discounted ensemble-average value of a policy action at the
// final latent state. Non-finite estimates are replaced by zero so
// that a diverging model cannot poison elite selection.
func (p *Planner) estimateValue(z [][]float64,
	actions []float64) ([]float64, error) {
	rows := len(z)
	dims := p.actionDims
	gamma := p.discounts[p.task]

	returns := make([]float64, rows)
	stepActions := make([][]float64, rows)
	discount := 1.0
	for t := 0; t < p.horizon; t++ {
		base := t * rows * dims
		for r := range stepActions {
			stepActions[r] = actions[base+r*dims : base+(r+1)*dims]
		}

		rewards, err := p.model.Reward(z, stepActions)
		if err != nil {
			return nil, fmt.Errorf("estimatevalue: could not predict "+
				"rewards: %v", err)
		}
		if z, err = p.model.Next(z, stepActions); err != nil {
			return nil, fmt.Errorf("estimatevalue: could not step "+
				"latents: %v", err)
		}

		for r := range returns {
			returns[r] += discount * rewards[r]
		}
		discount *= gamma
	}

	_, sampled, _, err := p.model.Pi(z)
	if err != nil {
		return nil, fmt.Errorf("estimatevalue: could not sample policy: %v",
			err)
	}
	values, err := p.model.Q(z, sampled, model.QAvg, false)
	if err != nil {
		return nil, fmt.Errorf("estimatevalue: could not predict "+
			"values: %v", err)
	}
	for r := range returns {
		returns[r] += discount * values[r]
	}

	return floatutils.ReplaceNonFinite(returns, 0.0), nil
}

// scoreElites selects the elite candidates of a single environment and
// returns their normalized scores along with their candidate indices.
// A candidate's score is the exponential of its value gap to the best
// elite, sharpened by the temperature. Values are finite by the time
// they reach scoring, and equal values are broken by candidate order,
// so the score total is always at least one and normalization is safe.
func (p *Planner) scoreElites(values []float64) ([]float64, []int) {
	order := floatutils.ArgSortDescending(values)
	elites := order[:p.numElites]

	best := values[elites[0]]
	scores := make([]float64, p.numElites)
	for k, c := range elites {
		scores[k] = math.Exp(p.temperature * (values[c] - best))
	}
	total := floats.Sum(scores)
	for k := range scores {
		scores[k] /= total
	}
	return scores, elites
}

// refit moves one environment's sampling mean and standard deviation
// toward its elite candidates, weighting each elite by its score. The
// standard deviation is clamped to the configured bounds and the
// active task's mask is re-applied to both moments.
func (p *Planner) refit(mean, std, actions, scores []float64,
	elites []int, e int) {
	horizon, envs, dims := p.horizon, p.envs, p.actionDims
	candidates := p.numSamples + p.numPiTrajs
	mask := p.mask()

	total := floats.Sum(scores)
	for t := 0; t < horizon; t++ {
		base := (t*envs + e) * candidates * dims
		distBase := (t*envs + e) * dims
		for d := 0; d < dims; d++ {
			m := 0.0
			for k, c := range elites {
				m += scores[k] * actions[base+c*dims+d]
			}
			m /= total + scoreStability

			variance := 0.0
			for k, c := range elites {
				diff := actions[base+c*dims+d] - m
				variance += scores[k] * diff * diff
			}
			variance /= total + scoreStability

			s := floatutils.ClipInterval(math.Sqrt(variance), p.stdBounds)
			if mask != nil {
				m *= mask[d]
				s *= mask[d]
			}
			mean[distBase+d] = m
			std[distBase+d] = s
		}
	}
}

// repeatRows returns a batch in which each row of z appears reps times
// consecutively. Rows are shared, not copied.
func repeatRows(z [][]float64, reps int) [][]float64 {
	out := make([][]float64, 0, len(z)*reps)
	for _, row := range z {
		for j := 0; j < reps; j++ {
			out = append(out, row)
		}
	}
	return out
}
