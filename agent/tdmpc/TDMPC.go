// Package tdmpc implements temporal difference learning for model
// predictive control. The agent learns a latent world model from
// replayed trajectory windows and selects actions either by planning
// candidate action sequences through the model or by sampling its
// learned policy head directly.
package tdmpc

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	env "github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/model"
	"github.com/samuelfneumann/gotdmpc/seqreplay"
	ts "github.com/samuelfneumann/gotdmpc/timestep"
	"github.com/samuelfneumann/gotdmpc/utils/matutils"
)

// TDMPC implements the TD-MPC algorithm:
//
// https://arxiv.org/abs/2203.04955
//
// A latent world model is trained on windows of past experience to
// keep its latent rollouts consistent with the encoder, to predict
// rewards, and to predict multi-step bootstrapped values. Action
// selection runs a sample-based trajectory optimizer over the model
// when MPC is set in the configuration, and otherwise queries the
// model's policy head at the encoded observation.
type TDMPC struct {
	model   *model.LatentModel
	planner *Planner
	engine  *engine
	buffer  seqreplay.SequenceReplayer

	mpc  bool
	eval bool

	// Diagnostics of the most recent learning step
	metrics map[string]float64
}

// New creates and returns a new TDMPC agent. The configuration's model
// sub-configuration has its Features and ActionDims fields filled in
// from the environment's observation and action specifications.
func New(e env.Environment, c Config, seed uint64) (*TDMPC, error) {
	c.Model.Features = e.ObservationSpec().Shape.Len()
	c.Model.ActionDims = e.ActionSpec().Shape.Len()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}

	m, err := model.New(c.Model, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create world model: %v",
			err)
	}

	planner, err := NewPlanner(m, c, 1, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create planner: %v", err)
	}

	engine, err := newEngine(m, c, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create update engine: %v",
			err)
	}

	bufferConfig := seqreplay.Config{
		Horizon:     c.Horizon,
		BatchSize:   c.BatchSize,
		MaxCapacity: c.BufferCapacity,
		MinCapacity: c.BufferMinCapacity,
	}
	buffer, err := bufferConfig.Create(c.Model.Features,
		c.Model.ActionDims, int64(seed))
	if err != nil {
		return nil, fmt.Errorf("new: could not create replay buffer: %v",
			err)
	}

	return &TDMPC{
		model:   m,
		planner: planner,
		engine:  engine,
		buffer:  buffer,
		mpc:     c.MPC,
	}, nil
}

// SelectAction returns an action at the given timestep. Actions lie in
// [-1, 1] elementwise; environments scale them to their own bounds.
func (t *TDMPC) SelectAction(step ts.TimeStep) *mat.VecDense {
	obs := matutils.Data(step.Observation)

	if t.mpc {
		actions, err := t.planner.Plan([][]float64{obs})
		if err != nil {
			panic(fmt.Sprintf("selectaction: could not plan: %v", err))
		}
		return mat.NewVecDense(len(actions[0]), actions[0])
	}

	z, err := t.model.Encode([][]float64{obs})
	if err != nil {
		panic(fmt.Sprintf("selectaction: could not encode "+
			"observation: %v", err))
	}
	mean, sampled, _, err := t.model.Pi(z)
	if err != nil {
		panic(fmt.Sprintf("selectaction: could not sample policy: %v",
			err))
	}

	action := sampled[0]
	if t.eval {
		action = mean[0]
	}
	return mat.NewVecDense(len(action), action)
}

// ObserveFirst observes and records the first timestep of an episode.
// The planner's warm start is discarded so that planning for the new
// episode does not reuse the previous episode's refined action mean.
func (t *TDMPC) ObserveFirst(step ts.TimeStep) error {
	if !step.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			step.Number)
	}
	t.planner.Reset()

	if err := t.buffer.StartEpisode(step); err != nil {
		return fmt.Errorf("observefirst: %v", err)
	}
	return nil
}

// Observe records that taking an action at the previous timestep led
// to the argument timestep
func (t *TDMPC) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if err := t.buffer.Add(action, nextStep); err != nil {
		return fmt.Errorf("observe: %v", err)
	}
	return nil
}

// EndEpisode performs cleanup at the end of an episode
func (t *TDMPC) EndEpisode() {
	t.planner.Reset()
}

// Step updates the agent. A batch of trajectory windows is sampled
// from the replay buffer and one learning step is run on it. Until the
// buffer holds enough complete windows, or when the agent is in
// evaluation mode, no update is performed.
func (t *TDMPC) Step() error {
	if t.eval {
		return nil
	}

	obs, actions, rewards, err := t.buffer.SampleWindows()
	if seqreplay.IsInsufficientSamples(err) || seqreplay.IsEmptyBuffer(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("step: could not sample replay windows: %v",
			err)
	}

	metrics, err := t.engine.update(obs, actions, rewards)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	t.metrics = metrics
	return nil
}

// Metrics returns the diagnostics of the most recent learning step, or
// nil if no step has been performed yet. Keys are loss and gradient
// norm names; see the update engine for the full set.
func (t *TDMPC) Metrics() map[string]float64 {
	return t.metrics
}

// SetTask selects the task whose discount, episode length, and action
// mask the agent uses. Single-task configurations have task 0 only.
func (t *TDMPC) SetTask(task int) error {
	if err := t.planner.SetTask(task); err != nil {
		return fmt.Errorf("settask: %v", err)
	}
	if err := t.engine.setTask(task); err != nil {
		return fmt.Errorf("settask: %v", err)
	}
	return nil
}

// Eval sets the agent into evaluation mode: planning adds no
// exploration noise and the policy head returns mean actions
func (t *TDMPC) Eval() {
	t.eval = true
	t.model.Eval()
	t.planner.Eval()
}

// Train sets the agent into training mode
func (t *TDMPC) Train() {
	t.eval = false
	t.model.Train()
	t.planner.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (t *TDMPC) IsEval() bool { return t.eval }

// Save serializes the agent's world model to the file at path. The
// planner's warm start and the update engine's value scale are
// transient and are not saved; a model restored with model.Load
// resumes acting with a cold planning mean.
func (t *TDMPC) Save(path string) error {
	if err := t.model.Save(path); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Close frees the virtual machines held by the agent's world model and
// update engine. The agent cannot act or learn after being closed.
func (t *TDMPC) Close() error {
	if err := t.engine.close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	if err := t.model.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	return nil
}
