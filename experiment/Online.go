package experiment

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/gotdmpc/agent"
	env "github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/experiment/checkpointer"
	"github.com/samuelfneumann/gotdmpc/experiment/tracker"
	ts "github.com/samuelfneumann/gotdmpc/timestep"
	"github.com/samuelfneumann/gotdmpc/utils/progressbar"
)

// Online is an Experiment that runs an agent online only. No offline
// evaluation is performed.
type Online struct {
	env.Environment
	agent.Agent
	maxSteps      uint
	currentSteps  uint
	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
	progress      *progressbar.ProgressBar
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. The steps parameter determines how
// many timesteps the experiment is run for. The t parameter is a slice
// of tracker.Tracker which determine what data is saved, and the c
// parameter is a slice of checkpointer.Checkpointer which determine
// when the agent's state is saved.
func NewOnline(e env.Environment, a agent.Agent, steps uint,
	t []tracker.Tracker, c []checkpointer.Checkpointer) *Online {
	return &Online{e, a, steps, 0, t, c, nil}
}

// Register registers a tracker.Tracker with an Experiment so that data
// generated during the experiment can be tracked and saved
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// RunEpisode runs a single episode of the experiment
func (o *Online) RunEpisode() bool {
	step := o.Environment.Reset()
	if err := o.Agent.ObserveFirst(step); err != nil {
		panic(fmt.Sprintf("runEpisode: could not observe first "+
			"timestep: %v", err))
	}
	o.track(step)
	o.checkpoint(step)

	// Run the next timestep
	for !step.Last() && o.currentSteps < o.maxSteps {
		o.currentSteps++

		// Select action, step in environment
		action := o.Agent.SelectAction(step)
		step, _ = o.Environment.Step(action)

		// Cache the environment step in each Tracker
		o.track(step)

		// Observe the timestep and step the agent
		if err := o.Agent.Observe(action, step); err != nil {
			panic(fmt.Sprintf("runEpisode: could not observe "+
				"timestep: %v", err))
		}
		if err := o.Agent.Step(); err != nil {
			panic(fmt.Sprintf("runEpisode: could not step agent: %v",
				err))
		}

		o.checkpoint(step)
		if o.progress != nil {
			o.progress.Increment()
		}
	}

	if step.Last() {
		o.Agent.EndEpisode()
	}

	// Return whether or not the max timestep limit has been reached
	return o.currentSteps >= o.maxSteps
}

// Run runs the entire experiment for all timesteps, displaying a
// progress bar on the terminal
func (o *Online) Run() {
	o.progress = progressbar.NewProgressBar(65, int(o.maxSteps),
		time.Second, false)
	o.progress.Display()

	ended := false
	for !ended {
		ended = o.RunEpisode()
	}

	o.progress.Close()
	o.progress = nil
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() {
	for _, t := range o.trackers {
		t.Save()
	}
}

// track tracks the current timestep by caching its data in each Tracker
func (o *Online) track(t ts.TimeStep) {
	for _, tr := range o.trackers {
		tr.Track(t)
	}
}

// checkpoint sends the current timestep to each Checkpointer, which
// may save the agent's state
func (o *Online) checkpoint(t ts.TimeStep) {
	for _, c := range o.checkpointers {
		if err := c.Checkpoint(t); err != nil {
			panic(fmt.Sprintf("checkpoint: could not save agent: %v",
				err))
		}
	}
}
