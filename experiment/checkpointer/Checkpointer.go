// Package checkpointer implements Checkpointers, which periodically
// save the state of serializable objects during an experiment
package checkpointer

import (
	ts "github.com/samuelfneumann/gotdmpc/timestep"
)

// Serializable is an object that can save itself to a file
type Serializable interface {
	Save(path string) error
}

// Checkpointer checkpoints/saves serializable objects based on
// timestep.TimeSteps
type Checkpointer interface {
	Checkpoint(ts.TimeStep) error
}
