// Package envconfig provides configuration structs for configuring
// environments with default physical parameters and tasks. Environment
// configurations in this package are JSON serializable.
package envconfig

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/environment/classiccontrol/pendulum"
	ts "github.com/samuelfneumann/gotdmpc/timestep"
)

// EnvName stores the name of environments that can be configured with
// this package
type EnvName string

// Environments available for configuration
const (
	Pendulum EnvName = "Pendulum"
)

// TaskName stores the tasks that can be configured with this package.
// Not all tasks can be used with all environments. The tasks that can
// be used with each environment are as follows:
//
//	Environment			Task
//	Pendulum			SwingUp
type TaskName string

// Tasks available for configuration
const (
	SwingUp TaskName = "SwingUp"
)

// Config implements a specific configuration of a specific environment
// and specific task. Not all environments can have all tasks.
type Config struct {
	Environment   EnvName
	Task          TaskName
	EpisodeCutoff uint
	Discount      float64
}

// NewConfig returns a new environment Config
func NewConfig(envName EnvName, taskName TaskName, episodeCutoff uint,
	discount float64) Config {
	return Config{
		Environment:   envName,
		Task:          taskName,
		EpisodeCutoff: episodeCutoff,
		Discount:      discount,
	}
}

// CreateEnv returns the environment described by the Config as well
// as the first timestep of the environment
func (c Config) CreateEnv(seed uint64) (env.Environment, ts.TimeStep) {
	switch c.Environment {
	case Pendulum:
		return CreatePendulum(c.Task, int(c.EpisodeCutoff), seed,
			c.Discount)
	}

	panic(fmt.Sprintf("createEnv: cannot create environment %v, no "+
		"such environment", c.Environment))
}

// CreatePendulum is a factory for creating the Pendulum environment
// with default physical parameters and default task parameters
func CreatePendulum(taskName TaskName, cutoff int, seed uint64,
	discount float64) (env.Environment, ts.TimeStep) {
	angle := r1.Interval{Min: -pendulum.AngleBound,
		Max: pendulum.AngleBound}
	speed := r1.Interval{Min: -1.0, Max: 1.0}

	s := env.NewUniformStarter([]r1.Interval{angle, speed}, seed)

	var task env.Task
	switch taskName {
	case SwingUp:
		task = pendulum.NewSwingUp(s, cutoff)

	default:
		panic(fmt.Sprintf("createPendulum: Pendulum environment has "+
			"no task %v", taskName))
	}

	return pendulum.NewContinuous(task, discount)
}
