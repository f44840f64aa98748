package agent

import (
	"fmt"
	"reflect"

	"github.com/samuelfneumann/gotdmpc/environment"
)

// Config represents a configuration for creating an agent
type Config interface {
	// CreateAgent creates the agent that the config describes
	CreateAgent(env environment.Environment, seed uint64) (Agent, error)

	// ValidAgent returns whether the argument agent is valid for the
	// Config
	ValidAgent(Agent) bool

	// Validate returns an error describing whether or not the
	// configuration is valid or not.
	Validate() error
}

// ConfigList represents a list of Config's of a single concrete type,
// stored as a hyperparameter sweep: instead of holding a slice of
// Config's, a ConfigList holds one slice of candidate values per
// Config field, and the list consists of every combination of field
// values. Concrete ConfigLists must declare their fields with the same
// names as the fields of the Config they list.
type ConfigList interface {
	// Config returns an empty Config of the concrete type stored in
	// the list
	Config() Config

	// Type returns the type of agent that the listed Configs create
	Type() Type

	// Len returns the number of configurations in the list
	Len() int
}

// ConfigAt returns the Config at index i of a ConfigList.
//
// The Config is assembled by reflection. Each slice field of the list
// is a dimension of the sweep, taken in declaration order: index i is
// decomposed with the first field varying fastest, and the selected
// element of each slice is copied to the Config field of the same
// name.
func ConfigAt(i int, configs ConfigList) Config {
	if i < 0 || i >= configs.Len() {
		panic(fmt.Sprintf("configat: index out of range [%v] with "+
			"length %v", i, configs.Len()))
	}

	list := reflect.ValueOf(configs)
	config := reflect.New(reflect.TypeOf(configs.Config())).Elem()

	for j := 0; j < list.NumField(); j++ {
		field := list.Field(j)
		if field.Kind() != reflect.Slice {
			continue
		}

		name := list.Type().Field(j).Name
		target := config.FieldByName(name)
		if !target.IsValid() || !target.CanSet() {
			panic(fmt.Sprintf("configat: %v has no settable field %v",
				config.Type().Name(), name))
		}

		target.Set(field.Index(i % field.Len()))
		i /= field.Len()
	}

	return config.Interface().(Config)
}
