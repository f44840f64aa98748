package tdmpc

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/gotdmpc/environment/envconfig"
	"github.com/samuelfneumann/gotdmpc/model"
)

// newTestAgent returns a TDMPC agent acting in a pendulum swing-up
// environment, along with the environment and its first timestep
func newTestAgent(t *testing.T, config Config) (*TDMPC,
	envconfig.Config) {
	t.Helper()

	envConfig := envconfig.NewConfig(envconfig.Pendulum,
		envconfig.SwingUp, 100, 1.0)

	e, _ := envConfig.CreateEnv(23)
	a, err := New(e, config, 29)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	return a, envConfig
}

func TestNewFillsModelDimensionsFromEnv(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))

	// The environment decides the observation and action dimensions
	config.Model.Features = 0
	config.Model.ActionDims = 0

	a, envConfig := newTestAgent(t, config)
	defer a.Close()

	e, step := envConfig.CreateEnv(31)
	if obs := e.ObservationSpec().Shape.Len(); step.Observation.Len() !=
		obs {
		t.Fatalf("environment observation does not match its spec "+
			"\n\twant(%v) \n\thave(%v)", obs, step.Observation.Len())
	}

	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}
	action := a.SelectAction(step)
	if action.Len() != e.ActionSpec().Shape.Len() {
		t.Errorf("invalid action dimensions \n\twant(%v) \n\thave(%v)",
			e.ActionSpec().Shape.Len(), action.Len())
	}
}

func TestSelectActionPlansWithinBounds(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	a, envConfig := newTestAgent(t, config)
	defer a.Close()

	e, step := envConfig.CreateEnv(37)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	for i := 0; i < 5; i++ {
		action := a.SelectAction(step)
		for j := 0; j < action.Len(); j++ {
			if action.AtVec(j) < -1.0 || action.AtVec(j) > 1.0 {
				t.Errorf("planned action out of bounds \n\twant(in "+
					"[-1, 1]) \n\thave(%v)", action.AtVec(j))
			}
		}

		step, _ = e.Step(action)
		if err := a.Observe(action, step); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
	}
}

// TestSelectActionPolicyModeDeterministicInEval checks that with
// planning disabled and the agent in evaluation mode, action selection
// returns the policy head's mean and so repeats exactly.
func TestSelectActionPolicyModeDeterministicInEval(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	config.MPC = false

	a, envConfig := newTestAgent(t, config)
	defer a.Close()
	a.Eval()
	if !a.IsEval() {
		t.Fatal("agent should report evaluation mode")
	}

	_, step := envConfig.CreateEnv(41)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	first := a.SelectAction(step)
	second := a.SelectAction(step)
	for j := 0; j < first.Len(); j++ {
		if first.AtVec(j) != second.AtVec(j) {
			t.Errorf("evaluation actions should repeat \n\twant(%v) "+
				"\n\thave(%v)", first.AtVec(j), second.AtVec(j))
		}
	}
}

func TestStepColdBufferIsNoOp(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	a, envConfig := newTestAgent(t, config)
	defer a.Close()

	_, step := envConfig.CreateEnv(43)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	if err := a.Step(); err != nil {
		t.Fatalf("empty replay buffer should not fail the update: %v",
			err)
	}
	if a.Metrics() != nil {
		t.Error("no learning step should have been performed")
	}
}

// TestStepLearnsOnceBufferWarm interacts with the environment long
// enough to fill one replay window and checks that the next update
// runs and reports finite diagnostics.
func TestStepLearnsOnceBufferWarm(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	a, envConfig := newTestAgent(t, config)
	defer a.Close()

	e, step := envConfig.CreateEnv(47)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	for i := 0; i < config.Horizon+2; i++ {
		action := a.SelectAction(step)
		step, _ = e.Step(action)
		if err := a.Observe(action, step); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
		if err := a.Step(); err != nil {
			t.Fatalf("could not update: %v", err)
		}
	}

	metrics := a.Metrics()
	if metrics == nil {
		t.Fatal("a warm buffer should have triggered a learning step")
	}
	for _, key := range []string{"consistency_loss", "reward_loss",
		"value_loss", "pi_loss", "grad_norm"} {
		value, ok := metrics[key]
		if !ok {
			t.Errorf("metrics are missing %v", key)
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			t.Errorf("%v is not finite \n\thave(%v)", key, value)
		}
	}
}

func TestStepInEvalModeDoesNotLearn(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	a, envConfig := newTestAgent(t, config)
	defer a.Close()

	e, step := envConfig.CreateEnv(53)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}
	for i := 0; i < config.Horizon+2; i++ {
		action := a.SelectAction(step)
		step, _ = e.Step(action)
		if err := a.Observe(action, step); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
	}

	a.Eval()
	if err := a.Step(); err != nil {
		t.Fatalf("could not step: %v", err)
	}
	if a.Metrics() != nil {
		t.Error("no learning should happen in evaluation mode")
	}
}

func TestSetTaskRejectsUnknownTask(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	a, _ := newTestAgent(t, config)
	defer a.Close()

	if err := a.SetTask(0); err != nil {
		t.Errorf("task 0 should always exist: %v", err)
	}
	if err := a.SetTask(len(config.EpisodeLengths)); err == nil {
		t.Error("expected an error for an out-of-range task")
	}
}

// TestSaveWritesLoadableModel checks that the file written by Save
// restores to a model with the agent's environment dimensions.
func TestSaveWritesLoadableModel(t *testing.T) {
	config := engineConfig(t, 5, glorotInit(t))
	a, envConfig := newTestAgent(t, config)
	defer a.Close()

	path := filepath.Join(t.TempDir(), "model.bin")
	if err := a.Save(path); err != nil {
		t.Fatalf("could not save the agent: %v", err)
	}

	m, err := model.Load(path)
	if err != nil {
		t.Fatalf("could not load the saved model: %v", err)
	}
	defer m.Close()

	e, _ := envConfig.CreateEnv(59)
	if m.Features() != e.ObservationSpec().Shape.Len() {
		t.Errorf("invalid restored feature count \n\twant(%v) "+
			"\n\thave(%v)", e.ObservationSpec().Shape.Len(),
			m.Features())
	}
	if m.ActionDims() != e.ActionSpec().Shape.Len() {
		t.Errorf("invalid restored action dimensions \n\twant(%v) "+
			"\n\thave(%v)", e.ActionSpec().Shape.Len(), m.ActionDims())
	}
}
