package tdmpc

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gotdmpc/model"
)

// fakeModel is a deterministic WorldModel for exercising the Planner
// without neural networks. Encode passes observations through
// unchanged, Next is the identity transition, and the reward, value,
// and policy predictions are fixed functions set per test. Nil
// functions predict zero.
type fakeModel struct {
	features   int
	actionDims int

	reward func(z, action []float64) float64
	q      func(z, action []float64) float64
	pi     func(z []float64) []float64

	evalMode bool
}

func newFakeModel(features, actionDims int) *fakeModel {
	return &fakeModel{features: features, actionDims: actionDims}
}

func (f *fakeModel) Encode(obs [][]float64) ([][]float64, error) {
	return copyRows(obs), nil
}

func (f *fakeModel) Next(z, action [][]float64) ([][]float64, error) {
	return copyRows(z), nil
}

func (f *fakeModel) Reward(z, action [][]float64) ([]float64, error) {
	out := make([]float64, len(z))
	for i := range z {
		if f.reward != nil {
			out[i] = f.reward(z[i], action[i])
		}
	}
	return out, nil
}

func (f *fakeModel) Q(z, action [][]float64, mode model.QMode,
	target bool) ([]float64, error) {
	out := make([]float64, len(z))
	for i := range z {
		if f.q != nil {
			out[i] = f.q(z[i], action[i])
		}
	}
	return out, nil
}

func (f *fakeModel) Pi(z [][]float64) ([][]float64, [][]float64,
	[]float64, error) {
	mean := make([][]float64, len(z))
	sampled := make([][]float64, len(z))
	logProb := make([]float64, len(z))
	for i := range z {
		row := make([]float64, f.actionDims)
		if f.pi != nil {
			copy(row, f.pi(z[i]))
		}
		mean[i] = row
		sampled[i] = append([]float64(nil), row...)
	}
	return mean, sampled, logProb, nil
}

func (f *fakeModel) SoftUpdateTargetQ() error { return nil }
func (f *fakeModel) ResetTargetQ() error      { return nil }
func (f *fakeModel) Train()                   { f.evalMode = false }
func (f *fakeModel) Eval()                    { f.evalMode = true }
func (f *fakeModel) IsEval() bool             { return f.evalMode }
func (f *fakeModel) Features() int            { return f.features }
func (f *fakeModel) ActionDims() int          { return f.actionDims }
func (f *fakeModel) LatentDims() int          { return f.features }
func (f *fakeModel) NumQ() int                { return 2 }
func (f *fakeModel) Close() error             { return nil }

func copyRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = append([]float64(nil), rows[i]...)
	}
	return out
}

// plannerConfig returns a small configuration for planner tests
func plannerConfig() Config {
	return Config{
		Horizon:           3,
		NumSamples:        8,
		NumPiTrajs:        2,
		NumElites:         2,
		Iterations:        1,
		Temperature:       0.5,
		MinStd:            0.05,
		MaxStd:            2.0,
		DiscountHardcoded: 0.9,
		EpisodeLengths:    []int{500},
	}
}

func TestNewPlannerValidatesArguments(t *testing.T) {
	tests := []struct {
		name    string
		model   model.WorldModel
		envs    int
		masks   [][]float64
		wantErr bool
	}{
		{"valid arguments", newFakeModel(3, 2), 2, nil, false},
		{"valid mask", newFakeModel(3, 2), 1, [][]float64{{1, 0}},
			false},
		{"no model", nil, 1, nil, true},
		{"no environments", newFakeModel(3, 2), 0, nil, true},
		{"mask dimension mismatch", newFakeModel(3, 2), 1,
			[][]float64{{1}}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := plannerConfig()
			config.ActionMasks = test.masks

			_, err := NewPlanner(test.model, config, test.envs, 14)
			if test.wantErr && err == nil {
				t.Error("expected an error but got none")
			} else if !test.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewPlannerAddsIterationsForLargeActionSpaces(t *testing.T) {
	config := plannerConfig()
	config.Iterations = 6

	small, err := NewPlanner(newFakeModel(3, 2), config, 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}
	if small.iterations != 6 {
		t.Errorf("invalid iterations for a small action space \n\t"+
			"want(%v) \n\thave(%v)", 6, small.iterations)
	}

	large, err := NewPlanner(newFakeModel(3, 20), config, 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}
	if large.iterations != 8 {
		t.Errorf("invalid iterations for a large action space \n\t"+
			"want(%v) \n\thave(%v)", 8, large.iterations)
	}
}

func TestPlanActionsWithinBounds(t *testing.T) {
	fake := newFakeModel(3, 2)

	// Reward grows with the action components, pulling the sampling
	// mean toward the corner of the action space so that clipping is
	// exercised
	fake.reward = func(z, action []float64) float64 {
		total := 0.0
		for _, a := range action {
			total += a
		}
		return total
	}

	config := plannerConfig()
	config.Iterations = 3

	planner, err := NewPlanner(fake, config, 2, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	obs := [][]float64{{0.1, 0.2, 0.3}, {-0.5, 0.0, 0.5}}
	for call := 0; call < 3; call++ {
		actions, err := planner.Plan(obs)
		if err != nil {
			t.Fatalf("could not plan: %v", err)
		}

		if len(actions) != 2 {
			t.Fatalf("invalid number of actions \n\twant(%v) \n\t"+
				"have(%v)", 2, len(actions))
		}
		for e := range actions {
			if len(actions[e]) != 2 {
				t.Fatalf("invalid action dimensions \n\twant(%v) \n\t"+
					"have(%v)", 2, len(actions[e]))
			}
			for d, a := range actions[e] {
				if a < -1.0 || a > 1.0 {
					t.Errorf("action component out of bounds on call "+
						"%v \n\thave(action[%v][%v] = %v)", call, e, d, a)
				}
			}
		}
	}
}

func TestPlanMasksActionDimensions(t *testing.T) {
	fake := newFakeModel(3, 2)
	fake.pi = func(z []float64) []float64 {
		return []float64{0.7, 0.7}
	}

	config := plannerConfig()
	config.ActionMasks = [][]float64{{1, 0}}

	planner, err := NewPlanner(fake, config, 2, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	// Training mode so that exploration noise is exercised too: the
	// masked standard deviation keeps masked dimensions exactly zero
	obs := [][]float64{{0.1, 0.2, 0.3}, {-0.5, 0.0, 0.5}}
	for call := 0; call < 3; call++ {
		actions, err := planner.Plan(obs)
		if err != nil {
			t.Fatalf("could not plan: %v", err)
		}
		for e := range actions {
			if actions[e][1] != 0.0 {
				t.Errorf("masked action dimension is not zero on call "+
					"%v \n\thave(action[%v][1] = %v)", call, e,
					actions[e][1])
			}
		}
	}
}

func TestPlanWarmStartShiftsMean(t *testing.T) {
	// With a near-zero sampling standard deviation and constant
	// candidate values, refitting reproduces the mean it sampled
	// around, so the planner's retained mean exposes the warm-start
	// shift directly
	config := plannerConfig()
	config.NumSamples = 6
	config.NumPiTrajs = 0
	config.MinStd = 0.0
	config.MaxStd = 1e-9

	planner, err := NewPlanner(newFakeModel(3, 2), config, 2, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}
	planner.Eval()

	prev := make([]float64, 3*2*2)
	for step := 0; step < 3; step++ {
		for e := 0; e < 2; e++ {
			for d := 0; d < 2; d++ {
				prev[(step*2+e)*2+d] = 0.1*float64(step+1) +
					0.01*float64(e) + 0.001*float64(d)
			}
		}
	}
	planner.prevMean = append([]float64(nil), prev...)
	planner.havePrev = true

	obs := [][]float64{{0.1, 0.2, 0.3}, {-0.5, 0.0, 0.5}}
	actions, err := planner.Plan(obs)
	if err != nil {
		t.Fatalf("could not plan: %v", err)
	}

	// Timesteps 1.. of the previous mean become timesteps 0.. of the
	// new mean; the discarded last timestep refits to zero
	for i := 0; i < 2*2*2; i++ {
		want := prev[2*2+i]
		if math.Abs(planner.prevMean[i]-want) > 1e-6 {
			t.Errorf("warm start did not shift the mean \n\twant("+
				"mean[%v] = %v) \n\thave(%v)", i, want,
				planner.prevMean[i])
		}
	}
	for i := 2 * 2 * 2; i < 3*2*2; i++ {
		if math.Abs(planner.prevMean[i]) > 1e-6 {
			t.Errorf("discarded timestep was reused \n\twant(mean[%v]"+
				" ≈ 0) \n\thave(%v)", i, planner.prevMean[i])
		}
	}

	// In evaluation mode the returned action is the chosen elite's
	// first action, which tracks the warm-started mean the candidates
	// were drawn around
	for e := 0; e < 2; e++ {
		for d := 0; d < 2; d++ {
			want := prev[(1*2+e)*2+d]
			if math.Abs(actions[e][d]-want) > 1e-6 {
				t.Errorf("invalid warm-started action \n\twant("+
					"action[%v][%v] = %v) \n\thave(%v)", e, d, want,
					actions[e][d])
			}
		}
	}

	// Reset discards the warm start entirely
	planner.Reset()
	if _, err := planner.Plan(obs); err != nil {
		t.Fatalf("could not plan: %v", err)
	}
	for i := range planner.prevMean {
		if math.Abs(planner.prevMean[i]) > 1e-6 {
			t.Errorf("warm start survived a reset \n\twant(mean[%v] ≈ "+
				"0) \n\thave(%v)", i, planner.prevMean[i])
		}
	}
}

func TestPlanPrefersPolicyCandidates(t *testing.T) {
	fake := newFakeModel(3, 2)
	fake.pi = func(z []float64) []float64 {
		return []float64{0.5, 0.5}
	}
	fake.reward = func(z, action []float64) float64 {
		total := 0.0
		for _, a := range action {
			total -= math.Abs(a - 0.5)
		}
		return total
	}

	// Gaussian candidates concentrate at zero, so the single elite is
	// always the strictly better policy candidate
	config := plannerConfig()
	config.NumSamples = 4
	config.NumPiTrajs = 2
	config.NumElites = 1
	config.MinStd = 0.0
	config.MaxStd = 1e-9

	planner, err := NewPlanner(fake, config, 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}
	planner.Eval()

	actions, err := planner.Plan([][]float64{{0.1, 0.2, 0.3}})
	if err != nil {
		t.Fatalf("could not plan: %v", err)
	}
	for d, a := range actions[0] {
		if math.Abs(a-0.5) > 1e-12 {
			t.Errorf("policy candidate was not selected \n\twant("+
				"action[%v] = 0.5) \n\thave(%v)", d, a)
		}
	}
}

func TestEstimateValueMatchesDiscountedRollout(t *testing.T) {
	fake := newFakeModel(3, 2)
	fake.reward = func(z, action []float64) float64 { return 1.0 }
	fake.q = func(z, action []float64) float64 { return 2.0 }

	planner, err := NewPlanner(fake, plannerConfig(), 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	z := [][]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}
	actions := make([]float64, 3*len(z)*2)
	values, err := planner.estimateValue(z, actions)
	if err != nil {
		t.Fatalf("could not estimate values: %v", err)
	}

	gamma := 0.9
	want := 1.0 + gamma + gamma*gamma + gamma*gamma*gamma*2.0
	for r, have := range values {
		if math.Abs(have-want) > 1e-12 {
			t.Errorf("invalid value estimate \n\twant(values[%v] = %v)"+
				" \n\thave(%v)", r, want, have)
		}
	}
}

func TestEstimateValueReplacesNonFiniteEstimates(t *testing.T) {
	fake := newFakeModel(3, 2)
	fake.reward = func(z, action []float64) float64 {
		return math.NaN()
	}
	fake.q = func(z, action []float64) float64 {
		return math.Inf(1)
	}

	planner, err := NewPlanner(fake, plannerConfig(), 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	z := [][]float64{{0.1, 0.2, 0.3}}
	values, err := planner.estimateValue(z, make([]float64, 3*2))
	if err != nil {
		t.Fatalf("could not estimate values: %v", err)
	}
	for r, have := range values {
		if have != 0.0 {
			t.Errorf("non-finite estimate survived \n\twant(values[%v]"+
				" = 0) \n\thave(%v)", r, have)
		}
	}
}

func TestRefitMovesTowardElites(t *testing.T) {
	config := plannerConfig()
	config.Horizon = 1
	config.NumSamples = 4
	config.NumPiTrajs = 0
	config.NumElites = 2
	config.MinStd = 0.3

	planner, err := NewPlanner(newFakeModel(3, 1), config, 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	values := []float64{0.0, 10.0, 6.0, 3.0}
	scores, elites := planner.scoreElites(values)

	if elites[0] != 1 || elites[1] != 2 {
		t.Fatalf("invalid elite selection \n\twant([1 2]) \n\thave"+
			"(%v)", elites)
	}
	total := scores[0] + scores[1]
	if math.Abs(total-1.0) > 1e-12 {
		t.Errorf("elite scores are not normalized \n\twant(sum = 1) "+
			"\n\thave(%v)", total)
	}
	wantFirst := 1.0 / (1.0 + math.Exp(0.5*(6.0-10.0)))
	if math.Abs(scores[0]-wantFirst) > 1e-12 {
		t.Errorf("invalid elite score \n\twant(%v) \n\thave(%v)",
			wantFirst, scores[0])
	}

	mean := make([]float64, 1)
	std := []float64{config.MaxStd}
	actions := []float64{0.1, 0.8, 0.2, 0.5}
	planner.refit(mean, std, actions, scores, elites, 0)

	// The refit mean is a score-weighted average of the elite actions
	// and so lies between them
	if mean[0] < 0.2-1e-9 || mean[0] > 0.8+1e-9 {
		t.Errorf("refit mean outside the elite actions \n\twant(in "+
			"[0.2, 0.8]) \n\thave(%v)", mean[0])
	}

	// The elite spread is below the lower bound here, so the refit
	// standard deviation clamps to it
	if std[0] != config.MinStd {
		t.Errorf("invalid refit std \n\twant(%v) \n\thave(%v)",
			config.MinStd, std[0])
	}
}

func TestSetTaskSelectsDiscount(t *testing.T) {
	fake := newFakeModel(3, 2)
	fake.reward = func(z, action []float64) float64 { return 1.0 }

	config := plannerConfig()
	config.Horizon = 2
	config.DiscountHardcoded = 0.0
	config.DiscountMin = 0.95
	config.DiscountMax = 0.995
	config.DiscountDenom = 5.0
	config.EpisodeLengths = []int{1000, 100}

	planner, err := NewPlanner(fake, config, 1, 14)
	if err != nil {
		t.Fatalf("could not create planner: %v", err)
	}

	if err := planner.SetTask(1); err != nil {
		t.Fatalf("could not set task: %v", err)
	}

	z := [][]float64{{0.1, 0.2, 0.3}}
	values, err := planner.estimateValue(z, make([]float64, 2*2))
	if err != nil {
		t.Fatalf("could not estimate values: %v", err)
	}

	want := 1.0 + 0.95
	if math.Abs(values[0]-want) > 1e-12 {
		t.Errorf("value estimate ignored the task discount \n\twant"+
			"(%v) \n\thave(%v)", want, values[0])
	}

	if err := planner.SetTask(2); err == nil {
		t.Error("expected an error for an out-of-range task")
	}
	if err := planner.SetTask(-1); err == nil {
		t.Error("expected an error for a negative task")
	}
}
