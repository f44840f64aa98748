package seqreplay

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/gotdmpc/timestep"
)

func obsStep(stepType ts.StepType, reward, obs float64,
	number int) ts.TimeStep {
	return ts.New(stepType, reward, 1.0, mat.NewVecDense(1, []float64{obs}),
		number)
}

func action(a float64) mat.Vector {
	return mat.NewVecDense(1, []float64{a})
}

// fillEpisode adds an episode whose observations count up from start
// and whose actions and rewards are offset from the observation they
// follow, so sampled windows can be checked for alignment.
func fillEpisode(t *testing.T, buffer SequenceReplayer, start float64,
	steps int) {
	t.Helper()

	if err := buffer.StartEpisode(obsStep(ts.First, 0, start, 0)); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= steps; i++ {
		stepType := ts.Mid
		if i == steps {
			stepType = ts.Last
		}
		prev := start + float64(i-1)
		step := obsStep(stepType, prev+0.5, start+float64(i), i)
		if err := buffer.Add(action(prev+10.0), step); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSampledWindowsAreContiguous(t *testing.T) {
	buffer, err := New(2, 16, 1, 64, 1, 1, 42)
	if err != nil {
		t.Fatal(err)
	}

	fillEpisode(t, buffer, 0.0, 3)   // observations 0, 1, 2, 3
	fillEpisode(t, buffer, 100.0, 2) // observations 100, 101, 102

	if want, have := 3, buffer.Windows(); want != have {
		t.Fatalf("number of complete windows incorrect \n\twant(%v) "+
			"\n\thave(%v)", want, have)
	}

	obs, actions, rewards, err := buffer.SampleWindows()
	if err != nil {
		t.Fatal(err)
	}

	for b := 0; b < buffer.BatchSize(); b++ {
		for step := 0; step <= buffer.Horizon(); step++ {
			if step > 0 && obs[step][b] != obs[step-1][b]+1.0 {
				t.Errorf("window observations not contiguous \n\twant(%v) "+
					"\n\thave(%v)", obs[step-1][b]+1.0, obs[step][b])
			}
			if step < buffer.Horizon() {
				if actions[step][b] != obs[step][b]+10.0 {
					t.Errorf("action misaligned with observation "+
						"\n\twant(%v) \n\thave(%v)", obs[step][b]+10.0,
						actions[step][b])
				}
				if rewards[step][b] != obs[step][b]+0.5 {
					t.Errorf("reward misaligned with observation "+
						"\n\twant(%v) \n\thave(%v)", obs[step][b]+0.5,
						rewards[step][b])
				}
			}
		}

		// A window starting in the first episode may not reach into
		// the second
		if obs[0][b] < 100.0 && obs[buffer.Horizon()][b] >= 100.0 {
			t.Errorf("window crosses an episode boundary \n\thave(start "+
				"%v, end %v)", obs[0][b], obs[buffer.Horizon()][b])
		}
	}
}

func TestSampleErrors(t *testing.T) {
	buffer, err := New(3, 4, 1, 32, 1, 1, 13)
	if err != nil {
		t.Fatal(err)
	}

	_, _, _, err = buffer.SampleWindows()
	if !IsEmptyBuffer(err) {
		t.Errorf("sampling an empty buffer should report an empty cache "+
			"\n\thave(%v)", err)
	}

	// A single observation cannot hold a full window
	if err := buffer.StartEpisode(obsStep(ts.First, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}
	_, _, _, err = buffer.SampleWindows()
	if !IsInsufficientSamples(err) {
		t.Errorf("sampling with no complete window should report "+
			"insufficient samples \n\thave(%v)", err)
	}
}

func TestAddRequiresEpisode(t *testing.T) {
	buffer, err := New(2, 4, 1, 32, 1, 1, 13)
	if err != nil {
		t.Fatal(err)
	}

	err = buffer.Add(action(0.0), obsStep(ts.Mid, 0, 1, 1))
	if !IsNoEpisode(err) {
		t.Errorf("adding before an episode starts should fail \n\thave(%v)",
			err)
	}

	// After a terminal step, the episode is over
	fillEpisode(t, buffer, 0.0, 2)
	err = buffer.Add(action(0.0), obsStep(ts.Mid, 0, 3, 3))
	if !IsNoEpisode(err) {
		t.Errorf("adding after a terminal step should fail \n\thave(%v)", err)
	}
}

func TestWindowsNeverSpanOverwrittenBoundary(t *testing.T) {
	// Capacity 8 with episodes of 4 steps: after three episodes the
	// ring has wrapped and the oldest episode is partially gone
	buffer, err := New(2, 8, 1, 8, 1, 1, 7)
	if err != nil {
		t.Fatal(err)
	}

	fillEpisode(t, buffer, 0.0, 3)
	fillEpisode(t, buffer, 100.0, 3)
	fillEpisode(t, buffer, 200.0, 3)

	obs, _, _, err := buffer.SampleWindows()
	if err != nil {
		t.Fatal(err)
	}

	for b := 0; b < buffer.BatchSize(); b++ {
		for step := 1; step <= buffer.Horizon(); step++ {
			if obs[step][b] != obs[step-1][b]+1.0 {
				t.Errorf("window crosses the ring's overwrite boundary "+
					"\n\thave(%v then %v)", obs[step-1][b], obs[step][b])
			}
		}
	}
}
