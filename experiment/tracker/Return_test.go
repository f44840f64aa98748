package tracker

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/gotdmpc/timestep"
)

// episode sends an episode of the given rewards through a Tracker. The
// first timestep carries no reward.
func episode(tr Tracker, rewards []float64) {
	obs := mat.NewVecDense(1, []float64{0.0})
	tr.Track(ts.New(ts.First, 0.0, 1.0, obs, 0))

	for i, r := range rewards {
		stepType := ts.Mid
		if i == len(rewards)-1 {
			stepType = ts.Last
		}
		tr.Track(ts.New(stepType, r, 1.0, obs, i+1))
	}
}

func TestReturnTracksEpisodicReturns(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	tr := NewReturn(filename)

	episode(tr, []float64{1.0, -2.0, 0.5})
	episode(tr, []float64{3.0})

	tr.Save()
	data := LoadFData(filename)

	want := []float64{-0.5, 3.0}
	if len(data) != len(want) {
		t.Fatalf("invalid number of episode returns \n\twant(%v) "+
			"\n\thave(%v)", len(want), len(data))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("invalid return for episode %v \n\twant(%v) "+
				"\n\thave(%v)", i, want[i], data[i])
		}
	}
}

func TestEpisodeLengthTracksCompletedEpisodes(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lengths.bin")
	tr := NewEpisodeLength(filename)

	episode(tr, []float64{1.0, 1.0, 1.0})
	episode(tr, []float64{1.0, 1.0, 1.0, 1.0, 1.0})

	// An unfinished episode is not recorded
	obs := mat.NewVecDense(1, []float64{0.0})
	tr.Track(ts.New(ts.First, 0.0, 1.0, obs, 0))
	tr.Track(ts.New(ts.Mid, 1.0, 1.0, obs, 1))

	tr.Save()
	data := LoadIData(filename)

	want := []int{3, 5}
	if len(data) != len(want) {
		t.Fatalf("invalid number of episode lengths \n\twant(%v) "+
			"\n\thave(%v)", len(want), len(data))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("invalid length for episode %v \n\twant(%v) "+
				"\n\thave(%v)", i, want[i], data[i])
		}
	}
}
