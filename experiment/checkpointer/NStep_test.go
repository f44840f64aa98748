package checkpointer

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/gotdmpc/timestep"
)

// recorder is a Serializable that records the paths it was asked to
// save to
type recorder struct {
	paths []string
}

func (r *recorder) Save(path string) error {
	r.paths = append(r.paths, path)
	return nil
}

func step(number int) ts.TimeStep {
	obs := mat.NewVecDense(1, []float64{0.0})
	return ts.New(ts.Mid, 0.0, 1.0, obs, number)
}

func TestNStepCheckpointsOnInterval(t *testing.T) {
	object := &recorder{}
	c := NewNStep(3, object, FilenameEnumerator(0, "model", ".bin"))

	for number := 0; number < 10; number++ {
		if err := c.Checkpoint(step(number)); err != nil {
			t.Fatalf("could not checkpoint: %v", err)
		}
	}

	// Steps 0, 3, 6, and 9 are multiples of the interval
	want := []string{"model1.bin", "model2.bin", "model3.bin",
		"model4.bin"}
	if len(object.paths) != len(want) {
		t.Fatalf("invalid number of checkpoints \n\twant(%v) "+
			"\n\thave(%v)", len(want), len(object.paths))
	}
	for i := range want {
		if object.paths[i] != want[i] {
			t.Errorf("invalid checkpoint filename \n\twant(%v) "+
				"\n\thave(%v)", want[i], object.paths[i])
		}
	}
}

func TestFilenameEnumeratorCountsFromStart(t *testing.T) {
	name := FilenameEnumerator(7, "data/agent", ".bin")

	if f := name(); f != "data/agent8.bin" {
		t.Errorf("invalid enumerated filename \n\twant(%v) \n\thave(%v)",
			"data/agent8.bin", f)
	}
	if f := name(); f != "data/agent9.bin" {
		t.Errorf("invalid enumerated filename \n\twant(%v) \n\thave(%v)",
			"data/agent9.bin", f)
	}
}
