package model

import (
	"math"
	"path/filepath"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/gotdmpc/initwfn"
	"github.com/samuelfneumann/gotdmpc/network"
)

const tolerance float64 = 1e-10

func testConfig(t *testing.T, init *initwfn.InitWFn) Config {
	t.Helper()
	return Config{
		Features:    3,
		ActionDims:  2,
		LatentDims:  4,
		NumQ:        2,
		NumBins:     5,
		VMin:        -10.0,
		VMax:        10.0,
		HiddenSizes: []int{8},
		Biases:      []bool{true},
		Activations: []*network.Activation{network.TanH()},
		InitWFn:     init,
		Tau:         0.01,
		LogStdMin:   -10.0,
		LogStdMax:   2.0,
	}
}

func zeroModel(t *testing.T) *LatentModel {
	t.Helper()
	init, err := initwfn.NewZeroes()
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}

	m, err := New(testConfig(t, init), 11)
	if err != nil {
		t.Fatalf("could not create model: %v", err)
	}
	return m
}

func randomModel(t *testing.T, seed uint64) *LatentModel {
	t.Helper()
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}

	m, err := New(testConfig(t, init), seed)
	if err != nil {
		t.Fatalf("could not create model: %v", err)
	}
	return m
}

func TestNewValidatesConfig(t *testing.T) {
	init, err := initwfn.NewZeroes()
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no value heads", func(c *Config) { c.NumQ = 0 }},
		{"empty log std bounds", func(c *Config) { c.LogStdMin = 3.0 }},
		{"empty value support", func(c *Config) { c.VMin = c.VMax }},
		{"mismatched biases", func(c *Config) { c.Biases = nil }},
		{"no initializer", func(c *Config) { c.InitWFn = nil }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := testConfig(t, init)
			test.mutate(&config)
			if _, err := New(config, 1); err == nil {
				t.Error("expected an invalid configuration error")
			}
		})
	}
}

func TestZeroModelPredictsZero(t *testing.T) {
	m := zeroModel(t)
	defer m.Close()

	obs := [][]float64{{0.1, -0.2, 0.3}, {1.0, 2.0, -3.0}}
	z, err := m.Encode(obs)
	if err != nil {
		t.Fatalf("could not encode: %v", err)
	}
	if len(z) != 2 || len(z[0]) != m.LatentDims() {
		t.Fatalf("encode returned invalid shape \n\twant(%v, %v) "+
			"\n\thave(%v, %v)", 2, m.LatentDims(), len(z), len(z[0]))
	}
	for b := range z {
		for _, v := range z[b] {
			if v != 0.0 {
				t.Errorf("zero encoder produced nonzero latent %v", v)
			}
		}
	}

	actions := [][]float64{{0.5, -0.5}, {1.0, 0.0}}
	next, err := m.Next(z, actions)
	if err != nil {
		t.Fatalf("could not predict next latents: %v", err)
	}
	for b := range next {
		for _, v := range next[b] {
			if v != 0.0 {
				t.Errorf("zero dynamics produced nonzero latent %v", v)
			}
		}
	}

	// Uniform logits over a symmetric bin grid decode to exactly 0
	rewards, err := m.Reward(z, actions)
	if err != nil {
		t.Fatalf("could not predict rewards: %v", err)
	}
	for _, r := range rewards {
		if math.Abs(r) > tolerance {
			t.Errorf("zero reward head decoded to %v", r)
		}
	}

	for _, mode := range []QMode{QMin, QAvg} {
		values, err := m.Q(z, actions, mode, false)
		if err != nil {
			t.Fatalf("could not predict values: %v", err)
		}
		for _, v := range values {
			if math.Abs(v) > tolerance {
				t.Errorf("zero value ensemble decoded to %v", v)
			}
		}
	}

	// Rerunning on the cached replica gives the same predictions
	again, err := m.Encode(obs)
	if err != nil {
		t.Fatalf("could not encode again: %v", err)
	}
	for b := range again {
		for j := range again[b] {
			if again[b][j] != z[b][j] {
				t.Errorf("cached replica changed prediction \n\twant"+
					"(%v) \n\thave(%v)", z[b][j], again[b][j])
			}
		}
	}
}

func TestPiEvalIsDeterministicMean(t *testing.T) {
	m := zeroModel(t)
	defer m.Close()

	m.Eval()
	if !m.IsEval() {
		t.Fatal("model did not enter evaluation mode")
	}

	z := [][]float64{{0.0, 0.0, 0.0, 0.0}, {1.0, -1.0, 0.5, 0.25}}
	mean, sampled, logProb, err := m.Pi(z)
	if err != nil {
		t.Fatalf("could not sample policy: %v", err)
	}

	// Zero weights give zero pre-squash mean, and evaluation mode
	// draws no noise
	for b := range mean {
		for j := range mean[b] {
			if mean[b][j] != 0.0 {
				t.Errorf("zero policy produced nonzero mean %v",
					mean[b][j])
			}
			if sampled[b][j] != mean[b][j] {
				t.Errorf("evaluation sample differs from mean \n\t"+
					"want(%v) \n\thave(%v)", mean[b][j], sampled[b][j])
			}
		}
	}

	// With zero raw outputs, the log std of each dimension soft-clamps
	// to the middle of its bounds
	logStd := -10.0 + 0.5*(2.0-(-10.0))*(math.Tanh(0)+1)
	want := -math.Log(2*math.Pi) - 2*logStd - 2*math.Log(1.0+1e-6)
	for b := range logProb {
		if math.Abs(logProb[b]-want) > tolerance {
			t.Errorf("invalid log density \n\twant(%v) \n\thave(%v)",
				want, logProb[b])
		}
	}

	m.Train()
	if m.IsEval() {
		t.Fatal("model did not leave evaluation mode")
	}
}

func TestPiTrainSamplesInBounds(t *testing.T) {
	m := randomModel(t, 23)
	defer m.Close()

	z := [][]float64{
		{0.1, 0.2, 0.3, 0.4},
		{-0.5, 0.0, 0.5, 1.0},
		{1.0, 1.0, -1.0, -1.0},
		{0.0, 0.0, 0.0, 0.0},
	}
	mean, sampled, logProb, err := m.Pi(z)
	if err != nil {
		t.Fatalf("could not sample policy: %v", err)
	}

	noise := 0.0
	for b := range sampled {
		if math.IsNaN(logProb[b]) || math.IsInf(logProb[b], 0) {
			t.Errorf("log density is not finite: %v", logProb[b])
		}
		for j := range sampled[b] {
			if math.Abs(sampled[b][j]) > 1.0 {
				t.Errorf("sampled action out of bounds: %v",
					sampled[b][j])
			}
			if math.Abs(mean[b][j]) > 1.0 {
				t.Errorf("mean action out of bounds: %v", mean[b][j])
			}
			noise += math.Abs(sampled[b][j] - mean[b][j])
		}
	}
	if noise == 0.0 {
		t.Error("training mode drew no sampling noise")
	}
}

func TestTargetEnsembleStartsEqualToOnline(t *testing.T) {
	m := randomModel(t, 31)
	defer m.Close()

	z := [][]float64{{0.25, -0.75, 1.5, 0.0}, {2.0, 1.0, -1.0, 0.5}}
	actions := [][]float64{{0.3, -0.6}, {-1.0, 1.0}}

	online, err := m.Q(z, actions, QMin, false)
	if err != nil {
		t.Fatalf("could not predict online values: %v", err)
	}
	target, err := m.Q(z, actions, QMin, true)
	if err != nil {
		t.Fatalf("could not predict target values: %v", err)
	}
	for b := range online {
		if math.Abs(online[b]-target[b]) > tolerance {
			t.Errorf("target ensemble differs from online at "+
				"construction \n\twant(%v) \n\thave(%v)", online[b],
				target[b])
		}
	}

	// A Polyak average of equal ensembles changes nothing
	if err := m.SoftUpdateTargetQ(); err != nil {
		t.Fatalf("could not soft update target ensemble: %v", err)
	}
	target, err = m.Q(z, actions, QMin, true)
	if err != nil {
		t.Fatalf("could not predict target values: %v", err)
	}
	for b := range online {
		if math.Abs(online[b]-target[b]) > tolerance {
			t.Errorf("soft update moved equal ensembles apart \n\t"+
				"want(%v) \n\thave(%v)", online[b], target[b])
		}
	}
}

func TestDecodeValueMatchesCodec(t *testing.T) {
	m := randomModel(t, 7)
	defer m.Close()

	width := m.Codec().Width()
	g := G.NewGraph()
	logits := G.NewMatrix(g, tensor.Float64, G.WithShape(2, width),
		G.WithName("logits"), G.WithInit(G.Zeroes()))

	decoded, err := m.DecodeValue(logits)
	if err != nil {
		t.Fatalf("could not decode value node: %v", err)
	}
	var decodedVal G.Value
	G.Read(decoded, &decodedVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()

	backing := []float64{
		0.5, -1.25, 3.0, 0.0, -0.5,
		2.0, 2.0, 2.0, 2.0, 2.0,
	}
	err = G.Let(logits, tensor.New(tensor.WithShape(2, width),
		tensor.WithBacking(backing)))
	if err != nil {
		t.Fatalf("could not set logits: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run vm: %v", err)
	}

	out := decodedVal.Data().([]float64)
	for b := 0; b < 2; b++ {
		want := m.Codec().DecodeLogits(backing[b*width : (b+1)*width])
		if math.Abs(out[b]-want) > tolerance {
			t.Errorf("graph decoding differs from codec \n\twant(%v) "+
				"\n\thave(%v)", want, out[b])
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := randomModel(t, 41)
	defer m.Close()
	m.Eval()

	obs := [][]float64{{0.5, -1.0, 2.0}, {0.0, 0.0, 1.0}}
	actions := [][]float64{{0.1, 0.9}, {-0.4, 0.2}}

	z, err := m.Encode(obs)
	if err != nil {
		t.Fatalf("could not encode: %v", err)
	}
	values, err := m.Q(z, actions, QAvg, false)
	if err != nil {
		t.Fatalf("could not predict values: %v", err)
	}
	mean, _, _, err := m.Pi(z)
	if err != nil {
		t.Fatalf("could not sample policy: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.bin")
	if err := m.Save(path); err != nil {
		t.Fatalf("could not save model: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("could not load model: %v", err)
	}
	defer loaded.Close()
	loaded.Eval()

	if loaded.Features() != m.Features() ||
		loaded.ActionDims() != m.ActionDims() ||
		loaded.LatentDims() != m.LatentDims() ||
		loaded.NumQ() != m.NumQ() {
		t.Fatal("loaded model has different dimensions")
	}

	loadedZ, err := loaded.Encode(obs)
	if err != nil {
		t.Fatalf("could not encode with loaded model: %v", err)
	}
	for b := range z {
		for j := range z[b] {
			if math.Abs(z[b][j]-loadedZ[b][j]) > tolerance {
				t.Errorf("loaded encoder differs \n\twant(%v) \n\t"+
					"have(%v)", z[b][j], loadedZ[b][j])
			}
		}
	}

	loadedValues, err := loaded.Q(z, actions, QAvg, false)
	if err != nil {
		t.Fatalf("could not predict values with loaded model: %v", err)
	}
	for b := range values {
		if math.Abs(values[b]-loadedValues[b]) > tolerance {
			t.Errorf("loaded ensemble differs \n\twant(%v) \n\thave"+
				"(%v)", values[b], loadedValues[b])
		}
	}

	loadedMean, _, _, err := loaded.Pi(z)
	if err != nil {
		t.Fatalf("could not sample loaded policy: %v", err)
	}
	for b := range mean {
		for j := range mean[b] {
			if math.Abs(mean[b][j]-loadedMean[b][j]) > tolerance {
				t.Errorf("loaded policy differs \n\twant(%v) \n\thave"+
					"(%v)", mean[b][j], loadedMean[b][j])
			}
		}
	}
}

func TestBatchValidation(t *testing.T) {
	m := zeroModel(t)
	defer m.Close()

	if _, err := m.Encode([][]float64{{1.0, 2.0}}); err == nil {
		t.Error("expected an error for a short observation row")
	}
	if _, err := m.Encode(nil); err == nil {
		t.Error("expected an error for an empty batch")
	}

	z := [][]float64{{0.0, 0.0, 0.0, 0.0}}
	long := [][]float64{{1.0, 2.0, 3.0}}
	if _, err := m.Next(z, long); err == nil {
		t.Error("expected an error for a long action row")
	}

	twoActions := [][]float64{{0.0, 0.0}, {0.0, 0.0}}
	if _, err := m.Q(z, twoActions, QMin, false); err == nil {
		t.Error("expected an error for mismatched batch sizes")
	}
	if _, err := m.Q(z, z[:1], QMode(99), false); err == nil {
		t.Error("expected an error for an unknown ensemble reduction")
	}
}
