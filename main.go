package main

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/gotdmpc/agent/tdmpc"
	"github.com/samuelfneumann/gotdmpc/environment"
	"github.com/samuelfneumann/gotdmpc/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/gotdmpc/experiment"
	"github.com/samuelfneumann/gotdmpc/experiment/tracker"
	"github.com/samuelfneumann/gotdmpc/initwfn"
	"github.com/samuelfneumann/gotdmpc/model"
	"github.com/samuelfneumann/gotdmpc/network"
	"github.com/samuelfneumann/gotdmpc/solver"
)

func main() {
	var seed uint64 = 192382
	cutoff := 200

	// Create the environment
	angle := r1.Interval{Min: -pendulum.AngleBound,
		Max: pendulum.AngleBound}
	speed := r1.Interval{Min: -1.0, Max: 1.0}

	s := environment.NewUniformStarter([]r1.Interval{angle, speed}, seed)
	task := pendulum.NewSwingUp(s, cutoff)
	p, _ := pendulum.NewContinuous(task, 1.0)

	// Create the solvers
	sol, err := solver.NewDefaultAdam(3e-4, 1)
	if err != nil {
		panic(err)
	}
	piSol, err := solver.NewDefaultAdam(3e-4, 1)
	if err != nil {
		panic(err)
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(err)
	}

	// Create the learning algorithm
	config := tdmpc.Config{
		Horizon:     3,
		NumSamples:  256,
		NumPiTrajs:  24,
		NumElites:   32,
		Iterations:  6,
		Temperature: 0.5,
		MinStd:      0.05,
		MaxStd:      2.0,
		MPC:         true,

		DiscountMin:   0.95,
		DiscountMax:   0.995,
		DiscountDenom: 5.0,

		Rho:             0.5,
		EntropyCoef:     1e-4,
		ConsistencyCoef: 20.0,
		RewardCoef:      0.1,
		ValueCoef:       0.1,
		GradClipNorm:    20.0,
		EncoderLRScale:  0.3,

		Solver:   sol,
		PiSolver: piSol,

		BufferCapacity:    50_000,
		BufferMinCapacity: 500,
		BatchSize:         64,

		EpisodeLengths: []int{cutoff},

		Model: model.Config{
			LatentDims: 32,
			NumQ:       2,
			NumBins:    101,
			VMin:       -10.0,
			VMax:       10.0,

			HiddenSizes: []int{64, 64},
			Biases:      []bool{true, true},
			Activations: []*network.Activation{
				network.Mish(),
				network.Mish(),
			},
			InitWFn: init,

			Tau:       0.01,
			LogStdMin: -10.0,
			LogStdMax: 2.0,
		},
	}

	a, err := tdmpc.New(p, config, seed)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	// Experiment
	var saver tracker.Tracker = tracker.NewReturn("./data.bin")
	e := experiment.NewOnline(p, a, 10_000, []tracker.Tracker{saver},
		nil)
	e.Run()
	e.Save()

	data := tracker.LoadFData("./data.bin")
	fmt.Println(data[len(data)-10:])
}
