package tdmpc

import (
	"math"
	"testing"
)

func discountConfig() Config {
	return Config{
		DiscountMin:   0.95,
		DiscountMax:   0.995,
		DiscountDenom: 5.0,
	}
}

func TestDiscountForScalesWithEpisodeLength(t *testing.T) {
	tests := []struct {
		name          string
		episodeLength int
		hardcoded     float64
		want          float64
	}{
		{"long episodes hit the upper bound", 1000, 0.0, 0.995},
		{"moderate episodes interpolate", 150, 0.0, 29.0 / 30.0},
		{"boundary episode length", 100, 0.0, 0.95},
		{"short episodes hit the lower bound", 25, 0.0, 0.95},
		{"zero length saturates low", 0, 0.0, 0.95},
		{"negative length saturates high", -10, 0.0, 0.995},
		{"hardcoded override wins", 1000, 0.9, 0.9},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := discountConfig()
			config.DiscountHardcoded = test.hardcoded

			have := discountFor(test.episodeLength, config)
			if math.Abs(have-test.want) > 1e-12 {
				t.Errorf("invalid discount \n\twant(%v) \n\thave(%v)",
					test.want, have)
			}
		})
	}
}

func TestDiscountsReturnsOnePerTask(t *testing.T) {
	config := discountConfig()
	config.EpisodeLengths = []int{1000, 100, 25}

	have := discounts(config)
	want := []float64{0.995, 0.95, 0.95}
	if len(have) != len(want) {
		t.Fatalf("invalid number of discounts \n\twant(%v) \n\thave"+
			"(%v)", len(want), len(have))
	}
	for i := range want {
		if math.Abs(have[i]-want[i]) > 1e-12 {
			t.Errorf("invalid discount for task %v \n\twant(%v) \n\t"+
				"have(%v)", i, want[i], have[i])
		}
	}
}
