package station

import "math/rand/v2"

// Drift describes how one quantity moves toward its target on each tick.
type Drift struct {
	// Smoothing is the fraction of the distance to the target covered per
	// tick. Must be in (0,1); smaller converges more slowly.
	Smoothing float64

	// Noise is the standard deviation of the gaussian noise added per tick.
	Noise float64

	// Lower and Upper bound the value after every update.
	Lower float64
	Upper float64
}

// Per-quantity drift parameters. Downstream consumers calibrate against
// these ranges, so they must not change.
var (
	TemperatureDrift = Drift{Smoothing: 0.02, Noise: 0.12, Lower: -5, Upper: 45}
	HumidityDrift    = Drift{Smoothing: 0.02, Noise: 0.4, Lower: 0, Upper: 100}
	AirQualityDrift  = Drift{Smoothing: 0.03, Noise: 2.0, Lower: 0, Upper: 500}
	IlluminanceDrift = Drift{Smoothing: 0.02, Noise: 8.0, Lower: 0, Upper: 120000}
	SoundDrift       = Drift{Smoothing: 0.02, Noise: 0.7, Lower: 20, Upper: 110}
	PressureDrift    = Drift{Smoothing: 0.01, Noise: 0.25, Lower: 870, Upper: 1085}
	UVIndexDrift     = Drift{Smoothing: 0.04, Noise: 0.25, Lower: 0, Upper: 11}
)

// Advance returns the next value of a drifting scalar:
//
//	current + smoothing*(target-current) + N(0, noise), clamped to [lower, upper]
//
// It draws exactly one normal variate from rng, even when noise is zero, so
// the random sequence of a station does not depend on its parameters.
func Advance(current, target, smoothing, noise float64, rng *rand.Rand, lower, upper float64) float64 {
	next := current + smoothing*(target-current) + rng.NormFloat64()*noise
	return clamp(next, lower, upper)
}

// Apply is Advance with the parameters taken from d.
func (d Drift) Apply(current, target float64, rng *rand.Rand) float64 {
	return Advance(current, target, d.Smoothing, d.Noise, rng, d.Lower, d.Upper)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
