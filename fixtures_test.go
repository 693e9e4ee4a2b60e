package mixtures

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Spring constants of the harmonic fixture states. Sampling x ~ N(0, 1/sqrt(k))
// under the reduced potential u = k*x^2/2 gives analytic free-energy
// differences f_i - f_0 = 0.5*ln(k_i/k_0).
var springs = []float64{1, 2, 4, 8}

func harmonicPotential(data Dataset, consts map[string]float64) []float64 {
	k := consts["k"]
	xs := data["x"]
	out := make([]float64, len(xs))
	for t, x := range xs {
		out[t] = 0.5 * k * x * x
	}
	return out
}

func xSquared(data Dataset, _ map[string]float64) []float64 {
	xs := data["x"]
	out := make([]float64, len(xs))
	for t, x := range xs {
		out[t] = x * x
	}
	return out
}

// halfXSquared is the harmonic potential differentiated by k.
func halfXSquared(data Dataset, _ map[string]float64) []float64 {
	xs := data["x"]
	out := make([]float64, len(xs))
	for t, x := range xs {
		out[t] = 0.5 * x * x
	}
	return out
}

func zeroExpr(data Dataset, _ map[string]float64) []float64 {
	return make([]float64, data.Len())
}

func harmonicSampleSet(n int) []*Sample {
	samples := make([]*Sample, len(springs))
	for i, k := range springs {
		rng := rand.New(rand.NewSource(int64(1000 + i)))
		sigma := 1 / math.Sqrt(k)
		xs := make([]float64, n)
		for t := range xs {
			xs[t] = rng.NormFloat64() * sigma
		}
		samples[i] = &Sample{
			Data:      Dataset{"x": xs},
			Potential: harmonicPotential,
			Constants: map[string]float64{"k": k},
			Neff:      float64(n),
			BlockSize: 10,
		}
	}
	return samples
}

// randomSpringSamples draws m harmonic states with spring constants in
// [0.5, 4.5) so that neighboring distributions keep substantial overlap.
func randomSpringSamples(rng *rand.Rand, m, n int) []*Sample {
	samples := make([]*Sample, m)
	for i := 0; i < m; i++ {
		k := 0.5 + 4*rng.Float64()
		sigma := 1 / math.Sqrt(k)
		xs := make([]float64, n)
		for t := range xs {
			xs[t] = rng.NormFloat64() * sigma
		}
		samples[i] = &Sample{
			Data:      Dataset{"x": xs},
			Potential: harmonicPotential,
			Constants: map[string]float64{"k": k},
			Neff:      float64(n),
			BlockSize: 10,
		}
	}
	return samples
}

var (
	fixtureOnce   sync.Once
	fixtureMx     *Mixture
	fixtureMethod *MICS
	fixtureErr    error
)

// harmonicMixture returns a converged mixture shared by the read-only tests.
func harmonicMixture(t *testing.T) (*Mixture, *MICS) {
	t.Helper()
	fixtureOnce.Do(func() {
		fixtureMethod = &MICS{}
		fixtureMx, fixtureErr = InitMixture(harmonicSampleSet(4000), &Options{Method: fixtureMethod})
	})
	require.NoError(t, fixtureErr)
	return fixtureMx, fixtureMethod
}

func analyticFreeEnergy(i int) float64 {
	return 0.5 * math.Log(springs[i]/springs[0])
}
