package mixtures

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCovarianceIIDVariance(t *testing.T) {
	n := 20000
	rng := rand.New(rand.NewSource(7))
	data := make([]float64, n)
	sum := 0.0
	for i := range data {
		data[i] = rng.NormFloat64()
		sum += data[i]
	}
	y := mat.NewDense(1, n, data)
	ym := []float64{sum / float64(n)}

	cov, err := Covariance(y, ym, 8)
	require.NoError(t, err)
	// variance of the mean of n iid unit-variance draws
	assert.InEpsilon(t, 1/float64(n), cov.At(0, 0), 0.2)
}

func TestCrossCovarianceMatchesCovariance(t *testing.T) {
	n := 1000
	rng := rand.New(rand.NewSource(11))
	data := make([]float64, 2*n)
	for i := range data {
		data[i] = rng.Float64()
	}
	y := mat.NewDense(2, n, data)
	other := mat.NewDense(2, n, append([]float64(nil), data...))
	ym := rowMeans(y)

	cov, err := Covariance(y, ym, 10)
	require.NoError(t, err)
	cross, err := CrossCovariance(y, ym, other, ym, 10)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, cov.At(i, j), cross.At(i, j), 1e-15)
		}
	}
}

func TestCovarianceBlockTooLarge(t *testing.T) {
	y := mat.NewDense(1, 10, make([]float64, 10))
	ym := []float64{0}

	_, err := Covariance(y, ym, 5)
	assert.NoError(t, err) // exactly two blocks is fine

	var inputErr *InputError
	_, err = Covariance(y, ym, 6)
	require.ErrorAs(t, err, &inputErr)
	_, err = Covariance(y, ym, 10)
	require.ErrorAs(t, err, &inputErr)
	_, err = Covariance(y, ym, 0)
	require.ErrorAs(t, err, &inputErr)
}

func TestCrossCovarianceMismatchedColumns(t *testing.T) {
	a := mat.NewDense(1, 10, make([]float64, 10))
	c := mat.NewDense(1, 12, make([]float64, 12))
	var inputErr *InputError
	_, err := CrossCovariance(a, []float64{0}, c, []float64{0}, 2)
	require.ErrorAs(t, err, &inputErr)
}

func TestPseudoInverseRankDeficient(t *testing.T) {
	// rank-1 matrix a*a^T
	a := []float64{1, 2, 3}
	m := mat.NewDense(3, 3, nil)
	for i := range a {
		for j := range a {
			m.Set(i, j, a[i]*a[j])
		}
	}
	inv, err := PseudoInverse(m)
	require.NoError(t, err)

	// Moore-Penrose identity M M+ M = M
	var tmp, back mat.Dense
	tmp.Mul(m, inv)
	back.Mul(&tmp, m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, m.At(i, j), back.At(i, j), 1e-10)
		}
	}
}

func TestPseudoInverseDiagonal(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{2, 0, 0, 4})
	inv, err := PseudoInverse(m)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, inv.At(0, 0), 1e-14)
	assert.InDelta(t, 0.25, inv.At(1, 1), 1e-14)
	assert.InDelta(t, 0, inv.At(0, 1), 1e-14)
}

func rowMeans(y *mat.Dense) []float64 {
	r, n := y.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		sum := 0.0
		for t := 0; t < n; t++ {
			sum += y.At(i, t)
		}
		out[i] = sum / float64(n)
	}
	return out
}

func TestBlockMeanDeviationsDropsPartialBlock(t *testing.T) {
	y := mat.NewDense(1, 7, []float64{1, 1, 2, 2, 3, 3, 100})
	d := blockMeanDeviations(y, []float64{2}, 2, 3)
	_, nb := d.Dims()
	require.Equal(t, 3, nb)
	assert.InDelta(t, -1, d.At(0, 0), 1e-15)
	assert.InDelta(t, 0, d.At(0, 1), 1e-15)
	assert.InDelta(t, 1, d.At(0, 2), 1e-15)
}
