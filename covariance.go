package mixtures

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

//Covariance will estimate the covariance matrix of the row means of y using
//non-overlapping block averaging with block length b. y holds one row per
//quantity and one column per configuration, ym holds the row means. Trailing
//configurations that do not fill a whole block are discarded. Averaging over
//blocks of length b makes the estimate robust to serial correlation without
//an explicit autocorrelation time.
func Covariance(y *mat.Dense, ym []float64, b int) (*mat.Dense, error) {
	return CrossCovariance(y, ym, y, ym, b)
}

//CrossCovariance will estimate the cross-covariance between the row means of
//a and those of c. Both matrices must share the same underlying
//configurations, i.e. have identical column counts aligned by sample index.
func CrossCovariance(a *mat.Dense, am []float64, c *mat.Dense, cm []float64, b int) (*mat.Dense, error) {
	ra, na := a.Dims()
	rc, nc := c.Dims()
	if na != nc {
		return nil, inputErrorf("cross-covariance inputs have %d and %d configurations", na, nc)
	}
	if b < 1 {
		return nil, inputErrorf("block size must be positive, got %d", b)
	}
	nb := na / b
	if nb < 2 {
		return nil, inputErrorf("block size %d leaves %d block(s) of %d configurations; need at least 2", b, nb, na)
	}
	da := blockMeanDeviations(a, am, b, nb)
	dc := da
	if a != c {
		dc = blockMeanDeviations(c, cm, b, nb)
	}
	cov := mat.NewDense(ra, rc, nil)
	cov.Mul(da, dc.T())
	cov.Scale(1/float64(nb*(nb-1)), cov)
	return cov, nil
}

//blockMeanDeviations returns an (r, nb) matrix whose column j holds the mean
//deviation from ym within block j.
func blockMeanDeviations(y *mat.Dense, ym []float64, b, nb int) *mat.Dense {
	r, _ := y.Dims()
	d := mat.NewDense(r, nb, nil)
	for k := 0; k < r; k++ {
		row := y.RawRowView(k)
		for j := 0; j < nb; j++ {
			sum := 0.0
			for t := j * b; t < (j+1)*b; t++ {
				sum += row[t]
			}
			d.Set(k, j, sum/float64(b)-ym[k])
		}
	}
	return d
}

//PseudoInverse will compute the Moore-Penrose pseudo-inverse of a via
//singular value decomposition, truncating singular values below
//eps*max(r,c)*smax. Rank-deficient inputs are expected here: the solver's
//base covariance matrix is singular by construction.
func PseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, inputErrorf("singular value decomposition failed")
	}
	r, c := a.Dims()
	s := svd.Values(nil)
	smax := 0.0
	for _, v := range s {
		if v > smax {
			smax = v
		}
	}
	dim := r
	if c > dim {
		dim = c
	}
	eps := math.Nextafter(1, 2) - 1
	tol := eps * float64(dim) * smax
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	k := len(s)
	si := mat.NewDense(k, k, nil)
	for i, val := range s {
		if val > tol {
			si.Set(i, i, 1/val)
		}
	}
	var tmp mat.Dense
	tmp.Mul(&v, si)
	inv := mat.NewDense(c, r, nil)
	inv.Mul(&tmp, u.T())
	return inv, nil
}
