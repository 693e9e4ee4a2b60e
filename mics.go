package mixtures

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//MICS estimates free energies from a mixture of independently collected
//samples: a Newton-Raphson solution of the self-consistency equations
//followed by delta-method propagation of the block-averaged sampling
//covariance into every downstream estimate.
type MICS struct {
	p       []*mat.Dense // posterior probability matrices, one (m, n_i) per sample
	pm      [][]float64  // row means of p
	u0      [][]float64  // per-configuration log-normalizers, reused as weight offsets
	p0      []float64    // mixture-averaged posterior mass per state
	b0      *mat.Dense   // diag(p0) - sum_i pi_i P_i P_i^T / n_i, rank m-1
	ib0     *mat.Dense   // pseudo-inverse of b0
	sp0     *mat.Dense   // raw covariance of the mean posteriors
	theta   *mat.Dense   // propagated free-energy covariance
	overlap *mat.Dense   // stacked mean posteriors, one row per sample
}

//Initialize will iterate the self-consistency equations to convergence and
//compute the free-energy covariance matrix.
func (mc *MICS) Initialize(mx *Mixture) error {
	m := mx.m
	mc.p = make([]*mat.Dense, m)
	mc.pm = make([][]float64, m)
	mc.u0 = make([][]float64, m)
	for i := 0; i < m; i++ {
		mc.p[i] = mat.NewDense(m, mx.n[i], nil)
		mc.pm[i] = make([]float64, m)
		mc.u0[i] = make([]float64, mx.n[i])
	}

	iter := 0
	for {
		df, err := mc.newtonRaphsonStep(mx)
		if err != nil {
			return err
		}
		dev := 0.0
		for _, v := range df {
			if a := math.Abs(v); a > dev {
				dev = a
			}
		}
		iter++
		mx.logf("maximum deviation at iteration %d: %g", iter, dev)
		if dev <= mx.tol {
			break
		}
		if iter >= mx.maxIter {
			return fmt.Errorf("%w after %d iterations (residual %g)", ErrDidNotConverge, iter, dev)
		}
		for k := 1; k < m; k++ {
			mx.f[k] += df[k-1]
		}
	}
	mx.logf("free energies after convergence: %v", mx.f)

	sp0 := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		cov, err := Covariance(mc.p[i], mc.pm[i], mx.samples[i].BlockSize)
		if err != nil {
			return err
		}
		cov.Scale(mx.pi[i]*mx.pi[i], cov)
		sp0.Add(sp0, cov)
	}
	mc.sp0 = sp0

	var tmp mat.Dense
	tmp.Mul(mc.ib0, sp0)
	theta := mat.NewDense(m, m, nil)
	theta.Mul(&tmp, mc.ib0.T())
	mc.theta = theta

	overlap := mat.NewDense(m, m, nil)
	for i := range mc.pm {
		overlap.SetRow(i, mc.pm[i])
	}
	mc.overlap = overlap

	mx.theta = theta
	mx.overlap = overlap
	return nil
}

//newtonRaphsonStep recomputes the posterior matrices and log-normalizers
//under the current free energies and returns the update for f[1:], pinned so
//that state 0 fixes the additive constant.
func (mc *MICS) newtonRaphsonStep(mx *Mixture) ([]float64, error) {
	m := mx.m
	g := make([]float64, m)
	for k := 0; k < m; k++ {
		g[k] = mx.f[k] + math.Log(mx.pi[k])
	}
	x := make([]float64, m)
	for i := 0; i < m; i++ {
		ui := mx.u[i]
		ni := mx.n[i]
		for t := 0; t < ni; t++ {
			xmax := math.Inf(-1)
			for k := 0; k < m; k++ {
				x[k] = g[k] - ui.At(k, t)
				if x[k] > xmax {
					xmax = x[k]
				}
			}
			denom := 0.0
			for k := 0; k < m; k++ {
				x[k] = math.Exp(x[k] - xmax)
				denom += x[k]
			}
			for k := 0; k < m; k++ {
				mc.p[i].Set(k, t, x[k]/denom)
			}
			mc.u0[i][t] = -(xmax + math.Log(denom))
		}
		for k := 0; k < m; k++ {
			mc.pm[i][k] = floats.Sum(mc.p[i].RawRowView(k)) / float64(ni)
		}
	}

	p0 := make([]float64, m)
	for i := 0; i < m; i++ {
		for k := 0; k < m; k++ {
			p0[k] += mx.pi[i] * mc.pm[i][k]
		}
	}
	mc.p0 = p0

	b0 := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		var ppt mat.Dense
		ppt.Mul(mc.p[i], mc.p[i].T())
		ppt.Scale(mx.pi[i]/float64(mx.n[i]), &ppt)
		b0.Sub(b0, &ppt)
	}
	for k := 0; k < m; k++ {
		b0.Set(k, k, b0.At(k, k)+p0[k])
	}
	mc.b0 = b0
	ib0, err := PseudoInverse(b0)
	if err != nil {
		return nil, err
	}
	mc.ib0 = ib0

	dfull := make([]float64, m)
	for k := 0; k < m; k++ {
		s := 0.0
		for l := 0; l < m; l++ {
			s += ib0.At(k, l) * (mx.pi[l] - p0[l])
		}
		dfull[k] = s
	}
	df := make([]float64, m-1)
	for k := 1; k < m; k++ {
		df[k-1] = dfull[k] - dfull[0]
	}
	return df, nil
}

//Reweight will compute the free energy and property expectations under the
//target reduced potential u, with the full covariance of the concatenated
//estimate vector [f, y...] obtained by delta-method linearization around the
//converged solution.
func (mc *MICS) Reweight(mx *Mixture, u [][]float64, y []*mat.Dense, ref int) ([]float64, *mat.Dense, error) {
	m := mx.m
	if ref < 0 || ref >= m {
		return nil, nil, inputErrorf("reference state %d out of range [0,%d)", ref, m)
	}
	if len(u) != m {
		return nil, nil, inputErrorf("target potential evaluated on %d samples, want %d", len(u), m)
	}
	q := 0
	if len(y) > 0 && y[0] != nil {
		q, _ = y[0].Dims()
	}

	// importance weights and the augmented (weighted-property, weight) rows
	w := make([][]float64, m)
	r := make([]*mat.Dense, m)
	rm := make([][]float64, m)
	sumw := 0.0
	zm := make([]float64, q)
	for i := 0; i < m; i++ {
		ni := mx.n[i]
		if len(u[i]) != ni {
			return nil, nil, inputErrorf("target potential has %d values for sample %d (%d configurations)", len(u[i]), i, ni)
		}
		wi := make([]float64, ni)
		for t := range wi {
			wi[t] = math.Exp(mc.u0[i][t] - u[i][t])
		}
		w[i] = wi
		ri := mat.NewDense(q+1, ni, nil)
		for a := 0; a < q; a++ {
			yrow := y[i].RawRowView(a)
			for t := 0; t < ni; t++ {
				ri.Set(a, t, wi[t]*yrow[t])
			}
		}
		ri.SetRow(q, wi)
		r[i] = ri
		rmi := make([]float64, q+1)
		for a := 0; a <= q; a++ {
			rmi[a] = floats.Sum(ri.RawRowView(a)) / float64(ni)
		}
		rm[i] = rmi
		sumw += mx.pi[i] * rmi[q]
		for a := 0; a < q; a++ {
			zm[a] += mx.pi[i] * rmi[a]
		}
	}
	iw0 := 1.0 / sumw
	yu := make([]float64, q)
	for a := range yu {
		yu[a] = zm[a] * iw0
	}
	fu := math.Log(iw0) - mx.f[ref]

	ss0, err := mc.augmentedCovariance(mx, r, rm)
	if err != nil {
		return nil, nil, err
	}

	// reweighted posterior mass and posterior-property cross moments
	pu := make([]float64, m)
	var pyt *mat.Dense
	if q > 0 {
		pyt = mat.NewDense(m, q, nil)
	}
	for i := 0; i < m; i++ {
		ni := mx.n[i]
		for k := 0; k < m; k++ {
			pik := mc.p[i].RawRowView(k)
			s := 0.0
			for t := 0; t < ni; t++ {
				s += w[i][t] * pik[t]
			}
			pu[k] += mx.pi[i] * s / float64(ni)
		}
		if q > 0 {
			var tmp mat.Dense
			tmp.Mul(mc.p[i], r[i].Slice(0, q, 0, ni).T())
			tmp.Scale(mx.pi[i]/float64(ni), &tmp)
			pyt.Add(pyt, &tmp)
		}
	}
	for k := range pu {
		pu[k] *= iw0
	}

	// delta-method Jacobian mapping the augmented raw covariance into the
	// covariance of (f, y...)
	dim := m + q + 1
	jac := mat.NewDense(dim, 1+q, nil)
	if q > 0 {
		pyt.Scale(iw0, pyt)
		dyup0 := mat.NewDense(m, q, nil)
		for k := 0; k < m; k++ {
			for a := 0; a < q; a++ {
				dyup0.Set(k, a, pu[k]*yu[a])
			}
		}
		dyup0.Sub(dyup0, pyt)
		var block mat.Dense
		block.Mul(mc.ib0, dyup0)
		jac.Slice(0, m, 1, 1+q).(*mat.Dense).Copy(&block)
		for a := 0; a < q; a++ {
			jac.Set(m+a, 1+a, iw0)
			jac.Set(m+q, 1+a, -yu[a]*iw0)
		}
	}
	pu[ref] -= 1.0
	for k := 0; k < m; k++ {
		s := 0.0
		for l := 0; l < m; l++ {
			s += mc.ib0.At(k, l) * pu[l]
		}
		jac.Set(k, 0, s)
	}
	jac.Set(m+q, 0, iw0)

	var tmp, theta mat.Dense
	tmp.Mul(jac.T(), ss0)
	theta.Mul(&tmp, jac)

	out := make([]float64, 1+q)
	out[0] = fu
	copy(out[1:], yu)
	return out, &theta, nil
}

//Perturb will compute only the free-energy perturbation to the target
//reduced potential and its standard error, skipping the property machinery.
func (mc *MICS) Perturb(mx *Mixture, u [][]float64, ref int) (float64, float64, error) {
	m := mx.m
	if ref < 0 || ref >= m {
		return 0, 0, inputErrorf("reference state %d out of range [0,%d)", ref, m)
	}
	if len(u) != m {
		return 0, 0, inputErrorf("target potential evaluated on %d samples, want %d", len(u), m)
	}
	w := make([]*mat.Dense, m)
	wm := make([][]float64, m)
	sumw := 0.0
	for i := 0; i < m; i++ {
		ni := mx.n[i]
		if len(u[i]) != ni {
			return 0, 0, inputErrorf("target potential has %d values for sample %d (%d configurations)", len(u[i]), i, ni)
		}
		wi := mat.NewDense(1, ni, nil)
		row := wi.RawRowView(0)
		for t := 0; t < ni; t++ {
			row[t] = math.Exp(mc.u0[i][t] - u[i][t])
		}
		w[i] = wi
		wm[i] = []float64{floats.Sum(row) / float64(ni)}
		sumw += mx.pi[i] * wm[i][0]
	}
	iw0 := 1.0 / sumw

	ss0, err := mc.augmentedCovariance(mx, w, wm)
	if err != nil {
		return 0, 0, err
	}

	pu := make([]float64, m)
	for i := 0; i < m; i++ {
		ni := mx.n[i]
		wrow := w[i].RawRowView(0)
		for k := 0; k < m; k++ {
			pik := mc.p[i].RawRowView(k)
			s := 0.0
			for t := 0; t < ni; t++ {
				s += wrow[t] * pik[t]
			}
			pu[k] += mx.pi[i] * s / float64(ni)
		}
	}
	for k := range pu {
		pu[k] *= iw0
	}
	pu[ref] -= 1.0

	g := make([]float64, m+1)
	for k := 0; k < m; k++ {
		s := 0.0
		for l := 0; l < m; l++ {
			s += mc.ib0.At(k, l) * pu[l]
		}
		g[k] = s
	}
	g[m] = iw0

	variance := 0.0
	for a := range g {
		for b := range g {
			variance += g[a] * ss0.At(a, b) * g[b]
		}
	}
	if variance < 0 {
		variance = 0
	}
	return math.Log(iw0) - mx.f[ref], math.Sqrt(variance), nil
}

//augmentedCovariance assembles the block matrix combining the solver's
//posterior covariance with the cross- and auto-covariances of the extra
//per-sample rows r (weighted properties and weights, or weights alone).
func (mc *MICS) augmentedCovariance(mx *Mixture, r []*mat.Dense, rm [][]float64) (*mat.Dense, error) {
	m := mx.m
	nr, _ := r[0].Dims()
	spr := mat.NewDense(m, nr, nil)
	sr := mat.NewDense(nr, nr, nil)
	for i := 0; i < m; i++ {
		b := mx.samples[i].BlockSize
		cross, err := CrossCovariance(mc.p[i], mc.pm[i], r[i], rm[i], b)
		if err != nil {
			return nil, err
		}
		cross.Scale(mx.pi[i]*mx.pi[i], cross)
		spr.Add(spr, cross)
		auto, err := Covariance(r[i], rm[i], b)
		if err != nil {
			return nil, err
		}
		auto.Scale(mx.pi[i]*mx.pi[i], auto)
		sr.Add(sr, auto)
	}
	dim := m + nr
	ss0 := mat.NewDense(dim, dim, nil)
	ss0.Slice(0, m, 0, m).(*mat.Dense).Copy(mc.sp0)
	ss0.Slice(0, m, m, dim).(*mat.Dense).Copy(spr)
	ss0.Slice(m, dim, 0, m).(*mat.Dense).Copy(spr.T())
	ss0.Slice(m, dim, m, dim).(*mat.Dense).Copy(sr)
	return ss0, nil
}
