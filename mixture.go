package mixtures

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//Mixture owns a collection of independently collected samples and the
//converged solver state derived from them. All fields are computed once in
//InitMixture and are immutable afterwards; reweighting and perturbation
//calls are pure functions of that state plus their own inputs.
type Mixture struct {
	samples []*Sample
	names   []string     // shared property schema
	m       int          // number of samples/states
	n       []int        // configurations per sample
	neff    []float64    // effective sample sizes
	pi      []float64    // mixture composition, neff_i / sum(neff)
	u       []*mat.Dense // reduced-potential matrices, one (m, n_i) per sample
	f       []float64    // converged free energies, defined up to a constant
	theta   *mat.Dense   // propagated free-energy covariance
	overlap *mat.Dense   // stacked mean posteriors

	method  Method
	tol     float64
	maxIter int
	workers int
	logger  Logger
}

//InitMixture validates the samples, builds the potential-evaluation
//matrices, seeds the free energies by overlap sampling (unless an initial
//guess is supplied) and runs the estimation method to convergence.
func InitMixture(samples []*Sample, opts *Options) (*Mixture, error) {
	names, err := validateSamples(samples)
	if err != nil {
		return nil, err
	}
	o := opts.withDefaults()

	m := len(samples)
	mx := &Mixture{
		samples: samples,
		names:   names,
		m:       m,
		n:       make([]int, m),
		neff:    make([]float64, m),
		pi:      make([]float64, m),
		u:       make([]*mat.Dense, m),
		method:  o.Method,
		tol:     o.Tol,
		maxIter: o.MaxIter,
		workers: o.Workers,
		logger:  o.Logger,
	}
	for i, s := range samples {
		mx.n[i] = s.Size()
		mx.neff[i] = s.Neff
	}
	total := floats.Sum(mx.neff)
	for i := range mx.pi {
		mx.pi[i] = mx.neff[i] / total
	}
	mx.logf("number of samples: %d", m)
	mx.logf("sample sizes: %v", mx.n)
	mx.logf("mixture composition: %v", mx.pi)

	for i, si := range samples {
		ui := mat.NewDense(m, mx.n[i], nil)
		for k, sk := range samples {
			row := sk.Potential(si.Data, sk.Constants)
			if len(row) != mx.n[i] {
				return nil, inputErrorf("potential of state %d returned %d values for sample %d (%d configurations)", k, len(row), i, mx.n[i])
			}
			ui.SetRow(k, row)
		}
		mx.u[i] = ui
	}

	if o.InitialGuess != nil {
		if len(o.InitialGuess) != m {
			return nil, inputErrorf("initial guess has %d entries for %d samples", len(o.InitialGuess), m)
		}
		mx.f = append([]float64(nil), o.InitialGuess...)
	} else {
		mx.f = overlapSampling(mx.u)
	}
	mx.logf("initial free-energy guess: %v", mx.f)

	if err := mx.method.Initialize(mx); err != nil {
		return nil, err
	}
	return mx, nil
}

//Len returns the number of samples in the mixture.
func (mx *Mixture) Len() int {
	return mx.m
}

//PropertyNames returns the shared property schema of the samples.
func (mx *Mixture) PropertyNames() []string {
	return append([]string(nil), mx.names...)
}

//FreeEnergies returns the free energy of every sampled state relative to
//the reference state, with standard errors propagated as the variance of a
//difference of correlated estimators. The reference row is exactly zero.
func (mx *Mixture) FreeEnergies(reference int) (*Table, error) {
	if reference < 0 || reference >= mx.m {
		return nil, inputErrorf("reference state %d out of range [0,%d)", reference, mx.m)
	}
	t := &Table{Columns: []string{"state", "f", errorTitle("f")}}
	for i := 0; i < mx.m; i++ {
		v := mx.theta.At(i, i) - 2*mx.theta.At(i, reference) + mx.theta.At(reference, reference)
		if v < 0 {
			v = 0
		}
		t.Rows = append(t.Rows, []float64{float64(i + 1), mx.f[i] - mx.f[reference], math.Sqrt(v)})
	}
	return t, nil
}

//OverlapMatrix returns a copy of the overlap diagnostic: row i holds the
//average posterior mass each state receives from sample i's configurations.
func (mx *Mixture) OverlapMatrix() *mat.Dense {
	return mat.DenseCopyOf(mx.overlap)
}

//FreeEnergyCovariance returns a copy of the propagated covariance of the
//converged free energies.
func (mx *Mixture) FreeEnergyCovariance() *mat.Dense {
	return mat.DenseCopyOf(mx.theta)
}

//FreeEnergyPerturbation evaluates the target potential on every sample and
//returns the free-energy difference to the reference state along with its
//standard error, via the cheap perturbation path.
func (mx *Mixture) FreeEnergyPerturbation(potential Expression, reference int, constants map[string]float64) (float64, float64, error) {
	if potential == nil {
		return 0, 0, inputErrorf("no target potential provided")
	}
	u, err := mx.evalExpression(potential, constants)
	if err != nil {
		return 0, 0, err
	}
	return mx.method.Perturb(mx, u, reference)
}

//evalExpression evaluates one expression on every sample's configurations.
func (mx *Mixture) evalExpression(expr Expression, constants map[string]float64) ([][]float64, error) {
	out := make([][]float64, mx.m)
	for i, s := range mx.samples {
		v := expr(s.Data, constants)
		if len(v) != mx.n[i] {
			return nil, inputErrorf("expression returned %d values for sample %d (%d configurations)", len(v), i, mx.n[i])
		}
		out[i] = v
	}
	return out, nil
}

//evalProperties stacks the requested property expressions into one matrix
//per sample, properties as rows. Returns nil when nothing is requested.
func (mx *Mixture) evalProperties(props []Property, constants map[string]float64) ([]*mat.Dense, error) {
	if len(props) == 0 {
		return nil, nil
	}
	out := make([]*mat.Dense, mx.m)
	for i, s := range mx.samples {
		yi := mat.NewDense(len(props), mx.n[i], nil)
		for a, p := range props {
			v := p.Expr(s.Data, constants)
			if len(v) != mx.n[i] {
				return nil, inputErrorf("property %q returned %d values for sample %d (%d configurations)", p.Name, len(v), i, mx.n[i])
			}
			yi.SetRow(a, v)
		}
		out[i] = yi
	}
	return out, nil
}

func (mx *Mixture) logf(format string, args ...interface{}) {
	if mx.logger != nil {
		mx.logger.Printf(format, args...)
	}
}
