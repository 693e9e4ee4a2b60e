package mixtures

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

//Property is a named expression whose expectation is reweighted to the
//target state.
type Property struct {
	Name string
	Expr Expression
}

//Combination is a nonlinear function of the reweighted estimates, with its
//error obtained by a further delta-method step. Value and Grad receive the
//point estimates ordered as [f, properties...] in request order; Grad must
//return one partial derivative per estimate. Auxiliary estimates created by
//derivative rewriting are never passed to user combinations.
type Combination struct {
	Name  string
	Value func(v []float64) float64
	Grad  func(v []float64) []float64
}

//Derivative requests the derivative of a reweighted expectation (or of the
//free energy, Property == "f") with respect to a sweep parameter. The
//caller supplies the analytically differentiated expressions; the request
//is rewritten internally into directly reweightable properties plus a
//combination, so no finite differences are taken.
type Derivative struct {
	Name       string
	Property   string     // "f" or the name of a requested property
	Parameter  string     // differentiation variable
	DPotential Expression // the target potential differentiated by Parameter
	DProperty  Expression // the property differentiated by Parameter; unused when Property is "f"
}

//Reweighting computes the free energy and the requested property
//expectations under the target reduced potential at every condition row,
//returning one output row per condition with point estimates and standard
//errors interleaved. Derivative requests are rewritten into auxiliary
//properties and combinations; combinations are evaluated last with their
//own propagated errors.
func (mx *Mixture) Reweighting(potential Expression, properties []Property, derivatives []Derivative, combinations []Combination, conditions *Conditions, reference int, constants map[string]float64) (*Table, error) {
	if potential == nil {
		return nil, inputErrorf("no target potential provided")
	}
	if err := checkRequestNames(properties, derivatives, combinations); err != nil {
		return nil, err
	}
	allProps := properties
	allCombs := combinations
	var drop []string
	if len(derivatives) > 0 {
		var err error
		allProps, allCombs, drop, err = rewriteDerivatives(properties, derivatives, combinations)
		if err != nil {
			return nil, err
		}
	}
	table, err := mx.sweep(potential, allProps, allCombs, conditions, reference, constants)
	if err != nil {
		return nil, err
	}
	if len(drop) > 0 {
		table = table.dropColumns(drop)
	}
	return table, nil
}

//Perturbation computes the free-energy perturbation and its standard error
//at every condition row, via the cheap path that skips property machinery.
func (mx *Mixture) Perturbation(potential Expression, conditions *Conditions, reference int, constants map[string]float64) (*Table, error) {
	if potential == nil {
		return nil, inputErrorf("no target potential provided")
	}
	condNames, condRows, err := normalizeConditions(conditions)
	if err != nil {
		return nil, err
	}
	if err := checkConditionConstants(condNames, constants); err != nil {
		return nil, err
	}
	cols := append([]string(nil), condNames...)
	cols = append(cols, "f", errorTitle("f"))
	if err := checkColumnCollisions(cols); err != nil {
		return nil, err
	}

	rows, err := mx.fanOut(len(condRows), func(idx int) ([]float64, error) {
		consts := mergeConstants(constants, condNames, condRows[idx])
		u, err := mx.evalExpression(potential, consts)
		if err != nil {
			return nil, err
		}
		f, df, err := mx.method.Perturb(mx, u, reference)
		if err != nil {
			return nil, err
		}
		row := append([]float64(nil), condRows[idx]...)
		return append(row, f, df), nil
	})
	if err != nil {
		return nil, err
	}
	return &Table{Columns: cols, Rows: rows}, nil
}

//sweep drives the reweighting engine over every condition row, fanning rows
//out across the configured workers. Each row only reads immutable solver
//state and writes its own result slot, so no locking is needed.
func (mx *Mixture) sweep(potential Expression, props []Property, combs []Combination, conditions *Conditions, reference int, constants map[string]float64) (*Table, error) {
	condNames, condRows, err := normalizeConditions(conditions)
	if err != nil {
		return nil, err
	}
	if err := checkConditionConstants(condNames, constants); err != nil {
		return nil, err
	}
	propNames := make([]string, 0, 1+len(props))
	propNames = append(propNames, "f")
	for _, p := range props {
		propNames = append(propNames, p.Name)
	}
	cols := append([]string(nil), condNames...)
	for _, n := range propNames {
		cols = append(cols, n, errorTitle(n))
	}
	for _, c := range combs {
		cols = append(cols, c.Name, errorTitle(c.Name))
	}
	if err := checkColumnCollisions(cols); err != nil {
		return nil, err
	}

	rows, err := mx.fanOut(len(condRows), func(idx int) ([]float64, error) {
		consts := mergeConstants(constants, condNames, condRows[idx])
		mx.logf("condition[%d]: %v", idx, consts)
		u, err := mx.evalExpression(potential, consts)
		if err != nil {
			return nil, err
		}
		y, err := mx.evalProperties(props, consts)
		if err != nil {
			return nil, err
		}
		yu, theta, err := mx.method.Reweight(mx, u, y, reference)
		if err != nil {
			return nil, err
		}
		row := append([]float64(nil), condRows[idx]...)
		for j, v := range yu {
			row = append(row, v, stdError(theta, j))
		}
		for _, c := range combs {
			h := c.Value(yu)
			grad := c.Grad(yu)
			if len(grad) != len(yu) {
				return nil, inputErrorf("combination %q gradient has %d entries for %d estimates", c.Name, len(grad), len(yu))
			}
			row = append(row, h, sqrtNonNegative(quadraticForm(grad, theta)))
		}
		return row, nil
	})
	if err != nil {
		return nil, err
	}
	return &Table{Columns: cols, Rows: rows}, nil
}

//fanOut evaluates n independent rows with the configured number of workers
//and returns them in order. The first error wins.
func (mx *Mixture) fanOut(n int, eval func(idx int) ([]float64, error)) ([][]float64, error) {
	results := make([][]float64, n)
	errs := make([]error, n)
	workers := mx.workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			results[i], errs[i] = eval(i)
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := range jobs {
					results[idx], errs[idx] = eval(idx)
				}
			}()
		}
		for i := 0; i < n; i++ {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

//rewriteDerivatives turns derivative requests into auxiliary reweightable
//properties plus combinations. For a parameter x the auxiliary property
//__x__ holds du/dx, whose expectation is df/dx. For a property y the
//auxiliary __z__ holds dy/dx - (du/dx)*y, and the requested derivative is
//recovered as <__z__> + <__x__>*<y>. The auxiliary columns are dropped from
//the final table.
func rewriteDerivatives(properties []Property, derivatives []Derivative, combinations []Combination) ([]Property, []Combination, []string, error) {
	dec := func(s string) string { return "__" + s + "__" }

	props := append([]Property(nil), properties...)
	var drop []string
	seen := make(map[string]bool)
	for _, d := range derivatives {
		if d.DPotential == nil {
			return nil, nil, nil, inputErrorf("derivative %q is missing the differentiated potential", d.Name)
		}
		if seen[d.Parameter] {
			continue
		}
		seen[d.Parameter] = true
		name := dec(d.Parameter)
		props = append(props, Property{Name: name, Expr: d.DPotential})
		drop = append(drop, name, errorTitle(name))
	}
	for _, d := range derivatives {
		if d.Property == "f" {
			continue
		}
		if d.DProperty == nil {
			return nil, nil, nil, inputErrorf("derivative %q of property %q is missing the differentiated property", d.Name, d.Property)
		}
		yExpr, ok := findProperty(properties, d.Property)
		if !ok {
			return nil, nil, nil, inputErrorf("derivative %q refers to unknown property %q", d.Name, d.Property)
		}
		dpot, dprop := d.DPotential, d.DProperty
		name := dec(d.Name)
		props = append(props, Property{Name: name, Expr: func(data Dataset, consts map[string]float64) []float64 {
			a := dprop(data, consts)
			b := dpot(data, consts)
			c := yExpr(data, consts)
			out := make([]float64, len(a))
			for t := range out {
				out[t] = a[t] - b[t]*c[t]
			}
			return out
		}})
		drop = append(drop, name, errorTitle(name))
	}

	index := func(name string) int {
		if name == "f" {
			return 0
		}
		for i, p := range props {
			if p.Name == name {
				return i + 1
			}
		}
		return -1
	}
	var combs []Combination
	for _, d := range derivatives {
		xi := index(dec(d.Parameter))
		if d.Property == "f" {
			combs = append(combs, Combination{
				Name:  d.Name,
				Value: func(v []float64) float64 { return v[xi] },
				Grad: func(v []float64) []float64 {
					g := make([]float64, len(v))
					g[xi] = 1
					return g
				},
			})
			continue
		}
		zi := index(dec(d.Name))
		yi := index(d.Property)
		combs = append(combs, Combination{
			Name:  d.Name,
			Value: func(v []float64) float64 { return v[zi] + v[xi]*v[yi] },
			Grad: func(v []float64) []float64 {
				g := make([]float64, len(v))
				g[zi] = 1
				g[xi] = v[yi]
				g[yi] = v[xi]
				return g
			},
		})
	}
	// user combinations keep seeing [f, properties...] only; their
	// gradients carry zero weight on the auxiliary entries
	visible := 1 + len(properties)
	for _, c := range combinations {
		value, grad := c.Value, c.Grad
		combs = append(combs, Combination{
			Name:  c.Name,
			Value: func(v []float64) float64 { return value(v[:visible]) },
			Grad: func(v []float64) []float64 {
				g := grad(v[:visible])
				if len(g) != visible {
					return g
				}
				out := make([]float64, len(v))
				copy(out, g)
				return out
			},
		})
	}
	return props, combs, drop, nil
}

//checkRequestNames rejects the reserved free-energy name and duplicates
//across properties, derivatives and combinations.
func checkRequestNames(properties []Property, derivatives []Derivative, combinations []Combination) error {
	seen := map[string]bool{"f": true}
	add := func(kind, name string) error {
		if name == "" {
			return inputErrorf("%s with empty name", kind)
		}
		if name == "f" {
			return inputErrorf("name %q is reserved for free energies", name)
		}
		if seen[name] {
			return inputErrorf("duplicate result name %q", name)
		}
		seen[name] = true
		return nil
	}
	for _, p := range properties {
		if p.Expr == nil {
			return inputErrorf("property %q has no expression", p.Name)
		}
		if err := add("property", p.Name); err != nil {
			return err
		}
	}
	for _, d := range derivatives {
		if err := add("derivative", d.Name); err != nil {
			return err
		}
	}
	for _, c := range combinations {
		if c.Value == nil || c.Grad == nil {
			return inputErrorf("combination %q needs both value and gradient functions", c.Name)
		}
		if err := add("combination", c.Name); err != nil {
			return err
		}
	}
	return nil
}

func checkColumnCollisions(cols []string) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			return inputErrorf("output column %q appears more than once", c)
		}
		seen[c] = true
	}
	return nil
}

func findProperty(props []Property, name string) (Expression, bool) {
	for _, p := range props {
		if p.Name == name {
			return p.Expr, true
		}
	}
	return nil, false
}

//stdError extracts the standard error of estimate j from its covariance.
func stdError(theta *mat.Dense, j int) float64 {
	return sqrtNonNegative(theta.At(j, j))
}

func sqrtNonNegative(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

func quadraticForm(g []float64, theta *mat.Dense) float64 {
	total := 0.0
	for a := range g {
		if g[a] == 0 {
			continue
		}
		for b := range g {
			total += g[a] * theta.At(a, b) * g[b]
		}
	}
	return total
}
