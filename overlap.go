package mixtures

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//overlapSampling seeds the solver with a closed-form free-energy guess built
//from pairwise half-difference (Bennett-style) estimates, chained through the
//states in order of increasing mean self-potential so that consecutive pairs
//overlap as much as possible.
func overlapSampling(u []*mat.Dense) []float64 {
	m := len(u)
	selfMean := make([]float64, m)
	for i := range u {
		row := u[i].RawRowView(i)
		selfMean[i] = floats.Sum(row) / float64(len(row))
	}
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return selfMean[order[a]] < selfMean[order[b]] })
	f := make([]float64, m)
	prev := order[0]
	for _, j := range order[1:] {
		f[j] = f[prev] - logMeanExpHalfDiff(u[prev], j, prev) + logMeanExpHalfDiff(u[j], prev, j)
		prev = j
	}
	return f
}

//logMeanExpHalfDiff returns log<exp(-(u_a - u_b)/2)> over the columns of ui,
//with rows a and b indexing the two states' potentials on that sample.
func logMeanExpHalfDiff(ui *mat.Dense, a, b int) float64 {
	_, n := ui.Dims()
	ra := ui.RawRowView(a)
	rb := ui.RawRowView(b)
	x := make([]float64, n)
	for t := range x {
		x[t] = -0.5 * (ra[t] - rb[t])
	}
	return floats.LogSumExp(x) - math.Log(float64(n))
}
