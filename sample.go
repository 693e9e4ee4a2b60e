package mixtures

import (
	"sort"
)

//Dataset holds the per-configuration series recorded for one sample, keyed
//by property name. All columns must have equal length.
type Dataset map[string][]float64

//Len returns the number of configurations in the dataset.
func (d Dataset) Len() int {
	for _, col := range d {
		return len(col)
	}
	return 0
}

//Names returns the property names of the dataset in sorted order.
func (d Dataset) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

//Expression is a compiled formula evaluated on every configuration of a
//dataset. Compiling a textual formula into such a closure is a collaborator
//concern; the core only ever calls the compiled form. The returned slice
//must hold one value per configuration.
type Expression func(data Dataset, constants map[string]float64) []float64

//Sample is one independently collected set of configurations drawn from a
//single reduced-potential distribution.
type Sample struct {
	Data      Dataset
	Potential Expression         // reduced potential of the sampled state
	Constants map[string]float64 // constants bound to Potential (e.g. beta)
	Neff      float64            // effective sample size from autocorrelation analysis
	BlockSize int                // correlation length used for block covariance
}

//Size returns the number of configurations in the sample.
func (s *Sample) Size() int {
	return s.Data.Len()
}

//validateSamples checks that the sample list is usable: non-empty, matching
//property schemas, consistent column lengths, positive effective sizes and
//block sizes small enough to leave at least two full blocks.
func validateSamples(samples []*Sample) ([]string, error) {
	if len(samples) == 0 {
		return nil, inputErrorf("list of samples is empty")
	}
	names := samples[0].Data.Names()
	for i, s := range samples {
		if s == nil {
			return nil, inputErrorf("sample %d is nil", i)
		}
		if s.Potential == nil {
			return nil, inputErrorf("sample %d has no potential", i)
		}
		n := s.Size()
		if n == 0 {
			return nil, inputErrorf("sample %d has no configurations", i)
		}
		for name, col := range s.Data {
			if len(col) != n {
				return nil, inputErrorf("sample %d column %q has %d values, want %d", i, name, len(col), n)
			}
		}
		if !equalStrings(s.Data.Names(), names) {
			return nil, inputErrorf("provided samples have distinct properties")
		}
		if s.Neff <= 0 {
			return nil, inputErrorf("sample %d has non-positive effective sample size %g", i, s.Neff)
		}
		if s.BlockSize < 1 {
			return nil, inputErrorf("sample %d has non-positive block size %d", i, s.BlockSize)
		}
		if 2*s.BlockSize > n {
			return nil, inputErrorf("sample %d block size %d is too large for %d configurations", i, s.BlockSize, n)
		}
	}
	return names, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
