package mixtures

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by InitMixture when the corresponding option is unset.
const (
	DefaultTol     = 1e-12
	DefaultMaxIter = 10000
)

//Logger is the diagnostic sink injected into a mixture. The standard
//library's *log.Logger satisfies it. Emission never affects results.
type Logger interface {
	Printf(format string, args ...interface{})
}

//Options configures a Mixture. The zero value (or a nil pointer) selects
//the MICS method, the default tolerance and iteration cap, a sequential
//condition sweep and no diagnostics.
type Options struct {
	Method       Method    `yaml:"-"`
	Tol          float64   `yaml:"tol"`      // Newton-Raphson convergence threshold
	MaxIter      int       `yaml:"max_iter"` // iteration cap before ErrDidNotConverge
	Workers      int       `yaml:"workers"`  // goroutines for condition sweeps
	Logger       Logger    `yaml:"-"`
	InitialGuess []float64 `yaml:"-"` // overrides the overlap-sampling seed
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Method == nil {
		out.Method = &MICS{}
	}
	if out.Tol <= 0 {
		out.Tol = DefaultTol
	}
	if out.MaxIter <= 0 {
		out.MaxIter = DefaultMaxIter
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	return out
}

//LoadOptions reads the numeric solver options from a YAML file. Fields left
//out of the file keep their defaults.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if o.Tol < 0 {
		return nil, inputErrorf("%s: tol must be non-negative", path)
	}
	if o.MaxIter < 0 {
		return nil, inputErrorf("%s: max_iter must be non-negative", path)
	}
	if o.Workers < 0 {
		return nil, inputErrorf("%s: workers must be non-negative", path)
	}
	return &o, nil
}
