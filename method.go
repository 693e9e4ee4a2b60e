package mixtures

import (
	"gonum.org/v1/gonum/mat"
)

//Method is an estimation strategy plugged into a Mixture. Initialize runs
//once at construction and may store per-mixture state on the receiver;
//Reweight and Perturb must treat that state as read-only afterwards. A
//Method value must not be shared between mixtures.
type Method interface {
	//Initialize solves for the mixture free energies and their covariance,
	//writing the converged f, Theta and overlap matrix back to the mixture.
	Initialize(mx *Mixture) error
	//Reweight computes the point estimates [f, y...] under the target
	//reduced potential u (one vector per sample, evaluated on that sample's
	//configurations) and the property matrices y (one per sample, properties
	//stacked as rows; nil when no properties are requested), together with
	//the full covariance of the estimate vector.
	Reweight(mx *Mixture, u [][]float64, y []*mat.Dense, ref int) ([]float64, *mat.Dense, error)
	//Perturb computes only the free-energy perturbation and its standard
	//error, a cheaper path than Reweight when no properties are needed.
	Perturb(mx *Mixture, u [][]float64, ref int) (float64, float64, error)
}
