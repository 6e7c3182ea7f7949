package distribution

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultEps guards the Fisher-von Mises normalizer against a zero
// concentration, where sinh(kappa) vanishes.
const DefaultEps = 1e-6

// FisherVonMisesLogProb computes the log-density on the 2-sphere of the
// Fisher-von Mises distribution for each row:
//
//	log(kappa) - log(4*pi*sinh(kappa) + eps) + kappa * dot(mu, target)
//
// mus and targets are [B x 3]; kappas has length B. Each row of mus must
// already be (approximately) unit-norm; normalization is the caller's
// responsibility. The returned slice has length B.
func FisherVonMisesLogProb(mus *mat.Dense, kappas []float64, targets *mat.Dense, eps float64) ([]float64, error) {
	b, d := mus.Dims()
	if d != 3 {
		return nil, fmt.Errorf("mus must be [B x 3], got [%d x %d]", b, d)
	}
	if tb, td := targets.Dims(); tb != b || td != 3 {
		return nil, fmt.Errorf("targets shape [%d x %d] does not match mus [%d x 3]", tb, td, b)
	}
	if len(kappas) != b {
		return nil, fmt.Errorf("kappas length %d does not match batch size %d", len(kappas), b)
	}

	logProbs := make([]float64, b)
	for i := 0; i < b; i++ {
		kappa := kappas[i]
		dot := mus.At(i, 0)*targets.At(i, 0) +
			mus.At(i, 1)*targets.At(i, 1) +
			mus.At(i, 2)*targets.At(i, 2)
		// eps guards only the sinh normalizer. At kappa exactly zero
		// the leading term is -Inf; in-range concentrations from a
		// sigmoid-bounded head are strictly positive.
		logProbs[i] = math.Log(kappa) - math.Log(4*math.Pi*math.Sinh(kappa)+eps) + kappa*dot
	}
	return logProbs, nil
}

// VonMisesFisherSampler draws unit vectors from a Fisher-von Mises
// distribution via the Mardia-Jupp rejection scheme (spherecluster's
// formulation). It owns its random source; a sampler with the same seed
// replays the same sequence of draws. Not safe for concurrent use.
type VonMisesFisherSampler struct {
	rng     *rand.Rand
	beta    distuv.Beta
	uniform distuv.Uniform
	normal  distuv.Normal
}

// NewVonMisesFisherSampler creates a sampler seeded with the given value.
func NewVonMisesFisherSampler(seed uint64) *VonMisesFisherSampler {
	src := rand.NewSource(seed)
	rng := rand.New(src)
	return &VonMisesFisherSampler{
		rng:     rng,
		beta:    distuv.Beta{Alpha: 1, Beta: 1, Src: rng},
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: rng},
		normal:  distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
}

// Sample draws one unit vector around mu with concentration kappa.
// mu must be unit-norm.
func (s *VonMisesFisherSampler) Sample(mu r3.Vec, kappa float64) r3.Vec {
	// Offset from the pole along mu, then an orthonormal tangent
	// component to fill in the remaining two degrees of freedom.
	w := s.sampleWeight(kappa)
	v := s.sampleOrthonormalTo(mu)
	return r3.Add(r3.Scale(math.Sqrt(1-w*w), v), r3.Scale(w, mu))
}

// sampleWeight rejection-samples the distance-from-pole scalar w. The
// loop retries until acceptance; for every finite kappa the acceptance
// probability is bounded away from zero (at kappa=0 the test always
// accepts), so it cannot livelock for the supported kappa range.
func (s *VonMisesFisherSampler) sampleWeight(kappa float64) float64 {
	b := 2 / (math.Sqrt(4*kappa*kappa+4) + 2*kappa)
	x := (1 - b) / (1 + b)
	c := kappa*x + 2*math.Log(1-x*x)

	for {
		z := s.beta.Rand()
		w := (1 - (1+b)*z) / (1 - (1-b)*z)
		u := s.uniform.Rand()
		if kappa*w+2*math.Log(1-x*w)-c >= math.Log(u) {
			return w
		}
	}
}

// sampleOrthonormalTo samples a unit vector orthogonal to mu by
// projecting a standard Gaussian draw onto mu's tangent plane.
func (s *VonMisesFisherSampler) sampleOrthonormalTo(mu r3.Vec) r3.Vec {
	for {
		v := r3.Vec{X: s.normal.Rand(), Y: s.normal.Rand(), Z: s.normal.Rand()}
		// mu is unit-norm, so the projection needs no division that
		// could turn a degenerate mu into NaN and stall the loop.
		proj := r3.Scale(r3.Dot(mu, v), mu)
		ortho := r3.Sub(v, proj)
		if norm := r3.Norm(ortho); norm > 0 {
			return r3.Scale(1/norm, ortho)
		}
		// Gaussian draw was parallel to mu; try again.
	}
}
