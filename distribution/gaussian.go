package distribution

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const log2Pi = 1.8378770664093453 // log(2*pi)

// IndependentGaussianLogProb computes, for each row of targets, the
// log-density of an axis-aligned multivariate normal with per-dimension
// means and standard deviations:
//
//	-0.5 * sum_d [ log(2*pi) + 2*log(sigma_d) + ((x_d - mu_d)/sigma_d)^2 ]
//
// targets, means and sigmas must all be [B x D] with the same shape.
// The returned slice has length B.
func IndependentGaussianLogProb(targets, means, sigmas *mat.Dense) ([]float64, error) {
	b, d := targets.Dims()
	if mb, md := means.Dims(); mb != b || md != d {
		return nil, fmt.Errorf("means shape [%d x %d] does not match targets [%d x %d]", mb, md, b, d)
	}
	if sb, sd := sigmas.Dims(); sb != b || sd != d {
		return nil, fmt.Errorf("sigmas shape [%d x %d] does not match targets [%d x %d]", sb, sd, b, d)
	}

	logProbs := make([]float64, b)
	for i := 0; i < b; i++ {
		var sum float64
		for j := 0; j < d; j++ {
			sigma := sigmas.At(i, j)
			z := (targets.At(i, j) - means.At(i, j)) / sigma
			sum += log2Pi + 2*math.Log(sigma) + z*z
		}
		logProbs[i] = -0.5 * sum
	}
	return logProbs, nil
}

// MixtureGaussianLogProb computes per-component Gaussian log-densities for
// a mixture with k components. means and sigmas are [B x k*D], laid out
// component-major ([c0_x c0_y c0_z c1_x ...]); targets is [B x D] and is
// broadcast across the component axis. The result is [B x k]: the
// log-density of row i's target under component c of row i's mixture.
func MixtureGaussianLogProb(targets, means, sigmas *mat.Dense, k int) (*mat.Dense, error) {
	if k < 1 {
		return nil, fmt.Errorf("number of components must be >= 1, got %d", k)
	}
	b, d := targets.Dims()
	if mb, md := means.Dims(); mb != b || md != k*d {
		return nil, fmt.Errorf("means shape [%d x %d] does not match %d components of targets [%d x %d]", mb, md, k, b, d)
	}
	if sb, sd := sigmas.Dims(); sb != b || sd != k*d {
		return nil, fmt.Errorf("sigmas shape [%d x %d] does not match %d components of targets [%d x %d]", sb, sd, k, b, d)
	}

	logProbs := mat.NewDense(b, k, nil)
	for i := 0; i < b; i++ {
		for c := 0; c < k; c++ {
			var sum float64
			for j := 0; j < d; j++ {
				sigma := sigmas.At(i, c*d+j)
				z := (targets.At(i, j) - means.At(i, c*d+j)) / sigma
				sum += log2Pi + 2*math.Log(sigma) + z*z
			}
			logProbs.Set(i, c, -0.5*sum)
		}
	}
	return logProbs, nil
}

// LogSumExp returns log(sum_i exp(v_i)) computed against the running
// maximum so that no intermediate exponential overflows.
func LogSumExp(v []float64) float64 {
	max := math.Inf(-1)
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}
