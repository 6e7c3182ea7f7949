package distribution

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestIndependentGaussianLogProbKnownValue checks the density of a
// standard normal at the origin against the closed form (2*pi)^(-3/2).
func TestIndependentGaussianLogProbKnownValue(t *testing.T) {
	targets := mat.NewDense(1, 3, []float64{0, 0, 0})
	means := mat.NewDense(1, 3, []float64{0, 0, 0})
	sigmas := mat.NewDense(1, 3, []float64{1, 1, 1})

	logProbs, err := IndependentGaussianLogProb(targets, means, sigmas)
	if err != nil {
		t.Fatalf("IndependentGaussianLogProb failed: %v", err)
	}

	expected := -1.5 * math.Log(2*math.Pi)
	if math.Abs(logProbs[0]-expected) > 1e-12 {
		t.Errorf("log prob at origin = %v, expected %v", logProbs[0], expected)
	}
}

// TestIndependentGaussianLogProbIntegratesToOne numerically integrates
// the density over a grid covering effectively all of the mass.
func TestIndependentGaussianLogProbIntegratesToOne(t *testing.T) {
	const (
		lo   = -5.0
		hi   = 5.0
		step = 0.25
	)
	mean := []float64{0.3, -0.2, 0.1}
	sigma := []float64{0.8, 1.0, 1.2}

	var integral float64
	cell := step * step * step
	for x := lo; x < hi; x += step {
		for y := lo; y < hi; y += step {
			for z := lo; z < hi; z += step {
				targets := mat.NewDense(1, 3, []float64{x + step/2, y + step/2, z + step/2})
				means := mat.NewDense(1, 3, mean)
				sigmas := mat.NewDense(1, 3, sigma)
				logProbs, err := IndependentGaussianLogProb(targets, means, sigmas)
				if err != nil {
					t.Fatalf("IndependentGaussianLogProb failed: %v", err)
				}
				integral += math.Exp(logProbs[0]) * cell
			}
		}
	}

	if math.Abs(integral-1.0) > 1e-2 {
		t.Errorf("density integrates to %v, expected 1.0", integral)
	}
}

// TestIndependentGaussianLogProbShapeMismatch verifies that mismatched
// shapes fail instead of broadcasting silently.
func TestIndependentGaussianLogProbShapeMismatch(t *testing.T) {
	targets := mat.NewDense(2, 3, nil)
	means := mat.NewDense(1, 3, nil)
	sigmas := mat.NewDense(2, 3, []float64{1, 1, 1, 1, 1, 1})

	if _, err := IndependentGaussianLogProb(targets, means, sigmas); err == nil {
		t.Error("expected shape mismatch error, got nil")
	}
}

// TestMixtureGaussianLogProbBroadcast checks that the target row is
// broadcast across components: with identical components, every column
// must equal the single-Gaussian result.
func TestMixtureGaussianLogProbBroadcast(t *testing.T) {
	const k = 3
	target := []float64{0.5, -0.5, 1.0}
	mean := []float64{0.1, 0.2, 0.3}
	sigma := []float64{0.9, 1.1, 1.3}

	targets := mat.NewDense(1, 3, target)
	single, err := IndependentGaussianLogProb(targets, mat.NewDense(1, 3, mean), mat.NewDense(1, 3, sigma))
	if err != nil {
		t.Fatalf("IndependentGaussianLogProb failed: %v", err)
	}

	means := mat.NewDense(1, k*3, nil)
	sigmas := mat.NewDense(1, k*3, nil)
	for c := 0; c < k; c++ {
		for j := 0; j < 3; j++ {
			means.Set(0, c*3+j, mean[j])
			sigmas.Set(0, c*3+j, sigma[j])
		}
	}

	perComponent, err := MixtureGaussianLogProb(targets, means, sigmas, k)
	if err != nil {
		t.Fatalf("MixtureGaussianLogProb failed: %v", err)
	}

	for c := 0; c < k; c++ {
		if math.Abs(perComponent.At(0, c)-single[0]) > 1e-12 {
			t.Errorf("component %d log prob = %v, expected %v", c, perComponent.At(0, c), single[0])
		}
	}
}

// TestMixtureGaussianLogProbBadComponentCount ensures invalid component
// layouts are rejected.
func TestMixtureGaussianLogProbBadComponentCount(t *testing.T) {
	targets := mat.NewDense(1, 3, []float64{0, 0, 0})
	means := mat.NewDense(1, 6, nil)
	sigmas := mat.NewDense(1, 6, nil)

	if _, err := MixtureGaussianLogProb(targets, means, sigmas, 3); err == nil {
		t.Error("expected component count mismatch error, got nil")
	}
	if _, err := MixtureGaussianLogProb(targets, means, sigmas, 0); err == nil {
		t.Error("expected error for zero components, got nil")
	}
}

// TestLogSumExp checks the stable log-sum-exp against direct evaluation
// and against inputs that would overflow a naive implementation.
func TestLogSumExp(t *testing.T) {
	v := []float64{-1.2, 0.4, 2.5}
	var direct float64
	for _, x := range v {
		direct += math.Exp(x)
	}
	if got := LogSumExp(v); math.Abs(got-math.Log(direct)) > 1e-12 {
		t.Errorf("LogSumExp = %v, expected %v", got, math.Log(direct))
	}

	big := []float64{1000, 1000}
	if got := LogSumExp(big); math.Abs(got-(1000+math.Log(2))) > 1e-9 {
		t.Errorf("LogSumExp with large inputs = %v, expected %v", got, 1000+math.Log(2))
	}
}
