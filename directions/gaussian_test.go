package directions

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/fiberlab/tracto/distribution"
)

// TestGaussianLossMatchesClosedForm checks the NLL against the
// distribution package directly.
func TestGaussianLossMatchesClosedForm(t *testing.T) {
	g, err := NewSingleGaussian(8, 0, 1)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	means := mat.NewDense(2, 3, []float64{0, 0, 0, 1, 1, 1})
	sigmas := mat.NewDense(2, 3, []float64{1, 1, 1, 0.5, 0.5, 0.5})
	targets := mat.NewDense(2, 3, []float64{0.1, -0.1, 0.2, 1.2, 0.8, 1.0})
	out := &GaussianOutput{Means: means, Sigmas: sigmas}

	loss, err := g.ComputeLoss(out, targets)
	if err != nil {
		t.Fatalf("loss failed: %v", err)
	}

	logProbs, err := distribution.IndependentGaussianLogProb(targets, means, sigmas)
	if err != nil {
		t.Fatalf("log prob failed: %v", err)
	}
	expected := -(logProbs[0] + logProbs[1]) / 2
	if math.Abs(loss-expected) > 1e-12 {
		t.Errorf("gaussian loss = %v, expected %v", loss, expected)
	}
}

// TestGaussianForwardSigmasPositive: sigmas come from an exponential,
// so they must be strictly positive.
func TestGaussianForwardSigmasPositive(t *testing.T) {
	g, err := NewSingleGaussian(8, 0, 1)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	in := mat.NewDense(4, 8, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			in.Set(i, j, float64(i-j))
		}
	}
	out, err := g.Forward(in)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	sigmas := out.(*GaussianOutput).Sigmas
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			if sigmas.At(i, j) <= 0 {
				t.Fatalf("sigma[%d,%d] = %v, expected > 0", i, j, sigmas.At(i, j))
			}
		}
	}
}

// TestGaussianSamplingReproducible: same seed, same parameters, same
// draws.
func TestGaussianSamplingReproducible(t *testing.T) {
	out := &GaussianOutput{
		Means:  mat.NewDense(3, 3, []float64{0, 0, 0, 1, 2, 3, -1, -2, -3}),
		Sigmas: mat.NewDense(3, 3, []float64{1, 1, 1, 0.5, 0.5, 0.5, 2, 2, 2}),
	}

	a, err := NewSingleGaussian(8, 0, 42)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	b, err := NewSingleGaussian(8, 0, 42)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	da, err := a.SampleTrackingDirectionProb(out)
	if err != nil {
		t.Fatalf("sampling failed: %v", err)
	}
	db, err := b.SampleTrackingDirectionProb(out)
	if err != nil {
		t.Fatalf("sampling failed: %v", err)
	}
	if !mat.EqualApprox(da, db, 0) {
		t.Error("identically seeded heads drew different samples")
	}
}

// TestGaussianSampleStatistics: with tight sigmas the draws stay close
// to the means.
func TestGaussianSampleStatistics(t *testing.T) {
	g, err := NewSingleGaussian(8, 0, 7)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	out := &GaussianOutput{
		Means:  mat.NewDense(1, 3, []float64{2, -1, 0.5}),
		Sigmas: mat.NewDense(1, 3, []float64{1e-4, 1e-4, 1e-4}),
	}
	dirs, err := g.SampleTrackingDirectionProb(out)
	if err != nil {
		t.Fatalf("sampling failed: %v", err)
	}
	for j, want := range []float64{2, -1, 0.5} {
		if math.Abs(dirs.At(0, j)-want) > 1e-2 {
			t.Errorf("sample[%d] = %v, expected near %v", j, dirs.At(0, j), want)
		}
	}
}

// TestMixtureSingleComponentMatchesSingleGaussian: a K=1 mixture with
// any mixture logit reduces to the single-Gaussian NLL.
func TestMixtureSingleComponentMatchesSingleGaussian(t *testing.T) {
	mixture, err := NewGaussianMixture(8, 0, 1, 1)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	single, err := NewSingleGaussian(8, 0, 1)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	means := mat.NewDense(2, 3, []float64{0, 0, 0, 1, 1, 1})
	sigmas := mat.NewDense(2, 3, []float64{1, 1, 1, 0.5, 0.5, 0.5})
	targets := mat.NewDense(2, 3, []float64{0.3, -0.3, 0.1, 0.9, 1.1, 1.0})

	mixLoss, err := mixture.ComputeLoss(&GaussianMixtureOutput{
		MixtureLogits: mat.NewDense(2, 1, []float64{0.7, -1.3}),
		Means:         means,
		Sigmas:        sigmas,
		NumComponents: 1,
	}, targets)
	if err != nil {
		t.Fatalf("mixture loss failed: %v", err)
	}

	singleLoss, err := single.ComputeLoss(&GaussianOutput{Means: means, Sigmas: sigmas}, targets)
	if err != nil {
		t.Fatalf("single loss failed: %v", err)
	}

	if math.Abs(mixLoss-singleLoss) > 1e-12 {
		t.Errorf("K=1 mixture loss %v != single gaussian loss %v", mixLoss, singleLoss)
	}
}

// TestMixtureForwardShapes checks the component-major output layout.
func TestMixtureForwardShapes(t *testing.T) {
	const k = 3
	g, err := NewGaussianMixture(8, 0, k, 1)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	out, err := g.Forward(mat.NewDense(5, 8, nil))
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	mix := out.(*GaussianMixtureOutput)
	if r, c := mix.MixtureLogits.Dims(); r != 5 || c != k {
		t.Errorf("mixture logits shape [%d x %d], expected [5 x %d]", r, c, k)
	}
	if r, c := mix.Means.Dims(); r != 5 || c != 3*k {
		t.Errorf("means shape [%d x %d], expected [5 x %d]", r, c, 3*k)
	}
	if r, c := mix.Sigmas.Dims(); r != 5 || c != 3*k {
		t.Errorf("sigmas shape [%d x %d], expected [5 x %d]", r, c, 3*k)
	}
}

// TestMixtureSamplePicksDominantComponent: with one overwhelming
// mixture weight and tight sigmas, samples land on that component's
// mean.
func TestMixtureSamplePicksDominantComponent(t *testing.T) {
	g, err := NewGaussianMixture(8, 0, 2, 9)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	out := &GaussianMixtureOutput{
		MixtureLogits: mat.NewDense(1, 2, []float64{-50, 50}),
		Means:         mat.NewDense(1, 6, []float64{9, 9, 9, 1, 2, 3}),
		Sigmas:        mat.NewDense(1, 6, []float64{1e-5, 1e-5, 1e-5, 1e-5, 1e-5, 1e-5}),
		NumComponents: 2,
	}
	dirs, err := g.SampleTrackingDirectionProb(out)
	if err != nil {
		t.Fatalf("sampling failed: %v", err)
	}
	for j, want := range []float64{1, 2, 3} {
		if math.Abs(dirs.At(0, j)-want) > 1e-2 {
			t.Errorf("sample[%d] = %v, expected near %v (second component)", j, dirs.At(0, j), want)
		}
	}
}

// TestMixtureValidation rejects a degenerate component count.
func TestMixtureValidation(t *testing.T) {
	if _, err := NewGaussianMixture(8, 0, 0, 1); err == nil {
		t.Error("expected error for zero components, got nil")
	}
}

// TestGaussianParameterRoundTrip restores head weights into a fresh
// head and compares forward outputs.
func TestGaussianParameterRoundTrip(t *testing.T) {
	a, err := NewSingleGaussian(8, 0, 3)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	b, err := NewSingleGaussian(8, 0, 99)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := b.SetParameters(a.Parameters()); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}

	in := mat.NewDense(2, 8, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 8; j++ {
			in.Set(i, j, float64(i+j)/4)
		}
	}
	outA, err := a.Forward(in)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	outB, err := b.Forward(in)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if !mat.EqualApprox(outA.(*GaussianOutput).Means, outB.(*GaussianOutput).Means, 1e-15) {
		t.Error("restored head means differ")
	}
	if !mat.EqualApprox(outA.(*GaussianOutput).Sigmas, outB.(*GaussianOutput).Sigmas, 1e-15) {
		t.Error("restored head sigmas differ")
	}
}
