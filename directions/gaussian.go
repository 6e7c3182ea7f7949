package directions

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fiberlab/tracto/distribution"
	"github.com/fiberlab/tracto/layers"
)

// SingleGaussian learns the mean and (diagonal) standard deviation of a
// 3D Gaussian over the local direction. One stack predicts the mean,
// another predicts log-sigmas, exponentiated so sigmas stay positive.
type SingleGaussian struct {
	base
	meanNet  *layers.TwoLayerNet
	sigmaNet *layers.TwoLayerNet
	normal   distuv.Normal
}

// NewSingleGaussian creates a single-Gaussian head.
func NewSingleGaussian(inputSize int, dropout float64, seed uint64) (*SingleGaussian, error) {
	meanNet, err := layers.NewTwoLayerNet(inputSize, 3, dropout, seed)
	if err != nil {
		return nil, err
	}
	sigmaNet, err := layers.NewTwoLayerNet(inputSize, 3, dropout, seed+1)
	if err != nil {
		return nil, err
	}
	return &SingleGaussian{
		base: base{
			key:                KeyGaussian,
			inputSize:          inputSize,
			dropout:            dropout,
			supportsCompressed: true,
			lossDescription:    "negative log-likelihood",
		},
		meanNet:  meanNet,
		sigmaNet: sigmaNet,
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: rand.New(rand.NewSource(seed))},
	}, nil
}

func (g *SingleGaussian) SetTraining(training bool) {
	g.meanNet.SetTraining(training)
	g.sigmaNet.SetTraining(training)
}

func (g *SingleGaussian) Forward(inputs *mat.Dense) (Output, error) {
	means, err := g.meanNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	logSigmas, err := g.sigmaNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	var sigmas mat.Dense
	sigmas.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, logSigmas)
	return &GaussianOutput{Means: means, Sigmas: &sigmas}, nil
}

// ComputeLoss returns the mean Gaussian negative log-likelihood of the
// targets.
func (g *SingleGaussian) ComputeLoss(out Output, targets *mat.Dense) (float64, error) {
	gauss, ok := out.(*GaussianOutput)
	if !ok {
		return 0, g.wrongOutput(out)
	}
	if err := checkTargets(out, targets); err != nil {
		return 0, err
	}

	logProbs, err := distribution.IndependentGaussianLogProb(targets, gauss.Means, gauss.Sigmas)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, lp := range logProbs {
		sum += -lp
	}
	return sum / float64(len(logProbs)), nil
}

// SampleTrackingDirectionProb draws one direction per sample from the
// fitted Gaussian.
func (g *SingleGaussian) SampleTrackingDirectionProb(out Output) (*mat.Dense, error) {
	gauss, ok := out.(*GaussianOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}

	b := gauss.BatchSize()
	dirs := mat.NewDense(b, 3, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < 3; j++ {
			dirs.Set(i, j, gauss.Means.At(i, j)+gauss.Sigmas.At(i, j)*g.normal.Rand())
		}
	}
	return dirs, nil
}

// TrackingDirectionDet is not defined for the Gaussian family; a
// principled mode definition is an open design gap.
func (g *SingleGaussian) TrackingDirectionDet(Output) (*mat.Dense, error) {
	return nil, g.unsupported("deterministic direction")
}

func (g *SingleGaussian) Parameters() []layers.Parameter {
	return append(g.meanNet.Parameters("mean"), g.sigmaNet.Parameters("sigma")...)
}

func (g *SingleGaussian) SetParameters(params []layers.Parameter) error {
	if err := g.meanNet.SetParameters("mean", params); err != nil {
		return err
	}
	return g.sigmaNet.SetParameters("sigma", params)
}

// GaussianMixture extends SingleGaussian with K jointly-trained
// components, to spread probability across space at bundle branching
// points. Mixture weights, means and sigmas come from three separate
// stacks; the loss is the log-sum-exp of the mixture-weighted component
// negative log-likelihoods.
type GaussianMixture struct {
	base
	numGaussians int
	mixtureNet   *layers.TwoLayerNet
	meanNet      *layers.TwoLayerNet
	sigmaNet     *layers.TwoLayerNet
	rng          *rand.Rand
	normal       distuv.Normal
}

// DefaultNumGaussians is the default mixture size.
const DefaultNumGaussians = 3

// NewGaussianMixture creates a Gaussian-mixture head with numGaussians
// components.
func NewGaussianMixture(inputSize int, dropout float64, numGaussians int, seed uint64) (*GaussianMixture, error) {
	if numGaussians < 1 {
		return nil, fmt.Errorf("number of gaussians must be >= 1, got %d", numGaussians)
	}
	mixtureNet, err := layers.NewTwoLayerNet(inputSize, numGaussians, dropout, seed)
	if err != nil {
		return nil, err
	}
	meanNet, err := layers.NewTwoLayerNet(inputSize, 3*numGaussians, dropout, seed+1)
	if err != nil {
		return nil, err
	}
	sigmaNet, err := layers.NewTwoLayerNet(inputSize, 3*numGaussians, dropout, seed+2)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	return &GaussianMixture{
		base: base{
			key:                KeyGaussianMixture,
			inputSize:          inputSize,
			dropout:            dropout,
			supportsCompressed: true,
			lossDescription:    "negative log-likelihood",
		},
		numGaussians: numGaussians,
		mixtureNet:   mixtureNet,
		meanNet:      meanNet,
		sigmaNet:     sigmaNet,
		rng:          rng,
		normal:       distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}, nil
}

// NumGaussians returns the mixture size.
func (g *GaussianMixture) NumGaussians() int { return g.numGaussians }

func (g *GaussianMixture) Params() map[string]interface{} {
	p := g.base.Params()
	p["nb_gaussians"] = g.numGaussians
	return p
}

func (g *GaussianMixture) SetTraining(training bool) {
	g.mixtureNet.SetTraining(training)
	g.meanNet.SetTraining(training)
	g.sigmaNet.SetTraining(training)
}

func (g *GaussianMixture) Forward(inputs *mat.Dense) (Output, error) {
	mixtureLogits, err := g.mixtureNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	means, err := g.meanNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	logSigmas, err := g.sigmaNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	var sigmas mat.Dense
	sigmas.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, logSigmas)
	return &GaussianMixtureOutput{
		MixtureLogits: mixtureLogits,
		Means:         means,
		Sigmas:        &sigmas,
		NumComponents: g.numGaussians,
	}, nil
}

// ComputeLoss returns the mean mixture negative log-likelihood:
// -logsumexp_c(log softmax(mixture)_c + logN(target; mean_c, sigma_c)).
func (g *GaussianMixture) ComputeLoss(out Output, targets *mat.Dense) (float64, error) {
	mix, ok := out.(*GaussianMixtureOutput)
	if !ok {
		return 0, g.wrongOutput(out)
	}
	if err := checkTargets(out, targets); err != nil {
		return 0, err
	}

	perComponent, err := distribution.MixtureGaussianLogProb(targets, mix.Means, mix.Sigmas, g.numGaussians)
	if err != nil {
		return 0, err
	}

	b := mix.BatchSize()
	var sum float64
	joint := make([]float64, g.numGaussians)
	for i := 0; i < b; i++ {
		logits := mat.Row(nil, i, mix.MixtureLogits)
		lse := distribution.LogSumExp(logits)
		for c := 0; c < g.numGaussians; c++ {
			joint[c] = (logits[c] - lse) + perComponent.At(i, c)
		}
		sum += -distribution.LogSumExp(joint)
	}
	return sum / float64(b), nil
}

// SampleTrackingDirectionProb picks a component per sample from the
// mixture weights, then draws from that component's Gaussian.
func (g *GaussianMixture) SampleTrackingDirectionProb(out Output) (*mat.Dense, error) {
	mix, ok := out.(*GaussianMixtureOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}

	b := mix.BatchSize()
	dirs := mat.NewDense(b, 3, nil)
	for i := 0; i < b; i++ {
		c := sampleCategoricalLogits(g.rng, mat.Row(nil, i, mix.MixtureLogits))
		for j := 0; j < 3; j++ {
			mean := mix.Means.At(i, c*3+j)
			sigma := mix.Sigmas.At(i, c*3+j)
			dirs.Set(i, j, mean+sigma*g.normal.Rand())
		}
	}
	return dirs, nil
}

// TrackingDirectionDet is not defined for the mixture family; picking a
// component mode is an open design gap.
func (g *GaussianMixture) TrackingDirectionDet(Output) (*mat.Dense, error) {
	return nil, g.unsupported("deterministic direction")
}

func (g *GaussianMixture) Parameters() []layers.Parameter {
	params := g.mixtureNet.Parameters("mixture")
	params = append(params, g.meanNet.Parameters("mean")...)
	return append(params, g.sigmaNet.Parameters("sigma")...)
}

func (g *GaussianMixture) SetParameters(params []layers.Parameter) error {
	if err := g.mixtureNet.SetParameters("mixture", params); err != nil {
		return err
	}
	if err := g.meanNet.SetParameters("mean", params); err != nil {
		return err
	}
	return g.sigmaNet.SetParameters("sigma", params)
}
