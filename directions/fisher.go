package directions

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/fiberlab/tracto/distribution"
	"github.com/fiberlab/tracto/layers"
)

// MaxKappa bounds the concentration parameter; the raw kappa output is
// squashed into [0, MaxKappa] with a scaled sigmoid.
const MaxKappa = 20.0

// FisherVonMises learns the mean direction and concentration of a
// Fisher-von Mises distribution on the sphere. Unlike the Gaussian
// family it is intrinsically normalized to the sphere's surface, so
// samples need no unit renormalization.
type FisherVonMises struct {
	base
	meanNet  *layers.TwoLayerNet
	kappaNet *layers.TwoLayerNet
	sampler  *distribution.VonMisesFisherSampler
}

// NewFisherVonMises creates a Fisher-von Mises head.
func NewFisherVonMises(inputSize int, dropout float64, seed uint64) (*FisherVonMises, error) {
	meanNet, err := layers.NewTwoLayerNet(inputSize, 3, dropout, seed)
	if err != nil {
		return nil, err
	}
	kappaNet, err := layers.NewTwoLayerNet(inputSize, 1, dropout, seed+1)
	if err != nil {
		return nil, err
	}
	return &FisherVonMises{
		base: base{
			key:                KeyFisherVonMises,
			inputSize:          inputSize,
			dropout:            dropout,
			supportsCompressed: false,
			lossDescription:    "negative log-likelihood",
		},
		meanNet:  meanNet,
		kappaNet: kappaNet,
		sampler:  distribution.NewVonMisesFisherSampler(seed),
	}, nil
}

func (g *FisherVonMises) SetTraining(training bool) {
	g.meanNet.SetTraining(training)
	g.kappaNet.SetTraining(training)
}

// Forward produces unit mean directions and concentrations in
// [0, MaxKappa].
func (g *FisherVonMises) Forward(inputs *mat.Dense) (Output, error) {
	mus, err := g.meanNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	b, _ := mus.Dims()
	for i := 0; i < b; i++ {
		row := mus.RawRowView(i)
		norm := math.Sqrt(row[0]*row[0] + row[1]*row[1] + row[2]*row[2])
		if norm > 0 {
			row[0] /= norm
			row[1] /= norm
			row[2] /= norm
		} else {
			// A zero predicted mean has no direction to normalize, but
			// the log-prob and the sampler both require unit mu. Fall
			// back to a fixed pole; with a raw output this degenerate
			// the concentration carries no information either.
			row[0], row[1], row[2] = 0, 0, 1
		}
	}

	rawKappas, err := g.kappaNet.Forward(inputs)
	if err != nil {
		return nil, err
	}
	kappas := make([]float64, b)
	for i := 0; i < b; i++ {
		kappas[i] = MaxKappa * sigmoid(rawKappas.At(i, 0))
	}
	return &FisherVonMisesOutput{Mus: mus, Kappas: kappas}, nil
}

// ComputeLoss returns the mean vMF negative log-likelihood of the
// targets.
func (g *FisherVonMises) ComputeLoss(out Output, targets *mat.Dense) (float64, error) {
	fvm, ok := out.(*FisherVonMisesOutput)
	if !ok {
		return 0, g.wrongOutput(out)
	}
	if err := checkTargets(out, targets); err != nil {
		return 0, err
	}

	logProbs, err := distribution.FisherVonMisesLogProb(fvm.Mus, fvm.Kappas, targets, distribution.DefaultEps)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, lp := range logProbs {
		sum += -lp
	}
	return sum / float64(len(logProbs)), nil
}

// SampleTrackingDirectionProb rejection-samples one unit direction per
// sample around the fitted mean.
func (g *FisherVonMises) SampleTrackingDirectionProb(out Output) (*mat.Dense, error) {
	fvm, ok := out.(*FisherVonMisesOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}

	b := fvm.BatchSize()
	dirs := mat.NewDense(b, 3, nil)
	for i := 0; i < b; i++ {
		mu := r3.Vec{X: fvm.Mus.At(i, 0), Y: fvm.Mus.At(i, 1), Z: fvm.Mus.At(i, 2)}
		v := g.sampler.Sample(mu, fvm.Kappas[i])
		dirs.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	return dirs, nil
}

// TrackingDirectionDet is not defined for the Fisher-von Mises family;
// a principled mode definition is an open design gap.
func (g *FisherVonMises) TrackingDirectionDet(Output) (*mat.Dense, error) {
	return nil, g.unsupported("deterministic direction")
}

func (g *FisherVonMises) Parameters() []layers.Parameter {
	return append(g.meanNet.Parameters("mean"), g.kappaNet.Parameters("kappa")...)
}

func (g *FisherVonMises) SetParameters(params []layers.Parameter) error {
	if err := g.meanNet.SetParameters("mean", params); err != nil {
		return err
	}
	return g.kappaNet.SetParameters("kappa", params)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// NewFisherVonMisesMixture is registered for completeness but the
// mixture-of-vMF family is not implemented.
func NewFisherVonMisesMixture(inputSize int, dropout float64, numClusters int, seed uint64) (DirectionGetter, error) {
	return nil, fmt.Errorf("%s: not implemented", KeyFisherVonMisesMixture)
}
