package directions

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fiberlab/tracto/layers"
)

// cosineEps keeps the cosine denominator away from zero for degenerate
// predictions.
const cosineEps = 1e-8

// CosineRegression learns a 3D direction directly and scores it with
// negative cosine similarity against the target. Deterministic only.
type CosineRegression struct {
	base
	net *layers.TwoLayerNet
}

// NewCosineRegression creates a cosine-regression head.
func NewCosineRegression(inputSize int, dropout float64, seed uint64) (*CosineRegression, error) {
	net, err := layers.NewTwoLayerNet(inputSize, 3, dropout, seed)
	if err != nil {
		return nil, err
	}
	return &CosineRegression{
		base: base{
			key:                KeyCosineRegression,
			inputSize:          inputSize,
			dropout:            dropout,
			supportsCompressed: false,
			lossDescription:    "negative cosine similarity",
		},
		net: net,
	}, nil
}

func (g *CosineRegression) SetTraining(training bool) { g.net.SetTraining(training) }

func (g *CosineRegression) Forward(inputs *mat.Dense) (Output, error) {
	dirs, err := g.net.Forward(inputs)
	if err != nil {
		return nil, err
	}
	return &RegressionOutput{Directions: dirs}, nil
}

// ComputeLoss returns the mean of -cos(predicted, target) across the batch.
func (g *CosineRegression) ComputeLoss(out Output, targets *mat.Dense) (float64, error) {
	reg, ok := out.(*RegressionOutput)
	if !ok {
		return 0, g.wrongOutput(out)
	}
	if err := checkTargets(out, targets); err != nil {
		return 0, err
	}

	b := reg.BatchSize()
	var sum float64
	for i := 0; i < b; i++ {
		var dot, np, nt float64
		for j := 0; j < 3; j++ {
			p := reg.Directions.At(i, j)
			t := targets.At(i, j)
			dot += p * t
			np += p * p
			nt += t * t
		}
		denom := math.Sqrt(np)*math.Sqrt(nt) + cosineEps
		sum += -dot / denom
	}
	return sum / float64(b), nil
}

func (g *CosineRegression) SampleTrackingDirectionProb(Output) (*mat.Dense, error) {
	return nil, g.unsupported("probabilistic sampling")
}

// TrackingDirectionDet returns the learned directions as-is.
func (g *CosineRegression) TrackingDirectionDet(out Output) (*mat.Dense, error) {
	reg, ok := out.(*RegressionOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}
	return reg.Directions, nil
}

func (g *CosineRegression) Parameters() []layers.Parameter { return g.net.Parameters("direction") }

func (g *CosineRegression) SetParameters(params []layers.Parameter) error {
	return g.net.SetParameters("direction", params)
}

// L2Regression learns a 3D direction directly and scores it with the
// Euclidean distance to the target. Deterministic only. The distance
// loss stays meaningful at variable step sizes, so compressed
// streamlines are supported.
type L2Regression struct {
	base
	net *layers.TwoLayerNet
}

// NewL2Regression creates an L2-regression head.
func NewL2Regression(inputSize int, dropout float64, seed uint64) (*L2Regression, error) {
	net, err := layers.NewTwoLayerNet(inputSize, 3, dropout, seed)
	if err != nil {
		return nil, err
	}
	return &L2Regression{
		base: base{
			key:                KeyL2Regression,
			inputSize:          inputSize,
			dropout:            dropout,
			supportsCompressed: true,
			lossDescription:    "pairwise distance",
		},
		net: net,
	}, nil
}

func (g *L2Regression) SetTraining(training bool) { g.net.SetTraining(training) }

func (g *L2Regression) Forward(inputs *mat.Dense) (Output, error) {
	dirs, err := g.net.Forward(inputs)
	if err != nil {
		return nil, err
	}
	return &RegressionOutput{Directions: dirs}, nil
}

// ComputeLoss returns the mean Euclidean distance between predicted and
// target directions.
func (g *L2Regression) ComputeLoss(out Output, targets *mat.Dense) (float64, error) {
	reg, ok := out.(*RegressionOutput)
	if !ok {
		return 0, g.wrongOutput(out)
	}
	if err := checkTargets(out, targets); err != nil {
		return 0, err
	}

	b := reg.BatchSize()
	var sum float64
	for i := 0; i < b; i++ {
		var sq float64
		for j := 0; j < 3; j++ {
			d := reg.Directions.At(i, j) - targets.At(i, j)
			sq += d * d
		}
		sum += math.Sqrt(sq)
	}
	return sum / float64(b), nil
}

func (g *L2Regression) SampleTrackingDirectionProb(Output) (*mat.Dense, error) {
	return nil, g.unsupported("probabilistic sampling")
}

// TrackingDirectionDet returns the learned directions as-is.
func (g *L2Regression) TrackingDirectionDet(out Output) (*mat.Dense, error) {
	reg, ok := out.(*RegressionOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}
	return reg.Directions, nil
}

func (g *L2Regression) Parameters() []layers.Parameter { return g.net.Parameters("direction") }

func (g *L2Regression) SetParameters(params []layers.Parameter) error {
	return g.net.SetParameters("direction", params)
}
