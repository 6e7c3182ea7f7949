package directions

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/fiberlab/tracto/distribution"
	"github.com/fiberlab/tracto/layers"
	"github.com/fiberlab/tracto/sphere"
)

// SphereClassification treats direction prediction as classification
// over a fixed sphere discretization: the head emits one logit per
// vertex, the target label is the vertex closest (by cosine similarity)
// to the target direction.
type SphereClassification struct {
	base
	net    *layers.TwoLayerNet
	sphere *sphere.Sphere
	rng    *rand.Rand
}

// NewSphereClassification creates a classification head over the given
// sphere. A nil sphere selects the default 724-vertex discretization.
// The vertex table is built once here and never mutated afterwards, so
// the head has no lazy per-call relocation.
func NewSphereClassification(inputSize int, dropout float64, sph *sphere.Sphere, seed uint64) (*SphereClassification, error) {
	if sph == nil {
		sph = sphere.Default()
	}
	net, err := layers.NewTwoLayerNet(inputSize, sph.NumVertices(), dropout, seed)
	if err != nil {
		return nil, err
	}
	return &SphereClassification{
		base: base{
			key:                KeySphereClassification,
			inputSize:          inputSize,
			dropout:            dropout,
			supportsCompressed: false,
			lossDescription:    "negative log-likelihood",
		},
		net:    net,
		sphere: sph,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Sphere returns the class set this head predicts over.
func (g *SphereClassification) Sphere() *sphere.Sphere { return g.sphere }

func (g *SphereClassification) Params() map[string]interface{} {
	p := g.base.Params()
	p["sphere_vertices"] = g.sphere.NumVertices()
	return p
}

func (g *SphereClassification) SetTraining(training bool) { g.net.SetTraining(training) }

func (g *SphereClassification) Forward(inputs *mat.Dense) (Output, error) {
	logits, err := g.net.Forward(inputs)
	if err != nil {
		return nil, err
	}
	return &ClassificationOutput{Logits: logits}, nil
}

// ComputeLoss returns the mean categorical negative log-likelihood of
// each target's nearest-vertex label under the softmax of the logits.
func (g *SphereClassification) ComputeLoss(out Output, targets *mat.Dense) (float64, error) {
	cls, ok := out.(*ClassificationOutput)
	if !ok {
		return 0, g.wrongOutput(out)
	}
	if err := checkTargets(out, targets); err != nil {
		return 0, err
	}

	labels, err := g.sphere.ClosestVertices(targets)
	if err != nil {
		return 0, err
	}

	b := cls.BatchSize()
	var sum float64
	for i := 0; i < b; i++ {
		row := mat.Row(nil, i, cls.Logits)
		sum += -(row[labels[i]] - distribution.LogSumExp(row))
	}
	return sum / float64(b), nil
}

// SampleTrackingDirectionProb draws a vertex per sample from the
// categorical distribution defined by the logits.
func (g *SphereClassification) SampleTrackingDirectionProb(out Output) (*mat.Dense, error) {
	cls, ok := out.(*ClassificationOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}

	b := cls.BatchSize()
	dirs := mat.NewDense(b, 3, nil)
	for i := 0; i < b; i++ {
		row := mat.Row(nil, i, cls.Logits)
		idx := sampleCategoricalLogits(g.rng, row)
		v := g.sphere.Vertex(idx)
		dirs.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	return dirs, nil
}

// TrackingDirectionDet returns, per sample, the vertex with the highest
// logit (stable argmax: ties go to the first maximal index).
func (g *SphereClassification) TrackingDirectionDet(out Output) (*mat.Dense, error) {
	cls, ok := out.(*ClassificationOutput)
	if !ok {
		return nil, g.wrongOutput(out)
	}

	b, c := cls.Logits.Dims()
	dirs := mat.NewDense(b, 3, nil)
	for i := 0; i < b; i++ {
		best := 0
		bestLogit := cls.Logits.At(i, 0)
		for j := 1; j < c; j++ {
			if cls.Logits.At(i, j) > bestLogit {
				bestLogit = cls.Logits.At(i, j)
				best = j
			}
		}
		v := g.sphere.Vertex(best)
		dirs.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	return dirs, nil
}

func (g *SphereClassification) Parameters() []layers.Parameter { return g.net.Parameters("logits") }

func (g *SphereClassification) SetParameters(params []layers.Parameter) error {
	return g.net.SetParameters("logits", params)
}

// sampleCategoricalLogits draws an index from the categorical
// distribution softmax(logits) by inverse-CDF over the normalized
// probabilities, computed against the max logit for stability.
func sampleCategoricalLogits(rng *rand.Rand, logits []float64) int {
	lse := distribution.LogSumExp(logits)
	u := rng.Float64()
	var cdf float64
	for i, l := range logits {
		cdf += math.Exp(l - lse)
		if u < cdf {
			return i
		}
	}
	// Floating-point slack left u past the accumulated mass.
	return len(logits) - 1
}
