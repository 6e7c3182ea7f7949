// Package layers implements the small fully-connected stacks shared by
// all direction-getter heads: Linear -> ReLU -> Dropout -> Linear, with
// the hidden width fixed at ceil(input/2).
package layers

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// TwoLayerNet is a fully-connected network of shape
// input -> ceil(input/2) -> output with a ReLU activation and optional
// dropout between the two linear layers. The final layer has no
// activation.
type TwoLayerNet struct {
	inputSize  int
	hiddenSize int
	outputSize int
	dropout    float64

	w1 *mat.Dense // [input x hidden]
	b1 []float64
	w2 *mat.Dense // [hidden x output]
	b2 []float64

	training bool
	rng      *rand.Rand
}

// NewTwoLayerNet creates a network with Xavier-initialized weights.
// dropout must lie in [0, 1); the seed drives both initialization and
// dropout masks so a fixed seed reproduces the full parameter state.
func NewTwoLayerNet(inputSize, outputSize int, dropout float64, seed uint64) (*TwoLayerNet, error) {
	if inputSize < 1 {
		return nil, fmt.Errorf("input size must be positive, got %d", inputSize)
	}
	if outputSize < 1 {
		return nil, fmt.Errorf("output size must be positive, got %d", outputSize)
	}
	if dropout < 0 || dropout >= 1 {
		return nil, fmt.Errorf("dropout rate should be between 0 and 1, got %v", dropout)
	}

	hiddenSize := int(math.Ceil(float64(inputSize) / 2))
	n := &TwoLayerNet{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		outputSize: outputSize,
		dropout:    dropout,
		b1:         make([]float64, hiddenSize),
		b2:         make([]float64, outputSize),
		rng:        rand.New(rand.NewSource(seed)),
	}
	n.w1 = n.xavierInit(inputSize, hiddenSize)
	n.w2 = n.xavierInit(hiddenSize, outputSize)
	return n, nil
}

func (n *TwoLayerNet) xavierInit(fanIn, fanOut int) *mat.Dense {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := make([]float64, fanIn*fanOut)
	for i := range data {
		data[i] = (2*n.rng.Float64() - 1) * limit
	}
	return mat.NewDense(fanIn, fanOut, data)
}

// InputSize returns the expected number of input features.
func (n *TwoLayerNet) InputSize() int { return n.inputSize }

// HiddenSize returns the width of the hidden layer.
func (n *TwoLayerNet) HiddenSize() int { return n.hiddenSize }

// OutputSize returns the number of output features.
func (n *TwoLayerNet) OutputSize() int { return n.outputSize }

// Dropout returns the configured dropout rate.
func (n *TwoLayerNet) Dropout() float64 { return n.dropout }

// SetTraining switches dropout on (training) or off (evaluation).
func (n *TwoLayerNet) SetTraining(training bool) { n.training = training }

// Forward maps a [B x input] batch to [B x output]. Fails on a feature
// count mismatch; this indicates a wiring error, not a recoverable
// condition.
func (n *TwoLayerNet) Forward(inputs *mat.Dense) (*mat.Dense, error) {
	b, d := inputs.Dims()
	if d != n.inputSize {
		return nil, fmt.Errorf("input has %d features, network expects %d", d, n.inputSize)
	}

	var hidden mat.Dense
	hidden.Mul(inputs, n.w1)
	hidden.Apply(func(_, j int, v float64) float64 {
		v += n.b1[j]
		if v < 0 { // ReLU
			return 0
		}
		return v
	}, &hidden)

	if n.training && n.dropout > 0 {
		scale := 1 / (1 - n.dropout)
		hidden.Apply(func(_, _ int, v float64) float64 {
			if n.rng.Float64() < n.dropout {
				return 0
			}
			return v * scale
		}, &hidden)
	}

	out := mat.NewDense(b, n.outputSize, nil)
	out.Mul(&hidden, n.w2)
	out.Apply(func(_, j int, v float64) float64 { return v + n.b2[j] }, out)
	return out, nil
}
