// Package directions implements the direction-getter heads: the output
// layers that map model features to a direction, or to a probability
// distribution over directions, for one distribution family each.
//
// All families share the same contract: Forward produces the family's
// raw parameter tensors, ComputeLoss scores them against target
// directions, and the two tracking methods turn them into concrete
// per-line directions. Families that do not support an operation return
// an error wrapping ErrUnsupported; this is a declared capability gap,
// not a failure to recover from.
package directions

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/fiberlab/tracto/layers"
)

// Family keys, used by the registry and by checkpoint parameters.
const (
	KeyCosineRegression      = "cosine-regression"
	KeyL2Regression          = "l2-regression"
	KeySphereClassification  = "sphere-classification"
	KeyGaussian              = "gaussian"
	KeyGaussianMixture       = "gaussian-mixture"
	KeyFisherVonMises        = "fisher-von-mises"
	KeyFisherVonMisesMixture = "fisher-von-mises-mixture"
)

// ErrUnsupported marks operations a distribution family deliberately
// does not define (e.g. probabilistic sampling on a deterministic
// regression head).
var ErrUnsupported = errors.New("operation not supported by this direction getter")

// Output is the family-specific raw parameter bundle produced by a
// Forward pass and consumed immediately by ComputeLoss or one of the
// tracking methods.
type Output interface {
	// BatchSize returns the number of samples the output describes.
	BatchSize() int
}

// RegressionOutput carries predicted directions [B x 3].
type RegressionOutput struct {
	Directions *mat.Dense
}

func (o *RegressionOutput) BatchSize() int { b, _ := o.Directions.Dims(); return b }

// ClassificationOutput carries per-vertex logits [B x C].
type ClassificationOutput struct {
	Logits *mat.Dense
}

func (o *ClassificationOutput) BatchSize() int { b, _ := o.Logits.Dims(); return b }

// GaussianOutput carries the mean [B x 3] and standard deviation
// [B x 3] of a diagonal-covariance Gaussian.
type GaussianOutput struct {
	Means  *mat.Dense
	Sigmas *mat.Dense
}

func (o *GaussianOutput) BatchSize() int { b, _ := o.Means.Dims(); return b }

// GaussianMixtureOutput carries mixture logits [B x K] and
// component-major means and sigmas [B x K*3].
type GaussianMixtureOutput struct {
	MixtureLogits *mat.Dense
	Means         *mat.Dense
	Sigmas        *mat.Dense
	NumComponents int
}

func (o *GaussianMixtureOutput) BatchSize() int { b, _ := o.MixtureLogits.Dims(); return b }

// FisherVonMisesOutput carries unit mean directions [B x 3] and
// per-sample concentrations in [0, 20].
type FisherVonMisesOutput struct {
	Mus    *mat.Dense
	Kappas []float64
}

func (o *FisherVonMisesOutput) BatchSize() int { b, _ := o.Mus.Dims(); return b }

// DirectionGetter is the uniform head contract shared by all
// distribution families. Implementations are not safe for concurrent
// use against the same instance.
type DirectionGetter interface {
	// Key returns the family key this head was registered under.
	Key() string
	// InputSize returns the feature width the head expects.
	InputSize() int
	// SupportsCompressedStreamlines reports whether the family's loss is
	// meaningful for variable-step (compressed) streamlines.
	SupportsCompressedStreamlines() bool
	// LossDescription names the loss for experiment logs.
	LossDescription() string
	// Params returns everything needed to reconstruct this head, in the
	// form stored in the checkpoint parameters file.
	Params() map[string]interface{}
	// SetTraining toggles dropout for all owned stacks.
	SetTraining(training bool)

	// Forward maps [B x input] features to the family's raw parameters.
	Forward(inputs *mat.Dense) (Output, error)
	// ComputeLoss returns the mean negative log-likelihood (or
	// regression loss) of the targets [B x 3] under the raw parameters.
	ComputeLoss(out Output, targets *mat.Dense) (float64, error)
	// SampleTrackingDirectionProb draws one direction per sample from
	// the fitted distribution.
	SampleTrackingDirectionProb(out Output) (*mat.Dense, error)
	// TrackingDirectionDet returns the deterministic direction per
	// sample, for families that define one.
	TrackingDirectionDet(out Output) (*mat.Dense, error)

	// Parameters extracts the head's weights for checkpointing.
	Parameters() []layers.Parameter
	// SetParameters restores previously extracted weights.
	SetParameters(params []layers.Parameter) error
}

// base carries the descriptor fields common to every family.
type base struct {
	key                string
	inputSize          int
	dropout            float64
	supportsCompressed bool
	lossDescription    string
}

func (b *base) Key() string                         { return b.key }
func (b *base) InputSize() int                      { return b.inputSize }
func (b *base) SupportsCompressedStreamlines() bool { return b.supportsCompressed }
func (b *base) LossDescription() string             { return b.lossDescription }

func (b *base) Params() map[string]interface{} {
	return map[string]interface{}{
		"input_size": b.inputSize,
		"dropout":    b.dropout,
		"key":        b.key,
		"loss":       b.lossDescription,
	}
}

func (b *base) wrongOutput(out Output) error {
	return fmt.Errorf("%s: unexpected output type %T", b.key, out)
}

func (b *base) unsupported(op string) error {
	return fmt.Errorf("%s: %s: %w", b.key, op, ErrUnsupported)
}

// checkTargets validates a [B x 3] target batch against an output.
func checkTargets(out Output, targets *mat.Dense) error {
	tb, td := targets.Dims()
	if td != 3 {
		return fmt.Errorf("target directions must be [B x 3], got [%d x %d]", tb, td)
	}
	if tb != out.BatchSize() {
		return fmt.Errorf("output batch size %d does not match %d targets", out.BatchSize(), tb)
	}
	return nil
}
