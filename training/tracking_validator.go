package training

import (
	"fmt"
	"log"
	"math"

	"github.com/fiberlab/tracto/model"
	"github.com/fiberlab/tracto/tracking"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tracking-validation defaults. The invalid-streamline threshold is
// the diagonal of a half-size 30-unit reference box, sqrt(3 * 15^2).
const (
	DefaultFrequency    = 5
	DefaultNbStepsInit  = 5
	DefaultISThreshold  = 25.98
	maxTrackingDistance = 200.0
)

// Monitor names, fixed so checkpoints from different runs line up.
const (
	MonitorTrackingLoss = "tracking_valid_loss"
	MonitorISRatio      = "tracking_valid_IS"
)

// ValidatorConfig tunes the tracking-validation phase. Zero values
// select the defaults above.
type ValidatorConfig struct {
	// Frequency runs the generation phase every N epochs; other epochs
	// carry the previous scores forward.
	Frequency int
	// NbStepsInit is how many ground-truth points seed each line.
	NbStepsInit int
	// ISThreshold is the final-point distance above which a generated
	// line counts as invalid.
	ISThreshold float64
	// Mask optionally bounds propagation; nil tracks unbounded.
	Mask *tracking.Mask
	// Logger receives per-batch scores; nil disables logging.
	Logger *log.Logger
}

// TrackingValidator regenerates validation streamlines with the model
// and scores how far their endpoints drift from ground truth. Scores
// feed two weighted epoch monitors, one for the mean final-point
// distance and one for the invalid-streamline ratio.
type TrackingValidator struct {
	cfg   ValidatorConfig
	model *model.Model

	lossMonitor *BatchHistoryMonitor
	isMonitor   *BatchHistoryMonitor
}

// NewTrackingValidator builds a validator for a fixed-step model. A
// compressed-streamline model (step size zero) cannot drive fixed-step
// regeneration and is rejected.
func NewTrackingValidator(m *model.Model, cfg ValidatorConfig) (*TrackingValidator, error) {
	if m == nil {
		return nil, fmt.Errorf("tracking validator needs a model")
	}
	if m.StepSize() <= 0 {
		return nil, fmt.Errorf("tracking validation needs a fixed step size, model has %v", m.StepSize())
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Frequency < 0 {
		return nil, fmt.Errorf("validation frequency must be positive, got %d", cfg.Frequency)
	}
	if cfg.NbStepsInit == 0 {
		cfg.NbStepsInit = DefaultNbStepsInit
	}
	if cfg.NbStepsInit < 1 {
		return nil, fmt.Errorf("initial step count must be positive, got %d", cfg.NbStepsInit)
	}
	if cfg.ISThreshold == 0 {
		cfg.ISThreshold = DefaultISThreshold
	}
	if cfg.ISThreshold < 0 {
		return nil, fmt.Errorf("invalid-streamline threshold must be positive, got %v", cfg.ISThreshold)
	}
	return &TrackingValidator{
		cfg:         cfg,
		model:       m,
		lossMonitor: NewBatchHistoryMonitor(MonitorTrackingLoss, true),
		isMonitor:   NewBatchHistoryMonitor(MonitorISRatio, true),
	}, nil
}

// ShouldRun reports whether the generation phase runs this epoch
// (zero-based). Epochs in between reuse the previous scores.
func (v *TrackingValidator) ShouldRun(epoch int) bool {
	return (epoch+1)%v.cfg.Frequency == 0
}

// ValidateBatch regenerates one batch of ground-truth streamlines and
// accumulates its scores. Each line is truncated to its first
// NbStepsInit points, the propagation engine extends it, and only the
// final points are compared. The model is forced into eval mode for
// the whole phase; tracking through dropout would score noise.
func (v *TrackingValidator) ValidateBatch(truth []tracking.Streamline, inputs model.InputsFunc) (meanLoss, isRatio float64, err error) {
	if len(truth) == 0 {
		return 0, 0, fmt.Errorf("tracking validation got an empty batch")
	}
	v.model.SetEval()

	seeds := make([]tracking.Streamline, len(truth))
	for i, line := range truth {
		if len(line) < 2 {
			return 0, 0, fmt.Errorf("ground-truth streamline %d has %d points, need at least 2", i, len(line))
		}
		k := v.cfg.NbStepsInit
		if k > len(line) {
			k = len(line)
		}
		seeds[i] = line[:k].Clone()
	}

	stepSize := v.model.StepSize()
	params := tracking.Params{
		StepSize:            stepSize,
		Theta:               2 * math.Pi,
		MaxPoints:           maxPointsFor(stepSize, v.model.Config().MaxSeqLen),
		Mask:                v.cfg.Mask,
		NormalizeDirections: true,
		Logger:              v.cfg.Logger,
	}
	generated, err := tracking.PropagateMultipleLines(
		seeds, v.model.NextDirectionsFunc(inputs, model.AlgoDeterministic), nil, params)
	if err != nil {
		return 0, 0, fmt.Errorf("regenerating validation streamlines: %w", err)
	}

	meanLoss, isRatio = ScoreGenerated(generated, truth, v.cfg.ISThreshold)
	weight := float64(len(truth))
	if err := v.lossMonitor.Update(meanLoss, weight); err != nil {
		return 0, 0, err
	}
	if err := v.isMonitor.Update(isRatio, weight); err != nil {
		return 0, 0, err
	}
	if v.cfg.Logger != nil {
		v.cfg.Logger.Printf("tracking validation: %d lines, mean final-point distance %.3f, IS ratio %.1f%%",
			len(truth), meanLoss, isRatio)
	}
	return meanLoss, isRatio, nil
}

// maxPointsFor caps regenerated lines at as many whole steps as fit in
// the tracking distance (truncating, never rounding up), bounded by
// the model's sequence limit.
func maxPointsFor(stepSize float64, seqLimit int) int {
	maxPoints := int(maxTrackingDistance / stepSize)
	if maxPoints > seqLimit {
		return seqLimit
	}
	return maxPoints
}

// ScoreGenerated compares generated streamlines to ground truth by
// final point only. It returns the mean Euclidean endpoint distance
// and the percentage of lines whose distance exceeds threshold.
func ScoreGenerated(generated, truth []tracking.Streamline, threshold float64) (meanLoss, isRatio float64) {
	n := len(generated)
	if n == 0 || n != len(truth) {
		return math.NaN(), math.NaN()
	}
	var sum float64
	invalid := 0
	for i := range generated {
		d := r3.Sub(generated[i].LastPoint(), truth[i].LastPoint())
		dist := math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
		sum += dist
		if dist > threshold {
			invalid++
		}
	}
	return sum / float64(n), 100 * float64(invalid) / float64(n)
}

// FinishEpoch closes this epoch on both monitors. Epochs where the
// generation phase was skipped carry the previous scores forward so
// the per-epoch curves stay aligned with the training loss curve.
func (v *TrackingValidator) FinishEpoch(ran bool) error {
	if !ran {
		v.lossMonitor.CarryForwardEpoch()
		v.isMonitor.CarryForwardEpoch()
		return nil
	}
	if err := v.lossMonitor.EndEpoch(); err != nil {
		return err
	}
	return v.isMonitor.EndEpoch()
}

// LossMonitor returns the endpoint-distance epoch monitor.
func (v *TrackingValidator) LossMonitor() *BatchHistoryMonitor { return v.lossMonitor }

// ISMonitor returns the invalid-streamline-ratio epoch monitor.
func (v *TrackingValidator) ISMonitor() *BatchHistoryMonitor { return v.isMonitor }

// State extracts both monitors for checkpointing.
func (v *TrackingValidator) State() []MonitorState {
	return []MonitorState{v.lossMonitor.State(), v.isMonitor.State()}
}

// RestoreState loads checkpointed monitor state. Every monitor must be
// present with exactly expectEpochs entries; a checkpoint that lost a
// monitor's history fails here instead of being padded.
func (v *TrackingValidator) RestoreState(states []MonitorState, expectEpochs int) error {
	byName := make(map[string]MonitorState, len(states))
	for _, s := range states {
		byName[s.Name] = s
	}
	for _, m := range []*BatchHistoryMonitor{v.lossMonitor, v.isMonitor} {
		s, ok := byName[m.Name()]
		if !ok {
			return fmt.Errorf("checkpoint is missing monitor %q", m.Name())
		}
		if err := m.Restore(s, expectEpochs); err != nil {
			return err
		}
	}
	return nil
}
