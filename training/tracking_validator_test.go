package training

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/fiberlab/tracto/directions"
	"github.com/fiberlab/tracto/model"
	"github.com/fiberlab/tracto/tracking"
)

func validatorModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(model.Config{
		ExperimentName:        "validator-test",
		InputSize:             2,
		DModel:                4,
		NHeads:                2,
		MaxSeqLen:             50,
		EmbeddingKeyX:         model.EmbeddingNN,
		PositionalEncodingKey: model.PositionalSinusoidal,
		DirectionGetterKey:    directions.KeyL2Regression,
		StepSize:              0.5,
		Seed:                  11,
	})
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	return m
}

func zeroInputs(points []r3.Vec) (*mat.Dense, error) {
	return mat.NewDense(len(points), 2, nil), nil
}

func line(points ...r3.Vec) tracking.Streamline { return tracking.Streamline(points) }

func TestScoreGeneratedInvalidRatio(t *testing.T) {
	truth := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{X: 2}),
	}

	// Identical endpoint: zero divergence, zero percent invalid.
	identical := []tracking.Streamline{truth[0].Clone()}
	loss, ratio := ScoreGenerated(identical, truth, DefaultISThreshold)
	if loss != 0 {
		t.Errorf("identical streamline loss = %v, want 0", loss)
	}
	if ratio != 0 {
		t.Errorf("identical streamline IS ratio = %v%%, want 0%%", ratio)
	}

	// Endpoint far beyond the threshold: the whole (single-line) batch
	// is invalid.
	far := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{X: 2 + 10*DefaultISThreshold}),
	}
	loss, ratio = ScoreGenerated(far, truth, DefaultISThreshold)
	if loss <= DefaultISThreshold {
		t.Errorf("far streamline loss = %v, want above %v", loss, DefaultISThreshold)
	}
	if ratio != 100 {
		t.Errorf("far streamline IS ratio = %v%%, want 100%%", ratio)
	}
}

func TestScoreGeneratedMixedBatch(t *testing.T) {
	truth := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 1}),
		line(r3.Vec{}, r3.Vec{Y: 1}),
	}
	generated := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 1}),
		line(r3.Vec{}, r3.Vec{Y: 1 + 2*DefaultISThreshold}),
	}
	loss, ratio := ScoreGenerated(generated, truth, DefaultISThreshold)
	if ratio != 50 {
		t.Errorf("IS ratio = %v%%, want 50%%", ratio)
	}
	want := (0 + 2*DefaultISThreshold) / 2
	if math.Abs(loss-want) > 1e-12 {
		t.Errorf("mean loss = %v, want %v", loss, want)
	}
}

func TestScoreGeneratedMismatchedBatch(t *testing.T) {
	truth := []tracking.Streamline{line(r3.Vec{}, r3.Vec{X: 1})}
	loss, ratio := ScoreGenerated(nil, truth, DefaultISThreshold)
	if !math.IsNaN(loss) || !math.IsNaN(ratio) {
		t.Errorf("mismatched batch scored (%v, %v), want NaN, NaN", loss, ratio)
	}
}

func TestNewTrackingValidatorRejectsCompressedModel(t *testing.T) {
	m, err := model.New(model.Config{
		InputSize:             2,
		DModel:                4,
		NHeads:                2,
		MaxSeqLen:             50,
		EmbeddingKeyX:         model.EmbeddingNN,
		PositionalEncodingKey: model.PositionalSinusoidal,
		DirectionGetterKey:    directions.KeyL2Regression,
		StepSize:              0,
		Seed:                  11,
	})
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	if _, err := NewTrackingValidator(m, ValidatorConfig{}); err == nil {
		t.Fatal("validator accepted a model without a fixed step size")
	}
}

func TestShouldRunFrequency(t *testing.T) {
	v, err := NewTrackingValidator(validatorModel(t), ValidatorConfig{Frequency: 5})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}
	var ran []int
	for epoch := 0; epoch < 12; epoch++ {
		if v.ShouldRun(epoch) {
			ran = append(ran, epoch)
		}
	}
	want := []int{4, 9}
	if len(ran) != len(want) {
		t.Fatalf("ran on epochs %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran on epochs %v, want %v", ran, want)
		}
	}
}

func TestValidateBatchAccumulates(t *testing.T) {
	v, err := NewTrackingValidator(validatorModel(t), ValidatorConfig{})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}

	truth := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 0.5}, r3.Vec{X: 1}, r3.Vec{X: 1.5}, r3.Vec{X: 2}, r3.Vec{X: 2.5}, r3.Vec{X: 3}),
		line(r3.Vec{Y: 1}, r3.Vec{Y: 1.5}, r3.Vec{Y: 2}, r3.Vec{Y: 2.5}, r3.Vec{Y: 3}, r3.Vec{Y: 3.5}),
	}
	loss, ratio, err := v.ValidateBatch(truth, zeroInputs)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if math.IsNaN(loss) || loss < 0 {
		t.Errorf("loss = %v, want finite and non-negative", loss)
	}
	if ratio < 0 || ratio > 100 {
		t.Errorf("IS ratio = %v, want within [0, 100]", ratio)
	}

	if err := v.FinishEpoch(true); err != nil {
		t.Fatalf("FinishEpoch failed: %v", err)
	}
	if v.LossMonitor().NumEpochs() != 1 || v.ISMonitor().NumEpochs() != 1 {
		t.Error("monitors did not record the epoch")
	}

	// A skipped epoch keeps the curves aligned by repeating the scores.
	if err := v.FinishEpoch(false); err != nil {
		t.Fatalf("FinishEpoch(skip) failed: %v", err)
	}
	prev, _ := v.ISMonitor().LatestEpochAverage()
	history := v.ISMonitor().AveragePerEpoch()
	if len(history) != 2 || history[0] != prev {
		t.Errorf("carried IS history = %v, want epoch 1 repeated", history)
	}
}

func TestValidateBatchForcesEvalMode(t *testing.T) {
	m := validatorModel(t)
	m.SetTraining(true)
	v, err := NewTrackingValidator(m, ValidatorConfig{})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}
	truth := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 0.5}, r3.Vec{X: 1}, r3.Vec{X: 1.5}, r3.Vec{X: 2}, r3.Vec{X: 2.5}),
	}
	if _, _, err := v.ValidateBatch(truth, zeroInputs); err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if m.Training() {
		t.Error("model left in training mode after validation")
	}
}

func TestValidateBatchRejectsBadInput(t *testing.T) {
	v, err := NewTrackingValidator(validatorModel(t), ValidatorConfig{})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}
	if _, _, err := v.ValidateBatch(nil, zeroInputs); err == nil {
		t.Error("ValidateBatch accepted an empty batch")
	}
	short := []tracking.Streamline{line(r3.Vec{})}
	if _, _, err := v.ValidateBatch(short, zeroInputs); err == nil {
		t.Error("ValidateBatch accepted a single-point streamline")
	}
}

func TestValidatorStateRoundTrip(t *testing.T) {
	v, err := NewTrackingValidator(validatorModel(t), ValidatorConfig{})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}
	truth := []tracking.Streamline{
		line(r3.Vec{}, r3.Vec{X: 0.5}, r3.Vec{X: 1}, r3.Vec{X: 1.5}, r3.Vec{X: 2}, r3.Vec{X: 2.5}),
	}
	if _, _, err := v.ValidateBatch(truth, zeroInputs); err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if err := v.FinishEpoch(true); err != nil {
		t.Fatalf("FinishEpoch failed: %v", err)
	}

	fresh, err := NewTrackingValidator(validatorModel(t), ValidatorConfig{})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}
	if err := fresh.RestoreState(v.State(), 1); err != nil {
		t.Fatalf("RestoreState failed: %v", err)
	}
	if fresh.LossMonitor().NumEpochs() != 1 {
		t.Error("restored validator lost loss history")
	}

	// Dropping a monitor from the checkpoint is a hard error.
	partial := v.State()[:1]
	other, err := NewTrackingValidator(validatorModel(t), ValidatorConfig{})
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}
	if err := other.RestoreState(partial, 1); err == nil {
		t.Error("RestoreState accepted a checkpoint missing a monitor")
	}
}

func TestMaxPointsTruncates(t *testing.T) {
	tests := []struct {
		stepSize float64
		seqLimit int
		want     int
	}{
		// Partial final steps are dropped, not rounded up.
		{0.7, 1000, 285},
		{0.5, 1000, 400},
		{3.0, 1000, 66},
		// The sequence limit wins when it is tighter.
		{0.5, 50, 50},
	}
	for _, tt := range tests {
		if got := maxPointsFor(tt.stepSize, tt.seqLimit); got != tt.want {
			t.Errorf("maxPointsFor(%v, %d) = %d, want %d", tt.stepSize, tt.seqLimit, got, tt.want)
		}
	}
}
