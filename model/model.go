package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/fiberlab/tracto/directions"
	"github.com/fiberlab/tracto/layers"
	"github.com/fiberlab/tracto/tracking"
)

// Tracking algorithm keys accepted by TrackingDirections.
const (
	AlgoDeterministic = "det"
	AlgoProbabilistic = "prob"
)

// InputsFunc maps streamline points to their per-point input features,
// one row per point, width Config.InputSize. It typically interpolates
// a diffusion volume at the given coordinates.
type InputsFunc func(points []r3.Vec) (*mat.Dense, error)

// Model encodes streamline prefixes and drives a direction-getter
// head. A forward pass sees, for every line, the per-point input
// features concatenated with the previous step direction, embeds each
// point, adds positional information and pools the prefix into one
// feature vector for the head.
type Model struct {
	cfg       Config
	embedding *layers.TwoLayerNet
	head      directions.DirectionGetter
	training  bool
}

// New builds a model from a validated configuration.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pointWidth := cfg.InputSize + 3
	var embedding *layers.TwoLayerNet
	switch cfg.EmbeddingKeyX {
	case EmbeddingNN:
		var err error
		embedding, err = layers.NewTwoLayerNet(pointWidth, cfg.DModel, cfg.Dropout, cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("building embedding: %w", err)
		}
	case EmbeddingNone:
		if pointWidth != cfg.DModel {
			return nil, fmt.Errorf("no_embedding requires d_model == input_size+3, got d_model %d and input width %d",
				cfg.DModel, pointWidth)
		}
	}

	head, err := directions.New(cfg.DirectionGetterKey, directions.FactoryConfig{
		InputSize:    cfg.DModel,
		Dropout:      cfg.Dropout,
		Seed:         cfg.Seed + 1,
		NumGaussians: cfg.NumGaussians,
	})
	if err != nil {
		return nil, fmt.Errorf("building direction getter: %w", err)
	}

	return &Model{cfg: cfg, head: head, embedding: embedding}, nil
}

// Config returns the configuration the model was built from.
func (m *Model) Config() Config { return m.cfg }

// DirectionGetter exposes the head, mainly for loss inspection.
func (m *Model) DirectionGetter() directions.DirectionGetter { return m.head }

// StepSize returns the fixed tracking step size the model was trained
// for, zero for compressed-streamline models.
func (m *Model) StepSize() float64 { return m.cfg.StepSize }

// SetTraining toggles dropout everywhere. Tracking and validation must
// run in eval mode.
func (m *Model) SetTraining(training bool) {
	m.training = training
	if m.embedding != nil {
		m.embedding.SetTraining(training)
	}
	m.head.SetTraining(training)
}

// SetEval is shorthand for SetTraining(false).
func (m *Model) SetEval() { m.SetTraining(false) }

// Training reports whether dropout is active.
func (m *Model) Training() bool { return m.training }

// Forward runs one pass over a batch of streamline prefixes. inputs
// supplies the per-point features for each line's points. A prefix
// longer than MaxSeqLen is a fatal error: truncating it would silently
// change what the model conditions on.
func (m *Model) Forward(lines []tracking.Streamline, inputs InputsFunc) (directions.Output, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("forward pass needs at least one streamline")
	}
	pooled := mat.NewDense(len(lines), m.cfg.DModel, nil)
	for i, line := range lines {
		if len(line) == 0 {
			return nil, fmt.Errorf("streamline %d is empty", i)
		}
		if len(line) > m.cfg.MaxSeqLen {
			return nil, fmt.Errorf("streamline %d has %d points, above the maximum sequence length %d",
				i, len(line), m.cfg.MaxSeqLen)
		}
		feats, err := inputs(line)
		if err != nil {
			return nil, fmt.Errorf("computing inputs for streamline %d: %w", i, err)
		}
		fr, fc := feats.Dims()
		if fr != len(line) || fc != m.cfg.InputSize {
			return nil, fmt.Errorf("inputs for streamline %d must be [%d x %d], got [%d x %d]",
				i, len(line), m.cfg.InputSize, fr, fc)
		}
		encoded, err := m.encodePrefix(line, feats)
		if err != nil {
			return nil, err
		}
		pooled.SetRow(i, encoded)
	}
	return m.head.Forward(pooled)
}

// encodePrefix maps one line's point features to a single DModel-wide
// vector: concat previous direction, embed, add positional encoding,
// mean-pool over the prefix.
func (m *Model) encodePrefix(line tracking.Streamline, feats *mat.Dense) ([]float64, error) {
	n := len(line)
	rows := mat.NewDense(n, m.cfg.InputSize+3, nil)
	for t := 0; t < n; t++ {
		rows.Slice(t, t+1, 0, m.cfg.InputSize).(*mat.Dense).SetRow(0, feats.RawRowView(t))
		if t > 0 {
			d := r3.Sub(line[t], line[t-1])
			rows.Set(t, m.cfg.InputSize+0, d.X)
			rows.Set(t, m.cfg.InputSize+1, d.Y)
			rows.Set(t, m.cfg.InputSize+2, d.Z)
		}
	}

	embedded := rows
	if m.embedding != nil {
		var err error
		embedded, err = m.embedding.Forward(rows)
		if err != nil {
			return nil, fmt.Errorf("embedding forward: %w", err)
		}
	}

	if m.cfg.PositionalEncodingKey == PositionalSinusoidal {
		addSinusoidal(embedded)
	}

	pooled := make([]float64, m.cfg.DModel)
	for t := 0; t < n; t++ {
		row := embedded.RawRowView(t)
		for j := range pooled {
			pooled[j] += row[j]
		}
	}
	inv := 1.0 / float64(n)
	for j := range pooled {
		pooled[j] *= inv
	}
	return pooled, nil
}

// addSinusoidal adds the standard sin/cos positional encoding in
// place, wavelengths geometric from 2pi to 10000*2pi.
func addSinusoidal(seq *mat.Dense) {
	n, d := seq.Dims()
	for t := 0; t < n; t++ {
		for j := 0; j < d; j += 2 {
			angle := float64(t) / math.Pow(10000, float64(j)/float64(d))
			seq.Set(t, j, seq.At(t, j)+math.Sin(angle))
			if j+1 < d {
				seq.Set(t, j+1, seq.At(t, j+1)+math.Cos(angle))
			}
		}
	}
}

// ComputeLoss scores a forward output against target directions.
func (m *Model) ComputeLoss(out directions.Output, targets *mat.Dense) (float64, error) {
	return m.head.ComputeLoss(out, targets)
}

// TrackingDirections turns a forward output into one direction per
// line, using the requested algorithm.
func (m *Model) TrackingDirections(out directions.Output, algo string) (*mat.Dense, error) {
	switch algo {
	case AlgoDeterministic:
		return m.head.TrackingDirectionDet(out)
	case AlgoProbabilistic:
		return m.head.SampleTrackingDirectionProb(out)
	default:
		return nil, fmt.Errorf("unknown tracking algorithm %q (want %q or %q)",
			algo, AlgoDeterministic, AlgoProbabilistic)
	}
}

// NextDirectionsFunc adapts the model into the propagation engine's
// callback. The model must be in eval mode; a training-mode model
// would track with dropout noise, which is always a mistake.
func (m *Model) NextDirectionsFunc(inputs InputsFunc, algo string) tracking.NextDirectionsFunc {
	return func(lines []tracking.Streamline) ([]r3.Vec, error) {
		if m.training {
			return nil, fmt.Errorf("tracking requires eval mode, call SetEval first")
		}
		out, err := m.Forward(lines, inputs)
		if err != nil {
			return nil, err
		}
		dirs, err := m.TrackingDirections(out, algo)
		if err != nil {
			return nil, err
		}
		next := make([]r3.Vec, len(lines))
		for i := range next {
			next[i] = r3.Vec{X: dirs.At(i, 0), Y: dirs.At(i, 1), Z: dirs.At(i, 2)}
		}
		return next, nil
	}
}

// Params returns the JSON-serializable parameter set stored in a model
// checkpoint directory.
func (m *Model) Params() map[string]interface{} {
	return map[string]interface{}{
		"experiment_name":         m.cfg.ExperimentName,
		"input_size":              m.cfg.InputSize,
		"d_model":                 m.cfg.DModel,
		"n_heads":                 m.cfg.NHeads,
		"max_seq_len":             m.cfg.MaxSeqLen,
		"dropout":                 m.cfg.Dropout,
		"embedding_key_x":         m.cfg.EmbeddingKeyX,
		"positional_encoding_key": m.cfg.PositionalEncodingKey,
		"step_size":               m.cfg.StepSize,
		"direction_getter":        m.head.Params(),
	}
}

// Parameters extracts every weight tensor for checkpointing, encoder
// first, head second.
func (m *Model) Parameters() []layers.Parameter {
	var params []layers.Parameter
	if m.embedding != nil {
		params = append(params, m.embedding.Parameters("embedding")...)
	}
	return append(params, m.head.Parameters()...)
}

// SetParameters restores weights extracted by Parameters. Tensors are
// matched by name; shapes must match a model built from the same
// configuration.
func (m *Model) SetParameters(params []layers.Parameter) error {
	if m.embedding != nil {
		if err := m.embedding.SetParameters("embedding", params); err != nil {
			return fmt.Errorf("restoring embedding: %w", err)
		}
	}
	if err := m.head.SetParameters(params); err != nil {
		return fmt.Errorf("restoring direction getter: %w", err)
	}
	return nil
}
