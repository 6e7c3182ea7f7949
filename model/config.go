// Package model ties a feature encoder to a direction-getter head and
// exposes the forward pass the propagation engine drives.
package model

import (
	"fmt"

	"github.com/fiberlab/tracto/directions"
)

// Embedding and positional-encoding keys accepted by Config. The
// encoder here is deliberately small; the keys exist so configurations
// and checkpoints from larger encoders validate the same way.
const (
	EmbeddingNN   = "nn_embedding"
	EmbeddingNone = "no_embedding"

	PositionalSinusoidal = "sinusoidal"
	PositionalRelational = "relational"
)

var embeddingKeys = map[string]bool{
	EmbeddingNN:   true,
	EmbeddingNone: true,
}

var positionalEncodingKeys = map[string]bool{
	PositionalSinusoidal: true,
	PositionalRelational: true,
}

// Config holds everything needed to reconstruct a model. It is the
// JSON-serialized parameter set in a model checkpoint directory.
type Config struct {
	ExperimentName string `json:"experiment_name"`

	// InputSize is the per-point feature width fed to the encoder.
	InputSize int `json:"input_size"`
	// DModel is the encoder output width, i.e. the direction getter's
	// input size.
	DModel int `json:"d_model"`
	// NHeads is the attention head count DModel must divide by.
	NHeads int `json:"n_heads"`
	// MaxSeqLen caps the streamline prefix length a forward pass
	// accepts; longer prefixes are a fatal error, never truncated.
	MaxSeqLen int `json:"max_seq_len"`

	Dropout               float64 `json:"dropout"`
	EmbeddingKeyX         string  `json:"embedding_key_x"`
	PositionalEncodingKey string  `json:"positional_encoding_key"`

	// DirectionGetterKey selects the distribution family.
	DirectionGetterKey string `json:"direction_getter_key"`
	// NumGaussians is the mixture size for the gaussian-mixture family
	// (zero selects the family default).
	NumGaussians int `json:"nb_gaussians,omitempty"`

	// StepSize is the tracking step size in voxel-space units. Zero
	// means the model was trained on compressed (variable-step)
	// streamlines and cannot drive fixed-step propagation.
	StepSize float64 `json:"step_size"`

	// Seed drives weight initialization and sampling.
	Seed uint64 `json:"seed"`
}

// Validate checks the configuration. All violations here are
// construction-time programming or configuration errors and fail
// immediately, never silently corrected.
func (c Config) Validate() error {
	if c.InputSize < 1 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.DModel < 1 {
		return fmt.Errorf("d_model must be positive, got %d", c.DModel)
	}
	if c.NHeads < 1 {
		return fmt.Errorf("n_heads must be positive, got %d", c.NHeads)
	}
	if c.DModel%c.NHeads != 0 {
		return fmt.Errorf("d_model (%d) must be divisible by n_heads (%d)", c.DModel, c.NHeads)
	}
	if c.MaxSeqLen < 1 {
		return fmt.Errorf("max sequence length must be positive, got %d", c.MaxSeqLen)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout rate should be between 0 and 1, got %v", c.Dropout)
	}
	if !embeddingKeys[c.EmbeddingKeyX] {
		return fmt.Errorf("embedding choice for x data not understood: %q", c.EmbeddingKeyX)
	}
	if !positionalEncodingKeys[c.PositionalEncodingKey] {
		return fmt.Errorf("positional encoding choice not understood: %q", c.PositionalEncodingKey)
	}
	if c.DirectionGetterKey == "" {
		return fmt.Errorf("direction getter key is required (known keys: %v)", directions.Keys())
	}
	if c.StepSize < 0 {
		return fmt.Errorf("step size must not be negative, got %v", c.StepSize)
	}
	return nil
}
