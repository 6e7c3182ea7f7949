package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fiberlab/tracto/model"
	"github.com/fiberlab/tracto/training"
)

// SchemaVersion identifies the checkpoint layout. A checkpoint written
// under a different version fails loading explicitly; state is never
// patched or padded to fit.
const SchemaVersion = 1

// File and directory names within an experiment directory.
const (
	checkpointFile = "checkpoint.json"
	modelDir       = "model"
	modelBackupDir = "model_old"
	paramsFile     = "parameters.json"
	weightsFile    = "best_model_state.bin"
)

// Checkpoint is the typed training state written alongside the model
// directory.
type Checkpoint struct {
	SchemaVersion int `json:"schema_version"`

	RunID          string    `json:"run_id"`
	ExperimentName string    `json:"experiment_name"`
	CreatedAt      time.Time `json:"created_at"`

	CurrentEpoch int     `json:"current_epoch"`
	BestEpoch    int     `json:"best_epoch"`
	BestLoss     float64 `json:"best_loss"`

	Monitors []training.MonitorState `json:"monitors"`
}

// NewCheckpoint stamps a fresh checkpoint with a run id and timestamp.
func NewCheckpoint(experimentName string) *Checkpoint {
	return &Checkpoint{
		SchemaVersion:  SchemaVersion,
		RunID:          uuid.NewString(),
		ExperimentName: experimentName,
		CreatedAt:      time.Now().UTC(),
	}
}

// SaveCheckpoint writes the checkpoint file into dir.
func SaveCheckpoint(dir string, cp *Checkpoint) error {
	if cp.SchemaVersion != SchemaVersion {
		return fmt.Errorf("refusing to save checkpoint with schema version %d (current is %d)",
			cp.SchemaVersion, SchemaVersion)
	}
	file, err := os.Create(filepath.Join(dir, checkpointFile))
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint file from dir and verifies its
// schema version.
func LoadCheckpoint(dir string) (*Checkpoint, error) {
	file, err := os.Open(filepath.Join(dir, checkpointFile))
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if cp.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("checkpoint has schema version %d, this build reads %d",
			cp.SchemaVersion, SchemaVersion)
	}
	return &cp, nil
}

// SaveModel writes the model's reconstruction parameters and weights
// into dir/model. Any existing model directory is moved aside to
// dir/model_old for the duration of the write and removed on success.
// After a failed save the backup directory remains; there is no atomic
// commit across a crash.
func SaveModel(dir string, m *model.Model) error {
	target := filepath.Join(dir, modelDir)
	backup := filepath.Join(dir, modelBackupDir)

	if _, err := os.Stat(backup); err == nil {
		return fmt.Errorf("backup directory %s exists, a previous save did not complete", backup)
	}
	hadPrevious := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("moving previous model aside: %w", err)
		}
		hadPrevious = true
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	if err := writeModelFiles(target, m); err != nil {
		return err
	}

	if hadPrevious {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("removing model backup: %w", err)
		}
	}
	return nil
}

func writeModelFiles(target string, m *model.Model) error {
	paramsPath := filepath.Join(target, paramsFile)
	file, err := os.Create(paramsPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", paramsFile, err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m.Config()); err != nil {
		file.Close()
		return fmt.Errorf("encoding model parameters: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", paramsFile, err)
	}

	weightsPath := filepath.Join(target, weightsFile)
	wf, err := os.Create(weightsPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", weightsFile, err)
	}
	if err := WriteWeights(wf, m.Parameters()); err != nil {
		wf.Close()
		return fmt.Errorf("writing model weights: %w", err)
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", weightsFile, err)
	}
	return nil
}

// LoadModel reconstructs a model from dir/model: decode the
// parameters, rebuild through the family registry, then load the
// weight blob onto it.
func LoadModel(dir string) (*model.Model, error) {
	target := filepath.Join(dir, modelDir)

	file, err := os.Open(filepath.Join(target, paramsFile))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", paramsFile, err)
	}
	var cfg model.Config
	decodeErr := json.NewDecoder(file).Decode(&cfg)
	file.Close()
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding model parameters: %w", decodeErr)
	}

	m, err := model.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("rebuilding model: %w", err)
	}

	wf, err := os.Open(filepath.Join(target, weightsFile))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", weightsFile, err)
	}
	defer wf.Close()
	params, err := ReadWeights(wf)
	if err != nil {
		return nil, fmt.Errorf("reading model weights: %w", err)
	}
	if err := m.SetParameters(params); err != nil {
		return nil, fmt.Errorf("restoring model weights: %w", err)
	}
	return m, nil
}
