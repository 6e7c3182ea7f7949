// Package training holds the epoch bookkeeping around a model: batch
// and time monitors, and the tracking-validation driver that scores
// generated streamlines against ground truth.
package training

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MonitorState is the serializable form of a monitor, stored in
// checkpoints. Restore matches it by name and never pads missing
// history.
type MonitorState struct {
	Name            string    `json:"name"`
	AveragePerEpoch []float64 `json:"average_per_epoch"`
}

// BatchHistoryMonitor accumulates per-batch scalar values during an
// epoch and collapses them into one (optionally weighted) mean per
// epoch. Not safe for concurrent use.
type BatchHistoryMonitor struct {
	name     string
	weighted bool

	batchValues  []float64
	batchWeights []float64
	perEpoch     []float64
}

// NewBatchHistoryMonitor builds an empty monitor. When weighted is
// true, Update weights count toward the epoch mean; otherwise every
// batch counts equally.
func NewBatchHistoryMonitor(name string, weighted bool) *BatchHistoryMonitor {
	return &BatchHistoryMonitor{name: name, weighted: weighted}
}

// Name returns the monitor's name, used to match checkpoint state.
func (m *BatchHistoryMonitor) Name() string { return m.name }

// Update records one batch value. NaN values are skipped silently; a
// diverged batch should not poison the epoch mean.
func (m *BatchHistoryMonitor) Update(value, weight float64) error {
	if math.IsNaN(value) {
		return nil
	}
	if weight <= 0 {
		return fmt.Errorf("monitor %s: batch weight must be positive, got %v", m.name, weight)
	}
	m.batchValues = append(m.batchValues, value)
	if m.weighted {
		m.batchWeights = append(m.batchWeights, weight)
	}
	return nil
}

// EndEpoch collapses the accumulated batch values into one epoch mean
// and resets the batch buffers. An epoch with no batches is an error;
// use CarryForwardEpoch for epochs that deliberately skip this metric.
func (m *BatchHistoryMonitor) EndEpoch() error {
	if len(m.batchValues) == 0 {
		return fmt.Errorf("monitor %s: ending an epoch with no recorded batches", m.name)
	}
	var mean float64
	if m.weighted {
		mean = stat.Mean(m.batchValues, m.batchWeights)
	} else {
		mean = stat.Mean(m.batchValues, nil)
	}
	m.perEpoch = append(m.perEpoch, mean)
	m.batchValues = m.batchValues[:0]
	m.batchWeights = m.batchWeights[:0]
	return nil
}

// CarryForwardEpoch repeats the previous epoch's mean for an epoch
// where this metric was not computed. With no history yet the epoch is
// recorded as NaN, which plots and comparisons treat as missing.
func (m *BatchHistoryMonitor) CarryForwardEpoch() {
	if len(m.perEpoch) == 0 {
		m.perEpoch = append(m.perEpoch, math.NaN())
		return
	}
	m.perEpoch = append(m.perEpoch, m.perEpoch[len(m.perEpoch)-1])
}

// AveragePerEpoch returns a copy of the epoch means recorded so far.
func (m *BatchHistoryMonitor) AveragePerEpoch() []float64 {
	out := make([]float64, len(m.perEpoch))
	copy(out, m.perEpoch)
	return out
}

// LatestEpochAverage returns the most recent epoch mean, false when no
// epoch has ended yet.
func (m *BatchHistoryMonitor) LatestEpochAverage() (float64, bool) {
	if len(m.perEpoch) == 0 {
		return 0, false
	}
	return m.perEpoch[len(m.perEpoch)-1], true
}

// NumEpochs returns how many epochs have been recorded.
func (m *BatchHistoryMonitor) NumEpochs() int { return len(m.perEpoch) }

// State extracts the monitor for checkpointing.
func (m *BatchHistoryMonitor) State() MonitorState {
	return MonitorState{Name: m.name, AveragePerEpoch: m.AveragePerEpoch()}
}

// Restore loads checkpointed state back. A name mismatch or absent
// history where epochs were expected fails explicitly; history is
// never padded to paper over a mismatched checkpoint.
func (m *BatchHistoryMonitor) Restore(s MonitorState, expectEpochs int) error {
	if s.Name != m.name {
		return fmt.Errorf("monitor %s: state belongs to %q", m.name, s.Name)
	}
	if len(s.AveragePerEpoch) != expectEpochs {
		return fmt.Errorf("monitor %s: checkpoint holds %d epochs, trainer expects %d",
			m.name, len(s.AveragePerEpoch), expectEpochs)
	}
	m.perEpoch = append([]float64(nil), s.AveragePerEpoch...)
	m.batchValues = m.batchValues[:0]
	m.batchWeights = m.batchWeights[:0]
	return nil
}

// TimeMonitor records wall-clock epoch durations in seconds.
type TimeMonitor struct {
	start    time.Time
	running  bool
	perEpoch []float64
}

// NewTimeMonitor builds an idle time monitor.
func NewTimeMonitor() *TimeMonitor { return &TimeMonitor{} }

// StartEpoch marks the epoch start. Starting twice without ending is
// an error.
func (m *TimeMonitor) StartEpoch() error {
	if m.running {
		return fmt.Errorf("time monitor: epoch already running")
	}
	m.start = time.Now()
	m.running = true
	return nil
}

// EndEpoch records the elapsed time since StartEpoch.
func (m *TimeMonitor) EndEpoch() error {
	if !m.running {
		return fmt.Errorf("time monitor: no epoch running")
	}
	m.perEpoch = append(m.perEpoch, time.Since(m.start).Seconds())
	m.running = false
	return nil
}

// EpochDurations returns a copy of the recorded durations in seconds.
func (m *TimeMonitor) EpochDurations() []float64 {
	out := make([]float64, len(m.perEpoch))
	copy(out, m.perEpoch)
	return out
}
