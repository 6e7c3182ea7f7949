package tracking

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// NextDirectionsFunc queries the model for one candidate direction per
// active line. It receives the active lines' full point histories (the
// model recomputes its state from the whole prefix each step) and must
// return exactly one direction per line, in the same order.
type NextDirectionsFunc func(lines []Streamline) ([]r3.Vec, error)

// RemovalFunc lets the caller keep per-line bookkeeping in sync with
// the engine's compaction: surviving holds the indices (relative to the
// previous active set) of the lines that remain active after this step.
type RemovalFunc func(surviving []int)

// Params configures a propagation run.
type Params struct {
	// StepSize is the distance advanced along each predicted direction.
	StepSize float64
	// Theta is the cone half-angle (radians): a direction deviating
	// more than Theta from the line's previous direction terminates
	// the line. A value >= pi disables the check.
	Theta float64
	// MaxPoints caps the number of points per line.
	MaxPoints int
	// Mask, when non-nil, terminates lines that step outside it.
	Mask *Mask
	// NormalizeDirections scales predicted directions to unit length
	// before the angle check and the step.
	NormalizeDirections bool
	// VerifyOppositeDirection flips a predicted direction pointing more
	// than 90 degrees away from the previous one, instead of letting
	// the angle check terminate the line.
	VerifyOppositeDirection bool
	// AppendExitPoint keeps the point that stepped outside the mask on
	// the finished line. When false the exiting point is dropped.
	AppendExitPoint bool
	// Logger, when non-nil, receives per-run debug output.
	Logger *log.Logger
}

// Validate checks the parameters eagerly; a run never starts with an
// invalid configuration.
func (p Params) Validate() error {
	if p.StepSize <= 0 {
		return fmt.Errorf("step size must be positive, got %v", p.StepSize)
	}
	if p.Theta <= 0 {
		return fmt.Errorf("theta must be positive, got %v", p.Theta)
	}
	if p.MaxPoints < 2 {
		return fmt.Errorf("max points must be at least 2, got %d", p.MaxPoints)
	}
	return nil
}

// PropagateMultipleLines extends all seed lines in lock-step until each
// terminates by angle, mask exit or the point cap. One batched
// getNext call is made per step across all still-active lines; lines
// are compacted out of the active set as they finish, with onRemoval
// notified so caller-side bookkeeping keeps index correspondence.
//
// The returned slice has one streamline per input seed, in input order,
// whatever order the lines terminated in. Seeds must have at least one
// point each; seeds already at or past MaxPoints are returned as-is.
func PropagateMultipleLines(seeds []Streamline, getNext NextDirectionsFunc, onRemoval RemovalFunc, p Params) ([]Streamline, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if getNext == nil {
		return nil, fmt.Errorf("next-directions hook must not be nil")
	}
	for i, s := range seeds {
		if len(s) == 0 {
			return nil, fmt.Errorf("seed line %d is empty", i)
		}
	}

	out := make([]Streamline, len(seeds))
	active := make([]int, 0, len(seeds)) // positions into out
	for i, s := range seeds {
		out[i] = s.Clone()
		if len(s) < p.MaxPoints {
			active = append(active, i)
		}
	}

	cosThreshold := math.Cos(p.Theta)
	angleCheckEnabled := p.Theta < math.Pi

	for step := 0; len(active) > 0; step++ {
		lines := make([]Streamline, len(active))
		for i, idx := range active {
			lines[i] = out[idx]
		}

		dirs, err := getNext(lines)
		if err != nil {
			return nil, fmt.Errorf("step %d: next directions: %w", step, err)
		}
		if len(dirs) != len(active) {
			return nil, fmt.Errorf("step %d: got %d directions for %d active lines", step, len(dirs), len(active))
		}

		surviving := active[:0:len(active)]
		survivingLocal := make([]int, 0, len(active))
		for i, idx := range active {
			dir := dirs[i]
			if p.NormalizeDirections {
				norm := r3.Norm(dir)
				if norm == 0 {
					// A zero direction cannot advance the line.
					continue
				}
				dir = r3.Scale(1/norm, dir)
			}

			if prev, ok := out[idx].LastDirection(); ok {
				cos := cosineBetween(dir, prev)
				if p.VerifyOppositeDirection && cos < 0 {
					dir = r3.Scale(-1, dir)
					cos = -cos
				}
				if angleCheckEnabled && cos < cosThreshold {
					// Terminated by turning angle; the offending point
					// is never appended.
					continue
				}
			}

			next := r3.Add(out[idx].LastPoint(), r3.Scale(p.StepSize, dir))
			if p.Mask != nil && !p.Mask.Contains(next) {
				if p.AppendExitPoint {
					out[idx] = append(out[idx], next)
				}
				continue
			}

			out[idx] = append(out[idx], next)
			if len(out[idx]) >= p.MaxPoints {
				continue
			}
			surviving = append(surviving, idx)
			survivingLocal = append(survivingLocal, i)
		}

		if len(surviving) < len(active) {
			if onRemoval != nil {
				onRemoval(survivingLocal)
			}
			if p.Logger != nil {
				p.Logger.Printf("propagation step %d: %d of %d lines still active", step, len(surviving), len(active))
			}
		}
		active = surviving
	}

	return out, nil
}

// cosineBetween returns the cosine of the angle between two vectors,
// zero when either is degenerate.
func cosineBetween(a, b r3.Vec) float64 {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return r3.Dot(a, b) / (na * nb)
}
