// Package tracking implements streamline propagation: the tracking mask
// and the engine that advances many streamlines in lock-step under
// angle, mask and length constraints.
package tracking

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Streamline is an ordered sequence of 3D points in voxel space (corner
// convention). Points are appended during propagation; a finalized
// streamline is read-only.
type Streamline []r3.Vec

// LastPoint returns the streamline's final point.
func (s Streamline) LastPoint() r3.Vec { return s[len(s)-1] }

// LastDirection returns the finite difference of the last two points,
// or false when the streamline has fewer than two points.
func (s Streamline) LastDirection() (r3.Vec, bool) {
	if len(s) < 2 {
		return r3.Vec{}, false
	}
	return r3.Sub(s[len(s)-1], s[len(s)-2]), true
}

// Clone returns an independent copy.
func (s Streamline) Clone() Streamline {
	c := make(Streamline, len(s))
	copy(c, s)
	return c
}

// Mask is a binary volume delimiting where propagation may continue.
// Lookup uses the corner convention: a point belongs to the voxel whose
// index is the floor of its coordinates. Points outside the volume
// bounds are outside the mask.
type Mask struct {
	data             []bool
	dimX, dimY, dimZ int
}

// NewMask creates an all-false mask with the given dimensions.
func NewMask(dimX, dimY, dimZ int) (*Mask, error) {
	if dimX < 1 || dimY < 1 || dimZ < 1 {
		return nil, fmt.Errorf("mask dimensions must be positive, got [%d %d %d]", dimX, dimY, dimZ)
	}
	return &Mask{
		data: make([]bool, dimX*dimY*dimZ),
		dimX: dimX, dimY: dimY, dimZ: dimZ,
	}, nil
}

// NewFullMask creates a mask covering the whole volume.
func NewFullMask(dimX, dimY, dimZ int) (*Mask, error) {
	m, err := NewMask(dimX, dimY, dimZ)
	if err != nil {
		return nil, err
	}
	for i := range m.data {
		m.data[i] = true
	}
	return m, nil
}

// Dims returns the mask dimensions.
func (m *Mask) Dims() (int, int, int) { return m.dimX, m.dimY, m.dimZ }

// Set marks voxel (x, y, z) as inside (true) or outside (false).
func (m *Mask) Set(x, y, z int, inside bool) error {
	if x < 0 || x >= m.dimX || y < 0 || y >= m.dimY || z < 0 || z >= m.dimZ {
		return fmt.Errorf("voxel [%d %d %d] outside mask dimensions [%d %d %d]", x, y, z, m.dimX, m.dimY, m.dimZ)
	}
	m.data[(x*m.dimY+y)*m.dimZ+z] = inside
	return nil
}

// Contains reports whether the point falls inside the mask.
func (m *Mask) Contains(p r3.Vec) bool {
	x, y, z := int(p.X), int(p.Y), int(p.Z)
	if p.X < 0 || p.Y < 0 || p.Z < 0 || x >= m.dimX || y >= m.dimY || z >= m.dimZ {
		return false
	}
	return m.data[(x*m.dimY+y)*m.dimZ+z]
}
