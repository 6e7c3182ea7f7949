// Package sphere provides a fixed discretization of the unit sphere used
// as the class set for sphere-classification direction getters, plus
// nearest-vertex lookup by cosine similarity.
package sphere

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultNumVertices matches the 724-point symmetric sphere used as the
// default classification class set.
const DefaultNumVertices = 724

// Sphere is an immutable set of unit vertices. It is safe to share
// across goroutines once constructed.
type Sphere struct {
	vertices *mat.Dense // [N x 3], rows are unit vectors
	n        int
}

// New builds a deterministic discretization with n vertices distributed
// by the golden-spiral construction. The same n always yields the same
// vertex set.
func New(n int) (*Sphere, error) {
	if n < 2 {
		return nil, fmt.Errorf("sphere needs at least 2 vertices, got %d", n)
	}

	vertices := mat.NewDense(n, 3, nil)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := golden * float64(i)
		vertices.Set(i, 0, r*math.Cos(phi))
		vertices.Set(i, 1, r*math.Sin(phi))
		vertices.Set(i, 2, z)
	}
	return &Sphere{vertices: vertices, n: n}, nil
}

// Default returns the standard 724-vertex sphere.
func Default() *Sphere {
	s, err := New(DefaultNumVertices)
	if err != nil {
		panic(err) // unreachable: DefaultNumVertices is valid
	}
	return s
}

// NumVertices returns the number of discretized directions.
func (s *Sphere) NumVertices() int { return s.n }

// Vertex returns vertex i as a vector.
func (s *Sphere) Vertex(i int) r3.Vec {
	return r3.Vec{X: s.vertices.At(i, 0), Y: s.vertices.At(i, 1), Z: s.vertices.At(i, 2)}
}

// Vertices returns the [N x 3] vertex table. The caller must not modify it.
func (s *Sphere) Vertices() *mat.Dense { return s.vertices }

// ClosestVertex returns the index of the vertex with maximal cosine
// similarity to dir, along with that similarity. Ties are broken by the
// first maximal index. A zero direction is rejected.
func (s *Sphere) ClosestVertex(dir r3.Vec) (int, float64, error) {
	norm := r3.Norm(dir)
	if norm == 0 {
		return 0, 0, fmt.Errorf("cannot find closest vertex to a zero direction")
	}
	unit := r3.Scale(1/norm, dir)

	best := -1
	bestSim := math.Inf(-1)
	for i := 0; i < s.n; i++ {
		sim := unit.X*s.vertices.At(i, 0) + unit.Y*s.vertices.At(i, 1) + unit.Z*s.vertices.At(i, 2)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	return best, bestSim, nil
}

// ClosestVertices maps each row of dirs ([B x 3]) to its closest vertex
// index via a single similarity matmul, with the same stable-argmax
// tie-break as ClosestVertex.
func (s *Sphere) ClosestVertices(dirs *mat.Dense) ([]int, error) {
	b, d := dirs.Dims()
	if d != 3 {
		return nil, fmt.Errorf("directions must be [B x 3], got [%d x %d]", b, d)
	}

	var sims mat.Dense
	sims.Mul(dirs, s.vertices.T())

	indices := make([]int, b)
	for i := 0; i < b; i++ {
		best := 0
		bestSim := sims.At(i, 0)
		for j := 1; j < s.n; j++ {
			if sims.At(i, j) > bestSim {
				bestSim = sims.At(i, j)
				best = j
			}
		}
		indices[i] = best
	}
	return indices, nil
}
