package tracer

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"tubulargeodesics/internal/models"
)

// StartIndex answers nearest-start queries for proximity termination.
type StartIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewStartIndex indexes the given start points. The points are copied.
func NewStartIndex(starts []models.Point) *StartIndex {
	pts := make(kdtree.Points, len(starts))
	for i, p := range starts {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	idx := &StartIndex{n: len(pts)}
	if len(pts) > 0 {
		idx.tree = kdtree.New(pts, false)
	}
	return idx
}

// Len returns the number of indexed start points.
func (s *StartIndex) Len() int {
	return s.n
}

// Nearest returns the closest start point to p and its distance in index
// units. ok is false when the index is empty.
func (s *StartIndex) Nearest(p models.Point) (nearest models.Point, dist float64, ok bool) {
	if s == nil || s.tree == nil {
		return models.Point{}, 0, false
	}
	c, d2 := s.tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
	if c == nil {
		return models.Point{}, 0, false
	}
	q := c.(kdtree.Point)
	return models.Point{X: q[0], Y: q[1], Z: q[2]}, math.Sqrt(d2), true
}

// Within reports whether some start point lies within radius of p.
func (s *StartIndex) Within(p models.Point, radius float64) bool {
	_, d, ok := s.Nearest(p)
	return ok && d <= radius
}
