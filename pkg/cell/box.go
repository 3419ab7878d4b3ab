// Package cell implements the periodic simulation box: an origin plus three
// lattice vectors, with per-axis periodicity.
package cell

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// ErrSingularBox is returned when the lattice vectors do not span a volume.
var ErrSingularBox = errors.New("box lattice vectors are singular")

// Box is a parallelepiped simulation cell. H holds the lattice vectors as
// columns, so a fractional coordinate s maps to Origin + H·s.
type Box struct {
	Origin   r3.Vec
	H        geom.Tensor
	Periodic [3]bool

	inv    geom.Tensor
	volume float64
}

// NewBox builds a box from its origin and three lattice vectors.
func NewBox(origin, a, b, c r3.Vec, periodic [3]bool) (*Box, error) {
	var h geom.Tensor
	cols := []r3.Vec{a, b, c}
	for j, v := range cols {
		h[0][j], h[1][j], h[2][j] = v.X, v.Y, v.Z
	}
	return FromMatrix(origin, h, periodic)
}

// FromMatrix builds a box from a lattice matrix whose columns are the lattice
// vectors.
func FromMatrix(origin r3.Vec, h geom.Tensor, periodic [3]bool) (*Box, error) {
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, h[i][j])
		}
	}

	det := mat.Det(m)
	if math.Abs(det) < 1e-300 {
		return nil, ErrSingularBox
	}

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("invert box matrix: %w", err)
	}

	b := &Box{
		Origin:   origin,
		H:        h,
		Periodic: periodic,
		volume:   math.Abs(det),
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			b.inv[i][j] = inv.At(i, j)
		}
	}
	return b, nil
}

// Cubic returns a fully periodic cube of side l with its origin at zero.
func Cubic(l float64) *Box {
	b, err := NewBox(r3.Vec{}, r3.Vec{X: l}, r3.Vec{Y: l}, r3.Vec{Z: l}, [3]bool{true, true, true})
	if err != nil {
		panic(fmt.Sprintf("cubic box of side %g: %v", l, err))
	}
	return b
}

// Orthorhombic returns a fully periodic rectangular box with its origin at zero.
func Orthorhombic(lx, ly, lz float64) *Box {
	b, err := NewBox(r3.Vec{}, r3.Vec{X: lx}, r3.Vec{Y: ly}, r3.Vec{Z: lz}, [3]bool{true, true, true})
	if err != nil {
		panic(fmt.Sprintf("orthorhombic box %g x %g x %g: %v", lx, ly, lz, err))
	}
	return b
}

// Volume returns the box volume.
func (b *Box) Volume() float64 {
	return b.volume
}

// Vector returns lattice vector i.
func (b *Box) Vector(i int) r3.Vec {
	return r3.Vec{X: b.H[0][i], Y: b.H[1][i], Z: b.H[2][i]}
}

// Lengths returns the norms of the three lattice vectors.
func (b *Box) Lengths() [3]float64 {
	return [3]float64{r3.Norm(b.Vector(0)), r3.Norm(b.Vector(1)), r3.Norm(b.Vector(2))}
}

// Widths returns the perpendicular distance between opposite faces along each
// lattice direction, which bounds the cell size of a spatial grid.
func (b *Box) Widths() [3]float64 {
	var w [3]float64
	for i := 0; i < 3; i++ {
		j, k := (i+1)%3, (i+2)%3
		area := r3.Norm(r3.Cross(b.Vector(j), b.Vector(k)))
		w[i] = b.volume / area
	}
	return w
}

// MinWidth returns the smallest face-to-face width.
func (b *Box) MinWidth() float64 {
	w := b.Widths()
	return math.Min(w[0], math.Min(w[1], w[2]))
}

// Center returns the geometric center of the box.
func (b *Box) Center() r3.Vec {
	return b.Cartesian(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
}

// Fractional maps a Cartesian position to fractional coordinates.
func (b *Box) Fractional(x r3.Vec) r3.Vec {
	return b.inv.Apply(r3.Sub(x, b.Origin))
}

// Cartesian maps fractional coordinates to a Cartesian position.
func (b *Box) Cartesian(s r3.Vec) r3.Vec {
	return r3.Add(b.Origin, b.H.Apply(s))
}

// Wrap folds x back into the primary cell along periodic axes.
func (b *Box) Wrap(x r3.Vec) r3.Vec {
	s := geom.ToArray(b.Fractional(x))
	for i := 0; i < 3; i++ {
		if b.Periodic[i] {
			s[i] -= math.Floor(s[i])
			if s[i] >= 1 {
				s[i] = 0
			}
		}
	}
	return b.Cartesian(geom.FromArray(s))
}

// ClosestImage returns the periodic image of x nearest to ref in fractional
// metric (exact for orthorhombic boxes).
func (b *Box) ClosestImage(ref, x r3.Vec) r3.Vec {
	return r3.Add(ref, b.MinImage(r3.Sub(x, ref)))
}

// MinImage reduces a separation vector to its minimum image.
func (b *Box) MinImage(d r3.Vec) r3.Vec {
	s := geom.ToArray(b.inv.Apply(d))
	for i := 0; i < 3; i++ {
		if b.Periodic[i] {
			s[i] -= math.Round(s[i])
		}
	}
	return b.H.Apply(geom.FromArray(s))
}

// WaveVector returns the wave vector 2*pi*H^-T*m of the Fourier mode with
// integer indices m, so that exp(i k.x) has the box periodicity.
func (b *Box) WaveVector(m [3]int) r3.Vec {
	var k [3]float64
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			k[j] += float64(m[i]) * b.inv[i][j]
		}
		k[j] *= 2 * math.Pi
	}
	return geom.FromArray(k)
}

// Clone returns an independent copy.
func (b *Box) Clone() *Box {
	c := *b
	return &c
}
