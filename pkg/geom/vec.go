// Package geom provides the small vector, tensor and quadrature toolkit shared by
// the network, force and topology packages. Vectors are gonum r3.Vec values.
package geom

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tiny is the norm below which a vector is treated as having no direction.
const Tiny = 1e-12

// Zero is the zero vector.
var Zero = r3.Vec{}

// IsZero reports whether every component of v is within tol of zero.
func IsZero(v r3.Vec, tol float64) bool {
	return math.Abs(v.X) <= tol && math.Abs(v.Y) <= tol && math.Abs(v.Z) <= tol
}

// Finite reports whether all components of v are finite numbers.
func Finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// SafeUnit returns v normalized, or the zero vector when |v| < Tiny.
func SafeUnit(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n < Tiny {
		return Zero
	}
	return r3.Scale(1/n, v)
}

// Lerp returns a + s*(b-a).
func Lerp(a, b r3.Vec, s float64) r3.Vec {
	return r3.Add(a, r3.Scale(s, r3.Sub(b, a)))
}

// Midpoint returns the midpoint of a and b.
func Midpoint(a, b r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Add(a, b))
}

// ProjectOut removes from v its component along the unit vector n.
func ProjectOut(v, n r3.Vec) r3.Vec {
	return r3.Sub(v, r3.Scale(r3.Dot(v, n), n))
}

// Parallel reports whether a and b are parallel (or antiparallel) within the
// angular tolerance tol, expressed as |sin(angle)|.
func Parallel(a, b r3.Vec, tol float64) bool {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na < Tiny || nb < Tiny {
		return false
	}
	return r3.Norm(r3.Cross(a, b)) <= tol*na*nb
}

// Component returns v[i] for i in 0..2.
func Component(v r3.Vec, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// FromArray builds a vector from a [3]float64.
func FromArray(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

// ToArray returns the components of v.
func ToArray(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
