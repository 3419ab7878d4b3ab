package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Tensor is a 3x3 second-order tensor stored row major. It is a value type so
// per-node stress samples stay off the heap in hot kernels.
type Tensor [3][3]float64

// Identity returns the identity tensor.
func Identity() Tensor {
	return Tensor{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Outer returns a (x) b, i.e. T_ij = a_i b_j.
func Outer(a, b r3.Vec) Tensor {
	av, bv := ToArray(a), ToArray(b)
	var t Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = av[i] * bv[j]
		}
	}
	return t
}

// Apply returns T·v.
func (t Tensor) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0][0]*v.X + t[0][1]*v.Y + t[0][2]*v.Z,
		Y: t[1][0]*v.X + t[1][1]*v.Y + t[1][2]*v.Z,
		Z: t[2][0]*v.X + t[2][1]*v.Y + t[2][2]*v.Z,
	}
}

// Add returns t + o.
func (t Tensor) Add(o Tensor) Tensor {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] += o[i][j]
		}
	}
	return t
}

// Scale returns s*t.
func (t Tensor) Scale(s float64) Tensor {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] *= s
		}
	}
	return t
}

// Transpose returns the transpose of t.
func (t Tensor) Transpose() Tensor {
	var o Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			o[i][j] = t[j][i]
		}
	}
	return o
}

// Sym returns the symmetric part of t.
func (t Tensor) Sym() Tensor {
	return t.Add(t.Transpose()).Scale(0.5)
}

// Skew returns the antisymmetric part of t.
func (t Tensor) Skew() Tensor {
	return t.Add(t.Transpose().Scale(-1)).Scale(0.5)
}

// Trace returns the sum of the diagonal.
func (t Tensor) Trace() float64 {
	return t[0][0] + t[1][1] + t[2][2]
}

// Norm returns the Frobenius norm.
func (t Tensor) Norm() float64 {
	var s float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s += t[i][j] * t[i][j]
		}
	}
	return math.Sqrt(s)
}

// MaxAbsDiff returns the largest component-wise absolute difference.
func (t Tensor) MaxAbsDiff(o Tensor) float64 {
	var m float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m = math.Max(m, math.Abs(t[i][j]-o[i][j]))
		}
	}
	return m
}

// Levi returns the Levi-Civita symbol e_ijk.
func Levi(i, j, k int) float64 {
	switch {
	case i == j || j == k || i == k:
		return 0
	case (i == 0 && j == 1 && k == 2) || (i == 1 && j == 2 && k == 0) || (i == 2 && j == 0 && k == 1):
		return 1
	default:
		return -1
	}
}
