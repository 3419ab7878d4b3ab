package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestGaussLegendreIntegratesPolynomials(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 12} {
		q := GaussLegendre(n)
		require.Len(t, q.Points, n)
		assert.InDelta(t, 1.0, floats.Sum(q.Weights), 1e-13, "n=%d", n)

		// exact up to degree 2n-1
		for deg := 0; deg <= 2*n-1; deg++ {
			var got float64
			for i, x := range q.Points {
				got += q.Weights[i] * math.Pow(x, float64(deg))
			}
			assert.InDelta(t, 1/float64(deg+1), got, 1e-12, "n=%d deg=%d", n, deg)
		}
	}
}

func TestGaussLegendrePointsInsideUnitInterval(t *testing.T) {
	q := GaussLegendre(9)
	for i := 1; i < len(q.Points); i++ {
		assert.Greater(t, q.Points[i], q.Points[i-1])
	}
	assert.Greater(t, q.Points[0], 0.0)
	assert.Less(t, q.Points[len(q.Points)-1], 1.0)
}

func TestGaussLegendreTwoPointNodes(t *testing.T) {
	q := GaussLegendre(2)
	d := 0.5 / math.Sqrt(3)
	assert.InDelta(t, 0.5-d, q.Points[0], 1e-14)
	assert.InDelta(t, 0.5+d, q.Points[1], 1e-14)
	assert.InDelta(t, 0.5, q.Weights[0], 1e-14)
	assert.InDelta(t, 0.5, q.Weights[1], 1e-14)

	// cached rules are shared
	assert.Same(t, &q.Points[0], &GaussLegendre(2).Points[0])
	assert.Len(t, GaussLegendre(0).Points, 1)
}

func TestClosestPoints(t *testing.T) {
	tests := []struct {
		name   string
		p1, p2 r3.Vec
		q1, q2 r3.Vec
		s, tt  float64
		dist   float64
	}{
		{
			name: "crossing",
			p1:   r3.Vec{X: -1}, p2: r3.Vec{X: 1},
			q1: r3.Vec{Y: -1, Z: 2}, q2: r3.Vec{Y: 1, Z: 2},
			s: 0.5, tt: 0.5, dist: 2,
		},
		{
			name: "endpoint to interior",
			p1:   r3.Vec{X: 0}, p2: r3.Vec{X: 1},
			q1: r3.Vec{X: 2, Y: -1}, q2: r3.Vec{X: 2, Y: 1},
			s: 1, tt: 0.5, dist: 1,
		},
		{
			name: "parallel overlap",
			p1:   r3.Vec{X: 0}, p2: r3.Vec{X: 2},
			q1: r3.Vec{X: 1, Y: 1}, q2: r3.Vec{X: 3, Y: 1},
			s: 0.75, tt: 0.25, dist: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, u, d2 := ClosestPoints(tt.p1, tt.p2, tt.q1, tt.q2)
			assert.InDelta(t, tt.s, s, 1e-12)
			assert.InDelta(t, tt.tt, u, 1e-12)
			assert.InDelta(t, tt.dist, math.Sqrt(d2), 1e-12)
		})
	}
}

func TestClosestPointsSymmetric(t *testing.T) {
	p1, p2 := r3.Vec{X: 0.1, Y: 0.3}, r3.Vec{X: 2, Y: -0.4, Z: 1}
	q1, q2 := r3.Vec{X: 1, Y: 1, Z: -1}, r3.Vec{X: 0.5, Y: -2, Z: 0.7}

	s1, t1, d1 := ClosestPoints(p1, p2, q1, q2)
	s2, t2, d2 := ClosestPoints(q1, q2, p1, p2)
	assert.InDelta(t, d1, d2, 1e-12)
	assert.InDelta(t, s1, t2, 1e-9)
	assert.InDelta(t, t1, s2, 1e-9)
}

func TestTensorParts(t *testing.T) {
	a := r3.Vec{X: 1, Y: 2, Z: 3}
	b := r3.Vec{X: -1, Y: 0.5, Z: 2}
	o := Outer(a, b)

	assert.InDelta(t, r3.Dot(a, b), o.Trace(), 1e-12)
	assert.InDelta(t, 0, o.Sym().Add(o.Skew()).MaxAbsDiff(o), 1e-12)
	assert.Equal(t, o.Sym(), o.Sym().Transpose())

	v := r3.Vec{X: 0.3, Y: -1, Z: 4}
	got := o.Apply(v)
	want := r3.Scale(r3.Dot(b, v), a)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(got, want)), 1e-12)
}

func TestSafeUnitAndProjectOut(t *testing.T) {
	assert.Equal(t, Zero, SafeUnit(r3.Vec{X: 1e-14}))

	n := r3.Vec{Z: 1}
	v := ProjectOut(r3.Vec{X: 1, Y: 2, Z: 3}, n)
	assert.Equal(t, r3.Vec{X: 1, Y: 2}, v)

	assert.True(t, Parallel(r3.Vec{X: 1}, r3.Vec{X: -3}, 1e-9))
	assert.False(t, Parallel(r3.Vec{X: 1}, r3.Vec{Y: 1}, 1e-9))
	assert.Equal(t, 0.0, Levi(0, 0, 1))
	assert.Equal(t, 1.0, Levi(2, 0, 1))
	assert.Equal(t, -1.0, Levi(0, 2, 1))
}
