package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ClosestPoints returns the parameters s, t in [0, 1] of the closest points
// p1 + s(p2-p1) and q1 + t(q2-q1) of two segments, and their squared distance.
// For parallel overlapping segments the middle of the overlap is chosen so the
// result does not depend on which endpoint is listed first.
func ClosestPoints(p1, p2, q1, q2 r3.Vec) (s, t, dist2 float64) {
	const eps = 1e-20

	d1 := r3.Sub(p2, p1)
	d2 := r3.Sub(q2, q1)
	r := r3.Sub(p1, q1)
	a := r3.Dot(d1, d1)
	e := r3.Dot(d2, d2)
	f := r3.Dot(d2, r)

	switch {
	case a <= eps && e <= eps:
		s, t = 0, 0
	case a <= eps:
		s = 0
		t = Clamp(f/e, 0, 1)
	default:
		c := r3.Dot(d1, r)
		if e <= eps {
			t = 0
			s = Clamp(-c/a, 0, 1)
			break
		}
		b := r3.Dot(d1, d2)
		denom := a*e - b*b
		if denom <= 1e-12*a*e {
			// parallel: middle of the projected overlap
			sq1 := -c / a
			sq2 := (b - c) / a
			lo := Clamp(math.Min(sq1, sq2), 0, 1)
			hi := Clamp(math.Max(sq1, sq2), 0, 1)
			s = 0.5 * (lo + hi)
			t = Clamp((b*s+f)/e, 0, 1)
			s = Clamp((b*t-c)/a, 0, 1)
			break
		}
		s = Clamp((b*f-c*e)/denom, 0, 1)
		t = (b*s + f) / e
		if t < 0 {
			t = 0
			s = Clamp(-c/a, 0, 1)
		} else if t > 1 {
			t = 1
			s = Clamp((b-c)/a, 0, 1)
		}
	}

	cp := Lerp(p1, p2, s)
	cq := Lerp(q1, q2, t)
	return s, t, r3.Norm2(r3.Sub(cp, cq))
}

// PointSegmentDistance returns the distance from x to the segment p1-p2 and the
// parameter of the closest point.
func PointSegmentDistance(x, p1, p2 r3.Vec) (dist, s float64) {
	d := r3.Sub(p2, p1)
	l2 := r3.Norm2(d)
	if l2 < Tiny*Tiny {
		return r3.Norm(r3.Sub(x, p1)), 0
	}
	s = Clamp(r3.Dot(r3.Sub(x, p1), d)/l2, 0, 1)
	return r3.Norm(r3.Sub(x, Lerp(p1, p2, s))), s
}
