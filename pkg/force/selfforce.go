package force

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// SelfForce returns the closed-form non-singular self force of the straight
// segment x1->x2 with Burgers vector b, including the core energy line
// tension. f1 acts on x1 and f2 on x2; they sum to zero.
func (m Material) SelfForce(x1, x2, b r3.Vec) (f1, f2 r3.Vec) {
	d := r3.Sub(x2, x1)
	l := r3.Norm(d)
	if l < geom.Tiny {
		return geom.Zero, geom.Zero
	}
	t := r3.Scale(1/l, d)
	a := m.CoreRadius
	nu := m.Nu
	omninv := 1 / (1 - nu)

	bs := r3.Dot(b, t)
	be := r3.Sub(b, r3.Scale(bs, t))
	be2 := r3.Dot(be, be)

	la := math.Sqrt(l*l + a*a)
	s := (-(2*nu*la+(1-nu)*a*a/la-(1+nu)*a)/l +
		(nu*math.Log((la+l)/a) - (1-nu)*0.5*l/la)) *
		m.Mu / (4 * math.Pi) * omninv * bs

	ecore := m.Ecore()
	score := 2 * nu * ecore * omninv * bs
	ltcore := (bs*bs + be2*omninv) * ecore

	f2 = r3.Sub(r3.Scale(s+score, be), r3.Scale(ltcore, t))
	return r3.Scale(-1, f2), f2
}
