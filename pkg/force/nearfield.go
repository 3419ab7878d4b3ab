package force

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// Kernel evaluates the non-singular isotropic stress of straight segments
// and the Peach-Koehler forces they exert on each other.
type Kernel struct {
	m         Material
	q         geom.Quadrature
	maxPieces int
}

// NewKernel creates a kernel integrating with n Gauss-Legendre points per
// segment piece and subdividing segments into at most maxPieces pieces.
func NewKernel(m Material, n, maxPieces int) *Kernel {
	return &Kernel{
		m:         m,
		q:         geom.GaussLegendre(n),
		maxPieces: max(1, maxPieces),
	}
}

// integrand returns the stress contribution of the source element dx located
// at separation r = x - x' from the field point.
func (k *Kernel) integrand(r, b, dx r3.Vec) geom.Tensor {
	a2 := k.m.CoreRadius * k.m.CoreRadius
	ra2 := r3.Dot(r, r) + a2
	ra := math.Sqrt(ra2)
	inv3 := 1 / (ra * ra2)
	inv5 := inv3 / ra2

	// lap is the Laplacian of grad R_a
	lap := r3.Scale(-2*inv3-3*a2*inv5, r)
	bl := geom.ToArray(r3.Cross(b, lap))
	g := r3.Cross(b, dx)
	gr, gl := r3.Dot(g, r), r3.Dot(g, lap)

	c1 := -k.m.Mu / (8 * math.Pi)
	c2 := k.m.Mu / (4 * math.Pi * (1 - k.m.Nu))

	ra3, dv, gv := geom.ToArray(r), geom.ToArray(dx), geom.ToArray(g)
	var s geom.Tensor
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			v := c1 * (bl[i]*dv[j] + bl[j]*dv[i])
			t := -(gv[i]*ra3[j]+gv[j]*ra3[i])*inv3 + 3*gr*ra3[i]*ra3[j]*inv5
			if i == j {
				t -= gr*inv3 + gl
			}
			v += c2 * t
			s[i][j], s[j][i] = v, v
		}
	}
	return s
}

// pieces chooses how finely to cut a segment of the given length when the
// other segment is dist away.
func (k *Kernel) pieces(length, dist float64) int {
	ref := math.Max(dist, k.m.CoreRadius)
	n := int(math.Ceil(length / ref))
	return geom.Clamp(n, 1, k.maxPieces)
}

// SegmentStress returns the stress at p of the segment x1->x2 carrying b,
// integrated over the given number of pieces.
func (k *Kernel) SegmentStress(x1, x2, b, p r3.Vec, pieces int) geom.Tensor {
	pieces = max(1, pieces)
	d := r3.Sub(x2, x1)
	var s geom.Tensor
	for piece := 0; piece < pieces; piece++ {
		for i, u := range k.q.Points {
			t := (float64(piece) + u) / float64(pieces)
			w := k.q.Weights[i] / float64(pieces)
			xs := r3.Add(x1, r3.Scale(t, d))
			s = s.Add(k.integrand(r3.Sub(p, xs), b, r3.Scale(w, d)))
		}
	}
	return s
}

// forceOn integrates the Peach-Koehler force of the source stress along the
// target segment and splits it between the target ends with linear shape
// functions.
func (k *Kernel) forceOn(t1, t2, bt, s1, s2, bs r3.Vec, dist float64) (f1, f2 r3.Vec) {
	dt := r3.Sub(t2, t1)
	nt := k.pieces(r3.Norm(dt), dist)
	ns := k.pieces(r3.Norm(r3.Sub(s2, s1)), dist)
	for piece := 0; piece < nt; piece++ {
		for i, u := range k.q.Points {
			s := (float64(piece) + u) / float64(nt)
			w := k.q.Weights[i] / float64(nt)
			x := r3.Add(t1, r3.Scale(s, dt))
			sigma := k.SegmentStress(s1, s2, bs, x, ns)
			fl := r3.Cross(sigma.Apply(bt), dt)
			f1 = r3.Add(f1, r3.Scale(w*(1-s), fl))
			f2 = r3.Add(f2, r3.Scale(w*s, fl))
		}
	}
	return f1, f2
}

// PairForce returns the interaction forces between segment A (a1->a2, ba)
// and segment B (b1->b2, bb), both given in the same periodic image: fa1 and
// fa2 act on the ends of A due to the stress of B, fb1 and fb2 on the ends of
// B due to the stress of A.
func (k *Kernel) PairForce(a1, a2, ba, b1, b2, bb r3.Vec) (fa1, fa2, fb1, fb2 r3.Vec) {
	_, _, d2 := geom.ClosestPoints(a1, a2, b1, b2)
	dist := math.Sqrt(d2)
	fa1, fa2 = k.forceOn(a1, a2, ba, b1, b2, bb, dist)
	fb1, fb2 = k.forceOn(b1, b2, bb, a1, a2, ba, dist)
	return fa1, fa2, fb1, fb2
}

// PeachKoehler returns (sigma.b) x xi.
func PeachKoehler(sigma geom.Tensor, b, xi r3.Vec) r3.Vec {
	return r3.Cross(sigma.Apply(b), xi)
}
