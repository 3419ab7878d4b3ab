package force

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

// symmetric component order used for the stress grid
var voigt = [6][2]int{{0, 0}, {1, 1}, {2, 2}, {1, 2}, {0, 2}, {0, 1}}

// FarField computes the long-range stress of the whole network on a regular
// grid in fractional coordinates. The dislocation density is deposited on
// the grid, the periodic eigenstrain problem of an isotropic medium is solved
// spectrally, and the result is smoothed with a Gaussian of width Filter so
// that the grid only carries the content beyond the near-field range. Every
// axis is treated as periodic.
type FarField struct {
	n      int
	m      Material
	filter float64
	runner *parallel.Runner

	box    *cell.Box
	stress []geom.Tensor
}

// NewFarField creates a far-field solver on an n^3 grid.
func NewFarField(n int, m Material, filter float64, runner *parallel.Runner) *FarField {
	if runner == nil {
		runner = parallel.Serial()
	}
	return &FarField{n: n, m: m, filter: filter, runner: runner}
}

// Grid returns the number of grid points per axis.
func (f *FarField) Grid() int {
	return f.n
}

func (f *FarField) index(i, j, k int) int {
	return (i*f.n+j)*f.n + k
}

func (f *FarField) wrapIndex(i int) int {
	i %= f.n
	if i < 0 {
		i += f.n
	}
	return i
}

// corners returns the eight cloud-in-cell neighbors and weights of x.
func (f *FarField) corners(x r3.Vec) (idx [8]int, w [8]float64) {
	u := geom.ToArray(r3.Scale(float64(f.n), f.box.Fractional(f.box.Wrap(x))))
	var base [3]int
	var frac [3]float64
	for a := 0; a < 3; a++ {
		fl := math.Floor(u[a])
		base[a] = int(fl)
		frac[a] = u[a] - fl
	}
	c := 0
	for di := 0; di < 2; di++ {
		for dj := 0; dj < 2; dj++ {
			for dk := 0; dk < 2; dk++ {
				wi := 1 - frac[0]
				if di == 1 {
					wi = frac[0]
				}
				wj := 1 - frac[1]
				if dj == 1 {
					wj = frac[1]
				}
				wk := 1 - frac[2]
				if dk == 1 {
					wk = frac[2]
				}
				idx[c] = f.index(f.wrapIndex(base[0]+di), f.wrapIndex(base[1]+dj), f.wrapIndex(base[2]+dk))
				w[c] = wi * wj * wk
				c++
			}
		}
	}
	return idx, w
}

// Update recomputes the grid stress for the current network.
func (f *FarField) Update(net *network.Network) {
	f.box = net.Box()
	size := f.n * f.n * f.n
	vcell := f.box.Volume() / float64(size)
	h := f.box.MinWidth() / float64(f.n)

	var alpha [9][]complex128
	for c := range alpha {
		alpha[c] = make([]complex128, size)
	}

	// deposition runs in segment id order so the grid is reproducible
	for _, sid := range net.SegmentIDs() {
		s, _ := net.Segment(sid)
		x1, x2, _ := net.Endpoints(sid)
		d := r3.Sub(x2, x1)
		pieces := max(1, int(math.Ceil(2*r3.Norm(d)/h)))
		dv := r3.Scale(1/float64(pieces), d)
		density := geom.Outer(s.Burgers, dv).Scale(1 / vcell)
		for p := 0; p < pieces; p++ {
			xm := r3.Add(x1, r3.Scale(float64(p)+0.5, dv))
			idx, w := f.corners(xm)
			for c := 0; c < 8; c++ {
				for i := 0; i < 3; i++ {
					for j := 0; j < 3; j++ {
						alpha[3*i+j][idx[c]] += complex(w[c]*density[i][j], 0)
					}
				}
			}
		}
	}

	for c := range alpha {
		f.fft3(alpha[c], false)
	}
	f.solve(alpha)
	for c := 0; c < 6; c++ {
		f.fft3(alpha[c], true)
	}

	norm := 1 / float64(size)
	f.stress = make([]geom.Tensor, size)
	for idx := range f.stress {
		var t geom.Tensor
		for c, ij := range voigt {
			v := real(alpha[c][idx]) * norm
			t[ij[0]][ij[1]], t[ij[1]][ij[0]] = v, v
		}
		f.stress[idx] = t
	}
}

// fft3 transforms data in place along the three grid axes. The inverse is
// not normalized.
func (f *FarField) fft3(data []complex128, inverse bool) {
	n := f.n
	for axis := 0; axis < 3; axis++ {
		f.runner.For(n*n, func(lo, hi int) {
			fft := fourier.NewCmplxFFT(n)
			line := make([]complex128, n)
			out := make([]complex128, n)
			for l := lo; l < hi; l++ {
				base, stride := f.line(axis, l)
				for i := 0; i < n; i++ {
					line[i] = data[base+i*stride]
				}
				if inverse {
					out = fft.Sequence(out, line)
				} else {
					out = fft.Coefficients(out, line)
				}
				for i := 0; i < n; i++ {
					data[base+i*stride] = out[i]
				}
			}
		})
	}
}

// line returns the start and stride of grid line l along axis.
func (f *FarField) line(axis, l int) (base, stride int) {
	n := f.n
	switch axis {
	case 2:
		return l * n, 1
	case 1:
		return (l/n)*n*n + l%n, n
	default:
		return l, n * n
	}
}

// mode maps a grid index to a signed Fourier index and reports whether it
// is the Nyquist frequency of an even grid.
func (f *FarField) mode(i int) (int, bool) {
	if 2*i == f.n {
		return i, true
	}
	if 2*i > f.n {
		return i - f.n, false
	}
	return i, false
}

// solve replaces the transformed density by the transformed stress in the
// first six (voigt) components.
func (f *FarField) solve(alpha [9][]complex128) {
	n := f.n
	mu := f.m.Mu
	lambda := f.m.Lame()
	c := (lambda + mu) / (lambda + 2*mu)
	rc2 := f.filter * f.filter

	f.runner.ForEach(n*n*n, func(idx int) {
		i, j, k := idx/(n*n), (idx/n)%n, idx%n
		mi, nyqI := f.mode(i)
		mj, nyqJ := f.mode(j)
		mk, nyqK := f.mode(k)

		var sigma [3][3]complex128
		defer func() {
			for comp, ab := range voigt {
				alpha[comp][idx] = sigma[ab[0]][ab[1]]
			}
		}()
		if nyqI || nyqJ || nyqK || (mi == 0 && mj == 0 && mk == 0) {
			return
		}

		kv := geom.ToArray(f.box.WaveVector([3]int{mi, mj, mk}))
		k2 := kv[0]*kv[0] + kv[1]*kv[1] + kv[2]*kv[2]
		weight := math.Exp(-0.5 * k2 * rc2)
		if weight < 1e-300 {
			return
		}

		var a [3][3]complex128
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				a[p][q] = alpha[3*p+q][idx]
			}
		}

		// plastic distortion beta_mi = -i eps_mnj k_n a_ij / k^2
		var beta [3][3]complex128
		for m := 0; m < 3; m++ {
			for ii := 0; ii < 3; ii++ {
				var s complex128
				for nn := 0; nn < 3; nn++ {
					for jj := 0; jj < 3; jj++ {
						e := geom.Levi(m, nn, jj)
						if e == 0 {
							continue
						}
						s += complex(e*kv[nn], 0) * a[ii][jj]
					}
				}
				beta[m][ii] = complex(0, -1/k2) * s
			}
		}

		// eigenstress tau = C : sym(beta)
		var tau [3][3]complex128
		var tr complex128
		for p := 0; p < 3; p++ {
			tr += beta[p][p]
		}
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				tau[p][q] = complex(mu, 0) * (beta[p][q] + beta[q][p])
			}
			tau[p][p] += complex(lambda, 0) * tr
		}

		// v = N tau k with N the isotropic acoustic tensor inverse
		var tk [3]complex128
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				tk[p] += tau[p][q] * complex(kv[q], 0)
			}
		}
		var kt complex128
		for p := 0; p < 3; p++ {
			kt += complex(kv[p], 0) * tk[p]
		}
		var v [3]complex128
		for p := 0; p < 3; p++ {
			v[p] = (tk[p] - complex(c*kv[p]/k2, 0)*kt) / complex(mu*k2, 0)
		}

		var eps [3][3]complex128
		var etr complex128
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				eps[p][q] = 0.5 * (complex(kv[q], 0)*v[p] + complex(kv[p], 0)*v[q])
			}
			etr += eps[p][p]
		}
		w := complex(weight, 0)
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				s := complex(2*mu, 0)*eps[p][q] - tau[p][q]
				if p == q {
					s += complex(lambda, 0) * etr
				}
				sigma[p][q] = w * s
			}
		}
	})
}

// Stress samples the grid stress at x by trilinear interpolation. It returns
// zero before the first Update.
func (f *FarField) Stress(x r3.Vec) geom.Tensor {
	var s geom.Tensor
	if f.stress == nil {
		return s
	}
	idx, w := f.corners(x)
	for c := 0; c < 8; c++ {
		s = s.Add(f.stress[idx[c]].Scale(w[c]))
	}
	return s
}
