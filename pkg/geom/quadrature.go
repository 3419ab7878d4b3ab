package geom

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/integrate/quad"
)

// Quadrature is a set of Gauss-Legendre points and weights mapped to [0, 1].
type Quadrature struct {
	Points  []float64
	Weights []float64
}

var (
	quadMu    sync.Mutex
	quadCache = make(map[int]Quadrature)
)

// GaussLegendre returns the n-point rule on [0, 1] with ascending points.
// Rules are computed once and shared; callers must not modify the returned
// slices.
func GaussLegendre(n int) Quadrature {
	if n < 1 {
		n = 1
	}

	quadMu.Lock()
	defer quadMu.Unlock()

	if q, ok := quadCache[n]; ok {
		return q
	}

	q := Quadrature{
		Points:  make([]float64, n),
		Weights: make([]float64, n),
	}
	quad.Legendre{}.FixedLocations(q.Points, q.Weights, 0, 1)
	sort.Sort(byPoint(q))

	quadCache[n] = q
	return q
}

type byPoint Quadrature

func (b byPoint) Len() int           { return len(b.Points) }
func (b byPoint) Less(i, j int) bool { return b.Points[i] < b.Points[j] }
func (b byPoint) Swap(i, j int) {
	b.Points[i], b.Points[j] = b.Points[j], b.Points[i]
	b.Weights[i], b.Weights[j] = b.Weights[j], b.Weights[i]
}
