// Package spatial bins segments and nodes into a uniform grid of cells laid
// over the periodic box so that neighbor queries only visit the 27 cells
// around a point.
package spatial

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

// ErrInvalidCutoff is returned for a non-positive or non-finite cutoff.
var ErrInvalidCutoff = errors.New("spatial: cutoff must be positive and finite")

// Key addresses one grid cell.
type Key [3]int

// Pair is an unordered pair of neighboring segments with A < B.
type Pair struct {
	A, B network.SegmentID
}

// Index is a uniform cell grid over a box. It holds segment and node ids
// only; positions are read from the network on Rebuild.
type Index struct {
	box    *cell.Box
	cutoff float64
	reach  float64
	dims   [3]int
	runner *parallel.Runner

	segments  []network.SegmentID
	segCell   map[network.SegmentID]Key
	cells     map[Key][]network.SegmentID
	nodeCells map[Key][]network.NodeID

	offsets [3][]int
}

// Option configures an Index
type Option func(*Index)

// WithRunner sets the kernel runner used by Rebuild and Pairs.
func WithRunner(r *parallel.Runner) Option {
	return func(ix *Index) {
		ix.runner = r
	}
}

// New creates an index whose cells are at least cutoff wide along every axis.
func New(box *cell.Box, cutoff float64, opts ...Option) (*Index, error) {
	if !(cutoff > 0) || math.IsInf(cutoff, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidCutoff, cutoff)
	}
	ix := &Index{
		box:       box,
		cutoff:    cutoff,
		runner:    parallel.Serial(),
		segCell:   make(map[network.SegmentID]Key),
		cells:     make(map[Key][]network.SegmentID),
		nodeCells: make(map[Key][]network.NodeID),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.resize(cutoff)
	return ix, nil
}

// resize lays out the grid for a reach: n = max(1, floor(width/reach)).
func (ix *Index) resize(reach float64) {
	ix.reach = reach
	w := ix.box.Widths()
	for i := 0; i < 3; i++ {
		ix.dims[i] = max(1, int(math.Floor(w[i]/reach)))
		ix.offsets[i] = axisOffsets(ix.dims[i])
	}
}

// axisOffsets lists the cell offsets visited along one axis. With fewer than
// three cells every cell is visited exactly once.
func axisOffsets(n int) []int {
	if n >= 3 {
		return []int{-1, 0, 1}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Dims returns the number of cells along each lattice direction.
func (ix *Index) Dims() [3]int {
	return ix.dims
}

// Cutoff returns the configured cutoff.
func (ix *Index) Cutoff() float64 {
	return ix.cutoff
}

// Reach returns the distance guaranteed to be covered by a neighbor query.
func (ix *Index) Reach() float64 {
	return ix.reach
}

// CellOf returns the cell holding position x.
func (ix *Index) CellOf(x r3.Vec) Key {
	s := geom.ToArray(ix.box.Fractional(ix.box.Wrap(x)))
	var k Key
	for i := 0; i < 3; i++ {
		c := int(math.Floor(s[i] * float64(ix.dims[i])))
		k[i] = geom.Clamp(c, 0, ix.dims[i]-1)
	}
	return k
}

// Rebuild bins every segment of net by its closest-image midpoint and every
// node by its position. Segments longer than the cell size would escape the
// 27-cell neighborhood, so the grid is coarsened until its cells cover the
// cutoff plus the longest segment.
func (ix *Index) Rebuild(net *network.Network) {
	segs := net.SegmentIDs()
	longest := ix.runner.Max(len(segs), func(i int) float64 {
		return net.SegmentLength(segs[i])
	})
	ix.resize(ix.cutoff + longest)

	keys := make([]Key, len(segs))
	ix.runner.ForEach(len(segs), func(i int) {
		x1, x2, _ := net.Endpoints(segs[i])
		keys[i] = ix.CellOf(geom.Midpoint(x1, x2))
	})

	ix.segments = segs
	ix.segCell = make(map[network.SegmentID]Key, len(segs))
	ix.cells = make(map[Key][]network.SegmentID)
	for i, sid := range segs {
		ix.segCell[sid] = keys[i]
		ix.cells[keys[i]] = append(ix.cells[keys[i]], sid)
	}

	ix.nodeCells = make(map[Key][]network.NodeID)
	for _, id := range net.NodeIDs() {
		p, _ := net.Position(id)
		k := ix.CellOf(p)
		ix.nodeCells[k] = append(ix.nodeCells[k], id)
	}
}

// Segments returns the binned segments in ascending order.
func (ix *Index) Segments() []network.SegmentID {
	return ix.segments
}

// neighborhood returns the distinct cells around k.
func (ix *Index) neighborhood(k Key) []Key {
	out := make([]Key, 0, 27)
	for _, dx := range ix.offsets[0] {
		for _, dy := range ix.offsets[1] {
			for _, dz := range ix.offsets[2] {
				c, ok := ix.shift(k, [3]int{dx, dy, dz})
				if ok {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func (ix *Index) shift(k Key, d [3]int) (Key, bool) {
	var c Key
	for i := 0; i < 3; i++ {
		if ix.dims[i] < 3 {
			// offsets already enumerate absolute cells on this axis
			c[i] = d[i]
			continue
		}
		v := k[i] + d[i]
		if v < 0 || v >= ix.dims[i] {
			if !ix.box.Periodic[i] {
				return c, false
			}
			v = (v + ix.dims[i]) % ix.dims[i]
		}
		c[i] = v
	}
	return c, true
}

// Neighbors returns every segment binned in the neighborhood of seg, sorted
// and without seg itself. The result is a superset of the segments within the
// cutoff of seg.
func (ix *Index) Neighbors(seg network.SegmentID) []network.SegmentID {
	k, ok := ix.segCell[seg]
	if !ok {
		return nil
	}
	var out []network.SegmentID
	for _, c := range ix.neighborhood(k) {
		for _, sid := range ix.cells[c] {
			if sid != seg {
				out = append(out, sid)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pairs returns every unordered neighbor pair exactly once, sorted by (A, B).
func (ix *Index) Pairs() []Pair {
	per := make([][]Pair, len(ix.segments))
	ix.runner.ForEach(len(ix.segments), func(i int) {
		a := ix.segments[i]
		for _, b := range ix.Neighbors(a) {
			if b > a {
				per[i] = append(per[i], Pair{A: a, B: b})
			}
		}
	})
	var out []Pair
	for _, p := range per {
		out = append(out, p...)
	}
	return out
}

// NodesNear returns the nodes binned in the neighborhood of x, ascending.
func (ix *Index) NodesNear(x r3.Vec) []network.NodeID {
	var out []network.NodeID
	for _, c := range ix.neighborhood(ix.CellOf(x)) {
		out = append(out, ix.nodeCells[c]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
