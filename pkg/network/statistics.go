package network

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// Statistics summarizes the network in its current state.
type Statistics struct {
	NumNodes    int
	NumSegments int
	// LineLength is the sum of closest-image segment lengths.
	LineLength float64
	MinSegment float64
	MaxSegment float64
	Volume     float64
	// Charge is the dislocation charge (Nye) tensor sum_s b_s (x) (x2-x1).
	Charge geom.Tensor
	// ArmHistogram maps an arm count to the number of nodes with that many arms.
	ArmHistogram map[int]int
	// Pinned and Surface count constrained nodes.
	Pinned  int
	Surface int
}

// Density returns the dislocation density L/(V b^2) for a Burgers magnitude
// bmag, with lengths already expressed in the box units.
func (s Statistics) Density(bmag float64) float64 {
	if s.Volume == 0 || bmag == 0 {
		return 0
	}
	return s.LineLength / s.Volume / (bmag * bmag)
}

// MeanSegment returns the average segment length.
func (s Statistics) MeanSegment() float64 {
	if s.NumSegments == 0 {
		return 0
	}
	return s.LineLength / float64(s.NumSegments)
}

// Stats computes network statistics. Segments are visited in id order so the
// floating point sums do not depend on map iteration.
func (n *Network) Stats() Statistics {
	st := Statistics{
		NumNodes:     len(n.nodes),
		NumSegments:  len(n.segments),
		Volume:       n.box.Volume(),
		ArmHistogram: make(map[int]int),
	}

	ids := n.SegmentIDs()
	lengths := make([]float64, len(ids))
	for i, sid := range ids {
		v, _ := n.SegmentVector(sid)
		lengths[i] = r3.Norm(v)
		st.Charge = st.Charge.Add(geom.Outer(n.segments[sid].Burgers, v))
	}
	if len(lengths) > 0 {
		st.LineLength = floats.Sum(lengths)
		st.MinSegment = floats.Min(lengths)
		st.MaxSegment = floats.Max(lengths)
	}

	for _, node := range n.nodes {
		st.ArmHistogram[len(node.Segments)]++
		switch node.Constraint {
		case Pinned:
			st.Pinned++
		case Surface:
			st.Surface++
		}
	}
	return st
}
