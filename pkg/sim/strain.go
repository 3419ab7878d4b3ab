package sim

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

// sweptArea is the area vector swept by a segment moving from x1-x2 to
// x1'-x2'.
func sweptArea(x1, x2, y1, y2 r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Cross(r3.Sub(y2, x1), r3.Sub(y1, x2)))
}

// plasticIncrement returns (1/V) sum b (x) A over all segments for the motion
// from old to next positions. Positions in next are unwrapped images of old.
// Segments are summed in id order.
func plasticIncrement(net *network.Network, old, next map[network.NodeID]r3.Vec) geom.Tensor {
	var sum geom.Tensor
	for _, sid := range net.SegmentIDs() {
		s, err := net.Segment(sid)
		if err != nil {
			continue
		}
		o1, ok1 := old[s.N1]
		o2, ok2 := old[s.N2]
		if !ok1 || !ok2 {
			continue
		}
		x1 := o1
		x2 := net.Box().ClosestImage(x1, o2)
		y1 := r3.Add(x1, r3.Sub(next[s.N1], o1))
		y2 := r3.Add(x2, r3.Sub(next[s.N2], o2))
		sum = sum.Add(geom.Outer(s.Burgers, sweptArea(x1, x2, y1, y2)))
	}
	v := net.Box().Volume()
	if v == 0 {
		return geom.Tensor{}
	}
	return sum.Scale(1 / v)
}
