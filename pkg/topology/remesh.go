package topology

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

// Cleanup remeshes the network, removes degenerate entities and verifies
// every invariant. A failed verification is returned as is and is fatal.
func (e *Engine) Cleanup(net *network.Network, report *Report) error {
	if e.cfg.MaxSegment > 0 {
		n, err := e.refine(net)
		report.Refined += n
		if err != nil {
			return err
		}
	}
	if e.cfg.MinSegment > 0 {
		n, err := e.coarsen(net)
		report.Coarsened += n
		if err != nil {
			return err
		}
	}

	removed, err := net.RemoveDegenerate()
	report.Removed += removed
	if err != nil {
		return err
	}
	if err := net.Verify(); err != nil {
		e.logger.Error("network verification failed", logging.Error(err))
		return err
	}
	return nil
}

// refine splits segments longer than MaxSegment into equal pieces.
func (e *Engine) refine(net *network.Network) (int, error) {
	count := 0
	for _, id := range net.SegmentIDs() {
		l := net.SegmentLength(id)
		if l <= e.cfg.MaxSegment {
			continue
		}
		pieces := int(math.Ceil(l / e.cfg.MaxSegment))
		cur := id
		for rem := pieces; rem > 1; rem-- {
			x1, x2, err := net.Endpoints(cur)
			if err != nil {
				return count, err
			}
			_, next, err := net.SplitSegment(cur, geom.Lerp(x1, x2, 1/float64(rem)))
			if err != nil {
				return count, err
			}
			count++
			cur = next
		}
	}
	return count, nil
}

// coarsen removes two-armed free nodes with a short arm when the line moves
// by little. Neighbors of a removed node are left alone until the next pass.
func (e *Engine) coarsen(net *network.Network) (int, error) {
	count := 0
	touched := make(map[network.NodeID]bool)
	for _, id := range net.NodeIDs() {
		if touched[id] || !net.HasNode(id) || net.Degree(id) != 2 {
			continue
		}
		if c, _ := net.ConstraintOf(id); c != network.Free {
			continue
		}
		arms, err := net.Arms(id)
		if err != nil {
			return count, err
		}
		a, b := arms[0], arms[1]
		if touched[a.Neighbor] || touched[b.Neighbor] {
			continue
		}
		la, lb := r3.Norm(a.Vector), r3.Norm(b.Vector)
		if math.Min(la, lb) >= e.cfg.MinSegment {
			continue
		}
		if !geom.IsZero(a.Plane, geom.Tiny) && !geom.IsZero(b.Plane, geom.Tiny) && !geom.Parallel(a.Plane, b.Plane, 1e-6) {
			continue
		}
		if a.Neighbor != b.Neighbor {
			if 0.5*r3.Norm(r3.Cross(a.Vector, b.Vector)) > e.cfg.RemeshArea {
				continue
			}
			if e.cfg.MaxSegment > 0 && r3.Norm(r3.Sub(b.Vector, a.Vector)) > e.cfg.MaxSegment {
				continue
			}
		}

		keep := a
		if lb < la {
			keep = b
		}
		pos, _ := net.Position(keep.Neighbor)
		if _, err := net.MergeNodesAt(keep.Neighbor, id, pos); err != nil {
			if IsSkippable(err) {
				continue
			}
			return count, err
		}
		count++
		touched[id] = true
		touched[a.Neighbor] = true
		touched[b.Neighbor] = true
	}
	return count, nil
}
