package network

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// applyOps drives a network through a sequence of conserving mutations
// encoded as integers. Refused operations are skipped; any other error is
// returned.
func applyOps(n *Network, ops []int) error {
	for _, v := range ops {
		kind, pick := v%4, v/4
		segs := n.SegmentIDs()
		nodes := n.NodeIDs()
		if len(segs) == 0 || len(nodes) < 2 {
			return nil
		}

		var err error
		switch kind {
		case 0:
			sid := segs[pick%len(segs)]
			x1, x2, _ := n.Endpoints(sid)
			_, _, err = n.SplitSegment(sid, geom.Midpoint(x1, x2))
		case 1:
			s, _ := n.Segment(segs[pick%len(segs)])
			_, err = n.MergeNodes(s.N1, s.N2)
		case 2:
			a, b := nodes[pick%len(nodes)], nodes[(pick/7)%len(nodes)]
			_, err = n.MergeNodes(a, b)
		case 3:
			for _, id := range nodes {
				node := n.nodes[id]
				if len(node.Segments) < 4 {
					continue
				}
				at := r3.Add(node.Pos, r3.Vec{X: 0.5, Y: 0.25})
				_, _, err = n.SplitNode(id, append([]SegmentID(nil), node.Segments[:2]...), at, nz)
				break
			}
		}
		if err != nil && !errors.Is(err, ErrTopology) {
			return err
		}
	}
	return nil
}

func TestNetworkInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Property 1: conserving mutations keep every free node balanced
	properties.Property("mutations conserve Burgers vector", prop.ForAll(
		func(ops []int) bool {
			n, _, _ := newSquareLoop(t, 20)
			if err := applyOps(n, ops); err != nil {
				t.Logf("ops %v: %v", ops, err)
				return false
			}
			return burgersBalanced(n)
		},
		gen.SliceOfN(16, gen.IntRange(0, 400)),
	))

	// Property 2: split then merge restores the segment
	properties.Property("split then merge round trip", prop.ForAll(
		func(side int, frac float64) bool {
			n, nodes, segs := newSquareLoop(t, 10)
			i := side % len(segs)
			before, _ := n.Segment(segs[i])

			x1, x2, _ := n.Endpoints(segs[i])
			mid, _, err := n.SplitSegment(segs[i], geom.Lerp(x1, x2, frac))
			if err != nil {
				return false
			}
			if _, err := n.MergeNodes(nodes[(i+1)%len(nodes)], mid); err != nil {
				return false
			}
			after, err := n.Segment(segs[i])
			return err == nil && after == before && n.NumNodes() == 4 && n.Verify() == nil
		},
		gen.IntRange(0, 3),
		gen.Float64Range(0.05, 0.95),
	))

	// Property 3: RemoveDegenerate is idempotent
	properties.Property("remove degenerate is idempotent", prop.ForAll(
		func(ops []int) bool {
			n, _, _ := newSquareLoop(t, 20)
			if err := applyOps(n, ops); err != nil {
				return false
			}
			if _, err := n.RemoveDegenerate(); err != nil {
				return false
			}
			nodes, segs := n.NumNodes(), n.NumSegments()
			removed, err := n.RemoveDegenerate()
			return err == nil && removed == 0 && n.NumNodes() == nodes && n.NumSegments() == segs
		},
		gen.SliceOfN(16, gen.IntRange(0, 400)),
	))

	// Property 4: ids are never reused
	properties.Property("ids grow monotonically", prop.ForAll(
		func(ops []int) bool {
			n, _, _ := newSquareLoop(t, 20)
			seen := make(map[SegmentID]bool)
			for _, id := range n.SegmentIDs() {
				seen[id] = true
			}
			last := n.nextSegmentID
			if err := applyOps(n, ops); err != nil {
				return false
			}
			for _, id := range n.SegmentIDs() {
				if !seen[id] && uint64(id) < last {
					return false
				}
			}
			return n.nextSegmentID >= last
		},
		gen.SliceOfN(16, gen.IntRange(0, 400)),
	))

	properties.TestingRun(t)
}
