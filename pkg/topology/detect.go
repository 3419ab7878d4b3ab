package topology

import (
	"context"
	"math"
	"math/bits"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/spatial"
)

// maxJunctionArms bounds the bipartition search at a node.
const maxJunctionArms = 10

// minCoherence is the smallest norm of the mean unit direction of the arms
// moved by a junction.
const minCoherence = 0.5

// Detect finds every event in the current network without changing it.
func (e *Engine) Detect(ctx context.Context, net *network.Network, forces map[network.NodeID]r3.Vec) ([]Event, error) {
	var events []Event
	if !e.cfg.DisableCollisions {
		c, err := e.detectCollisions(ctx, net)
		if err != nil {
			return nil, err
		}
		events = append(events, c...)
	}
	if !e.cfg.DisableJunctions {
		events = append(events, e.detectJunctions(net)...)
	}
	if !e.cfg.DisableCrossSlip && forces != nil {
		events = append(events, e.detectCrossSlip(net, forces)...)
	}
	return events, ctx.Err()
}

func adjacent(a, b network.Segment) bool {
	return a.N1 == b.N1 || a.N1 == b.N2 || a.N2 == b.N1 || a.N2 == b.N2
}

// closestImagePair returns the endpoints of a and of the image of b nearest
// to a, with the shift applied to b.
func closestImagePair(net *network.Network, a, b network.SegmentID) (a1, a2, b1, b2, shift r3.Vec) {
	a1, a2, _ = net.Endpoints(a)
	b1, b2, _ = net.Endpoints(b)
	mb := geom.Midpoint(b1, b2)
	shift = r3.Sub(net.Box().ClosestImage(geom.Midpoint(a1, a2), mb), mb)
	return a1, a2, r3.Add(b1, shift), r3.Add(b2, shift), shift
}

func (e *Engine) detectCollisions(ctx context.Context, net *network.Network) ([]Event, error) {
	ix, err := spatial.New(net.Box(), e.cfg.CollisionDistance, spatial.WithRunner(e.runner))
	if err != nil {
		return nil, err
	}
	ix.Rebuild(net)
	pairs := ix.Pairs()

	found := make([]*Event, len(pairs))
	limit := e.cfg.CollisionDistance * e.cfg.CollisionDistance
	err = e.runner.ForErr(ctx, len(pairs), func(_ context.Context, i int) error {
		p := pairs[i]
		sa, _ := net.Segment(p.A)
		sb, _ := net.Segment(p.B)
		if adjacent(sa, sb) {
			return nil
		}
		a1, a2, b1, b2, _ := closestImagePair(net, p.A, p.B)
		_, _, d2 := geom.ClosestPoints(a1, a2, b1, b2)
		if d2 >= limit {
			return nil
		}
		found[i] = &Event{
			Kind:     Collision,
			Segments: [2]network.SegmentID{p.A, p.B},
			Distance: math.Sqrt(d2),
			Touches:  []network.NodeID{sa.N1, sa.N2, sb.N1, sb.N2},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, ev := range found {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// detectJunctions looks for multi-arm free nodes that lower their energy by
// pulling a group of arms onto a new node. The best split of each node, by
// Frank's rule, becomes an event.
func (e *Engine) detectJunctions(net *network.Network) []Event {
	ids := net.NodeIDs()
	found := make([]*Event, len(ids))
	e.runner.ForEach(len(ids), func(i int) {
		c, _ := net.ConstraintOf(ids[i])
		if c != network.Free || net.Degree(ids[i]) < 4 {
			return
		}
		arms, err := net.Arms(ids[i])
		if err != nil || len(arms) > maxJunctionArms {
			return
		}
		found[i] = bestSplit(ids[i], arms)
	})

	var out []Event
	for _, ev := range found {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// bestSplit evaluates every group of at least two arms leaving at least two
// behind. Ties keep the group enumerated first, which lists lower arm ids
// first.
func bestSplit(node network.NodeID, arms []network.Arm) *Event {
	k := len(arms)
	var best *Event
	for mask := 1; mask < 1<<k; mask++ {
		size := bits.OnesCount(uint(mask))
		if size < 2 || k-size < 2 {
			continue
		}
		var sum, dir r3.Vec
		e2 := 0.0
		group := make([]network.SegmentID, 0, size)
		for j, a := range arms {
			if mask&(1<<j) == 0 {
				continue
			}
			sum = r3.Add(sum, a.Burgers)
			e2 += r3.Dot(a.Burgers, a.Burgers)
			dir = r3.Add(dir, geom.SafeUnit(a.Vector))
			group = append(group, a.Segment)
		}
		gain := e2 - r3.Dot(sum, sum)
		if gain <= 1e-9 {
			continue
		}
		mean := r3.Scale(1/float64(size), dir)
		if r3.Norm(mean) < minCoherence {
			continue
		}
		if best != nil && !(gain > best.Gain+1e-12) && !(math.Abs(gain-best.Gain) <= 1e-12 && lessIDs(group, best.Arms)) {
			continue
		}
		best = &Event{
			Kind:      Junction,
			Node:      node,
			Arms:      group,
			Direction: geom.SafeUnit(mean),
			Gain:      gain,
			Touches:   []network.NodeID{node},
		}
	}
	return best
}

func lessIDs(a, b []network.SegmentID) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// glideForce is the force component driving glide on the plane with normal n
// of a line with direction t.
func glideForce(f, n, t r3.Vec) float64 {
	return math.Abs(r3.Dot(f, geom.SafeUnit(r3.Cross(n, t))))
}

func (e *Engine) detectCrossSlip(net *network.Network, forces map[network.NodeID]r3.Vec) []Event {
	segs := net.SegmentIDs()
	found := make([]*Event, len(segs))
	cosScrew := math.Cos(e.cfg.ScrewAngle)
	e.runner.ForEach(len(segs), func(i int) {
		s, err := net.Segment(segs[i])
		if err != nil || geom.IsZero(s.Plane, geom.Tiny) {
			return
		}
		for _, id := range []network.NodeID{s.N1, s.N2} {
			c, _ := net.ConstraintOf(id)
			if c != network.Free || net.Degree(id) != 2 {
				return
			}
		}
		d, err := net.SegmentVector(segs[i])
		if err != nil {
			return
		}
		t := geom.SafeUnit(d)
		bu := geom.SafeUnit(s.Burgers)
		if math.Abs(r3.Dot(t, bu)) < cosScrew {
			return
		}

		f := geom.Midpoint(forces[s.N1], forces[s.N2])
		current := glideForce(f, s.Plane, t)
		var bestPlane r3.Vec
		bestForce := 0.0
		for _, n := range e.cfg.Crystal.PlanesContaining(s.Burgers) {
			if geom.Parallel(n, s.Plane, 1e-6) {
				continue
			}
			if g := glideForce(f, n, t); g > bestForce+1e-12 {
				bestForce, bestPlane = g, n
			}
		}
		if bestForce <= 0 || bestForce <= e.cfg.CrossSlipRatio*current {
			return
		}
		ratio := math.Inf(1)
		if current > 0 {
			ratio = bestForce / current
		}
		found[i] = &Event{
			Kind:      CrossSlip,
			Segments:  [2]network.SegmentID{segs[i]},
			Direction: bestPlane,
			Gain:      ratio,
			Touches:   []network.NodeID{s.N1, s.N2},
		}
	})

	var out []Event
	for _, ev := range found {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// sortEvents orders events for resolution.
func sortEvents(events []Event, order Order) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if order == Distance && a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Segments != b.Segments {
			if a.Segments[0] != b.Segments[0] {
				return a.Segments[0] < b.Segments[0]
			}
			return a.Segments[1] < b.Segments[1]
		}
		return a.Node < b.Node
	})
}
