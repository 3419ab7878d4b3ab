package topology

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

// Resolve applies events in the configured order. An event touching a node
// already modified during this call is deferred. Reactions the network
// refuses are skipped; invariant breaches abort with the error.
func (e *Engine) Resolve(ctx context.Context, net *network.Network, events []Event, report *Report) error {
	sortEvents(events, e.cfg.Order)
	touched := make(map[network.NodeID]bool)

	for i := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := &events[i]
		if anyTouched(touched, ev.Touches) {
			report.Deferred[ev.Kind]++
			continue
		}

		var changed []network.NodeID
		var err error
		switch ev.Kind {
		case Collision:
			changed, err = e.collide(net, ev)
		case Junction:
			changed, err = e.junction(net, ev)
		case CrossSlip:
			changed, err = e.crossSlip(net, ev)
		}
		if err != nil {
			if !IsSkippable(err) {
				return err
			}
			report.Skipped[ev.Kind]++
			e.logger.Warn("topological event skipped",
				logging.EventKind(ev.Kind.String()),
				logging.Error(err),
			)
			for _, id := range ev.Touches {
				touched[id] = true
			}
			continue
		}
		report.Applied[ev.Kind]++
		for _, id := range ev.Touches {
			touched[id] = true
		}
		for _, id := range changed {
			touched[id] = true
		}
	}
	return nil
}

func anyTouched(touched map[network.NodeID]bool, ids []network.NodeID) bool {
	for _, id := range ids {
		if touched[id] {
			return true
		}
	}
	return false
}

// contact is where a colliding segment joins the merged node: an existing
// endpoint, or a point at which the segment still has to be split.
type contact struct {
	seg  network.SegmentID
	node network.NodeID // zero when the segment must be split at at
	at   r3.Vec
}

// planContact picks the endpoint of segment id when the contact point at
// parameter s (0 at N1, 1 at N2) lies within reuse of it, and the split
// point otherwise. It does not modify net.
func planContact(net *network.Network, id network.SegmentID, x1, x2 r3.Vec, s, reuse float64) (contact, error) {
	seg, err := net.Segment(id)
	if err != nil {
		return contact{}, err
	}
	l := r3.Norm(r3.Sub(x2, x1))
	switch {
	case s*l <= reuse:
		return contact{seg: id, node: seg.N1, at: x1}, nil
	case (1-s)*l <= reuse:
		return contact{seg: id, node: seg.N2, at: x2}, nil
	}
	return contact{seg: id, at: geom.Lerp(x1, x2, s)}, nil
}

func (c contact) pinned(net *network.Network) bool {
	if c.node == 0 {
		return false
	}
	k, _ := net.ConstraintOf(c.node)
	return k == network.Pinned
}

// place returns the node of c, splitting its segment when needed.
func (c contact) place(net *network.Network) (network.NodeID, error) {
	if c.node != 0 {
		return c.node, nil
	}
	node, _, err := net.SplitSegment(c.seg, c.at)
	return node, err
}

// unplace removes a node inserted by place. The part of the split segment
// keeping its id is stretched back over the removed node.
func (c contact) unplace(net *network.Network, node network.NodeID) error {
	if c.node != 0 || !net.HasNode(node) {
		return nil
	}
	arms, err := net.Arms(node)
	if err != nil || len(arms) != 2 {
		return err
	}
	far := arms[0]
	if far.Segment == c.seg {
		far = arms[1]
	}
	pos, _ := net.Position(far.Neighbor)
	_, err = net.MergeNodesAt(far.Neighbor, node, pos)
	return err
}

// collide joins two segments at the midpoint of their closest points. A
// collision the store would refuse is rejected before any segment is split.
func (e *Engine) collide(net *network.Network, ev *Event) ([]network.NodeID, error) {
	a, b := ev.Segments[0], ev.Segments[1]
	if !net.HasSegment(a) || !net.HasSegment(b) {
		return nil, &network.TopologyError{Op: "collide", Reason: "segment no longer exists"}
	}
	a1, a2, b1, b2, _ := closestImagePair(net, a, b)
	s, t, _ := geom.ClosestPoints(a1, a2, b1, b2)

	reuse := e.cfg.CollisionDistance / 2
	ca, err := planContact(net, a, a1, a2, s, reuse)
	if err != nil {
		return nil, err
	}
	cb, err := planContact(net, b, b1, b2, t, reuse)
	if err != nil {
		return nil, err
	}
	if ca.node != 0 && ca.node == cb.node {
		return []network.NodeID{ca.node}, nil
	}
	if ca.pinned(net) && cb.pinned(net) &&
		r3.Norm(net.Box().MinImage(r3.Sub(cb.at, ca.at))) > net.Tolerances().Degenerate {
		return nil, &network.TopologyError{Op: "collide", Nodes: []network.NodeID{ca.node, cb.node}, Reason: "both contact nodes are pinned"}
	}

	na, err := ca.place(net)
	if err != nil {
		return nil, err
	}
	nb, err := cb.place(net)
	if err != nil {
		return []network.NodeID{na}, e.undo(net, err, []contact{ca}, []network.NodeID{na})
	}

	keep, remove := na, nb
	ka, _ := net.ConstraintOf(na)
	kb, _ := net.ConstraintOf(nb)
	if kb > ka {
		keep, remove = nb, na
	}
	merged, err := net.MergeNodesAt(keep, remove, geom.Midpoint(ca.at, cb.at))
	if err != nil {
		return []network.NodeID{na, nb}, e.undo(net, err, []contact{ca, cb}, []network.NodeID{na, nb})
	}
	e.logger.Debug("segments collided",
		logging.SegmentID(uint64(a)),
		logging.SegmentID(uint64(b)),
		logging.NodeID(uint64(merged)),
	)
	return []network.NodeID{na, nb, merged}, nil
}

// undo removes the nodes placed for a refused collision and returns cause,
// or the failure of the removal itself when that is not skippable.
func (e *Engine) undo(net *network.Network, cause error, cs []contact, nodes []network.NodeID) error {
	if !IsSkippable(cause) {
		return cause
	}
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].unplace(net, nodes[i]); err != nil && !IsSkippable(err) {
			return err
		}
	}
	return cause
}

// junctionOffset is the distance the moved arms are pulled away from the
// splitting node.
func (e *Engine) junctionOffset() float64 {
	if e.cfg.MinSegment > 0 {
		return e.cfg.MinSegment / 2
	}
	return e.cfg.CollisionDistance
}

// junction pulls the event arms onto a new node connected to the old one by
// the junction segment.
func (e *Engine) junction(net *network.Network, ev *Event) ([]network.NodeID, error) {
	for _, sid := range ev.Arms {
		if !net.HasSegment(sid) {
			return nil, &network.TopologyError{Op: "junction", Nodes: []network.NodeID{ev.Node}, Reason: "arm no longer exists"}
		}
	}
	pos, ok := net.Position(ev.Node)
	if !ok {
		return nil, network.NodeNotFoundError("junction", ev.Node)
	}

	var sum r3.Vec
	for _, sid := range ev.Arms {
		s, _ := net.Segment(sid)
		sum = r3.Add(sum, s.BurgersFrom(ev.Node))
	}
	plane := geom.SafeUnit(r3.Cross(sum, ev.Direction))

	at := r3.Add(pos, r3.Scale(e.junctionOffset(), ev.Direction))
	dst, link, err := net.SplitNode(ev.Node, ev.Arms, at, plane)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("junction formed",
		logging.NodeID(uint64(ev.Node)),
		logging.SegmentID(uint64(link)),
		logging.Float64("gain", ev.Gain),
	)
	return []network.NodeID{ev.Node, dst}, nil
}

// crossSlip moves a screw segment onto its cross-slip plane.
func (e *Engine) crossSlip(net *network.Network, ev *Event) ([]network.NodeID, error) {
	id := ev.Segments[0]
	s, err := net.Segment(id)
	if err != nil {
		return nil, err
	}
	if err := net.SetPlane(id, ev.Direction); err != nil {
		return nil, err
	}
	// remove velocity components that would leave the new plane
	for _, nid := range []network.NodeID{s.N1, s.N2} {
		node, err := net.Node(nid)
		if err != nil {
			return nil, err
		}
		if err := net.SetVelocity(nid, geom.ProjectOut(node.Vel, ev.Direction)); err != nil {
			return nil, err
		}
	}
	return []network.NodeID{s.N1, s.N2}, nil
}

// IsSkippable reports whether err is a rejected reaction rather than a
// failure of the run.
func IsSkippable(err error) bool {
	var te *network.TopologyError
	return errors.As(err, &te) || network.IsNotFound(err)
}
