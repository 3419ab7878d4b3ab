package network

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// AddSegment connects n1 to n2 with a segment of Burgers vector b on the glide
// plane with the given normal. It is a construction operation: Burgers
// conservation is only checked by Verify once the network is complete, so it
// is legal in the setup phase only. Topology code uses the conserving
// operations (SplitSegment, SplitNode, MergeNodes).
func (n *Network) AddSegment(n1, n2 NodeID, b, plane r3.Vec) (SegmentID, error) {
	if err := n.requireSetup("AddSegment"); err != nil {
		return 0, err
	}
	return n.connect("AddSegment", n1, n2, b, plane)
}

// Connect is an alias of AddSegment.
func (n *Network) Connect(n1, n2 NodeID, b, plane r3.Vec) (SegmentID, error) {
	return n.AddSegment(n1, n2, b, plane)
}

func (n *Network) connect(op string, n1, n2 NodeID, b, plane r3.Vec) (SegmentID, error) {
	a, ok := n.nodes[n1]
	if !ok {
		return 0, NodeNotFoundError(op, n1)
	}
	c, ok := n.nodes[n2]
	if !ok {
		return 0, NodeNotFoundError(op, n2)
	}
	if n1 == n2 {
		return 0, &TopologyError{Op: op, Nodes: []NodeID{n1, n2}, Reason: "segment would connect a node to itself"}
	}
	if r3.Norm(b) <= n.tol.Burgers || !geom.Finite(b) {
		return 0, NewError(op).Context("nodes %d-%d", n1, n2).Cause(ErrZeroBurgers).Err()
	}
	if n.nextSegmentID == math.MaxUint64 {
		return 0, NewError(op).Cause(ErrIDExhausted).Err()
	}

	id := SegmentID(n.nextSegmentID)
	n.nextSegmentID++

	n.segments[id] = &Segment{
		ID:      id,
		N1:      n1,
		N2:      n2,
		Burgers: b,
		Plane:   geom.SafeUnit(plane),
	}
	a.Segments = insertSorted(a.Segments, id)
	c.Segments = insertSorted(c.Segments, id)
	return id, nil
}

// RemoveSegment deletes a segment (disconnect). Setup phase only.
func (n *Network) RemoveSegment(id SegmentID) error {
	if err := n.requireSetup("RemoveSegment"); err != nil {
		return err
	}
	if _, ok := n.segments[id]; !ok {
		return SegmentNotFoundError("RemoveSegment", id)
	}
	n.deleteSegment(id)
	return nil
}

// Disconnect is an alias of RemoveSegment.
func (n *Network) Disconnect(id SegmentID) error {
	return n.RemoveSegment(id)
}

func (n *Network) deleteSegment(id SegmentID) {
	s := n.segments[id]
	if node, ok := n.nodes[s.N1]; ok {
		node.Segments = removeID(node.Segments, id)
	}
	if node, ok := n.nodes[s.N2]; ok {
		node.Segments = removeID(node.Segments, id)
	}
	delete(n.segments, id)
}

// SetPlane changes the glide plane normal of a segment.
func (n *Network) SetPlane(id SegmentID, plane r3.Vec) error {
	if err := n.requireTopology("SetPlane"); err != nil {
		return err
	}
	s, ok := n.segments[id]
	if !ok {
		return SegmentNotFoundError("SetPlane", id)
	}
	s.Plane = geom.SafeUnit(plane)
	return nil
}

// SplitSegment inserts a free node at position at inside segment id. The
// original segment keeps its id and now ends at the new node; the returned
// segment runs from the new node to the former second endpoint. Both halves
// carry the original Burgers vector and plane.
func (n *Network) SplitSegment(id SegmentID, at r3.Vec) (NodeID, SegmentID, error) {
	const op = "SplitSegment"
	if err := n.requireTopology(op); err != nil {
		return 0, 0, err
	}
	s, ok := n.segments[id]
	if !ok {
		return 0, 0, SegmentNotFoundError(op, id)
	}
	if !geom.Finite(at) {
		return 0, 0, NewError(op).Segment(id).Context("position %v", at).Cause(ErrMalformedInput).Err()
	}

	mid, err := n.newNode(at, Free)
	if err != nil {
		return 0, 0, err
	}

	oldN2 := s.N2
	s.N2 = mid
	n.nodes[oldN2].Segments = removeID(n.nodes[oldN2].Segments, id)
	n.nodes[mid].Segments = insertSorted(n.nodes[mid].Segments, id)

	second, err := n.connect(op, mid, oldN2, s.Burgers, s.Plane)
	if err != nil {
		return 0, 0, err
	}

	if err := n.verifyNodes(op, s.N1, mid, oldN2); err != nil {
		return 0, 0, err
	}
	return mid, second, nil
}

// SplitNode moves the given arms of node onto a new free node at pos and
// connects the two nodes with a segment carrying the Burgers vector needed to
// close both circuits. It returns the new node and the connecting segment, or
// zero when the moved arms already conserve on their own.
func (n *Network) SplitNode(node NodeID, arms []SegmentID, pos r3.Vec, plane r3.Vec) (NodeID, SegmentID, error) {
	const op = "SplitNode"
	if err := n.requireTopology(op); err != nil {
		return 0, 0, err
	}
	src, ok := n.nodes[node]
	if !ok {
		return 0, 0, NodeNotFoundError(op, node)
	}
	if len(arms) == 0 || len(arms) >= len(src.Segments) {
		return 0, 0, &TopologyError{Op: op, Nodes: []NodeID{node}, Reason: "split must move a proper, non-empty subset of arms"}
	}

	moving := make(map[SegmentID]bool, len(arms))
	for _, sid := range arms {
		s, ok := n.segments[sid]
		if !ok || (s.N1 != node && s.N2 != node) {
			return 0, 0, &TopologyError{Op: op, Nodes: []NodeID{node}, Reason: "arm is not incident to node"}
		}
		if s.N1 == s.N2 {
			return 0, 0, &TopologyError{Op: op, Nodes: []NodeID{node}, Reason: "self-connected arm"}
		}
		moving[sid] = true
	}
	if len(moving) != len(arms) {
		return 0, 0, &TopologyError{Op: op, Nodes: []NodeID{node}, Reason: "duplicate arm"}
	}

	var sum r3.Vec
	for sid := range moving {
		sum = r3.Add(sum, n.segments[sid].BurgersFrom(node))
	}

	dst, err := n.newNode(pos, Free)
	if err != nil {
		return 0, 0, err
	}

	for _, sid := range arms {
		s := n.segments[sid]
		if s.N1 == node {
			s.N1 = dst
		} else {
			s.N2 = dst
		}
		src.Segments = removeID(src.Segments, sid)
		n.nodes[dst].Segments = insertSorted(n.nodes[dst].Segments, sid)
	}

	var link SegmentID
	if r3.Norm(sum) > n.tol.Burgers {
		link, err = n.connect(op, dst, node, r3.Scale(-1, sum), plane)
		if err != nil {
			return 0, 0, err
		}
	}

	affected := []NodeID{node, dst}
	for _, sid := range arms {
		affected = append(affected, n.segments[sid].Other(dst))
	}
	if err := n.verifyNodes(op, affected...); err != nil {
		return 0, 0, err
	}
	return dst, link, nil
}
