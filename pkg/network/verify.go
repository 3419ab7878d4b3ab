package network

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Verify checks every structural invariant of the network and returns the
// first breach found, visiting nodes and segments in ascending id order.
// Unlike the checks run after each mutation it also rejects degenerate
// segments, so it is meant for a network that went through RemoveDegenerate.
func (n *Network) Verify() error {
	for _, sid := range n.SegmentIDs() {
		if err := n.verifySegment(sid); err != nil {
			return err
		}
		if l := n.SegmentLength(sid); l < n.tol.Degenerate {
			return &InvariantError{Rule: RuleDegenerate, Segment: sid, Detail: fmt.Sprintf("length %g", l)}
		}
	}
	for _, id := range n.NodeIDs() {
		if err := n.verifyNode(id); err != nil {
			return err
		}
	}
	return nil
}

// verifyNodes checks the invariants local to the given nodes after a
// mutation touched them.
func (n *Network) verifyNodes(op string, ids ...NodeID) error {
	for _, id := range ids {
		if _, ok := n.nodes[id]; !ok {
			// removed by the mutation itself
			continue
		}
		if err := n.verifyNode(id); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		for _, sid := range n.nodes[id].Segments {
			if err := n.verifySegment(sid); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	return nil
}

func (n *Network) verifySegment(sid SegmentID) error {
	s, ok := n.segments[sid]
	if !ok {
		return &InvariantError{Rule: RuleReference, Segment: sid, Detail: "segment referenced but missing"}
	}
	if s.N1 == s.N2 {
		return &InvariantError{Rule: RuleReference, Segment: sid, Detail: "segment connects a node to itself"}
	}
	for _, end := range [2]NodeID{s.N1, s.N2} {
		node, ok := n.nodes[end]
		if !ok {
			return &InvariantError{Rule: RuleReference, Segment: sid, Detail: fmt.Sprintf("endpoint %d missing", end)}
		}
		if !containsID(node.Segments, sid) {
			return &InvariantError{Rule: RuleReference, Segment: sid, Detail: fmt.Sprintf("endpoint %d does not list segment", end)}
		}
	}
	if r3.Norm(s.Burgers) <= n.tol.Burgers {
		return &InvariantError{Rule: RuleBurgers, Segment: sid, Detail: "zero Burgers vector"}
	}
	return nil
}

func (n *Network) verifyNode(id NodeID) error {
	node := n.nodes[id]
	var sum r3.Vec
	seen := make(map[NodeID]SegmentID, len(node.Segments))
	for _, sid := range node.Segments {
		s, ok := n.segments[sid]
		if !ok {
			return &InvariantError{Rule: RuleReference, Node: id, Detail: fmt.Sprintf("missing segment %d", sid)}
		}
		if s.N1 != id && s.N2 != id {
			return &InvariantError{Rule: RuleReference, Node: id, Detail: fmt.Sprintf("segment %d is not incident", sid)}
		}
		nbr := s.Other(id)
		if prev, dup := seen[nbr]; dup {
			return &InvariantError{
				Rule:   RuleDuplicate,
				Node:   id,
				Detail: fmt.Sprintf("segments %d and %d both join node %d", prev, sid, nbr),
			}
		}
		seen[nbr] = sid
		sum = r3.Add(sum, s.BurgersFrom(id))
	}
	if node.Constraint.Terminates() || len(node.Segments) == 0 {
		return nil
	}
	if r3.Norm(sum) > n.tol.Burgers {
		return &InvariantError{
			Rule:   RuleBurgers,
			Node:   id,
			Detail: fmt.Sprintf("Burgers sum %v over %d arms", sum, len(node.Segments)),
		}
	}
	return nil
}

func containsID(ids []SegmentID, id SegmentID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
