package network

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// MergeNodes collapses remove into keep. The merged node stays at keep's
// position unless remove is the more constrained of the two.
func (n *Network) MergeNodes(keep, remove NodeID) (NodeID, error) {
	k, ok := n.nodes[keep]
	if !ok {
		return 0, NodeNotFoundError("MergeNodes", keep)
	}
	r, ok := n.nodes[remove]
	if !ok {
		return 0, NodeNotFoundError("MergeNodes", remove)
	}
	pos := k.Pos
	if r.Constraint > k.Constraint {
		pos = r.Pos
	}
	return n.MergeNodesAt(keep, remove, pos)
}

// MergeNodesAt collapses remove into keep and places the merged node at pos
// (or at the pinned node's position when one of them is pinned).
//
// Segments joining the two nodes become zero-length and are removed. The
// remaining arms of remove are re-attached to keep; arms that then run
// between the same pair of nodes are combined into one segment carrying the
// sum of their Burgers vectors, and dropped when that sum vanishes. Nodes left
// without arms are purged by RemoveDegenerate.
func (n *Network) MergeNodesAt(keep, remove NodeID, pos r3.Vec) (NodeID, error) {
	const op = "MergeNodes"
	if err := n.requireTopology(op); err != nil {
		return 0, err
	}
	if keep == remove {
		return 0, &TopologyError{Op: op, Nodes: []NodeID{keep, remove}, Reason: "merging a node with itself would connect it to itself"}
	}
	k, ok := n.nodes[keep]
	if !ok {
		return 0, NodeNotFoundError(op, keep)
	}
	r, ok := n.nodes[remove]
	if !ok {
		return 0, NodeNotFoundError(op, remove)
	}
	if !geom.Finite(pos) {
		return 0, NewError(op).Node(keep).Context("position %v", pos).Cause(ErrMalformedInput).Err()
	}

	switch {
	case k.Constraint == Pinned && r.Constraint == Pinned:
		d := r3.Norm(n.box.MinImage(r3.Sub(r.Pos, k.Pos)))
		if d > n.tol.Degenerate {
			return 0, &TopologyError{Op: op, Nodes: []NodeID{keep, remove}, Reason: "both nodes are pinned at different positions"}
		}
		pos = k.Pos
	case k.Constraint == Pinned:
		pos = k.Pos
	case r.Constraint == Pinned:
		pos = r.Pos
	}

	if moreConstrained(r.Constraint, k.Constraint) && r.Constraint != k.Constraint {
		k.Constraint = r.Constraint
		k.Normal = r.Normal
	}

	neighbors := make(map[NodeID]bool)
	for _, sid := range append([]SegmentID(nil), r.Segments...) {
		s := n.segments[sid]
		other := s.Other(remove)
		if other == keep {
			// joining segment collapses to zero length
			n.deleteSegment(sid)
			continue
		}
		if s.N1 == remove {
			s.N1 = keep
		} else {
			s.N2 = keep
		}
		k.Segments = insertSorted(k.Segments, sid)
		neighbors[other] = true
	}
	r.Segments = r.Segments[:0]
	n.removeNode(remove)

	k.Pos = n.box.Wrap(pos)

	affected := []NodeID{keep}
	for nbr := range neighbors {
		affected = append(affected, nbr)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })

	n.combineParallelArms(keep)

	if err := n.verifyNodes(op, affected...); err != nil {
		return 0, err
	}
	return keep, nil
}

// combineParallelArms merges segments running between id and the same
// neighbor into a single segment, or removes them when their Burgers vectors
// annihilate.
func (n *Network) combineParallelArms(id NodeID) {
	node := n.nodes[id]
	byNeighbor := make(map[NodeID][]SegmentID)
	var order []NodeID
	for _, sid := range node.Segments {
		nbr := n.segments[sid].Other(id)
		if _, seen := byNeighbor[nbr]; !seen {
			order = append(order, nbr)
		}
		byNeighbor[nbr] = append(byNeighbor[nbr], sid)
	}

	for _, nbr := range order {
		group := byNeighbor[nbr]
		if len(group) < 2 {
			continue
		}
		var sum r3.Vec
		for _, sid := range group {
			sum = r3.Add(sum, n.segments[sid].BurgersFrom(id))
		}
		first := n.segments[group[0]]
		for _, sid := range group[1:] {
			n.deleteSegment(sid)
		}
		if r3.Norm(sum) <= n.tol.Burgers {
			n.deleteSegment(first.ID)
			continue
		}
		first.N1, first.N2 = id, nbr
		if !geom.Parallel(first.Burgers, sum, 1e-9) {
			t := n.box.MinImage(r3.Sub(n.nodes[nbr].Pos, node.Pos))
			if p := geom.SafeUnit(r3.Cross(sum, t)); p != geom.Zero {
				first.Plane = p
			}
		}
		first.Burgers = sum
	}
}

// RemoveDegenerate collapses segments shorter than the degenerate length,
// removes segments whose Burgers vector vanished and purges nodes without
// arms. It returns the number of removed nodes plus segments. Running it
// twice in a row leaves the network unchanged the second time.
func (n *Network) RemoveDegenerate() (int, error) {
	const op = "RemoveDegenerate"
	if err := n.requireTopology(op); err != nil {
		return 0, err
	}

	removed := 0
	for changed := true; changed; {
		changed = false

		for _, sid := range n.SegmentIDs() {
			s, ok := n.segments[sid]
			if !ok {
				continue
			}
			if r3.Norm(s.Burgers) <= n.tol.Burgers {
				n.deleteSegment(sid)
				removed++
				changed = true
				continue
			}
			if n.SegmentLength(sid) >= n.tol.Degenerate {
				continue
			}

			keep, drop := s.N1, s.N2
			kc, dc := n.nodes[keep].Constraint, n.nodes[drop].Constraint
			if dc > kc {
				keep, drop = drop, keep
			}
			before := len(n.segments)
			if _, err := n.MergeNodes(keep, drop); err != nil {
				return removed, err
			}
			removed += 1 + before - len(n.segments)
			changed = true
		}

		for _, id := range n.NodeIDs() {
			if len(n.nodes[id].Segments) == 0 {
				n.removeNode(id)
				removed++
				changed = true
			}
		}
	}
	return removed, nil
}
