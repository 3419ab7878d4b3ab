package network

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// AddNode creates a new node at pos. Only legal in the setup and topology
// phases.
func (n *Network) AddNode(pos r3.Vec, c Constraint) (NodeID, error) {
	if err := n.requireTopology("AddNode"); err != nil {
		return 0, err
	}
	if !geom.Finite(pos) {
		return 0, NewError("AddNode").Context("position %v", pos).Cause(ErrMalformedInput).Err()
	}
	return n.newNode(pos, c)
}

func (n *Network) newNode(pos r3.Vec, c Constraint) (NodeID, error) {
	// Check for ID space exhaustion
	if n.nextNodeID == math.MaxUint64 {
		return 0, NewError("AddNode").Cause(ErrIDExhausted).Err()
	}

	id := NodeID(n.nextNodeID)
	n.nextNodeID++

	n.nodes[id] = &Node{
		ID:         id,
		Pos:        n.box.Wrap(pos),
		Constraint: c,
		Segments:   make([]SegmentID, 0, 2),
	}
	return id, nil
}

// SetSurfaceNormal sets the confinement normal of a surface node.
func (n *Network) SetSurfaceNormal(id NodeID, normal r3.Vec) error {
	if err := n.requireTopology("SetSurfaceNormal"); err != nil {
		return err
	}
	node, ok := n.nodes[id]
	if !ok {
		return NodeNotFoundError("SetSurfaceNormal", id)
	}
	node.Normal = geom.SafeUnit(normal)
	return nil
}

// SetConstraint changes the constraint of a node.
func (n *Network) SetConstraint(id NodeID, c Constraint) error {
	if err := n.requireTopology("SetConstraint"); err != nil {
		return err
	}
	node, ok := n.nodes[id]
	if !ok {
		return NodeNotFoundError("SetConstraint", id)
	}
	prev := node.Constraint
	node.Constraint = c
	if err := n.verifyNodes("SetConstraint", id); err != nil {
		node.Constraint = prev
		return &TopologyError{Op: "SetConstraint", Nodes: []NodeID{id}, Reason: "node would no longer conserve Burgers vector"}
	}
	return nil
}

// MoveNode sets the position of a node, wrapping it into the primary cell.
// Pinned nodes refuse to move. Forbidden during the force phase.
func (n *Network) MoveNode(id NodeID, pos r3.Vec) error {
	if err := n.requireMotion("MoveNode"); err != nil {
		return err
	}
	node, ok := n.nodes[id]
	if !ok {
		return NodeNotFoundError("MoveNode", id)
	}
	if !geom.Finite(pos) {
		return NewError("MoveNode").Node(id).Context("position %v", pos).Cause(ErrMalformedInput).Err()
	}
	if node.Constraint == Pinned {
		return nil
	}
	node.Pos = n.box.Wrap(pos)
	return nil
}

// SetVelocity records the velocity of a node for diagnostics and snapshots.
func (n *Network) SetVelocity(id NodeID, v r3.Vec) error {
	if err := n.requireMotion("SetVelocity"); err != nil {
		return err
	}
	node, ok := n.nodes[id]
	if !ok {
		return NodeNotFoundError("SetVelocity", id)
	}
	node.Vel = v
	return nil
}

// removeNode deletes a node that has no incident segments.
func (n *Network) removeNode(id NodeID) {
	delete(n.nodes, id)
}

// moreConstrained reports whether a is at least as constrained as b.
func moreConstrained(a, b Constraint) bool {
	return a >= b
}
