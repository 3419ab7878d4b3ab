package network

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// NodeID identifies a node. Zero is never allocated.
type NodeID uint64

// SegmentID identifies a segment. Zero is never allocated.
type SegmentID uint64

// Constraint restricts how a node may move and whether it must close its
// Burgers circuit.
type Constraint uint8

const (
	// Free nodes move under the mobility law and conserve Burgers vector.
	Free Constraint = iota
	// Surface nodes are confined to the plane perpendicular to their normal and
	// may terminate dislocation lines.
	Surface
	// Pinned nodes never move and may terminate dislocation lines.
	Pinned
)

// String returns the constraint name
func (c Constraint) String() string {
	switch c {
	case Free:
		return "free"
	case Surface:
		return "surface"
	case Pinned:
		return "pinned"
	default:
		return "unknown"
	}
}

// Terminates reports whether a node with this constraint may end a line
// without closing its Burgers circuit.
func (c Constraint) Terminates() bool {
	return c == Pinned || c == Surface
}

// Node is a discretization point of the network
type Node struct {
	ID         NodeID
	Pos        r3.Vec
	Vel        r3.Vec
	Constraint Constraint
	Normal     r3.Vec      // surface normal, used when Constraint == Surface
	Segments   []SegmentID // incident segments, ascending; references only
}

// Clone creates a deep copy of a node
func (n *Node) Clone() *Node {
	c := *n
	c.Segments = append([]SegmentID(nil), n.Segments...)
	return &c
}

// Degree returns the number of incident segments
func (n *Node) Degree() int {
	return len(n.Segments)
}

// Segment is a straight dislocation segment directed from N1 to N2
type Segment struct {
	ID      SegmentID
	N1      NodeID
	N2      NodeID
	Burgers r3.Vec
	Plane   r3.Vec // glide plane normal; zero when undefined
}

// Other returns the endpoint opposite to id.
func (s *Segment) Other(id NodeID) NodeID {
	if s.N1 == id {
		return s.N2
	}
	return s.N1
}

// BurgersFrom returns the Burgers vector oriented outward from node id.
func (s *Segment) BurgersFrom(id NodeID) r3.Vec {
	if s.N1 == id {
		return s.Burgers
	}
	return r3.Scale(-1, s.Burgers)
}

// Arm describes a segment as seen from one of its endpoints.
type Arm struct {
	Segment  SegmentID
	Neighbor NodeID
	Burgers  r3.Vec // outward from the node
	Vector   r3.Vec // closest-image vector from the node to the neighbor
	Plane    r3.Vec
}

// Tolerances bound the numerical checks of the store
type Tolerances struct {
	// Burgers is the largest admissible norm of a node's Burgers sum.
	Burgers float64
	// Degenerate is the length below which a segment is collapsed.
	Degenerate float64
}

// DefaultTolerances returns tolerances suitable for lengths in units of b.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Burgers:    1e-8,
		Degenerate: 1e-6,
	}
}

// Phase names the step sub-phase holding the network.
type Phase uint8

const (
	// PhaseSetup allows every operation; it is the state outside of a step.
	PhaseSetup Phase = iota
	// PhaseForce makes the network read-only.
	PhaseForce
	// PhaseIntegrate allows position and velocity updates only.
	PhaseIntegrate
	// PhaseTopology allows conserving topology mutations and position updates.
	PhaseTopology
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseForce:
		return "force"
	case PhaseIntegrate:
		return "integrate"
	case PhaseTopology:
		return "topology"
	default:
		return "unknown"
	}
}
