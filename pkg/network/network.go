// Package network holds the dislocation network: nodes and directed segments
// stored in id-keyed arenas, with nodes referencing their incident segments by
// id. All topology mutations conserve the Burgers vector at every node and
// verify it before returning.
package network

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
)

// Network is the node/segment graph embedded in a periodic box.
type Network struct {
	box *cell.Box

	// Core data structures
	nodes    map[NodeID]*Node
	segments map[SegmentID]*Segment

	// ID generators
	nextNodeID    uint64
	nextSegmentID uint64

	tol   Tolerances
	phase Phase
}

// Option configures a Network
type Option func(*Network)

// WithTolerances overrides the default numerical tolerances.
func WithTolerances(t Tolerances) Option {
	return func(n *Network) {
		n.tol = t
	}
}

// New creates an empty network in the given box
func New(box *cell.Box, opts ...Option) *Network {
	n := &Network{
		box:           box,
		nodes:         make(map[NodeID]*Node),
		segments:      make(map[SegmentID]*Segment),
		nextNodeID:    1,
		nextSegmentID: 1,
		tol:           DefaultTolerances(),
		phase:         PhaseSetup,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Box returns the simulation box
func (n *Network) Box() *cell.Box {
	return n.box
}

// Tolerances returns the numerical tolerances in use
func (n *Network) Tolerances() Tolerances {
	return n.tol
}

// NumNodes returns the node count
func (n *Network) NumNodes() int {
	return len(n.nodes)
}

// NumSegments returns the segment count
func (n *Network) NumSegments() int {
	return len(n.segments)
}

// Node returns a copy of the node with the given id.
func (n *Network) Node(id NodeID) (*Node, error) {
	node, ok := n.nodes[id]
	if !ok {
		return nil, NodeNotFoundError("get", id)
	}
	return node.Clone(), nil
}

// HasNode reports whether id is a live node.
func (n *Network) HasNode(id NodeID) bool {
	_, ok := n.nodes[id]
	return ok
}

// HasSegment reports whether id is a live segment.
func (n *Network) HasSegment(id SegmentID) bool {
	_, ok := n.segments[id]
	return ok
}

// Position returns the wrapped position of a node.
func (n *Network) Position(id NodeID) (r3.Vec, bool) {
	node, ok := n.nodes[id]
	if !ok {
		return r3.Vec{}, false
	}
	return node.Pos, true
}

// ConstraintOf returns the constraint of a node.
func (n *Network) ConstraintOf(id NodeID) (Constraint, bool) {
	node, ok := n.nodes[id]
	if !ok {
		return Free, false
	}
	return node.Constraint, true
}

// Degree returns the number of segments incident to a node.
func (n *Network) Degree(id NodeID) int {
	node, ok := n.nodes[id]
	if !ok {
		return 0
	}
	return len(node.Segments)
}

// Segment returns a copy of the segment with the given id.
func (n *Network) Segment(id SegmentID) (Segment, error) {
	s, ok := n.segments[id]
	if !ok {
		return Segment{}, SegmentNotFoundError("get", id)
	}
	return *s, nil
}

// NodeIDs returns all node ids in ascending order.
func (n *Network) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SegmentIDs returns all segment ids in ascending order.
func (n *Network) SegmentIDs() []SegmentID {
	ids := make([]SegmentID, 0, len(n.segments))
	for id := range n.segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Endpoints returns the closest-image endpoint positions of a segment: x1 is
// the wrapped position of N1 and x2 the image of N2 nearest to x1.
func (n *Network) Endpoints(id SegmentID) (x1, x2 r3.Vec, err error) {
	s, ok := n.segments[id]
	if !ok {
		return r3.Vec{}, r3.Vec{}, SegmentNotFoundError("endpoints", id)
	}
	x1 = n.nodes[s.N1].Pos
	x2 = n.box.ClosestImage(x1, n.nodes[s.N2].Pos)
	return x1, x2, nil
}

// SegmentVector returns x2 - x1 under the closest-image convention.
func (n *Network) SegmentVector(id SegmentID) (r3.Vec, error) {
	x1, x2, err := n.Endpoints(id)
	if err != nil {
		return r3.Vec{}, err
	}
	return r3.Sub(x2, x1), nil
}

// SegmentLength returns the closest-image length of a segment.
func (n *Network) SegmentLength(id SegmentID) float64 {
	v, err := n.SegmentVector(id)
	if err != nil {
		return 0
	}
	return r3.Norm(v)
}

// Arms returns the incident segments of a node as seen from the node, in
// ascending segment order.
func (n *Network) Arms(id NodeID) ([]Arm, error) {
	node, ok := n.nodes[id]
	if !ok {
		return nil, NodeNotFoundError("arms", id)
	}
	arms := make([]Arm, 0, len(node.Segments))
	for _, sid := range node.Segments {
		s := n.segments[sid]
		nbr := s.Other(id)
		arms = append(arms, Arm{
			Segment:  sid,
			Neighbor: nbr,
			Burgers:  s.BurgersFrom(id),
			Vector:   n.box.MinImage(r3.Sub(n.nodes[nbr].Pos, node.Pos)),
			Plane:    s.Plane,
		})
	}
	return arms, nil
}

// Phase returns the current access phase.
func (n *Network) Phase() Phase {
	return n.phase
}

// Token grants the holder the access rights of one phase until released.
type Token struct {
	net      *Network
	prev     Phase
	released bool
}

// Acquire switches the network into phase p and returns the token restoring
// the previous phase on Release.
func (n *Network) Acquire(p Phase) *Token {
	t := &Token{net: n, prev: n.phase}
	n.phase = p
	return t
}

// Release restores the phase that was active before Acquire. Releasing twice
// is a no-op.
func (t *Token) Release() {
	if t.released {
		return
	}
	t.released = true
	t.net.phase = t.prev
}

func (n *Network) requireTopology(op string) error {
	if n.phase == PhaseSetup || n.phase == PhaseTopology {
		return nil
	}
	return NewError(op).Context("phase %s", n.phase).Cause(ErrPhaseViolation).Err()
}

func (n *Network) requireSetup(op string) error {
	if n.phase == PhaseSetup {
		return nil
	}
	return NewError(op).Context("phase %s", n.phase).Cause(ErrPhaseViolation).Err()
}

func (n *Network) requireMotion(op string) error {
	if n.phase != PhaseForce {
		return nil
	}
	return NewError(op).Context("phase %s", n.phase).Cause(ErrPhaseViolation).Err()
}

// Clone returns a deep copy that shares nothing with n. The clone starts in
// the setup phase.
func (n *Network) Clone() *Network {
	c := &Network{
		box:           n.box.Clone(),
		nodes:         make(map[NodeID]*Node, len(n.nodes)),
		segments:      make(map[SegmentID]*Segment, len(n.segments)),
		nextNodeID:    n.nextNodeID,
		nextSegmentID: n.nextSegmentID,
		tol:           n.tol,
		phase:         PhaseSetup,
	}
	for id, node := range n.nodes {
		c.nodes[id] = node.Clone()
	}
	for id, s := range n.segments {
		cp := *s
		c.segments[id] = &cp
	}
	return c
}

// Restore replaces the contents of n with a deep copy of from and returns n
// to the setup phase. Pointers to n stay valid.
func (n *Network) Restore(from *Network) {
	*n = *from.Clone()
}

// String returns a one-line summary
func (n *Network) String() string {
	return fmt.Sprintf("network{nodes=%d segments=%d phase=%s}", len(n.nodes), len(n.segments), n.phase)
}

func insertSorted(ids []SegmentID, id SegmentID) []SegmentID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeID(ids []SegmentID, id SegmentID) []SegmentID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
