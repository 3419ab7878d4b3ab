package network

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/hashicorp/go-multierror"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// snapshotMagic prefixes compressed snapshots.
var snapshotMagic = [4]byte{'D', 'D', 'S', 'Z'}

// ErrSnapshotChecksum is returned when a compressed snapshot is corrupt.
var ErrSnapshotChecksum = errors.New("snapshot checksum mismatch")

// Snapshot is the plain serializable form of a network.
type Snapshot struct {
	Box           BoxState        `json:"box"`
	Nodes         []NodeState     `json:"nodes"`
	Segments      []SegmentState  `json:"segments"`
	NextNodeID    uint64          `json:"next_node_id"`
	NextSegmentID uint64          `json:"next_segment_id"`
	Tolerances    *Tolerances     `json:"tolerances,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

// BoxState describes the periodic cell.
type BoxState struct {
	Origin   [3]float64    `json:"origin"`
	Vectors  [3][3]float64 `json:"vectors"` // lattice vectors, one per row
	Periodic [3]bool       `json:"periodic"`
}

// NodeState is a serialized node.
type NodeState struct {
	ID         NodeID     `json:"id"`
	Pos        [3]float64 `json:"pos"`
	Vel        [3]float64 `json:"vel"`
	Constraint string     `json:"constraint"`
	Normal     [3]float64 `json:"normal"`
}

// SegmentState is a serialized segment.
type SegmentState struct {
	ID      SegmentID  `json:"id"`
	N1      NodeID     `json:"n1"`
	N2      NodeID     `json:"n2"`
	Burgers [3]float64 `json:"burgers"`
	Plane   [3]float64 `json:"plane"`
}

// Snapshot dumps the network in id order.
func (n *Network) Snapshot() *Snapshot {
	s := &Snapshot{
		NextNodeID:    n.nextNodeID,
		NextSegmentID: n.nextSegmentID,
		Nodes:         make([]NodeState, 0, len(n.nodes)),
		Segments:      make([]SegmentState, 0, len(n.segments)),
	}
	tol := n.tol
	s.Tolerances = &tol

	s.Box.Origin = geom.ToArray(n.box.Origin)
	for i := 0; i < 3; i++ {
		s.Box.Vectors[i] = geom.ToArray(n.box.Vector(i))
	}
	s.Box.Periodic = n.box.Periodic

	for _, id := range n.NodeIDs() {
		node := n.nodes[id]
		s.Nodes = append(s.Nodes, NodeState{
			ID:         id,
			Pos:        geom.ToArray(node.Pos),
			Vel:        geom.ToArray(node.Vel),
			Constraint: node.Constraint.String(),
			Normal:     geom.ToArray(node.Normal),
		})
	}
	for _, id := range n.SegmentIDs() {
		seg := n.segments[id]
		s.Segments = append(s.Segments, SegmentState{
			ID:      id,
			N1:      seg.N1,
			N2:      seg.N2,
			Burgers: geom.ToArray(seg.Burgers),
			Plane:   geom.ToArray(seg.Plane),
		})
	}
	return s
}

// ParseConstraint maps a constraint name back to its value.
func ParseConstraint(name string) (Constraint, error) {
	switch name {
	case "free", "":
		return Free, nil
	case "surface":
		return Surface, nil
	case "pinned":
		return Pinned, nil
	default:
		return Free, fmt.Errorf("unknown constraint %q", name)
	}
}

// FromSnapshot rebuilds a network and validates it. Every problem found is
// collected into a single error wrapping ErrMalformedInput.
func FromSnapshot(s *Snapshot, opts ...Option) (*Network, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrMalformedInput)
	}

	box, err := cell.NewBox(
		geom.FromArray(s.Box.Origin),
		geom.FromArray(s.Box.Vectors[0]),
		geom.FromArray(s.Box.Vectors[1]),
		geom.FromArray(s.Box.Vectors[2]),
		s.Box.Periodic,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	if s.Tolerances != nil {
		opts = append([]Option{WithTolerances(*s.Tolerances)}, opts...)
	}
	n := New(box, opts...)

	var merr *multierror.Error
	var maxNode, maxSeg uint64

	for _, ns := range s.Nodes {
		if ns.ID == 0 {
			merr = multierror.Append(merr, fmt.Errorf("node with reserved id 0"))
			continue
		}
		if _, dup := n.nodes[ns.ID]; dup {
			merr = multierror.Append(merr, fmt.Errorf("duplicate node id %d", ns.ID))
			continue
		}
		c, err := ParseConstraint(ns.Constraint)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("node %d: %w", ns.ID, err))
		}
		pos := geom.FromArray(ns.Pos)
		if !geom.Finite(pos) {
			merr = multierror.Append(merr, fmt.Errorf("node %d: non-finite position", ns.ID))
			continue
		}
		n.nodes[ns.ID] = &Node{
			ID:         ns.ID,
			Pos:        box.Wrap(pos),
			Vel:        geom.FromArray(ns.Vel),
			Constraint: c,
			Normal:     geom.SafeUnit(geom.FromArray(ns.Normal)),
			Segments:   make([]SegmentID, 0, 2),
		}
		maxNode = max(maxNode, uint64(ns.ID))
	}

	type pairKey struct{ a, b NodeID }
	pairs := make(map[pairKey]SegmentID)
	for _, ss := range s.Segments {
		if ss.ID == 0 {
			merr = multierror.Append(merr, fmt.Errorf("segment with reserved id 0"))
			continue
		}
		if _, dup := n.segments[ss.ID]; dup {
			merr = multierror.Append(merr, fmt.Errorf("duplicate segment id %d", ss.ID))
			continue
		}
		a, okA := n.nodes[ss.N1]
		b, okB := n.nodes[ss.N2]
		if !okA || !okB {
			merr = multierror.Append(merr, fmt.Errorf("segment %d references missing node (%d-%d)", ss.ID, ss.N1, ss.N2))
			continue
		}
		if ss.N1 == ss.N2 {
			merr = multierror.Append(merr, fmt.Errorf("segment %d connects node %d to itself", ss.ID, ss.N1))
			continue
		}
		burgers := geom.FromArray(ss.Burgers)
		if r3.Norm(burgers) <= n.tol.Burgers || !geom.Finite(burgers) {
			merr = multierror.Append(merr, fmt.Errorf("segment %d: %w", ss.ID, ErrZeroBurgers))
			continue
		}
		key := pairKey{min(ss.N1, ss.N2), max(ss.N1, ss.N2)}
		if prev, dup := pairs[key]; dup {
			merr = multierror.Append(merr, fmt.Errorf("segments %d and %d join the same nodes", prev, ss.ID))
			continue
		}
		pairs[key] = ss.ID

		n.segments[ss.ID] = &Segment{
			ID:      ss.ID,
			N1:      ss.N1,
			N2:      ss.N2,
			Burgers: burgers,
			Plane:   geom.SafeUnit(geom.FromArray(ss.Plane)),
		}
		a.Segments = insertSorted(a.Segments, ss.ID)
		b.Segments = insertSorted(b.Segments, ss.ID)
		maxSeg = max(maxSeg, uint64(ss.ID))
	}

	for _, id := range n.NodeIDs() {
		if err := n.verifyNode(id); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	n.nextNodeID = max(s.NextNodeID, maxNode+1)
	n.nextSegmentID = max(s.NextSegmentID, maxSeg+1)
	return n, nil
}

// WriteSnapshot encodes the network as JSON, see Snapshot.Encode.
func (n *Network) WriteSnapshot(w io.Writer, compress bool) error {
	return n.Snapshot().Encode(w, compress)
}

// Encode writes s as JSON. With compress set the JSON is snappy-encoded
// behind a header: [magic:4][length:4][crc32:4][data:N].
func (s *Snapshot) Encode(w io.Writer, compress bool) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if !compress {
		_, err = w.Write(data)
		return err
	}

	compressed := snappy.Encode(nil, data)
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(compressed))); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, crc32.ChecksumIEEE(compressed)); err != nil {
		return err
	}
	if _, err := bw.Write(compressed); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot, detecting the
// compressed form by its header.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if len(raw) >= 12 && bytes.Equal(raw[:4], snapshotMagic[:]) {
		length := binary.BigEndian.Uint32(raw[4:8])
		checksum := binary.BigEndian.Uint32(raw[8:12])
		body := raw[12:]
		if uint32(len(body)) != length {
			return nil, fmt.Errorf("%w: truncated snapshot (%d of %d bytes)", ErrMalformedInput, len(body), length)
		}
		if crc32.ChecksumIEEE(body) != checksum {
			return nil, ErrSnapshotChecksum
		}
		raw, err = snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
		}
	}

	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return &s, nil
}

// Load reads and validates a network in one call.
func Load(r io.Reader, opts ...Option) (*Network, error) {
	s, err := ReadSnapshot(r)
	if err != nil {
		return nil, err
	}
	return FromSnapshot(s, opts...)
}
