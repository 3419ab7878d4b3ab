package network

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "snappy"
		}
		t.Run(name, func(t *testing.T) {
			n, nodes, segs := newSquareLoop(t, 10)
			_, _, err := n.SplitSegment(segs[2], r3.Vec{X: 50, Y: 60, Z: 50})
			require.NoError(t, err)
			require.NoError(t, n.SetConstraint(nodes[0], Pinned))

			var buf bytes.Buffer
			require.NoError(t, n.WriteSnapshot(&buf, compress))
			if compress {
				assert.Equal(t, "DDSZ", buf.String()[:4])
			}

			loaded, err := Load(&buf)
			require.NoError(t, err)
			assert.Equal(t, n.NodeIDs(), loaded.NodeIDs())
			assert.Equal(t, n.SegmentIDs(), loaded.SegmentIDs())
			for _, id := range n.SegmentIDs() {
				want, _ := n.Segment(id)
				got, _ := loaded.Segment(id)
				assert.Equal(t, want, got)
			}
			c, _ := loaded.ConstraintOf(nodes[0])
			assert.Equal(t, Pinned, c)
			assert.Equal(t, n.nextNodeID, loaded.nextNodeID)
			assert.InDelta(t, n.Stats().LineLength, loaded.Stats().LineLength, 1e-9)
			assert.NoError(t, loaded.Verify())
		})
	}
}

func TestReadSnapshotDetectsCorruption(t *testing.T) {
	n, _, _ := newSquareLoop(t, 10)
	var buf bytes.Buffer
	require.NoError(t, n.WriteSnapshot(&buf, true))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff
	_, err := ReadSnapshot(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrSnapshotChecksum)

	_, err = ReadSnapshot(strings.NewReader("{not json"))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestFromSnapshotCollectsAllProblems(t *testing.T) {
	n, _, _ := newSquareLoop(t, 10)
	s := n.Snapshot()

	// dangling reference, duplicate id, zero Burgers vector
	s.Segments = append(s.Segments,
		SegmentState{ID: 10, N1: 1, N2: 42, Burgers: [3]float64{1, 0, 0}},
		SegmentState{ID: 1, N1: 1, N2: 3, Burgers: [3]float64{1, 0, 0}},
		SegmentState{ID: 11, N1: 1, N2: 3, Burgers: [3]float64{0, 0, 0}},
	)
	s.Nodes = append(s.Nodes, NodeState{ID: 2, Constraint: "free"})

	_, err := FromSnapshot(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 4)
}

func TestFromSnapshotRejectsUnbalancedFreeNode(t *testing.T) {
	n, _, _ := newSquareLoop(t, 10)
	s := n.Snapshot()
	s.Segments = s.Segments[:3]

	_, err := FromSnapshot(s)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.ErrorIs(t, err, ErrInvariant)

	// the same open line is legal once its ends are pinned
	s.Nodes[0].Constraint = "pinned"
	s.Nodes[3].Constraint = "pinned"
	loaded, err := FromSnapshot(s)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.NumSegments())
}

func TestSnapshotJSONShape(t *testing.T) {
	n, _, _ := newSquareLoop(t, 10)
	data, err := json.Marshal(n.Snapshot())
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	for _, key := range []string{"box", "nodes", "segments", "next_node_id", "next_segment_id"} {
		assert.Contains(t, generic, key)
	}
}
