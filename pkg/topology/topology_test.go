package topology

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/crystal"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

func pinnedSegment(t *testing.T, n *network.Network, x1, x2, b r3.Vec) network.SegmentID {
	t.Helper()
	a, err := n.AddNode(x1, network.Pinned)
	require.NoError(t, err)
	c, err := n.AddNode(x2, network.Pinned)
	require.NoError(t, err)
	s, err := n.AddSegment(a, c, b, r3.Cross(b, r3.Sub(x2, x1)))
	require.NoError(t, err)
	return s
}

// crossing builds two perpendicular pinned segments passing within gap of
// each other.
func crossing(t *testing.T, gap float64) *network.Network {
	t.Helper()
	n := network.New(cell.Cubic(100))
	pinnedSegment(t, n, r3.Vec{X: 40, Y: 50, Z: 50}, r3.Vec{X: 60, Y: 50, Z: 50}, r3.Vec{X: 1})
	pinnedSegment(t, n, r3.Vec{X: 50, Y: 40, Z: 50 + gap}, r3.Vec{X: 50, Y: 60, Z: 50 + gap}, r3.Vec{Y: 1})
	require.NoError(t, n.Verify())
	return n
}

func newEngine(t *testing.T, cfg Config, workers int) *Engine {
	t.Helper()
	e, err := New(cfg, WithRunner(parallel.New(workers).WithChunk(1)))
	require.NoError(t, err)
	return e
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"collision", func(c *Config) { c.CollisionDistance = 0 }},
		{"min", func(c *Config) { c.MinSegment = -1 }},
		{"max", func(c *Config) { c.MaxSegment = 6 }},
		{"area", func(c *Config) { c.RemeshArea = -1 }},
		{"screw", func(c *Config) { c.ScrewAngle = 2 }},
		{"ratio", func(c *Config) { c.CrossSlipRatio = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := DefaultConfig()
	c.MaxSegment = 0
	assert.NoError(t, c.Validate())
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("distance")
	require.NoError(t, err)
	assert.Equal(t, Distance, o)
	_, err = ParseOrder("random")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestCollisionMergesCrossingSegments(t *testing.T) {
	n := crossing(t, 1)
	e := newEngine(t, DefaultConfig(), 1)

	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Equal(t, StageResolved, e.Stage())
	assert.Equal(t, 1, report.Detected[Collision])
	assert.Equal(t, 1, report.Applied[Collision])
	assert.True(t, report.Changed())

	assert.Equal(t, 5, n.NumNodes())
	assert.Equal(t, 4, n.NumSegments())
	var junction network.NodeID
	for _, id := range n.NodeIDs() {
		if n.Degree(id) == 4 {
			junction = id
		}
	}
	require.NotZero(t, junction)
	p, _ := n.Position(junction)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(r3.Vec{X: 50, Y: 50, Z: 50.5}, p)), 1e-9)
	require.NoError(t, n.Verify())

	// the joined node already sits on both lines: nothing left to collide
	report, err = e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Detected[Collision])
}

func TestCollisionFarApartIgnored(t *testing.T) {
	n := crossing(t, 3)
	e := newEngine(t, DefaultConfig(), 1)
	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Zero(t, Total(report.Detected))
	assert.False(t, report.Changed())
}

func TestCollisionIndependentOfWorkers(t *testing.T) {
	var want *network.Snapshot
	for _, workers := range []int{1, 8} {
		n := crossing(t, 1.5)
		// a second, unrelated pair elsewhere in the box
		pinnedSegment(t, n, r3.Vec{X: 5, Y: 5, Z: 5}, r3.Vec{X: 5, Y: 25, Z: 5}, r3.Vec{Y: 1})
		pinnedSegment(t, n, r3.Vec{X: 96, Y: 15, Z: 5.5}, r3.Vec{X: 14, Y: 15, Z: 5.5}, r3.Vec{X: 1})

		e := newEngine(t, DefaultConfig(), workers)
		report, err := e.Update(context.Background(), n, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Applied[Collision], "workers %d", workers)

		snap := n.Snapshot()
		if want == nil {
			want = snap
			continue
		}
		assert.Equal(t, want, snap)
	}
}

func TestCollisionOfPinnedEndsSkipped(t *testing.T) {
	n := network.New(cell.Cubic(100))
	pinnedSegment(t, n, r3.Vec{X: 40, Y: 50, Z: 50}, r3.Vec{X: 60, Y: 50, Z: 50}, r3.Vec{X: 1})
	pinnedSegment(t, n, r3.Vec{X: 60.5, Y: 50, Z: 50.5}, r3.Vec{X: 60.5, Y: 70, Z: 50.5}, r3.Vec{Y: 1})
	e := newEngine(t, DefaultConfig(), 1)

	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Detected[Collision])
	assert.Equal(t, 1, report.Skipped[Collision])
	// refused before either segment was split
	assert.Equal(t, 4, n.NumNodes())
	assert.Equal(t, 2, n.NumSegments())
	require.NoError(t, n.Verify())
}

func TestUnplaceRestoresSplitSegment(t *testing.T) {
	n := crossing(t, 1)
	tok := n.Acquire(network.PhaseTopology)
	defer tok.Release()

	x1, x2, err := n.Endpoints(1)
	require.NoError(t, err)
	c, err := planContact(n, 1, x1, x2, 0.3, 1)
	require.NoError(t, err)
	require.Zero(t, c.node)

	node, err := c.place(n)
	require.NoError(t, err)
	assert.Equal(t, 5, n.NumNodes())
	assert.Equal(t, 3, n.NumSegments())

	require.NoError(t, c.unplace(n, node))
	assert.False(t, n.HasNode(node))
	assert.Equal(t, 4, n.NumNodes())
	assert.Equal(t, 2, n.NumSegments())
	assert.InDelta(t, 20, n.SegmentLength(1), 1e-9)
	require.NoError(t, n.Verify())

	// endpoints are never removed
	end, err := planContact(n, 1, x1, x2, 0.01, 1)
	require.NoError(t, err)
	require.NotZero(t, end.node)
	require.NoError(t, end.unplace(n, end.node))
	assert.True(t, n.HasNode(end.node))
}

// fourArmNode builds two lines crossing at a free node c, both continuing
// to pinned ends.
func fourArmNode(t *testing.T, b1, b2 r3.Vec) (*network.Network, network.NodeID) {
	t.Helper()
	n := network.New(cell.Cubic(100))
	c := r3.Vec{X: 50, Y: 50, Z: 50}
	center, err := n.AddNode(c, network.Free)
	require.NoError(t, err)
	d1 := geom.SafeUnit(r3.Vec{X: 1, Y: 0.3})
	d2 := geom.SafeUnit(r3.Vec{X: 1, Y: -0.3})
	add := func(p r3.Vec) network.NodeID {
		id, err := n.AddNode(p, network.Pinned)
		require.NoError(t, err)
		return id
	}
	p1 := add(r3.Add(c, r3.Scale(-10, d1)))
	p2 := add(r3.Add(c, r3.Scale(10, d1)))
	q1 := add(r3.Add(c, r3.Scale(-10, d2)))
	q2 := add(r3.Add(c, r3.Scale(10, d2)))
	for _, s := range []struct {
		a, b network.NodeID
		bv   r3.Vec
	}{{p1, center, b1}, {center, p2, b1}, {q1, center, b2}, {center, q2, b2}} {
		_, err := n.AddSegment(s.a, s.b, s.bv, r3.Vec{Z: 1})
		require.NoError(t, err)
	}
	require.NoError(t, n.Verify())
	return n, center
}

func TestJunctionByFrankRule(t *testing.T) {
	b1 := geom.SafeUnit(r3.Vec{X: 1, Y: 1})
	b2 := geom.SafeUnit(r3.Vec{X: -1, Z: 1})
	n, center := fourArmNode(t, b1, b2)
	e := newEngine(t, DefaultConfig(), 2)

	events, err := e.Detect(context.Background(), n, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, Junction, ev.Kind)
	assert.Equal(t, center, ev.Node)
	assert.InDelta(t, 1, ev.Gain, 1e-9)
	// equal gain on both sides: the group with lower segment ids wins
	assert.Equal(t, []network.SegmentID{1, 3}, ev.Arms)
	assert.Less(t, ev.Direction.X, 0.0)

	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied[Junction])
	assert.Equal(t, 6, n.NumNodes())
	assert.Equal(t, 5, n.NumSegments())
	assert.Equal(t, 3, n.Degree(center))

	// the junction segment carries b1 + b2
	var found bool
	for _, sid := range n.SegmentIDs() {
		s, _ := n.Segment(sid)
		if s.N1 != center && s.N2 != center {
			continue
		}
		if math.Abs(r3.Norm(s.Burgers)-1) < 1e-12 && geom.Parallel(s.Burgers, r3.Add(b1, b2), 1e-9) {
			found = true
			assert.InDelta(t, DefaultConfig().MinSegment/2, n.SegmentLength(sid), 1e-9)
		}
	}
	assert.True(t, found)
}

func TestJunctionNotFavourable(t *testing.T) {
	// perpendicular Burgers vectors gain nothing from a junction
	n, _ := fourArmNode(t, r3.Vec{X: 1}, r3.Vec{Y: 1})
	e := newEngine(t, DefaultConfig(), 1)
	events, err := e.Detect(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// screwRing builds a periodic screw line along [1-10] on the (111) plane.
func screwRing(t *testing.T) (*network.Network, []network.NodeID) {
	t.Helper()
	n := network.New(cell.Cubic(100))
	ids := make([]network.NodeID, 10)
	for i := range ids {
		id, err := n.AddNode(r3.Vec{X: 5 + 10*float64(i), Y: 95 - 10*float64(i), Z: 50}, network.Free)
		require.NoError(t, err)
		ids[i] = id
	}
	b := geom.SafeUnit(r3.Vec{X: 1, Y: -1})
	for i := range ids {
		_, err := n.AddSegment(ids[i], ids[(i+1)%len(ids)], b, geom.SafeUnit(r3.Vec{X: 1, Y: 1, Z: 1}))
		require.NoError(t, err)
	}
	require.NoError(t, n.Verify())
	return n, ids
}

func TestCrossSlip(t *testing.T) {
	n, ids := screwRing(t)
	cfg := DefaultConfig()
	cfg.Crystal = crystal.FCC
	e := newEngine(t, cfg, 4)

	alt := geom.SafeUnit(r3.Vec{X: 1, Y: 1, Z: -1})
	line := geom.SafeUnit(r3.Vec{X: 1, Y: -1})
	push := r3.Scale(0.1, geom.SafeUnit(r3.Cross(alt, line)))
	forces := make(map[network.NodeID]r3.Vec)
	for _, id := range ids {
		forces[id] = push
	}

	report, err := e.Update(context.Background(), n, forces)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Detected[CrossSlip])
	// neighbors share nodes, so every second segment waits a step
	assert.Equal(t, 5, report.Applied[CrossSlip])
	assert.Equal(t, 5, report.Deferred[CrossSlip])

	s, err := n.Segment(1)
	require.NoError(t, err)
	assert.True(t, geom.Parallel(s.Plane, alt, 1e-9))
	s, err = n.Segment(2)
	require.NoError(t, err)
	assert.True(t, geom.Parallel(s.Plane, r3.Vec{X: 1, Y: 1, Z: 1}, 1e-9))

	// without forces cross-slip is not considered
	report, err = e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Detected[CrossSlip])
}

func TestCrossSlipBelowRatio(t *testing.T) {
	n, ids := screwRing(t)
	e := newEngine(t, DefaultConfig(), 1)
	// push on the current plane only
	line := geom.SafeUnit(r3.Vec{X: 1, Y: -1})
	push := geom.SafeUnit(r3.Cross(geom.SafeUnit(r3.Vec{X: 1, Y: 1, Z: 1}), line))
	forces := make(map[network.NodeID]r3.Vec)
	for _, id := range ids {
		forces[id] = push
	}
	events, err := e.Detect(context.Background(), n, forces)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSortEvents(t *testing.T) {
	events := []Event{
		{Kind: CrossSlip, Segments: [2]network.SegmentID{1}},
		{Kind: Collision, Segments: [2]network.SegmentID{4, 9}, Distance: 0.5},
		{Kind: Collision, Segments: [2]network.SegmentID{2, 7}, Distance: 1.5},
		{Kind: Junction, Node: 3},
	}

	canonical := append([]Event(nil), events...)
	sortEvents(canonical, Canonical)
	assert.Equal(t, []Kind{Collision, Collision, Junction, CrossSlip},
		[]Kind{canonical[0].Kind, canonical[1].Kind, canonical[2].Kind, canonical[3].Kind})
	assert.Equal(t, network.SegmentID(2), canonical[0].Segments[0])

	byDistance := append([]Event(nil), events...)
	sortEvents(byDistance, Distance)
	assert.Equal(t, Junction, byDistance[0].Kind)
	assert.Equal(t, CrossSlip, byDistance[1].Kind)
	assert.Equal(t, network.SegmentID(4), byDistance[2].Segments[0])
	assert.Equal(t, network.SegmentID(2), byDistance[3].Segments[0])
}

func TestOverlappingEventsDeferred(t *testing.T) {
	b1 := geom.SafeUnit(r3.Vec{X: 1, Y: 1})
	b2 := geom.SafeUnit(r3.Vec{X: -1, Z: 1})
	tests := []struct {
		name     string
		order    Order
		applied  Kind
		deferred Kind
	}{
		{"canonical", Canonical, Collision, Junction},
		{"distance", Distance, Junction, Collision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, center := fourArmNode(t, b1, b2)
			// a line passing the middle of the arm p1-center, off the other arms
			d1 := geom.SafeUnit(r3.Vec{X: 1, Y: 0.3})
			side := r3.Vec{X: 0.3, Y: -1}
			mid := r3.Add(r3.Vec{X: 50, Y: 50, Z: 50}, r3.Scale(-5, d1))
			p := r3.Add(mid, geom.SafeUnit(side))
			pinnedSegment(t, n, r3.Add(p, r3.Vec{Z: -5}), r3.Add(p, r3.Vec{Z: 5}), r3.Vec{X: 1})

			cfg := DefaultConfig()
			cfg.Order = tt.order
			e := newEngine(t, cfg, 2)

			report, err := e.Update(context.Background(), n, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Detected[Collision])
			assert.Equal(t, 1, report.Detected[Junction])
			assert.Equal(t, 1, report.Applied[tt.applied])
			assert.Equal(t, 1, report.Deferred[tt.deferred])
			assert.Zero(t, report.Applied[tt.deferred])
			assert.True(t, n.HasNode(center))
			require.NoError(t, n.Verify())
		})
	}
}

func TestRefine(t *testing.T) {
	// the segment must stay shorter than half the box or its closest image folds
	n := network.New(cell.Cubic(400))
	pinnedSegment(t, n, r3.Vec{X: 20, Y: 50, Z: 50}, r3.Vec{X: 140, Y: 50, Z: 50}, r3.Vec{X: 1})
	e := newEngine(t, DefaultConfig(), 1)

	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Refined)
	assert.Equal(t, 3, n.NumSegments())
	for _, sid := range n.SegmentIDs() {
		assert.InDelta(t, 40, n.SegmentLength(sid), 1e-9)
	}
}

func TestCoarsen(t *testing.T) {
	n := network.New(cell.Cubic(100))
	xs := []float64{10, 12, 30, 50}
	ids := make([]network.NodeID, len(xs))
	for i, x := range xs {
		c := network.Free
		if i == 0 || i == len(xs)-1 {
			c = network.Pinned
		}
		id, err := n.AddNode(r3.Vec{X: x, Y: 50, Z: 50}, c)
		require.NoError(t, err)
		ids[i] = id
	}
	for i := 0; i+1 < len(ids); i++ {
		_, err := n.AddSegment(ids[i], ids[i+1], r3.Vec{Y: 1}, r3.Vec{Z: 1})
		require.NoError(t, err)
	}
	e := newEngine(t, DefaultConfig(), 1)

	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Coarsened)
	assert.Equal(t, 3, n.NumNodes())
	assert.False(t, n.HasNode(ids[1]))
	// the short segment collapsed; its neighbor now starts at the pinned end
	assert.False(t, n.HasSegment(1))
	assert.InDelta(t, 20, n.SegmentLength(2), 1e-9)
}

func TestTinyLoopAnnihilates(t *testing.T) {
	n := network.New(cell.Cubic(100))
	pts := []r3.Vec{{X: 50, Y: 50, Z: 50}, {X: 52, Y: 50, Z: 50}, {X: 51, Y: 51.5, Z: 50}}
	ids := make([]network.NodeID, len(pts))
	for i, p := range pts {
		id, err := n.AddNode(p, network.Free)
		require.NoError(t, err)
		ids[i] = id
	}
	for i := range ids {
		_, err := n.AddSegment(ids[i], ids[(i+1)%len(ids)], r3.Vec{X: 1}, r3.Vec{Z: 1})
		require.NoError(t, err)
	}
	cfg := DefaultConfig()
	cfg.DisableCollisions = true
	e := newEngine(t, cfg, 1)

	report, err := e.Update(context.Background(), n, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Coarsened)
	assert.Zero(t, n.NumNodes())
	assert.Zero(t, n.NumSegments())
}

func TestReportAdd(t *testing.T) {
	a := &Report{Refined: 1}
	a.Applied[Collision] = 2
	b := &Report{Removed: 3}
	b.Applied[Collision] = 1
	b.Skipped[Junction] = 4
	a.Add(b)
	a.Add(nil)
	assert.Equal(t, 3, a.Applied[Collision])
	assert.Equal(t, 4, a.Skipped[Junction])
	assert.Equal(t, 3, a.Removed)
	assert.Contains(t, a.String(), "collision=0/3/0/0")
}
