package force

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
	"github.com/dd0wney/cluso-disloc/pkg/spatial"
)

var testMaterial = Material{Mu: 1, Nu: 0.3, CoreRadius: 1}

// periodicLine adds a straight line along z at (x, y) that closes through the
// periodic boundary of the box.
func periodicLine(t *testing.T, n *network.Network, x, y, spacing float64, b r3.Vec) []network.NodeID {
	t.Helper()
	lz := n.Box().Lengths()[2]
	count := int(math.Round(lz / spacing))
	ids := make([]network.NodeID, count)
	for i := range ids {
		id, err := n.AddNode(r3.Vec{X: x, Y: y, Z: float64(i) * spacing}, network.Free)
		require.NoError(t, err)
		ids[i] = id
	}
	for i := range ids {
		_, err := n.AddSegment(ids[i], ids[(i+1)%count], b, r3.Vec{X: 1})
		require.NoError(t, err)
	}
	return ids
}

func squareLoop(t *testing.T, n *network.Network, c r3.Vec, half float64, b, plane r3.Vec) {
	t.Helper()
	u := geom.SafeUnit(r3.Cross(plane, r3.Vec{X: 0.3, Y: 0.7, Z: 0.1}))
	v := r3.Cross(plane, u)
	corners := []r3.Vec{
		r3.Add(c, r3.Add(r3.Scale(-half, u), r3.Scale(-half, v))),
		r3.Add(c, r3.Add(r3.Scale(half, u), r3.Scale(-half, v))),
		r3.Add(c, r3.Add(r3.Scale(half, u), r3.Scale(half, v))),
		r3.Add(c, r3.Add(r3.Scale(-half, u), r3.Scale(half, v))),
	}
	ids := make([]network.NodeID, len(corners))
	for i, p := range corners {
		id, err := n.AddNode(p, network.Free)
		require.NoError(t, err)
		ids[i] = id
	}
	for i := range ids {
		_, err := n.AddSegment(ids[i], ids[(i+1)%len(ids)], b, plane)
		require.NoError(t, err)
	}
}

func TestMaterialValidate(t *testing.T) {
	require.NoError(t, testMaterial.Validate())
	bad := []Material{
		{Mu: 0, Nu: 0.3, CoreRadius: 1},
		{Mu: 1, Nu: 0.5, CoreRadius: 1},
		{Mu: 1, Nu: 0.3, CoreRadius: 0},
		{Mu: 1, Nu: 0.3, CoreRadius: 1, CoreEnergy: -1},
	}
	for _, m := range bad {
		assert.ErrorIs(t, m.Validate(), ErrInvalidMaterial, "%+v", m)
	}
	assert.InDelta(t, 1.5, testMaterial.Lame(), 1e-12)
	assert.InDelta(t, math.Log(10)/(4*math.Pi), testMaterial.Ecore(), 1e-12)
}

func TestScrewStress(t *testing.T) {
	k := NewKernel(Material{Mu: 1, Nu: 0.3, CoreRadius: 0.01}, 4, 8)
	d := 5.0
	x1 := r3.Vec{Z: -500}
	x2 := r3.Vec{Z: 500}
	s := k.SegmentStress(x1, x2, r3.Vec{Z: 1}, r3.Vec{X: d}, 1000)

	want := 1 / (2 * math.Pi * d)
	assert.InEpsilon(t, want, s[1][2], 1e-3)
	assert.InDelta(t, 0, s[0][2], 1e-6)
	assert.InDelta(t, 0, s[0][0], 1e-6)
	assert.InDelta(t, s[1][2], s[2][1], 1e-15)
}

func TestEdgeStress(t *testing.T) {
	nu := 0.3
	k := NewKernel(Material{Mu: 1, Nu: nu, CoreRadius: 0.01}, 4, 8)
	d := 5.0
	s := k.SegmentStress(r3.Vec{Z: -500}, r3.Vec{Z: 500}, r3.Vec{X: 1}, r3.Vec{X: d}, 1000)

	want := 1 / (2 * math.Pi * (1 - nu) * d)
	assert.InEpsilon(t, want, s[0][1], 1e-3)
	// on the glide plane away from the core only the shear survives
	assert.InDelta(t, 0, s[0][0], 1e-6)
	assert.InDelta(t, 0, s[1][1], 1e-6)
}

func TestSelfForceBalanced(t *testing.T) {
	x1 := r3.Vec{X: 1, Y: 2, Z: 3}
	x2 := r3.Vec{X: 6, Y: 4, Z: 3.5}
	for _, b := range []r3.Vec{{X: 1}, {Y: 1}, {X: 0.5, Y: 0.5, Z: 0.7}} {
		f1, f2 := testMaterial.SelfForce(x1, x2, b)
		assert.InDelta(t, 0, r3.Norm(r3.Add(f1, f2)), 1e-12)
	}

	// a screw segment only feels line tension pulling its ends together
	t2 := geom.SafeUnit(r3.Sub(x2, x1))
	_, f2 := testMaterial.SelfForce(x1, x2, t2)
	assert.Less(t, r3.Dot(f2, t2), 0.0)
	assert.InDelta(t, 0, r3.Norm(r3.Cross(f2, t2)), 1e-12)

	f1, f2 := testMaterial.SelfForce(x1, x1, r3.Vec{X: 1})
	assert.Equal(t, r3.Vec{}, f1)
	assert.Equal(t, r3.Vec{}, f2)
}

func TestParallelScrewsAttract(t *testing.T) {
	n := network.New(cell.Cubic(100))
	d := 5.0
	lineA := periodicLine(t, n, 50-d/2, 50, 5, r3.Vec{Z: 1})
	periodicLine(t, n, 50+d/2, 50, 5, r3.Vec{Z: -1})
	require.NoError(t, n.Verify())

	cfg := DefaultConfig()
	cfg.QuadraturePoints = 4
	cfg.DisableSelfForce = true
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	forces, err := e.Compute(context.Background(), n, nil)
	require.NoError(t, err)

	want := 1 / (2 * math.Pi * d)
	for _, id := range lineA {
		f := r3.Scale(1/5.0, forces.Node(id))
		assert.InEpsilon(t, want, f.X, 0.05, "node %d", id)
		assert.InDelta(t, 0, f.Y, 1e-3*want)
		assert.InDelta(t, 0, f.Z, 1e-3*want)
	}
}

func buildMixed(t *testing.T) *network.Network {
	t.Helper()
	n := network.New(cell.Cubic(60))
	squareLoop(t, n, r3.Vec{X: 30, Y: 30, Z: 30}, 6, r3.Vec{X: 1, Y: 1}, geom.SafeUnit(r3.Vec{X: 1, Y: -1, Z: 1}))
	squareLoop(t, n, r3.Vec{X: 33, Y: 27, Z: 31}, 4, r3.Vec{Y: 1, Z: -1}, geom.SafeUnit(r3.Vec{X: 1, Y: 1, Z: 1}))
	squareLoop(t, n, r3.Vec{X: 2, Y: 58, Z: 30}, 5, r3.Vec{X: 1, Z: 1}, geom.SafeUnit(r3.Vec{X: -1, Y: 1, Z: 1}))
	require.NoError(t, n.Verify())
	return n
}

func TestComputeIndependentOfWorkers(t *testing.T) {
	n := buildMixed(t)
	cfg := DefaultConfig()
	cfg.Cutoff = 20
	cfg.GridSize = 16
	cfg.Applied[0][1], cfg.Applied[1][0] = 1e-3, 1e-3

	var want *Forces
	for _, workers := range []int{1, 2, 8} {
		e, err := NewEngine(cfg, WithRunner(parallel.New(workers).WithChunk(2)))
		require.NoError(t, err)
		got, err := e.Compute(context.Background(), n, nil)
		require.NoError(t, err)
		if want == nil {
			want = got
			continue
		}
		// bitwise identical
		assert.Equal(t, want.Nodes, got.Nodes, "workers %d", workers)
		assert.Equal(t, want.Pairs, got.Pairs)
	}
	assert.Positive(t, want.Pairs)
}

func TestPairOrderIndependence(t *testing.T) {
	n := buildMixed(t)
	cfg := DefaultConfig()
	cfg.Cutoff = 20
	cfg.DisableSelfForce = true
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	ix, err := spatial.New(n.Box(), cfg.Cutoff)
	require.NoError(t, err)
	ix.Rebuild(n)
	forces, err := e.Compute(context.Background(), n, ix)
	require.NoError(t, err)

	// accumulate the same pairs backwards
	sum := make(map[network.NodeID]r3.Vec)
	pairs := ix.Pairs()
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		sa, _ := n.Segment(p.A)
		sb, _ := n.Segment(p.B)
		a1, a2, _ := n.Endpoints(p.A)
		b1, b2, _ := n.Endpoints(p.B)
		shift := r3.Sub(n.Box().ClosestImage(geom.Midpoint(a1, a2), geom.Midpoint(b1, b2)), geom.Midpoint(b1, b2))
		b1, b2 = r3.Add(b1, shift), r3.Add(b2, shift)
		if _, _, d2 := geom.ClosestPoints(a1, a2, b1, b2); d2 > cfg.Cutoff*cfg.Cutoff {
			continue
		}
		fa1, fa2, fb1, fb2 := e.Kernel().PairForce(a1, a2, sa.Burgers, b1, b2, sb.Burgers)
		sum[sa.N1] = r3.Add(sum[sa.N1], fa1)
		sum[sa.N2] = r3.Add(sum[sa.N2], fa2)
		sum[sb.N1] = r3.Add(sum[sb.N1], fb1)
		sum[sb.N2] = r3.Add(sum[sb.N2], fb2)
	}
	for id, f := range forces.Nodes {
		assert.InDelta(t, 0, r3.Norm(r3.Sub(f, sum[id])), 1e-10, "node %d", id)
	}
}

func TestInteractionIsBalanced(t *testing.T) {
	n := buildMixed(t)
	cfg := DefaultConfig()
	cfg.Cutoff = 20
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	forces, err := e.Compute(context.Background(), n, nil)
	require.NoError(t, err)

	// self forces cancel per segment; the interaction of isolated loops
	// nearly cancels in total
	var total r3.Vec
	for _, sf := range forces.Segments {
		total = r3.Add(total, r3.Add(sf.F1, sf.F2))
	}
	assert.Less(t, r3.Norm(total), 0.1*forces.MaxForce())
	assert.Len(t, forces.Nodes, n.NumNodes())
}

func TestAppliedStressGlideForce(t *testing.T) {
	n := network.New(cell.Cubic(100))
	lineA := periodicLine(t, n, 50, 50, 10, r3.Vec{X: 1})
	cfg := DefaultConfig()
	cfg.DisableSelfForce = true
	var tau geom.Tensor
	tau[0][1], tau[1][0] = 0.01, 0.01
	cfg.Applied = tau
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	forces, err := e.Compute(context.Background(), n, nil)
	require.NoError(t, err)
	// an edge line along z with b along x glides along x under sigma_xy
	for _, id := range lineA {
		f := forces.Node(id)
		assert.InDelta(t, 0.01*10, f.X, 1e-9)
		assert.InDelta(t, 0, f.Y, 1e-12)
	}
	assert.Equal(t, tau, e.NodeStress(r3.Vec{X: 3}))
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cutoff = 0
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Material.Nu = 0.7
	_, err = NewEngine(cfg)
	assert.ErrorIs(t, err, ErrInvalidMaterial)

	cfg = DefaultConfig()
	cfg.GridSize = -1
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestComputeRespectsCancellation(t *testing.T) {
	n := buildMixed(t)
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Compute(ctx, n, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFarFieldScrewLattice(t *testing.T) {
	n := network.New(cell.Cubic(100))
	periodicLine(t, n, 50, 50, 10, r3.Vec{Z: 1})

	ff := NewFarField(32, Material{Mu: 1, Nu: 0.3, CoreRadius: 1}, 3.2, parallel.New(4))
	assert.Equal(t, geom.Tensor{}, ff.Stress(r3.Vec{X: 1}))
	ff.Update(n)

	d := 10.0
	s := ff.Stress(r3.Vec{X: 50 + d, Y: 50, Z: 50})
	want := 1 / (2 * math.Pi * d)
	assert.InEpsilon(t, want, s[1][2], 0.15)
	assert.InDelta(t, 0, s[0][2], 0.05*want)
	assert.InDelta(t, 0, s[0][0], 0.05*want)

	// stress is odd about the line
	m := ff.Stress(r3.Vec{X: 50 - d, Y: 50, Z: 20})
	assert.InDelta(t, -s[1][2], m[1][2], 0.05*want)
}

func TestFarFieldEmptyAndLinear(t *testing.T) {
	n := network.New(cell.Cubic(40))
	ff := NewFarField(8, testMaterial, 5, nil)
	ff.Update(n)
	assert.Equal(t, geom.Tensor{}, ff.Stress(r3.Vec{X: 3, Y: 7, Z: 11}))

	a := network.New(cell.Cubic(40))
	squareLoop(t, a, r3.Vec{X: 20, Y: 20, Z: 20}, 5, r3.Vec{X: 1}, r3.Vec{Z: 1})
	b := network.New(cell.Cubic(40))
	squareLoop(t, b, r3.Vec{X: 20, Y: 20, Z: 20}, 5, r3.Vec{X: -1}, r3.Vec{Z: 1})

	fa := NewFarField(16, testMaterial, 3, nil)
	fa.Update(a)
	fb := NewFarField(16, testMaterial, 3, nil)
	fb.Update(b)
	p := r3.Vec{X: 31, Y: 22, Z: 24}
	sa, sb := fa.Stress(p), fb.Stress(p)
	assert.Positive(t, sa.Norm())
	assert.InDelta(t, 0, sa.Add(sb).Norm(), 1e-12*sa.Norm()+1e-15)
	assert.InDelta(t, 0, sa.MaxAbsDiff(sa.Transpose()), 1e-15)
}
