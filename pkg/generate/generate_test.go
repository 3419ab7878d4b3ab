package generate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/crystal"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

func TestDirection(t *testing.T) {
	b := r3.Vec{X: 1}
	n := r3.Vec{Z: 1}
	assert.InDelta(t, 0, r3.Norm(r3.Sub(Direction(b, n, 0), b)), 1e-12)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(Direction(b, n, 90), r3.Vec{Y: 1})), 1e-12)
	d := Direction(b, n, 45)
	assert.InDelta(t, math.Sqrt2/2, d.X, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, d.Y, 1e-12)
}

func TestFrankReadSource(t *testing.T) {
	net := network.New(cell.Cubic(100))
	ids, err := FrankReadSource(net, r3.Vec{X: 1}, r3.Vec{Z: 1}, 40, r3.Vec{X: 50, Y: 50, Z: 50}, r3.Vec{Y: 1}, 9)
	require.NoError(t, err)
	require.Len(t, ids, 9)
	require.NoError(t, net.Verify())

	c, _ := net.ConstraintOf(ids[0])
	assert.Equal(t, network.Pinned, c)
	c, _ = net.ConstraintOf(ids[8])
	assert.Equal(t, network.Pinned, c)
	c, _ = net.ConstraintOf(ids[4])
	assert.Equal(t, network.Free, c)

	st := net.Stats()
	assert.Equal(t, 8, st.NumSegments)
	assert.InDelta(t, 40, st.LineLength, 1e-9)
	p, _ := net.Position(ids[0])
	assert.InDelta(t, 30, p.Y, 1e-9)

	_, err = FrankReadSource(net, r3.Vec{X: 1}, r3.Vec{Z: 1}, 40, r3.Vec{}, r3.Vec{Y: 1}, 1)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestInfiniteLineAlongAxis(t *testing.T) {
	tests := []struct {
		name   string
		maxSeg float64
		nodes  int
	}{
		{"default spacing", 0, 6},
		{"bounded spacing", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := network.New(cell.Cubic(100))
			ids, err := InfiniteLine(net, r3.Vec{Z: 1}, r3.Vec{X: 1}, r3.Vec{X: 3, Y: 20, Z: 40}, r3.Vec{Z: 1}, tt.maxSeg)
			require.NoError(t, err)
			assert.Len(t, ids, tt.nodes)
			require.NoError(t, net.Verify())

			st := net.Stats()
			assert.Equal(t, tt.nodes, st.NumSegments)
			assert.InDelta(t, 100, st.LineLength, 1e-9)
			assert.Equal(t, tt.nodes, st.ArmHistogram[2])
		})
	}
}

func TestClosureLength(t *testing.T) {
	box := cell.Cubic(100)
	l, err := ClosureLength(box, box.Center(), r3.Vec{X: 1, Y: 1}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100*math.Sqrt2, l, 1e-9)

	// a line leaving through a non-periodic face never comes back
	open, err := cell.NewBox(r3.Vec{}, r3.Vec{X: 100}, r3.Vec{Y: 100}, r3.Vec{Z: 100}, [3]bool{true, false, true})
	require.NoError(t, err)
	_, err = ClosureLength(open, open.Center(), r3.Vec{Y: 1}, 0)
	assert.ErrorIs(t, err, ErrNoClosure)

	net := network.New(open)
	_, err = InfiniteLine(net, r3.Vec{Y: 1}, r3.Vec{X: 1}, open.Center(), r3.Vec{Y: 1}, 0)
	assert.ErrorIs(t, err, ErrNoClosure)
	assert.Zero(t, net.NumNodes())
}

func TestHexagonalLoop(t *testing.T) {
	c := r3.Vec{X: 50, Y: 50, Z: 50}
	n := geom.SafeUnit(r3.Vec{X: 1, Y: 1, Z: 1})
	b := geom.SafeUnit(r3.Vec{X: 1, Y: -1})

	net := network.New(cell.Cubic(100))
	ids, err := HexagonalLoop(net, b, n, c, 20, 2)
	require.NoError(t, err)
	require.Len(t, ids, 12)
	require.NoError(t, net.Verify())
	assert.InDelta(t, 120, net.Stats().LineLength, 1e-9)

	for _, id := range ids {
		p, _ := net.Position(id)
		assert.InDelta(t, 0, r3.Dot(r3.Sub(p, c), n), 1e-9)
	}

	// the first corner lies along the in-plane Burgers direction
	p, _ := net.Position(ids[0])
	assert.True(t, geom.Parallel(r3.Sub(p, c), b, 1e-9))

	// prismatic loops have b along the normal
	prism := network.New(cell.Cubic(100))
	_, err = HexagonalLoop(prism, r3.Vec{Z: 1}, r3.Vec{Z: 1}, c, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, prism.NumSegments())

	_, err = HexagonalLoop(prism, b, n, c, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestLineConfigBalanced(t *testing.T) {
	box := cell.Cubic(100)
	net, err := LineConfig(crystal.FCC, box, 24, LineOptions{Seed: 7})
	require.NoError(t, err)

	st := net.Stats()
	assert.Equal(t, st.NumNodes, st.NumSegments)
	assert.Equal(t, st.NumNodes, st.ArmHistogram[2])
	// consecutive cycles are dipoles: no net Burgers content
	assert.Less(t, st.Charge.Norm(), 1e-6)

	again, err := LineConfig(crystal.FCC, box, 24, LineOptions{Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, net.Snapshot(), again.Snapshot())
}

func TestLineConfigWithAngles(t *testing.T) {
	box := cell.Cubic(100)
	net, err := LineConfig(crystal.BCC, box, 12, LineOptions{Thetas: []float64{0, 90}, MaxSegment: 20, Seed: 3})
	require.NoError(t, err)
	require.NoError(t, net.Verify())
	assert.LessOrEqual(t, net.Stats().MaxSegment, 20.0+1e-9)

	_, err = LineConfig(crystal.BCC, box, 0, LineOptions{})
	assert.ErrorIs(t, err, ErrInvalidParams)
}
