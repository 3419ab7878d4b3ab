package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/generate"
	"github.com/dd0wney/cluso-disloc/pkg/integrator"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/metrics"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

// glideLoop is a hexagonal glide loop of radius 30 in a box large enough
// that its images do not interact.
func glideLoop(t *testing.T) *network.Network {
	t.Helper()
	net := network.New(cell.Cubic(200))
	_, err := generate.HexagonalLoop(net, r3.Vec{X: 1}, r3.Vec{Z: 1}, r3.Vec{X: 100, Y: 100, Z: 100}, 30, 2)
	require.NoError(t, err)
	return net
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero dt", func(c *Config) { c.InitialDt = 0 }},
		{"collision beyond cutoff", func(c *Config) { c.Topology.CollisionDistance = c.Force.Cutoff }},
		{"negative drag", func(c *Config) { c.Mobility.Drag = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewRejectsBrokenNetwork(t *testing.T) {
	net := network.New(cell.Cubic(100))
	a, _ := net.AddNode(r3.Vec{X: 10}, network.Free)
	b, _ := net.AddNode(r3.Vec{X: 20}, network.Free)
	_, err := net.AddSegment(a, b, r3.Vec{X: 1}, r3.Vec{Z: 1})
	require.NoError(t, err)

	// dangling free ends break Burgers conservation
	_, err = New(net, DefaultConfig())
	assert.Error(t, err)
}

func TestPlasticIncrement(t *testing.T) {
	net := network.New(cell.Cubic(100))
	a, _ := net.AddNode(r3.Vec{}, network.Pinned)
	b, _ := net.AddNode(r3.Vec{X: 10}, network.Pinned)
	_, err := net.AddSegment(a, b, r3.Vec{X: 1}, r3.Vec{Z: 1})
	require.NoError(t, err)

	old := map[network.NodeID]r3.Vec{a: {}, b: {X: 10}}
	next := map[network.NodeID]r3.Vec{a: {Y: 1}, b: {X: 10, Y: 1}}
	beta := plasticIncrement(net, old, next)

	v := net.Box().Volume()
	assert.InDelta(t, 10/v, beta[0][2], 1e-15)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == 0 && j == 2 {
				continue
			}
			assert.Zero(t, beta[i][j], "beta[%d][%d]", i, j)
		}
	}

	// no motion, no strain
	assert.Zero(t, plasticIncrement(net, old, old).Norm())
}

func TestLoopShrinks(t *testing.T) {
	net := glideLoop(t)
	reg := metrics.NewRegistry()
	var results []*StepResult

	d, err := New(net, DefaultConfig(),
		WithRunner(parallel.New(4)),
		WithMetrics(reg),
		WithObserver(func(r *StepResult) { results = append(results, r) }),
	)
	require.NoError(t, err)

	length := net.Stats().LineLength
	nodes := net.NumNodes()
	require.NoError(t, d.Run(context.Background(), 10))
	require.Len(t, results, 10)

	for i, r := range results {
		assert.Equal(t, uint64(i+1), r.Step)
		assert.Less(t, r.Stats.LineLength, length, "step %d", r.Step)
		assert.LessOrEqual(t, r.Stats.NumNodes, nodes, "step %d", r.Step)
		length, nodes = r.Stats.LineLength, r.Stats.NumNodes
	}
	require.NoError(t, net.Verify())

	st := d.Context()
	assert.Equal(t, uint64(10), st.Step)
	assert.Greater(t, st.Time, 0.0)
	assert.Greater(t, st.PlasticStrain.Norm(), 0.0)

	var m dto.Metric
	require.NoError(t, reg.StepsTotal.Write(&m))
	assert.Equal(t, 10.0, m.Counter.GetValue())
	m = dto.Metric{}
	require.NoError(t, reg.NetworkNodes.Write(&m))
	assert.Equal(t, float64(net.NumNodes()), m.Gauge.GetValue())

	// the loop keeps shrinking until it annihilates
	for step := 10; net.NumNodes() > 0; step++ {
		require.Less(t, step, 200, "loop still has %d nodes", net.NumNodes())
		r, err := d.Step(context.Background())
		require.NoError(t, err, "step %d", step+1)
		assert.Less(t, r.Stats.LineLength, length, "step %d", r.Step)
		assert.LessOrEqual(t, r.Stats.NumNodes, nodes, "step %d", r.Step)
		length, nodes = r.Stats.LineLength, r.Stats.NumNodes
	}
	assert.Zero(t, net.NumSegments())
	assert.Zero(t, length)
	require.NoError(t, net.Verify())
}

func TestStepFailureRestoresNetwork(t *testing.T) {
	net := glideLoop(t)
	before := net.Snapshot()

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Integrator.MaxRetries = 0
	cfg.Integrator.MaxDisplacement = 1e-9
	reg := metrics.NewRegistry()
	d, err := New(net, cfg, WithLogger(logging.New(&buf, logging.InfoLevel, logging.FormatJSON)), WithMetrics(reg))
	require.NoError(t, err)

	_, err = d.Step(context.Background())
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint64(1), se.Step)
	assert.ErrorIs(t, err, integrator.ErrStepRetriesExceeded)

	assert.Equal(t, before, net.Snapshot())
	assert.True(t, d.Context().Finalized())
	assert.Contains(t, buf.String(), "step failed")

	var m dto.Metric
	require.NoError(t, reg.StepFailuresTotal.WithLabelValues("retries_exceeded").Write(&m))
	assert.Equal(t, 1.0, m.Counter.GetValue())

	_, err = d.Step(context.Background())
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestRunCancelled(t *testing.T) {
	d, err := New(glideLoop(t), DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.Run(ctx, 5)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, d.Context().Step)
}

func TestContextResetAndResume(t *testing.T) {
	c := NewContext(0.5)
	id := c.RunID
	c.Step, c.Time, c.Dt = 7, 3.5, 2
	c.PlasticStrain[0][1] = 1e-4
	c.Finalize()

	saved := c.State()

	c.Reset()
	assert.NotEqual(t, id, c.RunID)
	assert.Zero(t, c.Step)
	assert.Equal(t, 0.5, c.Dt)
	assert.False(t, c.Finalized())

	require.NoError(t, c.Resume(saved))
	assert.Equal(t, id, c.RunID)
	assert.Equal(t, uint64(7), c.Step)
	assert.Equal(t, 3.5, c.Time)
	assert.Equal(t, 1e-4, c.PlasticStrain[0][1])
	assert.False(t, c.Finalized())

	bad := saved
	bad.RunID = "not-a-uuid"
	assert.Error(t, c.Resume(bad))
	bad = saved
	bad.Dt = 0
	assert.Error(t, c.Resume(bad))
}

func TestSnapshotCarriesRunState(t *testing.T) {
	d, err := New(glideLoop(t), DefaultConfig())
	require.NoError(t, err)
	_, err = d.Step(context.Background())
	require.NoError(t, err)

	snap, err := d.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.Encode(&buf, true))
	loaded, err := network.ReadSnapshot(&buf)
	require.NoError(t, err)

	s, ok, err := UnmarshalState(loaded.Meta)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d.Context().RunID, uuid.MustParse(s.RunID))
	assert.Equal(t, uint64(1), s.Step)

	resumed := NewContext(1)
	require.NoError(t, resumed.Resume(s))
	net, err := network.FromSnapshot(loaded)
	require.NoError(t, err)
	d2, err := New(net, DefaultConfig(), WithContext(resumed))
	require.NoError(t, err)
	r, err := d2.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Step)

	_, ok, err = UnmarshalState(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
