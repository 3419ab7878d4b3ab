// Package force computes nodal forces on a dislocation network: the
// non-singular pair interaction of nearby segments, the self force of each
// segment, a spectral far-field stress and a uniform applied stress.
package force

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
	"github.com/dd0wney/cluso-disloc/pkg/spatial"
)

// ErrNonFiniteForce is returned when a kernel produced NaN or Inf.
var ErrNonFiniteForce = errors.New("non-finite force")

// Config controls the force engine.
type Config struct {
	Material Material
	// Cutoff is the largest segment-segment distance handled by the
	// near-field kernel.
	Cutoff float64
	// QuadraturePoints per segment piece.
	QuadraturePoints int
	// MaxPieces bounds the subdivision of close segments.
	MaxPieces int
	// GridSize is the far-field grid size per axis; zero disables it.
	GridSize int
	// Applied is the uniform external stress.
	Applied geom.Tensor
	// DisableSelfForce turns off the self force and line tension.
	DisableSelfForce bool
}

// DefaultConfig returns a copper-like configuration in units of b and mu.
func DefaultConfig() Config {
	return Config{
		Material: Material{
			Mu:         1,
			Nu:         0.3,
			CoreRadius: 1,
		},
		Cutoff:           50,
		QuadraturePoints: 3,
		MaxPieces:        8,
	}
}

// SegmentForce holds the forces on the two ends of a segment.
type SegmentForce struct {
	F1, F2 r3.Vec
}

// Forces is the result of one force evaluation.
type Forces struct {
	Nodes    map[network.NodeID]r3.Vec
	Segments map[network.SegmentID]SegmentForce
	// Pairs is the number of segment pairs evaluated by the near field.
	Pairs int
}

// Node returns the total force on a node (zero when unknown).
func (f *Forces) Node(id network.NodeID) r3.Vec {
	if f == nil {
		return r3.Vec{}
	}
	return f.Nodes[id]
}

// Engine evaluates forces. It never mutates the network.
type Engine struct {
	cfg    Config
	kernel *Kernel
	far    *FarField
	runner *parallel.Runner
	logger logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithRunner sets the kernel runner.
func WithRunner(r *parallel.Runner) Option {
	return func(e *Engine) {
		e.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a force engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Material.Validate(); err != nil {
		return nil, err
	}
	if !(cfg.Cutoff > 0) {
		return nil, fmt.Errorf("force: cutoff must be positive, got %g", cfg.Cutoff)
	}
	if cfg.QuadraturePoints <= 0 {
		cfg.QuadraturePoints = 3
	}
	if cfg.MaxPieces <= 0 {
		cfg.MaxPieces = 8
	}
	if cfg.GridSize < 0 {
		return nil, fmt.Errorf("force: grid size must not be negative, got %d", cfg.GridSize)
	}

	e := &Engine{
		cfg:    cfg,
		kernel: NewKernel(cfg.Material, cfg.QuadraturePoints, cfg.MaxPieces),
		runner: parallel.Serial(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.GridSize > 0 {
		e.far = NewFarField(cfg.GridSize, cfg.Material, cfg.Cutoff, e.runner)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Kernel returns the near-field kernel.
func (e *Engine) Kernel() *Kernel {
	return e.kernel
}

// FarField returns the far-field solver, or nil when disabled.
func (e *Engine) FarField() *FarField {
	return e.far
}

// SetApplied replaces the applied stress.
func (e *Engine) SetApplied(s geom.Tensor) {
	e.cfg.Applied = s
}

type pairResult struct {
	ia, ib   int
	fa1, fa2 r3.Vec
	fb1, fb2 r3.Vec
	within   bool
}

// Compute evaluates the forces on every node of net. When ix is nil an index
// with the configured cutoff is built. The result does not depend on the
// number of workers.
func (e *Engine) Compute(ctx context.Context, net *network.Network, ix *spatial.Index) (*Forces, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ix == nil {
		var err error
		ix, err = spatial.New(net.Box(), e.cfg.Cutoff, spatial.WithRunner(e.runner))
		if err != nil {
			return nil, err
		}
		ix.Rebuild(net)
	}

	segs := net.SegmentIDs()
	pos := make(map[network.SegmentID]int, len(segs))
	for i, sid := range segs {
		pos[sid] = i
	}
	ends := make([]SegmentForce, len(segs))

	pairs := ix.Pairs()
	results := make([]pairResult, len(pairs))
	cut2 := e.cfg.Cutoff * e.cfg.Cutoff
	err := e.runner.ForErr(ctx, len(pairs), func(_ context.Context, i int) error {
		p := pairs[i]
		r := &results[i]
		r.ia, r.ib = pos[p.A], pos[p.B]
		sa, _ := net.Segment(p.A)
		sb, _ := net.Segment(p.B)
		a1, a2, _ := net.Endpoints(p.A)
		b1, b2, _ := net.Endpoints(p.B)

		// bring B into the image closest to A
		shift := r3.Sub(net.Box().ClosestImage(geom.Midpoint(a1, a2), geom.Midpoint(b1, b2)), geom.Midpoint(b1, b2))
		b1, b2 = r3.Add(b1, shift), r3.Add(b2, shift)

		if _, _, d2 := geom.ClosestPoints(a1, a2, b1, b2); d2 > cut2 {
			return nil
		}
		r.within = true
		r.fa1, r.fa2, r.fb1, r.fb2 = e.kernel.PairForce(a1, a2, sa.Burgers, b1, b2, sb.Burgers)
		if !geom.Finite(r.fa1) || !geom.Finite(r.fa2) || !geom.Finite(r.fb1) || !geom.Finite(r.fb2) {
			return fmt.Errorf("%w: segments %d and %d", ErrNonFiniteForce, p.A, p.B)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	evaluated := 0
	for i := range results {
		r := &results[i]
		if !r.within {
			continue
		}
		evaluated++
		ends[r.ia].F1 = r3.Add(ends[r.ia].F1, r.fa1)
		ends[r.ia].F2 = r3.Add(ends[r.ia].F2, r.fa2)
		ends[r.ib].F1 = r3.Add(ends[r.ib].F1, r.fb1)
		ends[r.ib].F2 = r3.Add(ends[r.ib].F2, r.fb2)
	}

	if !e.cfg.DisableSelfForce {
		self := make([]SegmentForce, len(segs))
		e.runner.ForEach(len(segs), func(i int) {
			s, _ := net.Segment(segs[i])
			x1, x2, _ := net.Endpoints(segs[i])
			self[i].F1, self[i].F2 = e.cfg.Material.SelfForce(x1, x2, s.Burgers)
		})
		for i := range ends {
			ends[i].F1 = r3.Add(ends[i].F1, self[i].F1)
			ends[i].F2 = r3.Add(ends[i].F2, self[i].F2)
		}
	}

	if e.far != nil || e.cfg.Applied != (geom.Tensor{}) {
		if e.far != nil {
			e.far.Update(net)
		}
		ext := make([]SegmentForce, len(segs))
		e.runner.ForEach(len(segs), func(i int) {
			s, _ := net.Segment(segs[i])
			x1, x2, _ := net.Endpoints(segs[i])
			d := r3.Sub(x2, x1)
			s1, s2 := e.cfg.Applied, e.cfg.Applied
			if e.far != nil {
				s1 = s1.Add(e.far.Stress(x1))
				s2 = s2.Add(e.far.Stress(x2))
			}
			ext[i].F1 = r3.Scale(0.5, PeachKoehler(s1, s.Burgers, d))
			ext[i].F2 = r3.Scale(0.5, PeachKoehler(s2, s.Burgers, d))
		})
		for i := range ends {
			ends[i].F1 = r3.Add(ends[i].F1, ext[i].F1)
			ends[i].F2 = r3.Add(ends[i].F2, ext[i].F2)
		}
	}

	out := &Forces{
		Nodes:    make(map[network.NodeID]r3.Vec, net.NumNodes()),
		Segments: make(map[network.SegmentID]SegmentForce, len(segs)),
		Pairs:    evaluated,
	}
	for _, id := range net.NodeIDs() {
		out.Nodes[id] = r3.Vec{}
	}
	for i, sid := range segs {
		s, _ := net.Segment(sid)
		out.Segments[sid] = ends[i]
		out.Nodes[s.N1] = r3.Add(out.Nodes[s.N1], ends[i].F1)
		out.Nodes[s.N2] = r3.Add(out.Nodes[s.N2], ends[i].F2)
	}
	for id, f := range out.Nodes {
		if !geom.Finite(f) {
			return nil, fmt.Errorf("%w: node %d", ErrNonFiniteForce, id)
		}
	}

	e.logger.Debug("forces computed",
		logging.Int("segments", len(segs)),
		logging.Int("pairs", evaluated),
		logging.Bool("far_field", e.far != nil),
	)
	return out, nil
}

// NodeStress returns the far-field plus applied stress at x, for diagnostics.
func (e *Engine) NodeStress(x r3.Vec) geom.Tensor {
	s := e.cfg.Applied
	if e.far != nil {
		s = s.Add(e.far.Stress(x))
	}
	return s
}

// MaxForce returns the largest nodal force magnitude.
func (f *Forces) MaxForce() float64 {
	m := 0.0
	for _, v := range f.Nodes {
		m = math.Max(m, r3.Norm(v))
	}
	return m
}
