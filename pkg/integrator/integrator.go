// Package integrator advances nodal positions with an adaptive, stability
// bounded explicit time step.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

var (
	// ErrStepRetriesExceeded is returned when no trial step was accepted
	// within the retry budget. It is fatal for the run.
	ErrStepRetriesExceeded = errors.New("time step retries exceeded")
	// ErrInvalidStep is returned for a non-positive or non-finite time step.
	ErrInvalidStep = errors.New("invalid time step")
	// ErrUnknownScheme is returned for unrecognized scheme names.
	ErrUnknownScheme = errors.New("unknown integration scheme")
)

// Scheme selects the integration rule.
type Scheme uint8

const (
	// Euler is the forward Euler rule.
	Euler Scheme = iota
	// Trapezoid is the explicit trapezoid rule with an error estimate.
	Trapezoid
)

// String returns the scheme name
func (s Scheme) String() string {
	switch s {
	case Euler:
		return "euler"
	case Trapezoid:
		return "trapezoid"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme parses a scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "euler", "":
		return Euler, nil
	case "trapezoid":
		return Trapezoid, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

// Config bounds the step.
type Config struct {
	Scheme Scheme
	// MaxDisplacement is the largest accepted nodal displacement per step.
	MaxDisplacement float64
	// MaxRotation is the largest accepted segment rotation per step, radians.
	MaxRotation float64
	// MaxRetries is the number of halvings tried before giving up.
	MaxRetries int
	// GrowThreshold is the fraction of MaxDisplacement below which the next
	// step is allowed to grow.
	GrowThreshold float64
	GrowFactor    float64
	MaxDt         float64
	// Tolerance is the trapezoid error bound on positions.
	Tolerance float64
}

// DefaultConfig returns bounds for lengths in units of b.
func DefaultConfig() Config {
	return Config{
		Scheme:          Euler,
		MaxDisplacement: 1,
		MaxRotation:     0.2,
		MaxRetries:      10,
		GrowThreshold:   0.5,
		GrowFactor:      1.2,
		MaxDt:           1e3,
		Tolerance:       0.25,
	}
}

// Validate checks the bounds.
func (c Config) Validate() error {
	switch {
	case !(c.MaxDisplacement > 0):
		return fmt.Errorf("integrator: max displacement must be positive, got %g", c.MaxDisplacement)
	case !(c.MaxRotation > 0):
		return fmt.Errorf("integrator: max rotation must be positive, got %g", c.MaxRotation)
	case c.MaxRetries < 0:
		return fmt.Errorf("integrator: max retries must not be negative, got %d", c.MaxRetries)
	case c.GrowFactor < 1:
		return fmt.Errorf("integrator: grow factor must be at least 1, got %g", c.GrowFactor)
	case !(c.MaxDt > 0):
		return fmt.Errorf("integrator: max dt must be positive, got %g", c.MaxDt)
	case c.Scheme == Trapezoid && !(c.Tolerance > 0):
		return fmt.Errorf("integrator: trapezoid tolerance must be positive, got %g", c.Tolerance)
	}
	return nil
}

// VelocityFunc evaluates nodal velocities for the current positions of net.
type VelocityFunc func(ctx context.Context, net *network.Network) (map[network.NodeID]r3.Vec, error)

// Result describes an accepted step.
type Result struct {
	// Dt is the accepted time step.
	Dt float64
	// NextDt is the step proposed for the next call.
	NextDt          float64
	Rejections      int
	MaxDisplacement float64
	MaxRotation     float64
	// Old and New hold the positions before and after the step, New as the
	// unwrapped images nearest to Old.
	Old, New map[network.NodeID]r3.Vec
	// Velocities are the velocities used for the step.
	Velocities map[network.NodeID]r3.Vec
}

// Integrator advances a network in time.
type Integrator struct {
	cfg    Config
	runner *parallel.Runner
	logger logging.Logger
}

// Option configures an Integrator
type Option func(*Integrator)

// WithRunner sets the kernel runner.
func WithRunner(r *parallel.Runner) Option {
	return func(in *Integrator) {
		in.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(in *Integrator) {
		in.logger = l
	}
}

// New creates an integrator.
func New(cfg Config, opts ...Option) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	in := &Integrator{
		cfg:    cfg,
		runner: parallel.Serial(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Config returns the integrator bounds.
func (in *Integrator) Config() Config {
	return in.cfg
}

type trial struct {
	ids  []network.NodeID
	old  []r3.Vec
	vel  []r3.Vec
	next []r3.Vec
}

func (in *Integrator) positions(net *network.Network, ids []network.NodeID) []r3.Vec {
	out := make([]r3.Vec, len(ids))
	for i, id := range ids {
		out[i], _ = net.Position(id)
	}
	return out
}

func velocitySlice(ids []network.NodeID, vel map[network.NodeID]r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(ids))
	for i, id := range ids {
		out[i] = vel[id]
	}
	return out
}

// displace fills tr.next = old + v*dt and returns the largest displacement.
func (in *Integrator) displace(tr *trial, dt float64) float64 {
	in.runner.ForEach(len(tr.ids), func(i int) {
		tr.next[i] = r3.Add(tr.old[i], r3.Scale(dt, tr.vel[i]))
	})
	return in.runner.Max(len(tr.ids), func(i int) float64 {
		return r3.Norm(r3.Sub(tr.next[i], tr.old[i]))
	})
}

// rotation returns the largest angle between the old and new vectors of the
// segments of net.
func (in *Integrator) rotation(net *network.Network, index map[network.NodeID]int, old, next []r3.Vec) float64 {
	segs := net.SegmentIDs()
	box := net.Box()
	return in.runner.Max(len(segs), func(i int) float64 {
		s, err := net.Segment(segs[i])
		if err != nil {
			return 0
		}
		a, b := index[s.N1], index[s.N2]
		v0 := box.MinImage(r3.Sub(old[b], old[a]))
		// old-frame image keeps the new vector continuous under wrapping
		v1 := r3.Add(v0, r3.Sub(r3.Sub(next[b], old[b]), r3.Sub(next[a], old[a])))
		return math.Atan2(r3.Norm(r3.Cross(v0, v1)), r3.Dot(v0, v1))
	})
}

func (in *Integrator) apply(net *network.Network, ids []network.NodeID, pos, vel []r3.Vec) error {
	for i, id := range ids {
		if err := net.MoveNode(id, pos[i]); err != nil {
			return err
		}
		if vel != nil {
			if err := net.SetVelocity(id, vel[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Advance evaluates velocities with vel and moves every node of net by one
// accepted step of at most dt. Rejected trials halve the step. When the retry
// budget is exhausted the network is left at its starting positions and
// ErrStepRetriesExceeded is returned.
func (in *Integrator) Advance(ctx context.Context, net *network.Network, vel VelocityFunc, dt float64) (*Result, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidStep, dt)
	}
	dt = math.Min(dt, in.cfg.MaxDt)

	v0, err := vel(ctx, net)
	if err != nil {
		return nil, err
	}

	ids := net.NodeIDs()
	index := make(map[network.NodeID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	tr := &trial{
		ids:  ids,
		old:  in.positions(net, ids),
		vel:  velocitySlice(ids, v0),
		next: make([]r3.Vec, len(ids)),
	}

	res := &Result{}
	for attempt := 0; attempt <= in.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		disp := in.displace(tr, dt)
		rot := in.rotation(net, index, tr.old, tr.next)
		if disp > in.cfg.MaxDisplacement || rot > in.cfg.MaxRotation {
			in.logger.Debug("trial step rejected",
				logging.Dt(dt),
				logging.Float64("displacement", disp),
				logging.Float64("rotation", rot),
			)
			res.Rejections++
			dt /= 2
			continue
		}

		used := tr.vel
		if in.cfg.Scheme == Trapezoid {
			ok, trap, avg, err := in.trapezoid(ctx, net, vel, tr, dt)
			if err != nil {
				return nil, err
			}
			if !ok {
				res.Rejections++
				dt /= 2
				continue
			}
			copy(tr.next, trap)
			used = avg
			disp = in.runner.Max(len(ids), func(i int) float64 {
				return r3.Norm(r3.Sub(tr.next[i], tr.old[i]))
			})
			rot = in.rotation(net, index, tr.old, tr.next)
			if rot > in.cfg.MaxRotation {
				in.logger.Debug("trapezoid step rejected",
					logging.Dt(dt),
					logging.Float64("rotation", rot),
				)
				res.Rejections++
				dt /= 2
				continue
			}
		}

		if err := in.apply(net, ids, tr.next, used); err != nil {
			return nil, err
		}
		res.Dt = dt
		res.MaxDisplacement = disp
		res.MaxRotation = rot
		res.NextDt = dt
		if res.Rejections == 0 && disp < in.cfg.GrowThreshold*in.cfg.MaxDisplacement {
			res.NextDt = math.Min(dt*in.cfg.GrowFactor, in.cfg.MaxDt)
		}
		res.Old = make(map[network.NodeID]r3.Vec, len(ids))
		res.New = make(map[network.NodeID]r3.Vec, len(ids))
		res.Velocities = make(map[network.NodeID]r3.Vec, len(ids))
		for i, id := range ids {
			res.Old[id] = tr.old[i]
			res.New[id] = tr.next[i]
			res.Velocities[id] = used[i]
		}
		return res, nil
	}

	return nil, fmt.Errorf("%w: %d retries, last dt %g", ErrStepRetriesExceeded, in.cfg.MaxRetries, dt)
}

// trapezoid moves the network to the Euler trial, re-evaluates velocities and
// compares the trapezoid positions with the Euler ones. The network is back at
// the starting positions on return.
func (in *Integrator) trapezoid(ctx context.Context, net *network.Network, vel VelocityFunc, tr *trial, dt float64) (bool, []r3.Vec, []r3.Vec, error) {
	if err := in.apply(net, tr.ids, tr.next, nil); err != nil {
		return false, nil, nil, err
	}
	vm, err := vel(ctx, net)
	v1 := velocitySlice(tr.ids, vm)
	if restore := in.apply(net, tr.ids, tr.old, nil); restore != nil && err == nil {
		err = restore
	}
	if err != nil {
		return false, nil, nil, err
	}

	avg := make([]r3.Vec, len(tr.ids))
	trap := make([]r3.Vec, len(tr.ids))
	in.runner.ForEach(len(tr.ids), func(i int) {
		avg[i] = r3.Scale(0.5, r3.Add(tr.vel[i], v1[i]))
		trap[i] = r3.Add(tr.old[i], r3.Scale(dt, avg[i]))
	})
	errMax := in.runner.Max(len(tr.ids), func(i int) float64 {
		return r3.Norm(r3.Sub(trap[i], tr.next[i]))
	})
	dispMax := in.runner.Max(len(tr.ids), func(i int) float64 {
		return r3.Norm(r3.Sub(trap[i], tr.old[i]))
	})
	if errMax > in.cfg.Tolerance || dispMax > in.cfg.MaxDisplacement {
		in.logger.Debug("trapezoid step rejected",
			logging.Dt(dt),
			logging.Float64("error", errMax),
		)
		return false, nil, nil, nil
	}
	return true, trap, avg, nil
}
