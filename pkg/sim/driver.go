// Package sim drives a dislocation dynamics run: each step computes forces,
// integrates nodal positions and updates the network topology, accumulating
// time and plastic strain in an explicit Context.
package sim

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/force"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/integrator"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/metrics"
	"github.com/dd0wney/cluso-disloc/pkg/mobility"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
	"github.com/dd0wney/cluso-disloc/pkg/topology"
)

// Config collects the engine configurations of a run.
type Config struct {
	Force      force.Config
	Law        mobility.Law
	Mobility   mobility.Params
	Integrator integrator.Config
	Topology   topology.Config
	// InitialDt is the first trial step of a fresh run.
	InitialDt float64
	// LogEvery emits the per-step log line at info level every n steps, at
	// debug level otherwise. Zero logs every step at info.
	LogEvery uint64
}

// DefaultConfig returns defaults for every engine.
func DefaultConfig() Config {
	return Config{
		Force:      force.DefaultConfig(),
		Law:        mobility.Linear,
		Mobility:   mobility.DefaultParams(),
		Integrator: integrator.DefaultConfig(),
		Topology:   topology.DefaultConfig(),
		InitialDt:  1,
	}
}

// Validate checks the cross-engine rules not covered by the engines.
func (c Config) Validate() error {
	if !(c.InitialDt > 0) {
		return fmt.Errorf("%w: initial dt must be positive, got %g", ErrInvalidConfig, c.InitialDt)
	}
	if err := c.Mobility.Validate(c.Law); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Topology.CollisionDistance >= c.Force.Cutoff {
		return fmt.Errorf("%w: collision distance %g must be below the force cutoff %g",
			ErrInvalidConfig, c.Topology.CollisionDistance, c.Force.Cutoff)
	}
	return nil
}

// StepResult summarizes one accepted step.
type StepResult struct {
	Step       uint64
	Time       float64
	Dt         float64
	NextDt     float64
	Rejections int
	// StrainIncrement and SpinIncrement are the symmetric and skew parts of
	// the plastic distortion increment of the step.
	StrainIncrement geom.Tensor
	SpinIncrement   geom.Tensor
	MaxDisplacement float64
	Stats           network.Statistics
	Topology        *topology.Report
	Duration        time.Duration
}

// Observer is called after every accepted step.
type Observer func(*StepResult)

// Driver runs the step sequence on one network. It is not safe for
// concurrent use; parallelism lives inside the kernels.
type Driver struct {
	cfg     Config
	net     *network.Network
	state   *Context
	force   *force.Engine
	integ   *integrator.Integrator
	topo    *topology.Engine
	runner  *parallel.Runner
	logger  logging.Logger
	metrics *metrics.Registry
	observe Observer
}

// Option configures a Driver
type Option func(*Driver)

// WithRunner sets the kernel runner shared by every engine.
func WithRunner(r *parallel.Runner) Option {
	return func(d *Driver) {
		d.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Driver) {
		d.logger = logging.OrNop(l)
	}
}

// WithMetrics records step metrics in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(d *Driver) {
		d.metrics = r
	}
}

// WithContext continues an existing run context instead of a fresh one.
func WithContext(c *Context) Option {
	return func(d *Driver) {
		d.state = c
	}
}

// WithObserver registers a callback for accepted steps.
func WithObserver(fn Observer) Option {
	return func(d *Driver) {
		d.observe = fn
	}
}

// New creates a driver for net. The network is verified before the first
// step.
func New(net *network.Network, cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:    cfg,
		net:    net,
		runner: parallel.Serial(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.state == nil {
		d.state = NewContext(cfg.InitialDt)
	}
	d.logger = d.logger.With(logging.RunID(d.state.RunID.String()))

	var err error
	d.force, err = force.NewEngine(cfg.Force,
		force.WithRunner(d.runner),
		force.WithLogger(d.logger.With(logging.Component("force"))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	d.integ, err = integrator.New(cfg.Integrator,
		integrator.WithRunner(d.runner),
		integrator.WithLogger(d.logger.With(logging.Component("integrator"))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	d.topo, err = topology.New(cfg.Topology,
		topology.WithRunner(d.runner),
		topology.WithLogger(d.logger.With(logging.Component("topology"))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := net.Verify(); err != nil {
		return nil, err
	}
	return d, nil
}

// Network returns the simulated network.
func (d *Driver) Network() *network.Network {
	return d.net
}

// Context returns the run context.
func (d *Driver) Context() *Context {
	return d.state
}

// Force returns the force engine, for stress probes and applied loading.
func (d *Driver) Force() *force.Engine {
	return d.force
}

// SetApplied changes the applied stress from the next step on.
func (d *Driver) SetApplied(s geom.Tensor) {
	d.force.SetApplied(s)
}

// Snapshot dumps the network with the run state in its metadata.
func (d *Driver) Snapshot() (*network.Snapshot, error) {
	s := d.net.Snapshot()
	meta, err := d.state.MarshalState()
	if err != nil {
		return nil, err
	}
	s.Meta = meta
	return s, nil
}

// velocities evaluates forces and mobility at the current positions. The
// forces of the first call of a step are kept for the topology phase.
func (d *Driver) velocities(first **force.Forces, spent *time.Duration) integrator.VelocityFunc {
	return func(ctx context.Context, net *network.Network) (map[network.NodeID]r3.Vec, error) {
		start := time.Now()
		tok := net.Acquire(network.PhaseForce)
		f, err := d.force.Compute(ctx, net, nil)
		tok.Release()
		if err != nil {
			return nil, err
		}
		if *first == nil {
			*first = f
		}
		v, err := mobility.Velocities(ctx, net, f.Nodes, d.cfg.Law, d.cfg.Mobility, d.runner)
		*spent += time.Since(start)
		return v, err
	}
}

func (d *Driver) integrate(ctx context.Context, vel integrator.VelocityFunc) (*integrator.Result, error) {
	tok := d.net.Acquire(network.PhaseIntegrate)
	defer tok.Release()
	return d.integ.Advance(ctx, d.net, vel, d.state.Dt)
}

func (d *Driver) updateTopology(ctx context.Context, forces map[network.NodeID]r3.Vec) (*topology.Report, error) {
	tok := d.net.Acquire(network.PhaseTopology)
	defer tok.Release()
	return d.topo.Update(ctx, d.net, forces)
}

// Step advances the run by one accepted time step. Cancellation of ctx is
// not observed inside a step. On a fatal error the network is restored to
// its state before the step, the context is finalized and a *StepError is
// returned.
func (d *Driver) Step(ctx context.Context) (*StepResult, error) {
	if d.state.Finalized() {
		return nil, ErrFinalized
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	backup := d.net.Clone()

	var forces *force.Forces
	var forceTime time.Duration
	res, err := d.integrate(ctx, d.velocities(&forces, &forceTime))
	if err != nil {
		return nil, d.fail(backup, err)
	}
	d.recordPhase("force", forceTime)
	d.recordPhase("integrate", time.Since(start)-forceTime)

	// segments are unchanged since the positions were captured
	dbeta := plasticIncrement(d.net, res.Old, res.New)

	topoStart := time.Now()
	report, err := d.updateTopology(ctx, forces.Nodes)
	if err != nil {
		return nil, d.fail(backup, err)
	}
	d.recordPhase("topology", time.Since(topoStart))

	st := d.state
	st.Step++
	st.Time += res.Dt
	st.Dt = res.NextDt
	st.Rejections += res.Rejections
	st.PlasticStrain = st.PlasticStrain.Add(dbeta.Sym())
	st.PlasticSpin = st.PlasticSpin.Add(dbeta.Skew())
	st.Events.Add(report)

	out := &StepResult{
		Step:            st.Step,
		Time:            st.Time,
		Dt:              res.Dt,
		NextDt:          res.NextDt,
		Rejections:      res.Rejections,
		StrainIncrement: dbeta.Sym(),
		SpinIncrement:   dbeta.Skew(),
		MaxDisplacement: res.MaxDisplacement,
		Stats:           d.net.Stats(),
		Topology:        report,
		Duration:        time.Since(start),
	}
	d.record(out)
	d.logStep(out)
	if d.observe != nil {
		d.observe(out)
	}
	return out, nil
}

func (d *Driver) fail(backup *network.Network, cause error) error {
	d.net.Restore(backup)
	d.state.Finalize()
	err := &StepError{Step: d.state.Step + 1, Time: d.state.Time, Cause: cause}
	if d.metrics != nil {
		d.metrics.RecordFailure(failureReason(cause))
	}
	d.logger.Error("step failed",
		logging.Step(err.Step),
		logging.SimTime(err.Time),
		logging.Dt(d.state.Dt),
		logging.Error(cause),
	)
	return err
}

func (d *Driver) recordPhase(phase string, dur time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordPhase(phase, dur)
	}
}

func (d *Driver) record(r *StepResult) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordStep(r.Duration, r.Dt, r.Time, r.Rejections)
	for _, k := range topology.Kinds {
		name := k.String()
		d.metrics.RecordTopology(name, "detected", r.Topology.Detected[k])
		d.metrics.RecordTopology(name, "applied", r.Topology.Applied[k])
		d.metrics.RecordTopology(name, "deferred", r.Topology.Deferred[k])
		d.metrics.RecordTopology(name, "skipped", r.Topology.Skipped[k])
	}
	d.metrics.RecordRemesh("refine", r.Topology.Refined)
	d.metrics.RecordRemesh("coarsen", r.Topology.Coarsened)
	d.metrics.RecordRemesh("remove", r.Topology.Removed)
	d.metrics.UpdateNetworkMetrics(r.Stats.NumNodes, r.Stats.NumSegments, r.Stats.LineLength,
		r.Stats.Density(1), d.state.PlasticStrain.Norm())
}

func (d *Driver) logStep(r *StepResult) {
	fields := []logging.Field{
		logging.Step(r.Step),
		logging.SimTime(r.Time),
		logging.Dt(r.Dt),
		logging.Int("rejections", r.Rejections),
		logging.Int("nodes", r.Stats.NumNodes),
		logging.Int("segments", r.Stats.NumSegments),
		logging.Float64("length", r.Stats.LineLength),
		logging.String("events", r.Topology.String()),
		logging.Latency(r.Duration),
	}
	if d.cfg.LogEvery == 0 || r.Step%d.cfg.LogEvery == 0 {
		d.logger.Info("step", fields...)
		return
	}
	d.logger.Debug("step", fields...)
}

// Run performs up to steps steps, checking ctx between steps. It returns the
// context error when cancelled and the *StepError of a failed step.
func (d *Driver) Run(ctx context.Context, steps int) error {
	timer := logging.StartTimer(d.logger, "run finished", logging.Int("requested", steps))
	done := 0
	defer func() {
		timer.EndWithLevel(logging.InfoLevel, "run finished")
		d.logger.Debug("run summary", logging.Count(done), logging.String("events", d.state.Events.String()))
	}()

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.Step(ctx); err != nil {
			return err
		}
		done++
	}
	return nil
}
