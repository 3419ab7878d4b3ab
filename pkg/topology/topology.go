// Package topology detects and resolves the events that change the
// connectivity of a dislocation network: collisions of segments, junction
// formation at multi-arm nodes and cross-slip of screw segments. Each update
// runs Detect, Resolve and Cleanup in that order.
package topology

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/crystal"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

// ErrUnknownOrder is returned for unrecognized order names.
var ErrUnknownOrder = errors.New("unknown event order")

// Kind is the type of a topological event.
type Kind uint8

const (
	Collision Kind = iota
	Junction
	CrossSlip
	numKinds
)

// Kinds lists every event kind in canonical order.
var Kinds = []Kind{Collision, Junction, CrossSlip}

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case Collision:
		return "collision"
	case Junction:
		return "junction"
	case CrossSlip:
		return "cross_slip"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Order selects how events are prioritized within a step.
type Order uint8

const (
	// Canonical orders events by kind, then by the ids involved.
	Canonical Order = iota
	// Distance orders events by separation, closest first, with the
	// canonical order as tie-break.
	Distance
)

// String returns the order name
func (o Order) String() string {
	if o == Distance {
		return "distance"
	}
	return "canonical"
}

// ParseOrder parses an order name.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "canonical", "":
		return Canonical, nil
	case "distance":
		return Distance, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOrder, s)
}

// Stage is the position of the engine in the per-step state machine.
type Stage uint8

const (
	StageIdle Stage = iota
	StageDetect
	StageResolve
	StageCleanup
	StageResolved
)

// String returns the stage name
func (s Stage) String() string {
	switch s {
	case StageDetect:
		return "detect"
	case StageResolve:
		return "resolve"
	case StageCleanup:
		return "cleanup"
	case StageResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Config controls detection, resolution and cleanup.
type Config struct {
	// CollisionDistance is the separation below which two segments collide.
	CollisionDistance float64
	// MinSegment and MaxSegment bound segment lengths in the remesh. Zero
	// MaxSegment disables refinement.
	MinSegment float64
	MaxSegment float64
	// RemeshArea bounds the area swept away when a node is coarsened out.
	RemeshArea float64
	// ScrewAngle is the largest angle between b and the line direction of a
	// segment still considered screw, radians.
	ScrewAngle float64
	// CrossSlipRatio is the factor by which the resolved glide force on the
	// cross-slip plane must exceed the one on the current plane.
	CrossSlipRatio float64
	Crystal        crystal.Structure
	Order          Order

	DisableCollisions bool
	DisableJunctions  bool
	DisableCrossSlip  bool
}

// DefaultConfig returns settings for lengths in units of b.
func DefaultConfig() Config {
	return Config{
		CollisionDistance: 2,
		MinSegment:        5,
		MaxSegment:        50,
		RemeshArea:        6,
		ScrewAngle:        0.1,
		CrossSlipRatio:    1.2,
		Crystal:           crystal.FCC,
		Order:             Canonical,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case !(c.CollisionDistance > 0):
		return fmt.Errorf("topology: collision distance must be positive, got %g", c.CollisionDistance)
	case c.MinSegment < 0:
		return fmt.Errorf("topology: min segment must not be negative, got %g", c.MinSegment)
	case c.MaxSegment != 0 && c.MaxSegment < 2*c.MinSegment:
		return fmt.Errorf("topology: max segment %g must be at least twice min segment %g", c.MaxSegment, c.MinSegment)
	case c.RemeshArea < 0:
		return fmt.Errorf("topology: remesh area must not be negative, got %g", c.RemeshArea)
	case !(c.ScrewAngle > 0 && c.ScrewAngle < math.Pi/2):
		return fmt.Errorf("topology: screw angle must lie in (0, pi/2), got %g", c.ScrewAngle)
	case c.CrossSlipRatio < 1:
		return fmt.Errorf("topology: cross-slip ratio must be at least 1, got %g", c.CrossSlipRatio)
	}
	return nil
}

// Event is one detected topological event.
type Event struct {
	Kind Kind
	// Segments are the colliding pair, or the cross-slipping segment in
	// Segments[0].
	Segments [2]network.SegmentID
	// Node is the splitting node of a junction.
	Node network.NodeID
	// Arms are the arms moved to the junction node.
	Arms []network.SegmentID
	// Direction is the mean direction of the moved arms, or the new plane
	// normal of a cross-slip.
	Direction r3.Vec
	// Distance is the separation of a collision; zero for the other kinds.
	Distance float64
	// Gain is the Frank energy gain of a junction or the glide force ratio
	// of a cross-slip.
	Gain float64
	// Touches are the existing nodes the event modifies.
	Touches []network.NodeID
}

// Engine runs topology updates. It is not safe for concurrent use.
type Engine struct {
	cfg    Config
	runner *parallel.Runner
	logger logging.Logger
	stage  Stage
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

// New creates a topology engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		runner: parallel.Serial(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Stage returns the stage reached by the last update.
func (e *Engine) Stage() Stage {
	return e.stage
}

// Update runs one full topology update on net. forces are the nodal forces of
// the current step; cross-slip is not detected when forces is nil. Rejected
// reactions are skipped and counted, an invariant breach is returned as a
// fatal error.
func (e *Engine) Update(ctx context.Context, net *network.Network, forces map[network.NodeID]r3.Vec) (*Report, error) {
	report := newReport()

	e.stage = StageDetect
	events, err := e.Detect(ctx, net, forces)
	if err != nil {
		return report, err
	}
	for _, ev := range events {
		report.Detected[ev.Kind]++
	}

	e.stage = StageResolve
	if err := e.Resolve(ctx, net, events, report); err != nil {
		return report, err
	}

	e.stage = StageCleanup
	if err := e.Cleanup(net, report); err != nil {
		return report, err
	}

	e.stage = StageResolved
	return report, nil
}
