// Package config loads YAML run files. A file is decoded over Default(), so
// any key left out keeps its default, then checked in two passes: struct
// tags, then the cross-section rules in Validate.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-disloc/pkg/crystal"
	"github.com/dd0wney/cluso-disloc/pkg/force"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/integrator"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/mobility"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
	"github.com/dd0wney/cluso-disloc/pkg/sim"
	"github.com/dd0wney/cluso-disloc/pkg/topology"
	"github.com/dd0wney/cluso-disloc/pkg/validation"
)

// File is a run file.
type File struct {
	Material   force.Material    `yaml:"material"`
	Force      ForceSection      `yaml:"force"`
	Mobility   MobilitySection   `yaml:"mobility"`
	Integrator IntegratorSection `yaml:"integrator"`
	Topology   TopologySection   `yaml:"topology"`
	Run        RunSection        `yaml:"run"`
	Log        LogSection        `yaml:"log"`
}

// ForceSection configures the force engine.
type ForceSection struct {
	Cutoff           float64       `yaml:"cutoff" validate:"gt=0,finite"`
	QuadraturePoints int           `yaml:"quadrature_points" validate:"min=1,max=16"`
	MaxPieces        int           `yaml:"max_pieces" validate:"min=1"`
	GridSize         int           `yaml:"grid_size" validate:"min=0"`
	Applied          [3][3]float64 `yaml:"applied"`
	DisableSelfForce bool          `yaml:"disable_self_force"`
}

// MobilitySection selects the mobility law and its drag coefficients.
type MobilitySection struct {
	Law             string `yaml:"law" validate:"required"`
	mobility.Params `yaml:",inline"`
}

// IntegratorSection configures time stepping.
type IntegratorSection struct {
	Scheme          string  `yaml:"scheme" validate:"required"`
	MaxDisplacement float64 `yaml:"max_displacement" validate:"gt=0"`
	MaxRotation     float64 `yaml:"max_rotation" validate:"gt=0"`
	MaxRetries      int     `yaml:"max_retries" validate:"min=0"`
	GrowThreshold   float64 `yaml:"grow_threshold" validate:"gt=0,lte=1"`
	GrowFactor      float64 `yaml:"grow_factor" validate:"gte=1"`
	MaxDt           float64 `yaml:"max_dt" validate:"gt=0"`
	Tolerance       float64 `yaml:"tolerance" validate:"gt=0"`
}

// TopologySection configures topological changes and remeshing.
type TopologySection struct {
	Crystal           string  `yaml:"crystal" validate:"required"`
	Order             string  `yaml:"order"`
	CollisionDistance float64 `yaml:"collision_distance" validate:"gt=0"`
	MinSegment        float64 `yaml:"min_segment" validate:"gte=0"`
	MaxSegment        float64 `yaml:"max_segment" validate:"gte=0"`
	RemeshArea        float64 `yaml:"remesh_area" validate:"gte=0"`
	ScrewAngle        float64 `yaml:"screw_angle" validate:"gte=0"`
	CrossSlipRatio    float64 `yaml:"cross_slip_ratio" validate:"gte=1"`
	DisableCollisions bool    `yaml:"disable_collisions"`
	DisableJunctions  bool    `yaml:"disable_junctions"`
	DisableCrossSlip  bool    `yaml:"disable_cross_slip"`
}

// RunSection controls the outer loop.
type RunSection struct {
	Steps     int     `yaml:"steps" validate:"min=0"`
	Workers   int     `yaml:"workers" validate:"min=0"`
	InitialDt float64 `yaml:"initial_dt" validate:"gt=0"`
	LogEvery  uint64  `yaml:"log_every"`
	// SnapshotEvery writes the output snapshot every n steps; zero writes it
	// at the end only.
	SnapshotEvery   int           `yaml:"snapshot_every" validate:"min=0"`
	Compress        bool          `yaml:"compress"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogSection configures the logger.
type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultShutdownTimeout = 5 * time.Second

// Default returns a run file with every engine default.
func Default() *File {
	f := force.DefaultConfig()
	m := mobility.DefaultParams()
	in := integrator.DefaultConfig()
	tp := topology.DefaultConfig()
	base := sim.DefaultConfig()

	return &File{
		Material: f.Material,
		Force: ForceSection{
			Cutoff:           f.Cutoff,
			QuadraturePoints: f.QuadraturePoints,
			MaxPieces:        f.MaxPieces,
			GridSize:         f.GridSize,
			Applied:          f.Applied,
			DisableSelfForce: f.DisableSelfForce,
		},
		Mobility: MobilitySection{
			Law:    base.Law.String(),
			Params: m,
		},
		Integrator: IntegratorSection{
			Scheme:          in.Scheme.String(),
			MaxDisplacement: in.MaxDisplacement,
			MaxRotation:     in.MaxRotation,
			MaxRetries:      in.MaxRetries,
			GrowThreshold:   in.GrowThreshold,
			GrowFactor:      in.GrowFactor,
			MaxDt:           in.MaxDt,
			Tolerance:       in.Tolerance,
		},
		Topology: TopologySection{
			Crystal:           tp.Crystal.String(),
			Order:             tp.Order.String(),
			CollisionDistance: tp.CollisionDistance,
			MinSegment:        tp.MinSegment,
			MaxSegment:        tp.MaxSegment,
			RemeshArea:        tp.RemeshArea,
			ScrewAngle:        tp.ScrewAngle,
			CrossSlipRatio:    tp.CrossSlipRatio,
		},
		Run: RunSection{
			InitialDt:       base.InitialDt,
			LogEvery:        100,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Log: LogSection{
			Level:  logging.InfoLevel.String(),
			Format: logging.FormatJSON.String(),
		},
	}
}

// Load reads and validates the run file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a run file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode: %w", err)
	}
	f.Log.Format = validation.DefaultOr(f.Log.Format, logging.FormatJSON.String())
	f.Log.Level = validation.DefaultOr(f.Log.Level, logging.InfoLevel.String())
	f.Topology.Order = validation.DefaultOr(f.Topology.Order, topology.Canonical.String())
	// zero selects the default timeout
	f.Run.ShutdownTimeout = validation.PositiveOr(f.Run.ShutdownTimeout, defaultShutdownTimeout)

	if err := validation.ValidateConfig(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the struct tags and the rules spanning sections.
func (f *File) Validate() error {
	if err := validation.Struct(f); err != nil {
		return err
	}

	cv := validation.NewConfigValidator("material").
		Positive("mu", f.Material.Mu).
		Positive("core_radius", f.Material.CoreRadius).
		NonNegative("core_energy", f.Material.CoreEnergy)
	validation.Range(cv, "nu", f.Material.Nu, 0, 0.4999)
	if err := cv.Validate(); err != nil {
		return err
	}

	cv = validation.NewConfigValidator("force")
	validation.Max(cv, "grid_size", f.Force.GridSize, validation.MaxGridSize)
	for i := range f.Force.Applied {
		for j := range f.Force.Applied[i] {
			cv.Finite(fmt.Sprintf("applied[%d][%d]", i, j), f.Force.Applied[i][j])
		}
	}
	if err := cv.Validate(); err != nil {
		return err
	}

	law, lawErr := mobility.ParseLaw(f.Mobility.Law)
	cv = validation.NewConfigValidator("mobility").
		Custom("law", func() error { return lawErr }).
		When(lawErr == nil, func(v *validation.ConfigValidator) {
			v.Custom("drag", func() error { return f.Mobility.Params.Validate(law) })
		})
	if err := cv.Validate(); err != nil {
		return err
	}

	cv = validation.NewConfigValidator("integrator").
		Custom("scheme", func() error {
			_, err := integrator.ParseScheme(f.Integrator.Scheme)
			return err
		}).
		Custom("max_displacement", func() error {
			if f.Integrator.MaxDisplacement > f.Force.Cutoff {
				return fmt.Errorf("value %g exceeds force.cutoff (%g)", f.Integrator.MaxDisplacement, f.Force.Cutoff)
			}
			return nil
		})
	if err := cv.Validate(); err != nil {
		return err
	}

	cv = validation.NewConfigValidator("topology").
		Custom("crystal", func() error {
			_, err := crystal.Parse(f.Topology.Crystal)
			return err
		}).
		Custom("order", func() error {
			_, err := topology.ParseOrder(f.Topology.Order)
			return err
		}).
		Below("collision_distance", f.Topology.CollisionDistance, "force.cutoff", f.Force.Cutoff).
		When(f.Topology.MaxSegment > 0, func(v *validation.ConfigValidator) {
			v.Below("min_segment", f.Topology.MinSegment, "max_segment", f.Topology.MaxSegment)
		})
	if err := cv.Validate(); err != nil {
		return err
	}

	cv = validation.NewConfigValidator("run").
		Custom("workers", func() error { return validation.ValidateWorkers(f.Run.Workers) }).
		When(f.Run.MetricsAddr != "", func(v *validation.ConfigValidator) {
			v.MinDuration("shutdown_timeout", f.Run.ShutdownTimeout, 0)
		})
	if err := cv.Validate(); err != nil {
		return err
	}

	return validation.NewConfigValidator("log").
		Custom("level", func() error {
			_, err := logging.LookupLevel(f.Log.Level)
			return err
		}).
		Custom("format", func() error {
			_, err := logging.ParseFormat(f.Log.Format)
			return err
		}).
		Validate()
}

// Sim converts the file to the driver configuration.
func (f *File) Sim() (sim.Config, error) {
	law, err := mobility.ParseLaw(f.Mobility.Law)
	if err != nil {
		return sim.Config{}, err
	}
	scheme, err := integrator.ParseScheme(f.Integrator.Scheme)
	if err != nil {
		return sim.Config{}, err
	}
	structure, err := crystal.Parse(f.Topology.Crystal)
	if err != nil {
		return sim.Config{}, err
	}
	order, err := topology.ParseOrder(validation.DefaultOr(f.Topology.Order, topology.Canonical.String()))
	if err != nil {
		return sim.Config{}, err
	}

	cfg := sim.Config{
		Force: force.Config{
			Material:         f.Material,
			Cutoff:           f.Force.Cutoff,
			QuadraturePoints: f.Force.QuadraturePoints,
			MaxPieces:        f.Force.MaxPieces,
			GridSize:         f.Force.GridSize,
			Applied:          geom.Tensor(f.Force.Applied),
			DisableSelfForce: f.Force.DisableSelfForce,
		},
		Law:      law,
		Mobility: f.Mobility.Params,
		Integrator: integrator.Config{
			Scheme:          scheme,
			MaxDisplacement: f.Integrator.MaxDisplacement,
			MaxRotation:     f.Integrator.MaxRotation,
			MaxRetries:      f.Integrator.MaxRetries,
			GrowThreshold:   f.Integrator.GrowThreshold,
			GrowFactor:      f.Integrator.GrowFactor,
			MaxDt:           f.Integrator.MaxDt,
			Tolerance:       f.Integrator.Tolerance,
		},
		Topology: topology.Config{
			CollisionDistance: f.Topology.CollisionDistance,
			MinSegment:        f.Topology.MinSegment,
			MaxSegment:        f.Topology.MaxSegment,
			RemeshArea:        f.Topology.RemeshArea,
			ScrewAngle:        f.Topology.ScrewAngle,
			CrossSlipRatio:    f.Topology.CrossSlipRatio,
			Crystal:           structure,
			Order:             order,
			DisableCollisions: f.Topology.DisableCollisions,
			DisableJunctions:  f.Topology.DisableJunctions,
			DisableCrossSlip:  f.Topology.DisableCrossSlip,
		},
		InitialDt: f.Run.InitialDt,
		LogEvery:  f.Run.LogEvery,
	}
	if err := cfg.Validate(); err != nil {
		return sim.Config{}, err
	}
	return cfg, nil
}

// Runner returns the kernel runner for the configured worker count.
func (f *File) Runner() *parallel.Runner {
	return parallel.New(f.Run.Workers)
}

// Logger builds the configured logger writing to w.
func (f *File) Logger(w io.Writer) logging.Logger {
	format, err := logging.ParseFormat(f.Log.Format)
	if err != nil {
		format = logging.FormatJSON
	}
	return logging.New(w, logging.ParseLevel(f.Log.Level), format)
}

// Encode writes f as YAML.
func (f *File) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return enc.Close()
}
