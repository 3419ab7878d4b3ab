// Package mobility maps nodal forces to nodal velocities. A Law selects one of
// a fixed set of pure functions; Velocities evaluates it for every node of a
// network in parallel.
package mobility

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/parallel"
)

var (
	// ErrNonFiniteVelocity is returned when a law produced NaN or Inf.
	ErrNonFiniteVelocity = errors.New("non-finite velocity")
	// ErrUnknownLaw is returned for unrecognized law names.
	ErrUnknownLaw = errors.New("unknown mobility law")
	// ErrInvalidParams is returned for non-positive drag coefficients.
	ErrInvalidParams = errors.New("invalid mobility parameters")
)

// Law selects a mobility function.
type Law uint8

const (
	// Linear is isotropic viscous drag.
	Linear Law = iota
	// FCC is viscous drag restricted to the glide planes of the arms.
	FCC
	// BCC is character-dependent viscous drag with a separate climb drag.
	BCC
)

var lawNames = map[Law]string{
	Linear: "linear",
	FCC:    "fcc",
	BCC:    "bcc",
}

// String returns the law name
func (l Law) String() string {
	if s, ok := lawNames[l]; ok {
		return s
	}
	return fmt.Sprintf("law(%d)", uint8(l))
}

// ParseLaw parses a law name (case-insensitive).
func ParseLaw(s string) (Law, error) {
	for l, name := range lawNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLaw, s)
}

// Params are the drag coefficients of the laws. Linear and FCC use Drag, BCC
// uses ScrewDrag, EdgeDrag and ClimbDrag.
type Params struct {
	Drag      float64 `yaml:"drag" json:"drag"`
	ScrewDrag float64 `yaml:"screw_drag" json:"screw_drag"`
	EdgeDrag  float64 `yaml:"edge_drag" json:"edge_drag"`
	ClimbDrag float64 `yaml:"climb_drag" json:"climb_drag"`
}

// DefaultParams returns unit drag with stiff climb.
func DefaultParams() Params {
	return Params{
		Drag:      1,
		ScrewDrag: 1,
		EdgeDrag:  1,
		ClimbDrag: 1e4,
	}
}

// Validate checks the coefficients needed by law.
func (p Params) Validate(law Law) error {
	switch law {
	case Linear, FCC:
		if !(p.Drag > 0) {
			return fmt.Errorf("%w: drag %g", ErrInvalidParams, p.Drag)
		}
	case BCC:
		if !(p.ScrewDrag > 0) || !(p.EdgeDrag > 0) || !(p.ClimbDrag > 0) {
			return fmt.Errorf("%w: screw %g edge %g climb %g", ErrInvalidParams, p.ScrewDrag, p.EdgeDrag, p.ClimbDrag)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownLaw, law)
	}
	return nil
}

// Arm is the geometry of one incident segment seen from the node.
type Arm struct {
	Length  float64
	Dir     r3.Vec // unit, pointing away from the node
	Burgers r3.Vec // outward
	Plane   r3.Vec // unit glide plane normal or zero
}

// Geometry is everything a law may look at besides the force.
type Geometry struct {
	Arms       []Arm
	Constraint network.Constraint
	Normal     r3.Vec
}

// HalfLength returns half the total arm length, the line length attributed
// to the node.
func (g Geometry) HalfLength() float64 {
	l := 0.0
	for _, a := range g.Arms {
		l += a.Length
	}
	return l / 2
}

// Func is a mobility function
type Func func(f r3.Vec, g Geometry, p Params) r3.Vec

// Func returns the function selected by the law.
func (l Law) Func() Func {
	switch l {
	case FCC:
		return glide
	case BCC:
		return characterDrag
	default:
		return linear
	}
}

// Velocity evaluates the law and applies the node constraint.
func (l Law) Velocity(f r3.Vec, g Geometry, p Params) r3.Vec {
	switch g.Constraint {
	case network.Pinned:
		return r3.Vec{}
	case network.Surface:
		return geom.ProjectOut(l.Func()(f, g, p), geom.SafeUnit(g.Normal))
	default:
		return l.Func()(f, g, p)
	}
}

func linear(f r3.Vec, g Geometry, p Params) r3.Vec {
	l := g.HalfLength()
	if l < geom.Tiny {
		return r3.Vec{}
	}
	return r3.Scale(1/(p.Drag*l), f)
}

// glidePlanes returns the distinct glide plane normals of the arms.
func glidePlanes(g Geometry) []r3.Vec {
	var planes []r3.Vec
next:
	for _, a := range g.Arms {
		if geom.IsZero(a.Plane, geom.Tiny) {
			continue
		}
		for _, p := range planes {
			if geom.Parallel(p, a.Plane, 1e-6) {
				continue next
			}
		}
		planes = append(planes, a.Plane)
	}
	return planes
}

// glide is linear drag confined to the common glide planes of the arms.
func glide(f r3.Vec, g Geometry, p Params) r3.Vec {
	v := linear(f, g, p)
	planes := glidePlanes(g)
	switch len(planes) {
	case 0:
		return v
	case 1:
		return geom.ProjectOut(v, geom.SafeUnit(planes[0]))
	}
	line := geom.SafeUnit(r3.Cross(planes[0], planes[1]))
	for _, n := range planes[2:] {
		if math.Abs(r3.Dot(n, line)) > 1e-6 {
			return r3.Vec{}
		}
	}
	return r3.Scale(r3.Dot(v, line), line)
}

// characterDrag builds the drag tensor of the node from per-arm glide and
// climb drag, with the glide drag interpolated between screw and edge
// character, and solves D v = f.
func characterDrag(f r3.Vec, g Geometry, p Params) r3.Vec {
	d := mat.NewSymDense(3, nil)
	total := 0.0
	for _, a := range g.Arms {
		bmag := r3.Norm(a.Burgers)
		if a.Length < geom.Tiny || bmag < geom.Tiny {
			continue
		}
		bs := r3.Dot(a.Burgers, a.Dir)
		be2 := math.Max(0, bmag*bmag-bs*bs)
		bg := math.Sqrt(p.ScrewDrag*p.ScrewDrag*bs*bs+p.EdgeDrag*p.EdgeDrag*be2) / bmag

		w := a.Length / 2
		total += w
		n := geom.ToArray(geom.SafeUnit(a.Plane))
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				delta := 0.0
				if i == j {
					delta = 1
				}
				nn := n[i] * n[j]
				d.SetSym(i, j, d.At(i, j)+w*(bg*(delta-nn)+p.ClimbDrag*nn))
			}
		}
	}
	if total < geom.Tiny {
		return r3.Vec{}
	}

	var chol mat.Cholesky
	if !chol.Factorize(d) {
		return r3.Vec{}
	}
	fv := geom.ToArray(f)
	var v mat.VecDense
	if err := chol.SolveVecTo(&v, mat.NewVecDense(3, fv[:])); err != nil {
		return r3.Vec{}
	}
	return r3.Vec{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}
}

// GeometryOf collects the geometry of a node.
func GeometryOf(net *network.Network, id network.NodeID) (Geometry, error) {
	node, err := net.Node(id)
	if err != nil {
		return Geometry{}, err
	}
	arms, err := net.Arms(id)
	if err != nil {
		return Geometry{}, err
	}
	g := Geometry{
		Arms:       make([]Arm, len(arms)),
		Constraint: node.Constraint,
		Normal:     node.Normal,
	}
	for i, a := range arms {
		g.Arms[i] = Arm{
			Length:  r3.Norm(a.Vector),
			Dir:     geom.SafeUnit(a.Vector),
			Burgers: a.Burgers,
			Plane:   a.Plane,
		}
	}
	return g, nil
}

// Velocities evaluates law on every node. Nodes missing from forces feel no
// force.
func Velocities(ctx context.Context, net *network.Network, forces map[network.NodeID]r3.Vec, law Law, p Params, runner *parallel.Runner) (map[network.NodeID]r3.Vec, error) {
	if runner == nil {
		runner = parallel.Serial()
	}
	ids := net.NodeIDs()
	out := make([]r3.Vec, len(ids))
	err := runner.ForErr(ctx, len(ids), func(_ context.Context, i int) error {
		g, err := GeometryOf(net, ids[i])
		if err != nil {
			return err
		}
		v := law.Velocity(forces[ids[i]], g, p)
		if !geom.Finite(v) {
			return fmt.Errorf("%w: node %d", ErrNonFiniteVelocity, ids[i])
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	vel := make(map[network.NodeID]r3.Vec, len(ids))
	for i, id := range ids {
		vel[id] = out[i]
	}
	return vel, nil
}
