// Package crystal lists the slip geometry of cubic crystals with lattice axes
// aligned to the simulation box. Burgers vectors are unit length.
package crystal

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
)

// ErrUnknownStructure is returned for unrecognized structure names.
var ErrUnknownStructure = errors.New("unknown crystal structure")

// Structure is a cubic lattice type.
type Structure uint8

const (
	FCC Structure = iota
	BCC
)

// String returns the structure name
func (s Structure) String() string {
	switch s {
	case FCC:
		return "fcc"
	case BCC:
		return "bcc"
	default:
		return fmt.Sprintf("structure(%d)", uint8(s))
	}
}

// Parse parses a structure name.
func Parse(s string) (Structure, error) {
	switch strings.ToLower(s) {
	case "fcc":
		return FCC, nil
	case "bcc":
		return BCC, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStructure, s)
}

// SlipSystem is a Burgers vector and a glide plane normal containing it.
type SlipSystem struct {
	Burgers r3.Vec
	Plane   r3.Vec
}

func unit(x, y, z float64) r3.Vec {
	return geom.SafeUnit(r3.Vec{X: x, Y: y, Z: z})
}

var (
	planes111 = []r3.Vec{unit(1, 1, 1), unit(-1, 1, 1), unit(1, -1, 1), unit(1, 1, -1)}
	planes110 = []r3.Vec{unit(1, 1, 0), unit(1, -1, 0), unit(1, 0, 1), unit(1, 0, -1), unit(0, 1, 1), unit(0, 1, -1)}
	dirs110   = []r3.Vec{unit(1, 1, 0), unit(1, -1, 0), unit(1, 0, 1), unit(1, 0, -1), unit(0, 1, 1), unit(0, 1, -1)}
	dirs111   = []r3.Vec{unit(1, 1, 1), unit(-1, 1, 1), unit(1, -1, 1), unit(1, 1, -1)}
)

// GlidePlanes returns the glide plane normals of the structure: {111} for
// FCC and {110} for BCC.
func (s Structure) GlidePlanes() []r3.Vec {
	if s == BCC {
		return append([]r3.Vec(nil), planes110...)
	}
	return append([]r3.Vec(nil), planes111...)
}

// BurgersDirections returns the slip directions: <110> for FCC and <111>
// for BCC.
func (s Structure) BurgersDirections() []r3.Vec {
	if s == BCC {
		return append([]r3.Vec(nil), dirs111...)
	}
	return append([]r3.Vec(nil), dirs110...)
}

// SlipSystems returns the twelve slip systems, grouped by Burgers vector.
func (s Structure) SlipSystems() []SlipSystem {
	var out []SlipSystem
	for _, b := range s.BurgersDirections() {
		for _, n := range s.PlanesContaining(b) {
			out = append(out, SlipSystem{Burgers: b, Plane: n})
		}
	}
	return out
}

// PlanesContaining returns the glide planes whose normal is perpendicular to
// b within a small angular tolerance.
func (s Structure) PlanesContaining(b r3.Vec) []r3.Vec {
	bu := geom.SafeUnit(b)
	var out []r3.Vec
	for _, n := range s.GlidePlanes() {
		if math.Abs(r3.Dot(n, bu)) < 1e-6 {
			out = append(out, n)
		}
	}
	return out
}
