package generate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/crystal"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

// characterAngles are the candidates searched when no angles are given.
var characterAngles = func() []float64 {
	out := make([]float64, 19)
	for i := range out {
		out[i] = 5 * float64(i)
	}
	return out
}()

// LineOptions controls LineConfig.
type LineOptions struct {
	// Thetas are the character angles in degrees a line may take. Empty
	// selects one angle per slip system so that line lengths are balanced.
	Thetas []float64
	// MaxSegment bounds the node spacing; zero uses the default spacing.
	MaxSegment float64
	// Seed makes the configuration reproducible; zero seeds from the clock.
	Seed uint64
}

// LineConfig fills box with numLines infinite straight lines, cycling
// through the twelve slip systems of s. Every second full cycle reverses the
// line sense so that consecutive cycles form dipoles; a multiple of 24 lines
// gives zero net Burgers content.
func LineConfig(s crystal.Structure, box *cell.Box, numLines int, opts LineOptions) (*network.Network, error) {
	if numLines < 1 {
		return nil, fmt.Errorf("%w: need at least one line", ErrInvalidParams)
	}
	systems := s.SlipSystems()
	nsys := len(systems)

	thetaSys := make([][]float64, nsys)
	if len(opts.Thetas) == 0 {
		balanced, err := balancedAngles(box, systems, opts.MaxSegment)
		if err != nil {
			return nil, err
		}
		for i := range thetaSys {
			thetaSys[i] = []float64{balanced[i]}
		}
	} else {
		for i := range thetaSys {
			thetaSys[i] = opts.Thetas
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	origins := make([]r3.Vec, numLines)
	choice := make([]int, numLines)
	for i := range origins {
		f := r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		origins[i] = box.Cartesian(f)
		choice[i] = rng.IntN(len(thetaSys[i%nsys]))
	}

	net := network.New(box)
	for i := 0; i < numLines; i++ {
		sys := systems[i%nsys]
		dipole := (i / nsys) % 2
		sign := float64(1 - 2*dipole)
		// the dipole partner reuses the angle of the line it pairs with
		theta := thetaSys[i%nsys][choice[i-dipole*nsys]]
		dir := r3.Scale(sign, Direction(sys.Burgers, sys.Plane, theta))
		if _, err := InfiniteLine(net, sys.Burgers, sys.Plane, origins[i], dir, opts.MaxSegment); err != nil {
			return nil, fmt.Errorf("line %d (b=%v n=%v theta=%g): %w", i, sys.Burgers, sys.Plane, theta, err)
		}
	}
	if err := net.Verify(); err != nil {
		return nil, err
	}
	return net, nil
}

// balancedAngles picks, per slip system, the character angle whose closure
// length is nearest to the largest of the per-system shortest closures.
func balancedAngles(box *cell.Box, systems []crystal.SlipSystem, maxSeg float64) ([]float64, error) {
	center := box.Center()
	lengths := make([][]float64, len(systems))
	maxMin := 0.0
	for i, sys := range systems {
		lengths[i] = make([]float64, len(characterAngles))
		shortest := math.Inf(1)
		for j, theta := range characterAngles {
			l, err := ClosureLength(box, center, Direction(sys.Burgers, sys.Plane, theta), maxSeg)
			if err != nil {
				l = -1
			} else {
				shortest = math.Min(shortest, l)
			}
			lengths[i][j] = l
		}
		if math.IsInf(shortest, 1) {
			return nil, fmt.Errorf("%w: no closing line for b=%v n=%v", ErrNoClosure, sys.Burgers, sys.Plane)
		}
		maxMin = math.Max(maxMin, shortest)
	}
	if maxMin > 10*box.MinWidth() {
		return nil, fmt.Errorf("%w: shortest lines too long (%g)", ErrNoClosure, maxMin)
	}

	out := make([]float64, len(systems))
	for i := range systems {
		best, bestDiff := 0, math.Inf(1)
		for j, l := range lengths[i] {
			if l < 0 {
				continue
			}
			if d := math.Abs(l - maxMin); d < bestDiff {
				best, bestDiff = j, d
			}
		}
		out[i] = characterAngles[best]
	}
	return out, nil
}
