// Package generate builds initial dislocation configurations: Frank-Read
// sources, infinite periodic lines, glide loops and random line ensembles
// over the slip systems of a cubic crystal.
package generate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

var (
	// ErrNoClosure is returned when a line does not close through the
	// periodic boundary within MaxLineNodes nodes.
	ErrNoClosure = errors.New("generate: line does not close through the periodic boundary")

	// ErrInvalidParams is returned for unusable generator arguments.
	ErrInvalidParams = errors.New("generate: invalid parameters")
)

// MaxLineNodes bounds the discretization of an infinite line.
const MaxLineNodes = 1000

// lineSegmentFraction of the shortest box vector is the default node spacing
// of infinite lines.
const lineSegmentFraction = 0.15

// Direction returns the line direction with character angle theta (degrees)
// between b and the edge direction plane x b.
func Direction(b, plane r3.Vec, theta float64) r3.Vec {
	bu := geom.SafeUnit(b)
	y := geom.SafeUnit(r3.Cross(geom.SafeUnit(plane), bu))
	rad := theta * math.Pi / 180
	return geom.SafeUnit(r3.Add(r3.Scale(math.Cos(rad), bu), r3.Scale(math.Sin(rad), y)))
}

// FrankReadSource inserts a straight source of the given length centered at
// center with line direction dir, discretized by numNodes nodes. Both ends
// are pinned.
func FrankReadSource(net *network.Network, b, plane r3.Vec, length float64, center, dir r3.Vec, numNodes int) ([]network.NodeID, error) {
	if numNodes < 2 || !(length > 0) {
		return nil, fmt.Errorf("%w: frank-read source needs length > 0 and at least 2 nodes", ErrInvalidParams)
	}
	d := geom.SafeUnit(dir)
	if d == geom.Zero {
		return nil, fmt.Errorf("%w: zero line direction", ErrInvalidParams)
	}
	plane = geom.SafeUnit(plane)

	start := r3.Sub(center, r3.Scale(0.5*length, d))
	ids := make([]network.NodeID, numNodes)
	for i := range ids {
		c := network.Free
		if i == 0 || i == numNodes-1 {
			c = network.Pinned
		}
		p := r3.Add(start, r3.Scale(float64(i)*length/float64(numNodes-1), d))
		id, err := net.AddNode(p, c)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	for i := 0; i+1 < numNodes; i++ {
		if _, err := net.AddSegment(ids[i], ids[i+1], b, plane); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// lineSpacing returns the node spacing of infinite lines in box.
func lineSpacing(box *cell.Box, maxSeg float64) float64 {
	l := box.Lengths()
	s := lineSegmentFraction * math.Min(l[0], math.Min(l[1], l[2]))
	if maxSeg > 0 {
		s = math.Min(s, maxSeg)
	}
	return s
}

// closure walks from origin along dir until the walk returns within one
// spacing of an image of origin. It returns the unwrapped end point and the
// number of nodes.
func closure(box *cell.Box, origin, dir r3.Vec, maxSeg float64) (r3.Vec, int, error) {
	d := geom.SafeUnit(dir)
	if d == geom.Zero {
		return r3.Vec{}, 0, fmt.Errorf("%w: zero line direction", ErrInvalidParams)
	}
	spacing := lineSpacing(box, maxSeg)
	p := origin
	for n := 0; n < MaxLineNodes; n++ {
		p = r3.Add(p, r3.Scale(spacing, d))
		pp := box.ClosestImage(origin, p)
		if n > 0 && r3.Norm(r3.Sub(pp, origin)) < spacing {
			return box.ClosestImage(p, origin), n + 1, nil
		}
	}
	return r3.Vec{}, 0, ErrNoClosure
}

// ClosureLength returns the length of the infinite line through origin along
// dir without inserting it.
func ClosureLength(box *cell.Box, origin, dir r3.Vec, maxSeg float64) (float64, error) {
	end, _, err := closure(box, origin, dir, maxSeg)
	if err != nil {
		return 0, err
	}
	return r3.Norm(r3.Sub(end, origin)), nil
}

// InfiniteLine inserts a straight line through origin along dir that closes
// on itself through the periodic boundary. Nodes are evenly spaced, at most
// maxSeg apart when maxSeg is positive.
func InfiniteLine(net *network.Network, b, plane, origin, dir r3.Vec, maxSeg float64) ([]network.NodeID, error) {
	end, n, err := closure(net.Box(), origin, dir, maxSeg)
	if err != nil {
		return nil, err
	}
	plane = geom.SafeUnit(plane)
	span := r3.Sub(end, origin)
	ids := make([]network.NodeID, n)
	for i := range ids {
		id, err := net.AddNode(r3.Add(origin, r3.Scale(float64(i)/float64(n), span)), network.Free)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	for i := range ids {
		if _, err := net.AddSegment(ids[i], ids[(i+1)%n], b, plane); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// HexagonalLoop inserts a closed hexagonal loop of circumradius radius
// centered at center in the plane with the given normal. Each side is split
// into perSide segments. Segments run counterclockwise about the normal.
func HexagonalLoop(net *network.Network, b, plane, center r3.Vec, radius float64, perSide int) ([]network.NodeID, error) {
	if !(radius > 0) || perSide < 1 {
		return nil, fmt.Errorf("%w: hexagonal loop needs radius > 0 and perSide >= 1", ErrInvalidParams)
	}
	n := geom.SafeUnit(plane)
	if n == geom.Zero {
		return nil, fmt.Errorf("%w: zero plane normal", ErrInvalidParams)
	}
	e1 := geom.SafeUnit(geom.ProjectOut(b, n))
	if e1 == geom.Zero {
		// prismatic loop: any in-plane axis
		e1 = geom.SafeUnit(geom.ProjectOut(r3.Vec{X: 1}, n))
		if e1 == geom.Zero {
			e1 = geom.SafeUnit(geom.ProjectOut(r3.Vec{Y: 1}, n))
		}
	}
	e2 := r3.Cross(n, e1)

	corner := func(k int) r3.Vec {
		a := float64(k) * math.Pi / 3
		return r3.Add(center, r3.Add(r3.Scale(radius*math.Cos(a), e1), r3.Scale(radius*math.Sin(a), e2)))
	}
	ids := make([]network.NodeID, 0, 6*perSide)
	for k := 0; k < 6; k++ {
		c0, c1 := corner(k), corner(k+1)
		for j := 0; j < perSide; j++ {
			id, err := net.AddNode(geom.Lerp(c0, c1, float64(j)/float64(perSide)), network.Free)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	for i := range ids {
		if _, err := net.AddSegment(ids[i], ids[(i+1)%len(ids)], b, n); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
