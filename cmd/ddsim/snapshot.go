package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

// vecFlag parses "x,y,z" command line vectors.
type vecFlag struct {
	v *r3.Vec
}

func newVecFlag(v *r3.Vec, def r3.Vec) *vecFlag {
	*v = def
	return &vecFlag{v: v}
}

func (f *vecFlag) String() string {
	if f.v == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g", f.v.X, f.v.Y, f.v.Z)
}

func (f *vecFlag) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return fmt.Errorf("want x,y,z, got %q", s)
	}
	var c [3]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
		c[i] = x
	}
	*f.v = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
	return nil
}

func (f *vecFlag) Type() string {
	return "vec"
}

func readSnapshot(path string) (*network.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := network.ReadSnapshot(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logging.Debug("snapshot read", logging.String("path", path),
		logging.Int("nodes", len(s.Nodes)), logging.Int("segments", len(s.Segments)))
	return s, nil
}

// writeSnapshot replaces path atomically.
func writeSnapshot(path string, s *network.Snapshot, compress bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if err := s.Encode(tmp, compress); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	logging.Debug("snapshot written", logging.String("path", path), logging.Bool("compressed", compress))
	return nil
}
