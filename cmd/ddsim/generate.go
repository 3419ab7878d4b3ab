package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/dd0wney/cluso-disloc/pkg/cell"
	"github.com/dd0wney/cluso-disloc/pkg/crystal"
	"github.com/dd0wney/cluso-disloc/pkg/generate"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

type generateOptions struct {
	box      float64
	out      string
	compress bool
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write an initial network to a snapshot",
	}
	cmd.PersistentFlags().Float64Var(&opts.box, "box", 100, "edge length of the cubic periodic box")
	cmd.PersistentFlags().StringVarP(&opts.out, "out", "o", "", "output snapshot path")
	cmd.PersistentFlags().BoolVar(&opts.compress, "compress", false, "snappy-compress the snapshot")
	_ = cmd.MarkPersistentFlagRequired("out")

	cmd.AddCommand(newLoopCmd(opts), newFrankReadCmd(opts), newLinesCmd(opts))
	return cmd
}

func (o *generateOptions) write(cmd *cobra.Command, net *network.Network) error {
	if err := net.Verify(); err != nil {
		return err
	}
	if err := writeSnapshot(o.out, net.Snapshot(), o.compress); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d nodes, %d segments\n", o.out, net.NumNodes(), net.NumSegments())
	return err
}

func newLoopCmd(opts *generateOptions) *cobra.Command {
	var b, plane, center r3.Vec
	var radius float64
	var perSide int

	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Hexagonal glide or prismatic loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			box := cell.Cubic(opts.box)
			if !cmd.Flags().Changed("center") {
				center = box.Center()
			}
			net := network.New(box)
			if _, err := generate.HexagonalLoop(net, b, plane, center, radius, perSide); err != nil {
				return err
			}
			return opts.write(cmd, net)
		},
	}
	cmd.Flags().Var(newVecFlag(&b, r3.Vec{X: 1}), "burgers", "Burgers vector")
	cmd.Flags().Var(newVecFlag(&plane, r3.Vec{Z: 1}), "plane", "loop plane normal")
	cmd.Flags().Var(newVecFlag(&center, r3.Vec{}), "center", "loop center (default box center)")
	cmd.Flags().Float64Var(&radius, "radius", 20, "circumradius")
	cmd.Flags().IntVar(&perSide, "per-side", 2, "segments per hexagon side")
	return cmd
}

func newFrankReadCmd(opts *generateOptions) *cobra.Command {
	var b, plane, center, dir r3.Vec
	var length float64
	var nodes int

	cmd := &cobra.Command{
		Use:   "frank-read",
		Short: "Straight source with pinned ends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			box := cell.Cubic(opts.box)
			if !cmd.Flags().Changed("center") {
				center = box.Center()
			}
			net := network.New(box)
			if _, err := generate.FrankReadSource(net, b, plane, length, center, dir, nodes); err != nil {
				return err
			}
			return opts.write(cmd, net)
		},
	}
	cmd.Flags().Var(newVecFlag(&b, r3.Vec{X: 1}), "burgers", "Burgers vector")
	cmd.Flags().Var(newVecFlag(&plane, r3.Vec{Z: 1}), "plane", "glide plane normal")
	cmd.Flags().Var(newVecFlag(&center, r3.Vec{}), "center", "source center (default box center)")
	cmd.Flags().Var(newVecFlag(&dir, r3.Vec{Y: 1}), "dir", "line direction")
	cmd.Flags().Float64Var(&length, "length", 40, "source length")
	cmd.Flags().IntVar(&nodes, "nodes", 9, "number of nodes including the pinned ends")
	return cmd
}

func newLinesCmd(opts *generateOptions) *cobra.Command {
	var structure string
	var lines int
	var lo generate.LineOptions

	cmd := &cobra.Command{
		Use:   "lines",
		Short: "Random periodic lines over all slip systems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := crystal.Parse(structure)
			if err != nil {
				return err
			}
			net, err := generate.LineConfig(s, cell.Cubic(opts.box), lines, lo)
			if err != nil {
				return err
			}
			return opts.write(cmd, net)
		},
	}
	cmd.Flags().StringVar(&structure, "crystal", "fcc", "crystal structure (fcc or bcc)")
	cmd.Flags().IntVar(&lines, "lines", 24, "number of lines")
	cmd.Flags().Float64SliceVar(&lo.Thetas, "theta", nil, "character angles in degrees (default balanced per slip system)")
	cmd.Flags().Float64Var(&lo.MaxSegment, "max-segment", 0, "largest node spacing (0 uses the default)")
	cmd.Flags().Uint64Var(&lo.Seed, "seed", 0, "random seed (0 seeds from the clock)")
	return cmd
}
