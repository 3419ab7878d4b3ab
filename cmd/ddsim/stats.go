package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/sim"
)

func newStatsCmd() *cobra.Command {
	var bmag float64
	cmd := &cobra.Command{
		Use:   "stats SNAPSHOT...",
		Short: "Print network statistics of snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				snap, err := readSnapshot(path)
				if err != nil {
					return err
				}
				net, err := network.FromSnapshot(snap)
				if err != nil {
					return err
				}
				state, ok, err := sim.UnmarshalState(snap.Meta)
				if err != nil {
					return err
				}
				if len(args) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", path)
				}
				if err := printStats(cmd.OutOrStdout(), net.Stats(), state, ok, bmag); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&bmag, "bmag", 1, "Burgers vector magnitude used for the density")
	return cmd
}

func printStats(w io.Writer, st network.Statistics, state sim.State, withState bool, bmag float64) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"quantity", "value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	if withState {
		table.Append([]string{"run id", state.RunID})
		table.Append([]string{"step", strconv.FormatUint(state.Step, 10)})
		table.Append([]string{"time", formatFloat(state.Time)})
		table.Append([]string{"next dt", formatFloat(state.Dt)})
		table.Append([]string{"plastic strain", formatFloat(geom.Tensor(state.PlasticStrain).Norm())})
	}
	table.Append([]string{"nodes", strconv.Itoa(st.NumNodes)})
	table.Append([]string{"segments", strconv.Itoa(st.NumSegments)})
	table.Append([]string{"pinned nodes", strconv.Itoa(st.Pinned)})
	table.Append([]string{"surface nodes", strconv.Itoa(st.Surface)})
	table.Append([]string{"line length", formatFloat(st.LineLength)})
	table.Append([]string{"density", formatFloat(st.Density(bmag))})
	table.Append([]string{"segment min/mean/max", fmt.Sprintf("%s / %s / %s",
		formatFloat(st.MinSegment), formatFloat(st.MeanSegment()), formatFloat(st.MaxSegment))})
	table.Append([]string{"volume", formatFloat(st.Volume)})
	table.Append([]string{"|charge|", formatFloat(st.Charge.Norm())})

	arms := make([]int, 0, len(st.ArmHistogram))
	for k := range st.ArmHistogram {
		arms = append(arms, k)
	}
	sort.Ints(arms)
	for _, k := range arms {
		table.Append([]string{fmt.Sprintf("nodes with %d arms", k), strconv.Itoa(st.ArmHistogram[k])})
	}

	table.Render()
	return nil
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', 6, 64)
}
