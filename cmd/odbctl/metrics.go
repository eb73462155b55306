package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMetricsCmd(a *app) *cobra.Command {
	var load bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print slot and file counts after one consolidation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			if load {
				if err := loadAll(s, s.Marker()); err != nil {
					return err
				}
			}
			m := s.Metrics()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "handles %d\n", m.NumHandles)
			fmt.Fprintf(w, "refreshes %d\n", m.NumRefreshes)
			fmt.Fprintf(w, "open_indices %d\n", m.OpenIndices)
			fmt.Fprintf(w, "known_indices %d\n", m.KnownIndices)
			fmt.Fprintf(w, "open_packs %d\n", m.OpenPacks)
			fmt.Fprintf(w, "known_packs %d\n", m.KnownPacks)
			fmt.Fprintf(w, "unused_slots %d\n", m.UnusedSlots)
			fmt.Fprintf(w, "generation %d\n", m.Generation)
			return nil
		},
	}
	cmd.Flags().BoolVar(&load, "load", false, "map every index before counting")
	return cmd
}
