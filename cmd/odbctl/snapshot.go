package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parr0tr1ver/gitoxide/internal/store"
)

func newSnapshotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Load every index and print them in search order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := a.cfg.Mode()
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			// Keep loading until a refresh in the configured mode finds nothing new.
			marker := s.Marker()
			for {
				if err := loadAll(s, marker); err != nil {
					return err
				}
				out, err := s.Refresh(s.Marker(), mode)
				if err != nil {
					return err
				}
				if out == nil {
					break
				}
				marker = out.Snapshot.Marker
			}
			return printSnapshot(cmd.OutOrStdout(), s.Snapshot())
		},
	}
}

func printSnapshot(w io.Writer, snap store.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "KIND\tID\tOBJECTS\tPATH\n")
	for _, l := range snap.Indices {
		switch {
		case l.Single != nil:
			fmt.Fprintf(tw, "pack\t%d\t%d\t%s\n", l.ID, l.Single.Index.NumObjects(), l.Single.Index.Path())
		case l.Multi != nil:
			fmt.Fprintf(tw, "midx\t%d\t%d packs\t%s\n", l.ID, len(l.Multi.Index.PackNames()), l.Multi.Index.Path())
		}
	}
	for _, db := range snap.LooseDBs {
		fmt.Fprintf(tw, "loose\t-\t-\t%s\n", db.Path())
	}
	fmt.Fprintf(tw, "\ngeneration %d, state %016x\n", snap.Marker.Generation(), uint64(snap.Marker.StateID()))
	return tw.Flush()
}
