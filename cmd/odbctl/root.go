package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parr0tr1ver/gitoxide/internal/config"
	"github.com/parr0tr1ver/gitoxide/internal/store"
)

// app carries what every subcommand needs once flags were parsed.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "odbctl",
		Short: "Inspect and watch the pack indices of a git objects directory",
		Long: `odbctl keeps a view of the pack indices, multi-pack-indices and loose object
directories of a git objects directory and its alternates, the same way a
long-running git server would.

Settings are read from ./odbctl.yaml (or --config), ODBCTL_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./odbctl.yaml)")
	pf.String("objects-dir", "", "path to the objects directory (default .git/objects)")
	pf.String("refresh-mode", "", "never or after-all-indices-loaded")
	pf.String("log-level", "", "debug, info, warn or error")

	root.AddCommand(newSnapshotCmd(a), newMetricsCmd(a), newWatchCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFilePath: a.cfgFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStore opens the configured objects directory and runs the first
// consolidation.
func (a *app) openStore() (*store.Store, error) {
	s, err := store.Open(a.cfg.ObjectsDir, store.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if _, err := s.Refresh(store.Marker{}, store.RefreshNever); err != nil {
		return nil, err
	}
	return s, nil
}

// loadAll maps every index of the slot map marker belongs to.
func loadAll(s *store.Store, marker store.Marker) error {
	for {
		ok, err := s.LoadNextIndex(marker)
		if err != nil || !ok {
			return err
		}
	}
}
