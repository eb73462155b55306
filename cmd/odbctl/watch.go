package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parr0tr1ver/gitoxide/internal/store"
	"github.com/parr0tr1ver/gitoxide/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Consolidate whenever pack directories change and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runWatch(ctx)
		},
	}
	cmd.Flags().Duration("watch-debounce", 0, "quiet period before rescanning (default 250ms)")
	cmd.Flags().String("metrics-addr", "", "listen address for /metrics, empty to disable (default :9090)")
	return cmd
}

func (a *app) runWatch(ctx context.Context) error {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	handle := s.NewHandle(store.HandleUnstable)
	defer handle.Close()

	w, err := watch.New(s, watch.Config{
		Debounce: a.cfg.Watch.Debounce,
		Logger:   a.logger,
		OnRefresh: func(_ context.Context, out *store.Outcome) {
			m := s.Metrics()
			a.logger.Info("objects directory refreshed",
				zap.Bool("stable", out.Stable),
				zap.Uint8("generation", out.Snapshot.Marker.Generation()),
				zap.Int("known_indices", m.KnownIndices),
				zap.Int("unused_slots", m.UnusedSlots))
		},
	})
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return w.Run(ctx) })

	if addr := a.cfg.Metrics.Addr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(store.NewCollector(s), collectors.NewGoCollector())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		eg.Go(func() error {
			a.logger.Info("serving metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serve metrics")
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("watching objects directory", zap.Strings("dirs", w.Watched()))
	return eg.Wait()
}
