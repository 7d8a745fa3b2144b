package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropforge/internal/config"
	"dropforge/internal/server"
)

// serveCmd runs the API server with the background pipeline loops.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dropforge API and background pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Graceful shutdown on SIGINT/SIGTERM
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			sig := <-sigCh
			logger.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
		}()

		svc, db, err := buildService(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer svc.Close()

		// Pick up campaigns a crashed run left mid-generation.
		if n, err := svc.ResumeStalledCampaigns(); err != nil {
			logger.Warn("resuming stalled campaigns failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("resumed stalled campaigns", zap.Int("count", n))
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srv := server.New(svc, cfg, reg)

		// Hot-reload logging categories and pipeline tunables on config
		// edits; settings that feed constructors (models, retry bounds)
		// need a restart.
		watcher, err := config.NewWatcher(resolveWorkspace(), func(next *config.Config) {
			svc.ApplyConfig(next)
			logger.Info("config reloaded",
				zap.Int("fetch_limit", next.Discovery.FetchLimit),
				zap.Float64("evolution_step", next.Evolution.Step))
		})
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("config watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}

		logger.Info("dropforge serving",
			zap.String("addr", cfg.Server.Addr),
			zap.String("db", cfg.Store.DatabasePath),
			zap.Int("strategy_version", svc.CurrentStrategy().Version))

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(ctx) })
		g.Go(func() error { return svc.Run(ctx) })

		err = g.Wait()
		svc.WaitForCampaigns()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
