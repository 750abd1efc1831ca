package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stoneforge-ai/stoneforge/internal/steward"
	syncer "github.com/stoneforge-ai/stoneforge/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator: sync watcher plus steward scheduler",
	Long: "Run the long-lived orchestrator loop. Watches the JSONL sync\n" +
		"files for external changes and drives steward cron and event\n" +
		"triggers until interrupted.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		launch := newLauncher()
		sched := steward.NewScheduler(store, bus, builtinExecutor(launch), logger)

		watcher, err := syncer.NewWatcher(newSyncer(), logger)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := watcher.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return watcher.Close()
		})
		g.Go(func() error {
			sched.Start(gctx)
			<-gctx.Done()
			sched.Stop()
			return nil
		})

		logger.Info("orchestrator running", "workspace", cfg.Dir, "actor", cfg.Actor)
		err = g.Wait()
		launch.mgr.CloseAll(10 * time.Second)
		logger.Info("orchestrator stopped")
		return err
	},
}
