package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/watch"
	"github.com/dshills/scenariogen/pkg/types"
)

var watchUntil string

var watchCmd = &cobra.Command{
	Use:   "watch [target...]",
	Short: "Rebuild targets whenever a file they depend on changes",
	Long: `Run the pipeline once, then watch every source and header the cached
artifacts depend on, plus the configuration file and the target directories.
Each change re-runs the pipeline; only invalidated nodes do work. A failed
rebuild is reported and watching continues.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchUntil, "until", string(types.StageBuild), "last stage to run on each change")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	until, err := parseStage(watchUntil)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	rebuild := func(ctx context.Context, changed []string) error {
		if len(changed) > 0 {
			logger.Info("change detected", zap.Strings("files", changed))
		}
		return buildTargets(ctx, a, args, until, out)
	}
	if err := rebuild(ctx, nil); err != nil {
		logger.Warn("initial build failed", zap.Error(err))
	}

	targets, err := cfg.ResolveTargets(args...)
	if err != nil {
		return err
	}
	extra := []string{cfgPath}
	for i := range targets {
		extra = append(extra, targets[i].Dir)
	}

	w, err := watch.New(watch.Options{
		Files:    a.pipeline.WatchedFiles,
		Extra:    extra,
		Rebuild:  rebuild,
		Debounce: cfg.GetDebounce(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	fmt.Fprintf(out, "Watching %d director(ies). Press Ctrl+C to stop.\n", len(w.WatchedDirs()))
	<-ctx.Done()

	stats := w.Stats()
	logger.Info("watch stopped",
		zap.Int("events", stats.Events),
		zap.Int("rebuilds", stats.Rebuilds),
		zap.Int("errors", stats.Errors))
	return nil
}
