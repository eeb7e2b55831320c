package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/config"
	"github.com/dshills/scenariogen/internal/pipeline"
	"github.com/dshills/scenariogen/pkg/types"
)

var (
	buildUntil  string
	buildDryRun bool
	initForce   bool
)

var validStages = []types.Stage{
	types.StageIndex, types.StageMerge, types.StageEmbed, types.StageSynthesize, types.StageBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [target...]",
	Short: "Bring targets up to date and register their tests",
	Long: `Run the pipeline for the named targets, or every configured target, up
to --until (default: build). Stages whose inputs are unchanged are served
from the cache.`,
	RunE: runBuild,
}

var runCmd = &cobra.Command{
	Use:   "run [target...]",
	Short: "Build targets, then run their registered tests",
	RunE:  runBuildAndTest,
}

var testCmd = &cobra.Command{
	Use:   "test [test-name...]",
	Short: "Run registered tests without rebuilding",
	RunE:  runTests,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded state of every target",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	buildCmd.Flags().StringVar(&buildUntil, "until", string(types.StageBuild), "last stage to run: index, merge, embed, synthesize or build")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "validate scenarios without emitting or compiling source")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
}

// parseStage validates a --until value.
func parseStage(s string) (types.Stage, error) {
	for _, st := range validStages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown stage %q (valid: index, merge, embed, synthesize, build)", types.ErrConfiguration, s)
}

// buildTargets runs the pipeline for the named targets and prints the report.
func buildTargets(ctx context.Context, a *app, names []string, until types.Stage, out io.Writer) error {
	targets, err := cfg.ResolveTargets(names...)
	if err != nil {
		return err
	}
	report, err := a.pipeline.Run(ctx, targets, until)
	if report != nil {
		fmt.Fprint(out, report.Render(pipeline.DefaultPalette))
	}
	return err
}

func runBuild(cmd *cobra.Command, args []string) error {
	until, err := parseStage(buildUntil)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), buildDryRun)
	if err != nil {
		return err
	}
	defer a.Close()
	return buildTargets(cmd.Context(), a, args, until, cmd.OutOrStdout())
}

func runBuildAndTest(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := buildTargets(cmd.Context(), a, args, types.StageBuild, cmd.OutOrStdout()); err != nil {
		return err
	}
	targets, err := cfg.ResolveTargets(args...)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(targets))
	for i := range targets {
		names = append(names, targets[i].RegistrationName())
	}
	return runAndReport(cmd.Context(), a, names, cmd.OutOrStdout())
}

func runTests(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()
	return runAndReport(cmd.Context(), a, args, cmd.OutOrStdout())
}

// errTestsFailed is returned when at least one test exits non-zero.
var errTestsFailed = errors.New("tests failed")

func runAndReport(ctx context.Context, a *app, names []string, out io.Writer) error {
	outcomes, err := a.pipeline.RunTests(ctx, names)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Fprintln(out, "no registered tests")
		return nil
	}
	fmt.Fprint(out, pipeline.RenderTests(outcomes, pipeline.DefaultPalette))

	var failed []string
	for _, o := range outcomes {
		if !o.Result.Passed {
			failed = append(failed, o.Registration.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", errTestsFailed, strings.Join(failed, ", "))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	heads, err := a.pipeline.Heads(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), pipeline.RenderHeads(heads, pipeline.DefaultPalette))
	for _, h := range heads {
		if h.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s failed in %s:\n%s\n", h.Target, h.FailedStage, h.Error)
		}
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(cfgPath)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%w: %s already exists (use --force to overwrite)", types.ErrConfiguration, path)
	}

	starter := config.DefaultConfig()
	starter.Targets = []config.TargetConfig{{
		Name:        "example",
		Dir:         ".",
		Sources:     []string{"src"},
		IncludeDirs: []string{"include"},
		Std:         "c++20",
	}}
	if err := starter.Save(path); err != nil {
		return err
	}
	logger.Info("wrote configuration", zap.String("path", path))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
