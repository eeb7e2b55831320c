// Command scenariogen indexes C/C++ sources, synthesizes tests from the
// scenarios written in their doc comments, and builds and registers the
// resulting test executables.
//
// The four stage commands (parse, merge, embed, synth) each run one pipeline
// stage on explicit files and suit an external build system. The remaining
// commands drive the whole pipeline for the targets in scenariogen.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/config"
	"github.com/dshills/scenariogen/internal/logging"
	"github.com/dshills/scenariogen/internal/pipeline"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	// exitRetryable marks failures that may succeed on a later run with the
	// same inputs (EX_TEMPFAIL).
	exitRetryable = 75
	exitCancelled = 130
)

var (
	// Global flags
	cfgPath string
	verbose bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scenariogen",
	Short: "Turn C++ doc-comment scenarios into registered tests",
	Long: `scenariogen reads Given/When/Then scenarios from the documentation
comments of C++ classes and functions, maps them onto the declared API, and
emits, compiles and registers one test executable per target.

Only stages whose inputs changed since the last run do any work.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(filepath.Dir(cfgPath)); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "scenariogen %s\n", version)
		fmt.Fprintf(out, "Build time: %s\n", buildTime)
		fmt.Fprintf(out, "Build mode: %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite driver: %s\n", storage.DriverName)
		fmt.Fprintf(out, "Parser: %s\n", types.ParserVersion)
		fmt.Fprintf(out, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultFile, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and per-scenario plan output")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, pipeline.ErrBusy), types.IsRetryable(err):
		return exitRetryable
	default:
		return exitFailure
	}
}

// removeOutputs deletes the declared outputs of a failed command so a
// failure never leaves an artifact behind.
func removeOutputs(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && logger != nil {
			logger.Warn("failed to remove output", zap.String("path", p), zap.Error(err))
		}
	}
}
