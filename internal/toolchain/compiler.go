package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/scenariogen/pkg/types"
)

// DefaultCompiler is the compiler driver used when none is configured.
const DefaultCompiler = "c++"

// maxDiagnostic bounds the compiler output kept in a BuildError.
const maxDiagnostic = 16 << 10

// BuildRequest describes one test executable to compile.
type BuildRequest struct {
	Target string
	// Source is the generated translation unit.
	Source string
	// Output is the executable path. It exists only after a successful
	// build.
	Output  string
	WorkDir string
	Config  types.CompilerConfig
	// LinkInputs are compiled and linked with Source, typically the
	// target's own non-header sources.
	LinkInputs []string
}

// Compiler builds test executables.
type Compiler interface {
	// Compile builds req.Output. Failures are BuildErrors carrying the
	// compiler diagnostics.
	Compile(ctx context.Context, req BuildRequest) error
	// Identity names the compiler and its version for cache keys.
	Identity(ctx context.Context) string
}

// ExecCompiler runs an external compiler driver such as c++ or clang++.
type ExecCompiler struct {
	path   string
	logger *zap.Logger

	once     sync.Once
	identity string
}

// NewExecCompiler creates a compiler running the driver at path.
func NewExecCompiler(path string, logger *zap.Logger) *ExecCompiler {
	if path == "" {
		path = DefaultCompiler
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecCompiler{path: path, logger: logger}
}

// Args returns the driver arguments for req.
func Args(req BuildRequest) []string {
	args := req.Config.Args()
	args = append(args, req.Source)
	args = append(args, req.LinkInputs...)
	return append(args, "-o", req.Output)
}

func (c *ExecCompiler) Compile(ctx context.Context, req BuildRequest) error {
	fail := func(diag string, err error) error {
		return &types.StageError{
			Stage:      types.StageBuild,
			Input:      req.Target,
			Kind:       types.ErrBuild,
			Diagnostic: diag,
			Err:        err,
		}
	}
	if err := req.Config.Validate(); err != nil {
		return types.NewStageError(types.StageBuild, req.Target, types.ErrConfiguration, err)
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return fail("", fmt.Errorf("failed to create output directory: %w", err))
	}

	// Build next to the destination and rename, so a failed or cancelled
	// build never leaves an executable at Output.
	tmp := req.Output + ".partial"
	_ = os.Remove(tmp)
	staged := req
	staged.Output = tmp

	cmd := exec.CommandContext(ctx, c.path, Args(staged)...)
	cmd.Dir = req.WorkDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	c.logger.Debug("compiling scenarios",
		zap.String("target", req.Target),
		zap.String("compiler", c.path),
		zap.Strings("args", cmd.Args[1:]))

	err := cmd.Run()
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%s exited with status %d", filepath.Base(c.path), exitErr.ExitCode())
		}
		return fail(truncate(out.String(), maxDiagnostic), err)
	}
	if err := os.Rename(tmp, req.Output); err != nil {
		_ = os.Remove(tmp)
		return fail("", fmt.Errorf("failed to install test executable: %w", err))
	}
	return nil
}

// Identity runs the driver with --version once and reports its first line.
func (c *ExecCompiler) Identity(ctx context.Context) string {
	c.once.Do(func() {
		out, err := exec.CommandContext(ctx, c.path, "--version").Output()
		line, _, _ := strings.Cut(string(out), "\n")
		if err != nil || strings.TrimSpace(line) == "" {
			c.identity = c.path
			return
		}
		c.identity = c.path + " (" + strings.TrimSpace(line) + ")"
	})
	return c.identity
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
