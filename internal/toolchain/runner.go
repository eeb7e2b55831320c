package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/scenariogen/pkg/types"
)

// maxOutput bounds the test output kept per run.
const maxOutput = 64 << 10

// TestResult is the outcome of one test executable run. The exit code is
// the only pass/fail signal.
type TestResult struct {
	Name      string
	ExitCode  int
	Passed    bool
	Output    string
	Duration  time.Duration
	StartedAt time.Time
}

// TestRunner executes registered tests.
type TestRunner interface {
	Run(ctx context.Context, reg *types.Registration) (*TestResult, error)
}

// ExecRunner runs registrations as processes.
type ExecRunner struct{}

// Run executes reg. A non-zero exit status is a failed test, not an error;
// errors mean the test could not be started.
func (ExecRunner) Run(ctx context.Context, reg *types.Registration) (*TestResult, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, reg.Command[0], reg.Command[1:]...)
	cmd.Dir = reg.WorkDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	res := &TestResult{Name: reg.Name, StartedAt: time.Now()}
	err := cmd.Run()
	res.Duration = time.Since(res.StartedAt)
	res.Output = truncate(out.String(), maxOutput)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("%w: cannot run %s: %v", types.ErrRegistration, reg.Name, err)
	}
	res.Passed = res.ExitCode == 0
	return res, nil
}

// RunAll runs regs with at most parallelism tests at once. Results are in
// the order of regs.
func RunAll(ctx context.Context, runner TestRunner, regs []*types.Registration, parallelism int) ([]*TestResult, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	results := make([]*TestResult, len(regs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, reg := range regs {
		g.Go(func() error {
			res, err := runner.Run(gctx, reg)
			if err != nil {
				return fmt.Errorf("test %s: %w", reg.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
