package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/internal/graph"
	"github.com/dshills/scenariogen/internal/indexer"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/internal/synth"
	"github.com/dshills/scenariogen/internal/toolchain"
	"github.com/dshills/scenariogen/pkg/types"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("pipeline run already in progress")

// DefaultParallelism bounds concurrent nodes when none is configured.
const DefaultParallelism = 4

// Options wires a Pipeline to its collaborators.
type Options struct {
	Storage  storage.Storage
	Store    cache.Store
	Embedder embedder.Embedder
	Planner  synth.Planner
	Compiler toolchain.Compiler
	Runner   toolchain.TestRunner

	// OutputDir holds generated sources and test executables, one
	// subdirectory per target.
	OutputDir   string
	Parallelism int
	Verbose     bool
	// DryRun validates scenarios without emitting source; runs stop after
	// synthesis.
	DryRun bool
	Logger *zap.Logger
}

// Pipeline runs targets through index, merge, embed, synthesize and build.
type Pipeline struct {
	storage     storage.Storage
	store       cache.Store
	indexer     *indexer.Indexer
	embedder    embedder.Embedder
	planner     synth.Planner
	compiler    toolchain.Compiler
	runner      toolchain.TestRunner
	outputDir   string
	parallelism int
	verbose     bool
	dryRun      bool
	logger      *zap.Logger

	lock runLock
}

// New creates a pipeline. Storage, Store and Embedder are required; the
// planner defaults to the heuristic planner and the compiler to the system
// c++ driver.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Storage == nil:
		return nil, fmt.Errorf("%w: pipeline needs storage", types.ErrConfiguration)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: pipeline needs an artifact store", types.ErrConfiguration)
	case opts.Embedder == nil:
		return nil, fmt.Errorf("%w: pipeline needs an embedder", types.ErrConfiguration)
	case opts.OutputDir == "":
		return nil, fmt.Errorf("%w: pipeline needs an output directory", types.ErrConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Planner == nil {
		opts.Planner = synth.NewHeuristicPlanner()
	}
	if opts.Compiler == nil {
		opts.Compiler = toolchain.NewExecCompiler("", opts.Logger)
	}
	if opts.Runner == nil {
		opts.Runner = toolchain.ExecRunner{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	out, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: output directory: %v", types.ErrConfiguration, err)
	}
	return &Pipeline{
		storage:     opts.Storage,
		store:       opts.Store,
		indexer:     indexer.New(opts.Logger),
		embedder:    opts.Embedder,
		planner:     opts.Planner,
		compiler:    opts.Compiler,
		runner:      opts.Runner,
		outputDir:   out,
		parallelism: opts.Parallelism,
		verbose:     opts.Verbose,
		dryRun:      opts.DryRun,
		logger:      opts.Logger,
	}, nil
}

// SourcePath is where the generated scenario source of t is written.
func (p *Pipeline) SourcePath(t *Target) string {
	return filepath.Join(p.outputDir, t.Name, t.Name+"_scenarios.cpp")
}

// BinaryPath is where the test executable of t is built.
func (p *Pipeline) BinaryPath(t *Target) string {
	return filepath.Join(p.outputDir, t.Name, t.RegistrationName())
}

// Busy reports whether a run is in progress.
func (p *Pipeline) Busy() bool {
	return p.lock.busy()
}

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	RunID    string
	Graph    *graph.Graph
	Nodes    *graph.Report
	Targets  []TargetStatus
	Duration time.Duration
}

// Err returns the first failure in canonical node order, or nil.
func (r *RunReport) Err() error {
	failed := r.Nodes.Failed(r.Graph)
	if len(failed) == 0 {
		return nil
	}
	return r.Nodes.Outcomes[failed[0]].Err
}

// Counts tallies node outcomes by state.
func (r *RunReport) Counts() map[graph.State]int {
	out := make(map[graph.State]int)
	for _, o := range r.Nodes.Outcomes {
		out[o.State]++
	}
	return out
}

// Run executes targets up to and including stage until. Only nodes whose
// inputs changed since their cached artifact was produced do work. The
// returned error is the first node failure, or the context error when the
// run was cancelled; the report is returned in both cases.
func (p *Pipeline) Run(ctx context.Context, targets []Target, until types.Stage) (*RunReport, error) {
	if !p.lock.tryAcquire() {
		return nil, ErrBusy
	}
	defer p.lock.release()

	if p.dryRun && until == types.StageBuild {
		until = types.StageSynthesize
	}
	g, err := BuildGraph(targets, until)
	if err != nil {
		if types.KindOf(err) == nil {
			err = fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()
	p.logger.Info("pipeline run started",
		zap.String("run", runID),
		zap.String("graph", g.Hash()),
		zap.Int("targets", len(targets)),
		zap.Int("nodes", g.Len()),
		zap.String("until", string(until)))

	runner := newStageRunner(p, g, runID, targets)
	executor, err := graph.NewExecutor(g, runner, p.logger)
	if err != nil {
		return nil, err
	}
	nodes, runErr := executor.Run(ctx, p.parallelism)
	if nodes == nil {
		return nil, runErr
	}

	report := &RunReport{
		RunID:    runID,
		Graph:    g,
		Nodes:    nodes,
		Duration: time.Since(start),
	}
	// Heads are recorded even when the run was cancelled.
	headCtx := context.WithoutCancel(ctx)
	for i := range targets {
		status := targetStatus(nodes, &targets[i], until)
		report.Targets = append(report.Targets, status)
		if err := p.putHead(headCtx, runner, &targets[i], &status); err != nil {
			p.logger.Warn("failed to record target head", zap.String("target", targets[i].Name), zap.Error(err))
		}
	}
	sort.Slice(report.Targets, func(i, j int) bool { return report.Targets[i].Target < report.Targets[j].Target })

	counts := report.Counts()
	p.logger.Info("pipeline run finished",
		zap.String("run", runID),
		zap.Int("completed", counts[graph.Completed]),
		zap.Int("cached", counts[graph.Cached]),
		zap.Int("failed", counts[graph.Failed]),
		zap.Int("skipped", counts[graph.Skipped]),
		zap.Duration("duration", report.Duration))

	if runErr != nil {
		return report, runErr
	}
	return report, report.Err()
}

// targetStatus replays the node outcomes of t through the target state
// machine, stage by stage.
func targetStatus(nodes *graph.Report, t *Target, until types.Stage) TargetStatus {
	status := TargetStatus{Target: t.Name, State: Unbuilt}
	for _, st := range stageOrder {
		var names []string
		if st.stage == types.StageIndex {
			for _, u := range t.Units() {
				names = append(names, NodeName(types.StageIndex, t.Name, t.sourceLabel(u.Path)))
			}
		} else {
			names = []string{NodeName(st.stage, t.Name, "")}
		}

		complete := true
		for _, name := range names {
			o := nodes.Outcomes[name]
			switch {
			case o == nil || o.State == graph.Skipped:
				complete = false
			case o.State == graph.Failed:
				status.fail(st.stage, o.Err)
				return status
			}
		}
		if !complete {
			return status
		}
		if err := status.advance(st.stage); err != nil {
			status.fail(st.stage, err)
			return status
		}
		if st.stage == until {
			return status
		}
	}
	return status
}

func (p *Pipeline) putHead(ctx context.Context, r *stageRunner, t *Target, status *TargetStatus) error {
	head := &storage.TargetHead{
		Target:         t.Name,
		State:          string(status.State),
		FailedStage:    string(status.FailedStage),
		MergedHash:     r.hash(NodeName(types.StageMerge, t.Name, "")),
		EmbeddingsHash: r.hash(NodeName(types.StageEmbed, t.Name, "")),
		ScenarioHash:   r.hash(NodeName(types.StageSynthesize, t.Name, "")),
		TestHash:       r.hash(NodeName(types.StageBuild, t.Name, "")),
		RunID:          r.runID,
	}
	if status.Err != nil {
		head.Error = status.Err.Error()
	}
	// A run that stopped early keeps the hashes of later stages from the
	// previous head.
	if prev, err := p.storage.GetTargetHead(ctx, t.Name); err == nil {
		if head.MergedHash == "" {
			head.MergedHash = prev.MergedHash
		}
		if head.EmbeddingsHash == "" {
			head.EmbeddingsHash = prev.EmbeddingsHash
		}
		if head.ScenarioHash == "" {
			head.ScenarioHash = prev.ScenarioHash
		}
		if head.TestHash == "" {
			head.TestHash = prev.TestHash
		}
	}
	return p.storage.PutTargetHead(ctx, head)
}

// TestOutcome pairs a registration with its run result.
type TestOutcome struct {
	Registration *types.Registration
	Result       *toolchain.TestResult
}

// RunTests executes the registered tests named in names, or every
// registration when names is empty, and records each result.
func (p *Pipeline) RunTests(ctx context.Context, names []string) ([]TestOutcome, error) {
	regs, err := p.storage.ListRegistrations(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		want := make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
		var selected []*types.Registration
		for _, r := range regs {
			if want[r.Name] {
				selected = append(selected, r)
				delete(want, r.Name)
			}
		}
		if len(want) > 0 {
			missing := make([]string, 0, len(want))
			for n := range want {
				missing = append(missing, n)
			}
			sort.Strings(missing)
			return nil, fmt.Errorf("%w: no registered test named %v", types.ErrRegistration, missing)
		}
		regs = selected
	}

	results, err := toolchain.RunAll(ctx, p.runner, regs, p.parallelism)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	out := make([]TestOutcome, len(regs))
	for i, reg := range regs {
		res := results[i]
		out[i] = TestOutcome{Registration: reg, Result: res}
		run := &storage.TestRun{
			Name:      reg.Name,
			RunID:     runID,
			ExitCode:  res.ExitCode,
			Passed:    res.Passed,
			Duration:  res.Duration,
			Output:    res.Output,
			StartedAt: res.StartedAt,
		}
		if err := p.storage.RecordTestRun(ctx, run); err != nil {
			return nil, err
		}
		p.logger.Info("test finished",
			zap.String("test", reg.Name),
			zap.Bool("passed", res.Passed),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration))
	}
	return out, nil
}

// Heads returns the stored state of every target.
func (p *Pipeline) Heads(ctx context.Context) ([]*storage.TargetHead, error) {
	return p.storage.ListTargetHeads(ctx)
}

// LoadIndex returns the latest merged index and embeddings of target.
// Embeddings are nil when the target never reached that stage.
func (p *Pipeline) LoadIndex(ctx context.Context, target string) (*types.MergedIndex, *types.EmbeddingsArtifact, error) {
	return LoadIndex(ctx, p.storage, p.store, target)
}

// LoadIndex reads a target's head and loads the artifacts it points at.
func LoadIndex(ctx context.Context, st storage.Storage, store cache.Store, target string) (*types.MergedIndex, *types.EmbeddingsArtifact, error) {
	head, err := st.GetTargetHead(ctx, target)
	if err != nil {
		return nil, nil, fmt.Errorf("target %s: %w", target, err)
	}
	if head.MergedHash == "" {
		return nil, nil, fmt.Errorf("target %s has no merged index: %w", target, storage.ErrNotFound)
	}
	var merged types.MergedIndex
	if err := cache.GetJSON(store, head.MergedHash, &merged); err != nil {
		return nil, nil, err
	}
	if head.EmbeddingsHash == "" {
		return &merged, nil, nil
	}
	var emb types.EmbeddingsArtifact
	if err := cache.GetJSON(store, head.EmbeddingsHash, &emb); err != nil {
		return nil, nil, err
	}
	return &merged, &emb, nil
}

// WatchedFiles lists every file some cached artifact depends on.
func (p *Pipeline) WatchedFiles(ctx context.Context) ([]string, error) {
	return p.storage.ListWatchedFiles(ctx)
}
