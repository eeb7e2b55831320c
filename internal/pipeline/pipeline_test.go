package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/internal/graph"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/internal/toolchain"
	"github.com/dshills/scenariogen/pkg/types"
)

// fakeCompiler "compiles" by copying the generated source to the output, so
// the executable's hash follows the source.
type fakeCompiler struct {
	mu    sync.Mutex
	calls []toolchain.BuildRequest
	fail  string
}

func (c *fakeCompiler) Compile(_ context.Context, req toolchain.BuildRequest) error {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	if c.fail != "" {
		return &types.StageError{Stage: types.StageBuild, Input: req.Target, Kind: types.ErrBuild, Diagnostic: c.fail}
	}
	src, err := os.ReadFile(req.Source)
	if err != nil {
		return err
	}
	return os.WriteFile(req.Output, src, 0o755)
}

func (c *fakeCompiler) Identity(context.Context) string { return "fake-c++ 1.0" }

func (c *fakeCompiler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeRunner passes a test when its executable asserts the expected count.
type fakeRunner struct{ want string }

func (r fakeRunner) Run(_ context.Context, reg *types.Registration) (*toolchain.TestResult, error) {
	data, err := os.ReadFile(reg.Command[0])
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(data), r.want) {
		return &toolchain.TestResult{Name: reg.Name, Passed: true, Output: "1 scenario(s) passed\n"}, nil
	}
	return &toolchain.TestResult{Name: reg.Name, ExitCode: 1, Output: "FAIL\n"}, nil
}

type harness struct {
	root     string
	db       *storage.SQLiteStorage
	store    *cache.FileStore
	compiler *fakeCompiler
	pipeline *Pipeline
}

func writeBoxProject(t *testing.T, root string) {
	t.Helper()
	fixtures := filepath.Join("..", "parser", "testdata", "src", "lib")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "lib"), 0o755))
	for _, name := range []string{"box.hpp", "box.cpp", "fruit.hpp"} {
		data, err := os.ReadFile(filepath.Join(fixtures, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "lib", name), data, 0o644))
	}
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	root := t.TempDir()
	writeBoxProject(t, root)

	db, err := storage.NewSQLiteStorage(filepath.Join(root, ".scenariogen", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := cache.NewFileStore(filepath.Join(root, ".scenariogen", "cache"))
	require.NoError(t, err)
	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	h := &harness{root: root, db: db, store: store, compiler: &fakeCompiler{}}
	opts := Options{
		Storage:     db,
		Store:       store,
		Embedder:    emb,
		Compiler:    h.compiler,
		Runner:      fakeRunner{want: "== 2"},
		OutputDir:   filepath.Join(root, ".scenariogen", "out"),
		Parallelism: 2,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.pipeline, err = New(opts)
	require.NoError(t, err)
	return h
}

func (h *harness) boxTarget() Target {
	return Target{
		Name:    "box",
		Dir:     h.root,
		Sources: []string{filepath.Join(h.root, "src", "lib", "box.cpp")},
		Config: types.CompilerConfig{
			Standard:     "c++20",
			IncludePaths: []string{filepath.Join(h.root, "src")},
		},
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func states(r *RunReport) map[string]graph.State {
	out := make(map[string]graph.State, len(r.Nodes.Outcomes))
	for name, o := range r.Nodes.Outcomes {
		out[name] = o.State
	}
	return out
}

func TestRunBoxExample(t *testing.T) {
	h := newHarness(t)
	target := h.boxTarget()
	ctx := context.Background()

	report, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	require.Len(t, report.Targets, 1)
	assert.Equal(t, CompiledAndRegistered, report.Targets[0].State)
	assert.Equal(t, map[string]graph.State{
		"index:box:src/lib/box.cpp": graph.Completed,
		"merge:box":                 graph.Completed,
		"embed:box":                 graph.Completed,
		"synth:box":                 graph.Completed,
		"build:box":                 graph.Completed,
	}, states(report))

	src, err := os.ReadFile(h.pipeline.SourcePath(&target))
	require.NoError(t, err)
	assert.Contains(t, string(src), "#include <lib/box.hpp>")
	assert.Contains(t, string(src), `subject.add(lib::Fruit(std::string("apple")));`)
	assert.Contains(t, string(src), "static_cast<long long>(observed) == 2")

	reg, err := h.db.GetRegistration(ctx, "box_scenarios")
	require.NoError(t, err)
	assert.Equal(t, []string{h.pipeline.BinaryPath(&target)}, reg.Command)
	assert.Equal(t, h.root, reg.WorkDir)
	assert.FileExists(t, reg.Command[0])

	call := h.compiler.calls[0]
	assert.Equal(t, []string{filepath.Join(h.root, "src", "lib", "box.cpp")}, call.LinkInputs)
	assert.Equal(t, h.root, call.WorkDir)

	head, err := h.db.GetTargetHead(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, string(CompiledAndRegistered), head.State)
	assert.Equal(t, report.RunID, head.RunID)
	assert.NotEmpty(t, head.MergedHash)
	assert.NotEmpty(t, head.TestHash)

	merged, emb, err := h.pipeline.LoadIndex(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, 1, merged.ScenarioCount())
	require.NotNil(t, emb)
	_, ok := emb.Vector("lib::BoxOfFruits")
	assert.True(t, ok)
	_, ok = emb.Vector("lib::Fruit")
	assert.False(t, ok, "undocumented entities are not embedded")

	watched, err := h.pipeline.WatchedFiles(ctx)
	require.NoError(t, err)
	assert.Contains(t, watched, filepath.Join(h.root, "src", "lib", "fruit.hpp"))

	outcomes, err := h.pipeline.RunTests(ctx, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Result.Passed)
	runs, err := h.db.ListTestRuns(ctx, "box_scenarios", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	assert.Contains(t, report.Render(DefaultPalette), "compiled_and_registered")
	assert.Contains(t, RenderTests(outcomes, DefaultPalette), "1/1 tests passed")
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	target := h.boxTarget()
	ctx := context.Background()

	first, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	src1, err := os.ReadFile(h.pipeline.SourcePath(&target))
	require.NoError(t, err)

	second, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	for name, st := range states(second) {
		assert.Equal(t, graph.Cached, st, name)
	}
	assert.Equal(t, 1, h.compiler.count())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Graph.Hash(), second.Nodes.GraphHash)
	assert.Contains(t, second.Render(DefaultPalette), "Graph: "+first.Graph.Hash()[:12])

	src2, err := os.ReadFile(h.pipeline.SourcePath(&target))
	require.NoError(t, err)
	assert.Equal(t, string(src1), string(src2))
	for name, o := range first.Nodes.Outcomes {
		assert.Equal(t, o.Result.ArtifactHash, second.Nodes.Outcomes[name].Result.ArtifactHash, name)
	}

	merged, err := h.pipeline.Run(ctx, []Target{target}, types.StageMerge)
	require.NoError(t, err)
	assert.NotEqual(t, first.Graph.Hash(), merged.Graph.Hash())
}

func TestRunRestoresDeletedOutputs(t *testing.T) {
	h := newHarness(t)
	target := h.boxTarget()
	ctx := context.Background()

	_, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	require.NoError(t, os.Remove(h.pipeline.SourcePath(&target)))
	require.NoError(t, os.Remove(h.pipeline.BinaryPath(&target)))

	report, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	assert.Equal(t, graph.Cached, report.Nodes.Outcomes["synth:box"].State)
	assert.Equal(t, graph.Completed, report.Nodes.Outcomes["build:box"].State)
	assert.FileExists(t, h.pipeline.SourcePath(&target))
	assert.FileExists(t, h.pipeline.BinaryPath(&target))
}

func TestRunIsIncremental(t *testing.T) {
	h := newHarness(t)
	target := h.boxTarget()
	ctx := context.Background()

	_, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)

	// A body-only edit re-indexes to the same artifact: only the build
	// reruns.
	cpp, err := os.ReadFile(filepath.Join(h.root, "src", "lib", "box.cpp"))
	require.NoError(t, err)
	h.write(t, "src/lib/box.cpp", string(cpp)+"\n// touched\n")

	report, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	assert.Equal(t, map[string]graph.State{
		"index:box:src/lib/box.cpp": graph.Completed,
		"merge:box":                 graph.Cached,
		"embed:box":                 graph.Cached,
		"synth:box":                 graph.Cached,
		"build:box":                 graph.Completed,
	}, states(report))

	// Changing the expectation in a header changes everything downstream.
	hpp, err := os.ReadFile(filepath.Join(h.root, "src", "lib", "box.hpp"))
	require.NoError(t, err)
	h.write(t, "src/lib/box.hpp", strings.Replace(string(hpp), "contains 2 items", "contains 3 items", 1))

	report, err = h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.NoError(t, err)
	for name, st := range states(report) {
		assert.Equal(t, graph.Completed, st, name)
	}
	src, err := os.ReadFile(h.pipeline.SourcePath(&target))
	require.NoError(t, err)
	assert.Contains(t, string(src), "static_cast<long long>(observed) == 3")

	outcomes, err := h.pipeline.RunTests(ctx, []string{"box_scenarios"})
	require.NoError(t, err)
	assert.False(t, outcomes[0].Result.Passed)
}

func TestRunBuildFailureLeavesNoArtifact(t *testing.T) {
	h := newHarness(t)
	h.compiler.fail = "scenarios.cpp:3:1: error: expected ';'"
	target := h.boxTarget()
	ctx := context.Background()

	report, err := h.pipeline.Run(ctx, []Target{target}, types.StageBuild)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBuild)
	assert.Contains(t, err.Error(), "expected ';'")

	status := report.Targets[0]
	assert.Equal(t, Failed, status.State)
	assert.Equal(t, types.StageBuild, status.FailedStage)
	assert.NoFileExists(t, h.pipeline.BinaryPath(&target))

	_, err = h.db.GetRegistration(ctx, "box_scenarios")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	head, err := h.db.GetTargetHead(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, string(Failed), head.State)
	assert.Equal(t, string(types.StageBuild), head.FailedStage)
	assert.Contains(t, report.Render(DefaultPalette), "FAILURES")
}

func TestRunDuplicateEntitySkipsDownstream(t *testing.T) {
	h := newHarness(t)
	h.write(t, "src/a.cpp", "namespace lib { class Widget { public: int size() const; }; }\n")
	h.write(t, "src/b.cpp", "namespace lib { class Widget { public: int count() const; }; }\n")
	target := Target{
		Name:    "widgets",
		Dir:     h.root,
		Sources: []string{filepath.Join(h.root, "src", "b.cpp"), filepath.Join(h.root, "src", "a.cpp")},
		Config:  types.CompilerConfig{Standard: "c++17"},
	}

	report, err := h.pipeline.Run(context.Background(), []Target{target}, types.StageBuild)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDuplicateEntity)
	var dup *types.DuplicateEntityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "lib::Widget", dup.Name)

	st := states(report)
	assert.Equal(t, graph.Completed, st["index:widgets:src/a.cpp"])
	assert.Equal(t, graph.Failed, st["merge:widgets"])
	for _, n := range []string{"embed:widgets", "synth:widgets", "build:widgets"} {
		assert.Equal(t, graph.Skipped, st[n], n)
	}
	assert.Equal(t, Failed, report.Targets[0].State)
	assert.Equal(t, types.StageMerge, report.Targets[0].FailedStage)
	assert.Zero(t, h.compiler.count())
}

func TestRunIndependentTargets(t *testing.T) {
	h := newHarness(t)
	h.write(t, "src/broken.cpp", "namespace {\n")
	broken := Target{
		Name:    "broken",
		Dir:     h.root,
		Sources: []string{filepath.Join(h.root, "src", "broken.cpp")},
		Config:  types.CompilerConfig{Standard: "c++17"},
	}

	report, err := h.pipeline.Run(context.Background(), []Target{h.boxTarget(), broken}, types.StageBuild)
	assert.ErrorIs(t, err, types.ErrParseFailure)
	require.Len(t, report.Targets, 2)
	assert.Equal(t, "box", report.Targets[0].Target)
	assert.Equal(t, CompiledAndRegistered, report.Targets[0].State)
	assert.Equal(t, Failed, report.Targets[1].State)
	assert.Equal(t, types.StageIndex, report.Targets[1].FailedStage)
}

func TestRunRegistrationConflict(t *testing.T) {
	h := newHarness(t)
	a := h.boxTarget()
	b := h.boxTarget()
	b.Name = "box2"
	b.TestName = "box_scenarios"

	report, err := h.pipeline.Run(context.Background(), []Target{a, b}, types.StageBuild)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRegistration)
	assert.False(t, types.IsRetryable(err))

	failed := 0
	for _, st := range report.Targets {
		if st.State == Failed {
			failed++
			assert.Equal(t, types.StageBuild, st.FailedStage)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRunDryRun(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DryRun = true })
	target := h.boxTarget()

	report, err := h.pipeline.Run(context.Background(), []Target{target}, types.StageBuild)
	require.NoError(t, err)
	assert.Equal(t, Synthesized, report.Targets[0].State)
	_, ok := report.Nodes.Outcomes["build:box"]
	assert.False(t, ok)
	assert.NoFileExists(t, h.pipeline.SourcePath(&target))
	assert.Zero(t, h.compiler.count())
}

func TestRunUntilMerge(t *testing.T) {
	h := newHarness(t)
	report, err := h.pipeline.Run(context.Background(), []Target{h.boxTarget()}, types.StageMerge)
	require.NoError(t, err)
	assert.Equal(t, Merged, report.Targets[0].State)
	assert.Len(t, report.Nodes.Outcomes, 2)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.pipeline.Run(ctx, []Target{h.boxTarget()}, types.StageBuild)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	for name, st := range states(report) {
		assert.Equal(t, graph.Skipped, st, name)
	}
	assert.Equal(t, Unbuilt, report.Targets[0].State)
	assert.NoFileExists(t, h.pipeline.SourcePath(ptr(h.boxTarget())))

	head, err := h.db.GetTargetHead(context.Background(), "box")
	require.NoError(t, err)
	assert.Equal(t, string(Unbuilt), head.State)
}

func ptr[T any](v T) *T { return &v }

func TestRunBusy(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.pipeline.lock.tryAcquire())
	assert.True(t, h.pipeline.Busy())

	_, err := h.pipeline.Run(context.Background(), []Target{h.boxTarget()}, types.StageBuild)
	assert.ErrorIs(t, err, ErrBusy)

	h.pipeline.lock.release()
	_, err = h.pipeline.Run(context.Background(), []Target{h.boxTarget()}, types.StageBuild)
	assert.NoError(t, err)
}

func TestRunTestsUnknownName(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.RunTests(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, types.ErrRegistration)
}

func TestNodeName(t *testing.T) {
	assert.Equal(t, "index:box:src/lib/box.cpp", NodeName(types.StageIndex, "box", "src/lib/box.cpp"))
	assert.Equal(t, "merge:box", NodeName(types.StageMerge, "box", ""))
	assert.Equal(t, "embed:box", NodeName(types.StageEmbed, "box", ""))
	assert.Equal(t, "synth:box", NodeName(types.StageSynthesize, "box", ""))
	assert.Equal(t, "build:box", NodeName(types.StageBuild, "box", ""))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestRunInvalidTarget(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Run(context.Background(), []Target{{Name: "empty", Dir: h.root}}, types.StageBuild)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}
