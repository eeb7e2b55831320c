package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/internal/graph"
	"github.com/dshills/scenariogen/internal/indexer"
	"github.com/dshills/scenariogen/internal/merger"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/internal/synth"
	"github.com/dshills/scenariogen/internal/toolchain"
	"github.com/dshills/scenariogen/pkg/types"
)

// stageRunner performs the work of every node of one run. It remembers the
// artifact hash each finished node produced so downstream keys can be
// derived from them.
type stageRunner struct {
	p       *Pipeline
	graph   *graph.Graph
	runID   string
	targets map[string]*Target

	mu      sync.Mutex
	keys    map[string]string
	hashes  map[string]string
	watched map[string]map[string]string // target -> path -> content hash
}

func newStageRunner(p *Pipeline, g *graph.Graph, runID string, targets []Target) *stageRunner {
	r := &stageRunner{
		p:       p,
		graph:   g,
		runID:   runID,
		targets: make(map[string]*Target, len(targets)),
		keys:    make(map[string]string),
		hashes:  make(map[string]string),
		watched: make(map[string]map[string]string),
	}
	for i := range targets {
		r.targets[targets[i].Name] = &targets[i]
	}
	return r
}

func (r *stageRunner) Probe(ctx context.Context, node *graph.Node) (*graph.Result, bool, error) {
	key, err := r.key(ctx, node)
	if err != nil {
		return nil, false, r.wrap(node, err)
	}
	rec, err := r.p.storage.GetNodeRecord(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.wrap(node, err)
	}
	if ok, err := r.p.store.Has(rec.ArtifactHash); err != nil || !ok {
		return nil, false, nil
	}

	if node.Stage == types.StageIndex {
		fresh, err := r.fresh(rec.Watched)
		if err != nil {
			return nil, false, r.wrap(node, err)
		}
		if !fresh {
			return nil, false, nil
		}
		r.recordWatched(node.Target, rec.Watched)
	}

	// Later stages own files outside the blob store; a cached record only
	// counts while those are intact.
	switch node.Stage {
	case types.StageSynthesize:
		var gen types.GeneratedScenarioFile
		if err := cache.GetJSON(r.p.store, rec.ArtifactHash, &gen); err != nil {
			return nil, false, nil
		}
		if err := r.materialize(r.targets[node.Target], &gen); err != nil {
			return nil, false, r.wrap(node, err)
		}
	case types.StageBuild:
		var art types.TestArtifact
		if err := cache.GetJSON(r.p.store, rec.ArtifactHash, &art); err != nil {
			return nil, false, nil
		}
		if h, err := indexer.FileHash(art.Path); err != nil || h != art.BinaryHash {
			return nil, false, nil
		}
		if err := r.register(ctx, r.targets[node.Target], &art, rec.ArtifactHash); err != nil {
			return nil, false, err
		}
	}

	r.logger(node).Debug("cache hit", zap.String("key", key), zap.String("artifact", rec.ArtifactHash))
	r.setHash(node.Name, rec.ArtifactHash)
	return &graph.Result{ArtifactHash: rec.ArtifactHash}, true, nil
}

func (r *stageRunner) Run(ctx context.Context, node *graph.Node) (*graph.Result, error) {
	r.logger(node).Debug("running node")
	t := r.targets[node.Target]

	var (
		hash    string
		watched []storage.WatchedFile
		err     error
	)
	switch node.Stage {
	case types.StageIndex:
		hash, watched, err = r.runIndex(ctx, t, node)
	case types.StageMerge:
		hash, err = r.runMerge(node)
	case types.StageEmbed:
		hash, err = r.runEmbed(ctx, node)
	case types.StageSynthesize:
		hash, err = r.runSynth(ctx, t, node)
	case types.StageBuild:
		hash, err = r.runBuild(ctx, t, node)
	default:
		err = fmt.Errorf("unknown stage %q", node.Stage)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, r.wrap(node, err)
	}

	key, err := r.key(ctx, node)
	if err != nil {
		return nil, r.wrap(node, err)
	}
	rec := &storage.NodeRecord{
		Key:          key,
		Node:         node.Name,
		Stage:        node.Stage,
		Target:       node.Target,
		ArtifactHash: hash,
		Watched:      watched,
	}
	if err := r.p.storage.PutNodeRecord(ctx, rec); err != nil {
		return nil, r.wrap(node, err)
	}
	r.setHash(node.Name, hash)
	return &graph.Result{ArtifactHash: hash}, nil
}

func (r *stageRunner) runIndex(ctx context.Context, t *Target, node *graph.Node) (string, []storage.WatchedFile, error) {
	unit := types.SourceUnit{Path: node.Input, Config: t.Config}
	artifact, deps, err := r.p.indexer.Index(ctx, unit)
	if err != nil {
		return "", nil, err
	}
	hash, err := cache.PutJSON(r.p.store, artifact)
	if err != nil {
		return "", nil, err
	}
	fp, err := indexer.Fingerprint(deps.Files)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fingerprint dependencies: %w", err)
	}
	watched := make([]storage.WatchedFile, 0, len(deps.Files))
	for _, f := range deps.Files {
		watched = append(watched, storage.WatchedFile{Path: f, ContentHash: fp[f]})
	}
	r.recordWatched(t.Name, watched)
	return hash, watched, nil
}

func (r *stageRunner) runMerge(node *graph.Node) (string, error) {
	var artifacts []*types.IndexArtifact
	for _, dep := range r.graph.Dependencies(node.Name) {
		var a types.IndexArtifact
		if err := cache.GetJSON(r.p.store, r.hash(dep), &a); err != nil {
			return "", err
		}
		artifacts = append(artifacts, &a)
	}
	merged, err := merger.Merge(node.Target, artifacts)
	if err != nil {
		return "", err
	}
	return cache.PutJSON(r.p.store, merged)
}

func (r *stageRunner) runEmbed(ctx context.Context, node *graph.Node) (string, error) {
	merged, err := r.merged(node)
	if err != nil {
		return "", err
	}
	emb, err := embedder.Compute(ctx, r.p.embedder, merged, embedder.ComputeOptions{
		Concurrency: r.p.parallelism,
		Logger:      r.p.logger,
	})
	if err != nil {
		return "", err
	}
	return cache.PutJSON(r.p.store, emb)
}

func (r *stageRunner) runSynth(ctx context.Context, t *Target, node *graph.Node) (string, error) {
	out := r.p.SourcePath(t)
	if !r.p.dryRun {
		// A failed synthesis must not leave the previous run's source behind.
		_ = os.Remove(out)
	}

	merged, err := r.merged(node)
	if err != nil {
		return "", err
	}
	var emb types.EmbeddingsArtifact
	if err := cache.GetJSON(r.p.store, r.hash(NodeName(types.StageEmbed, t.Name, "")), &emb); err != nil {
		return "", err
	}
	gen, err := synth.Synthesize(ctx, merged, &emb, synth.Options{
		TargetFilter: t.Filter,
		Verbose:      r.p.verbose,
		DryRun:       r.p.dryRun,
		IncludeDirs:  t.Config.IncludePaths,
		OutputDir:    filepath.Dir(out),
		Planner:      r.p.planner,
		Logger:       r.p.logger.With(zap.String("target", t.Name)),
	})
	if err != nil {
		return "", err
	}
	hash, err := cache.PutJSON(r.p.store, gen)
	if err != nil {
		return "", err
	}
	if err := r.materialize(t, gen); err != nil {
		return "", err
	}
	return hash, nil
}

func (r *stageRunner) runBuild(ctx context.Context, t *Target, node *graph.Node) (string, error) {
	var gen types.GeneratedScenarioFile
	if err := cache.GetJSON(r.p.store, r.hash(NodeName(types.StageSynthesize, t.Name, "")), &gen); err != nil {
		return "", err
	}
	out := r.p.BinaryPath(t)
	req := toolchain.BuildRequest{
		Target:     t.Name,
		Source:     r.p.SourcePath(t),
		Output:     out,
		WorkDir:    t.Dir,
		Config:     t.Config,
		LinkInputs: r.linkInputs(t),
	}
	if err := r.p.compiler.Compile(ctx, req); err != nil {
		return "", err
	}
	binHash, err := indexer.FileHash(out)
	if err != nil {
		return "", fmt.Errorf("failed to hash test executable: %w", err)
	}
	art := &types.TestArtifact{
		Target:        t.Name,
		Path:          out,
		BinaryHash:    binHash,
		GeneratedHash: gen.Hash(),
	}
	hash, err := cache.PutJSON(r.p.store, art)
	if err != nil {
		return "", err
	}
	if err := r.register(ctx, t, art, hash); err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return hash, nil
}

func (r *stageRunner) register(ctx context.Context, t *Target, art *types.TestArtifact, hash string) error {
	reg := &types.Registration{
		Name:         t.RegistrationName(),
		Target:       t.Name,
		Command:      []string{art.Path},
		WorkDir:      t.Dir,
		ArtifactHash: hash,
	}
	if err := r.p.storage.Register(ctx, reg, r.runID); err != nil {
		kind := types.KindOf(err)
		if kind == nil && errors.Is(err, storage.ErrAlreadyExists) {
			kind = types.ErrRegistration
		}
		return types.NewStageError(types.StageRegister, reg.Name, kind, err)
	}
	r.p.logger.Debug("registered test",
		zap.String("target", t.Name),
		zap.String("test", reg.Name),
		zap.String("path", art.Path))
	return nil
}

// materialize writes the generated source to its output path unless the
// file already holds it.
func (r *stageRunner) materialize(t *Target, gen *types.GeneratedScenarioFile) error {
	if gen.DryRun {
		return nil
	}
	out := r.p.SourcePath(t)
	if cur, err := os.ReadFile(out); err == nil && bytes.Equal(cur, []byte(gen.Source)) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return cache.WriteFileAtomic(out, []byte(gen.Source), 0o644)
}

// key derives the cache key of node from its inputs. Keys of later stages
// need the artifact hashes of their dependencies, so they are only
// available once those finished.
func (r *stageRunner) key(ctx context.Context, node *graph.Node) (string, error) {
	r.mu.Lock()
	k, ok := r.keys[node.Name]
	r.mu.Unlock()
	if ok {
		return k, nil
	}

	t := r.targets[node.Target]
	var key *cache.Key
	switch node.Stage {
	case types.StageIndex:
		unit := types.SourceUnit{Path: node.Input, Config: t.Config}
		key = cache.NewKey("index").Field(unit.Identity()).Field(types.ParserVersion)
	case types.StageMerge:
		var inputs []string
		for _, dep := range r.graph.Dependencies(node.Name) {
			inputs = append(inputs, r.hash(dep))
		}
		sort.Strings(inputs)
		key = cache.NewKey("merge").Field(t.Name).List(inputs)
	case types.StageEmbed:
		key = cache.NewKey("embed").
			Field(r.hash(NodeName(types.StageMerge, t.Name, ""))).
			Field(r.p.embedder.Provider()).
			Field(r.p.embedder.Model())
	case types.StageSynthesize:
		key = cache.NewKey("synth").
			Field(r.hash(NodeName(types.StageMerge, t.Name, ""))).
			Field(r.hash(NodeName(types.StageEmbed, t.Name, ""))).
			Field(r.p.planner.Name()).
			Field(t.Filter).
			Field(strconv.FormatBool(r.p.dryRun)).
			List(t.Config.IncludePaths).
			Field(r.p.SourcePath(t))
	case types.StageBuild:
		fp, err := indexer.Fingerprint(r.linkInputs(t))
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint link inputs: %w", err)
		}
		key = cache.NewKey("build").
			Field(r.hash(NodeName(types.StageSynthesize, t.Name, ""))).
			Field(r.p.compiler.Identity(ctx)).
			Field(t.Config.Hash()).
			Map(fp).
			Map(r.watchedFiles(t.Name)).
			Field(r.p.BinaryPath(t))
	default:
		return "", fmt.Errorf("unknown stage %q", node.Stage)
	}

	k = key.String()
	r.mu.Lock()
	r.keys[node.Name] = k
	r.mu.Unlock()
	return k, nil
}

// fresh reports whether every watched file still has its recorded content.
func (r *stageRunner) fresh(watched []storage.WatchedFile) (bool, error) {
	if len(watched) == 0 {
		return false, nil
	}
	paths := make([]string, len(watched))
	for i, w := range watched {
		paths[i] = w.Path
	}
	fp, err := indexer.Fingerprint(paths)
	if err != nil {
		return false, err
	}
	for _, w := range watched {
		if fp[w.Path] != w.ContentHash {
			return false, nil
		}
	}
	return true, nil
}

func (r *stageRunner) linkInputs(t *Target) []string {
	in := t.linkInputs()
	out := make([]string, len(in))
	for i, p := range in {
		if !filepath.IsAbs(p) {
			p = filepath.Join(t.Dir, p)
		}
		out[i] = filepath.Clean(p)
	}
	return out
}

func (r *stageRunner) merged(node *graph.Node) (*types.MergedIndex, error) {
	var m types.MergedIndex
	if err := cache.GetJSON(r.p.store, r.hash(NodeName(types.StageMerge, node.Target, "")), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *stageRunner) recordWatched(target string, files []storage.WatchedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.watched[target]
	if m == nil {
		m = make(map[string]string)
		r.watched[target] = m
	}
	for _, w := range files {
		m[w.Path] = w.ContentHash
	}
}

func (r *stageRunner) watchedFiles(target string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.watched[target]))
	for k, v := range r.watched[target] {
		out[k] = v
	}
	return out
}

func (r *stageRunner) setHash(node, hash string) {
	r.mu.Lock()
	r.hashes[node] = hash
	r.mu.Unlock()
}

func (r *stageRunner) hash(node string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hashes[node]
}

// wrap attaches the node's stage and input to err unless it already names
// a stage.
func (r *stageRunner) wrap(node *graph.Node, err error) error {
	var se *types.StageError
	if errors.As(err, &se) {
		return err
	}
	return types.NewStageError(node.Stage, node.Input, nil, err)
}

func (r *stageRunner) logger(node *graph.Node) *zap.Logger {
	return r.p.logger.With(
		zap.String("target", node.Target),
		zap.String("node", node.Name),
		zap.String("stage", string(node.Stage)))
}
