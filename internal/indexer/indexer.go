package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/parser"
	"github.com/dshills/scenariogen/pkg/types"
)

// Indexer runs the per-file indexing stage: parse a source unit and the
// headers it includes, and produce its IndexArtifact and DependencyList.
type Indexer struct {
	parser *parser.Parser
	logger *zap.Logger
}

// New creates a new Indexer instance
func New(logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		parser: parser.New(logger),
		logger: logger,
	}
}

// unitState accumulates results while walking one unit's include graph
type unitState struct {
	unit     types.SourceUnit
	includes []string // absolute include paths
	defines  map[string]string
	visited  map[string]bool
	deps     []string
	entities []types.EntityRecord
	byName   map[string]int
}

// Index parses unit. The artifact is deterministic for a given unit identity,
// parser version and file contents. Entities are recorded from the unit
// itself and from included files under one of its include paths; every
// resolved include, wherever it lives, is a dependency. Dependency paths are
// absolute. A name declared twice in one unit, other than an overload set, is
// a DuplicateEntityError.
func (idx *Indexer) Index(ctx context.Context, unit types.SourceUnit) (*types.IndexArtifact, *types.DependencyList, error) {
	identity := unit.Identity()
	if err := unit.Config.Validate(); err != nil {
		return nil, nil, types.NewStageError(types.StageIndex, unit.Path, types.ErrConfiguration, err)
	}

	path, err := filepath.Abs(unit.Path)
	if err != nil {
		return nil, nil, types.NewStageError(types.StageIndex, identity, types.ErrConfiguration, err)
	}
	includes := make([]string, 0, len(unit.Config.IncludePaths))
	for _, inc := range unit.Config.IncludePaths {
		abs, err := filepath.Abs(inc)
		if err != nil {
			return nil, nil, types.NewStageError(types.StageIndex, identity, types.ErrConfiguration, err)
		}
		includes = append(includes, abs)
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		if err == nil {
			err = errors.New("is a directory")
		}
		return nil, nil, types.NewStageError(types.StageIndex, identity, types.ErrConfiguration,
			fmt.Errorf("%w: source %s: %v", types.ErrConfiguration, path, err))
	}

	st := &unitState{
		unit:     unit,
		includes: includes,
		defines:  unit.Config.DefineSet(),
		visited: make(map[string]bool),
		byName:  make(map[string]int),
	}
	if err := idx.visit(ctx, st, path, true); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, types.NewStageError(types.StageIndex, identity, types.ErrParseFailure, err)
	}

	artifact := &types.IndexArtifact{
		SourceIdentity: identity,
		SourcePath:     path,
		ParserVersion:  types.ParserVersion,
		Entities:       st.entities,
	}
	if artifact.Entities == nil {
		artifact.Entities = []types.EntityRecord{}
	}
	deps := &types.DependencyList{Artifact: identity, Files: st.deps}
	deps.Normalize()

	idx.logger.Debug("indexed unit",
		zap.String("unit", identity),
		zap.Int("entities", len(artifact.Entities)),
		zap.Int("dependencies", len(deps.Files)))
	return artifact, deps, nil
}

// visit parses one file, descends into its includes and then records its
// own entities, so declarations from headers precede their includers.
func (idx *Indexer) visit(ctx context.Context, st *unitState, path string, isMain bool) error {
	if st.visited[path] {
		return nil
	}
	st.visited[path] = true
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s: %v", types.ErrParseFailure, path, err)
	}
	st.deps = append(st.deps, path)

	res, err := idx.parser.ParseFile(ctx, path, content, st.defines)
	if err != nil {
		return err
	}

	for _, inc := range res.Includes {
		resolved := resolveInclude(filepath.Dir(path), inc, st.includes)
		if resolved == "" {
			idx.logger.Debug("unresolved include",
				zap.String("file", path), zap.String("include", inc.Path))
			continue
		}
		if err := idx.visit(ctx, st, resolved, false); err != nil {
			return err
		}
	}

	if !isMain && !underAny(path, st.includes) {
		return nil
	}
	for _, e := range res.Entities {
		if i, ok := st.byName[e.QualifiedName]; ok {
			prev := &st.entities[i]
			switch {
			case prev.Kind == types.KindFunction && e.Kind == types.KindFunction:
				prev.Operations = mergeOverloads(prev.Operations, e.Operations)
			case prev.SameDeclaration(&e):
			default:
				return &types.DuplicateEntityError{
					Name:   e.QualifiedName,
					First:  fmt.Sprintf("%s:%d", prev.File, prev.Line),
					Second: fmt.Sprintf("%s:%d", e.File, e.Line),
				}
			}
			continue
		}
		st.byName[e.QualifiedName] = len(st.entities)
		st.entities = append(st.entities, e)
	}
	return nil
}

// resolveInclude finds the file an include directive refers to. Quoted
// includes search the including file's directory first.
func resolveInclude(dir string, inc parser.Include, includePaths []string) string {
	var candidates []string
	if !inc.System {
		candidates = append(candidates, filepath.Join(dir, inc.Path))
	}
	for _, p := range includePaths {
		candidates = append(candidates, filepath.Join(p, inc.Path))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return filepath.Clean(c)
		}
	}
	return ""
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		rel, err := filepath.Rel(filepath.Clean(d), path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func mergeOverloads(have, add []types.Operation) []types.Operation {
	for _, op := range add {
		dup := false
		for _, h := range have {
			if h.SameParams(op) {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, op)
		}
	}
	return have
}
