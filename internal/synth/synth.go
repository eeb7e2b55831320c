package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/scenariogen/pkg/types"
)

// Errors reported for whole-target problems.
var (
	ErrStaleEmbeddings = errors.New("embeddings were computed for a different index")
	ErrFilterNoMatch   = errors.New("target filter matches no scenario")
)

// PlanRequest is everything a planner may consult for one scenario.
type PlanRequest struct {
	Entity     *types.EntityRecord
	Index      int
	Scenario   types.StructuredScenario
	Catalog    *Catalog
	Embeddings *types.EmbeddingsArtifact
}

// Planner turns one scenario into a plan. Plans are validated by Check, so
// planners need not be trusted.
type Planner interface {
	Name() string
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// Options configures Synthesize.
type Options struct {
	// TargetFilter restricts synthesis to scenarios whose entity or subject
	// type matches by qualified or simple name.
	TargetFilter string
	// Verbose logs every plan at info level.
	Verbose bool
	// DryRun validates every scenario without rendering source.
	DryRun bool

	// IncludeDirs and OutputDir decide how headers are spelled.
	IncludeDirs []string
	OutputDir   string

	Planner Planner
	Logger  *zap.Logger
}

func (o *Options) defaults() {
	if o.Planner == nil {
		o.Planner = NewHeuristicPlanner()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Synthesize emits one test function per scenario of merged. Any scenario
// that cannot be mapped onto the catalog fails the whole target.
func Synthesize(ctx context.Context, merged *types.MergedIndex, embeddings *types.EmbeddingsArtifact, opts Options) (*types.GeneratedScenarioFile, error) {
	opts.defaults()
	fail := func(err error) error {
		return types.NewStageError(types.StageSynthesize, merged.Target, types.ErrSynthesis, err)
	}

	indexHash, err := merged.Hash()
	if err != nil {
		return nil, fail(err)
	}
	if embeddings != nil && embeddings.IndexHash != "" && embeddings.IndexHash != indexHash {
		return nil, fail(ErrStaleEmbeddings)
	}

	cat := NewCatalog(merged)
	names := scenarioFunctionNames(merged)
	out := &types.GeneratedScenarioFile{
		Target:    merged.Target,
		IndexHash: indexHash,
		Functions: []types.ScenarioFunction{},
		Includes:  []string{},
		DryRun:    opts.DryRun,
	}
	includes := make(map[string]bool)
	unit := renderUnit{Target: merged.Target}

	for i := range merged.Entities {
		entity := &merged.Entities[i]
		for n, scenario := range entity.Scenarios {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			label := fmt.Sprintf("%s#%d", entity.QualifiedName, n)
			req := PlanRequest{Entity: entity, Index: n, Scenario: scenario, Catalog: cat, Embeddings: embeddings}

			plan, err := opts.Planner.Plan(ctx, req)
			if opts.TargetFilter != "" && !matchesName(opts.TargetFilter, entity.QualifiedName) {
				// Scenarios outside the filter are skipped even when they
				// would not plan.
				if err != nil || !matchesName(opts.TargetFilter, plan.Subject) {
					opts.Logger.Debug("scenario filtered", zap.String("scenario", label))
					continue
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fail(fmt.Errorf("%s: %w", label, err))
			}
			prog, err := Check(plan, cat, entity.Namespace, label)
			if err != nil {
				return nil, fail(fmt.Errorf("%s: %w", label, err))
			}

			fn := types.ScenarioFunction{
				Name:     names[entity.QualifiedName][n],
				Entity:   entity.QualifiedName,
				Index:    n,
				Subject:  prog.Subject,
				Scenario: scenario,
			}
			if opts.Verbose {
				opts.Logger.Info("scenario planned",
					zap.String("function", fn.Name),
					zap.String("planner", opts.Planner.Name()),
					zap.String("plan", plan.String()))
			}
			out.Functions = append(out.Functions, fn)
			unit.Functions = append(unit.Functions, renderFunction{
				Name:    fn.Name,
				Label:   label,
				Comment: commentLines(scenario),
				Body:    prog.Statements,
			})

			for _, h := range prog.Headers {
				includes[h] = true
			}
			files := []string{entity.File}
			for _, qn := range prog.Entities {
				if e, ok := merged.Lookup(qn); ok {
					files = append(files, e.File)
				}
			}
			for _, f := range files {
				if inc, ok := includeLine(f, opts.IncludeDirs, opts.OutputDir); ok {
					includes[inc] = true
				} else {
					opts.Logger.Debug("declaration outside a header not included", zap.String("file", f))
				}
			}
		}
	}

	if opts.TargetFilter != "" && len(out.Functions) == 0 {
		return nil, fail(fmt.Errorf("%w: %s", ErrFilterNoMatch, opts.TargetFilter))
	}
	if len(unit.Functions) == 0 {
		for _, h := range []string{"<cstdlib>", "<iostream>", "<string>"} {
			includes[h] = true
		}
	}
	out.Includes = sortedIncludes(includes)
	opts.Logger.Debug("scenarios synthesized",
		zap.String("target", merged.Target),
		zap.Int("functions", len(out.Functions)),
		zap.Bool("dry_run", opts.DryRun))
	if opts.DryRun {
		return out, nil
	}

	unit.Includes = out.Includes
	src, err := render(unit)
	if err != nil {
		return nil, fail(err)
	}
	out.Source = src
	return out, nil
}

// matchesName reports whether filter names qualified, either exactly or by
// its unqualified name.
func matchesName(filter, qualified string) bool {
	if qualified == "" {
		return false
	}
	filter = strings.TrimPrefix(filter, "::")
	if filter == qualified {
		return true
	}
	i := strings.LastIndex(qualified, "::")
	return i >= 0 && filter == qualified[i+2:]
}

func commentLines(s types.StructuredScenario) []string {
	line := func(keyword, text string) string {
		// A trailing backslash would splice the next source line.
		return strings.TrimRight(keyword+" "+strings.Join(strings.Fields(text), " "), "\\")
	}
	return []string{line("Given", s.Given), line("When", s.When), line("Then", s.Then)}
}
