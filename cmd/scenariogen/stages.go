package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/depfile"
	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/internal/indexer"
	"github.com/dshills/scenariogen/internal/merger"
	"github.com/dshills/scenariogen/internal/synth"
	"github.com/dshills/scenariogen/pkg/types"
)

var (
	parseSrc   string
	parseDst   string
	parseFlags string
	parseDep   string

	mergeInputs []string
	mergeOutput string
	mergeTarget string

	embedTarget string

	synthEmbeddings string
	synthIndex      string
	synthScenario   string
	synthFilter     string
	synthDryRun     bool
	synthIncludes   []string
)

var parseCmd = &cobra.Command{
	Use:   "parse --src FILE --dst ARTIFACT [--flg FLAGS] [--dep DEPFILE] -- [compiler args...]",
	Short: "Index one translation unit",
	Long: `Parse a single C/C++ source with the given compiler configuration and
write its index artifact. --flg holds default flags applied before the
arguments after "--". With --dep, a make-style dependency file lists every
file consulted while indexing.`,
	RunE: runParse,
}

var mergeCmd = &cobra.Command{
	Use:   "merge --inputs ARTIFACT... --output MERGED",
	Short: "Merge index artifacts into one target index",
	Long: `Merge the index artifacts of a target into a single index with unique
qualified names. Inputs may be given as repeated --inputs flags, a comma
separated list, or trailing arguments.`,
	RunE: runMerge,
}

var embedCmd = &cobra.Command{
	Use:   "embed MERGED EMBEDDINGS",
	Short: "Compute embeddings for the documented entities of an index",
	Args:  cobra.ExactArgs(2),
	RunE:  runEmbed,
}

var synthCmd = &cobra.Command{
	Use:   "synth --embeddings EMBEDDINGS --index MERGED --scenario SOURCE",
	Short: "Synthesize test source from the scenarios of an index",
	Long: `Map every scenario of the merged index onto the declared API and emit a
C++ source with one test function per scenario. --dry-run validates every
scenario without writing source. --verbose logs each plan.`,
	Args: cobra.NoArgs,
	RunE: runSynth,
}

func init() {
	parseCmd.Flags().StringVar(&parseSrc, "src", "", "source file to index (required)")
	parseCmd.Flags().StringVar(&parseDst, "dst", "", "index artifact to write (required)")
	parseCmd.Flags().StringVar(&parseFlags, "flg", "", "default compiler flags, whitespace separated")
	parseCmd.Flags().StringVar(&parseDep, "dep", "", "dependency file to write")
	_ = parseCmd.MarkFlagRequired("src")
	_ = parseCmd.MarkFlagRequired("dst")

	mergeCmd.Flags().StringSliceVar(&mergeInputs, "inputs", nil, "index artifacts to merge")
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "", "merged index to write (required)")
	mergeCmd.Flags().StringVar(&mergeTarget, "target", "", "target name (default: output file name)")
	_ = mergeCmd.MarkFlagRequired("output")

	embedCmd.Flags().StringVar(&embedTarget, "target", "", "label used in logs and errors")

	synthCmd.Flags().StringVar(&synthEmbeddings, "embeddings", "", "embeddings artifact (required)")
	synthCmd.Flags().StringVar(&synthIndex, "index", "", "merged index (required)")
	synthCmd.Flags().StringVar(&synthScenario, "scenario", "", "generated source to write (required)")
	synthCmd.Flags().StringVar(&synthFilter, "target-filter", "", "only synthesize scenarios of this type")
	synthCmd.Flags().BoolVar(&synthDryRun, "dry-run", false, "validate scenarios without writing source")
	synthCmd.Flags().StringSliceVarP(&synthIncludes, "include", "I", nil, "include directories used to spell header paths")
	_ = synthCmd.MarkFlagRequired("embeddings")
	_ = synthCmd.MarkFlagRequired("index")
	_ = synthCmd.MarkFlagRequired("scenario")
}

func runParse(cmd *cobra.Command, args []string) (err error) {
	defer func() {
		if err != nil {
			removeOutputs(parseDst, parseDep)
		}
	}()

	src, err := filepath.Abs(parseSrc)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	unit := types.SourceUnit{
		Path:   src,
		Config: types.ParseCompilerArgs(strings.Fields(parseFlags), args),
	}
	if err := unit.Config.Validate(); err != nil {
		return err
	}

	artifact, deps, err := indexer.New(logger).Index(cmd.Context(), unit)
	if err != nil {
		return err
	}
	if err := cache.WriteJSONAtomic(parseDst, artifact); err != nil {
		return fmt.Errorf("failed to write %s: %w", parseDst, err)
	}
	if parseDep != "" {
		deps.Artifact = parseDst
		data, err := depfile.Encode(*deps)
		if err != nil {
			return err
		}
		if err := writeFile(parseDep, data); err != nil {
			return err
		}
	}

	logger.Info("indexed source",
		zap.String("src", src),
		zap.String("dst", parseDst),
		zap.Int("entities", len(artifact.Entities)),
		zap.Int("dependencies", len(deps.Files)))
	return nil
}

func runMerge(cmd *cobra.Command, args []string) (err error) {
	defer func() {
		if err != nil {
			removeOutputs(mergeOutput)
		}
	}()

	inputs := append(append([]string{}, mergeInputs...), args...)
	if len(inputs) == 0 {
		return fmt.Errorf("%w: merge needs at least one input", types.ErrConfiguration)
	}
	target := mergeTarget
	if target == "" {
		target = strings.TrimSuffix(filepath.Base(mergeOutput), filepath.Ext(mergeOutput))
	}

	artifacts := make([]*types.IndexArtifact, 0, len(inputs))
	for _, in := range inputs {
		var a types.IndexArtifact
		if err := cache.ReadJSON(in, &a); err != nil {
			return types.NewStageError(types.StageMerge, in, types.ErrConfiguration, err)
		}
		artifacts = append(artifacts, &a)
	}

	merged, err := merger.Merge(target, artifacts)
	if err != nil {
		return err
	}
	if err := cache.WriteJSONAtomic(mergeOutput, merged); err != nil {
		return fmt.Errorf("failed to write %s: %w", mergeOutput, err)
	}

	logger.Info("merged index",
		zap.String("target", target),
		zap.Int("inputs", len(inputs)),
		zap.Int("entities", len(merged.Entities)))
	return nil
}

func runEmbed(cmd *cobra.Command, args []string) (err error) {
	in, out := args[0], args[1]
	defer func() {
		if err != nil {
			removeOutputs(out)
		}
	}()

	var merged types.MergedIndex
	if err := cache.ReadJSON(in, &merged); err != nil {
		return types.NewStageError(types.StageEmbed, in, types.ErrConfiguration, err)
	}
	if embedTarget != "" {
		merged.Target = embedTarget
	}

	emb, err := newEmbedder(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = emb.Close() }()

	artifact, err := embedder.Compute(cmd.Context(), emb, &merged, embedder.ComputeOptions{Logger: logger})
	if err != nil {
		return err
	}
	if err := cache.WriteJSONAtomic(out, artifact); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	logger.Info("computed embeddings",
		zap.String("target", merged.Target),
		zap.String("provider", artifact.Provider),
		zap.String("model", artifact.Model),
		zap.Int("vectors", len(artifact.Vectors)))
	return nil
}

func runSynth(cmd *cobra.Command, args []string) (err error) {
	defer func() {
		if err != nil {
			removeOutputs(synthScenario)
		}
	}()

	var merged types.MergedIndex
	if err := cache.ReadJSON(synthIndex, &merged); err != nil {
		return types.NewStageError(types.StageSynthesize, synthIndex, types.ErrConfiguration, err)
	}
	var embeddings types.EmbeddingsArtifact
	if err := cache.ReadJSON(synthEmbeddings, &embeddings); err != nil {
		return types.NewStageError(types.StageSynthesize, synthEmbeddings, types.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	planner, err := newPlanner(cmd.Context())
	if err != nil {
		return err
	}

	outDir, err := filepath.Abs(filepath.Dir(synthScenario))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	gen, err := synth.Synthesize(cmd.Context(), &merged, &embeddings, synth.Options{
		TargetFilter: synthFilter,
		Verbose:      verbose || cfg.Synthesis.Verbose,
		DryRun:       synthDryRun,
		IncludeDirs:  synthIncludes,
		OutputDir:    outDir,
		Planner:      planner,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if synthDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%d scenario(s) validated for %s\n", len(gen.Functions), merged.Target)
		return nil
	}
	if err := writeFile(synthScenario, []byte(gen.Source)); err != nil {
		return err
	}
	logger.Info("synthesized scenarios",
		zap.String("target", merged.Target),
		zap.String("planner", planner.Name()),
		zap.Int("functions", len(gen.Functions)),
		zap.String("scenario", synthScenario))
	return nil
}

// writeFile atomically replaces path, creating its directory.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := cache.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
