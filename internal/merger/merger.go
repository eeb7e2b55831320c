// Package merger implements the index merge barrier: the per-file
// IndexArtifacts of a target are combined into one MergedIndex with unique
// qualified names.
package merger

import (
	"fmt"
	"sort"

	"github.com/dshills/scenariogen/pkg/types"
)

// Merge combines the artifacts of one target. Inputs are processed in
// source-identity order so the reported duplicate does not depend on the
// order artifacts arrive in. A record repeated from the same declaration site
// (a header shared by several units) counts once; any other repeat of a
// qualified name fails with a DuplicateEntityError.
func Merge(target string, artifacts []*types.IndexArtifact) (*types.MergedIndex, error) {
	sorted := make([]*types.IndexArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a == nil {
			return nil, types.NewStageError(types.StageMerge, target, types.ErrConfiguration,
				fmt.Errorf("%w: nil index artifact", types.ErrConfiguration))
		}
		sorted = append(sorted, a)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SourceIdentity < sorted[j].SourceIdentity
	})

	type owner struct {
		source string
		record *types.EntityRecord
	}
	seen := make(map[string]owner)
	merged := &types.MergedIndex{
		Target:   target,
		Inputs:   make([]string, 0, len(sorted)),
		Entities: []types.EntityRecord{},
	}

	for _, a := range sorted {
		if a.ParserVersion != types.ParserVersion {
			return nil, types.NewStageError(types.StageMerge, a.SourceIdentity, types.ErrConfiguration,
				fmt.Errorf("%w: artifact parser version %q, expected %q", types.ErrConfiguration, a.ParserVersion, types.ParserVersion))
		}
		merged.Inputs = append(merged.Inputs, a.SourceIdentity)
		for i := range a.Entities {
			rec := &a.Entities[i]
			if prev, ok := seen[rec.QualifiedName]; ok {
				if prev.record.SameDeclaration(rec) {
					continue
				}
				return nil, types.NewStageError(types.StageMerge, target, types.ErrDuplicateEntity,
					&types.DuplicateEntityError{Name: rec.QualifiedName, First: prev.source, Second: a.SourceIdentity})
			}
			seen[rec.QualifiedName] = owner{source: a.SourceIdentity, record: rec}
			merged.Entities = append(merged.Entities, *rec)
		}
	}

	sort.Slice(merged.Entities, func(i, j int) bool {
		return merged.Entities[i].QualifiedName < merged.Entities[j].QualifiedName
	})
	return merged, nil
}
