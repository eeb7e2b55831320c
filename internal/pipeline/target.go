package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/scenariogen/pkg/types"
)

// Target is one build target: a set of translation units compiled with a
// shared configuration, whose scenarios become one test executable.
type Target struct {
	Name string
	// Dir is the target's root; tests run there and relative paths in the
	// configuration resolve against it.
	Dir string
	// Sources are the translation units to index, as absolute paths.
	Sources []string
	Config  types.CompilerConfig
	// LinkInputs are linked into the test executable. Empty means the
	// target's own sources.
	LinkInputs []string
	// TestName is the registration name. Empty means "<name>_scenarios".
	TestName string
	// Filter restricts synthesis to one type.
	Filter string
}

// Validate reports a ConfigurationError for an unusable target.
func (t *Target) Validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("%w: target name is required", types.ErrConfiguration)
	case strings.ContainsAny(t.Name, ":/\\ "):
		return fmt.Errorf("%w: target name %q may not contain ':', '/', '\\' or spaces", types.ErrConfiguration, t.Name)
	case len(t.Sources) == 0:
		return fmt.Errorf("%w: target %s has no sources", types.ErrConfiguration, t.Name)
	}
	for _, src := range t.Sources {
		if !types.IsSource(src) {
			return fmt.Errorf("%w: target %s: %s is not a translation unit", types.ErrConfiguration, t.Name, src)
		}
	}
	if err := t.Config.Validate(); err != nil {
		return fmt.Errorf("target %s: %w", t.Name, err)
	}
	return nil
}

// RegistrationName is the name the target's test is registered under.
func (t *Target) RegistrationName() string {
	if t.TestName != "" {
		return t.TestName
	}
	return t.Name + "_scenarios"
}

// Units returns one SourceUnit per source, sorted by path.
func (t *Target) Units() []types.SourceUnit {
	srcs := append([]string{}, t.Sources...)
	sort.Strings(srcs)
	units := make([]types.SourceUnit, 0, len(srcs))
	for _, s := range srcs {
		units = append(units, types.SourceUnit{Path: filepath.Clean(s), Config: t.Config})
	}
	return units
}

func (t *Target) linkInputs() []string {
	if len(t.LinkInputs) > 0 {
		return t.LinkInputs
	}
	srcs := append([]string{}, t.Sources...)
	sort.Strings(srcs)
	return srcs
}

// sourceLabel is the node-name spelling of a source: relative to the target
// directory when it lies inside it.
func (t *Target) sourceLabel(path string) string {
	if rel, err := filepath.Rel(t.Dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
