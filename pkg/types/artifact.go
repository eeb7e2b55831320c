package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ParserVersion identifies the indexer's output format. Bump it whenever the
// content of IndexArtifacts changes for the same input.
const ParserVersion = "cpp-ts/1"

// IndexArtifact is the output of the per-file indexer for one SourceUnit.
type IndexArtifact struct {
	SourceIdentity string         `json:"source_identity"`
	SourcePath     string         `json:"source_path"`
	ParserVersion  string         `json:"parser_version"`
	Entities       []EntityRecord `json:"entities"`
}

// Hash is the content hash of the artifact.
func (a *IndexArtifact) Hash() (string, error) {
	return ContentHash(a)
}

// DependencyList names every file consulted while indexing a unit. It is used
// only for staleness decisions.
type DependencyList struct {
	Artifact string   `json:"artifact"`
	Files    []string `json:"files"`
}

// Normalize sorts and de-duplicates the file list.
func (d *DependencyList) Normalize() {
	seen := make(map[string]bool, len(d.Files))
	files := d.Files[:0]
	for _, f := range d.Files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	sort.Strings(files)
	d.Files = files
}

// MergedIndex is the union of a target's IndexArtifacts. Entity qualified
// names are unique and entities are ordered by qualified name.
type MergedIndex struct {
	Target   string         `json:"target"`
	Inputs   []string       `json:"inputs"`
	Entities []EntityRecord `json:"entities"`
}

// Hash is the content hash of the merged index.
func (m *MergedIndex) Hash() (string, error) {
	return ContentHash(m)
}

// Lookup returns the entity with the given qualified name.
func (m *MergedIndex) Lookup(qualifiedName string) (*EntityRecord, bool) {
	i := sort.Search(len(m.Entities), func(i int) bool {
		return m.Entities[i].QualifiedName >= qualifiedName
	})
	if i < len(m.Entities) && m.Entities[i].QualifiedName == qualifiedName {
		return &m.Entities[i], true
	}
	return nil, false
}

// ScenarioCount is the number of scenarios across all entities.
func (m *MergedIndex) ScenarioCount() int {
	n := 0
	for i := range m.Entities {
		n += len(m.Entities[i].Scenarios)
	}
	return n
}

// EmbeddingsArtifact maps qualified names of documented entities to vectors.
type EmbeddingsArtifact struct {
	Provider  string               `json:"provider"`
	Model     string               `json:"model"`
	Dimension int                  `json:"dimension"`
	IndexHash string               `json:"index_hash"`
	Vectors   map[string][]float32 `json:"vectors"`
}

// Hash is the content hash of the embeddings.
func (e *EmbeddingsArtifact) Hash() (string, error) {
	return ContentHash(e)
}

// Vector returns the embedding of an entity, if it has one.
func (e *EmbeddingsArtifact) Vector(qualifiedName string) ([]float32, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.Vectors[qualifiedName]
	return v, ok
}

// ScenarioFunction describes one synthesized test function.
type ScenarioFunction struct {
	Name     string             `json:"name"`
	Entity   string             `json:"entity"`
	Index    int                `json:"index"`
	Subject  string             `json:"subject"`
	Scenario StructuredScenario `json:"scenario"`
}

// GeneratedScenarioFile is the synthesizer's output. Source is empty for a
// dry run.
type GeneratedScenarioFile struct {
	Target    string             `json:"target"`
	IndexHash string             `json:"index_hash"`
	Functions []ScenarioFunction `json:"functions"`
	Includes  []string           `json:"includes"`
	Source    string             `json:"source,omitempty"`
	DryRun    bool               `json:"dry_run,omitempty"`
}

// Hash is the content hash of the generated source.
func (g *GeneratedScenarioFile) Hash() string {
	sum := sha256.Sum256([]byte(g.Source))
	return hex.EncodeToString(sum[:])
}

// TestArtifact is a compiled scenario test executable.
type TestArtifact struct {
	Target        string `json:"target"`
	Path          string `json:"path"`
	BinaryHash    string `json:"binary_hash"`
	GeneratedHash string `json:"generated_hash"`
}

// Registration is the record by which the test runner invokes a TestArtifact.
type Registration struct {
	Name         string   `json:"name"`
	Target       string   `json:"target"`
	Command      []string `json:"command"`
	WorkDir      string   `json:"work_dir"`
	ArtifactHash string   `json:"artifact_hash"`
}

// Validate checks the registration is runnable.
func (r *Registration) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: registration name is required", ErrRegistration)
	}
	if len(r.Command) == 0 || r.Command[0] == "" {
		return fmt.Errorf("%w: registration %q has no command", ErrRegistration, r.Name)
	}
	return nil
}

// CanonicalJSON encodes v deterministically: struct fields in declaration
// order, map keys sorted, no HTML escaping.
func CanonicalJSON(v any) ([]byte, error) {
	return canonicalJSON(v)
}

func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentHash is the sha256 of the canonical JSON encoding of v.
func ContentHash(v any) (string, error) {
	data, err := canonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
