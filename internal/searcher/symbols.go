package searcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/scenariogen/internal/cache"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/pkg/types"
)

// Index is the searchable state of one target. Version changes whenever
// either artifact does.
type Index struct {
	Target     string
	Version    string
	Merged     *types.MergedIndex
	Embeddings *types.EmbeddingsArtifact
}

// Loader resolves a target name to its latest Index.
type Loader interface {
	Load(ctx context.Context, target string) (*Index, error)
}

// StoreLoader reads target heads from storage and artifacts from the blob
// store. Decoded indexes are kept in an LRU keyed by version.
type StoreLoader struct {
	storage storage.Storage
	store   cache.Store
	decoded *lru.Cache[string, *Index]
}

// NewStoreLoader creates a loader keeping up to size decoded indexes.
func NewStoreLoader(st storage.Storage, store cache.Store, size int) *StoreLoader {
	if size <= 0 {
		size = 8
	}
	decoded, err := lru.New[string, *Index](size)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &StoreLoader{storage: st, store: store, decoded: decoded}
}

// Load implements Loader.
func (l *StoreLoader) Load(ctx context.Context, target string) (*Index, error) {
	head, err := l.storage.GetTargetHead(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotIndexed, target, err)
	}
	if head.MergedHash == "" {
		return nil, fmt.Errorf("%w: %s has no merged index: %w", ErrNotIndexed, target, storage.ErrNotFound)
	}
	version := head.MergedHash + ":" + head.EmbeddingsHash
	if idx, ok := l.decoded.Get(version); ok {
		return idx, nil
	}

	idx := &Index{Target: target, Version: version, Merged: &types.MergedIndex{}}
	if err := cache.GetJSON(l.store, head.MergedHash, idx.Merged); err != nil {
		return nil, fmt.Errorf("target %s merged index: %w", target, err)
	}
	if head.EmbeddingsHash != "" {
		idx.Embeddings = &types.EmbeddingsArtifact{}
		if err := cache.GetJSON(l.store, head.EmbeddingsHash, idx.Embeddings); err != nil {
			return nil, fmt.Errorf("target %s embeddings: %w", target, err)
		}
	}
	l.decoded.Add(version, idx)
	return idx, nil
}

// Symbol is a named declaration of a target: an entity or one operation of
// a type.
type Symbol struct {
	QualifiedName string                     `json:"qualified_name"`
	Name          string                     `json:"name"`
	Kind          string                     `json:"kind"`
	Owner         string                     `json:"owner,omitempty"`
	Signature     string                     `json:"signature"`
	Doc           string                     `json:"doc,omitempty"`
	Scenarios     []types.StructuredScenario `json:"scenarios,omitempty"`
	File          string                     `json:"file"`
	Line          int                        `json:"line"`
}

func entitySymbol(e *types.EntityRecord) Symbol {
	return Symbol{
		QualifiedName: e.QualifiedName,
		Name:          e.Name,
		Kind:          string(e.Kind),
		Signature:     e.Signature(),
		Doc:           e.Doc,
		Scenarios:     e.Scenarios,
		File:          e.File,
		Line:          e.Line,
	}
}

func operationSymbol(owner *types.EntityRecord, op *types.Operation) Symbol {
	return Symbol{
		QualifiedName: owner.QualifiedName + "::" + op.Name,
		Name:          op.Name,
		Kind:          string(op.Kind),
		Owner:         owner.QualifiedName,
		Signature:     op.Signature(),
		Doc:           op.Doc,
		File:          owner.File,
		Line:          op.Line,
	}
}

// symbols lists every entity and every constructor or method of a type.
func symbols(merged *types.MergedIndex) []Symbol {
	var out []Symbol
	for i := range merged.Entities {
		e := &merged.Entities[i]
		out = append(out, entitySymbol(e))
		if e.Kind != types.KindType {
			continue
		}
		for j := range e.Operations {
			out = append(out, operationSymbol(e, &e.Operations[j]))
		}
	}
	return out
}

// SearchByName returns symbols whose name contains name, case-insensitively.
// Overloads of one operation appear once each.
func (s *Searcher) SearchByName(ctx context.Context, target, name string) ([]Symbol, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, ErrEmptyQuery
	}
	idx, err := s.loader.Load(ctx, target)
	if err != nil {
		return nil, err
	}
	var out []Symbol
	for _, sym := range symbols(idx.Merged) {
		if strings.Contains(strings.ToLower(sym.Name), needle) {
			out = append(out, sym)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out, nil
}

// GetSymbol returns every declaration with the given qualified name. An
// overloaded operation yields one symbol per overload.
func (s *Searcher) GetSymbol(ctx context.Context, target, qualifiedName string) ([]Symbol, error) {
	idx, err := s.loader.Load(ctx, target)
	if err != nil {
		return nil, err
	}
	if e, ok := idx.Merged.Lookup(qualifiedName); ok {
		return []Symbol{entitySymbol(e)}, nil
	}
	cut := strings.LastIndex(qualifiedName, "::")
	if cut > 0 {
		if owner, ok := idx.Merged.Lookup(qualifiedName[:cut]); ok && owner.Kind == types.KindType {
			var out []Symbol
			for j := range owner.Operations {
				if owner.Operations[j].Name == qualifiedName[cut+2:] {
					out = append(out, operationSymbol(owner, &owner.Operations[j]))
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("symbol %s: %w", qualifiedName, storage.ErrNotFound)
}

// GetClassMethods returns the constructors and methods of a type in
// declaration order.
func (s *Searcher) GetClassMethods(ctx context.Context, target, classQualifiedName string) ([]Symbol, error) {
	idx, err := s.loader.Load(ctx, target)
	if err != nil {
		return nil, err
	}
	owner, ok := idx.Merged.Lookup(classQualifiedName)
	if !ok || owner.Kind != types.KindType {
		return nil, fmt.Errorf("class %s: %w", classQualifiedName, storage.ErrNotFound)
	}
	out := make([]Symbol, 0, len(owner.Operations))
	for j := range owner.Operations {
		out = append(out, operationSymbol(owner, &owner.Operations[j]))
	}
	return out, nil
}
