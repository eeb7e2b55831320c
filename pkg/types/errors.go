package types

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline error kinds. Every user-visible failure wraps exactly one of them.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrParseFailure     = errors.New("parse failure")
	ErrDuplicateEntity  = errors.New("duplicate entity")
	ErrEmbeddingService = errors.New("embedding service error")
	ErrSynthesis        = errors.New("synthesis error")
	ErrBuild            = errors.New("build error")
	ErrRegistration     = errors.New("registration error")
)

// Record validation errors.
var (
	ErrMissingFileInfo       = errors.New("file info is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrInvalidRank           = errors.New("rank must be at least 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrMissingEntity         = errors.New("search result has no entity")
)

// Stage names a pipeline stage.
type Stage string

const (
	StageIndex      Stage = "index"
	StageMerge      Stage = "merge"
	StageEmbed      Stage = "embed"
	StageSynthesize Stage = "synthesize"
	StageBuild      Stage = "build"
	StageRegister   Stage = "register"
)

// StageError is a failure of one pipeline stage on one input.
type StageError struct {
	Stage      Stage
	Input      string // identity of the offending input
	Kind       error  // one of the Err* kinds above
	Diagnostic string // diagnostic text of the underlying tool, if any
	Err        error
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Stage)
	if e.Input != "" {
		fmt.Fprintf(&b, " %s", e.Input)
	}
	switch {
	case e.Err != nil && e.Kind != nil && errors.Is(e.Err, e.Kind):
		fmt.Fprintf(&b, ": %v", e.Err)
	case e.Err != nil && e.Kind != nil:
		fmt.Fprintf(&b, ": %v: %v", e.Kind, e.Err)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	case e.Kind != nil:
		fmt.Fprintf(&b, ": %v", e.Kind)
	}
	if d := strings.TrimSpace(e.Diagnostic); d != "" {
		fmt.Fprintf(&b, "\n%s", d)
	}
	return b.String()
}

func (e *StageError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewStageError builds a StageError. When err already carries a kind it is
// reused, so wrapping is idempotent.
func NewStageError(stage Stage, input string, kind error, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return se
	}
	if k := KindOf(err); k != nil {
		kind = k
	}
	return &StageError{Stage: stage, Input: input, Kind: kind, Err: err}
}

// KindOf returns the error kind err wraps, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrConfiguration, ErrParseFailure, ErrDuplicateEntity, ErrEmbeddingService,
		ErrSynthesis, ErrBuild, ErrRegistration,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable reports whether a failure may succeed on a later run without a
// change to its inputs.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingService) || errors.Is(err, ErrSynthesis)
}

// DuplicateEntityError reports two index inputs declaring the same name.
type DuplicateEntityError struct {
	Name   string
	First  string // source identity of the first declaration
	Second string // source identity of the colliding declaration
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("duplicate entity %q declared by %s and %s", e.Name, e.First, e.Second)
}

func (e *DuplicateEntityError) Is(target error) bool {
	return target == ErrDuplicateEntity
}
