package storage

import (
	"context"
	"time"

	"github.com/dshills/scenariogen/pkg/types"
)

// Storage persists the pipeline's bookkeeping: cache node records with the
// files they watch, per-target heads, test registrations and test runs.
// Artifact content itself lives in the blob cache.
type Storage interface {
	// Node record operations
	GetNodeRecord(ctx context.Context, key string) (*NodeRecord, error)
	PutNodeRecord(ctx context.Context, rec *NodeRecord) error
	ListWatchedFiles(ctx context.Context) ([]string, error)

	// Target head operations
	PutTargetHead(ctx context.Context, head *TargetHead) error
	GetTargetHead(ctx context.Context, target string) (*TargetHead, error)
	ListTargetHeads(ctx context.Context) ([]*TargetHead, error)

	// Registration operations
	Register(ctx context.Context, reg *types.Registration, runID string) error
	GetRegistration(ctx context.Context, name string) (*types.Registration, error)
	ListRegistrations(ctx context.Context) ([]*types.Registration, error)

	// Test run operations
	RecordTestRun(ctx context.Context, run *TestRun) error
	ListTestRuns(ctx context.Context, name string, limit int) ([]*TestRun, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// WatchedFile is one dependency of a node with the content hash observed when
// the node's artifact was produced.
type WatchedFile struct {
	Path        string
	ContentHash string
}

// NodeRecord maps a node's cache key to the artifact it produced. For
// indexing nodes it also carries the adjacency list of watched files, which
// decides staleness without reparsing.
type NodeRecord struct {
	Key          string
	Node         string
	Stage        types.Stage
	Target       string
	ArtifactHash string
	Watched      []WatchedFile
	UpdatedAt    time.Time
}

// TargetHead is the latest pipeline outcome of a target.
type TargetHead struct {
	Target         string
	State          string
	FailedStage    string
	Error          string
	MergedHash     string
	EmbeddingsHash string
	ScenarioHash   string
	TestHash       string
	RunID          string
	UpdatedAt      time.Time
}

// TestRun is one execution of a registered test.
type TestRun struct {
	ID        int64
	Name      string
	RunID     string
	ExitCode  int
	Passed    bool
	Duration  time.Duration
	Output    string
	StartedAt time.Time
}
