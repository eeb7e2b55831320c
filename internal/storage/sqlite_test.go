package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scenariogen/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func registration(name, target string) *types.Registration {
	return &types.Registration{
		Name:         name,
		Target:       target,
		Command:      []string{"/build/" + name},
		ArtifactHash: "abc123",
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)

	version, err := SchemaVersion(context.Background(), storage.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestNewSQLiteStorageCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), ".scenariogen", "nested", "state.db")

	storage, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	assert.FileExists(t, dbPath)
	version, err := SchemaVersion(context.Background(), storage.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.DB()))
	version, err := SchemaVersion(ctx, storage.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.DB()))
	version, err := SchemaVersion(ctx, storage.DB())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	// Reapplying restores the dropped table.
	require.NoError(t, ApplyMigrations(ctx, storage.DB()))
	require.NoError(t, storage.Register(ctx, registration("t1", "lib"), "run-1"))
	require.NoError(t, storage.RecordTestRun(ctx, &TestRun{Name: "t1", RunID: "run-1", Passed: true}))

	require.NoError(t, RollbackMigration(ctx, storage.DB()))
	require.NoError(t, RollbackMigration(ctx, storage.DB()))
	version, err = SchemaVersion(ctx, storage.DB())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)
	assert.Error(t, RollbackMigration(ctx, storage.DB()))
}

func TestNodeRecord(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.GetNodeRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &NodeRecord{
		Key:          "k1",
		Node:         "index:src/box.cpp",
		Stage:        types.StageIndex,
		Target:       "lib",
		ArtifactHash: "h1",
		Watched: []WatchedFile{
			{Path: "src/box.hpp", ContentHash: "b"},
			{Path: "src/box.cpp", ContentHash: "a"},
		},
	}
	require.NoError(t, storage.PutNodeRecord(ctx, rec))
	assert.False(t, rec.UpdatedAt.IsZero())

	got, err := storage.GetNodeRecord(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.ArtifactHash)
	assert.Equal(t, types.StageIndex, got.Stage)
	assert.Equal(t, []WatchedFile{
		{Path: "src/box.cpp", ContentHash: "a"},
		{Path: "src/box.hpp", ContentHash: "b"},
	}, got.Watched)

	// Replacing drops stale watched files.
	rec.ArtifactHash = "h2"
	rec.Watched = []WatchedFile{{Path: "src/box.cpp", ContentHash: "c"}}
	require.NoError(t, storage.PutNodeRecord(ctx, rec))

	got, err = storage.GetNodeRecord(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ArtifactHash)
	assert.Equal(t, []WatchedFile{{Path: "src/box.cpp", ContentHash: "c"}}, got.Watched)
}

func TestListWatchedFiles(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.PutNodeRecord(ctx, &NodeRecord{
		Key: "a", Node: "index:a.cpp", Stage: types.StageIndex, Target: "lib", ArtifactHash: "1",
		Watched: []WatchedFile{{Path: "a.cpp"}, {Path: "common.hpp"}},
	}))
	require.NoError(t, storage.PutNodeRecord(ctx, &NodeRecord{
		Key: "b", Node: "index:b.cpp", Stage: types.StageIndex, Target: "lib", ArtifactHash: "2",
		Watched: []WatchedFile{{Path: "b.cpp"}, {Path: "common.hpp"}},
	}))

	paths, err := storage.ListWatchedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.cpp", "b.cpp", "common.hpp"}, paths)
}

func TestTargetHead(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.GetTargetHead(ctx, "lib")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.PutTargetHead(ctx, &TargetHead{
		Target: "lib", State: "Failed", FailedStage: "merge", Error: "duplicate", RunID: "run-1",
	}))
	require.NoError(t, storage.PutTargetHead(ctx, &TargetHead{
		Target: "app", State: "CompiledAndRegistered", MergedHash: "m", TestHash: "t", RunID: "run-1",
	}))

	head, err := storage.GetTargetHead(ctx, "lib")
	require.NoError(t, err)
	assert.Equal(t, "Failed", head.State)
	assert.Equal(t, "merge", head.FailedStage)

	heads, err := storage.ListTargetHeads(ctx)
	require.NoError(t, err)
	require.Len(t, heads, 2)
	assert.Equal(t, "app", heads[0].Target)
	assert.Equal(t, "m", heads[0].MergedHash)
	assert.Empty(t, heads[0].FailedStage)
}

func TestRegister(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	reg := registration("lib_scenarios", "lib")
	reg.WorkDir = "/build"
	require.NoError(t, storage.Register(ctx, reg, "run-1"))

	got, err := storage.GetRegistration(ctx, "lib_scenarios")
	require.NoError(t, err)
	assert.Equal(t, reg, got)

	t.Run("same run is a conflict", func(t *testing.T) {
		err := storage.Register(ctx, registration("lib_scenarios", "lib"), "run-1")
		assert.True(t, errors.Is(err, ErrAlreadyExists))
	})

	t.Run("other target is a conflict", func(t *testing.T) {
		err := storage.Register(ctx, registration("lib_scenarios", "app"), "run-2")
		assert.True(t, errors.Is(err, ErrAlreadyExists))
	})

	t.Run("later run replaces", func(t *testing.T) {
		next := registration("lib_scenarios", "lib")
		next.ArtifactHash = "def456"
		require.NoError(t, storage.Register(ctx, next, "run-2"))

		got, err := storage.GetRegistration(ctx, "lib_scenarios")
		require.NoError(t, err)
		assert.Equal(t, "def456", got.ArtifactHash)
	})

	t.Run("invalid registration", func(t *testing.T) {
		err := storage.Register(ctx, &types.Registration{Name: "x"}, "run-3")
		assert.Error(t, err)
	})

	regs, err := storage.ListRegistrations(ctx)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestTestRuns(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.Register(ctx, registration("a", "lib"), "run-1"))
	require.NoError(t, storage.Register(ctx, registration("b", "lib"), "run-1"))

	base := time.Now().Add(-time.Minute)
	for i, run := range []*TestRun{
		{Name: "a", RunID: "run-1", ExitCode: 1, Output: "FAILED", Duration: 150 * time.Millisecond, StartedAt: base},
		{Name: "b", RunID: "run-1", Passed: true, StartedAt: base.Add(time.Second)},
		{Name: "a", RunID: "run-2", Passed: true, StartedAt: base.Add(2 * time.Second)},
	} {
		require.NoError(t, storage.RecordTestRun(ctx, run), "run %d", i)
		assert.Greater(t, run.ID, int64(0))
	}

	runs, err := storage.ListTestRuns(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.True(t, runs[0].Passed)
	assert.False(t, runs[1].Passed)
	assert.Equal(t, 1, runs[1].ExitCode)
	assert.Equal(t, 150*time.Millisecond, runs[1].Duration)
	assert.Equal(t, "FAILED", runs[1].Output)

	all, err := storage.ListTestRuns(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	t.Run("rollback discards", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Register(ctx, registration("a", "lib"), "run-1"))
		require.NoError(t, tx.Rollback())

		_, err = storage.GetRegistration(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("commit persists", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Register(ctx, registration("a", "lib"), "run-1"))
		require.NoError(t, tx.PutTargetHead(ctx, &TargetHead{Target: "lib", State: "CompiledAndRegistered", RunID: "run-1"}))

		head, err := tx.GetTargetHead(ctx, "lib")
		require.NoError(t, err)
		assert.Equal(t, "CompiledAndRegistered", head.State)
		require.NoError(t, tx.Commit())

		_, err = storage.GetRegistration(ctx, "a")
		assert.NoError(t, err)
	})

	t.Run("nested transactions unsupported", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()

		_, err = tx.BeginTx(ctx)
		assert.Error(t, err)
		assert.NoError(t, tx.Close())
	})
}
