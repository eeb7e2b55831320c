package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/scenariogen/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate record
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; it also keeps :memory: databases
	// on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// DB exposes the underlying handle for schema inspection.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// withTx runs fn in a transaction on the DB, committing on success.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Node record operations

func (s *SQLiteStorage) getNodeRecordWithQuerier(ctx context.Context, q querier, key string) (*NodeRecord, error) {
	rec := &NodeRecord{}
	var stage string
	err := q.QueryRowContext(ctx, `
		SELECT node_key, node_name, stage, target, artifact_hash, updated_at
		FROM node_records WHERE node_key = ?
	`, key).Scan(&rec.Key, &rec.Node, &stage, &rec.Target, &rec.ArtifactHash, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node record: %w", err)
	}
	rec.Stage = types.Stage(stage)

	rows, err := q.QueryContext(ctx, `
		SELECT file_path, content_hash FROM watched_files
		WHERE node_key = ? ORDER BY file_path
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var w WatchedFile
		if err := rows.Scan(&w.Path, &w.ContentHash); err != nil {
			return nil, err
		}
		rec.Watched = append(rec.Watched, w)
	}
	return rec, rows.Err()
}

// putNodeRecordWithQuerier replaces the record and its watched files.
func (s *SQLiteStorage) putNodeRecordWithQuerier(ctx context.Context, q querier, rec *NodeRecord) error {
	now := time.Now()
	if _, err := q.ExecContext(ctx, `DELETE FROM watched_files WHERE node_key = ?`, rec.Key); err != nil {
		return fmt.Errorf("failed to clear watched files: %w", err)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO node_records (node_key, node_name, stage, target, artifact_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_key) DO UPDATE SET
			node_name = excluded.node_name,
			stage = excluded.stage,
			target = excluded.target,
			artifact_hash = excluded.artifact_hash,
			updated_at = excluded.updated_at
	`, rec.Key, rec.Node, string(rec.Stage), rec.Target, rec.ArtifactHash, now)
	if err != nil {
		return fmt.Errorf("failed to put node record: %w", err)
	}
	for _, w := range rec.Watched {
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO watched_files (node_key, file_path, content_hash)
			VALUES (?, ?, ?)
		`, rec.Key, w.Path, w.ContentHash); err != nil {
			return fmt.Errorf("failed to record watched file %s: %w", w.Path, err)
		}
	}
	rec.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) listWatchedFilesWithQuerier(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT file_path FROM watched_files ORDER BY file_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStorage) GetNodeRecord(ctx context.Context, key string) (*NodeRecord, error) {
	return s.getNodeRecordWithQuerier(ctx, s.db, key)
}

func (s *SQLiteStorage) PutNodeRecord(ctx context.Context, rec *NodeRecord) error {
	return s.withTx(ctx, func(q querier) error {
		return s.putNodeRecordWithQuerier(ctx, q, rec)
	})
}

func (s *SQLiteStorage) ListWatchedFiles(ctx context.Context) ([]string, error) {
	return s.listWatchedFilesWithQuerier(ctx, s.db)
}

// Target head operations

const targetHeadColumns = `target, state, failed_stage, error, merged_hash, embeddings_hash,
	scenario_hash, test_hash, run_id, updated_at`

func (s *SQLiteStorage) putTargetHeadWithQuerier(ctx context.Context, q querier, head *TargetHead) error {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT OR REPLACE INTO target_heads (`+targetHeadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, head.Target, head.State, head.FailedStage, head.Error, head.MergedHash,
		head.EmbeddingsHash, head.ScenarioHash, head.TestHash, head.RunID, now)
	if err != nil {
		return fmt.Errorf("failed to put target head: %w", err)
	}
	head.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTargetHead(row rowScanner) (*TargetHead, error) {
	head := &TargetHead{}
	var failedStage, errText, merged, embeddings, scenario, test sql.NullString
	if err := row.Scan(&head.Target, &head.State, &failedStage, &errText, &merged,
		&embeddings, &scenario, &test, &head.RunID, &head.UpdatedAt); err != nil {
		return nil, err
	}
	head.FailedStage = failedStage.String
	head.Error = errText.String
	head.MergedHash = merged.String
	head.EmbeddingsHash = embeddings.String
	head.ScenarioHash = scenario.String
	head.TestHash = test.String
	return head, nil
}

func (s *SQLiteStorage) getTargetHeadWithQuerier(ctx context.Context, q querier, target string) (*TargetHead, error) {
	row := q.QueryRowContext(ctx, `SELECT `+targetHeadColumns+` FROM target_heads WHERE target = ?`, target)
	head, err := scanTargetHead(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target head: %w", err)
	}
	return head, nil
}

func (s *SQLiteStorage) listTargetHeadsWithQuerier(ctx context.Context, q querier) ([]*TargetHead, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+targetHeadColumns+` FROM target_heads ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("failed to list target heads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var heads []*TargetHead
	for rows.Next() {
		head, err := scanTargetHead(rows)
		if err != nil {
			return nil, err
		}
		heads = append(heads, head)
	}
	return heads, rows.Err()
}

func (s *SQLiteStorage) PutTargetHead(ctx context.Context, head *TargetHead) error {
	return s.putTargetHeadWithQuerier(ctx, s.db, head)
}

func (s *SQLiteStorage) GetTargetHead(ctx context.Context, target string) (*TargetHead, error) {
	return s.getTargetHeadWithQuerier(ctx, s.db, target)
}

func (s *SQLiteStorage) ListTargetHeads(ctx context.Context) ([]*TargetHead, error) {
	return s.listTargetHeadsWithQuerier(ctx, s.db)
}

// Registration operations

// registerWithQuerier records reg under runID. A name owned by another target
// is a conflict, as is a second registration of the same name within one run.
// A registration from an earlier run is replaced.
func (s *SQLiteStorage) registerWithQuerier(ctx context.Context, q querier, reg *types.Registration, runID string) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	var existingTarget, existingRun string
	err := q.QueryRowContext(ctx, `SELECT target, run_id FROM registrations WHERE name = ?`, reg.Name).
		Scan(&existingTarget, &existingRun)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to look up registration: %w", err)
	case existingTarget != reg.Target:
		return fmt.Errorf("%w: test %q is registered by target %q", ErrAlreadyExists, reg.Name, existingTarget)
	case existingRun == runID:
		return fmt.Errorf("%w: test %q registered twice in run %s", ErrAlreadyExists, reg.Name, runID)
	}

	command, err := json.Marshal(reg.Command)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO registrations (name, target, command, work_dir, artifact_hash, run_id, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			command = excluded.command,
			work_dir = excluded.work_dir,
			artifact_hash = excluded.artifact_hash,
			run_id = excluded.run_id,
			registered_at = excluded.registered_at
	`, reg.Name, reg.Target, string(command), reg.WorkDir, reg.ArtifactHash, runID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to register test: %w", err)
	}
	return nil
}

const registrationColumns = `name, target, command, work_dir, artifact_hash`

func scanRegistration(row rowScanner) (*types.Registration, error) {
	reg := &types.Registration{}
	var command string
	var workDir sql.NullString
	if err := row.Scan(&reg.Name, &reg.Target, &command, &workDir, &reg.ArtifactHash); err != nil {
		return nil, err
	}
	reg.WorkDir = workDir.String
	if err := json.Unmarshal([]byte(command), &reg.Command); err != nil {
		return nil, fmt.Errorf("corrupt command for %s: %w", reg.Name, err)
	}
	return reg, nil
}

func (s *SQLiteStorage) getRegistrationWithQuerier(ctx context.Context, q querier, name string) (*types.Registration, error) {
	row := q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE name = ?`, name)
	reg, err := scanRegistration(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return reg, nil
}

func (s *SQLiteStorage) listRegistrationsWithQuerier(ctx context.Context, q querier) ([]*types.Registration, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+registrationColumns+` FROM registrations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var regs []*types.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (s *SQLiteStorage) Register(ctx context.Context, reg *types.Registration, runID string) error {
	return s.withTx(ctx, func(q querier) error {
		return s.registerWithQuerier(ctx, q, reg, runID)
	})
}

func (s *SQLiteStorage) GetRegistration(ctx context.Context, name string) (*types.Registration, error) {
	return s.getRegistrationWithQuerier(ctx, s.db, name)
}

func (s *SQLiteStorage) ListRegistrations(ctx context.Context) ([]*types.Registration, error) {
	return s.listRegistrationsWithQuerier(ctx, s.db)
}

// Test run operations

func (s *SQLiteStorage) recordTestRunWithQuerier(ctx context.Context, q querier, run *TestRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO test_runs (name, run_id, exit_code, passed, duration_ms, output, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.Name, run.RunID, run.ExitCode, run.Passed, run.Duration.Milliseconds(), run.Output, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to record test run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

// listTestRunsWithQuerier returns the newest runs first. An empty name lists
// runs of every test.
func (s *SQLiteStorage) listTestRunsWithQuerier(ctx context.Context, q querier, name string, limit int) ([]*TestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, run_id, exit_code, passed, duration_ms, output, started_at
		FROM test_runs
		WHERE (? = '' OR name = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list test runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*TestRun
	for rows.Next() {
		run := &TestRun{}
		var durationMS int64
		var output sql.NullString
		if err := rows.Scan(&run.ID, &run.Name, &run.RunID, &run.ExitCode, &run.Passed,
			&durationMS, &output, &run.StartedAt); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.Output = output.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStorage) RecordTestRun(ctx context.Context, run *TestRun) error {
	return s.recordTestRunWithQuerier(ctx, s.db, run)
}

func (s *SQLiteStorage) ListTestRuns(ctx context.Context, name string, limit int) ([]*TestRun, error) {
	return s.listTestRunsWithQuerier(ctx, s.db, name, limit)
}

// Transaction methods - delegate to storage with transaction querier

func (t *sqliteTx) GetNodeRecord(ctx context.Context, key string) (*NodeRecord, error) {
	return t.storage.getNodeRecordWithQuerier(ctx, t.tx, key)
}

func (t *sqliteTx) PutNodeRecord(ctx context.Context, rec *NodeRecord) error {
	return t.storage.putNodeRecordWithQuerier(ctx, t.tx, rec)
}

func (t *sqliteTx) ListWatchedFiles(ctx context.Context) ([]string, error) {
	return t.storage.listWatchedFilesWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) PutTargetHead(ctx context.Context, head *TargetHead) error {
	return t.storage.putTargetHeadWithQuerier(ctx, t.tx, head)
}

func (t *sqliteTx) GetTargetHead(ctx context.Context, target string) (*TargetHead, error) {
	return t.storage.getTargetHeadWithQuerier(ctx, t.tx, target)
}

func (t *sqliteTx) ListTargetHeads(ctx context.Context) ([]*TargetHead, error) {
	return t.storage.listTargetHeadsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) Register(ctx context.Context, reg *types.Registration, runID string) error {
	return t.storage.registerWithQuerier(ctx, t.tx, reg, runID)
}

func (t *sqliteTx) GetRegistration(ctx context.Context, name string) (*types.Registration, error) {
	return t.storage.getRegistrationWithQuerier(ctx, t.tx, name)
}

func (t *sqliteTx) ListRegistrations(ctx context.Context) ([]*types.Registration, error) {
	return t.storage.listRegistrationsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) RecordTestRun(ctx context.Context, run *TestRun) error {
	return t.storage.recordTestRunWithQuerier(ctx, t.tx, run)
}

func (t *sqliteTx) ListTestRuns(ctx context.Context, name string, limit int) ([]*TestRun, error) {
	return t.storage.listTestRunsWithQuerier(ctx, t.tx, name, limit)
}

func (t *sqliteTx) Close() error {
	// Transactions are closed via Commit or Rollback
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
