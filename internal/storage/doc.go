// Package storage provides SQLite-based persistence for pipeline bookkeeping.
//
// Artifacts themselves live in the content-addressed blob cache. This
// package records what points at them:
//   - node_records: cache key of each executed graph node and the hash of
//     the artifact it produced
//   - watched_files: the dependency adjacency of each node, with the content
//     hash seen when the node ran
//   - target_heads: the latest state of every target
//   - registrations: generated test executables known to the test runner
//   - test_runs: results of executing registered tests
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(".scenariogen/state.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	rec, err := db.GetNodeRecord(ctx, key)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // node must run
//	}
//
// # Transactions
//
// A Tx implements Storage, so stage code can take either:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.Register(ctx, reg, runID); err != nil {
//	    return err
//	}
//	if err := tx.PutTargetHead(ctx, head); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Drivers
//
// The default build uses modernc.org/sqlite and needs no C toolchain. Build
// with -tags sqlite_cgo to use github.com/mattn/go-sqlite3 instead.
package storage
