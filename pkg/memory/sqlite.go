package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteSnapshotStore persists group snapshots so memory survives a restart on a best-effort basis.
type SQLiteSnapshotStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLiteSnapshotStore opens (or creates) the snapshot database at path.
func OpenSQLiteSnapshotStore(path string, logger zerolog.Logger) (*SQLiteSnapshotStore, error) {
	if path == "" {
		return nil, errors.New("snapshot database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS group_sessions (
			group_id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteSnapshotStore{
		db:     db,
		logger: logger.With().Str("component", "snapshot_store").Logger(),
	}
	s.logger.Info().Str("path", path).Msg("Snapshot store opened")
	return s, nil
}

// Save upserts the given snapshots in a single transaction.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_sessions (group_id, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, snap := range snaps {
		data, err := MarshalSnapshot(snap)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, string(snap.GroupID), string(data), now); err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", snap.GroupID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}

	s.logger.Debug().Int("groups", len(snaps)).Msg("Snapshots saved")
	return nil
}

// LoadAll reads every stored snapshot. Rows that fail to decode are skipped and logged.
func (s *SQLiteSnapshotStore) LoadAll(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT group_id, snapshot FROM group_sessions ORDER BY group_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap, err := UnmarshalSnapshot([]byte(data))
		if err != nil {
			s.logger.Warn().Err(err).Str("group_id", id).Msg("Skipping corrupt snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	return snaps, nil
}

// Delete removes a group's stored snapshot.
func (s *SQLiteSnapshotStore) Delete(ctx context.Context, id GroupID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM group_sessions WHERE group_id = ?", string(id)); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

// PersistStore saves every session of store.
func PersistStore(ctx context.Context, store *Store, snapshots *SQLiteSnapshotStore) error {
	return snapshots.Save(ctx, store.SnapshotAll())
}

// RestoreStore loads stored snapshots into store and returns how many groups were restored.
func RestoreStore(ctx context.Context, store *Store, snapshots *SQLiteSnapshotStore) (int, error) {
	snaps, err := snapshots.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, snap := range snaps {
		if err := store.Restore(snap); err != nil {
			snapshots.logger.Warn().Err(err).Str("group_id", string(snap.GroupID)).Msg("Failed to restore snapshot")
			continue
		}
		restored++
	}
	return restored, nil
}
