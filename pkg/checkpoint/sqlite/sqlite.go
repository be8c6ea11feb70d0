// Package sqlite stores checkpoints in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/wehubfusion/flowgraph/pkg/checkpoint"
	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

const (
	createTable = "CREATE TABLE IF NOT EXISTS flowgraph_checkpoints (" +
		"checkpoint_id TEXT NOT NULL PRIMARY KEY, " +
		"run_id TEXT NOT NULL, " +
		"workflow TEXT NOT NULL, " +
		"seq INTEGER NOT NULL, " +
		"node_id TEXT, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL" +
		")"

	createIndex = "CREATE INDEX IF NOT EXISTS idx_flowgraph_checkpoints_run " +
		"ON flowgraph_checkpoints (run_id, seq)"

	insertCheckpoint = "INSERT OR REPLACE INTO flowgraph_checkpoints (" +
		"checkpoint_id, run_id, workflow, seq, node_id, ts, checkpoint_json) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?)"

	selectLatest = "SELECT checkpoint_json FROM flowgraph_checkpoints " +
		"WHERE run_id = ? ORDER BY seq DESC LIMIT 1"

	selectAll = "SELECT checkpoint_json FROM flowgraph_checkpoints " +
		"WHERE run_id = ? ORDER BY seq ASC"

	deleteRun = "DELETE FROM flowgraph_checkpoints WHERE run_id = ?"
)

// Store is a SQLite-backed checkpoint.Store.
type Store struct {
	db    *sql.DB
	owned bool
}

// New creates a store on an open database and creates the schema if needed.
// The database must use a SQLite driver.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(createIndex); err != nil {
		return nil, fmt.Errorf("create checkpoints index: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens or creates the database file at path.
// The parent directory is created if it does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; sqlite serialises writes anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	if c == nil || c.RunID == "" {
		return errors.New("checkpoint requires a run id")
	}
	data, err := checkpoint.Encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertCheckpoint,
		c.ID, c.RunID, c.Workflow, c.Sequence, c.NodeID, c.CreatedAt.UnixNano(), data)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, selectLatest, runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, flowerrors.CheckpointNotFound(runID)
		}
		return nil, fmt.Errorf("select latest: %w", err)
	}
	return checkpoint.Decode(data)
}

// List implements checkpoint.Store.
func (s *Store) List(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, selectAll, runID)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		c, err := checkpoint.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, deleteRun, runID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var _ checkpoint.Store = (*Store)(nil)
