// Package store persists the execution coordinator's state so a restart
// resumes from the last committed transition instead of guessing.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"swap_trader/internal/core"
)

// SQLiteStore stores a single PersistedState row in WAL mode with a
// content checksum. Save replaces the row atomically.
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteStore opens (or creates) the state database at path.
func NewSQLiteStore(path string, logger core.ILogger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		checksum TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "statestore"),
	}, nil
}

// Save writes the state synchronously. When Save returns nil the state is
// on disk.
func (s *SQLiteStore) Save(ctx context.Context, state *core.PersistedState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	sum := sha256.Sum256(data)

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO state (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)",
		string(data),
		hex.EncodeToString(sum[:]),
		state.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Load returns the persisted state, or nil when none was ever saved. A
// checksum mismatch is an error, not a silent fresh start.
func (s *SQLiteStore) Load(ctx context.Context) (*core.PersistedState, error) {
	var data, checksum string
	err := s.db.QueryRowContext(ctx, "SELECT data, checksum FROM state WHERE id = 1").Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	sum := sha256.Sum256([]byte(data))
	if hex.EncodeToString(sum[:]) != checksum {
		s.logger.Error("State checksum mismatch, refusing to load")
		return nil, fmt.Errorf("state checksum mismatch")
	}

	var state core.PersistedState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
