// Package audit provides the append-only decision journal. Every decision,
// intent, and result is written here before the coordinator acts on it.
package audit

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
	apperrors "swap_trader/pkg/errors"
)

// SQLiteLog is a durable append-only audit log backed by SQLite in WAL
// mode. Sequence numbers are assigned by the database and are strictly
// monotonic; rows are never updated or deleted.
type SQLiteLog struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteLog opens (or creates) the audit database at path.
func NewSQLiteLog(path string, logger core.ILogger) (*SQLiteLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		stage TEXT NOT NULL,
		snapshot_id TEXT,
		data TEXT NOT NULL,
		checksum TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit(stage);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &SQLiteLog{
		db:     db,
		logger: logger.WithField("component", "audit"),
	}, nil
}

// Append writes one record and assigns its sequence number. The write is
// synchronous; when Append returns nil the record is on disk.
func (l *SQLiteLog) Append(ctx context.Context, rec *core.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", apperrors.ErrAuditUnavailable, err)
	}
	sum := sha256.Sum256(data)

	res, err := l.db.ExecContext(ctx,
		"INSERT INTO audit (ts, stage, snapshot_id, data, checksum) VALUES (?, ?, ?, ?, ?)",
		rec.Timestamp.Format(time.RFC3339Nano),
		string(rec.Stage),
		rec.SnapshotID,
		string(data),
		hex.EncodeToString(sum[:]),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrAuditUnavailable, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: read seq: %v", apperrors.ErrAuditUnavailable, err)
	}
	rec.Seq = seq
	return nil
}

// Tail returns the newest n records in ascending sequence order.
func (l *SQLiteLog) Tail(ctx context.Context, n int) ([]core.AuditRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT seq, data, checksum FROM audit ORDER BY seq DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrAuditUnavailable, err)
	}
	defer rows.Close()

	var out []core.AuditRecord
	for rows.Next() {
		var seq int64
		var data, checksum string
		if err := rows.Scan(&seq, &data, &checksum); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", apperrors.ErrAuditUnavailable, err)
		}

		sum := sha256.Sum256([]byte(data))
		if hex.EncodeToString(sum[:]) != checksum {
			l.logger.Error("Audit record checksum mismatch", "seq", seq)
			return nil, fmt.Errorf("%w: checksum mismatch at seq %d", apperrors.ErrAuditUnavailable, seq)
		}

		var rec core.AuditRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("%w: unmarshal seq %d: %v", apperrors.ErrAuditUnavailable, seq, err)
		}
		rec.Seq = seq
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrAuditUnavailable, err)
	}

	// Reverse into ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LastSeq returns the highest assigned sequence, or 0 for an empty log.
func (l *SQLiteLog) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := l.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM audit").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrAuditUnavailable, err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Close closes the underlying database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
