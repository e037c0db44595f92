package audit

import (
	"context"
	"sync"
	"time"

	"swap_trader/internal/core"
)

// MemoryLog is an in-memory audit log for tests and dry runs. It preserves
// the same monotonic-sequence contract as the SQLite log but offers no
// durability.
type MemoryLog struct {
	mu      sync.Mutex
	records []core.AuditRecord
	failErr error
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// FailWith makes every subsequent Append return err. Used to exercise the
// audit-unavailable path.
func (l *MemoryLog) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *MemoryLog) Append(ctx context.Context, rec *core.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Seq = int64(len(l.records)) + 1
	l.records = append(l.records, *rec)
	return nil
}

func (l *MemoryLog) Tail(ctx context.Context, n int) ([]core.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.records) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.AuditRecord, len(l.records)-start)
	copy(out, l.records[start:])
	return out, nil
}

func (l *MemoryLog) LastSeq(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records)), nil
}

func (l *MemoryLog) Close() error { return nil }
