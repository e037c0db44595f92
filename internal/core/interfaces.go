package core

import (
	"context"
)

// IGateway abstracts the exchange's public/private REST surface. All Get*
// methods are idempotent reads and may be retried under the shared rate
// limiter. PlaceOrder and ClosePosition are mutating calls: implementations
// must dispatch them exactly once per intent and classify every outcome as
// CONFIRMED, REJECTED, or AMBIGUOUS - never guess.
type IGateway interface {
	Name() string

	// Reads (idempotent, rate limited, retryable)
	GetMarketSnapshot(ctx context.Context, pair string) (*MarketSnapshot, error)
	GetAccountSnapshot(ctx context.Context) (*AccountSnapshot, error)
	GetOpenPositions(ctx context.Context, pair string) ([]Position, error)

	// Mutating calls (single attempt, never auto-retried)
	PlaceOrder(ctx context.Context, intent OrderIntent) OrderResult
	ClosePosition(ctx context.Context, intent OrderIntent) OrderResult
}

// IAuditLog is the append-only decision/outcome journal. Append must be
// durable before it returns; records are immutable once appended.
type IAuditLog interface {
	Append(ctx context.Context, rec *AuditRecord) error
	Tail(ctx context.Context, n int) ([]AuditRecord, error)
	LastSeq(ctx context.Context) (int64, error)
	Close() error
}

// IStateStore persists the coordinator state across restarts.
type IStateStore interface {
	Save(ctx context.Context, state *PersistedState) error
	Load(ctx context.Context) (*PersistedState, error)
	Close() error
}

// OracleRequest is the payload handed to the AI proposal oracle.
type OracleRequest struct {
	Market     *MarketSnapshot  `json:"market"`
	Account    *AccountSnapshot `json:"account"`
	NewsDigest string           `json:"news_digest,omitempty"`
}

// IOracle produces an untrusted directional proposal. Implementations must be
// bounded-timeout synchronous calls; a failure or timeout returns an error and
// the caller degrades to Hold.
type IOracle interface {
	Propose(ctx context.Context, req OracleRequest) (*Proposal, error)
}

// INewsClient supplies the news digest consumed by the oracle. Failures
// degrade rationale quality only and never gate the cycle.
type INewsClient interface {
	FetchDigest(ctx context.Context, pair string) (string, error)
}

// ILogger is the structured logging interface used across components.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
