// Package core defines the shared domain types for the swap trader.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a proposal or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// Valid reports whether the side is one of the allowed values.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideHold:
		return true
	}
	return false
}

// Opposite returns the closing direction for an open position side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideHold
}

// Proposal is the untrusted directional suggestion produced by the AI oracle.
// It carries no authority: every proposal passes the gate and the interlock
// before anything is executed.
type Proposal struct {
	Side        Side      `json:"side"`
	Confidence  float64   `json:"confidence"`
	Rationale   string    `json:"rationale"`
	GeneratedAt time.Time `json:"generated_at"`
	SnapshotID  string    `json:"snapshot_id"`
}

// MarketSnapshot is a point-in-time view of one currency pair.
type MarketSnapshot struct {
	Pair            string          `json:"pair"`
	Bid             decimal.Decimal `json:"bid"`
	Ask             decimal.Decimal `json:"ask"`
	SwapLongPerDay  decimal.Decimal `json:"swap_long_per_day"`
	SwapShortPerDay decimal.Decimal `json:"swap_short_per_day"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Position is an open position at the exchange. It is owned exclusively by the
// execution coordinator: created only on a CONFIRMED open, destroyed only on a
// CONFIRMED close.
type Position struct {
	ID          string          `json:"id"`
	Pair        string          `json:"pair"`
	Side        Side            `json:"side"`
	Size        decimal.Decimal `json:"size"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	OpenedAt    time.Time       `json:"opened_at"`
	SwapAccrued decimal.Decimal `json:"swap_accrued"`
}

// AccountSnapshot is a point-in-time view of the trading account.
type AccountSnapshot struct {
	ID            string          `json:"id"`
	Equity        decimal.Decimal `json:"equity"`
	MarginRatio   decimal.Decimal `json:"margin_ratio"`
	OpenPositions []Position      `json:"open_positions"`
	Timestamp     time.Time       `json:"timestamp"`
}

// LockState captures both arming inputs at one instant. It is recomputed for
// every decision cycle and never cached across cycles.
type LockState struct {
	ConfigArmed bool `json:"config_armed"`
	EnvArmed    bool `json:"env_armed"`
}

// Armed is true only when both stages of the lock agree.
func (l LockState) Armed() bool {
	return l.ConfigArmed && l.EnvArmed
}

// DecisionKind discriminates the authorization outcome.
type DecisionKind string

const (
	DecisionExecute    DecisionKind = "EXECUTE"
	DecisionHold       DecisionKind = "HOLD"
	DecisionForceClose DecisionKind = "FORCE_CLOSE"
)

// Decision is the authoritative output of the safety interlock.
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Side   Side         `json:"side,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// HoldDecision builds a Hold with the given reason.
func HoldDecision(reason string) Decision {
	return Decision{Kind: DecisionHold, Reason: reason}
}

// IntentAction is the kind of mutating call an intent describes.
type IntentAction string

const (
	ActionOpen  IntentAction = "OPEN"
	ActionClose IntentAction = "CLOSE"
)

// OrderIntent describes exactly one attempt at a mutating call. The
// idempotency key is unique per attempt; a key is dispatched at most once
// without explicit operator intervention.
type OrderIntent struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Action         IntentAction    `json:"action"`
	Pair           string          `json:"pair"`
	Side           Side            `json:"side"`
	Size           decimal.Decimal `json:"size"`
	PositionID     string          `json:"position_id,omitempty"`
}

// ResultStatus is the three-way classification of a mutating call outcome.
// Ambiguous is never collapsed into either of the other two.
type ResultStatus string

const (
	StatusConfirmed ResultStatus = "CONFIRMED"
	StatusAmbiguous ResultStatus = "AMBIGUOUS"
	StatusRejected  ResultStatus = "REJECTED"
)

// OrderResult is the classified outcome of a dispatched intent.
type OrderResult struct {
	Status          ResultStatus    `json:"status"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	PositionID      string          `json:"position_id,omitempty"`
	FillPrice       decimal.Decimal `json:"fill_price"`
	Err             string          `json:"error,omitempty"`
}

// AuditStage identifies what a record documents within a cycle.
type AuditStage string

const (
	StageDecision AuditStage = "DECISION"
	StageIntent   AuditStage = "INTENT"
	StageResult   AuditStage = "RESULT"
	StageNote     AuditStage = "NOTE"
)

// AuditRecord is one immutable entry in the append-only audit log, strictly
// ordered by Seq.
type AuditRecord struct {
	Seq        int64        `json:"seq"`
	Timestamp  time.Time    `json:"timestamp"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	Stage      AuditStage   `json:"stage"`
	Decision   *Decision    `json:"decision,omitempty"`
	Lock       LockState    `json:"lock"`
	Intent     *OrderIntent `json:"intent,omitempty"`
	Result     *OrderResult `json:"result,omitempty"`
	Note       string       `json:"note,omitempty"`
}

// CoordinatorState is the execution state machine's position in its lifecycle.
type CoordinatorState string

const (
	StateIdle            CoordinatorState = "IDLE"
	StateSubmitting      CoordinatorState = "SUBMITTING"
	StateConfirmedOpen   CoordinatorState = "CONFIRMED_OPEN"
	StateSubmittingClose CoordinatorState = "SUBMITTING_CLOSE"
	StateConfirmedClosed CoordinatorState = "CONFIRMED_CLOSED"
	StateHalted          CoordinatorState = "HALTED"
)

// PersistedState is the durable coordinator snapshot written after every
// committed transition and reloaded on restart.
type PersistedState struct {
	State        CoordinatorState `json:"state"`
	OpenPosition *Position        `json:"open_position,omitempty"`
	LastIntent   *OrderIntent     `json:"last_intent,omitempty"`
	HaltReason   string           `json:"halt_reason,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
