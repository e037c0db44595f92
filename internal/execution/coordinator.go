// Package execution owns the order lifecycle state machine. It is the only
// component that dispatches mutating calls to the gateway, and it dispatches
// each intent exactly once.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swap_trader/internal/core"
	apperrors "swap_trader/pkg/errors"
	"swap_trader/pkg/telemetry"
)

// Notifier receives best-effort operational notifications. Failures to
// notify never affect the state machine.
type Notifier interface {
	Notify(level string, title string, message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(level, title, message string) {}

// Coordinator drives order submission through a strict state machine.
// Every mutating call is audited before dispatch and its result audited
// before the state transition commits. An outcome that cannot be proven
// either way halts the machine until an operator reconciles.
type Coordinator struct {
	gateway  core.IGateway
	audit    core.IAuditLog
	store    core.IStateStore
	logger   core.ILogger
	notifier Notifier

	pair      string
	orderSize decimal.Decimal

	mu         sync.Mutex
	state      core.CoordinatorState
	position   *core.Position
	lastIntent *core.OrderIntent
	haltReason string
}

// NewCoordinator creates a coordinator in IDLE.
func NewCoordinator(gateway core.IGateway, auditLog core.IAuditLog, stateStore core.IStateStore,
	pair string, orderSize decimal.Decimal, notifier Notifier, logger core.ILogger) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Coordinator{
		gateway:   gateway,
		audit:     auditLog,
		store:     stateStore,
		logger:    logger.WithField("component", "coordinator"),
		notifier:  notifier,
		pair:      pair,
		orderSize: orderSize,
		state:     core.StateIdle,
	}
}

// State returns the current machine state.
func (c *Coordinator) State() core.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenPosition returns a copy of the tracked position, or nil.
func (c *Coordinator) OpenPosition() *core.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		return nil
	}
	cp := *c.position
	return &cp
}

// HaltReason returns why the machine halted, or empty.
func (c *Coordinator) HaltReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haltReason
}

// Restore loads persisted state on startup. A crash during SUBMITTING or
// SUBMITTING_CLOSE means an intent may or may not have reached the
// exchange, so those states resume as HALTED. CONFIRMED_CLOSED collapses
// to IDLE. A persisted CONFIRMED_OPEN is verified against the exchange
// before it is trusted.
func (c *Coordinator) Restore(ctx context.Context) error {
	persisted, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore coordinator state: %w", err)
	}
	if persisted == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.position = persisted.OpenPosition
	c.lastIntent = persisted.LastIntent
	c.haltReason = persisted.HaltReason

	switch persisted.State {
	case core.StateSubmitting, core.StateSubmittingClose:
		c.state = core.StateHalted
		c.haltReason = fmt.Sprintf("process stopped during %s, outcome unknown", persisted.State)
		c.logger.Error("Resuming halted after interrupted submission",
			"persisted_state", string(persisted.State))
		telemetry.GetGlobalMetrics().SetHalted(true)
		c.notifier.Notify("critical", "Halted on restart", c.haltReason)
		return c.persistLocked(ctx)
	case core.StateConfirmedClosed:
		c.state = core.StateIdle
		c.position = nil
	case core.StateConfirmedOpen:
		// The persisted position is a claim about the exchange, not the
		// truth. A position closed externally while the process was down
		// would otherwise receive a close order against a ghost id.
		c.state = persisted.State
		c.logger.Info("Verifying restored position against exchange")
		if err := c.reconcileLocked(ctx); err != nil && c.state != core.StateHalted {
			c.haltLocked(ctx, fmt.Sprintf("could not verify restored position: %v", err))
		}
		return nil
	default:
		c.state = persisted.State
	}

	if c.state == core.StateHalted {
		telemetry.GetGlobalMetrics().SetHalted(true)
	}
	c.logger.Info("Restored coordinator state", "state", string(c.state))
	return nil
}

// Apply executes one authorized decision. Hold is a no-op beyond the audit
// trail. In HALTED, every decision except the audit itself is refused.
func (c *Coordinator) Apply(ctx context.Context, decision core.Decision, lock core.LockState, snapshotID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	telemetry.GetGlobalMetrics().RecordDecision(string(decision.Kind))

	if err := c.appendAuditLocked(ctx, &core.AuditRecord{
		SnapshotID: snapshotID,
		Stage:      core.StageDecision,
		Decision:   &decision,
		Lock:       lock,
	}); err != nil {
		// A decision that cannot be journaled must not be acted on.
		return err
	}

	if c.state == core.StateHalted {
		if decision.Kind != core.DecisionHold {
			c.logger.Warn("Halted, refusing decision",
				"kind", string(decision.Kind),
				"halt_reason", c.haltReason)
		}
		return apperrors.ErrHalted
	}

	switch decision.Kind {
	case core.DecisionHold:
		return nil
	case core.DecisionExecute:
		return c.openLocked(ctx, decision.Side, snapshotID)
	case core.DecisionForceClose:
		return c.closeLocked(ctx, snapshotID, decision.Reason)
	default:
		return fmt.Errorf("unknown decision kind %q", string(decision.Kind))
	}
}

// openLocked dispatches a single open attempt. Caller holds c.mu.
func (c *Coordinator) openLocked(ctx context.Context, side core.Side, snapshotID string) error {
	if c.state != core.StateIdle {
		return fmt.Errorf("cannot open from state %s", c.state)
	}
	if side != core.SideBuy && side != core.SideSell {
		return fmt.Errorf("cannot open with side %q", string(side))
	}

	intent := core.OrderIntent{
		IdempotencyKey: NewIdempotencyKey(core.ActionOpen, c.pair),
		Action:         core.ActionOpen,
		Pair:           c.pair,
		Side:           side,
		Size:           c.orderSize,
	}

	// Intent on disk before anything leaves the process.
	if err := c.appendAuditLocked(ctx, &core.AuditRecord{
		SnapshotID: snapshotID,
		Stage:      core.StageIntent,
		Intent:     &intent,
	}); err != nil {
		c.haltLocked(ctx, fmt.Sprintf("audit unavailable before open dispatch: %v", err))
		return err
	}

	c.state = core.StateSubmitting
	c.lastIntent = &intent
	if err := c.persistLocked(ctx); err != nil {
		c.haltLocked(ctx, fmt.Sprintf("state store unavailable before open dispatch: %v", err))
		return err
	}

	c.logger.Info("Dispatching open",
		"key", intent.IdempotencyKey,
		"side", string(side),
		"size", c.orderSize.String())

	start := time.Now()
	result := c.gateway.PlaceOrder(ctx, intent)
	telemetry.GetGlobalMetrics().RecordGatewayCall("place_order", float64(time.Since(start).Milliseconds()))

	return c.commitOpenResultLocked(ctx, intent, result, snapshotID)
}

func (c *Coordinator) commitOpenResultLocked(ctx context.Context, intent core.OrderIntent, result core.OrderResult, snapshotID string) error {
	if err := c.appendAuditLocked(ctx, &core.AuditRecord{
		SnapshotID: snapshotID,
		Stage:      core.StageResult,
		Intent:     &intent,
		Result:     &result,
	}); err != nil {
		c.haltLocked(ctx, fmt.Sprintf("audit unavailable after open dispatch: %v", err))
		return err
	}

	switch result.Status {
	case core.StatusConfirmed:
		c.position = &core.Position{
			ID:         result.PositionID,
			Pair:       intent.Pair,
			Side:       intent.Side,
			Size:       intent.Size,
			EntryPrice: result.FillPrice,
			OpenedAt:   time.Now().UTC(),
		}
		c.state = core.StateConfirmedOpen
		telemetry.GetGlobalMetrics().RecordOpened()
		c.logger.Info("Open confirmed",
			"position_id", result.PositionID,
			"fill_price", result.FillPrice.String())
		c.notifier.Notify("info", "Position opened",
			fmt.Sprintf("%s %s %s @ %s", intent.Pair, intent.Side, intent.Size.String(), result.FillPrice.String()))
	case core.StatusRejected:
		c.state = core.StateIdle
		c.lastIntent = nil
		c.logger.Warn("Open rejected", "error", result.Err)
	case core.StatusAmbiguous:
		c.haltLocked(ctx, fmt.Sprintf("ambiguous open outcome for %s: %s", intent.IdempotencyKey, result.Err))
		return apperrors.ErrAmbiguousOutcome
	default:
		c.haltLocked(ctx, fmt.Sprintf("unclassified open result %q", string(result.Status)))
		return apperrors.ErrAmbiguousOutcome
	}

	return c.persistLocked(ctx)
}

// Close closes the tracked position in response to an external request,
// e.g. an operator command. It follows the same path as a force close.
func (c *Coordinator) Close(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == core.StateHalted {
		return apperrors.ErrHalted
	}
	return c.closeLocked(ctx, "", reason)
}

// closeLocked dispatches a single close attempt. Caller holds c.mu.
func (c *Coordinator) closeLocked(ctx context.Context, snapshotID, reason string) error {
	if c.state != core.StateConfirmedOpen || c.position == nil {
		c.logger.Warn("Close requested without tracked position", "state", string(c.state))
		return nil
	}

	intent := core.OrderIntent{
		IdempotencyKey: NewIdempotencyKey(core.ActionClose, c.pair),
		Action:         core.ActionClose,
		Pair:           c.position.Pair,
		Side:           c.position.Side.Opposite(),
		Size:           c.position.Size,
		PositionID:     c.position.ID,
	}

	if err := c.appendAuditLocked(ctx, &core.AuditRecord{
		SnapshotID: snapshotID,
		Stage:      core.StageIntent,
		Intent:     &intent,
		Note:       reason,
	}); err != nil {
		c.haltLocked(ctx, fmt.Sprintf("audit unavailable before close dispatch: %v", err))
		return err
	}

	c.state = core.StateSubmittingClose
	c.lastIntent = &intent
	if err := c.persistLocked(ctx); err != nil {
		c.haltLocked(ctx, fmt.Sprintf("state store unavailable before close dispatch: %v", err))
		return err
	}

	c.logger.Info("Dispatching close",
		"key", intent.IdempotencyKey,
		"position_id", intent.PositionID,
		"reason", reason)

	start := time.Now()
	result := c.gateway.ClosePosition(ctx, intent)
	telemetry.GetGlobalMetrics().RecordGatewayCall("close_position", float64(time.Since(start).Milliseconds()))

	return c.commitCloseResultLocked(ctx, intent, result, snapshotID)
}

func (c *Coordinator) commitCloseResultLocked(ctx context.Context, intent core.OrderIntent, result core.OrderResult, snapshotID string) error {
	if err := c.appendAuditLocked(ctx, &core.AuditRecord{
		SnapshotID: snapshotID,
		Stage:      core.StageResult,
		Intent:     &intent,
		Result:     &result,
	}); err != nil {
		c.haltLocked(ctx, fmt.Sprintf("audit unavailable after close dispatch: %v", err))
		return err
	}

	switch result.Status {
	case core.StatusConfirmed:
		c.logger.Info("Close confirmed",
			"position_id", intent.PositionID,
			"fill_price", result.FillPrice.String())
		c.notifier.Notify("info", "Position closed",
			fmt.Sprintf("%s %s @ %s", intent.Pair, intent.PositionID, result.FillPrice.String()))
		c.position = nil
		c.lastIntent = nil
		c.state = core.StateConfirmedClosed
		telemetry.GetGlobalMetrics().RecordClosed()
		if err := c.persistLocked(ctx); err != nil {
			return err
		}
		// CONFIRMED_CLOSED is transient; the machine is immediately ready
		// for the next cycle.
		c.state = core.StateIdle
		return c.persistLocked(ctx)
	case core.StatusRejected:
		// Position still open as far as we know.
		c.state = core.StateConfirmedOpen
		c.logger.Error("Close rejected, position remains open", "error", result.Err)
		c.notifier.Notify("warn", "Close rejected", result.Err)
		return c.persistLocked(ctx)
	case core.StatusAmbiguous:
		c.haltLocked(ctx, fmt.Sprintf("ambiguous close outcome for %s: %s", intent.IdempotencyKey, result.Err))
		return apperrors.ErrAmbiguousOutcome
	default:
		c.haltLocked(ctx, fmt.Sprintf("unclassified close result %q", string(result.Status)))
		return apperrors.ErrAmbiguousOutcome
	}
}

// Reconcile is the operator-invoked recovery path out of HALTED. It reads
// the exchange's actual open positions and adopts them as the truth.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcileLocked(ctx)
}

// reconcileLocked adopts the exchange's open positions as the truth.
// Caller holds c.mu.
func (c *Coordinator) reconcileLocked(ctx context.Context) error {
	positions, err := c.gateway.GetOpenPositions(ctx, c.pair)
	if err != nil {
		return fmt.Errorf("reconcile: query open positions: %w", err)
	}

	prev := c.state
	switch len(positions) {
	case 0:
		c.position = nil
		c.state = core.StateIdle
	case 1:
		p := positions[0]
		c.position = &p
		c.state = core.StateConfirmedOpen
	default:
		// More positions than this machine ever opens. Do not guess.
		c.haltLocked(ctx, fmt.Sprintf("reconcile found %d open positions, expected at most 1", len(positions)))
		return apperrors.ErrAmbiguousOutcome
	}

	c.haltReason = ""
	c.lastIntent = nil
	telemetry.GetGlobalMetrics().SetHalted(false)

	c.logger.Info("Reconciled against exchange",
		"previous_state", string(prev),
		"state", string(c.state),
		"open_positions", len(positions))

	if err := c.appendAuditLocked(ctx, &core.AuditRecord{
		Stage: core.StageNote,
		Note:  fmt.Sprintf("reconciled: %s -> %s (%d exchange positions)", prev, c.state, len(positions)),
	}); err != nil {
		return err
	}
	return c.persistLocked(ctx)
}

// haltLocked transitions to HALTED and records why. Caller holds c.mu.
func (c *Coordinator) haltLocked(ctx context.Context, reason string) {
	c.state = core.StateHalted
	c.haltReason = reason
	c.logger.Error("Coordinator halted", "reason", reason)
	telemetry.GetGlobalMetrics().SetHalted(true)
	telemetry.GetGlobalMetrics().RecordAmbiguous()
	c.notifier.Notify("critical", "Trading halted", reason)

	// Best effort. If the stores are down the in-memory halt still holds
	// and nothing further will dispatch.
	if err := c.audit.Append(ctx, &core.AuditRecord{Stage: core.StageNote, Note: "HALT: " + reason}); err != nil {
		c.logger.Error("Failed to audit halt", "error", err.Error())
	}
	if err := c.persistLocked(ctx); err != nil {
		c.logger.Error("Failed to persist halt", "error", err.Error())
	}
}

func (c *Coordinator) appendAuditLocked(ctx context.Context, rec *core.AuditRecord) error {
	if err := c.audit.Append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrAuditUnavailable, err)
	}
	return nil
}

func (c *Coordinator) persistLocked(ctx context.Context) error {
	return c.store.Save(ctx, &core.PersistedState{
		State:        c.state,
		OpenPosition: c.position,
		LastIntent:   c.lastIntent,
		HaltReason:   c.haltReason,
	})
}
