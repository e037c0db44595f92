// Package safety implements the two-stage arming interlock, the position
// cap, and the margin kill switch that gate every trade decision.
package safety

import (
	"fmt"
	"os"
	"sync"
	"time"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
	apperrors "swap_trader/pkg/errors"
	"swap_trader/pkg/telemetry"
)

// ArmEnvVar is the runtime half of the two-stage arm. The process trades
// live only while this variable is exactly "YES" AND the config enables
// live trading. The variable is re-read on every check, never cached, so
// unsetting it disarms the very next decision.
const ArmEnvVar = "LIVE_TRADING_ARMED"

const armEnvValue = "YES"

// Interlock owns all authorization checks. Decision precedence is fixed:
// a kill switch force-close beats every hold, a hold beats every execute.
type Interlock struct {
	cfg    *config.Config
	logger core.ILogger

	mu         sync.Mutex
	killUntil  time.Time
	killReason string
	manualKill bool
	now        func() time.Time
}

// NewInterlock creates an interlock from the safety configuration.
func NewInterlock(cfg *config.Config, logger core.ILogger) *Interlock {
	return &Interlock{
		cfg:    cfg,
		logger: logger.WithField("component", "interlock"),
		now:    time.Now,
	}
}

// LockState recomputes both arming factors. The environment variable is
// read fresh each call.
func (il *Interlock) LockState() core.LockState {
	state := core.LockState{
		ConfigArmed: il.cfg.Safety.EnableLiveTrading,
		EnvArmed:    os.Getenv(ArmEnvVar) == armEnvValue,
	}
	telemetry.GetGlobalMetrics().SetArmed(state.Armed())
	return state
}

// CheckPositionCap rejects a new open while any position exists. The cap
// is hard-wired to one position.
func (il *Interlock) CheckPositionCap(openPositions int) error {
	if openPositions >= il.cfg.Safety.MaxOpenPositions {
		return fmt.Errorf("open positions %d at cap %d: %w",
			openPositions, il.cfg.Safety.MaxOpenPositions, apperrors.ErrPositionCapReached)
	}
	return nil
}

// TripKillSwitch latches the kill switch manually, e.g. from an operator
// signal or a partial-failure alert. It stays latched until ClearKillSwitch.
func (il *Interlock) TripKillSwitch(reason string) {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.manualKill = true
	il.killReason = reason
	il.logger.Error("Kill switch tripped manually", "reason", reason)
	telemetry.GetGlobalMetrics().RecordKillSwitchTrip()
}

// ClearKillSwitch releases a manual latch. Cooldown windows from margin
// trips are left to expire on their own.
func (il *Interlock) ClearKillSwitch() {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.manualKill = false
	il.killReason = ""
	il.logger.Warn("Kill switch cleared by operator")
}

// KillSwitchActive reports whether any kill condition is currently latched.
func (il *Interlock) KillSwitchActive() (bool, string) {
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.manualKill {
		return true, il.killReason
	}
	if il.now().Before(il.killUntil) {
		return true, il.killReason
	}
	return false, ""
}

// Authorize applies the full safety policy to an upstream proposal and
// returns the final decision. It never returns Execute unless every gate
// passed in the same evaluation.
func (il *Interlock) Authorize(proposal core.Proposal, account core.AccountSnapshot, openPositions int) core.Decision {
	// Kill switch first. With an open position it force-closes regardless
	// of what the proposal wanted.
	if tripped, reason := il.evaluateKillSwitch(account); tripped {
		if openPositions > 0 {
			il.logger.Error("Kill switch active with open position, forcing close", "reason", reason)
			return core.Decision{Kind: core.DecisionForceClose, Reason: reason}
		}
		return core.HoldDecision("kill switch active: " + reason)
	}

	if proposal.Side == core.SideHold {
		return core.HoldDecision("proposal is hold")
	}

	lock := il.LockState()
	if !lock.Armed() {
		il.logger.Info("Not armed, holding",
			"config_armed", lock.ConfigArmed,
			"env_armed", lock.EnvArmed)
		return core.HoldDecision(fmt.Sprintf("not armed (config=%v env=%v)", lock.ConfigArmed, lock.EnvArmed))
	}

	if proposal.Confidence < il.cfg.Safety.MinConfidence {
		return core.HoldDecision(fmt.Sprintf("confidence %.2f below threshold %.2f",
			proposal.Confidence, il.cfg.Safety.MinConfidence))
	}

	if err := il.CheckPositionCap(openPositions); err != nil {
		return core.HoldDecision(err.Error())
	}

	return core.Decision{Kind: core.DecisionExecute, Side: proposal.Side, Reason: proposal.Rationale}
}

// evaluateKillSwitch checks the margin ratio against the configured floor
// and manages the cooldown latch. A zero margin ratio means no margin in
// use, which is healthy, not critical. Any nonzero ratio below the floor
// trips the switch even when this process tracks no open positions.
func (il *Interlock) evaluateKillSwitch(account core.AccountSnapshot) (bool, string) {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.manualKill {
		return true, il.killReason
	}

	now := il.now()
	if now.Before(il.killUntil) {
		return true, il.killReason
	}

	ratio := account.MarginRatio
	if ratio.IsZero() {
		return false, ""
	}

	threshold := il.cfg.Safety.KillSwitchMarginPct
	if ratio.InexactFloat64() < threshold {
		il.killUntil = now.Add(time.Duration(il.cfg.Safety.CooldownSec) * time.Second)
		il.killReason = fmt.Sprintf("margin ratio %s%% below kill threshold %.1f%%", ratio.String(), threshold)
		il.logger.Error("Kill switch tripped",
			"margin_ratio", ratio.String(),
			"threshold", threshold,
			"cooldown_until", il.killUntil.Format(time.RFC3339))
		telemetry.GetGlobalMetrics().RecordKillSwitchTrip()
		return true, il.killReason
	}

	return false, ""
}
