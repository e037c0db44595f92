package safety

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
	apperrors "swap_trader/pkg/errors"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})            {}
func (m *mockLogger) Info(msg string, fields ...interface{})             {}
func (m *mockLogger) Warn(msg string, fields ...interface{})             {}
func (m *mockLogger) Error(msg string, fields ...interface{})            {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})            {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger     { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger   { return m }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Pair = "USD_JPY"
	cfg.Safety.EnableLiveTrading = true
	cfg.Safety.KillSwitchMarginPct = 120.0
	cfg.Safety.CooldownSec = 3600
	cfg.Safety.MinConfidence = 0.6
	cfg.Safety.MaxOpenPositions = 1
	return cfg
}

func healthyAccount() core.AccountSnapshot {
	return core.AccountSnapshot{
		Equity:      decimal.NewFromInt(500000),
		MarginRatio: decimal.NewFromInt(800),
		Timestamp:   time.Now(),
	}
}

func buyProposal(confidence float64) core.Proposal {
	return core.Proposal{
		Side:        core.SideBuy,
		Confidence:  confidence,
		Rationale:   "positive carry on long side",
		GeneratedAt: time.Now(),
	}
}

func TestLockState_TruthTable(t *testing.T) {
	cases := []struct {
		name        string
		configArmed bool
		envValue    string
		wantArmed   bool
	}{
		{"both armed", true, "YES", true},
		{"config only", true, "", false},
		{"env only", false, "YES", false},
		{"neither", false, "", false},
		{"env wrong value", true, "yes", false},
		{"env truthy but not YES", true, "1", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Safety.EnableLiveTrading = tc.configArmed
			t.Setenv(ArmEnvVar, tc.envValue)

			il := NewInterlock(cfg, &mockLogger{})
			state := il.LockState()

			assert.Equal(t, tc.configArmed, state.ConfigArmed)
			assert.Equal(t, tc.wantArmed, state.Armed())
		})
	}
}

func TestLockState_ReReadsEnvEveryCall(t *testing.T) {
	cfg := testConfig()
	il := NewInterlock(cfg, &mockLogger{})

	t.Setenv(ArmEnvVar, "YES")
	require.True(t, il.LockState().Armed())

	// Unsetting the variable disarms the very next check.
	t.Setenv(ArmEnvVar, "")
	assert.False(t, il.LockState().Armed())
}

func TestCheckPositionCap(t *testing.T) {
	il := NewInterlock(testConfig(), &mockLogger{})

	assert.NoError(t, il.CheckPositionCap(0))

	err := il.CheckPositionCap(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPositionCapReached)

	assert.ErrorIs(t, il.CheckPositionCap(2), apperrors.ErrPositionCapReached)
}

func TestAuthorize_ArmedHighConfidenceExecutes(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	dec := il.Authorize(buyProposal(0.9), healthyAccount(), 0)

	assert.Equal(t, core.DecisionExecute, dec.Kind)
	assert.Equal(t, core.SideBuy, dec.Side)
}

func TestAuthorize_DisarmedHoldsEvenAtFullConfidence(t *testing.T) {
	t.Setenv(ArmEnvVar, "")
	il := NewInterlock(testConfig(), &mockLogger{})

	dec := il.Authorize(buyProposal(1.0), healthyAccount(), 0)

	assert.Equal(t, core.DecisionHold, dec.Kind)
	assert.Contains(t, dec.Reason, "not armed")
}

func TestAuthorize_LowConfidenceHolds(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	dec := il.Authorize(buyProposal(0.5), healthyAccount(), 0)

	assert.Equal(t, core.DecisionHold, dec.Kind)
	assert.Contains(t, dec.Reason, "confidence")
}

func TestAuthorize_PositionCapHolds(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	dec := il.Authorize(buyProposal(0.9), healthyAccount(), 1)

	assert.Equal(t, core.DecisionHold, dec.Kind)
	assert.Contains(t, dec.Reason, "cap")
}

func TestAuthorize_HoldProposalPassesThrough(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	dec := il.Authorize(core.Proposal{Side: core.SideHold, Confidence: 0.9}, healthyAccount(), 0)

	assert.Equal(t, core.DecisionHold, dec.Kind)
}

func TestAuthorize_KillSwitchBeatsExecute(t *testing.T) {
	// Low margin with an open position and a confident BUY: the kill
	// switch must win and force a close.
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	account := core.AccountSnapshot{
		Equity:      decimal.NewFromInt(100000),
		MarginRatio: decimal.NewFromInt(110),
		OpenPositions: []core.Position{
			{ID: "p-1", Pair: "USD_JPY", Side: core.SideBuy, Size: decimal.NewFromInt(10000)},
		},
		Timestamp: time.Now(),
	}

	dec := il.Authorize(buyProposal(0.99), account, 1)

	assert.Equal(t, core.DecisionForceClose, dec.Kind)
	assert.Contains(t, dec.Reason, "margin ratio")
}

func TestAuthorize_KillSwitchNoPositionHolds(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})
	il.TripKillSwitch("operator stop")

	dec := il.Authorize(buyProposal(0.99), healthyAccount(), 0)

	assert.Equal(t, core.DecisionHold, dec.Kind)
	assert.Contains(t, dec.Reason, "kill switch")
}

func TestKillSwitch_CooldownExpires(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	cfg := testConfig()
	cfg.Safety.CooldownSec = 3600
	il := NewInterlock(cfg, &mockLogger{})

	base := time.Now()
	current := base
	il.now = func() time.Time { return current }

	lowMargin := core.AccountSnapshot{
		MarginRatio: decimal.NewFromInt(110),
		OpenPositions: []core.Position{
			{ID: "p-1", Side: core.SideBuy},
		},
	}

	dec := il.Authorize(buyProposal(0.9), lowMargin, 1)
	require.Equal(t, core.DecisionForceClose, dec.Kind)

	// Still latched inside the cooldown even with healthy margin.
	current = base.Add(30 * time.Minute)
	active, _ := il.KillSwitchActive()
	assert.True(t, active)

	dec = il.Authorize(buyProposal(0.9), healthyAccount(), 0)
	assert.Equal(t, core.DecisionHold, dec.Kind)

	// Released after the cooldown window.
	current = base.Add(61 * time.Minute)
	active, _ = il.KillSwitchActive()
	assert.False(t, active)

	dec = il.Authorize(buyProposal(0.9), healthyAccount(), 0)
	assert.Equal(t, core.DecisionExecute, dec.Kind)
}

func TestKillSwitch_ManualTripAndClear(t *testing.T) {
	il := NewInterlock(testConfig(), &mockLogger{})

	il.TripKillSwitch("partial failure on close")
	active, reason := il.KillSwitchActive()
	assert.True(t, active)
	assert.Equal(t, "partial failure on close", reason)

	il.ClearKillSwitch()
	active, _ = il.KillSwitchActive()
	assert.False(t, active)
}

func TestKillSwitch_ZeroMarginRatioIsHealthy(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	// No positions, no margin in use. Must not trip.
	dec := il.Authorize(buyProposal(0.9), core.AccountSnapshot{MarginRatio: decimal.Zero}, 0)
	assert.Equal(t, core.DecisionExecute, dec.Kind)
}

func TestKillSwitch_LowMarginBlocksNewOpen(t *testing.T) {
	t.Setenv(ArmEnvVar, "YES")
	il := NewInterlock(testConfig(), &mockLogger{})

	// The account reports margin in use below the floor even though this
	// process sees no open positions. Opening into it must be refused.
	account := core.AccountSnapshot{MarginRatio: decimal.NewFromInt(50)}
	dec := il.Authorize(buyProposal(0.99), account, 0)

	assert.Equal(t, core.DecisionHold, dec.Kind)
	assert.Contains(t, dec.Reason, "kill switch")
}
