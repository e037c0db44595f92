package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
	"swap_trader/internal/safety"
)

type stubGateway struct {
	market    *core.MarketSnapshot
	marketErr error
	account   *core.AccountSnapshot
	positions []core.Position
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) GetMarketSnapshot(ctx context.Context, pair string) (*core.MarketSnapshot, error) {
	if g.marketErr != nil {
		return nil, g.marketErr
	}
	return g.market, nil
}

func (g *stubGateway) GetAccountSnapshot(ctx context.Context) (*core.AccountSnapshot, error) {
	cp := *g.account
	return &cp, nil
}

func (g *stubGateway) GetOpenPositions(ctx context.Context, pair string) ([]core.Position, error) {
	return g.positions, nil
}

func (g *stubGateway) PlaceOrder(ctx context.Context, intent core.OrderIntent) core.OrderResult {
	return core.OrderResult{Status: core.StatusRejected, Err: "not implemented"}
}

func (g *stubGateway) ClosePosition(ctx context.Context, intent core.OrderIntent) core.OrderResult {
	return core.OrderResult{Status: core.StatusRejected, Err: "not implemented"}
}

type stubOracle struct {
	proposal *core.Proposal
	err      error
	calls    int
}

func (o *stubOracle) Propose(ctx context.Context, req core.OracleRequest) (*core.Proposal, error) {
	o.calls++
	return o.proposal, o.err
}

func engineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Pair = "USD_JPY"
	cfg.Safety.EnableLiveTrading = true
	cfg.Safety.KillSwitchMarginPct = 120
	cfg.Safety.CooldownSec = 3600
	cfg.Safety.MinConfidence = 0.6
	cfg.Safety.MaxOpenPositions = 1
	return cfg
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		market: &core.MarketSnapshot{
			Pair:      "USD_JPY",
			Bid:       decimal.RequireFromString("147.201"),
			Ask:       decimal.RequireFromString("147.205"),
			Timestamp: time.Now(),
		},
		account: &core.AccountSnapshot{
			Equity:      decimal.NewFromInt(500000),
			MarginRatio: decimal.NewFromInt(800),
		},
	}
}

func newTestEngine(cfg *config.Config, gw core.IGateway, o core.IOracle) *Engine {
	il := safety.NewInterlock(cfg, &mockLogger{})
	return NewEngine(cfg, gw, o, nil, il, nil, &mockLogger{})
}

func TestRunCycle_ExecutesConfidentProposal(t *testing.T) {
	t.Setenv(safety.ArmEnvVar, "YES")
	oracle := &stubOracle{proposal: &core.Proposal{
		Side:       core.SideBuy,
		Confidence: 0.85,
		Rationale:  "carry positive",
	}}
	e := newTestEngine(engineConfig(), newStubGateway(), oracle)

	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.DecisionExecute, result.Decision.Kind)
	assert.Equal(t, core.SideBuy, result.Decision.Side)
	assert.True(t, result.Lock.Armed())
	assert.NotEmpty(t, result.SnapshotID)
}

func TestRunCycle_OracleFailureDegradesToHold(t *testing.T) {
	t.Setenv(safety.ArmEnvVar, "YES")
	oracle := &stubOracle{err: errors.New("timeout")}
	e := newTestEngine(engineConfig(), newStubGateway(), oracle)

	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.DecisionHold, result.Decision.Kind)
	assert.Equal(t, core.SideHold, result.Proposal.Side)
}

func TestRunCycle_NoOracleAlwaysHolds(t *testing.T) {
	t.Setenv(safety.ArmEnvVar, "YES")
	e := newTestEngine(engineConfig(), newStubGateway(), nil)

	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.DecisionHold, result.Decision.Kind)
}

func TestRunCycle_MarketReadFailureAborts(t *testing.T) {
	gw := newStubGateway()
	gw.marketErr = errors.New("network down")
	e := newTestEngine(engineConfig(), gw, nil)

	_, err := e.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestRunCycle_OracleThrottled(t *testing.T) {
	t.Setenv(safety.ArmEnvVar, "YES")
	cfg := engineConfig()
	cfg.Oracle.MinInterval = "1h"
	oracle := &stubOracle{proposal: &core.Proposal{
		Side: core.SideBuy, Confidence: 0.9, Rationale: "carry",
	}}
	e := newTestEngine(cfg, newStubGateway(), oracle)

	base := time.Now()
	current := base
	e.now = func() time.Time { return current }

	// First cycle consults the oracle.
	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, oracle.calls)

	// Within the interval the oracle is not called and the cycle holds.
	current = base.Add(10 * time.Minute)
	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, core.DecisionHold, result.Decision.Kind)

	// After the interval the oracle is consulted again.
	current = base.Add(61 * time.Minute)
	_, err = e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, oracle.calls)
}

func TestRunCycle_AppliesSwapOverrides(t *testing.T) {
	cfg := engineConfig()
	cfg.Swap.UpdatedAt = time.Now().Format("2006-01-02")
	cfg.Swap.Overrides = map[string]config.SwapPoints{
		"USD_JPY": {Long: 180, Short: -210},
	}
	e := newTestEngine(cfg, newStubGateway(), nil)

	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Market.SwapLongPerDay.Equal(decimal.NewFromInt(180)))
	assert.True(t, result.Market.SwapShortPerDay.Equal(decimal.NewFromInt(-210)))
}

type recordingNotifier struct {
	titles []string
}

func (r *recordingNotifier) Notify(level, title, message string) {
	r.titles = append(r.titles, title)
}

func TestRunCycle_CriticallyStaleSwapNotifiesOnce(t *testing.T) {
	cfg := engineConfig()
	cfg.Swap.UpdatedAt = time.Now().Add(-20 * 24 * time.Hour).Format("2006-01-02")
	cfg.Swap.Overrides = map[string]config.SwapPoints{
		"USD_JPY": {Long: 180, Short: -210},
	}
	notifier := &recordingNotifier{}
	gw := newStubGateway()
	il := safety.NewInterlock(cfg, &mockLogger{})
	e := NewEngine(cfg, gw, nil, nil, il, notifier, &mockLogger{})

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, notifier.titles, 1)
}

func TestRunCycle_KillSwitchForcesClose(t *testing.T) {
	t.Setenv(safety.ArmEnvVar, "YES")
	gw := newStubGateway()
	gw.account.MarginRatio = decimal.NewFromInt(100)
	gw.positions = []core.Position{
		{ID: "p-1", Pair: "USD_JPY", Side: core.SideBuy, Size: decimal.NewFromInt(10000)},
	}
	e := newTestEngine(engineConfig(), gw, nil)

	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.DecisionForceClose, result.Decision.Kind)
}
