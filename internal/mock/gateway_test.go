package mock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap_trader/internal/core"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})          {}
func (m *mockLogger) Info(msg string, fields ...interface{})           {}
func (m *mockLogger) Warn(msg string, fields ...interface{})           {}
func (m *mockLogger) Error(msg string, fields ...interface{})          {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})          {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func newTestGateway() *Gateway {
	return NewGateway("147.20", "0.004", &mockLogger{})
}

func openIntent(key string) core.OrderIntent {
	return core.OrderIntent{
		IdempotencyKey: key,
		Action:         core.ActionOpen,
		Pair:           "USD_JPY",
		Side:           core.SideBuy,
		Size:           decimal.NewFromInt(10000),
	}
}

func TestGateway_QuoteStraddlesMid(t *testing.T) {
	g := newTestGateway()

	snap, err := g.GetMarketSnapshot(context.Background(), "USD_JPY")
	require.NoError(t, err)

	assert.True(t, snap.Bid.LessThan(snap.Ask))
	assert.True(t, snap.Ask.Sub(snap.Bid).Equal(decimal.RequireFromString("0.004")))
}

func TestGateway_OpenThenCloseLifecycle(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res := g.PlaceOrder(ctx, openIntent("O-1"))
	require.Equal(t, core.StatusConfirmed, res.Status)
	require.NotEmpty(t, res.PositionID)

	positions, err := g.GetOpenPositions(ctx, "USD_JPY")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, res.PositionID, positions[0].ID)

	closeRes := g.ClosePosition(ctx, core.OrderIntent{
		IdempotencyKey: "C-1",
		Action:         core.ActionClose,
		Pair:           "USD_JPY",
		Side:           core.SideSell,
		Size:           decimal.NewFromInt(10000),
		PositionID:     res.PositionID,
	})
	require.Equal(t, core.StatusConfirmed, closeRes.Status)

	positions, err = g.GetOpenPositions(ctx, "USD_JPY")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestGateway_DuplicateKeyReturnsOriginalResult(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	first := g.PlaceOrder(ctx, openIntent("O-dup"))
	second := g.PlaceOrder(ctx, openIntent("O-dup"))

	assert.Equal(t, first.PositionID, second.PositionID)
	assert.Equal(t, first.ExchangeOrderID, second.ExchangeOrderID)

	// The duplicate did not open a second position.
	positions, err := g.GetOpenPositions(ctx, "USD_JPY")
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestGateway_ScriptedOutcomes(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	g.ScriptPlaceResult(core.OrderResult{Status: core.StatusAmbiguous, Err: "timeout"})
	res := g.PlaceOrder(ctx, openIntent("O-amb"))
	assert.Equal(t, core.StatusAmbiguous, res.Status)

	// Script consumed; next call behaves normally.
	res = g.PlaceOrder(ctx, openIntent("O-ok"))
	assert.Equal(t, core.StatusConfirmed, res.Status)
}

func TestGateway_CloseUnknownPositionRejected(t *testing.T) {
	g := newTestGateway()

	res := g.ClosePosition(context.Background(), core.OrderIntent{
		IdempotencyKey: "C-missing",
		Action:         core.ActionClose,
		PositionID:     "no-such",
	})

	assert.Equal(t, core.StatusRejected, res.Status)
	assert.Contains(t, res.Err, "not found")
}

func TestGateway_SeenKeyTracking(t *testing.T) {
	g := newTestGateway()

	assert.False(t, g.SeenKey("O-1"))
	g.PlaceOrder(context.Background(), openIntent("O-1"))
	assert.True(t, g.SeenKey("O-1"))
}

func TestGateway_MarginRatioZeroWithoutPositions(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	acct, err := g.GetAccountSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, acct.MarginRatio.IsZero())

	g.PlaceOrder(ctx, openIntent("O-1"))
	acct, err = g.GetAccountSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, acct.MarginRatio.IsZero())
}
