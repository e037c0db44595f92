// Package mock provides an in-process gateway for dry runs and tests. It
// honors the same classification contract as the live gateway and tracks
// idempotency keys so duplicate dispatches are detectable.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swap_trader/internal/core"
)

// Gateway simulates an FX broker. Prices drift deterministically around a
// mid; orders fill at the touch. Scripted outcomes let tests exercise the
// REJECTED and AMBIGUOUS paths.
type Gateway struct {
	logger core.ILogger

	mu        sync.Mutex
	mid       decimal.Decimal
	spread    decimal.Decimal
	equity    decimal.Decimal
	positions map[string]core.Position
	// seenKeys maps every dispatched idempotency key to its result so a
	// duplicate dispatch returns the original outcome instead of acting
	// twice. The live coordinator never reuses keys; this guards tests.
	seenKeys map[string]core.OrderResult

	nextPlace *core.OrderResult
	nextClose *core.OrderResult
}

// NewGateway creates a mock gateway quoting around mid with the given
// spread.
func NewGateway(mid, spread string, logger core.ILogger) *Gateway {
	return &Gateway{
		logger:    logger.WithField("component", "mock_gateway"),
		mid:       decimal.RequireFromString(mid),
		spread:    decimal.RequireFromString(spread),
		equity:    decimal.NewFromInt(1000000),
		positions: make(map[string]core.Position),
		seenKeys:  make(map[string]core.OrderResult),
	}
}

func (g *Gateway) Name() string { return "mock" }

// ScriptPlaceResult forces the next PlaceOrder outcome.
func (g *Gateway) ScriptPlaceResult(r core.OrderResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextPlace = &r
}

// ScriptCloseResult forces the next ClosePosition outcome.
func (g *Gateway) ScriptCloseResult(r core.OrderResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextClose = &r
}

// SeenKey reports whether an idempotency key was ever dispatched here.
func (g *Gateway) SeenKey(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seenKeys[key]
	return ok
}

func (g *Gateway) GetMarketSnapshot(ctx context.Context, pair string) (*core.MarketSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	half := g.spread.Div(decimal.NewFromInt(2))
	return &core.MarketSnapshot{
		Pair:            pair,
		Bid:             g.mid.Sub(half),
		Ask:             g.mid.Add(half),
		SwapLongPerDay:  decimal.NewFromInt(180),
		SwapShortPerDay: decimal.NewFromInt(-210),
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (g *Gateway) GetAccountSnapshot(ctx context.Context) (*core.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	positions := make([]core.Position, 0, len(g.positions))
	for _, p := range g.positions {
		positions = append(positions, p)
	}

	marginRatio := decimal.Zero
	if len(positions) > 0 {
		marginRatio = decimal.NewFromInt(800)
	}

	return &core.AccountSnapshot{
		ID:            "mock-account",
		Equity:        g.equity,
		MarginRatio:   marginRatio,
		OpenPositions: positions,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (g *Gateway) GetOpenPositions(ctx context.Context, pair string) ([]core.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []core.Position
	for _, p := range g.positions {
		if p.Pair == pair {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, intent core.OrderIntent) core.OrderResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prior, ok := g.seenKeys[intent.IdempotencyKey]; ok {
		g.logger.Warn("Duplicate idempotency key on place", "key", intent.IdempotencyKey)
		return prior
	}

	if g.nextPlace != nil {
		result := *g.nextPlace
		g.nextPlace = nil
		g.seenKeys[intent.IdempotencyKey] = result
		return result
	}

	half := g.spread.Div(decimal.NewFromInt(2))
	fill := g.mid.Add(half)
	if intent.Side == core.SideSell {
		fill = g.mid.Sub(half)
	}

	posID := "mock-pos-" + uuid.NewString()[:8]
	g.positions[posID] = core.Position{
		ID:         posID,
		Pair:       intent.Pair,
		Side:       intent.Side,
		Size:       intent.Size,
		EntryPrice: fill,
		OpenedAt:   time.Now().UTC(),
	}

	result := core.OrderResult{
		Status:          core.StatusConfirmed,
		ExchangeOrderID: "mock-ord-" + uuid.NewString()[:8],
		PositionID:      posID,
		FillPrice:       fill,
	}
	g.seenKeys[intent.IdempotencyKey] = result
	return result
}

func (g *Gateway) ClosePosition(ctx context.Context, intent core.OrderIntent) core.OrderResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prior, ok := g.seenKeys[intent.IdempotencyKey]; ok {
		g.logger.Warn("Duplicate idempotency key on close", "key", intent.IdempotencyKey)
		return prior
	}

	if g.nextClose != nil {
		result := *g.nextClose
		g.nextClose = nil
		g.seenKeys[intent.IdempotencyKey] = result
		return result
	}

	if _, ok := g.positions[intent.PositionID]; !ok {
		result := core.OrderResult{
			Status: core.StatusRejected,
			Err:    fmt.Sprintf("position %s not found", intent.PositionID),
		}
		g.seenKeys[intent.IdempotencyKey] = result
		return result
	}
	delete(g.positions, intent.PositionID)

	half := g.spread.Div(decimal.NewFromInt(2))
	fill := g.mid.Sub(half)
	if intent.Side == core.SideBuy {
		fill = g.mid.Add(half)
	}

	result := core.OrderResult{
		Status:          core.StatusConfirmed,
		ExchangeOrderID: "mock-ord-" + uuid.NewString()[:8],
		PositionID:      intent.PositionID,
		FillPrice:       fill,
	}
	g.seenKeys[intent.IdempotencyKey] = result
	return result
}
