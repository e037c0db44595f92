// Package gmo implements the gateway against the GMO Coin FX REST API.
//
// Reads run through a 1 request/second limiter with retries. Mutating
// calls are dispatched exactly once and every outcome is classified as
// CONFIRMED, REJECTED, or AMBIGUOUS. A transport failure on a mutating
// call is AMBIGUOUS because the exchange may have accepted the order even
// though the response never arrived.
package gmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
	apperrors "swap_trader/pkg/errors"
	"swap_trader/pkg/httpclient"
)

const (
	defaultPublicURL  = "https://forex-api.coin.z.com/public"
	defaultPrivateURL = "https://forex-api.coin.z.com/private"
)

// ArmCheck is re-evaluated immediately before every private POST. A
// coordinator-level check minutes earlier is not good enough; the operator
// may have pulled the arm in between.
type ArmCheck func() bool

// Gateway is the live GMO FX gateway.
type Gateway struct {
	public  *httpclient.Client
	private *httpclient.Client
	logger  core.ILogger
	armed   ArmCheck
}

// NewGateway builds a gateway from config. armed may be nil, in which case
// no pre-dispatch arming guard is applied (mock and test setups).
func NewGateway(cfg *config.Config, armed ArmCheck, logger core.ILogger) *Gateway {
	publicURL := cfg.Broker.PublicBaseURL
	if publicURL == "" {
		publicURL = defaultPublicURL
	}
	privateURL := cfg.Broker.PrivateURL
	if privateURL == "" {
		privateURL = defaultPrivateURL
	}

	timeout := time.Duration(cfg.Broker.TimeoutSec) * time.Second
	sig := newSigner(cfg.Broker.APIKey.Value(), cfg.Broker.APISecret.Value())
	limiter := rate.NewLimiter(rate.Limit(cfg.Broker.ReadRatePerSec), cfg.Broker.ReadBurst)

	return &Gateway{
		public:  httpclient.NewClient(publicURL, timeout, nil, nil),
		private: httpclient.NewClient(privateURL, timeout, sig, limiter),
		logger:  logger.WithField("component", "gmo"),
		armed:   armed,
	}
}

func (g *Gateway) Name() string { return "gmo" }

// apiEnvelope is the common GMO response shape. status 0 is success;
// anything else carries messages.
type apiEnvelope struct {
	Status   int             `json:"status"`
	Data     json.RawMessage `json:"data"`
	Messages []struct {
		Code   string `json:"message_code"`
		String string `json:"message_string"`
	} `json:"messages"`
	ResponseTime string `json:"responsetime"`
}

func decodeEnvelope(body []byte) (*apiEnvelope, error) {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Status != 0 {
		code, msg := "", "unknown error"
		if len(env.Messages) > 0 {
			code = env.Messages[0].Code
			msg = fmt.Sprintf("%s: %s", code, env.Messages[0].String)
		}
		return &env, fmt.Errorf("%w: status=%d %s", sentinelForCode(code), env.Status, msg)
	}
	return &env, nil
}

// sentinelForCode maps exchange error codes onto the shared sentinels so
// callers can branch with errors.Is.
func sentinelForCode(code string) error {
	switch code {
	case "ERR-189", "ERR-200":
		return apperrors.ErrInsufficientFunds
	case "ERR-254":
		return apperrors.ErrOrderNotFound
	case "ERR-5003":
		return apperrors.ErrRateLimitExceeded
	case "ERR-5008", "ERR-5009":
		return apperrors.ErrAuthenticationFailed
	case "ERR-5201", "ERR-5202":
		return apperrors.ErrExchangeMaintenance
	default:
		return apperrors.ErrOrderRejected
	}
}

type tickerEntry struct {
	Symbol    string `json:"symbol"`
	Ask       string `json:"ask"`
	Bid       string `json:"bid"`
	Timestamp string `json:"timestamp"`
}

// GetMarketSnapshot reads the public ticker. Swap points come from config
// overrides upstream; the exchange does not publish them on this endpoint.
func (g *Gateway) GetMarketSnapshot(ctx context.Context, pair string) (*core.MarketSnapshot, error) {
	body, err := g.public.Get(ctx, "/v1/ticker", map[string]string{"symbol": pair})
	if err != nil {
		return nil, fmt.Errorf("ticker: %w", err)
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("ticker: %w", err)
	}

	var entries []tickerEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, fmt.Errorf("ticker data: %w", err)
	}
	for _, e := range entries {
		if e.Symbol != pair {
			continue
		}
		bid, err := decimal.NewFromString(e.Bid)
		if err != nil {
			return nil, fmt.Errorf("ticker bid %q: %w", e.Bid, err)
		}
		ask, err := decimal.NewFromString(e.Ask)
		if err != nil {
			return nil, fmt.Errorf("ticker ask %q: %w", e.Ask, err)
		}
		ts, _ := time.Parse(time.RFC3339, e.Timestamp)
		return &core.MarketSnapshot{
			Pair:      pair,
			Bid:       bid,
			Ask:       ask,
			Timestamp: ts,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s not in ticker response", apperrors.ErrInvalidSymbol, pair)
}

type assetsEntry struct {
	Equity          string `json:"equity"`
	AvailableAmount string `json:"availableAmount"`
	Balance         string `json:"balance"`
	Margin          string `json:"margin"`
	MarginRatio     string `json:"marginRatio"`
}

// GetAccountSnapshot reads private account assets and open positions.
func (g *Gateway) GetAccountSnapshot(ctx context.Context) (*core.AccountSnapshot, error) {
	body, err := g.private.Get(ctx, "/v1/account/assets", nil)
	if err != nil {
		return nil, fmt.Errorf("account assets: %w", err)
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("account assets: %w", err)
	}

	var entries []assetsEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, fmt.Errorf("account assets data: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("account assets: empty response")
	}

	entry := entries[0]
	equity, err := decimal.NewFromString(entry.Equity)
	if err != nil {
		return nil, fmt.Errorf("account equity %q: %w", entry.Equity, err)
	}
	marginRatio := decimal.Zero
	if entry.MarginRatio != "" {
		marginRatio, err = decimal.NewFromString(entry.MarginRatio)
		if err != nil {
			return nil, fmt.Errorf("margin ratio %q: %w", entry.MarginRatio, err)
		}
	}

	return &core.AccountSnapshot{
		ID:          "gmo",
		Equity:      equity,
		MarginRatio: marginRatio,
		Timestamp:   time.Now().UTC(),
	}, nil
}

type positionEntry struct {
	PositionID int64  `json:"positionId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	Timestamp  string `json:"timestamp"`
}

type positionList struct {
	List []positionEntry `json:"list"`
}

// GetOpenPositions reads private open positions for a pair.
func (g *Gateway) GetOpenPositions(ctx context.Context, pair string) ([]core.Position, error) {
	body, err := g.private.Get(ctx, "/v1/openPositions", map[string]string{"symbol": pair})
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}

	var data positionList
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("open positions data: %w", err)
	}

	out := make([]core.Position, 0, len(data.List))
	for _, p := range data.List {
		size, err := decimal.NewFromString(p.Size)
		if err != nil {
			return nil, fmt.Errorf("position size %q: %w", p.Size, err)
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("position price %q: %w", p.Price, err)
		}
		ts, _ := time.Parse(time.RFC3339, p.Timestamp)
		out = append(out, core.Position{
			ID:         fmt.Sprintf("%d", p.PositionID),
			Pair:       p.Symbol,
			Side:       core.Side(p.Side),
			Size:       size,
			EntryPrice: price,
			OpenedAt:   ts,
		})
	}
	return out, nil
}

// PlaceOrder dispatches a market open order exactly once.
func (g *Gateway) PlaceOrder(ctx context.Context, intent core.OrderIntent) core.OrderResult {
	if g.armed != nil && !g.armed() {
		// Never reached the wire, so this is a clean rejection.
		g.logger.Warn("Disarmed at dispatch, refusing order", "key", intent.IdempotencyKey)
		return core.OrderResult{Status: core.StatusRejected, Err: "disarmed before dispatch"}
	}

	payload := map[string]interface{}{
		"symbol":        intent.Pair,
		"side":          string(intent.Side),
		"size":          intent.Size.String(),
		"executionType": "MARKET",
		"clientOrderId": intent.IdempotencyKey,
	}

	body, err := g.private.PostOnce(ctx, "/v1/order", payload)
	if err != nil {
		return g.classifyPostError("order", intent, err)
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		if env == nil {
			// Unparseable body. The exchange may still have filled the order.
			return core.OrderResult{Status: core.StatusAmbiguous, Err: err.Error()}
		}
		// The exchange answered and said no. Nothing was opened.
		return core.OrderResult{Status: core.StatusRejected, Err: err.Error()}
	}

	var orderIDs []json.Number
	if err := json.Unmarshal(env.Data, &orderIDs); err != nil || len(orderIDs) == 0 {
		// A success envelope without an order id cannot be trusted either way.
		return core.OrderResult{
			Status: core.StatusAmbiguous,
			Err:    fmt.Sprintf("accepted response without order id: %s", string(env.Data)),
		}
	}

	result := core.OrderResult{
		Status:          core.StatusConfirmed,
		ExchangeOrderID: orderIDs[0].String(),
	}

	// Best-effort resolution of the resulting position id for later close
	// targeting. A failure here does not change the confirmed outcome;
	// reconciliation can fill it in.
	if pos, err := g.resolvePosition(ctx, intent); err != nil {
		g.logger.Warn("Could not resolve position after open", "error", err.Error())
	} else if pos != nil {
		result.PositionID = pos.ID
		result.FillPrice = pos.EntryPrice
	}

	return result
}

// ClosePosition dispatches a close order against a specific position
// exactly once.
func (g *Gateway) ClosePosition(ctx context.Context, intent core.OrderIntent) core.OrderResult {
	if g.armed != nil && !g.armed() {
		g.logger.Warn("Disarmed at dispatch, refusing close", "key", intent.IdempotencyKey)
		return core.OrderResult{Status: core.StatusRejected, Err: "disarmed before dispatch"}
	}

	// Position ids are numeric on the wire.
	var positionID interface{} = intent.PositionID
	if n, err := strconv.ParseInt(intent.PositionID, 10, 64); err == nil {
		positionID = n
	}

	payload := map[string]interface{}{
		"symbol":        intent.Pair,
		"side":          string(intent.Side),
		"executionType": "MARKET",
		"clientOrderId": intent.IdempotencyKey,
		"settlePosition": []map[string]interface{}{
			{"positionId": positionID, "size": intent.Size.String()},
		},
	}

	body, err := g.private.PostOnce(ctx, "/v1/closeOrder", payload)
	if err != nil {
		return g.classifyPostError("closeOrder", intent, err)
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		if env == nil {
			return core.OrderResult{Status: core.StatusAmbiguous, Err: err.Error()}
		}
		return core.OrderResult{Status: core.StatusRejected, Err: err.Error()}
	}

	var orderIDs []json.Number
	if err := json.Unmarshal(env.Data, &orderIDs); err != nil || len(orderIDs) == 0 {
		return core.OrderResult{
			Status: core.StatusAmbiguous,
			Err:    fmt.Sprintf("accepted response without order id: %s", string(env.Data)),
		}
	}

	return core.OrderResult{
		Status:          core.StatusConfirmed,
		ExchangeOrderID: orderIDs[0].String(),
		PositionID:      intent.PositionID,
	}
}

// classifyPostError maps a mutating-call failure onto the three-way result.
// A 4xx means the exchange processed and refused the request. A 5xx comes
// from a gateway or the exchange falling over mid-request, so the order may
// still have been accepted. Anything at the transport layer, timeouts
// included, leaves the true outcome unknown.
func (g *Gateway) classifyPostError(endpoint string, intent core.OrderIntent, err error) core.OrderResult {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		g.logger.Warn("Mutating call rejected",
			"endpoint", endpoint,
			"key", intent.IdempotencyKey,
			"status", apiErr.StatusCode)
		return core.OrderResult{Status: core.StatusRejected, Err: apiErr.Error()}
	}

	g.logger.Error("Mutating call outcome unknown",
		"endpoint", endpoint,
		"key", intent.IdempotencyKey,
		"error", err.Error())
	return core.OrderResult{Status: core.StatusAmbiguous, Err: err.Error()}
}

// resolvePosition finds the position opened by intent, assuming the single
// position discipline upstream holds.
func (g *Gateway) resolvePosition(ctx context.Context, intent core.OrderIntent) (*core.Position, error) {
	positions, err := g.GetOpenPositions(ctx, intent.Pair)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Side == intent.Side {
			return &positions[i], nil
		}
	}
	return nil, nil
}
