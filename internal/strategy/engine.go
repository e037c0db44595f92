package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
	"swap_trader/internal/safety"
	apperrors "swap_trader/pkg/errors"
	"swap_trader/pkg/retry"
)

const (
	swapStaleWarn     = 7 * 24 * time.Hour
	swapStaleCritical = 14 * 24 * time.Hour
)

// Notifier receives best-effort operational notifications.
type Notifier interface {
	Notify(level string, title string, message string)
}

// CycleResult is everything one decision cycle produced, ready for the
// execution coordinator.
type CycleResult struct {
	SnapshotID string
	Market     *core.MarketSnapshot
	Account    *core.AccountSnapshot
	Proposal   core.Proposal
	Decision   core.Decision
	Lock       core.LockState
}

// Engine runs the decision cycle: snapshot the world, consult the oracle,
// gate the answer, and let the interlock decide.
type Engine struct {
	cfg       *config.Config
	gateway   core.IGateway
	oracle    core.IOracle
	news      core.INewsClient
	gate      *Gate
	interlock *safety.Interlock
	notifier  Notifier
	logger    core.ILogger

	mu             sync.Mutex
	lastOracleCall time.Time
	staleWarned    bool
	now            func() time.Time
}

// NewEngine creates an engine. oracle and news may be nil; every cycle
// then degrades to hold, which keeps the safety path fully exercised.
func NewEngine(cfg *config.Config, gateway core.IGateway, oracleClient core.IOracle,
	newsClient core.INewsClient, interlock *safety.Interlock, notifier Notifier, logger core.ILogger) *Engine {
	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		oracle:    oracleClient,
		news:      newsClient,
		gate:      NewGate(logger),
		interlock: interlock,
		notifier:  notifier,
		logger:    logger.WithField("component", "engine"),
		now:       time.Now,
	}
}

// RunCycle executes one full decision cycle. Read failures abort the cycle
// with an error; oracle failures degrade to hold inside the cycle.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	snapshotID := uuid.NewString()

	var market *core.MarketSnapshot
	if err := e.readWithRetry(ctx, "market", func() error {
		var err error
		market, err = e.gateway.GetMarketSnapshot(ctx, e.cfg.App.Pair)
		return err
	}); err != nil {
		return nil, err
	}
	e.applySwapOverrides(market)

	var account *core.AccountSnapshot
	if err := e.readWithRetry(ctx, "account", func() error {
		var err error
		account, err = e.gateway.GetAccountSnapshot(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	var positions []core.Position
	if err := e.readWithRetry(ctx, "positions", func() error {
		var err error
		positions, err = e.gateway.GetOpenPositions(ctx, e.cfg.App.Pair)
		return err
	}); err != nil {
		return nil, err
	}
	account.OpenPositions = positions

	proposal := e.consultOracle(ctx, market, account, snapshotID)
	lock := e.interlock.LockState()
	decision := e.interlock.Authorize(proposal, *account, len(positions))

	e.logger.Info("Cycle decided",
		"snapshot_id", snapshotID,
		"proposal", string(proposal.Side),
		"confidence", proposal.Confidence,
		"decision", string(decision.Kind),
		"reason", decision.Reason)

	return &CycleResult{
		SnapshotID: snapshotID,
		Market:     market,
		Account:    account,
		Proposal:   proposal,
		Decision:   decision,
		Lock:       lock,
	}, nil
}

// readWithRetry wraps a gateway read in the bounded retry policy. Reads
// are idempotent so a transient failure is worth another attempt inside
// the same cycle.
func (e *Engine) readWithRetry(ctx context.Context, name string, fn func() error) error {
	return retry.Do(ctx, retry.DefaultPolicy,
		func(err error) bool {
			return !errors.Is(err, apperrors.ErrAuthenticationFailed) &&
				!errors.Is(err, apperrors.ErrInvalidSymbol)
		},
		func(attempt int, err error) {
			e.logger.Warn("Retrying gateway read",
				"read", name,
				"attempt", attempt,
				"error", err.Error())
		},
		fn)
}

// consultOracle asks the oracle at most once per configured interval and
// folds every failure path into a gated hold.
func (e *Engine) consultOracle(ctx context.Context, market *core.MarketSnapshot,
	account *core.AccountSnapshot, snapshotID string) core.Proposal {
	if e.oracle == nil {
		return e.gate.Sanitize(nil, snapshotID)
	}

	e.mu.Lock()
	interval := e.cfg.OracleMinInterval()
	throttled := interval > 0 && !e.lastOracleCall.IsZero() && e.now().Sub(e.lastOracleCall) < interval
	if !throttled {
		e.lastOracleCall = e.now()
	}
	e.mu.Unlock()

	if throttled {
		return e.gate.hold("oracle throttled until next interval", snapshotID)
	}

	digest := ""
	if e.news != nil {
		d, err := e.news.FetchDigest(ctx, e.cfg.App.Pair)
		if err != nil {
			e.logger.Warn("News digest unavailable", "error", err.Error())
		} else {
			digest = d
		}
	}

	proposal, err := e.oracle.Propose(ctx, core.OracleRequest{
		Market:     market,
		Account:    account,
		NewsDigest: digest,
	})
	return e.gate.Sanitize(&ProposalResult{Proposal: proposal, Err: err}, snapshotID)
}

// applySwapOverrides stamps the manually maintained swap points onto the
// snapshot and nags when they go stale.
func (e *Engine) applySwapOverrides(market *core.MarketSnapshot) {
	override, ok := e.cfg.Swap.Overrides[market.Pair]
	if !ok {
		return
	}
	market.SwapLongPerDay = decimal.NewFromFloat(override.Long)
	market.SwapShortPerDay = decimal.NewFromFloat(override.Short)

	age, err := e.cfg.SwapFreshness(e.now())
	if err != nil {
		e.logger.Warn("Swap freshness unknown", "error", err.Error())
		return
	}

	switch {
	case age > swapStaleCritical:
		e.logger.Error("Swap settings critically stale", "age_days", int(age.Hours()/24))
		e.warnStaleOnce("Swap settings critically stale",
			"manual swap points were last updated "+e.cfg.Swap.UpdatedAt)
	case age > swapStaleWarn:
		e.logger.Warn("Swap settings stale", "age_days", int(age.Hours()/24))
	}
}

func (e *Engine) warnStaleOnce(title, message string) {
	e.mu.Lock()
	warned := e.staleWarned
	e.staleWarned = true
	e.mu.Unlock()
	if !warned && e.notifier != nil {
		e.notifier.Notify("warn", title, message)
	}
}
