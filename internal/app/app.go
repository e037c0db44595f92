// Package app wires the components together and runs the trading loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"swap_trader/internal/alert"
	"swap_trader/internal/audit"
	"swap_trader/internal/config"
	"swap_trader/internal/core"
	"swap_trader/internal/exchange"
	"swap_trader/internal/execution"
	"swap_trader/internal/metrics"
	"swap_trader/internal/news"
	"swap_trader/internal/oracle"
	"swap_trader/internal/safety"
	"swap_trader/internal/store"
	"swap_trader/internal/strategy"
	"swap_trader/pkg/liveserver"
)

// App owns the assembled components and their lifecycles.
type App struct {
	cfg    *config.Config
	logger core.ILogger

	interlock   *safety.Interlock
	coordinator *execution.Coordinator
	engine      *strategy.Engine
	alerts      *alert.Manager
	auditLog    core.IAuditLog
	stateStore  core.IStateStore
	hub         *liveserver.Hub
}

// New assembles the application from config.
func New(cfg *config.Config, logger core.ILogger) (*App, error) {
	auditLog, err := audit.NewSQLiteLog(cfg.Storage.AuditDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	stateStore, err := store.NewSQLiteStore(cfg.Storage.StateDBPath, logger)
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("state store: %w", err)
	}

	interlock := safety.NewInterlock(cfg, logger)

	gateway, err := exchange.NewGateway(cfg, func() bool {
		return interlock.LockState().Armed()
	}, logger)
	if err != nil {
		auditLog.Close()
		stateStore.Close()
		return nil, err
	}

	var channels []alert.Channel
	if cfg.Alerts.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL))
	}
	if cfg.Alerts.DiscordWebhookURL != "" {
		channels = append(channels, alert.NewDiscordChannel(cfg.Alerts.DiscordWebhookURL))
	}
	alerts := alert.NewManager(channels, logger)

	coordinator := execution.NewCoordinator(
		gateway, auditLog, stateStore,
		cfg.App.Pair, decimal.NewFromFloat(cfg.Safety.OrderSize),
		alerts, logger)

	var oracleClient core.IOracle
	if cfg.Oracle.Provider != "" {
		oracleClient = oracle.NewClient(cfg.Oracle, logger)
	}

	var newsClient core.INewsClient
	switch cfg.News.Provider {
	case "tavily":
		newsClient = news.NewTavilyClient(cfg.News, logger)
	case "mock":
		newsClient = &news.StaticClient{Digest: "- no notable headlines"}
	}

	engine := strategy.NewEngine(cfg, gateway, oracleClient, newsClient, interlock, alerts, logger)

	return &App{
		cfg:         cfg,
		logger:      logger.WithField("component", "app"),
		interlock:   interlock,
		coordinator: coordinator,
		engine:      engine,
		alerts:      alerts,
		auditLog:    auditLog,
		stateStore:  stateStore,
		hub:         liveserver.NewHub(logger),
	}, nil
}

// Run starts every long-lived component and blocks until shutdown.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer a.alerts.Close()
	defer a.auditLog.Close()
	defer a.stateStore.Close()

	if a.interlock.LockState().Armed() && a.cfg.App.BrokerType != "mock" {
		a.logger.Warn("LIVE TRADING ARMED: real orders will be placed",
			"pair", a.cfg.App.Pair,
			"broker", a.cfg.App.BrokerType)
	}

	if err := a.coordinator.Restore(ctx); err != nil {
		return err
	}
	if a.cfg.Safety.ReconcileOnStart && a.coordinator.State() == core.StateHalted {
		a.logger.Info("Reconciling on start")
		if err := a.coordinator.Reconcile(ctx); err != nil {
			a.logger.Error("Startup reconciliation failed, staying halted", "error", err.Error())
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	var metricsServer *metrics.Server
	if a.cfg.Telemetry.EnableMetrics {
		metricsServer = metrics.NewServer(a.cfg.Telemetry.MetricsPort, a.logger)
		g.Go(metricsServer.Start)
	}

	var liveServer *liveserver.Server
	if a.cfg.Telemetry.LivePort > 0 {
		liveServer = liveserver.NewServer(a.hub, a.cfg.Telemetry.LivePort, a.cfg.Telemetry.LiveOrigins, a.logger)
		g.Go(liveServer.Start)
	}
	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return a.loop(ctx)
	})

	// Shut the servers down when the group context ends.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		if liveServer != nil {
			liveServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("Shutdown complete")
	return err
}

// loop drives decision cycles at the configured interval.
func (a *App) loop(ctx context.Context) error {
	interval := time.Duration(a.cfg.Timing.CycleIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("Trading loop started",
		"pair", a.cfg.App.Pair,
		"interval", interval.String(),
		"state", string(a.coordinator.State()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *App) runOnce(ctx context.Context) {
	result, err := a.engine.RunCycle(ctx)
	if err != nil {
		// Read failures skip the cycle; the world is re-read next tick.
		a.logger.Warn("Cycle aborted", "error", err.Error())
		return
	}

	a.hub.Broadcast(liveserver.NewEnvelope(liveserver.EventDecision, liveserver.DecisionEvent{
		SnapshotID: result.SnapshotID,
		Proposal:   string(result.Proposal.Side),
		Confidence: result.Proposal.Confidence,
		Decision:   string(result.Decision.Kind),
		Reason:     result.Decision.Reason,
		Armed:      result.Lock.Armed(),
	}))

	before := a.coordinator.State()
	if err := a.coordinator.Apply(ctx, result.Decision, result.Lock, result.SnapshotID); err != nil {
		a.logger.Error("Decision application failed", "error", err.Error())
	}

	after := a.coordinator.State()
	if after != before {
		event := liveserver.TransitionEvent{State: string(after), HaltReason: a.coordinator.HaltReason()}
		if pos := a.coordinator.OpenPosition(); pos != nil {
			event.PositionID = pos.ID
		}
		eventType := liveserver.EventTransition
		if after == core.StateHalted {
			eventType = liveserver.EventHalted
		}
		a.hub.Broadcast(liveserver.NewEnvelope(eventType, event))
	}
}
