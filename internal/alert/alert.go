// Package alert delivers best-effort operational notifications. Delivery
// runs on a worker pool so a slow webhook never blocks the trading loop,
// and a failed delivery is logged and dropped.
package alert

import (
	"context"
	"time"

	"swap_trader/internal/core"
	"swap_trader/pkg/concurrency"
)

// Alert levels in increasing severity.
const (
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelCritical = "critical"
)

// Alert is one notification.
type Alert struct {
	Level     string
	Title     string
	Message   string
	Timestamp time.Time
}

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

const sendTimeout = 10 * time.Second

// Manager fans alerts out to all configured channels asynchronously.
type Manager struct {
	channels []Channel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
}

// NewManager creates an alert manager over the given channels.
func NewManager(channels []Channel, logger core.ILogger) *Manager {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  2,
		MaxCapacity: 64,
		NonBlocking: true,
	}, logger)

	return &Manager{
		channels: channels,
		pool:     pool,
		logger:   logger.WithField("component", "alert"),
	}
}

// Notify dispatches an alert to every channel. It returns immediately.
func (m *Manager) Notify(level, title, message string) {
	alert := Alert{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	for _, ch := range m.channels {
		ch := ch
		err := m.pool.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := ch.Send(ctx, alert); err != nil {
				m.logger.Warn("Alert delivery failed",
					"channel", ch.Name(),
					"title", alert.Title,
					"error", err.Error())
			}
		})
		if err != nil {
			m.logger.Warn("Alert queue full, dropping",
				"channel", ch.Name(),
				"title", alert.Title)
		}
	}
}

// Close drains in-flight deliveries.
func (m *Manager) Close() {
	m.pool.Stop()
}
