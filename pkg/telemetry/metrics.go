package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricDecisionsTotal     = "swap_trader_decisions_total"
	MetricOrdersOpenedTotal  = "swap_trader_orders_opened_total"
	MetricOrdersClosedTotal  = "swap_trader_orders_closed_total"
	MetricAmbiguousTotal     = "swap_trader_ambiguous_outcomes_total"
	MetricKillSwitchTrips    = "swap_trader_kill_switch_trips_total"
	MetricCoordinatorHalted  = "swap_trader_coordinator_halted"
	MetricCoordinatorArmed   = "swap_trader_armed"
	MetricGatewayCallLatency = "swap_trader_gateway_call_duration_ms"
	MetricReadRetriesTotal   = "swap_trader_read_retries_total"
	MetricOracleCallsTotal   = "swap_trader_oracle_calls_total"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	DecisionsTotal     metric.Int64Counter
	OrdersOpenedTotal  metric.Int64Counter
	OrdersClosedTotal  metric.Int64Counter
	AmbiguousTotal     metric.Int64Counter
	KillSwitchTrips    metric.Int64Counter
	CoordinatorHalted  metric.Int64ObservableGauge
	Armed              metric.Int64ObservableGauge
	GatewayCallLatency metric.Float64Histogram
	ReadRetriesTotal   metric.Int64Counter
	OracleCallsTotal   metric.Int64Counter

	// State for observable gauges
	mu        sync.RWMutex
	haltedVal int64
	armedVal  int64

	initialized bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal,
		metric.WithDescription("Authorization decisions by kind"))
	if err != nil {
		return err
	}

	m.OrdersOpenedTotal, err = meter.Int64Counter(MetricOrdersOpenedTotal,
		metric.WithDescription("Confirmed position opens"))
	if err != nil {
		return err
	}

	m.OrdersClosedTotal, err = meter.Int64Counter(MetricOrdersClosedTotal,
		metric.WithDescription("Confirmed position closes"))
	if err != nil {
		return err
	}

	m.AmbiguousTotal, err = meter.Int64Counter(MetricAmbiguousTotal,
		metric.WithDescription("Mutating calls with ambiguous outcomes"))
	if err != nil {
		return err
	}

	m.KillSwitchTrips, err = meter.Int64Counter(MetricKillSwitchTrips,
		metric.WithDescription("Kill switch activations"))
	if err != nil {
		return err
	}

	m.GatewayCallLatency, err = meter.Float64Histogram(MetricGatewayCallLatency,
		metric.WithDescription("Latency of gateway API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.ReadRetriesTotal, err = meter.Int64Counter(MetricReadRetriesTotal,
		metric.WithDescription("Retries of idempotent read calls"))
	if err != nil {
		return err
	}

	m.OracleCallsTotal, err = meter.Int64Counter(MetricOracleCallsTotal,
		metric.WithDescription("AI oracle calls by outcome"))
	if err != nil {
		return err
	}

	m.CoordinatorHalted, err = meter.Int64ObservableGauge(MetricCoordinatorHalted,
		metric.WithDescription("1 when the coordinator is HALTED"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.haltedVal)
			return nil
		}))
	if err != nil {
		return err
	}

	m.Armed, err = meter.Int64ObservableGauge(MetricCoordinatorArmed,
		metric.WithDescription("1 when both arming stages agree"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.armedVal)
			return nil
		}))
	if err != nil {
		return err
	}

	m.initialized = true
	return nil
}

func (m *MetricsHolder) isInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// RecordDecision counts a decision by kind.
func (m *MetricsHolder) RecordDecision(kind string) {
	if !m.isInitialized() {
		return
	}
	m.DecisionsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordGatewayCall records a gateway call latency sample.
func (m *MetricsHolder) RecordGatewayCall(endpoint string, ms float64) {
	if !m.isInitialized() {
		return
	}
	m.GatewayCallLatency.Record(context.Background(), ms, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordOracleCall counts an oracle call by outcome ("ok", "error", "timeout").
func (m *MetricsHolder) RecordOracleCall(outcome string) {
	if !m.isInitialized() {
		return
	}
	m.OracleCallsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordOpened counts a confirmed position open.
func (m *MetricsHolder) RecordOpened() {
	if !m.isInitialized() {
		return
	}
	m.OrdersOpenedTotal.Add(context.Background(), 1)
}

// RecordClosed counts a confirmed position close.
func (m *MetricsHolder) RecordClosed() {
	if !m.isInitialized() {
		return
	}
	m.OrdersClosedTotal.Add(context.Background(), 1)
}

// RecordAmbiguous counts an ambiguous mutating-call outcome.
func (m *MetricsHolder) RecordAmbiguous() {
	if !m.isInitialized() {
		return
	}
	m.AmbiguousTotal.Add(context.Background(), 1)
}

// RecordKillSwitchTrip counts a kill switch activation.
func (m *MetricsHolder) RecordKillSwitchTrip() {
	if !m.isInitialized() {
		return
	}
	m.KillSwitchTrips.Add(context.Background(), 1)
}

// RecordReadRetry counts one retry of an idempotent read.
func (m *MetricsHolder) RecordReadRetry(endpoint string) {
	if !m.isInitialized() {
		return
	}
	m.ReadRetriesTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// SetHalted sets the halted gauge.
func (m *MetricsHolder) SetHalted(halted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltedVal = 0
	if halted {
		m.haltedVal = 1
	}
}

// SetArmed sets the armed gauge.
func (m *MetricsHolder) SetArmed(armed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armedVal = 0
	if armed {
		m.armedVal = 1
	}
}
