package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed   atomic.Uint64
	requotes         atomic.Uint64
	ordersPlaced     atomic.Uint64
	ordersCancelled  atomic.Uint64
	fillsConfirmed   atomic.Uint64
	errorsTotal      atomic.Uint64
	streamReconnects atomic.Uint64

	// Tick latency tracking
	tickLatencySumNs atomic.Int64
	tickLatencyCount atomic.Uint64

	// Gauges
	broadcastClients atomic.Int32
	killSwitchOpen   atomic.Int32 // 1 = tripped, 0 = clear
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records a completed engine tick with its latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksProcessed.Add(1)
	m.tickLatencySumNs.Add(latencyNs)
	m.tickLatencyCount.Add(1)
}

// RecordRequote records a cancel/replace cycle.
func (m *Metrics) RecordRequote() {
	m.requotes.Add(1)
}

// RecordOrderPlaced records a successful placement.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderCancelled records a confirmed cancel.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordFill records a confirmed fill.
func (m *Metrics) RecordFill() {
	m.fillsConfirmed.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordStreamReconnect records a market-data reconnect attempt.
func (m *Metrics) RecordStreamReconnect() {
	m.streamReconnects.Add(1)
}

// IncrementBroadcastClients increments connected snapshot consumers by 1.
func (m *Metrics) IncrementBroadcastClients() {
	m.broadcastClients.Add(1)
}

// DecrementBroadcastClients decrements connected snapshot consumers by 1.
func (m *Metrics) DecrementBroadcastClients() {
	m.broadcastClients.Add(-1)
}

// SetKillSwitch sets the kill-switch gauge (true = tripped).
func (m *Metrics) SetKillSwitch(open bool) {
	if open {
		m.killSwitchOpen.Store(1)
	} else {
		m.killSwitchOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed   uint64    `json:"ticks_processed"`
	Requotes         uint64    `json:"requotes"`
	OrdersPlaced     uint64    `json:"orders_placed"`
	OrdersCancelled  uint64    `json:"orders_cancelled"`
	FillsConfirmed   uint64    `json:"fills_confirmed"`
	ErrorsTotal      uint64    `json:"errors_total"`
	StreamReconnects uint64    `json:"stream_reconnects"`
	AvgTickLatencyNs int64     `json:"avg_tick_latency_ns"`
	BroadcastClients int32     `json:"broadcast_clients"`
	KillSwitchOpen   bool      `json:"kill_switch_open"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.tickLatencyCount.Load()
	if count > 0 {
		avgLatency = m.tickLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksProcessed:   m.ticksProcessed.Load(),
		Requotes:         m.requotes.Load(),
		OrdersPlaced:     m.ordersPlaced.Load(),
		OrdersCancelled:  m.ordersCancelled.Load(),
		FillsConfirmed:   m.fillsConfirmed.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		StreamReconnects: m.streamReconnects.Load(),
		AvgTickLatencyNs: avgLatency,
		BroadcastClients: m.broadcastClients.Load(),
		KillSwitchOpen:   m.killSwitchOpen.Load() == 1,
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.requotes.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersCancelled.Store(0)
	m.fillsConfirmed.Store(0)
	m.errorsTotal.Store(0)
	m.streamReconnects.Store(0)
	m.tickLatencySumNs.Store(0)
	m.tickLatencyCount.Store(0)
	m.broadcastClients.Store(0)
	m.killSwitchOpen.Store(0)
}
