package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := CalculateBackoff(i)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		// Cap plus max jitter.
		assert.LessOrEqual(t, d, 30*time.Second+30*time.Second/4)
	}

	// Later attempts never back off less than the base of attempt 0.
	assert.GreaterOrEqual(t, CalculateBackoff(10), 30*time.Second)
}

func TestMetricsRoundTrip(t *testing.T) {
	m := &Metrics{}
	m.RecordTick(1_000_000)
	m.RecordTick(3_000_000)
	m.RecordRequote()
	m.RecordOrderPlaced()
	m.RecordOrderPlaced()
	m.RecordOrderCancelled()
	m.RecordFill()
	m.RecordError()
	m.SetKillSwitch(true)
	m.IncrementBroadcastClients()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.TicksProcessed)
	assert.Equal(t, uint64(1), snap.Requotes)
	assert.Equal(t, uint64(2), snap.OrdersPlaced)
	assert.Equal(t, uint64(1), snap.OrdersCancelled)
	assert.Equal(t, uint64(1), snap.FillsConfirmed)
	assert.Equal(t, uint64(1), snap.ErrorsTotal)
	assert.True(t, snap.KillSwitchOpen)
	assert.Equal(t, int32(1), snap.BroadcastClients)
	assert.Equal(t, int64(2_000_000), snap.AvgTickLatencyNs)

	m.Reset()
	assert.Zero(t, m.Snapshot().TicksProcessed)
}
