package quote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
)

func btcSpec(t *testing.T) domain.SymbolSpec {
	t.Helper()
	spec, err := domain.SpecFor("BTC-USD")
	require.NoError(t, err)
	return spec
}

func baseConfig() infra.TradingConfig {
	return infra.TradingConfig{
		Symbol:                 "BTC-USD",
		SpreadBps:              5.0,
		BidNotional:            100.0,
		AskNotional:            100.0,
		RefreshIntervalSeconds: 1.0,
		RequoteThresholdBps:    2.0,
		MaxNotional:            10000.0,
		MaxPosition:            1.0,
		MaxConsecutiveFailures: 5,
		StaleOrderSeconds:      30.0,
		MaxSpreadDeviationBps:  50.0,
		UptimeTargetMinutes:    30,
	}
}

func snapshotAt(mid float64) market.Snapshot {
	return market.Snapshot{
		Symbol:     "BTC-USD",
		BestBid:    mid - 0.5,
		BestAsk:    mid + 0.5,
		Mid:        mid,
		ObservedAt: time.Now(),
	}
}

func TestGenerateBasicQuote(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	snap := snapshotAt(50000.0)

	q := Generate(snap, false, 0, cfg, spec)
	require.NotNil(t, q)

	// 5 bps each side of 50000 is 25 USD.
	assert.InDelta(t, 49975.0, q.BidPrice, spec.PriceTick)
	assert.InDelta(t, 50025.0, q.AskPrice, spec.PriceTick)
	assert.Less(t, q.BidPrice, snap.Mid)
	assert.Greater(t, q.AskPrice, snap.Mid)

	// 100 USD notional at ~50k, floored to the 0.0001 qty tick.
	assert.InDelta(t, 0.002, q.BidSize, 0.0002)
	assert.InDelta(t, 0.002, q.AskSize, 0.0002)

	assert.True(t, q.WithinLimits)
	assert.Equal(t, 10.0, q.TotalSpreadBps())
	assert.Zero(t, q.SkewBps)
}

func TestGenerateIsPure(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	snap := snapshotAt(50000.0)

	q1 := Generate(snap, false, 0.3, cfg, spec)
	q2 := Generate(snap, false, 0.3, cfg, spec)
	require.NotNil(t, q1)
	assert.Equal(t, *q1, *q2)
}

func TestGenerateNilOnBadSnapshot(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()

	assert.Nil(t, Generate(snapshotAt(50000.0), true, 0, cfg, spec))
	assert.Nil(t, Generate(market.Snapshot{Symbol: "BTC-USD"}, false, 0, cfg, spec))
}

func TestGeneratePerSideSpreadOverride(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	cfg.BidSpreadBps = 10.0
	cfg.AskSpreadBps = 3.0

	q := Generate(snapshotAt(50000.0), false, 0, cfg, spec)
	require.NotNil(t, q)
	assert.InDelta(t, 49950.0, q.BidPrice, spec.PriceTick)
	assert.InDelta(t, 50015.0, q.AskPrice, spec.PriceTick)
	assert.Equal(t, 13.0, q.TotalSpreadBps())
}

func TestGenerateInventorySkew(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	cfg.SkewFactorBps = 4.0

	flat := Generate(snapshotAt(50000.0), false, 0, cfg, spec)
	long := Generate(snapshotAt(50000.0), false, 0.5, cfg, spec)
	short := Generate(snapshotAt(50000.0), false, -0.5, cfg, spec)
	require.NotNil(t, flat)
	require.NotNil(t, long)
	require.NotNil(t, short)

	// Long inventory widens the bid only.
	assert.Equal(t, 2.0, long.SkewBps)
	assert.Less(t, long.BidPrice, flat.BidPrice)
	assert.Equal(t, flat.AskPrice, long.AskPrice)

	// Short inventory widens the ask only.
	assert.Equal(t, -2.0, short.SkewBps)
	assert.Greater(t, short.AskPrice, flat.AskPrice)
	assert.Equal(t, flat.BidPrice, short.BidPrice)
}

func TestGenerateWideSpread(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	cfg.SpreadBps = 50.0

	snap := market.Snapshot{
		Symbol:     "BTC-USD",
		BestBid:    100.00,
		BestAsk:    100.02,
		Mid:        100.01,
		ObservedAt: time.Now(),
	}

	q := Generate(snap, false, 0, cfg, spec)
	require.NotNil(t, q)

	// 50 bps off a 100.01 mid is ~0.50 each side.
	assert.InDelta(t, 99.51, q.BidPrice, spec.PriceTick)
	assert.InDelta(t, 100.51, q.AskPrice, spec.PriceTick)
}

func TestGenerateMinNotionalSnapsToOneTick(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	cfg.BidNotional = 4.0 // under the 10 USD exchange minimum at any size
	cfg.AskNotional = 4.0

	q := Generate(snapshotAt(50000.0), false, 0, cfg, spec)
	require.NotNil(t, q)
	assert.Equal(t, spec.QtyTick, q.BidSize)
	assert.Equal(t, spec.QtyTick, q.AskSize)
}

func TestGenerateDeviationGate(t *testing.T) {
	spec := btcSpec(t)
	cfg := baseConfig()
	cfg.SpreadBps = 80.0
	cfg.MaxSpreadDeviationBps = 50.0

	q := Generate(snapshotAt(50000.0), false, 0, cfg, spec)
	require.NotNil(t, q)
	assert.False(t, q.WithinLimits)
	assert.Greater(t, q.BidDeviationBps, cfg.MaxSpreadDeviationBps)
}
