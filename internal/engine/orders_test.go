package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
)

func testOrder(id string, side domain.Side, price float64, placedAt time.Time) domain.ActiveOrder {
	return domain.ActiveOrder{
		OrderID:  id,
		Symbol:   "BTC-USD",
		Side:     side,
		Price:    price,
		Size:     0.002,
		PlacedAt: placedAt,
		Status:   domain.OrderStatusOpen,
	}
}

func testSnapshot(mid float64) market.Snapshot {
	return market.Snapshot{
		Symbol:     "BTC-USD",
		BestBid:    mid - 0.5,
		BestAsk:    mid + 0.5,
		Mid:        mid,
		ObservedAt: time.Now(),
	}
}

func triggerConfig() infra.TradingConfig {
	return infra.TradingConfig{
		Symbol:              "BTC-USD",
		RequoteThresholdBps: 2.0,
		ProximityGuardBps:   1.0,
		StaleOrderSeconds:   30.0,
	}
}

func TestRestingBookOneOrderPerSide(t *testing.T) {
	b := newRestingBook("BTC-USD")
	now := time.Now()

	b.put(testOrder("o1", domain.SideBuy, 49975, now))
	b.put(testOrder("o2", domain.SideSell, 50025, now))
	assert.True(t, b.hasBothSides())
	assert.Len(t, b.openOrders(), 2)

	// A second bid replaces the first, never coexists with it.
	b.put(testOrder("o3", domain.SideBuy, 49980, now))
	bid, ok := b.open(domain.SideBuy)
	assert.True(t, ok)
	assert.Equal(t, "o3", bid.OrderID)
	assert.Len(t, b.openOrders(), 2)
}

func TestRestingBookApplyFill(t *testing.T) {
	b := newRestingBook("BTC-USD")
	now := time.Now()
	b.put(testOrder("o1", domain.SideBuy, 49975, now))
	b.put(testOrder("o2", domain.SideSell, 50025, now))

	assert.True(t, b.applyFill(domain.Fill{OrderID: "o1", Size: 0.002, Final: true}))
	assert.False(t, b.hasBothSides())
	_, ok := b.open(domain.SideBuy)
	assert.False(t, ok)

	// Unknown fills are reported but change nothing.
	assert.False(t, b.applyFill(domain.Fill{OrderID: "zzz"}))
	assert.Len(t, b.openOrders(), 1)
}

func TestRestingBookPartialFill(t *testing.T) {
	b := newRestingBook("BTC-USD")
	b.put(testOrder("o1", domain.SideBuy, 49975, time.Now()))

	// A partial execution keeps the side occupied with the remainder.
	assert.True(t, b.applyFill(domain.Fill{OrderID: "o1", Size: 0.0005}))
	bid, ok := b.open(domain.SideBuy)
	assert.True(t, ok)
	assert.InDelta(t, 0.0015, bid.Size, 1e-9)

	// The terminal fill removes it.
	assert.True(t, b.applyFill(domain.Fill{OrderID: "o1", Size: 0.0015, Final: true}))
	_, ok = b.open(domain.SideBuy)
	assert.False(t, ok)
}

func TestRestingBookReconcile(t *testing.T) {
	b := newRestingBook("BTC-USD")
	now := time.Now()
	b.put(testOrder("o1", domain.SideBuy, 49975, now))
	b.put(testOrder("o2", domain.SideSell, 50025, now))

	// Exchange only knows about the ask; the bid must be dropped.
	gone, extras := b.reconcile([]domain.ActiveOrder{testOrder("o2", domain.SideSell, 50025, now)})
	assert.Equal(t, []string{"o1"}, gone)
	assert.Empty(t, extras)
	assert.Len(t, b.openOrders(), 1)
}

func TestRestingBookReconcileAdoptsUntracked(t *testing.T) {
	b := newRestingBook("BTC-USD")
	now := time.Now()
	b.put(testOrder("o1", domain.SideBuy, 49975, now))

	// An ask the exchange lists but the book never tracked is adopted;
	// a second buy next to the tracked one comes back for cancellation.
	gone, extras := b.reconcile([]domain.ActiveOrder{
		testOrder("o1", domain.SideBuy, 49975, now),
		testOrder("x1", domain.SideSell, 50025, now),
		testOrder("x2", domain.SideBuy, 49980, now),
	})
	assert.Empty(t, gone)
	assert.Len(t, extras, 1)
	assert.Equal(t, "x2", extras[0].OrderID)

	ask, ok := b.open(domain.SideSell)
	assert.True(t, ok)
	assert.Equal(t, "x1", ask.OrderID)
	bid, _ := b.open(domain.SideBuy)
	assert.Equal(t, "o1", bid.OrderID)
}

func TestRequoteTriggerEmptyBook(t *testing.T) {
	b := newRestingBook("BTC-USD")
	reason := requoteTrigger(b, testSnapshot(50000), 50000, triggerConfig(), time.Now())
	assert.Equal(t, requoteNone, reason)
}

func TestRequoteTriggerDrift(t *testing.T) {
	b := newRestingBook("BTC-USD")
	now := time.Now()
	b.put(testOrder("o1", domain.SideBuy, 49975, now))
	b.put(testOrder("o2", domain.SideSell, 50025, now))
	cfg := triggerConfig()

	// 1 bps of drift stays put, 3 bps forces a requote.
	assert.Equal(t, requoteNone, requoteTrigger(b, testSnapshot(50005), 50000, cfg, now))
	assert.Equal(t, requoteDrift, requoteTrigger(b, testSnapshot(50015), 50000, cfg, now))

	// Drift is symmetric.
	assert.Equal(t, requoteDrift, requoteTrigger(b, testSnapshot(49985), 50000, cfg, now))
}

func TestRequoteTriggerStaleOrder(t *testing.T) {
	b := newRestingBook("BTC-USD")
	now := time.Now()
	b.put(testOrder("o1", domain.SideBuy, 49975, now.Add(-time.Minute)))

	reason := requoteTrigger(b, testSnapshot(50000), 50000, triggerConfig(), now)
	assert.Equal(t, requoteStale, reason)
}

func TestRequoteTriggerProximity(t *testing.T) {
	now := time.Now()
	cfg := triggerConfig()

	// Bid resting right at the best bid sits inside the guard band.
	b := newRestingBook("BTC-USD")
	b.put(testOrder("o1", domain.SideBuy, 49999.5, now))
	assert.Equal(t, requoteProximity, requoteTrigger(b, testSnapshot(50000), 50000, cfg, now))

	// Ask hugging the best ask likewise.
	b = newRestingBook("BTC-USD")
	b.put(testOrder("o2", domain.SideSell, 50000.5, now))
	assert.Equal(t, requoteProximity, requoteTrigger(b, testSnapshot(50000), 50000, cfg, now))

	// A bid safely below the band does not trip it.
	b = newRestingBook("BTC-USD")
	b.put(testOrder("o3", domain.SideBuy, 49975, now))
	assert.Equal(t, requoteNone, requoteTrigger(b, testSnapshot(50000), 50000, cfg, now))
}

func TestMissingSidesOrdering(t *testing.T) {
	b := newRestingBook("BTC-USD")
	assert.Equal(t, []domain.Side{domain.SideBuy, domain.SideSell}, missingSides(b))

	b.put(testOrder("o1", domain.SideBuy, 49975, time.Now()))
	assert.Equal(t, []domain.Side{domain.SideSell}, missingSides(b))

	b.put(testOrder("o2", domain.SideSell, 50025, time.Now()))
	assert.Empty(t, missingSides(b))
}
