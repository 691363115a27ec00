package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUpdateAndRead(t *testing.T) {
	s := NewStore("BTC-USD", 2*time.Second)
	s.Update("BTC-USD", 49999.5, 50000.5, time.Now())

	snap, stale := s.Read()
	assert.False(t, stale)
	assert.Equal(t, 49999.5, snap.BestBid)
	assert.Equal(t, 50000.5, snap.BestAsk)
	assert.InDelta(t, 50000.0, snap.Mid, 1e-9)
	assert.InDelta(t, 0.2, snap.SpreadBps, 1e-6) // 1 USD on 50k mid
	assert.True(t, snap.HasBothSides())
}

func TestReadStaleBeforeFirstUpdate(t *testing.T) {
	s := NewStore("BTC-USD", 2*time.Second)
	_, stale := s.Read()
	assert.True(t, stale)
}

func TestReadStaleAfterAge(t *testing.T) {
	s := NewStore("BTC-USD", 100*time.Millisecond)
	s.Update("BTC-USD", 49999.5, 50000.5, time.Now().Add(-time.Second))

	_, stale := s.Read()
	assert.True(t, stale)
}

func TestUpdateDropsWrongSymbol(t *testing.T) {
	s := NewStore("BTC-USD", 2*time.Second)
	s.Update("ETH-USD", 3000.0, 3000.1, time.Now())

	_, stale := s.Read()
	assert.True(t, stale)
}

func TestUpdateDropsCrossedBook(t *testing.T) {
	s := NewStore("BTC-USD", 2*time.Second)
	s.Update("BTC-USD", 49999.5, 50000.5, time.Now())
	s.Update("BTC-USD", 50001.0, 50000.5, time.Now())

	snap, _ := s.Read()
	assert.Equal(t, 49999.5, snap.BestBid) // crossed update ignored
}

func TestReset(t *testing.T) {
	s := NewStore("BTC-USD", 2*time.Second)
	s.Update("BTC-USD", 49999.5, 50000.5, time.Now())
	s.Reset("ETH-USD")

	assert.Equal(t, "ETH-USD", s.Symbol())
	_, stale := s.Read()
	assert.True(t, stale)

	s.Update("ETH-USD", 3000.0, 3000.1, time.Now())
	snap, stale := s.Read()
	assert.False(t, stale)
	assert.Equal(t, "ETH-USD", snap.Symbol)
}
