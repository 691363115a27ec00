// Package market holds the latest top-of-book view derived from the
// exchange depth stream.
package market

import (
	"sync"
	"time"
)

// Snapshot is the top-of-book state at one instant. Mid is the average
// of best bid and best ask.
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	BestBid    float64   `json:"best_bid"`
	BestAsk    float64   `json:"best_ask"`
	Mid        float64   `json:"mid"`
	SpreadBps  float64   `json:"market_spread_bps"`
	ObservedAt time.Time `json:"observed_at"`
}

// HasBothSides reports whether both top levels are present.
func (s Snapshot) HasBothSides() bool {
	return s.BestBid > 0 && s.BestAsk > 0
}

// Store is a last-writer-wins cell for the latest snapshot. The stream
// worker is the single writer; the engine and the API read copies.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	staleAge time.Duration
}

// NewStore creates a store that flags snapshots older than staleAge.
func NewStore(symbol string, staleAge time.Duration) *Store {
	return &Store{
		snapshot: Snapshot{Symbol: symbol},
		staleAge: staleAge,
	}
}

// Update overwrites the snapshot from a depth message. Updates for a
// symbol other than the current one are dropped; they can arrive
// briefly after a symbol switch while the old subscription drains.
func (s *Store) Update(symbol string, bestBid, bestAsk float64, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if symbol != s.snapshot.Symbol {
		return
	}
	// Crossed books show up transiently on reconnects; keep the last
	// consistent view instead.
	if bestBid > 0 && bestAsk > 0 && bestBid > bestAsk {
		return
	}

	snap := Snapshot{
		Symbol:     symbol,
		BestBid:    bestBid,
		BestAsk:    bestAsk,
		ObservedAt: observedAt,
	}
	if bestBid > 0 && bestAsk > 0 {
		snap.Mid = (bestBid + bestAsk) / 2.0
		if snap.Mid > 0 {
			snap.SpreadBps = (bestAsk - bestBid) / snap.Mid * 10000.0
		}
	}
	s.snapshot = snap
}

// Read returns a copy of the latest snapshot and whether it is stale.
// A never-updated store reads as stale.
func (s *Store) Read() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	stale := snap.ObservedAt.IsZero() || time.Since(snap.ObservedAt) > s.staleAge
	return snap, stale
}

// Symbol returns the symbol the store currently tracks.
func (s *Store) Symbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Symbol
}

// Reset clears the book for a new symbol. The next Read is stale until
// the new subscription delivers data.
func (s *Store) Reset(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = Snapshot{Symbol: symbol}
}
