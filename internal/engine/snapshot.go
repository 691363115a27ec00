package engine

import (
	"time"

	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
	"makerd/internal/quote"
	"makerd/internal/risk"
	"makerd/internal/uptime"
)

// State is the immutable engine snapshot published each tick. It is
// the only channel through which external observers learn engine state.
type State struct {
	Status              domain.EngineStatus  `json:"status"`
	Symbol              string               `json:"symbol"`
	Config              infra.TradingConfig  `json:"config"`
	Market              market.Snapshot      `json:"market"`
	MarketStale         bool                 `json:"market_stale"`
	LastQuote           *quote.Quote         `json:"last_quote"`
	ActiveOrders        []domain.ActiveOrder `json:"active_orders"`
	ActiveOrderCount    int                  `json:"active_order_count"`
	LoopCount           uint64               `json:"loop_count"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	Uptime              uptime.Stats         `json:"uptime"`
	Risk                risk.Snapshot        `json:"risk"`
	Timestamp           time.Time            `json:"timestamp"`
}

// buildState constructs a fresh snapshot from the loop's current state.
// Everything is copied; readers never share memory with the loop.
func (e *Engine) buildState(now time.Time) State {
	snap, stale := e.store.Read()

	var lastQuote *quote.Quote
	if e.lastQuote != nil {
		q := *e.lastQuote
		lastQuote = &q
	}

	return State{
		Status:              e.status,
		Symbol:              e.cfg.Symbol,
		Config:              e.cfg,
		Market:              snap,
		MarketStale:         stale,
		LastQuote:           lastQuote,
		ActiveOrders:        e.book.openOrders(),
		ActiveOrderCount:    len(e.book.orders),
		LoopCount:           e.loopCount,
		ConsecutiveFailures: e.consecutiveFailures,
		Uptime:              e.tracker.Stats(now),
		Risk:                e.riskMgr.Snapshot(),
		Timestamp:           now,
	}
}
