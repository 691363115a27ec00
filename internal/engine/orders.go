package engine

import (
	"time"

	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
	"makerd/internal/quote"
)

// requoteReason names the trigger that forced a cancel/replace cycle.
type requoteReason string

const (
	requoteNone      requoteReason = ""
	requoteDrift     requoteReason = "drift"
	requoteStale     requoteReason = "stale_order"
	requoteProximity requoteReason = "proximity_guard"
	requoteExplicit  requoteReason = "explicit"
)

// restingBook is the authoritative local view of our resting orders:
// at most one open order per side. Status changes happen only on
// confirmed exchange state (fill event, successful cancel, or a
// reconcile pass against ListOpenOrders).
type restingBook struct {
	symbol string
	orders map[domain.Side]domain.ActiveOrder
}

func newRestingBook(symbol string) *restingBook {
	return &restingBook{
		symbol: symbol,
		orders: make(map[domain.Side]domain.ActiveOrder, 2),
	}
}

func (b *restingBook) open(side domain.Side) (domain.ActiveOrder, bool) {
	o, ok := b.orders[side]
	return o, ok
}

func (b *restingBook) put(o domain.ActiveOrder) {
	b.orders[o.Side] = o
}

func (b *restingBook) remove(side domain.Side) {
	delete(b.orders, side)
}

func (b *restingBook) hasBothSides() bool {
	_, bid := b.orders[domain.SideBuy]
	_, ask := b.orders[domain.SideSell]
	return bid && ask
}

func (b *restingBook) openOrders() []domain.ActiveOrder {
	out := make([]domain.ActiveOrder, 0, 2)
	if o, ok := b.orders[domain.SideBuy]; ok {
		out = append(out, o)
	}
	if o, ok := b.orders[domain.SideSell]; ok {
		out = append(out, o)
	}
	return out
}

// applyFill updates the book for a confirmed execution. A final fill
// removes the order; a partial fill leaves it resting with the
// remaining size, so the side stays occupied until the order is
// cancelled or confirmed fully filled. Returns whether the fill
// matched a tracked order.
func (b *restingBook) applyFill(fill domain.Fill) bool {
	for side, o := range b.orders {
		if o.OrderID != fill.OrderID {
			continue
		}
		if fill.Final || fill.Size >= o.Size {
			delete(b.orders, side)
		} else {
			o.Size -= fill.Size
			b.orders[side] = o
		}
		return true
	}
	return false
}

// reconcile aligns the local book with what the exchange actually has
// resting. A tracked order the exchange no longer lists was filled or
// cancelled out-of-band and is dropped; a listed order the book does
// not track is adopted onto its side so a residual order never rests
// unseen. A listed order on a side already held by a different id is
// returned as an extra for the caller to cancel.
func (b *restingBook) reconcile(listed []domain.ActiveOrder) (gone []string, extras []domain.ActiveOrder) {
	onExchange := make(map[string]bool, len(listed))
	for _, o := range listed {
		onExchange[o.OrderID] = true
	}

	for side, o := range b.orders {
		if !onExchange[o.OrderID] {
			gone = append(gone, o.OrderID)
			delete(b.orders, side)
		}
	}

	for _, o := range listed {
		cur, ok := b.orders[o.Side]
		switch {
		case !ok:
			b.orders[o.Side] = o
		case cur.OrderID != o.OrderID:
			extras = append(extras, o)
		}
	}
	return gone, extras
}

func (b *restingBook) reset(symbol string) {
	b.symbol = symbol
	b.orders = make(map[domain.Side]domain.ActiveOrder, 2)
}

// requoteTrigger decides whether the current resting orders must be
// replaced. Drift compares the current mid against the mid at the last
// quote; staleness and proximity inspect each resting order.
func requoteTrigger(book *restingBook, snap market.Snapshot, midAtLastQuote float64, cfg infra.TradingConfig, now time.Time) requoteReason {
	if len(book.orders) == 0 {
		return requoteNone
	}

	if midAtLastQuote > 0 && snap.Mid > 0 {
		drift := (snap.Mid - midAtLastQuote) / midAtLastQuote * 10000.0
		if drift < 0 {
			drift = -drift
		}
		if drift >= cfg.RequoteThresholdBps {
			return requoteDrift
		}
	}

	guard := snap.Mid * cfg.ProximityGuardBps / 10000.0
	maxAge := cfg.StaleOrderAge()

	for _, o := range book.orders {
		if o.IsStale(now, maxAge) {
			return requoteStale
		}
		// Order priced within the guard band of the same-side best is
		// about to be hit.
		switch o.Side {
		case domain.SideBuy:
			if snap.BestBid > 0 && o.Price >= snap.BestBid-guard {
				return requoteProximity
			}
		case domain.SideSell:
			if snap.BestAsk > 0 && o.Price <= snap.BestAsk+guard {
				return requoteProximity
			}
		}
	}

	return requoteNone
}

// missingSides lists the sides with no resting order, in placement
// order (bid first).
func missingSides(book *restingBook) []domain.Side {
	var out []domain.Side
	if _, ok := book.open(domain.SideBuy); !ok {
		out = append(out, domain.SideBuy)
	}
	if _, ok := book.open(domain.SideSell); !ok {
		out = append(out, domain.SideSell)
	}
	return out
}

// priceFor picks the quote price/size for a side.
func priceFor(q *quote.Quote, side domain.Side) (price, size float64) {
	if side == domain.SideBuy {
		return q.BidPrice, q.BidSize
	}
	return q.AskPrice, q.AskSize
}
