// Package quote turns a market snapshot and the trading config into a
// candidate two-sided quote. Generation is pure: same inputs, same
// quote.
package quote

import (
	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
)

// Quote is a candidate bid/ask pair, tick-rounded and annotated with
// its deviation from mid. WithinLimits gates placement; a quote that
// fails the deviation check is still returned so callers can surface it.
type Quote struct {
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	MidPrice float64 `json:"mid_price"`

	BidSpreadBps float64 `json:"bid_spread_bps"`
	AskSpreadBps float64 `json:"ask_spread_bps"`
	SkewBps      float64 `json:"skew_bps"`

	BidDeviationBps float64 `json:"bid_deviation_bps"`
	AskDeviationBps float64 `json:"ask_deviation_bps"`
	WithinLimits    bool    `json:"within_limits"`
}

// TotalSpreadBps is the bid-side plus ask-side spread.
func (q Quote) TotalSpreadBps() float64 {
	return q.BidSpreadBps + q.AskSpreadBps
}

// Generate produces a quote from the snapshot, or nil when the snapshot
// is stale or has no usable mid.
//
// Prices: bid = mid*(1 - spread/10000), ask = mid*(1 + spread/10000),
// with an inventory skew widening the bid when long and the ask when
// short. Sizes: notional/price floored to the quantity tick; a size
// whose notional falls under the symbol minimum snaps up to exactly one
// quantity tick.
func Generate(snap market.Snapshot, stale bool, positionSize float64, cfg infra.TradingConfig, spec domain.SymbolSpec) *Quote {
	if stale || snap.Mid <= 0 {
		return nil
	}
	mid := snap.Mid

	bidSpread := cfg.EffectiveBidSpreadBps()
	askSpread := cfg.EffectiveAskSpreadBps()

	// Inventory skew: long widens the bid, short widens the ask.
	skew := 0.0
	if cfg.SkewFactorBps > 0 && cfg.MaxPosition > 0 && positionSize != 0 {
		skew = positionSize / cfg.MaxPosition * cfg.SkewFactorBps
	}
	if skew > 0 {
		bidSpread += skew
	} else if skew < 0 {
		askSpread += -skew
	}

	rawBid := mid * (1.0 - bidSpread/10000.0)
	rawAsk := mid * (1.0 + askSpread/10000.0)

	bidPrice := spec.RoundPrice(rawBid, domain.SideBuy)
	askPrice := spec.RoundPrice(rawAsk, domain.SideSell)

	bidSize := sizeFor(cfg.BidNotional, bidPrice, spec)
	askSize := sizeFor(cfg.AskNotional, askPrice, spec)

	q := &Quote{
		BidPrice:     bidPrice,
		BidSize:      bidSize,
		AskPrice:     askPrice,
		AskSize:      askSize,
		MidPrice:     mid,
		BidSpreadBps: bidSpread,
		AskSpreadBps: askSpread,
		SkewBps:      skew,
	}
	q.BidDeviationBps = (mid - bidPrice) / mid * 10000.0
	q.AskDeviationBps = (askPrice - mid) / mid * 10000.0
	q.WithinLimits = q.BidDeviationBps <= cfg.MaxSpreadDeviationBps &&
		q.AskDeviationBps <= cfg.MaxSpreadDeviationBps

	return q
}

// sizeFor converts an order notional into a tick-aligned quantity.
func sizeFor(notional, price float64, spec domain.SymbolSpec) float64 {
	if price <= 0 {
		return 0
	}
	size := spec.FloorQty(notional / price)
	if size*price < spec.MinNotional {
		// Under the exchange minimum: one quantity tick, exactly.
		return spec.QtyTick
	}
	return size
}
