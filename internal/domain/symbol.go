package domain

import (
	"github.com/shopspring/decimal"
)

// SymbolSpec captures the exchange's per-symbol increments and minimums.
type SymbolSpec struct {
	Symbol      string
	PriceTick   float64 // minimum price increment
	QtyTick     float64 // minimum quantity increment
	MinNotional float64 // minimum order value in quote currency
}

// symbolSpecs lists the supported perpetual pairs and their StandX ticks.
var symbolSpecs = map[string]SymbolSpec{
	"BTC-USD": {Symbol: "BTC-USD", PriceTick: 0.01, QtyTick: 0.0001, MinNotional: 10.0},
	"ETH-USD": {Symbol: "ETH-USD", PriceTick: 0.1, QtyTick: 0.001, MinNotional: 10.0},
	"XAU-USD": {Symbol: "XAU-USD", PriceTick: 0.1, QtyTick: 0.01, MinNotional: 10.0},
	"XAG-USD": {Symbol: "XAG-USD", PriceTick: 0.01, QtyTick: 0.1, MinNotional: 10.0},
}

// SpecFor returns the spec for a supported symbol.
func SpecFor(symbol string) (SymbolSpec, error) {
	spec, ok := symbolSpecs[symbol]
	if !ok {
		return SymbolSpec{}, ErrInvalidSymbol
	}
	return spec, nil
}

// SupportedSymbols returns the tradable symbol set.
func SupportedSymbols() []string {
	out := make([]string, 0, len(symbolSpecs))
	for s := range symbolSpecs {
		out = append(out, s)
	}
	return out
}

// IsSupportedSymbol reports whether the symbol is tradable.
func IsSupportedSymbol(symbol string) bool {
	_, ok := symbolSpecs[symbol]
	return ok
}

// RoundPrice snaps a price down (bids) or up (asks) to the symbol's
// price tick so the exchange accepts it without crossing tighter than
// intended.
func (s SymbolSpec) RoundPrice(price float64, side Side) float64 {
	tick := decimal.NewFromFloat(s.PriceTick)
	p := decimal.NewFromFloat(price)
	steps := p.Div(tick)
	if side == SideBuy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	v, _ := steps.Mul(tick).Float64()
	return v
}

// FloorQty rounds a quantity down to the symbol's quantity tick.
func (s SymbolSpec) FloorQty(qty float64) float64 {
	tick := decimal.NewFromFloat(s.QtyTick)
	q := decimal.NewFromFloat(qty)
	v, _ := q.Div(tick).Floor().Mul(tick).Float64()
	return v
}

// FormatPrice renders a tick-aligned price for the wire.
func (s SymbolSpec) FormatPrice(price float64) string {
	tick := decimal.NewFromFloat(s.PriceTick)
	return decimal.NewFromFloat(price).Round(-tick.Exponent()).String()
}

// FormatQty renders a tick-aligned quantity for the wire.
func (s SymbolSpec) FormatQty(qty float64) string {
	tick := decimal.NewFromFloat(s.QtyTick)
	return decimal.NewFromFloat(qty).Round(-tick.Exponent()).String()
}
