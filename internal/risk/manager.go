// Package risk tracks exposure from confirmed fills and gates new
// order placement against the configured caps.
package risk

import (
	"log/slog"
	"math"

	"makerd/internal/domain"
)

// Position is derived exclusively from confirmed fills. Size is signed:
// positive long, negative short.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	AvgEntry      float64 `json:"avg_entry"`
	Notional      float64 `json:"notional"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// Snapshot is a published view of the risk state.
type Snapshot struct {
	Position    Position `json:"position"`
	MaxPosition float64  `json:"max_position"`
	MaxNotional float64  `json:"max_notional"`
	Breached    bool     `json:"breached"`
}

// Manager owns position state. It is called only from the engine
// goroutine, so no locking is needed.
type Manager struct {
	position    Position
	maxPosition float64
	maxNotional float64
	logger      *slog.Logger
}

// NewManager creates a manager for one symbol.
func NewManager(symbol string, maxPosition, maxNotional float64) *Manager {
	return &Manager{
		position:    Position{Symbol: symbol},
		maxPosition: maxPosition,
		maxNotional: maxNotional,
		logger:      slog.Default().With("module", "risk"),
	}
}

// SetLimits replaces the caps (config update path).
func (m *Manager) SetLimits(maxPosition, maxNotional float64) {
	m.maxPosition = maxPosition
	m.maxNotional = maxNotional
}

// Reset clears position state, used on symbol switch.
func (m *Manager) Reset(symbol string) {
	m.position = Position{Symbol: symbol}
}

// Approve decides whether an order of the given side/size may be
// placed. Reducing exposure is always allowed; increasing it is allowed
// only while the resulting position stays inside both caps. A veto is
// expected control flow, not an error.
func (m *Manager) Approve(side domain.Side, size, price float64) bool {
	delta := size
	if side == domain.SideSell {
		delta = -size
	}
	resulting := m.position.Size + delta

	// Always allow trades that shrink the absolute position.
	if math.Abs(resulting) <= math.Abs(m.position.Size) {
		return true
	}

	if math.Abs(resulting) > m.maxPosition {
		m.logger.Info("risk veto: position cap",
			slog.String("side", string(side)),
			slog.Float64("size", size),
			slog.Float64("current", m.position.Size),
			slog.Float64("max_position", m.maxPosition))
		return false
	}
	if price > 0 && math.Abs(resulting)*price > m.maxNotional {
		m.logger.Info("risk veto: notional cap",
			slog.String("side", string(side)),
			slog.Float64("size", size),
			slog.Float64("price", price),
			slog.Float64("max_notional", m.maxNotional))
		return false
	}
	return true
}

// ApplyFill updates position and realized PnL from a confirmed fill.
func (m *Manager) ApplyFill(fill domain.Fill) {
	delta := fill.Size
	if fill.Side == domain.SideSell {
		delta = -fill.Size
	}

	pos := &m.position
	switch {
	case pos.Size == 0 || sameSign(pos.Size, delta):
		// Opening or adding: average the entry.
		total := math.Abs(pos.Size) + math.Abs(delta)
		if total > 0 {
			pos.AvgEntry = (pos.AvgEntry*math.Abs(pos.Size) + fill.Price*math.Abs(delta)) / total
		}
		pos.Size += delta
	case math.Abs(delta) <= math.Abs(pos.Size):
		// Reducing: realize PnL on the closed portion.
		closed := math.Abs(delta)
		pos.RealizedPnL += closedPnL(pos.Size, pos.AvgEntry, fill.Price, closed)
		pos.Size += delta
		if pos.Size == 0 {
			pos.AvgEntry = 0
		}
	default:
		// Flip: close the whole position, open the remainder.
		closed := math.Abs(pos.Size)
		pos.RealizedPnL += closedPnL(pos.Size, pos.AvgEntry, fill.Price, closed)
		pos.Size += delta
		pos.AvgEntry = fill.Price
	}
}

// MarkToMarket recomputes notional and unrealized PnL at the given mid.
func (m *Manager) MarkToMarket(mid float64) {
	pos := &m.position
	pos.Notional = math.Abs(pos.Size) * mid
	if pos.Size != 0 && mid > 0 {
		pos.UnrealizedPnL = (mid - pos.AvgEntry) * pos.Size
	} else {
		pos.UnrealizedPnL = 0
	}
}

// Breached reports whether confirmed fills pushed the position past a
// cap. The engine reacts by suppressing the increasing side until the
// position is worked back down.
func (m *Manager) Breached() bool {
	return math.Abs(m.position.Size) > m.maxPosition ||
		m.position.Notional > m.maxNotional
}

// Position returns a copy of the current position.
func (m *Manager) Position() Position {
	return m.position
}

// Snapshot returns a copy of the published risk view.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Position:    m.position,
		MaxPosition: m.maxPosition,
		MaxNotional: m.maxNotional,
		Breached:    m.Breached(),
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// closedPnL computes realized PnL for closing `closed` units of a
// position entered at avgEntry, exiting at price. Sign-adjusted for
// shorts.
func closedPnL(posSize, avgEntry, price, closed float64) float64 {
	if posSize > 0 {
		return (price - avgEntry) * closed
	}
	return (avgEntry - price) * closed
}
