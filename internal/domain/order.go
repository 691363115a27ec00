package domain

import "time"

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of a resting order.
// Transitions to filled/cancelled happen only on confirmed exchange
// state, never on local inference.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ActiveOrder is the bot's view of one resting order on the exchange.
type ActiveOrder struct {
	OrderID       string      `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Price         float64     `json:"price"`
	Size          float64     `json:"size"`
	PlacedAt      time.Time   `json:"placed_at"`
	Status        OrderStatus `json:"status"`
}

// Age returns how long the order has been resting.
func (o ActiveOrder) Age(now time.Time) time.Duration {
	return now.Sub(o.PlacedAt)
}

// IsStale reports whether the order has been resting longer than maxAge.
func (o ActiveOrder) IsStale(now time.Time, maxAge time.Duration) bool {
	return o.Age(now) > maxAge
}

// DeviationBps returns the distance of the order price from mid, in
// basis points of mid.
func (o ActiveOrder) DeviationBps(mid float64) float64 {
	if mid == 0 {
		return 0
	}
	d := o.Price - mid
	if d < 0 {
		d = -d
	}
	return d / mid * 10000.0
}

// Fill is a confirmed execution reported by the exchange. Size is the
// quantity executed by this event; Final marks the order as fully
// filled, a partial execution leaves it resting with the remainder.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Final    bool      `json:"final"`
	FilledAt time.Time `json:"filled_at"`
}
