package domain

import "time"

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"
	OrderTypeMarket OrderType = "Market"
)

// TimeInForceGTC is the only time-in-force the bot uses: ladder orders
// rest on the book until filled or cancelled.
const TimeInForceGTC = "GoodTillCancel"

// Position is the exchange-reported state for a symbol. Size zero (and
// PositionMargin zero) means flat. Positions are read on demand and
// never cached across events; the exchange is the source of truth.
type Position struct {
	Symbol         string
	Side           Side
	Size           float64
	EntryPrice     float64
	PositionMargin float64
}

// InitialMargin returns the margin consumed by the position at the
// configured leverage, used against the exposure cap.
func (p *Position) InitialMargin(leverage int) float64 {
	return p.Size * p.EntryPrice / float64(leverage)
}

// ActiveOrder is an open order resting on the exchange. The bot only
// uses the list as an existence check before placing a new entry.
type ActiveOrder struct {
	OrderID string
	Symbol  string
	Side    Side
	Price   float64
	Qty     float64
}

// OrderRequest describes an order to submit to the exchange.
type OrderRequest struct {
	Symbol         string
	Side           Side
	Type           OrderType
	Price          float64
	Qty            float64
	TimeInForce    string
	ReduceOnly     bool
	CloseOnTrigger bool
	PositionIdx    int
	OrderLinkID    string
}

// OrderRecord is the journal row written after an order was accepted.
// Purpose distinguishes the ladder slot (entry, take_profit, repurchase).
type OrderRecord struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64
	Qty       float64
	LinkID    string
	Purpose   string
	CreatedAt time.Time
}

// PerformanceReport is one emitted day or month P&L summary.
type PerformanceReport struct {
	Period    string // "day" or "month"
	Label     string
	Percent   float64
	Balance   float64
	CreatedAt time.Time
}
