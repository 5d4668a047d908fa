package domain

import "time"

// Candle is one price bar for a fixed interval. Only bars with
// Confirmed set are closed and immutable; the bar currently being
// built arrives with Confirmed false and must not drive decisions.
type Candle struct {
	Symbol    string
	Start     time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Confirmed bool
}

// CandleEvent is delivered by the market data stream for every kline
// push. Interval is the interval code of the subscribed topic, so the
// consumer can drop pushes from topics it did not ask for.
type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

// OrderExecution reports a change in an order's fill state.
type OrderExecution struct {
	OrderID  string
	Symbol   string
	Side     Side
	Price    float64
	Qty      float64
	ExecType string
	ExecTime time.Time
}

// ExecutionEvent carries one private-stream execution push, which may
// batch several fills.
type ExecutionEvent struct {
	Orders []OrderExecution
}
