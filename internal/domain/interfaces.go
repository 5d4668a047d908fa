package domain

import (
	"context"
	"errors"
)

// ErrPrecisionUnresolvable is returned when a symbol's quantity step
// cannot be parsed into a decimal precision. Trading metadata must be
// resolvable before the bot starts.
var ErrPrecisionUnresolvable = errors.New("quantity step precision unresolvable")

// Exchange defines the gateway to the futures exchange. All calls are
// network round-trips and may fail; the orchestrator decides per call
// site whether a failure drops the cycle or is only logged.
type Exchange interface {
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetActiveOrders(ctx context.Context, symbol string) ([]ActiveOrder, error)
	GetWalletBalance(ctx context.Context, coin string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	PlaceOrder(ctx context.Context, order *OrderRequest) (string, error)
	CancelAllOrders(ctx context.Context, symbol string) error

	// Account setup, called once per symbol before trading starts.
	SetPositionMode(ctx context.Context, symbol string, mode string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, isolated bool, leverage int) error
}

// Notifier delivers human-readable messages, best effort.
type Notifier interface {
	SendMessage(text string) error
}

// TradeRepository is the write-only journal of placed orders and
// emitted performance reports. Nothing reads it back into decision
// state; the bot stays stateless across restarts.
type TradeRepository interface {
	SaveOrder(ctx context.Context, rec *OrderRecord) error
	SavePerformanceReport(ctx context.Context, rep *PerformanceReport) error
}

// MetricsRecorder receives operational counters from the orchestrator.
type MetricsRecorder interface {
	OrderPlaced(side Side, purpose string)
	SignalEvaluated(entered bool)
	GatewayError(op string)
	WalletBalance(v float64)
}
