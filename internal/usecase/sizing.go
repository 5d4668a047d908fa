package usecase

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

// RoundDown truncates x to the given number of decimal places.
func RoundDown(x float64, precision int) float64 {
	n := math.Pow10(precision)
	return math.Floor(x*n) / n
}

// RoundUp rounds x up to the given number of decimal places.
func RoundUp(x float64, precision int) float64 {
	n := math.Pow10(precision)
	return math.Ceil(x*n) / n
}

// RoundNearest rounds x to the nearest multiple of 10^-precision.
func RoundNearest(x float64, precision int) float64 {
	n := math.Pow10(precision)
	return math.Round(x*n) / n
}

// QuantityPrecision derives the decimal precision from an exchange
// quantity step ("0.001" -> 3, "1" -> 0). An unparseable or
// non-positive step is an error: the caller must not trade a symbol
// whose rounding rules it cannot resolve.
func QuantityPrecision(step string) (int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil {
		return 0, fmt.Errorf("%w: step %q: %v", domain.ErrPrecisionUnresolvable, step, err)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("%w: step %q is not positive", domain.ErrPrecisionUnresolvable, step)
	}
	if d.Exponent() >= 0 {
		return 0, nil
	}
	return int(-d.Exponent()), nil
}

// PositionSize converts a margin budget into an order quantity at the
// given price. The result never goes below the exchange minimum and is
// always rounded down, so the submitted size never exceeds the budget.
func PositionSize(marginBudget, price, minQuantity float64, precision int) float64 {
	quantity := marginBudget / price
	if quantity > minQuantity {
		return RoundDown(quantity, precision)
	}
	return RoundDown(minQuantity, precision)
}

// OffsetPrice shifts a base price by a signed percentage. A positive
// offset (take profit, above market) rounds down so the target is never
// overshot; a negative offset (repurchase, below market) rounds up so
// the order never lands above the intended discount.
func OffsetPrice(basePrice, percentDelta float64, precision int) float64 {
	newPrice := basePrice * (1 + percentDelta)
	if percentDelta >= 0 {
		return RoundDown(newPrice, precision)
	}
	return RoundUp(newPrice, precision)
}
