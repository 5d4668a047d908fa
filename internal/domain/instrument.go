package domain

// SymbolInfo is the per-symbol trading metadata loaded once at startup.
// QuantityPrecision is the number of fractional digits in QuantityStep;
// quantities and prices are rounded to it before submission.
type SymbolInfo struct {
	Symbol            string
	MinQuantity       float64
	QuantityStep      string
	QuantityPrecision int
}
