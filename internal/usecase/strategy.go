package usecase

import "github.com/mxjoly/bybit-trading-bot/internal/domain"

// MACD(12,26,9) over closing prices, EMA based.
const (
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
)

// minSignalCandles is the history needed before the crossover test is
// meaningful; with less the predicate reports no signal.
const minSignalCandles = macdSlowPeriod + macdSignalPeriod

// EMA returns the exponential moving average series of x, seeded with
// the first value.
func EMA(x []float64, period int) []float64 {
	if len(x) == 0 {
		return nil
	}
	res := make([]float64, len(x))
	k := 2.0 / (float64(period) + 1)
	res[0] = x[0]
	for i := 1; i < len(x); i++ {
		res[i] = x[i]*k + res[i-1]*(1-k)
	}
	return res
}

// MACD returns the MACD line (fast EMA minus slow EMA) and its signal
// line, aligned with the input.
func MACD(closes []float64, fast, slow, signalPeriod int) (macdLine, signalLine []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	macdLine = make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMA(macdLine, signalPeriod)
	return macdLine, signalLine
}

// ShouldEnterLong reports a buy signal: the MACD line crossed above its
// signal line on the most recent bar while the signal line is still
// negative. Filtering on negative territory avoids chasing an uptrend
// that is already established.
func ShouldEnterLong(candles []domain.Candle) bool {
	if len(candles) < minSignalCandles {
		return false
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	macdLine, signalLine := MACD(closes, macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
	return crossUp(macdLine, signalLine) && signalLine[len(signalLine)-1] < 0
}

func crossUp(a, b []float64) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return a[len(a)-2] <= b[len(b)-2] && a[len(a)-1] > b[len(b)-1]
}
