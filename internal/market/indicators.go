package market

import (
	"math"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Value is an indicator scalar that may still be in warm-up. OK is false
// until enough bars have been seen.
type Value struct {
	V  float64
	OK bool
}

// IndicatorRow holds the derived scalars aligned with the most recent bar.
type IndicatorRow struct {
	SMA20           Value
	SMA50           Value
	SMA200          Value
	EMA12           Value
	EMA26           Value
	RSI14           Value
	Volatility      Value
	ATR14           Value
	DonchianUpper   Value
	DonchianLower   Value
	BollingerUpper  Value
	BollingerMiddle Value
	BollingerLower  Value
}

// ComputeIndicators evaluates the full indicator row over a bar window.
func ComputeIndicators(bars []types.Bar) IndicatorRow {
	closes := Closes(bars)
	var row IndicatorRow
	row.SMA20 = toValue(SMA(closes, 20))
	row.SMA50 = toValue(SMA(closes, 50))
	row.SMA200 = toValue(SMA(closes, 200))
	row.EMA12 = toValue(EMA(closes, 12))
	row.EMA26 = toValue(EMA(closes, 26))
	row.RSI14 = toValue(RSI(closes, 14))
	row.Volatility = toValue(Volatility(closes, 20))
	row.ATR14 = toValue(ATR(bars, 14))
	if upper, lower, ok := Donchian(bars, 20); ok {
		row.DonchianUpper = Value{upper, true}
		row.DonchianLower = Value{lower, true}
	}
	if upper, middle, lower, ok := Bollinger(closes, 20, 2); ok {
		row.BollingerUpper = Value{upper, true}
		row.BollingerMiddle = Value{middle, true}
		row.BollingerLower = Value{lower, true}
	}
	return row
}

func toValue(v float64, ok bool) Value { return Value{v, ok} }

// Closes extracts close prices as float64 in chronological order.
func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

// SMA returns the arithmetic mean of the last n values.
func SMA(vals []float64, n int) (float64, bool) {
	if n <= 0 || len(vals) < n {
		return 0, false
	}
	sum := 0.0
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// EMA returns the exponential moving average with alpha = 2/(n+1), seeded
// with the SMA of the first n values.
func EMA(vals []float64, n int) (float64, bool) {
	if n <= 0 || len(vals) < n {
		return 0, false
	}
	seed := 0.0
	for _, v := range vals[:n] {
		seed += v
	}
	ema := seed / float64(n)
	alpha := 2.0 / float64(n+1)
	for _, v := range vals[n:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema, true
}

// RSI returns the Wilder-smoothed relative strength index over n periods.
func RSI(vals []float64, n int) (float64, bool) {
	if n <= 0 || len(vals) < n+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		change := vals[i] - vals[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	for i := n + 1; i < len(vals); i++ {
		change := vals[i] - vals[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bar types.Bar, prevClose float64) float64 {
	high := bar.High.InexactFloat64()
	low := bar.Low.InexactFloat64()
	tr := high - low
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// ATR returns the Wilder-smoothed average true range over n periods.
func ATR(bars []types.Bar, n int) (float64, bool) {
	series := ATRSeries(bars, n)
	if len(series) == 0 {
		return 0, false
	}
	last := series[len(series)-1]
	return last.V, last.OK
}

// ATRSeries returns the Wilder ATR aligned per bar; entries before warm-up
// (n bars of true range) are marked unavailable.
func ATRSeries(bars []types.Bar, n int) []Value {
	out := make([]Value, len(bars))
	if n <= 0 || len(bars) < n+1 {
		return out
	}
	sum := 0.0
	for i := 1; i <= n; i++ {
		sum += TrueRange(bars[i], bars[i-1].Close.InexactFloat64())
	}
	atr := sum / float64(n)
	out[n] = Value{atr, true}
	for i := n + 1; i < len(bars); i++ {
		tr := TrueRange(bars[i], bars[i-1].Close.InexactFloat64())
		atr = (atr*float64(n-1) + tr) / float64(n)
		out[i] = Value{atr, true}
	}
	return out
}

// Volatility returns the standard deviation of simple returns over the
// last n returns.
func Volatility(vals []float64, n int) (float64, bool) {
	if n <= 1 || len(vals) < n+1 {
		return 0, false
	}
	returns := make([]float64, 0, n)
	for i := len(vals) - n; i < len(vals); i++ {
		prev := vals[i-1]
		if prev == 0 {
			return 0, false
		}
		returns = append(returns, vals[i]/prev-1)
	}
	return stddev(returns), true
}

// ROC returns the rate of change close_t/close_{t-n} - 1.
func ROC(vals []float64, n int) (float64, bool) {
	if n <= 0 || len(vals) < n+1 {
		return 0, false
	}
	base := vals[len(vals)-1-n]
	if base == 0 {
		return 0, false
	}
	return vals[len(vals)-1]/base - 1, true
}

// Donchian returns the highest high and lowest low over the last n bars.
func Donchian(bars []types.Bar, n int) (upper, lower float64, ok bool) {
	if n <= 0 || len(bars) < n {
		return 0, 0, false
	}
	window := bars[len(bars)-n:]
	upper = window[0].High.InexactFloat64()
	lower = window[0].Low.InexactFloat64()
	for _, b := range window[1:] {
		if h := b.High.InexactFloat64(); h > upper {
			upper = h
		}
		if l := b.Low.InexactFloat64(); l < lower {
			lower = l
		}
	}
	return upper, lower, true
}

// Bollinger returns SMA(n) +/- k standard deviations of the last n values.
func Bollinger(vals []float64, n int, k float64) (upper, middle, lower float64, ok bool) {
	middle, ok = SMA(vals, n)
	if !ok {
		return 0, 0, 0, false
	}
	sd := stddev(vals[len(vals)-n:])
	return middle + k*sd, middle, middle - k*sd, true
}

func stddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(vals)))
}
