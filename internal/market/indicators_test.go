package market_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

func almostEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func rampBars(n int, start, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = testBar(i, start+float64(i)*step)
	}
	return bars
}

func TestSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	got, ok := market.SMA(vals, 5)
	if !ok || got != 3 {
		t.Errorf("SMA(5) = %f, %v; want 3, true", got, ok)
	}
	got, ok = market.SMA(vals, 2)
	if !ok || got != 4.5 {
		t.Errorf("SMA(2) = %f, %v; want 4.5, true", got, ok)
	}
	if _, ok := market.SMA(vals, 6); ok {
		t.Error("SMA available before warm-up")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	vals := []float64{10, 10, 10, 10, 20}
	// Seed = SMA(4) of first four = 10; alpha = 0.4; EMA = 0.4*20 + 0.6*10.
	got, ok := market.EMA(vals, 4)
	if !ok || !almostEqual(got, 14, 1e-9) {
		t.Errorf("EMA = %f, %v; want 14", got, ok)
	}
	if _, ok := market.EMA(vals[:3], 4); ok {
		t.Error("EMA available before warm-up")
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	got, ok := market.RSI(rising, 14)
	if !ok || got != 100 {
		t.Errorf("RSI of monotone rise = %f, %v; want 100", got, ok)
	}

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	got, ok = market.RSI(falling, 14)
	if !ok || !almostEqual(got, 0, 1e-9) {
		t.Errorf("RSI of monotone fall = %f, %v; want 0", got, ok)
	}

	if _, ok := market.RSI(rising[:14], 14); ok {
		t.Error("RSI available with only n values")
	}
}

func TestATRConstantRange(t *testing.T) {
	bars := make([]types.Bar, 20)
	for i := range bars {
		bars[i] = types.Bar{
			Symbol:   "BTCUSDT",
			OpenTime: bufferEpoch.Add(0),
			Open:     decimal.NewFromInt(100),
			High:     decimal.NewFromInt(102),
			Low:      decimal.NewFromInt(98),
			Close:    decimal.NewFromInt(100),
			Volume:   decimal.NewFromInt(1000),
		}
	}
	got, ok := market.ATR(bars, 14)
	if !ok || !almostEqual(got, 4, 1e-9) {
		t.Errorf("ATR of constant 4-point range = %f, %v; want 4", got, ok)
	}
	if _, ok := market.ATR(bars[:14], 14); ok {
		t.Error("ATR available before warm-up")
	}
}

func TestVolatilityOfFlatSeries(t *testing.T) {
	vals := make([]float64, 30)
	for i := range vals {
		vals[i] = 100
	}
	got, ok := market.Volatility(vals, 20)
	if !ok || got != 0 {
		t.Errorf("volatility of flat series = %f, %v; want 0", got, ok)
	}
}

func TestROC(t *testing.T) {
	vals := []float64{100, 101, 102, 103, 110}
	got, ok := market.ROC(vals, 4)
	if !ok || !almostEqual(got, 0.10, 1e-9) {
		t.Errorf("ROC(4) = %f, %v; want 0.10", got, ok)
	}
	if _, ok := market.ROC(vals, 5); ok {
		t.Error("ROC available before warm-up")
	}
}

func TestDonchian(t *testing.T) {
	bars := rampBars(25, 100, 1)
	upper, lower, ok := market.Donchian(bars, 20)
	if !ok {
		t.Fatal("Donchian unavailable with 25 bars")
	}
	if upper != 124 || lower != 105 {
		t.Errorf("Donchian = (%f, %f), want (124, 105)", upper, lower)
	}
}

func TestBollingerSymmetry(t *testing.T) {
	vals := make([]float64, 20)
	for i := range vals {
		if i%2 == 0 {
			vals[i] = 99
		} else {
			vals[i] = 101
		}
	}
	upper, middle, lower, ok := market.Bollinger(vals, 20, 2)
	if !ok {
		t.Fatal("Bollinger unavailable with 20 values")
	}
	if middle != 100 {
		t.Errorf("middle = %f, want 100", middle)
	}
	if !almostEqual(upper-middle, middle-lower, 1e-9) {
		t.Errorf("bands not symmetric: upper %f, lower %f", upper, lower)
	}
	if !almostEqual(upper, 102, 1e-9) {
		t.Errorf("upper = %f, want 102", upper)
	}
}
