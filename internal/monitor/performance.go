// Package monitor tracks realized trade outcomes and equity samples and
// derives rolling risk-adjusted metrics with a four-bucket health state.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Config holds the monitor parameters.
type Config struct {
	// WindowTrades is the default metrics window in trades.
	WindowTrades int
	// WindowEquity is the default equity-curve window in samples.
	WindowEquity int
	// MinSamples is the trade count below which the state is
	// insufficient-data.
	MinSamples int
	// FallbackPeriodsPerYear is the annualization used when trade
	// timestamps cannot establish a cadence.
	FallbackPeriodsPerYear float64
	// MaxHistory bounds retained trades and equity samples.
	MaxHistory int
}

// DefaultConfig returns the standard monitor configuration.
func DefaultConfig() Config {
	return Config{
		WindowTrades:           50,
		WindowEquity:           60,
		MinSamples:             5,
		FallbackPeriodsPerYear: 252,
		MaxHistory:             1000,
	}
}

// EquityPoint is one portfolio-value sample.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// PerformanceWindow is the rolling metrics snapshot over a window.
type PerformanceWindow struct {
	Trades       []types.Trade          `json:"trades"`
	EquityCurve  []EquityPoint          `json:"equityCurve"`
	Sharpe       float64                `json:"sharpe"`
	MaxDrawdown  float64                `json:"maxDrawdown"`
	WinRate      float64                `json:"winRate"`
	ProfitFactor float64                `json:"profitFactor"`
	TotalReturn  float64                `json:"totalReturn"`
	State        types.PerformanceState `json:"state"`
}

// Monitor records trades and equity and serves rolling metrics. Writes
// come from a single owner; reads are safe from anywhere.
type Monitor struct {
	logger *zap.Logger
	config Config

	mu     sync.RWMutex
	trades []types.Trade
	equity []EquityPoint
}

// NewMonitor creates a performance monitor.
func NewMonitor(logger *zap.Logger, config Config) *Monitor {
	return &Monitor{
		logger: logger.Named("monitor"),
		config: config,
	}
}

// RecordTrade appends a closed trade.
func (m *Monitor) RecordTrade(trade types.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	if len(m.trades) > m.config.MaxHistory {
		m.trades = m.trades[len(m.trades)-m.config.MaxHistory:]
	}
	m.logger.Debug("Recorded trade",
		zap.String("symbol", trade.Symbol),
		zap.String("strategy", trade.StrategyName),
		zap.String("pnl", trade.RealizedPnL.String()))
}

// RecordEquity appends a portfolio-value sample.
func (m *Monitor) RecordEquity(ts time.Time, value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, EquityPoint{Timestamp: ts, Value: value})
	if len(m.equity) > m.config.MaxHistory {
		m.equity = m.equity[len(m.equity)-m.config.MaxHistory:]
	}
}

// TradeCount returns the number of retained trades.
func (m *Monitor) TradeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trades)
}

// Metrics computes the rolling window over all recorded trades. A window
// of 0 uses the configured default.
func (m *Monitor) Metrics(window int) PerformanceWindow {
	m.mu.RLock()
	trades := append([]types.Trade(nil), m.trades...)
	equity := append([]EquityPoint(nil), m.equity...)
	m.mu.RUnlock()
	return m.compute(trades, equity, window)
}

// StrategyMetrics computes the rolling window over one strategy's trades,
// with a synthetic equity curve built from its cumulative results.
func (m *Monitor) StrategyMetrics(strategyName string, window int) PerformanceWindow {
	m.mu.RLock()
	trades := make([]types.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		if t.StrategyName == strategyName {
			trades = append(trades, t)
		}
	}
	m.mu.RUnlock()
	return m.compute(trades, nil, window)
}

// State classifies overall strategy health over the window.
func (m *Monitor) State(window int) types.PerformanceState {
	return m.Metrics(window).State
}

// StrategyState classifies one strategy's health over the window.
func (m *Monitor) StrategyState(strategyName string, window int) types.PerformanceState {
	return m.StrategyMetrics(strategyName, window).State
}

// StrategyBias maps a strategy's recent Sharpe in the given regime onto
// [-1, 1] for the selector. It returns 0 when no samples exist.
func (m *Monitor) StrategyBias(strategyName string, regime types.Regime, window int) float64 {
	if window <= 0 {
		window = m.config.WindowTrades
	}
	m.mu.RLock()
	trades := make([]types.Trade, 0, window)
	for _, t := range m.trades {
		if t.StrategyName == strategyName && t.RegimeAtEntry == regime {
			trades = append(trades, t)
		}
	}
	m.mu.RUnlock()
	if len(trades) == 0 {
		return 0
	}
	if len(trades) > window {
		trades = trades[len(trades)-window:]
	}
	sharpe := m.sharpe(trades)
	return clamp(sharpe/2, -1, 1)
}

func (m *Monitor) compute(trades []types.Trade, equity []EquityPoint, window int) PerformanceWindow {
	if window <= 0 {
		window = m.config.WindowTrades
	}
	if len(trades) > window {
		trades = trades[len(trades)-window:]
	}
	if len(equity) > m.config.WindowEquity {
		equity = equity[len(equity)-m.config.WindowEquity:]
	}
	if len(equity) == 0 {
		equity = syntheticEquity(trades)
	}

	w := PerformanceWindow{Trades: trades, EquityCurve: equity}
	if len(trades) == 0 {
		w.State = types.PerformanceInsufficientData
		w.ProfitFactor = 0
		return w
	}

	wins := 0
	grossProfit, grossLoss := 0.0, 0.0
	for _, t := range trades {
		pnl := t.RealizedPnL.InexactFloat64()
		if pnl > 0 {
			wins++
			grossProfit += pnl
		} else if pnl < 0 {
			grossLoss -= pnl
		}
		if capital := t.CapitalAtEntry.InexactFloat64(); capital > 0 {
			w.TotalReturn += pnl / capital
		}
	}
	w.WinRate = float64(wins) / float64(len(trades))
	switch {
	case grossLoss == 0 && grossProfit > 0:
		w.ProfitFactor = math.Inf(1)
	case grossProfit == 0:
		w.ProfitFactor = 0
	default:
		w.ProfitFactor = grossProfit / grossLoss
	}
	w.Sharpe = m.sharpe(trades)
	w.MaxDrawdown = maxDrawdown(equity)
	w.State = classify(w.Sharpe, w.MaxDrawdown, len(trades), m.config.MinSamples)
	return w
}

// sharpe is mean(r)/stddev(r) scaled by the square root of the periods
// per year implied by the trade cadence.
func (m *Monitor) sharpe(trades []types.Trade) float64 {
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if capital := t.CapitalAtEntry.InexactFloat64(); capital > 0 {
			returns = append(returns, t.RealizedPnL.InexactFloat64()/capital)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(m.periodsPerYear(trades))
}

// periodsPerYear derives the annualization factor from the median spacing
// between trade closes, falling back to the configured default.
func (m *Monitor) periodsPerYear(trades []types.Trade) float64 {
	if len(trades) < 2 {
		return m.config.FallbackPeriodsPerYear
	}
	gaps := make([]float64, 0, len(trades)-1)
	for i := 1; i < len(trades); i++ {
		gap := trades[i].ClosedAt.Sub(trades[i-1].ClosedAt).Seconds()
		if gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return m.config.FallbackPeriodsPerYear
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	if len(gaps)%2 == 0 {
		median = (gaps[len(gaps)/2-1] + gaps[len(gaps)/2]) / 2
	}
	const secondsPerYear = 365.25 * 24 * 3600
	return secondsPerYear / median
}

func maxDrawdown(equity []EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0].Value.InexactFloat64()
	maxDD := 0.0
	for _, p := range equity {
		v := p.Value.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// classify picks the worst matching bucket.
func classify(sharpe, maxDD float64, samples, minSamples int) types.PerformanceState {
	if samples < minSamples {
		return types.PerformanceInsufficientData
	}
	switch {
	case sharpe < 0 || maxDD > 0.30:
		return types.PerformancePoor
	case sharpe < 1.0 || maxDD > 0.20:
		return types.PerformanceDegrading
	case sharpe > 2.0 && maxDD < 0.10:
		return types.PerformanceExcellent
	default:
		return types.PerformanceGood
	}
}

// syntheticEquity rebuilds an equity curve from cumulative trade results
// when no samples were recorded.
func syntheticEquity(trades []types.Trade) []EquityPoint {
	if len(trades) == 0 {
		return nil
	}
	base := trades[0].CapitalAtEntry
	if base.LessThanOrEqual(decimal.Zero) {
		base = decimal.NewFromInt(1)
	}
	out := make([]EquityPoint, 0, len(trades)+1)
	out = append(out, EquityPoint{Timestamp: trades[0].OpenedAt, Value: base})
	running := base
	for _, t := range trades {
		running = running.Add(t.RealizedPnL)
		out = append(out, EquityPoint{Timestamp: t.ClosedAt, Value: running})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
