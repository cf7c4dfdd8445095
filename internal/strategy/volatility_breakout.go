package strategy

import (
	"sort"

	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// VolatilityBreakoutName is the stable identity of the breakout strategy.
const VolatilityBreakoutName = "VolatilityBreakout"

// VolatilityBreakoutConfig holds the channel and contraction parameters.
type VolatilityBreakoutConfig struct {
	ChannelPeriod   int
	ATRPeriod       int
	ATRMedianPeriod int
}

// DefaultVolatilityBreakoutConfig returns the standard Donchian(20) setup
// with a 50-bar ATR median contraction gate.
func DefaultVolatilityBreakoutConfig() VolatilityBreakoutConfig {
	return VolatilityBreakoutConfig{
		ChannelPeriod:   20,
		ATRPeriod:       14,
		ATRMedianPeriod: 50,
	}
}

// VolatilityBreakout buys a close above the Donchian channel when ATR has
// contracted below its rolling median, and sells a close below the channel.
type VolatilityBreakout struct {
	config VolatilityBreakoutConfig
}

// NewVolatilityBreakout creates the breakout strategy.
func NewVolatilityBreakout(config VolatilityBreakoutConfig) *VolatilityBreakout {
	return &VolatilityBreakout{config: config}
}

// Name implements Strategy.
func (s *VolatilityBreakout) Name() string { return VolatilityBreakoutName }

// WarmupBars implements Strategy. The ATR median needs a full window of
// ATR values, which themselves warm up over ATRPeriod bars.
func (s *VolatilityBreakout) WarmupBars() int {
	return s.config.ATRPeriod + s.config.ATRMedianPeriod
}

// Suitability implements Strategy.
func (s *VolatilityBreakout) Suitability(regime types.Regime) float64 {
	switch regime {
	case types.RegimeVolatile:
		return 0.9
	case types.RegimeTrend:
		return 0.6
	case types.RegimeSideways:
		return 0.4
	}
	return 0
}

// GenerateSignal implements Strategy. The channel excludes the current bar
// so that a new extreme can actually break it.
func (s *VolatilityBreakout) GenerateSignal(bars []types.Bar, _ Context) types.Side {
	if len(bars) < s.WarmupBars() {
		return types.SideHold
	}
	upper, lower, ok := market.Donchian(bars[:len(bars)-1], s.config.ChannelPeriod)
	if !ok {
		return types.SideHold
	}
	price := bars[len(bars)-1].Close.InexactFloat64()

	if price > upper && s.atrContracted(bars) {
		return types.SideBuy
	}
	if price < lower {
		return types.SideSell
	}
	return types.SideHold
}

// atrContracted reports whether the latest ATR sits below the median of
// its recent values.
func (s *VolatilityBreakout) atrContracted(bars []types.Bar) bool {
	series := market.ATRSeries(bars, s.config.ATRPeriod)
	last := len(series) - 1
	if last < 0 || !series[last].OK {
		return false
	}
	vals := make([]float64, 0, s.config.ATRMedianPeriod)
	for i := last; i >= 0 && len(vals) < s.config.ATRMedianPeriod; i-- {
		if series[i].OK {
			vals = append(vals, series[i].V)
		}
	}
	if len(vals) < s.config.ATRMedianPeriod {
		return false
	}
	sort.Float64s(vals)
	median := vals[len(vals)/2]
	if len(vals)%2 == 0 {
		median = (vals[len(vals)/2-1] + vals[len(vals)/2]) / 2
	}
	return series[last].V < median
}
