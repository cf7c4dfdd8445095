package strategy

import (
	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// TrendFollowingName is the stable identity of the trend strategy.
const TrendFollowingName = "TrendFollowing"

// TrendFollowingConfig holds the moving-average crossover parameters.
type TrendFollowingConfig struct {
	FastPeriod int
	SlowPeriod int
	// MaxVolatilityRatio suppresses entries when ATR14/close exceeds it.
	// Zero disables the filter.
	MaxVolatilityRatio float64
}

// DefaultTrendFollowingConfig returns the standard 20/50 crossover setup.
func DefaultTrendFollowingConfig() TrendFollowingConfig {
	return TrendFollowingConfig{
		FastPeriod:         20,
		SlowPeriod:         50,
		MaxVolatilityRatio: 0.05,
	}
}

// TrendFollowing buys when the fast moving average crosses above the slow
// one and sells on the inverse cross.
type TrendFollowing struct {
	config TrendFollowingConfig
}

// NewTrendFollowing creates the trend-following strategy.
func NewTrendFollowing(config TrendFollowingConfig) *TrendFollowing {
	return &TrendFollowing{config: config}
}

// Name implements Strategy.
func (s *TrendFollowing) Name() string { return TrendFollowingName }

// WarmupBars implements Strategy. The slow average must be available; the
// first bar where it is can itself complete a cross.
func (s *TrendFollowing) WarmupBars() int { return s.config.SlowPeriod }

// Suitability implements Strategy.
func (s *TrendFollowing) Suitability(regime types.Regime) float64 {
	switch regime {
	case types.RegimeTrend:
		return 0.9
	case types.RegimeVolatile:
		return 0.6
	case types.RegimeSideways:
		return 0.3
	}
	return 0
}

// GenerateSignal implements Strategy. The signal follows the crossover
// state gated on the book: fast above slow asks for a long, fast below
// slow asks for a short, and a position already on the right side holds.
// Entries from a flat book pass the volatility filter; exits never wait
// for it.
func (s *TrendFollowing) GenerateSignal(bars []types.Bar, sctx Context) types.Side {
	if len(bars) < s.WarmupBars() {
		return types.SideHold
	}
	closes := market.Closes(bars)

	fast, ok := market.SMA(closes, s.config.FastPeriod)
	if !ok {
		return types.SideHold
	}
	slow, ok := market.SMA(closes, s.config.SlowPeriod)
	if !ok {
		return types.SideHold
	}

	pos := sctx.Position
	switch {
	case fast > slow:
		if pos != nil && pos.Side == types.PositionSideLong {
			return types.SideHold
		}
		if pos == nil && s.tooVolatile(bars, closes) {
			return types.SideHold
		}
		return types.SideBuy
	case fast < slow:
		if pos != nil && pos.Side == types.PositionSideShort {
			return types.SideHold
		}
		if pos == nil && s.tooVolatile(bars, closes) {
			return types.SideHold
		}
		return types.SideSell
	}
	return types.SideHold
}

func (s *TrendFollowing) tooVolatile(bars []types.Bar, closes []float64) bool {
	if s.config.MaxVolatilityRatio <= 0 {
		return false
	}
	atr, ok := market.ATR(bars, 14)
	if !ok {
		return false
	}
	price := closes[len(closes)-1]
	return price > 0 && atr/price > s.config.MaxVolatilityRatio
}
