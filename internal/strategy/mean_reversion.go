package strategy

import (
	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// MeanReversionName is the stable identity of the mean-reversion strategy.
const MeanReversionName = "MeanReversion"

// MeanReversionConfig holds the RSI and Bollinger parameters.
type MeanReversionConfig struct {
	RSIPeriod  int
	Oversold   float64
	Overbought float64
	BandPeriod int
	BandK      float64
}

// DefaultMeanReversionConfig returns the standard RSI14 / Bollinger(20,2)
// setup.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		RSIPeriod:  14,
		Oversold:   30,
		Overbought: 70,
		BandPeriod: 20,
		BandK:      2,
	}
}

// MeanReversion buys oversold touches of the lower Bollinger band, sells
// overbought touches of the upper band, and exits open positions on a
// re-touch of the middle band.
type MeanReversion struct {
	config MeanReversionConfig
}

// NewMeanReversion creates the mean-reversion strategy.
func NewMeanReversion(config MeanReversionConfig) *MeanReversion {
	return &MeanReversion{config: config}
}

// Name implements Strategy.
func (s *MeanReversion) Name() string { return MeanReversionName }

// WarmupBars implements Strategy.
func (s *MeanReversion) WarmupBars() int {
	if s.config.RSIPeriod+1 > s.config.BandPeriod {
		return s.config.RSIPeriod + 1
	}
	return s.config.BandPeriod
}

// Suitability implements Strategy.
func (s *MeanReversion) Suitability(regime types.Regime) float64 {
	switch regime {
	case types.RegimeSideways:
		return 0.9
	case types.RegimeVolatile:
		return 0.5
	case types.RegimeTrend:
		return 0.3
	}
	return 0
}

// GenerateSignal implements Strategy.
func (s *MeanReversion) GenerateSignal(bars []types.Bar, ctx Context) types.Side {
	if len(bars) < s.WarmupBars() {
		return types.SideHold
	}
	closes := market.Closes(bars)

	rsi, ok := market.RSI(closes, s.config.RSIPeriod)
	if !ok {
		return types.SideHold
	}
	upper, middle, lower, ok := market.Bollinger(closes, s.config.BandPeriod, s.config.BandK)
	if !ok {
		return types.SideHold
	}
	price := closes[len(closes)-1]

	if rsi < s.config.Oversold && price <= lower {
		return types.SideBuy
	}
	if rsi > s.config.Overbought && price >= upper {
		return types.SideSell
	}

	// Mid-band exit for an open position.
	if ctx.Position != nil {
		switch ctx.Position.Side {
		case types.PositionSideLong:
			if price >= middle {
				return types.SideSell
			}
		case types.PositionSideShort:
			if price <= middle {
				return types.SideBuy
			}
		}
	}
	return types.SideHold
}
