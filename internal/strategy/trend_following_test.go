package strategy_test

import (
	"testing"

	"github.com/kiwi-quant/adaptive-engine/internal/strategy"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

func TestTrendFollowingBuysOnUpwardCross(t *testing.T) {
	s := strategy.NewTrendFollowing(strategy.DefaultTrendFollowingConfig())

	// At exactly the warm-up length the slow average becomes available
	// with the fast one already above it, completing a cross.
	window := ramp(50, 100, 0.5)
	if side := s.GenerateSignal(window, strategy.Context{}); side != types.SideBuy {
		t.Errorf("signal at first slow-average bar = %s, want buy", side)
	}

	// The ask persists while the book is flat, so a rejected entry can be
	// retried on the next bar.
	window = ramp(51, 100, 0.5)
	if side := s.GenerateSignal(window, strategy.Context{}); side != types.SideBuy {
		t.Errorf("signal on later trend bar while flat = %s, want buy", side)
	}

	// An open long on the right side of the cross holds.
	long := &types.Position{Symbol: "BTCUSDT", Side: types.PositionSideLong}
	if side := s.GenerateSignal(window, strategy.Context{Position: long}); side != types.SideHold {
		t.Errorf("signal with aligned long = %s, want hold", side)
	}
}

func TestTrendFollowingExitsLongOnDownwardCross(t *testing.T) {
	s := strategy.NewTrendFollowing(strategy.DefaultTrendFollowingConfig())
	window := ramp(50, 130, -0.5)
	long := &types.Position{Symbol: "BTCUSDT", Side: types.PositionSideLong}
	if side := s.GenerateSignal(window, strategy.Context{Position: long}); side != types.SideSell {
		t.Errorf("signal for long on falling ramp = %s, want sell", side)
	}
}

func TestTrendFollowingSellsOnDownwardCross(t *testing.T) {
	s := strategy.NewTrendFollowing(strategy.DefaultTrendFollowingConfig())
	window := ramp(50, 130, -0.5)
	if side := s.GenerateSignal(window, strategy.Context{}); side != types.SideSell {
		t.Errorf("signal on falling ramp = %s, want sell", side)
	}
}

func TestTrendFollowingVolatilityFilterSuppressesEntry(t *testing.T) {
	s := strategy.NewTrendFollowing(strategy.DefaultTrendFollowingConfig())
	bars := make([]types.Bar, 50)
	for i := range bars {
		// Same rising closes, but wild intrabar ranges.
		bars[i] = mkBar(i, 100+float64(i)*0.5, 20)
	}
	if side := s.GenerateSignal(bars, strategy.Context{}); side != types.SideHold {
		t.Errorf("signal with ATR/close above the cap = %s, want hold", side)
	}
}

func TestTrendFollowingHoldsWithoutCross(t *testing.T) {
	s := strategy.NewTrendFollowing(strategy.DefaultTrendFollowingConfig())
	bars := make([]types.Bar, 80)
	for i := range bars {
		bars[i] = mkBar(i, 100, 0)
	}
	if side := s.GenerateSignal(bars, strategy.Context{}); side != types.SideHold {
		t.Errorf("signal on flat window = %s, want hold", side)
	}
}
