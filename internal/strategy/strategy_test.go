package strategy_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kiwi-quant/adaptive-engine/internal/strategy"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// mkBar builds a bar with a symmetric high/low spread around the close.
func mkBar(i int, close, spread float64) types.Bar {
	return types.Bar{
		Symbol:   "BTCUSDT",
		OpenTime: epoch.Add(time.Duration(i) * time.Minute),
		Open:     decimal.NewFromFloat(close),
		High:     decimal.NewFromFloat(close + spread/2),
		Low:      decimal.NewFromFloat(close - spread/2),
		Close:    decimal.NewFromFloat(close),
		Volume:   decimal.NewFromInt(1000),
	}
}

func ramp(n int, start, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = mkBar(i, start+float64(i)*step, 0)
	}
	return bars
}

func TestRegistryListsBuiltins(t *testing.T) {
	r := strategy.NewDefaultRegistry()
	names := r.List()
	want := []string{
		strategy.MeanReversionName,
		strategy.TrendFollowingName,
		strategy.VolatilityBreakoutName,
	}
	if len(names) != len(want) {
		t.Fatalf("List = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	if _, err := r.Create("nope"); err == nil {
		t.Error("Create of unknown strategy did not fail")
	}
}

func TestAllStrategiesHoldDuringWarmup(t *testing.T) {
	for _, s := range strategy.NewDefaultRegistry().CreateAll() {
		for n := 0; n < s.WarmupBars(); n += 7 {
			side := s.GenerateSignal(ramp(n, 100, 1), strategy.Context{})
			if side != types.SideHold {
				t.Errorf("%s with %d/%d bars returned %s, want hold",
					s.Name(), n, s.WarmupBars(), side)
			}
		}
	}
}

func TestSuitabilityMatrices(t *testing.T) {
	cases := []struct {
		name                 string
		trend, sideways, vol float64
	}{
		{strategy.TrendFollowingName, 0.9, 0.3, 0.6},
		{strategy.MeanReversionName, 0.3, 0.9, 0.5},
		{strategy.VolatilityBreakoutName, 0.6, 0.4, 0.9},
	}
	r := strategy.NewDefaultRegistry()
	for _, c := range cases {
		s, err := r.Create(c.name)
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Suitability(types.RegimeTrend); got != c.trend {
			t.Errorf("%s trend suitability = %f, want %f", c.name, got, c.trend)
		}
		if got := s.Suitability(types.RegimeSideways); got != c.sideways {
			t.Errorf("%s sideways suitability = %f, want %f", c.name, got, c.sideways)
		}
		if got := s.Suitability(types.RegimeVolatile); got != c.vol {
			t.Errorf("%s volatile suitability = %f, want %f", c.name, got, c.vol)
		}
	}
}
