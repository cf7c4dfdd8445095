package selector_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/selector"
	"github.com/kiwi-quant/adaptive-engine/internal/strategy"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// stubPerf is a scriptable PerformanceSource.
type stubPerf struct {
	bias  map[string]float64
	state map[string]types.PerformanceState
}

func newStubPerf() *stubPerf {
	return &stubPerf{
		bias:  make(map[string]float64),
		state: make(map[string]types.PerformanceState),
	}
}

func (p *stubPerf) StrategyBias(name string, _ types.Regime, _ int) float64 {
	return p.bias[name]
}

func (p *stubPerf) StrategyState(name string, _ int) types.PerformanceState {
	if s, ok := p.state[name]; ok {
		return s
	}
	return types.PerformanceGood
}

func reading(regime types.Regime, confidence float64) types.RegimeReading {
	r := types.RegimeReading{Regime: regime, ComputedAt: epoch}
	rest := (1 - confidence) / 2
	switch regime {
	case types.RegimeTrend:
		r.ConfidenceTrend = confidence
		r.ConfidenceSideways = rest
		r.ConfidenceVolatile = rest
	case types.RegimeSideways:
		r.ConfidenceSideways = confidence
		r.ConfidenceTrend = rest
		r.ConfidenceVolatile = rest
	case types.RegimeVolatile:
		r.ConfidenceVolatile = confidence
		r.ConfidenceTrend = rest
		r.ConfidenceSideways = rest
	}
	return r
}

func newSelector() *selector.Selector {
	return selector.NewSelector(zap.NewNop(), selector.DefaultConfig(),
		strategy.NewDefaultRegistry().CreateAll())
}

func TestSelectIsStableWithConstantInputs(t *testing.T) {
	s := newSelector()
	perf := newStubPerf()
	r := reading(types.RegimeTrend, 0.8)

	active, event := s.Select(r, perf, epoch)
	if active.Name() != strategy.TrendFollowingName {
		t.Fatalf("initial selection = %s, want TrendFollowing", active.Name())
	}
	if event != nil {
		t.Errorf("initial adoption emitted a switch event: %+v", event)
	}
	for i := 0; i < 10; i++ {
		next, event := s.Select(r, perf, epoch.Add(time.Duration(i)*time.Second))
		if next != active {
			t.Fatalf("selection changed with constant inputs: %s", next.Name())
		}
		if event != nil {
			t.Fatalf("switch event with constant inputs: %+v", event)
		}
	}
}

func TestHysteresisBlocksMarginalChallenger(t *testing.T) {
	s := newSelector()
	perf := newStubPerf()
	r := reading(types.RegimeTrend, 0.2)

	active, _ := s.Select(r, perf, epoch)
	if active.Name() != strategy.TrendFollowingName {
		t.Fatalf("initial selection = %s", active.Name())
	}

	// VolatilityBreakout now outscores the active strategy, but by less
	// than the hysteresis margin.
	perf.bias[strategy.VolatilityBreakoutName] = 0.6
	next, event := s.Select(r, perf, epoch.Add(time.Second))
	if event != nil || next.Name() != strategy.TrendFollowingName {
		t.Errorf("marginal challenger caused a switch: %v", event)
	}
}

func TestSwitchOnScoreMargin(t *testing.T) {
	s := newSelector()
	perf := newStubPerf()
	r := reading(types.RegimeTrend, 0.2)

	s.Select(r, perf, epoch)
	perf.bias[strategy.VolatilityBreakoutName] = 1.0
	next, event := s.Select(r, perf, epoch.Add(time.Second))
	if event == nil {
		t.Fatal("no switch despite score exceeding hysteresis")
	}
	if event.Reason != types.SwitchReasonScore {
		t.Errorf("reason = %s, want %s", event.Reason, types.SwitchReasonScore)
	}
	if next.Name() != strategy.VolatilityBreakoutName {
		t.Errorf("active = %s, want VolatilityBreakout", next.Name())
	}
}

func TestSwitchOnConsecutiveDegradation(t *testing.T) {
	s := newSelector()
	perf := newStubPerf()
	r := reading(types.RegimeTrend, 0.2)

	s.Select(r, perf, epoch)
	perf.bias[strategy.VolatilityBreakoutName] = 0.6
	perf.state[strategy.TrendFollowingName] = types.PerformanceDegrading

	if _, event := s.Select(r, perf, epoch.Add(time.Second)); event != nil {
		t.Fatalf("switched after a single degrading window: %+v", event)
	}
	next, event := s.Select(r, perf, epoch.Add(2*time.Second))
	if event == nil {
		t.Fatal("no switch after two consecutive degrading windows")
	}
	if event.Reason != types.SwitchReasonDegradation {
		t.Errorf("reason = %s, want %s", event.Reason, types.SwitchReasonDegradation)
	}
	if next.Name() != strategy.VolatilityBreakoutName {
		t.Errorf("active = %s, want VolatilityBreakout", next.Name())
	}
}

func TestSwitchOnRegimeChangeWithLowSuitability(t *testing.T) {
	s := newSelector()
	perf := newStubPerf()

	s.Select(reading(types.RegimeTrend, 0.9), perf, epoch)

	next, event := s.Select(reading(types.RegimeSideways, 0.9), perf, epoch.Add(time.Second))
	if event == nil {
		t.Fatal("no switch after regime change with low suitability")
	}
	if event.Reason != types.SwitchReasonRegimeChange {
		t.Errorf("reason = %s, want %s", event.Reason, types.SwitchReasonRegimeChange)
	}
	if event.From != strategy.TrendFollowingName || event.To != strategy.MeanReversionName {
		t.Errorf("switch = %s -> %s", event.From, event.To)
	}
	if next.Name() != strategy.MeanReversionName {
		t.Errorf("active = %s, want MeanReversion", next.Name())
	}

	// The switch consumed the regime change: repeating the reading must
	// not produce another event.
	if _, event := s.Select(reading(types.RegimeSideways, 0.9), perf, epoch.Add(2*time.Second)); event != nil {
		t.Errorf("second event for the same regime change: %+v", event)
	}
}
