// Package selector implements the meta-policy that maps the current
// regime reading and recent strategy performance onto the active strategy.
package selector

import (
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/strategy"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Config holds the selector parameters.
type Config struct {
	// Lambda weights the performance bias against the suitability score.
	Lambda float64
	// Hysteresis is the score margin a challenger must clear.
	Hysteresis float64
	// DegradingWindows is how many consecutive degrading evaluations of
	// the active strategy force a switch.
	DegradingWindows int
	// SuitabilityFloor is the suitability below which a regime change
	// forces a switch.
	SuitabilityFloor float64
	// PerformanceWindow is the trade window consulted for bias and state.
	PerformanceWindow int
}

// DefaultConfig returns the standard selector configuration.
func DefaultConfig() Config {
	return Config{
		Lambda:            0.2,
		Hysteresis:        0.1,
		DegradingWindows:  2,
		SuitabilityFloor:  0.5,
		PerformanceWindow: 50,
	}
}

// PerformanceSource is the slice of the performance monitor the selector
// consults.
type PerformanceSource interface {
	StrategyBias(strategyName string, regime types.Regime, window int) float64
	StrategyState(strategyName string, window int) types.PerformanceState
}

// Score is one strategy's evaluation at a decision point.
type Score struct {
	Strategy string  `json:"strategy"`
	Value    float64 `json:"value"`
}

// Selector owns the one-slot active strategy and the counters behind the
// switch hysteresis rules.
type Selector struct {
	logger     *zap.Logger
	config     Config
	strategies []strategy.Strategy

	current         strategy.Strategy
	degradingStreak int
	lastRegime      types.Regime
}

// NewSelector creates a selector over the given strategies. The slice
// order breaks score ties, so callers pass a deterministic order.
func NewSelector(logger *zap.Logger, config Config, strategies []strategy.Strategy) *Selector {
	return &Selector{
		logger:     logger.Named("selector"),
		config:     config,
		strategies: strategies,
	}
}

// Current returns the active strategy, or nil before the first selection.
func (s *Selector) Current() strategy.Strategy { return s.current }

// Select evaluates all strategies against the reading and returns the
// active strategy, emitting a SwitchEvent only when the switch protocol
// demands one.
func (s *Selector) Select(reading types.RegimeReading, perf PerformanceSource, now time.Time) (strategy.Strategy, *types.SwitchEvent) {
	scores := s.Scores(reading, perf)
	best, bestScore := s.strategies[0], scores[0].Value
	for i := 1; i < len(s.strategies); i++ {
		if scores[i].Value > bestScore {
			best, bestScore = s.strategies[i], scores[i].Value
		}
	}

	regimeChanged := s.lastRegime != "" && s.lastRegime != reading.Regime
	s.lastRegime = reading.Regime

	if s.current == nil {
		s.current = best
		s.logger.Info("Adopted initial strategy",
			zap.String("strategy", best.Name()),
			zap.String("regime", string(reading.Regime)))
		return s.current, nil
	}

	state := perf.StrategyState(s.current.Name(), s.config.PerformanceWindow)
	if state == types.PerformanceDegrading || state == types.PerformancePoor {
		s.degradingStreak++
	} else {
		s.degradingStreak = 0
	}

	if best == s.current {
		return s.current, nil
	}

	currentScore := 0.0
	for i, st := range s.strategies {
		if st == s.current {
			currentScore = scores[i].Value
		}
	}

	var reason types.SwitchReason
	switch {
	case regimeChanged && s.current.Suitability(reading.Regime) < s.config.SuitabilityFloor:
		reason = types.SwitchReasonRegimeChange
	case s.degradingStreak >= s.config.DegradingWindows:
		reason = types.SwitchReasonDegradation
	case bestScore >= currentScore+s.config.Hysteresis:
		reason = types.SwitchReasonScore
	default:
		return s.current, nil
	}

	event := &types.SwitchEvent{
		From:   s.current.Name(),
		To:     best.Name(),
		Reason: reason,
		Regime: reading.Regime,
		At:     now,
	}
	s.logger.Info("Switching strategy",
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.String("reason", string(reason)),
		zap.String("regime", string(reading.Regime)))
	s.current = best
	s.degradingStreak = 0
	return s.current, event
}

// Scores returns the per-strategy scores for the reading, in strategy
// order.
func (s *Selector) Scores(reading types.RegimeReading, perf PerformanceSource) []Score {
	out := make([]Score, len(s.strategies))
	confidence := reading.Confidence(reading.Regime)
	for i, st := range s.strategies {
		bias := perf.StrategyBias(st.Name(), reading.Regime, s.config.PerformanceWindow)
		out[i] = Score{
			Strategy: st.Name(),
			Value:    st.Suitability(reading.Regime)*confidence + s.config.Lambda*bias,
		}
	}
	return out
}
