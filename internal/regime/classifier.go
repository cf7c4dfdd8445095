// Package regime classifies the current market character from a window of
// recent bars into TREND, SIDEWAYS, or VOLATILE with a confidence per
// regime.
package regime

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Config holds the classifier parameters.
type Config struct {
	// MinBars is the window length below which readings are marked
	// initializing with uniform confidences.
	MinBars int
	// MomentumPeriod is the lookback for rate-of-change.
	MomentumPeriod int
	// VolatilityPeriod is the short volatility lookback.
	VolatilityPeriod int
	// BaselinePeriod is the long lookback volatility is normalized against.
	BaselinePeriod int
	// ATRBaselinePeriod is the lookback for the ATR expansion baseline.
	ATRBaselinePeriod int
	// MomentumScale is the absolute rate-of-change treated as full
	// momentum.
	MomentumScale float64
	// MASpreadScale is the SMA20/SMA50 spread (as a fraction of price)
	// treated as full trend strength.
	MASpreadScale float64
	// Weights for the six score terms.
	TrendMomentumWeight  float64
	TrendStrengthWeight  float64
	RangeMomentumWeight  float64
	RangeStabilityWeight float64
	VolExcessWeight      float64
	VolExpansionWeight   float64
	// HistorySize bounds the retained reading history.
	HistorySize int
}

// DefaultConfig returns the standard classifier configuration.
func DefaultConfig() Config {
	return Config{
		MinBars:              20,
		MomentumPeriod:       20,
		VolatilityPeriod:     20,
		BaselinePeriod:       60,
		ATRBaselinePeriod:    50,
		MomentumScale:        0.10,
		MASpreadScale:        0.02,
		TrendMomentumWeight:  1.0,
		TrendStrengthWeight:  1.0,
		RangeMomentumWeight:  1.0,
		RangeStabilityWeight: 1.0,
		VolExcessWeight:      1.0,
		VolExpansionWeight:   1.0,
		HistorySize:          500,
	}
}

// Features is the extracted feature vector a classification is based on.
type Features struct {
	Momentum       float64
	MomentumNorm   float64
	TrendStrength  float64
	Volatility     float64
	VolExcess      float64
	RangeExpansion float64
}

// Classifier converts a bar window into a RegimeReading. Classification is
// a pure function of the window; the classifier additionally keeps a
// bounded history of readings for reporting.
type Classifier struct {
	logger *zap.Logger
	config Config

	mu      sync.RWMutex
	history []types.RegimeReading
}

// NewClassifier creates a regime classifier.
func NewClassifier(logger *zap.Logger, config Config) *Classifier {
	return &Classifier{
		logger: logger.Named("regime"),
		config: config,
	}
}

// Classify computes a RegimeReading for the window, records it in the
// history, and returns it. Windows shorter than MinBars produce an
// initializing reading with uniform confidences.
func (c *Classifier) Classify(bars []types.Bar, now time.Time) types.RegimeReading {
	reading := c.classify(bars, now)
	c.record(reading)
	return reading
}

func (c *Classifier) classify(bars []types.Bar, now time.Time) types.RegimeReading {
	if len(bars) < c.config.MinBars {
		return types.RegimeReading{
			Regime:             types.RegimeTrend,
			ConfidenceTrend:    1.0 / 3,
			ConfidenceSideways: 1.0 / 3,
			ConfidenceVolatile: 1.0 / 3,
			Initializing:       true,
			ComputedAt:         now,
		}
	}

	f := c.ExtractFeatures(bars)

	trendScore := c.config.TrendMomentumWeight*f.MomentumNorm +
		c.config.TrendStrengthWeight*f.TrendStrength
	rangeScore := c.config.RangeMomentumWeight*(1-f.MomentumNorm) +
		c.config.RangeStabilityWeight*(1-math.Min(math.Abs(f.VolExcess), 1))
	volScore := c.config.VolExcessWeight*math.Max(f.VolExcess, 0) +
		c.config.VolExpansionWeight*math.Max(f.RangeExpansion, 0)

	trendScore = math.Max(trendScore, 0)
	rangeScore = math.Max(rangeScore, 0)
	volScore = math.Max(volScore, 0)

	confTrend, confRange, confVol := softmax3(trendScore, rangeScore, volScore)

	// Argmax with a fixed tie-break order for reproducibility.
	regime := types.RegimeTrend
	best := confTrend
	if confRange > best {
		regime = types.RegimeSideways
		best = confRange
	}
	if confVol > best {
		regime = types.RegimeVolatile
	}

	c.logger.Debug("Classified regime",
		zap.String("regime", string(regime)),
		zap.Float64("trendScore", trendScore),
		zap.Float64("rangeScore", rangeScore),
		zap.Float64("volScore", volScore))

	return types.RegimeReading{
		Regime:             regime,
		ConfidenceTrend:    confTrend,
		ConfidenceSideways: confRange,
		ConfidenceVolatile: confVol,
		ComputedAt:         now,
	}
}

// ExtractFeatures computes the classification feature vector.
func (c *Classifier) ExtractFeatures(bars []types.Bar) Features {
	closes := market.Closes(bars)
	var f Features

	mom, _ := market.ROC(closes, c.config.MomentumPeriod)
	f.Momentum = mom

	vol, volOK := market.Volatility(closes, c.config.VolatilityPeriod)
	f.Volatility = vol

	if c.config.MomentumScale > 0 {
		f.MomentumNorm = clamp(math.Abs(mom)/c.config.MomentumScale, 0, 1)
	}

	if sma20, ok := market.SMA(closes, 20); ok {
		if sma50, ok := market.SMA(closes, 50); ok {
			price := closes[len(closes)-1]
			if price > 0 && c.config.MASpreadScale > 0 {
				spread := math.Abs(sma20-sma50) / price
				f.TrendStrength = clamp(spread/c.config.MASpreadScale, 0, 1)
			}
		}
	}

	// Short volatility relative to a longer baseline.
	basePeriod := c.config.BaselinePeriod
	if basePeriod > len(closes)-1 {
		basePeriod = len(closes) - 1
	}
	if volOK && basePeriod > c.config.VolatilityPeriod {
		if baseVol, ok := market.Volatility(closes, basePeriod); ok && baseVol > 0 {
			f.VolExcess = clamp(vol/baseVol-1, -1, 3)
		}
	}

	// ATR expansion relative to its recent mean.
	atrSeries := market.ATRSeries(bars, 14)
	if last := len(atrSeries) - 1; last >= 0 && atrSeries[last].OK {
		sum, n := 0.0, 0
		start := len(atrSeries) - c.config.ATRBaselinePeriod
		if start < 0 {
			start = 0
		}
		for _, v := range atrSeries[start:] {
			if v.OK {
				sum += v.V
				n++
			}
		}
		if n > 0 && sum > 0 {
			f.RangeExpansion = clamp(atrSeries[last].V/(sum/float64(n))-1, -1, 3)
		}
	}
	return f
}

// History returns a copy of the recorded readings, most recent last.
func (c *Classifier) History() []types.RegimeReading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.RegimeReading, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Classifier) record(reading types.RegimeReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, reading)
	if len(c.history) > c.config.HistorySize {
		c.history = c.history[len(c.history)-c.config.HistorySize:]
	}
}

func softmax3(a, b, c float64) (float64, float64, float64) {
	max := math.Max(a, math.Max(b, c))
	ea := math.Exp(a - max)
	eb := math.Exp(b - max)
	ec := math.Exp(c - max)
	sum := ea + eb + ec
	return ea / sum, eb / sum, ec / sum
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
