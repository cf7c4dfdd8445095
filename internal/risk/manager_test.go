package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/risk"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func signalAt(price float64) types.Signal {
	return types.Signal{
		ID:             "sig-1",
		Symbol:         "BTCUSDT",
		Side:           types.SideBuy,
		ReferencePrice: decimal.NewFromFloat(price),
		StrategyName:   "TrendFollowing",
		Regime:         types.RegimeTrend,
		GeneratedAt:    epoch,
	}
}

func account(value, buyingPower int64) types.AccountSnapshot {
	return types.AccountSnapshot{
		PortfolioValue: decimal.NewFromInt(value),
		Cash:           decimal.NewFromInt(value),
		BuyingPower:    decimal.NewFromInt(buyingPower),
	}
}

func newManager(cfg types.RiskConfig) *risk.Manager {
	return risk.NewManager(zap.NewNop(), cfg)
}

func TestSizingFormulaWithPositionCap(t *testing.T) {
	m := newManager(types.DefaultRiskConfig())
	stop := decimal.NewFromInt(99)
	res := m.SizeAndValidate(signalAt(100), account(100000, 100000), stop)
	if !res.Approved {
		t.Fatalf("rejected: %s", res.Reason)
	}
	// Raw size 2000 is clamped by the 25% position cap to 250.
	if !res.Plan.Quantity.Equal(decimal.NewFromInt(250)) {
		t.Errorf("quantity = %s, want 250", res.Plan.Quantity)
	}
}

func TestSizingSafetyInvariant(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	m := newManager(cfg)
	acct := account(100000, 80000)
	maxNotional := cfg.Capital.Mul(decimal.NewFromFloat(cfg.MaxPositionFraction))
	maxRisk := cfg.Capital.Mul(decimal.NewFromFloat(cfg.RiskPerTradeFraction))

	for _, entry := range []float64{5, 50, 100, 2500} {
		for _, stopPct := range []float64{0.005, 0.02, 0.08} {
			stop := decimal.NewFromFloat(entry * (1 - stopPct))
			res := m.SizeAndValidate(signalAt(entry), acct, stop)
			if !res.Approved {
				continue
			}
			notional := res.Plan.Quantity.Mul(res.Plan.EntryPrice)
			if notional.GreaterThan(maxNotional) {
				t.Errorf("entry %f: notional %s exceeds cap %s", entry, notional, maxNotional)
			}
			atRisk := res.Plan.Quantity.Mul(res.Plan.EntryPrice.Sub(res.Plan.StopLoss).Abs())
			if atRisk.GreaterThan(maxRisk) {
				t.Errorf("entry %f: risk %s exceeds budget %s", entry, atRisk, maxRisk)
			}
			if notional.GreaterThan(acct.BuyingPower) {
				t.Errorf("entry %f: notional %s exceeds buying power", entry, notional)
			}
		}
	}
}

func TestRejectZeroQuantity(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	cfg.Capital = decimal.NewFromInt(100)
	m := newManager(cfg)
	res := m.SizeAndValidate(signalAt(100), account(100, 100), decimal.NewFromInt(95))
	if res.Approved || res.Reason != risk.ReasonZeroQuantity {
		t.Errorf("result = %+v, want zero-quantity reject", res)
	}
}

func TestRejectInsufficientBuyingPower(t *testing.T) {
	m := newManager(types.DefaultRiskConfig())
	res := m.SizeAndValidate(signalAt(100), account(100000, 50), decimal.NewFromInt(99))
	if res.Approved || res.Reason != risk.ReasonBuyingPower {
		t.Errorf("result = %+v, want buying-power reject", res)
	}
}

func TestRejectConcentration(t *testing.T) {
	m := newManager(types.DefaultRiskConfig())
	acct := account(100000, 100000)
	acct.OpenPositions = []types.Position{{
		Symbol:        "ETHUSDT",
		Side:          types.PositionSideLong,
		Quantity:      decimal.NewFromInt(900),
		AvgEntryPrice: decimal.NewFromInt(100),
		OpenedAt:      epoch,
	}}
	res := m.SizeAndValidate(signalAt(100), acct, decimal.NewFromInt(99))
	if res.Approved || res.Reason != risk.ReasonConcentration {
		t.Errorf("result = %+v, want concentration reject", res)
	}
}

func TestRejectPortfolioDrawdown(t *testing.T) {
	m := newManager(types.DefaultRiskConfig())
	res := m.SizeAndValidate(signalAt(100), account(60000, 60000), decimal.NewFromInt(99))
	if res.Approved || res.Reason != risk.ReasonPortfolioDrawdown {
		t.Errorf("result = %+v, want drawdown reject", res)
	}
}

func TestDeriveStopLossMethods(t *testing.T) {
	entry := decimal.NewFromInt(100)

	cfg := types.DefaultRiskConfig()
	cfg.StopLossMethod = types.StopLossPercent
	cfg.StopLossPercentValue = 0.02
	if stop := newManager(cfg).DeriveStopLoss(entry, 0, types.SideBuy); !stop.Equal(decimal.NewFromInt(98)) {
		t.Errorf("percent stop = %s, want 98", stop)
	}
	if stop := newManager(cfg).DeriveStopLoss(entry, 0, types.SideSell); !stop.Equal(decimal.NewFromInt(102)) {
		t.Errorf("percent stop (sell) = %s, want 102", stop)
	}

	cfg = types.DefaultRiskConfig()
	cfg.StopLossMethod = types.StopLossATR
	cfg.StopLossATRMultiple = 2
	if stop := newManager(cfg).DeriveStopLoss(entry, 1.5, types.SideBuy); !stop.Equal(decimal.NewFromInt(97)) {
		t.Errorf("atr stop = %s, want 97", stop)
	}

	cfg = types.DefaultRiskConfig()
	cfg.StopLossMethod = types.StopLossFixed
	cfg.StopLossFixedOffset = decimal.NewFromInt(1)
	if stop := newManager(cfg).DeriveStopLoss(entry, 0, types.SideBuy); !stop.Equal(decimal.NewFromInt(99)) {
		t.Errorf("fixed stop = %s, want 99", stop)
	}
}

func TestDeriveTakeProfitMirrorsStop(t *testing.T) {
	m := newManager(types.DefaultRiskConfig())
	entry := decimal.NewFromInt(100)
	if tp := m.DeriveTakeProfit(entry, decimal.NewFromInt(95), types.SideBuy); !tp.Equal(decimal.NewFromInt(110)) {
		t.Errorf("take profit (buy) = %s, want 110", tp)
	}
	if tp := m.DeriveTakeProfit(entry, decimal.NewFromInt(105), types.SideSell); !tp.Equal(decimal.NewFromInt(90)) {
		t.Errorf("take profit (sell) = %s, want 90", tp)
	}
}

func TestEntryRiskBoundsAndLevels(t *testing.T) {
	m := newManager(types.DefaultRiskConfig())
	entry := decimal.NewFromInt(100)

	calm := types.RegimeReading{Regime: types.RegimeTrend, ConfidenceTrend: 0.9, ConfidenceSideways: 0.05, ConfidenceVolatile: 0.05}
	score, level, scaling := m.EntryRisk(entry, decimal.NewFromFloat(99.5), 0.2, calm)
	if score < 0 || score > 100 {
		t.Fatalf("score out of bounds: %f", score)
	}
	if level != types.RiskLevelLow || scaling != 1.0 {
		t.Errorf("calm entry = %s/%f, want low/1.0", level, scaling)
	}

	wild := types.RegimeReading{Regime: types.RegimeVolatile, ConfidenceTrend: 0.05, ConfidenceSideways: 0.05, ConfidenceVolatile: 0.9}
	wildScore, wildLevel, wildScaling := m.EntryRisk(entry, decimal.NewFromInt(95), 5, wild)
	if wildScore < 0 || wildScore > 100 {
		t.Fatalf("score out of bounds: %f", wildScore)
	}
	if wildScore <= score {
		t.Errorf("risk score not monotonic: calm %f, wild %f", score, wildScore)
	}
	if wildLevel != types.RiskLevelCritical || wildScaling != 0.25 {
		t.Errorf("wild entry = %s/%f, want critical/0.25", wildLevel, wildScaling)
	}
}

func TestEvaluateAppliesScaling(t *testing.T) {
	cfg := types.DefaultRiskConfig()
	cfg.StopLossMethod = types.StopLossPercent
	cfg.StopLossPercentValue = 0.02
	m := newManager(cfg)

	// Medium-risk context: 2% stop and a volatile-ish regime.
	reading := types.RegimeReading{Regime: types.RegimeTrend, ConfidenceTrend: 0.5, ConfidenceSideways: 0.2, ConfidenceVolatile: 0.3}
	res := m.Evaluate(signalAt(100), account(100000, 100000), 1.0, reading)
	if !res.Approved {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if res.Plan.RiskLevel != types.RiskLevelMedium {
		t.Fatalf("level = %s, want medium", res.Plan.RiskLevel)
	}
	// Cap clamps to 250; medium scaling takes 75% of that.
	if !res.Plan.Quantity.Equal(decimal.NewFromInt(187)) {
		t.Errorf("scaled quantity = %s, want 187", res.Plan.Quantity)
	}
	if res.Plan.TakeProfit.LessThanOrEqual(res.Plan.EntryPrice) {
		t.Error("take profit not above entry for a buy")
	}
}
