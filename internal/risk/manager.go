// Package risk converts raw signals into sized, validated order plans and
// computes portfolio-level risk summaries.
package risk

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Reject reasons returned by SizeAndValidate.
const (
	ReasonZeroQuantity      = "position size rounds to zero"
	ReasonBuyingPower       = "insufficient buying power"
	ReasonConcentration     = "portfolio concentration limit"
	ReasonPortfolioDrawdown = "portfolio drawdown limit"
	ReasonStopAtEntry       = "stop equals entry"
)

// Result is the outcome of sizing and validating a signal. A rejected
// result carries the reason and an empty plan.
type Result struct {
	Approved bool            `json:"approved"`
	Plan     types.OrderPlan `json:"plan"`
	Reason   string          `json:"reason,omitempty"`
}

// Summary is the portfolio-level risk picture.
type Summary struct {
	PortfolioValue   decimal.Decimal `json:"portfolioValue"`
	Cash             decimal.Decimal `json:"cash"`
	Exposure         decimal.Decimal `json:"exposure"`
	ExposureFraction float64         `json:"exposureFraction"`
	Drawdown         float64         `json:"drawdown"`
	PositionCount    int             `json:"positionCount"`
}

// Manager sizes and validates trades against the configured risk limits.
type Manager struct {
	logger *zap.Logger
	config types.RiskConfig
}

// NewManager creates a risk manager.
func NewManager(logger *zap.Logger, config types.RiskConfig) *Manager {
	return &Manager{
		logger: logger.Named("risk"),
		config: config,
	}
}

// Evaluate runs the full gate for a signal: derive the stop and target,
// size the position, validate it, and attach the entry-risk assessment
// with its size scaling applied.
func (m *Manager) Evaluate(signal types.Signal, account types.AccountSnapshot, atr float64, reading types.RegimeReading) Result {
	entry := signal.ReferencePrice
	stop := m.DeriveStopLoss(entry, atr, signal.Side)

	res := m.SizeAndValidate(signal, account, stop)
	if !res.Approved {
		return res
	}

	score, level, scaling := m.EntryRisk(entry, stop, atr, reading)
	plan := res.Plan
	plan.TakeProfit = m.DeriveTakeProfit(entry, stop, signal.Side)
	plan.RiskScore = score
	plan.RiskLevel = level
	plan.Scaling = scaling
	plan.Quantity = plan.Quantity.Mul(decimal.NewFromFloat(scaling)).Floor()
	if plan.Quantity.LessThanOrEqual(decimal.Zero) {
		return Result{Reason: ReasonZeroQuantity}
	}
	res.Plan = plan
	return res
}

// SizeAndValidate computes the position size for a signal and validates
// it against buying power, concentration, and drawdown limits.
func (m *Manager) SizeAndValidate(signal types.Signal, account types.AccountSnapshot, stop decimal.Decimal) Result {
	entry := signal.ReferencePrice
	dist := entry.Sub(stop).Abs()
	if dist.IsZero() || entry.LessThanOrEqual(decimal.Zero) {
		return Result{Reason: ReasonStopAtEntry}
	}

	capital := m.config.Capital
	riskBudget := capital.Mul(decimal.NewFromFloat(m.config.RiskPerTradeFraction))
	qty := riskBudget.Div(dist).Floor()
	if qty.LessThanOrEqual(decimal.Zero) {
		return Result{Reason: ReasonZeroQuantity}
	}

	// Clamp to the position-size cap.
	maxNotional := capital.Mul(decimal.NewFromFloat(m.config.MaxPositionFraction))
	if capQty := maxNotional.Div(entry).Floor(); qty.GreaterThan(capQty) {
		qty = capQty
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return Result{Reason: ReasonZeroQuantity}
	}

	// Clamp to buying power.
	if qty.Mul(entry).GreaterThan(account.BuyingPower) {
		qty = account.BuyingPower.Div(entry).Floor()
		if qty.LessThanOrEqual(decimal.Zero) {
			return Result{Reason: ReasonBuyingPower}
		}
	}

	// Concentration after the trade.
	if account.PortfolioValue.GreaterThan(decimal.Zero) {
		exposure := positionsNotional(account.OpenPositions).Add(qty.Mul(entry))
		limit := decimal.NewFromFloat(1 - m.config.CashFloor)
		if exposure.Div(account.PortfolioValue).GreaterThan(limit) {
			return Result{Reason: ReasonConcentration}
		}
	}

	// Portfolio drawdown against configured capital.
	if capital.GreaterThan(decimal.Zero) && account.PortfolioValue.GreaterThan(decimal.Zero) {
		dd := capital.Sub(account.PortfolioValue).Div(capital).InexactFloat64()
		if dd > m.config.MaxPortfolioRiskFraction {
			return Result{Reason: ReasonPortfolioDrawdown}
		}
	}

	return Result{
		Approved: true,
		Plan: types.OrderPlan{
			Signal:     signal,
			Quantity:   qty,
			EntryPrice: entry,
			StopLoss:   stop,
			Scaling:    1,
		},
	}
}

// DeriveStopLoss computes the initial stop for an entry at the given
// price. Buys stop below the entry, sells above it.
func (m *Manager) DeriveStopLoss(entry decimal.Decimal, atr float64, side types.Side) decimal.Decimal {
	var offset decimal.Decimal
	switch m.config.StopLossMethod {
	case types.StopLossPercent:
		offset = entry.Mul(decimal.NewFromFloat(m.config.StopLossPercentValue))
	case types.StopLossATR:
		offset = decimal.NewFromFloat(atr * m.config.StopLossATRMultiple)
	case types.StopLossFixed:
		offset = m.config.StopLossFixedOffset
	}
	if side == types.SideSell {
		return entry.Add(offset)
	}
	return entry.Sub(offset)
}

// DeriveTakeProfit mirrors the stop distance by the reward/risk ratio.
func (m *Manager) DeriveTakeProfit(entry, stop decimal.Decimal, side types.Side) decimal.Decimal {
	rr := decimal.NewFromFloat(m.config.RewardRiskRatio)
	if side == types.SideSell {
		return entry.Sub(rr.Mul(stop.Sub(entry)))
	}
	return entry.Add(rr.Mul(entry.Sub(stop)))
}

// EntryRisk scores the entry in [0,100] from the stop distance, the
// price volatility, and the regime's volatility confidence, and maps the
// score to a level with its position-size scaling factor.
func (m *Manager) EntryRisk(entry, stop decimal.Decimal, atr float64, reading types.RegimeReading) (float64, types.RiskLevel, float64) {
	price := entry.InexactFloat64()
	stopDist, volRatio := 0.0, 0.0
	if price > 0 {
		stopDist = clamp(entry.Sub(stop).Abs().InexactFloat64()/price/0.05, 0, 1)
		volRatio = clamp(atr/price/0.05, 0, 1)
	}
	regimeVol := clamp(reading.ConfidenceVolatile, 0, 1)

	score := 100 * (0.4*stopDist + 0.3*volRatio + 0.3*regimeVol)
	level, scaling := riskLevel(score)
	return score, level, scaling
}

// PortfolioRisk summarizes the account's current risk posture.
func (m *Manager) PortfolioRisk(account types.AccountSnapshot) Summary {
	exposure := positionsNotional(account.OpenPositions)
	s := Summary{
		PortfolioValue: account.PortfolioValue,
		Cash:           account.Cash,
		Exposure:       exposure,
		PositionCount:  len(account.OpenPositions),
	}
	if account.PortfolioValue.GreaterThan(decimal.Zero) {
		s.ExposureFraction = exposure.Div(account.PortfolioValue).InexactFloat64()
	}
	if m.config.Capital.GreaterThan(decimal.Zero) {
		dd := m.config.Capital.Sub(account.PortfolioValue).Div(m.config.Capital).InexactFloat64()
		if dd > 0 {
			s.Drawdown = dd
		}
	}
	return s
}

func riskLevel(score float64) (types.RiskLevel, float64) {
	switch {
	case score <= 25:
		return types.RiskLevelLow, 1.0
	case score <= 50:
		return types.RiskLevelMedium, 0.75
	case score <= 75:
		return types.RiskLevelHigh, 0.5
	default:
		return types.RiskLevelCritical, 0.25
	}
}

func positionsNotional(positions []types.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Quantity.Mul(p.AvgEntryPrice))
	}
	return total
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
