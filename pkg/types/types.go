// Package types provides shared type definitions for the adaptive engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a signal or order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

// PositionSide represents long or short position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Regime is a coarse label for the current market character
type Regime string

const (
	RegimeTrend    Regime = "trend"
	RegimeSideways Regime = "sideways"
	RegimeVolatile Regime = "volatile"
)

// Regimes lists all regimes in tie-break order.
var Regimes = []Regime{RegimeTrend, RegimeSideways, RegimeVolatile}

// Timeframe represents trading timeframes
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Bar represents a single candlestick. Bars are immutable and ordered
// per symbol by OpenTime (UTC).
type Bar struct {
	Symbol   string          `json:"symbol"`
	OpenTime time.Time       `json:"openTime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// TradeTick represents a single trade print, used for latest-price tracking
type TradeTick struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"time"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}

// RegimeReading is the classifier output for one bar window. Confidences
// are in [0,1] and sum to 1.
type RegimeReading struct {
	Regime             Regime    `json:"regime"`
	ConfidenceTrend    float64   `json:"confidenceTrend"`
	ConfidenceSideways float64   `json:"confidenceSideways"`
	ConfidenceVolatile float64   `json:"confidenceVolatile"`
	Initializing       bool      `json:"initializing"`
	ComputedAt         time.Time `json:"computedAt"`
}

// Confidence returns the confidence assigned to the given regime.
func (r RegimeReading) Confidence(regime Regime) float64 {
	switch regime {
	case RegimeTrend:
		return r.ConfidenceTrend
	case RegimeSideways:
		return r.ConfidenceSideways
	case RegimeVolatile:
		return r.ConfidenceVolatile
	}
	return 0
}

// Signal represents a discrete trading decision produced by a strategy
type Signal struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	ReferencePrice decimal.Decimal `json:"referencePrice"`
	StrategyName   string          `json:"strategyName"`
	Regime         Regime          `json:"regime"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// Position represents an open position
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	OpenedAt      time.Time       `json:"openedAt"`
}

// Trade represents a closed round trip
type Trade struct {
	Symbol         string          `json:"symbol"`
	Side           PositionSide    `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	EntryPrice     decimal.Decimal `json:"entryPrice"`
	ExitPrice      decimal.Decimal `json:"exitPrice"`
	OpenedAt       time.Time       `json:"openedAt"`
	ClosedAt       time.Time       `json:"closedAt"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	CapitalAtEntry decimal.Decimal `json:"capitalAtEntry"`
	StrategyName   string          `json:"strategyName"`
	RegimeAtEntry  Regime          `json:"regimeAtEntry"`
}

// AccountSnapshot represents the broker account state
type AccountSnapshot struct {
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buyingPower"`
	OpenPositions  []Position      `json:"openPositions"`
}

// RiskLevel buckets the entry-risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// OrderPlan is a sized, risk-checked order proposal derived from a signal
type OrderPlan struct {
	Signal     Signal          `json:"signal"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	RiskScore  float64         `json:"riskScore"`
	RiskLevel  RiskLevel       `json:"riskLevel"`
	Scaling    float64         `json:"scaling"`
}

// Recommendation is the engine's outward-facing proposal: a signal with
// its plan, risk assessment, and a human-readable rationale.
type Recommendation struct {
	SignalID         string          `json:"signalId"`
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	ReferencePrice   decimal.Decimal `json:"referencePrice"`
	StrategyName     string          `json:"strategyName"`
	Regime           Regime          `json:"regime"`
	RegimeConfidence float64         `json:"regimeConfidence"`
	RiskScore        float64         `json:"riskScore"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
	SuggestedQty     decimal.Decimal `json:"suggestedQty"`
	StopLoss         decimal.Decimal `json:"stopLoss"`
	TakeProfit       decimal.Decimal `json:"takeProfit"`
	GeneratedAt      time.Time       `json:"generatedAt"`
	Rationale        string          `json:"rationale"`
	RejectedByBroker bool            `json:"rejectedByBroker,omitempty"`
	RejectReason     string          `json:"rejectReason,omitempty"`
}

// SwitchReason explains why the selector changed the active strategy
type SwitchReason string

const (
	SwitchReasonScore        SwitchReason = "score_exceeds_hysteresis"
	SwitchReasonDegradation  SwitchReason = "performance_degrading"
	SwitchReasonRegimeChange SwitchReason = "regime_change"
)

// SwitchEvent records an actual strategy switch
type SwitchEvent struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Reason SwitchReason `json:"reason"`
	Regime Regime       `json:"regime"`
	At     time.Time    `json:"at"`
}

// PerformanceState is the four-bucket health label for a strategy
type PerformanceState string

const (
	PerformanceExcellent        PerformanceState = "excellent"
	PerformanceGood             PerformanceState = "good"
	PerformanceDegrading        PerformanceState = "degrading"
	PerformancePoor             PerformanceState = "poor"
	PerformanceInsufficientData PerformanceState = "insufficient_data"
)

// EngineMode selects the broker implementation; core logic is identical
type EngineMode string

const (
	ModePaper EngineMode = "paper"
	ModeLive  EngineMode = "live"
	ModeMock  EngineMode = "mock"
)

// StatusCode is the machine-readable code on a status event
type StatusCode string

const (
	StatusInitializing     StatusCode = "initializing"
	StatusScanning         StatusCode = "scanning"
	StatusSignalSuppressed StatusCode = "signal_suppressed"
	StatusSignalEmitted    StatusCode = "signal_emitted"
	StatusOrderAccepted    StatusCode = "order_accepted"
	StatusOrderRejected    StatusCode = "order_rejected"
	StatusRiskRejected     StatusCode = "risk_rejected"
	StatusReconnecting     StatusCode = "reconnecting"
	StatusStopped          StatusCode = "stopped"
)

// StatusEvent describes an engine state transition for outside consumers
type StatusEvent struct {
	Code    StatusCode `json:"code"`
	Symbol  string     `json:"symbol,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// ErrorClass buckets handled errors for the typed counters
type ErrorClass string

const (
	ErrorTransientStream ErrorClass = "transient_stream"
	ErrorConnectionLimit ErrorClass = "connection_limit"
	ErrorBrokerReject    ErrorClass = "broker_reject"
	ErrorRiskReject      ErrorClass = "risk_reject"
	ErrorDataIntegrity   ErrorClass = "data_integrity"
	ErrorFatal           ErrorClass = "fatal"
)
