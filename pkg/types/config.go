// Package types provides configuration types for the adaptive engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StopLossMethod selects how the initial stop is derived
type StopLossMethod string

const (
	StopLossPercent StopLossMethod = "percent"
	StopLossATR     StopLossMethod = "atr"
	StopLossFixed   StopLossMethod = "fixed"
)

// RiskConfig represents risk management parameters
type RiskConfig struct {
	Capital                  decimal.Decimal `json:"capital"`
	RiskPerTradeFraction     float64         `json:"riskPerTradeFraction"`
	MaxPositionFraction      float64         `json:"maxPositionFraction"`
	MaxPortfolioRiskFraction float64         `json:"maxPortfolioRiskFraction"`
	RewardRiskRatio          float64         `json:"rewardRiskRatio"`
	StopLossMethod           StopLossMethod  `json:"stopLossMethod"`
	StopLossPercentValue     float64         `json:"stopLossPercentValue"`
	StopLossATRMultiple      float64         `json:"stopLossAtrMultiple"`
	StopLossFixedOffset      decimal.Decimal `json:"stopLossFixedOffset"`
	CashFloor                float64         `json:"cashFloor"`
}

// DefaultRiskConfig returns risk parameters suitable for paper trading.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Capital:                  decimal.NewFromInt(100000),
		RiskPerTradeFraction:     0.02,
		MaxPositionFraction:      0.25,
		MaxPortfolioRiskFraction: 0.30,
		RewardRiskRatio:          2.0,
		StopLossMethod:           StopLossATR,
		StopLossPercentValue:     0.02,
		StopLossATRMultiple:      2.0,
		StopLossFixedOffset:      decimal.NewFromInt(1),
		CashFloor:                0.05,
	}
}

// Validate checks the risk parameters against their allowed ranges.
func (c RiskConfig) Validate() error {
	if c.Capital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("capital must be positive, got %s", c.Capital)
	}
	if c.RiskPerTradeFraction <= 0 || c.RiskPerTradeFraction > 0.1 {
		return fmt.Errorf("risk per trade fraction must be in (0, 0.1], got %f", c.RiskPerTradeFraction)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("max position fraction must be in (0, 1], got %f", c.MaxPositionFraction)
	}
	if c.RewardRiskRatio <= 0 {
		return fmt.Errorf("reward/risk ratio must be positive, got %f", c.RewardRiskRatio)
	}
	switch c.StopLossMethod {
	case StopLossPercent, StopLossATR, StopLossFixed:
	default:
		return fmt.Errorf("unknown stop-loss method %q", c.StopLossMethod)
	}
	return nil
}

// ReconnectConfig governs the stream worker's reconnect behavior
type ReconnectConfig struct {
	InitialBackoff  time.Duration `json:"initialBackoff"`
	MaxBackoff      time.Duration `json:"maxBackoff"`
	MaxAttempts     int           `json:"maxAttempts"`
	QuiescentDelay  time.Duration `json:"quiescentDelay"`
	RestartCooldown time.Duration `json:"restartCooldown"`
}

// DefaultReconnectConfig returns the standard reconnect policy.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialBackoff:  5 * time.Second,
		MaxBackoff:      60 * time.Second,
		MaxAttempts:     3,
		QuiescentDelay:  3 * time.Second,
		RestartCooldown: 300 * time.Second,
	}
}

// EngineConfig represents the engine's startup configuration surface
type EngineConfig struct {
	Symbols            []string        `json:"symbols"`
	Timeframe          Timeframe       `json:"timeframe"`
	Mode               EngineMode      `json:"mode"`
	BufferCapacity     int             `json:"bufferCapacity"`
	MinimumBars        int             `json:"minimumBars"`
	DecisionTickPeriod time.Duration   `json:"decisionTickPeriod"`
	SuppressionTTL     time.Duration   `json:"suppressionTtl"`
	AutoExecute        bool            `json:"autoExecute"`
	CloseOnShutdown    bool            `json:"closeOnShutdown"`
	Risk               RiskConfig      `json:"risk"`
	Reconnect          ReconnectConfig `json:"reconnect"`
}

// DefaultEngineConfig returns an engine configuration for a
// single-symbol paper setup.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Symbols:            []string{"BTCUSDT"},
		Timeframe:          Timeframe1m,
		Mode:               ModePaper,
		BufferCapacity:     250,
		MinimumBars:        20,
		DecisionTickPeriod: 3 * time.Second,
		SuppressionTTL:     15 * time.Minute,
		AutoExecute:        false,
		CloseOnShutdown:    false,
		Risk:               DefaultRiskConfig(),
		Reconnect:          DefaultReconnectConfig(),
	}
}

// Validate checks the engine configuration.
func (c EngineConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.BufferCapacity < 250 {
		return fmt.Errorf("buffer capacity must be at least 250, got %d", c.BufferCapacity)
	}
	if c.MinimumBars < 1 {
		return fmt.Errorf("minimum bars must be positive, got %d", c.MinimumBars)
	}
	if c.DecisionTickPeriod <= 0 {
		return fmt.Errorf("decision tick period must be positive, got %s", c.DecisionTickPeriod)
	}
	if c.SuppressionTTL <= 0 {
		return fmt.Errorf("suppression TTL must be positive, got %s", c.SuppressionTTL)
	}
	switch c.Mode {
	case ModePaper, ModeLive, ModeMock:
	default:
		return fmt.Errorf("unknown engine mode %q", c.Mode)
	}
	return c.Risk.Validate()
}

// ServerConfig represents the API server configuration
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// DefaultServerConfig returns the standard server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "0.0.0.0",
		Port:          8090,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		EnableMetrics: true,
	}
}
