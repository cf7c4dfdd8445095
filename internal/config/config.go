// Package config loads the engine configuration from a YAML file with
// ENGINE_* environment variable overrides. Every key has a default, so
// running without a config file yields the standard paper setup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig mirrors types.EngineConfig in file-friendly form.
type EngineConfig struct {
	Symbols            []string        `mapstructure:"symbols"`
	Timeframe          string          `mapstructure:"timeframe"`
	Mode               string          `mapstructure:"mode"`
	BufferCapacity     int             `mapstructure:"buffer_capacity"`
	MinimumBars        int             `mapstructure:"minimum_bars"`
	DecisionTickPeriod time.Duration   `mapstructure:"decision_tick_period"`
	SuppressionTTL     time.Duration   `mapstructure:"suppression_ttl"`
	AutoExecute        bool            `mapstructure:"auto_execute"`
	CloseOnShutdown    bool            `mapstructure:"close_on_shutdown"`
	Risk               RiskConfig      `mapstructure:"risk"`
	Reconnect          ReconnectConfig `mapstructure:"reconnect"`
}

// RiskConfig mirrors types.RiskConfig. Monetary values are plain floats
// here and converted to decimals at the boundary.
type RiskConfig struct {
	Capital                  float64 `mapstructure:"capital"`
	RiskPerTradeFraction     float64 `mapstructure:"risk_per_trade_fraction"`
	MaxPositionFraction      float64 `mapstructure:"max_position_fraction"`
	MaxPortfolioRiskFraction float64 `mapstructure:"max_portfolio_risk_fraction"`
	RewardRiskRatio          float64 `mapstructure:"reward_risk_ratio"`
	StopLossMethod           string  `mapstructure:"stop_loss_method"`
	StopLossPercentValue     float64 `mapstructure:"stop_loss_percent_value"`
	StopLossATRMultiple      float64 `mapstructure:"stop_loss_atr_multiple"`
	StopLossFixedOffset      float64 `mapstructure:"stop_loss_fixed_offset"`
	CashFloor                float64 `mapstructure:"cash_floor"`
}

// ReconnectConfig mirrors types.ReconnectConfig.
type ReconnectConfig struct {
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	QuiescentDelay  time.Duration `mapstructure:"quiescent_delay"`
	RestartCooldown time.Duration `mapstructure:"restart_cooldown"`
}

// ServerConfig mirrors types.ServerConfig.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	WebSocketPath string        `mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from the given YAML file with ENGINE_* env var
// overrides. An empty path loads defaults plus environment only; a
// named path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	eng := types.DefaultEngineConfig()
	v.SetDefault("engine.symbols", eng.Symbols)
	v.SetDefault("engine.timeframe", string(eng.Timeframe))
	v.SetDefault("engine.mode", string(eng.Mode))
	v.SetDefault("engine.buffer_capacity", eng.BufferCapacity)
	v.SetDefault("engine.minimum_bars", eng.MinimumBars)
	v.SetDefault("engine.decision_tick_period", eng.DecisionTickPeriod)
	v.SetDefault("engine.suppression_ttl", eng.SuppressionTTL)
	v.SetDefault("engine.auto_execute", eng.AutoExecute)
	v.SetDefault("engine.close_on_shutdown", eng.CloseOnShutdown)

	v.SetDefault("engine.risk.capital", eng.Risk.Capital.InexactFloat64())
	v.SetDefault("engine.risk.risk_per_trade_fraction", eng.Risk.RiskPerTradeFraction)
	v.SetDefault("engine.risk.max_position_fraction", eng.Risk.MaxPositionFraction)
	v.SetDefault("engine.risk.max_portfolio_risk_fraction", eng.Risk.MaxPortfolioRiskFraction)
	v.SetDefault("engine.risk.reward_risk_ratio", eng.Risk.RewardRiskRatio)
	v.SetDefault("engine.risk.stop_loss_method", string(eng.Risk.StopLossMethod))
	v.SetDefault("engine.risk.stop_loss_percent_value", eng.Risk.StopLossPercentValue)
	v.SetDefault("engine.risk.stop_loss_atr_multiple", eng.Risk.StopLossATRMultiple)
	v.SetDefault("engine.risk.stop_loss_fixed_offset", eng.Risk.StopLossFixedOffset.InexactFloat64())
	v.SetDefault("engine.risk.cash_floor", eng.Risk.CashFloor)

	v.SetDefault("engine.reconnect.initial_backoff", eng.Reconnect.InitialBackoff)
	v.SetDefault("engine.reconnect.max_backoff", eng.Reconnect.MaxBackoff)
	v.SetDefault("engine.reconnect.max_attempts", eng.Reconnect.MaxAttempts)
	v.SetDefault("engine.reconnect.quiescent_delay", eng.Reconnect.QuiescentDelay)
	v.SetDefault("engine.reconnect.restart_cooldown", eng.Reconnect.RestartCooldown)

	srv := types.DefaultServerConfig()
	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.websocket_path", srv.WebSocketPath)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.enable_metrics", srv.EnableMetrics)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// EngineConfig converts the loaded values into the engine's typed
// configuration and validates them.
func (c *Config) EngineConfig() (types.EngineConfig, error) {
	out := types.EngineConfig{
		Symbols:            c.Engine.Symbols,
		Timeframe:          types.Timeframe(c.Engine.Timeframe),
		Mode:               types.EngineMode(c.Engine.Mode),
		BufferCapacity:     c.Engine.BufferCapacity,
		MinimumBars:        c.Engine.MinimumBars,
		DecisionTickPeriod: c.Engine.DecisionTickPeriod,
		SuppressionTTL:     c.Engine.SuppressionTTL,
		AutoExecute:        c.Engine.AutoExecute,
		CloseOnShutdown:    c.Engine.CloseOnShutdown,
		Risk: types.RiskConfig{
			Capital:                  decimal.NewFromFloat(c.Engine.Risk.Capital),
			RiskPerTradeFraction:     c.Engine.Risk.RiskPerTradeFraction,
			MaxPositionFraction:      c.Engine.Risk.MaxPositionFraction,
			MaxPortfolioRiskFraction: c.Engine.Risk.MaxPortfolioRiskFraction,
			RewardRiskRatio:          c.Engine.Risk.RewardRiskRatio,
			StopLossMethod:           types.StopLossMethod(c.Engine.Risk.StopLossMethod),
			StopLossPercentValue:     c.Engine.Risk.StopLossPercentValue,
			StopLossATRMultiple:      c.Engine.Risk.StopLossATRMultiple,
			StopLossFixedOffset:      decimal.NewFromFloat(c.Engine.Risk.StopLossFixedOffset),
			CashFloor:                c.Engine.Risk.CashFloor,
		},
		Reconnect: types.ReconnectConfig{
			InitialBackoff:  c.Engine.Reconnect.InitialBackoff,
			MaxBackoff:      c.Engine.Reconnect.MaxBackoff,
			MaxAttempts:     c.Engine.Reconnect.MaxAttempts,
			QuiescentDelay:  c.Engine.Reconnect.QuiescentDelay,
			RestartCooldown: c.Engine.Reconnect.RestartCooldown,
		},
	}
	if err := out.Validate(); err != nil {
		return types.EngineConfig{}, err
	}
	return out, nil
}

// ServerConfig converts the loaded values into the API server's typed
// configuration.
func (c *Config) ServerConfig() types.ServerConfig {
	return types.ServerConfig{
		Host:          c.Server.Host,
		Port:          c.Server.Port,
		WebSocketPath: c.Server.WebSocketPath,
		ReadTimeout:   c.Server.ReadTimeout,
		WriteTimeout:  c.Server.WriteTimeout,
		EnableMetrics: c.Server.EnableMetrics,
	}
}
