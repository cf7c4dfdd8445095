// Package main runs the adaptive trading engine with its HTTP/WebSocket
// API. Mode selection (paper, live, mock) decides the market feed and
// broker wiring; everything else comes from the config file and
// ENGINE_* environment overrides.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kiwi-quant/adaptive-engine/internal/api"
	"github.com/kiwi-quant/adaptive-engine/internal/broker"
	"github.com/kiwi-quant/adaptive-engine/internal/config"
	"github.com/kiwi-quant/adaptive-engine/internal/engine"
	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/clock"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults + env when empty)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Fatal("Invalid engine configuration", zap.Error(err))
	}
	serverCfg := cfg.ServerConfig()

	logger.Info("Starting adaptive engine",
		zap.Strings("symbols", engineCfg.Symbols),
		zap.String("timeframe", string(engineCfg.Timeframe)),
		zap.String("mode", string(engineCfg.Mode)),
		zap.Bool("autoExecute", engineCfg.AutoExecute))

	clk := clock.New()
	feed, brk := buildPorts(logger, clk, engineCfg)

	eng := engine.NewEngine(logger, engineCfg, clk, feed, brk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Engine start failed", zap.Error(err))
	}

	server := api.NewServer(logger, serverCfg, eng)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("Shutdown signal received", zap.String("signal", s.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("API server exited", zap.Error(err))
		}
	}

	if err := eng.Stop(15 * time.Second); err != nil {
		logger.Warn("Engine stop incomplete", zap.Error(err))
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// buildPorts wires the feed and broker for the configured mode. Paper
// and live both consume the exchange websocket; only the broker side
// differs, and until a live broker adapter lands live trades against
// the simulated book as well.
func buildPorts(logger *zap.Logger, clk clock.Clock, cfg types.EngineConfig) (market.Feed, broker.Broker) {
	switch cfg.Mode {
	case types.ModeMock:
		feed := market.NewScriptedFeed(1024)
		go playScript(feed, cfg.Symbols)
		return feed, broker.NewPaper(logger, clk, cfg.Risk.Capital)
	case types.ModeLive:
		logger.Warn("Live broker adapter not configured, orders fill against the paper book")
		fallthrough
	default:
		streamCfg := market.DefaultStreamConfig()
		streamCfg.Reconnect = cfg.Reconnect
		feed := market.NewStreamClient(logger, clk, streamCfg)
		return feed, broker.NewPaper(logger, clk, cfg.Risk.Capital)
	}
}

// playScript feeds synthetic one-minute bars into a scripted feed: a
// slow sine drift with a gentle upward ramp, enough to move the regime
// classifier through sideways and trending phases.
func playScript(feed *market.ScriptedFeed, symbols []string) {
	start := time.Now().Truncate(time.Minute).Add(-251 * time.Minute)
	price := 100.0

	emit := func(i int) {
		price = 100.0 + 0.08*float64(i) + 1.5*math.Sin(float64(i)/12)
		for _, symbol := range symbols {
			half := 0.4
			feed.EmitBarClose(types.Bar{
				Symbol:   symbol,
				OpenTime: start.Add(time.Duration(i) * time.Minute),
				Open:     decimal.NewFromFloat(price - 0.1),
				High:     decimal.NewFromFloat(price + half),
				Low:      decimal.NewFromFloat(price - half),
				Close:    decimal.NewFromFloat(price),
				Volume:   decimal.NewFromInt(1000),
			})
		}
	}

	// Backfill history, then keep the stream alive in real time.
	for i := 0; i < 250; i++ {
		emit(i)
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for i := 250; ; i++ {
		<-ticker.C
		emit(i)
	}
}

func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "console"
	encodeLevel := zapcore.CapitalColorLevelEncoder
	if cfg.Format == "json" {
		encoding = "json"
		encodeLevel = zapcore.LowercaseLevelEncoder
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
