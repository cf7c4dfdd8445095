package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/internal/metrics"
	"github.com/kiwi-quant/adaptive-engine/internal/strategy"
	"github.com/kiwi-quant/adaptive-engine/internal/suppress"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// integrityWindow bounds how far back consecutive data errors count
// toward escalation.
const integrityWindow = 60 * time.Second

// integrityEscalation is how many consecutive errors within the window
// take a symbol out of service.
const integrityEscalation = 3

// analysisWorker owns the bar buffers and runs the decision pipeline.
// It is the only goroutine that mutates buffers, readings, and the
// suppressor, so none of them need their callers to lock.
func (e *Engine) analysisWorker(ctx context.Context) {
	defer e.wg.Done()

	readings := make(map[string]types.RegimeReading)
	ticker := e.clock.NewTicker(e.config.DecisionTickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbox:
			e.handleMarketEvent(ev, readings)
		case <-ticker.C():
			e.onDecisionTick(readings)
		case cmd := <-e.commands:
			e.handleCommand(cmd, readings)
		}
	}
}

func (e *Engine) handleMarketEvent(ev market.Event, readings map[string]types.RegimeReading) {
	switch ev.Type {
	case market.EventBarClose:
		symbol := ev.Bar.Symbol
		if e.dead[symbol] {
			return
		}
		if !validBar(ev.Bar) {
			e.integrityFailure(symbol, "invalid bar")
			return
		}
		buf := e.bufferFor(symbol)
		if err := buf.AppendOrUpdate(ev.Bar); err != nil {
			e.integrityFailure(symbol, err.Error())
			return
		}
		e.integrity[symbol] = nil
		e.decide(symbol, buf, readings)
	case market.EventBarUpdate:
		symbol := ev.Bar.Symbol
		if e.dead[symbol] || !validBar(ev.Bar) {
			return
		}
		// Partial bars refresh the tail but never trigger a decision.
		if err := e.bufferFor(symbol).AppendOrUpdate(ev.Bar); err != nil {
			e.integrityFailure(symbol, err.Error())
		}
	case market.EventTradeTick:
		// Latest-price liveness only; bars drive decisions.
	case market.EventDisconnect:
		// The stream worker already classified it.
	}
}

func (e *Engine) bufferFor(symbol string) *market.BarBuffer {
	buf, ok := e.buffers[symbol]
	if !ok {
		buf = market.NewBarBuffer(symbol, e.config.BufferCapacity)
		e.buffers[symbol] = buf
	}
	return buf
}

// decide runs the full pipeline for one symbol after a bar commit.
func (e *Engine) decide(symbol string, buf *market.BarBuffer, readings map[string]types.RegimeReading) {
	now := e.clock.Now()

	if buf.Len() < e.config.MinimumBars {
		e.publishStatus(types.StatusInitializing, symbol,
			fmt.Sprintf("warming up: %d of %d bars", buf.Len(), e.config.MinimumBars))
		return
	}

	bars := buf.Snapshot(buf.Len())
	reading := e.classifier.Classify(bars, now)
	readings[symbol] = reading
	metrics.RegimeGauge.WithLabelValues(symbol, string(reading.Regime)).
		Set(reading.Confidence(reading.Regime))

	active, switchEvent := e.selector.Select(reading, e.monitor, now)
	e.mu.Lock()
	e.activeName = active.Name()
	if switchEvent != nil {
		e.switches = append(e.switches, *switchEvent)
	}
	e.mu.Unlock()
	if switchEvent != nil {
		metrics.StrategySwitches.WithLabelValues(string(switchEvent.Reason)).Inc()
	}

	side := active.GenerateSignal(bars, strategy.Context{Position: e.positionFor(symbol)})
	if side == types.SideHold {
		e.publishStatus(types.StatusScanning, symbol, "no signal")
		return
	}

	price, ok := buf.LatestPrice()
	if !ok {
		return
	}
	signal := types.Signal{
		ID:             uuid.New().String(),
		Symbol:         symbol,
		Side:           side,
		ReferencePrice: price,
		StrategyName:   active.Name(),
		Regime:         reading.Regime,
		GeneratedAt:    now,
	}

	key := suppress.Key{Strategy: signal.StrategyName, Regime: signal.Regime, Side: signal.Side}
	if !e.suppressor.ShouldEmit(key, now) {
		metrics.SuppressedSignals.WithLabelValues(signal.StrategyName).Inc()
		e.publishStatus(types.StatusSignalSuppressed, symbol,
			fmt.Sprintf("%s %s suppressed", signal.StrategyName, side))
		return
	}

	atr := 0.0
	if row := buf.Indicators(); row.ATR14.OK {
		atr = row.ATR14.V
	}
	res := e.risk.Evaluate(signal, e.accountCopy(), atr, reading)
	if !res.Approved {
		e.countError(types.ErrorRiskReject)
		e.publishStatus(types.StatusRiskRejected, symbol, res.Reason)
		e.logger.Info("Risk rejected signal",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("reason", res.Reason))
		return
	}

	rec := e.buildRecommendation(signal, res.Plan, reading)
	e.mu.Lock()
	e.pending[signal.ID] = res.Plan
	e.lastRecs[symbol] = rec
	e.mu.Unlock()

	e.publishRecommendation(rec)
	e.publishStatus(types.StatusSignalEmitted, symbol, rec.Rationale)

	if e.config.AutoExecute {
		e.postPlan(res.Plan)
	}
}

func (e *Engine) buildRecommendation(signal types.Signal, plan types.OrderPlan, reading types.RegimeReading) types.Recommendation {
	confidence := reading.Confidence(reading.Regime)
	rationale := fmt.Sprintf("%s regime (confidence %.2f); %s proposes %s at %s; risk %s (score %.1f); qty %s, stop %s, target %s",
		reading.Regime, confidence,
		signal.StrategyName, signal.Side, signal.ReferencePrice,
		plan.RiskLevel, plan.RiskScore,
		plan.Quantity, plan.StopLoss, plan.TakeProfit)
	return types.Recommendation{
		SignalID:         signal.ID,
		Symbol:           signal.Symbol,
		Side:             signal.Side,
		ReferencePrice:   signal.ReferencePrice,
		StrategyName:     signal.StrategyName,
		Regime:           reading.Regime,
		RegimeConfidence: confidence,
		RiskScore:        plan.RiskScore,
		RiskLevel:        plan.RiskLevel,
		SuggestedQty:     plan.Quantity,
		StopLoss:         plan.StopLoss,
		TakeProfit:       plan.TakeProfit,
		GeneratedAt:      signal.GeneratedAt,
		Rationale:        rationale,
	}
}

// onDecisionTick keeps status reporting alive between bars, sweeps the
// suppressor, and expires pending plans. Ticks never fabricate signals.
func (e *Engine) onDecisionTick(readings map[string]types.RegimeReading) {
	now := e.clock.Now()
	e.suppressor.Sweep(now)

	// A recommendation that got no feedback within the suppression TTL
	// is dead; its reference price is stale anyway.
	e.mu.Lock()
	for id, plan := range e.pending {
		if now.Sub(plan.Signal.GeneratedAt) > e.config.SuppressionTTL {
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()
	for _, symbol := range e.config.Symbols {
		if e.dead[symbol] {
			continue
		}
		buf, ok := e.buffers[symbol]
		if !ok || buf.Len() < e.config.MinimumBars {
			have := 0
			if ok {
				have = buf.Len()
			}
			e.publishStatus(types.StatusInitializing, symbol,
				fmt.Sprintf("warming up: %d of %d bars", have, e.config.MinimumBars))
			continue
		}
		if _, ok := readings[symbol]; ok {
			e.publishStatus(types.StatusScanning, symbol, "idle")
		}
	}
}

func (e *Engine) handleCommand(cmd command, readings map[string]types.RegimeReading) {
	switch cmd.kind {
	case cmdFeedback:
		e.applyFeedback(cmd.signalID, cmd.accepted)
	case cmdSnapshot:
		cmd.reply <- e.buildSnapshot(readings)
	}
}

func (e *Engine) applyFeedback(signalID string, accepted bool) {
	e.mu.Lock()
	plan, ok := e.pending[signalID]
	if ok {
		delete(e.pending, signalID)
	}
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("Feedback for unknown signal", zap.String("signalId", signalID))
		return
	}

	signal := plan.Signal
	key := suppress.Key{Strategy: signal.StrategyName, Regime: signal.Regime, Side: signal.Side}
	if accepted {
		e.suppressor.RecordAccept(key)
		if !e.config.AutoExecute {
			e.postPlan(plan)
		}
		return
	}
	e.suppressor.RecordReject(key, e.clock.Now())
	e.publishStatus(types.StatusSignalSuppressed, signal.Symbol,
		fmt.Sprintf("%s %s skipped by user", signal.StrategyName, signal.Side))
}

func (e *Engine) postPlan(plan types.OrderPlan) {
	select {
	case e.plans <- plan:
	default:
		e.logger.Warn("Execution queue full, dropping plan",
			zap.String("signalId", plan.Signal.ID))
	}
}

// integrityFailure drops the offending event and escalates the symbol
// after three consecutive errors inside the window.
func (e *Engine) integrityFailure(symbol, reason string) {
	now := e.clock.Now()
	e.countError(types.ErrorDataIntegrity)
	e.logger.Warn("Data integrity error",
		zap.String("symbol", symbol), zap.String("reason", reason))

	recent := e.integrity[symbol][:0]
	for _, t := range e.integrity[symbol] {
		if now.Sub(t) <= integrityWindow {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	e.integrity[symbol] = recent

	if len(recent) >= integrityEscalation {
		e.dead[symbol] = true
		e.countError(types.ErrorFatal)
		e.publishStatus(types.StatusStopped, symbol, "data integrity escalation")
		e.logger.Error("Symbol taken out of service after repeated integrity errors",
			zap.String("symbol", symbol))
	}
}

func (e *Engine) buildSnapshot(readings map[string]types.RegimeReading) Snapshot {
	counts := make(map[string]int, len(e.buffers))
	for sym, buf := range e.buffers {
		counts[sym] = buf.Len()
	}
	regimes := make(map[string]types.RegimeReading, len(readings))
	for sym, r := range readings {
		regimes[sym] = r
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Running:        e.running,
		Mode:           e.config.Mode,
		Symbols:        e.config.Symbols,
		BarCounts:      counts,
		Regimes:        regimes,
		ActiveStrategy: e.activeStrategyName(),
		Account:        e.account,
		Risk:           e.risk.PortfolioRisk(e.account),
		Performance:    e.monitor.Metrics(0),
		Suppressions:   e.suppressor.Active(),
		PendingPlans:   len(e.pending),
		Switches:       append([]types.SwitchEvent(nil), e.switches...),
		ErrorCounts:    copyCounts(e.errCounts),
		StoppedReason:  e.stoppedReason,
		CooldownUntil:  e.cooldownUntil,
		At:             e.clock.Now(),
	}
}

func validBar(bar types.Bar) bool {
	if bar.Symbol == "" || bar.OpenTime.IsZero() {
		return false
	}
	if bar.Close.LessThanOrEqual(decimal.Zero) || bar.Open.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return !bar.High.LessThan(bar.Low)
}
