// Package engine runs the adaptive decision loop: stream intake, regime
// classification, strategy selection, signal generation, risk checks,
// and order execution, split across four cooperating workers.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/broker"
	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/internal/metrics"
	"github.com/kiwi-quant/adaptive-engine/internal/monitor"
	"github.com/kiwi-quant/adaptive-engine/internal/regime"
	"github.com/kiwi-quant/adaptive-engine/internal/risk"
	"github.com/kiwi-quant/adaptive-engine/internal/selector"
	"github.com/kiwi-quant/adaptive-engine/internal/strategy"
	"github.com/kiwi-quant/adaptive-engine/internal/suppress"
	"github.com/kiwi-quant/adaptive-engine/pkg/clock"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine: already running")
	// ErrStopped is returned when the engine has been stopped. A stopped
	// engine is single-use; build a new one to restart.
	ErrStopped = errors.New("engine: stopped")
	// ErrCooldown is returned by Start while the restart cooldown from a
	// connection-limit shutdown is still in effect.
	ErrCooldown = errors.New("engine: restart cooldown in effect")
	// ErrStopTimeout is returned by Stop when workers did not join in time.
	ErrStopTimeout = errors.New("engine: stop timed out")
)

// Snapshot is a consistent view of the engine, served through the
// analysis worker so buffer counts and readings never tear.
type Snapshot struct {
	Running        bool                           `json:"running"`
	Mode           types.EngineMode               `json:"mode"`
	Symbols        []string                       `json:"symbols"`
	BarCounts      map[string]int                 `json:"barCounts"`
	Regimes        map[string]types.RegimeReading `json:"regimes"`
	ActiveStrategy string                         `json:"activeStrategy"`
	Account        types.AccountSnapshot          `json:"account"`
	Risk           risk.Summary                   `json:"risk"`
	Performance    monitor.PerformanceWindow      `json:"performance"`
	Suppressions   []suppress.Entry               `json:"suppressions"`
	PendingPlans   int                            `json:"pendingPlans"`
	Switches       []types.SwitchEvent            `json:"switches"`
	ErrorCounts    map[types.ErrorClass]int       `json:"errorCounts"`
	StoppedReason  string                         `json:"stoppedReason,omitempty"`
	CooldownUntil  time.Time                      `json:"cooldownUntil,omitempty"`
	At             time.Time                      `json:"at"`
}

type commandKind int

const (
	cmdFeedback commandKind = iota
	cmdSnapshot
)

type command struct {
	kind     commandKind
	signalID string
	accepted bool
	reply    chan Snapshot
}

type fatalNotice struct {
	class  types.ErrorClass
	symbol string
	reason string
}

// Engine is the adaptive trading engine. It is single-use: once stopped
// it cannot be started again.
type Engine struct {
	logger *zap.Logger
	config types.EngineConfig
	clock  clock.Clock

	feed   market.Feed
	broker broker.Broker

	classifier *regime.Classifier
	selector   *selector.Selector
	monitor    *monitor.Monitor
	risk       *risk.Manager
	suppressor *suppress.Suppressor

	// Owned by the analysis worker; no lock.
	buffers   map[string]*market.BarBuffer
	dead      map[string]bool
	integrity map[string][]time.Time

	inbox    chan market.Event
	plans    chan types.OrderPlan
	commands chan command
	fatals   chan fatalNotice
	recs     chan types.Recommendation
	status   chan types.StatusEvent

	mu            sync.RWMutex
	running       bool
	stopped       bool
	activeName    string
	account       types.AccountSnapshot
	pending       map[string]types.OrderPlan
	lastRecs      map[string]types.Recommendation
	errCounts     map[types.ErrorClass]int
	switches      []types.SwitchEvent
	stoppedReason string
	cooldownUntil time.Time

	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine wires an engine from its ports. The strategy set comes from
// the default registry in deterministic order.
func NewEngine(logger *zap.Logger, config types.EngineConfig, clk clock.Clock, feed market.Feed, brk broker.Broker) *Engine {
	strategies := strategy.NewDefaultRegistry().CreateAll()
	return &Engine{
		logger:     logger.Named("engine"),
		config:     config,
		clock:      clk,
		feed:       feed,
		broker:     brk,
		classifier: regime.NewClassifier(logger, regime.DefaultConfig()),
		selector:   selector.NewSelector(logger, selector.DefaultConfig(), strategies),
		monitor:    monitor.NewMonitor(logger, monitor.DefaultConfig()),
		risk:       risk.NewManager(logger, config.Risk),
		suppressor: suppress.NewSuppressor(logger, config.SuppressionTTL),
		buffers:    make(map[string]*market.BarBuffer),
		dead:       make(map[string]bool),
		integrity:  make(map[string][]time.Time),
		inbox:      make(chan market.Event, 1024),
		plans:      make(chan types.OrderPlan, 64),
		commands:   make(chan command, 64),
		fatals:     make(chan fatalNotice, 8),
		recs:       make(chan types.Recommendation, 64),
		status:     make(chan types.StatusEvent, 256),
		pending:    make(map[string]types.OrderPlan),
		lastRecs:   make(map[string]types.Recommendation),
		errCounts:  make(map[types.ErrorClass]int),
		stopCh:     make(chan struct{}),
	}
}

// Recommendations returns the outbound recommendation stream. The
// channel is closed after a clean stop.
func (e *Engine) Recommendations() <-chan types.Recommendation { return e.recs }

// Status returns the outbound status event stream.
func (e *Engine) Status() <-chan types.StatusEvent { return e.status }

// Monitor exposes the performance monitor for read access.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Start subscribes to the market feed and launches the four workers.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if until := e.cooldownUntil; !until.IsZero() && e.clock.Now().Before(until) {
		e.mu.Unlock()
		return ErrCooldown
	}
	e.running = true
	e.mu.Unlock()

	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}
	e.setAccount(acct)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	events, err := e.feed.Subscribe(runCtx, e.config.Symbols, e.config.Timeframe)
	if err != nil {
		cancel()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	e.logger.Info("Starting engine",
		zap.Strings("symbols", e.config.Symbols),
		zap.String("timeframe", string(e.config.Timeframe)),
		zap.String("mode", string(e.config.Mode)))
	e.publishStatus(types.StatusInitializing, "", "engine starting")

	e.wg.Add(4)
	go e.streamWorker(runCtx, events)
	go e.analysisWorker(runCtx)
	go e.executionWorker(runCtx)
	go e.controlWorker(runCtx)
	return nil
}

// Stop cancels the workers, closes the feed, and joins within timeout.
// Only the first call does anything; later calls return nil.
func (e *Engine) Stop(timeout time.Duration) error {
	var err error
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping engine")
		close(e.stopCh)
		if e.cancel != nil {
			e.cancel()
		}
		if cerr := e.feed.Close(); cerr != nil {
			e.logger.Warn("Feed close failed", zap.Error(cerr))
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		clean := false
		select {
		case <-done:
			clean = true
		case <-e.clock.After(timeout):
			err = ErrStopTimeout
			e.logger.Error("Workers did not join before timeout")
		}

		if e.config.CloseOnShutdown {
			e.closeAllPositions()
		}

		e.mu.Lock()
		e.running = false
		e.stopped = true
		if e.stoppedReason == "" {
			e.stoppedReason = "requested"
		}
		reason := e.stoppedReason
		e.mu.Unlock()

		e.sendStatus(types.StatusEvent{Code: types.StatusStopped, Message: reason, At: e.clock.Now()})
		if clean {
			close(e.recs)
			close(e.status)
		}
	})
	return err
}

// ApplyFeedback routes a user accept/skip decision for a published
// recommendation into the analysis worker.
func (e *Engine) ApplyFeedback(signalID string, accepted bool) error {
	cmd := command{kind: cmdFeedback, signalID: signalID, accepted: accepted}
	select {
	case e.commands <- cmd:
		return nil
	case <-e.stopCh:
		return ErrStopped
	}
}

// Snapshot requests a consistent snapshot from the analysis worker. On a
// stopped engine it falls back to the last shared state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.commands <- command{kind: cmdSnapshot, reply: reply}:
	case <-e.stopCh:
		return e.staleSnapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-e.stopCh:
		return e.staleSnapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// staleSnapshot builds a snapshot from shared state only, without the
// analysis worker's buffers.
func (e *Engine) staleSnapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Running:        e.running,
		Mode:           e.config.Mode,
		Symbols:        e.config.Symbols,
		Account:        e.account,
		Risk:           e.risk.PortfolioRisk(e.account),
		Performance:    e.monitor.Metrics(0),
		Suppressions:   e.suppressor.Active(),
		PendingPlans:   len(e.pending),
		Switches:       append([]types.SwitchEvent(nil), e.switches...),
		ErrorCounts:    copyCounts(e.errCounts),
		ActiveStrategy: e.activeStrategyName(),
		StoppedReason:  e.stoppedReason,
		CooldownUntil:  e.cooldownUntil,
		At:             e.clock.Now(),
	}
}

// activeStrategyName is read under e.mu; the analysis worker writes it
// after every selection.
func (e *Engine) activeStrategyName() string { return e.activeName }

func (e *Engine) setAccount(acct types.AccountSnapshot) {
	e.mu.Lock()
	e.account = acct
	e.mu.Unlock()
	metrics.EquityGauge.Set(acct.PortfolioValue.InexactFloat64())
}

func (e *Engine) accountCopy() types.AccountSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account
}

func (e *Engine) positionFor(symbol string) *types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.account.OpenPositions {
		if e.account.OpenPositions[i].Symbol == symbol {
			pos := e.account.OpenPositions[i]
			return &pos
		}
	}
	return nil
}

func (e *Engine) countError(class types.ErrorClass) {
	e.mu.Lock()
	e.errCounts[class]++
	e.mu.Unlock()
	metrics.ErrorsTotal.WithLabelValues(string(class)).Inc()
}

func (e *Engine) publishStatus(code types.StatusCode, symbol, message string) {
	select {
	case <-e.stopCh:
		return
	default:
	}
	e.sendStatus(types.StatusEvent{Code: code, Symbol: symbol, Message: message, At: e.clock.Now()})
}

// sendStatus delivers an event without the stop guard; Stop uses it for
// the final stopped event after stopCh is already closed.
func (e *Engine) sendStatus(ev types.StatusEvent) {
	metrics.StatusEvents.WithLabelValues(string(ev.Code)).Inc()
	select {
	case e.status <- ev:
	default:
		e.logger.Debug("Status channel full, dropping event", zap.String("code", string(ev.Code)))
	}
}

func (e *Engine) publishRecommendation(rec types.Recommendation) {
	metrics.Recommendations.WithLabelValues(rec.StrategyName, string(rec.Side)).Inc()
	select {
	case <-e.stopCh:
		return
	default:
	}
	select {
	case e.recs <- rec:
	default:
		e.logger.Warn("Recommendation channel full, dropping",
			zap.String("signalId", rec.SignalID))
	}
}

func (e *Engine) closeAllPositions() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		e.logger.Warn("Could not list positions on shutdown", zap.Error(err))
		return
	}
	for _, pos := range positions {
		trade, err := e.broker.ClosePosition(ctx, pos.Symbol)
		if err != nil {
			e.logger.Warn("Could not close position on shutdown",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if trade != nil {
			e.monitor.RecordTrade(*trade)
			e.logger.Info("Closed position on shutdown",
				zap.String("symbol", trade.Symbol),
				zap.String("pnl", trade.RealizedPnL.String()))
		}
	}
}

func copyCounts(in map[types.ErrorClass]int) map[types.ErrorClass]int {
	out := make(map[types.ErrorClass]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
