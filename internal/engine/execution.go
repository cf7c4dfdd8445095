package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/broker"
	"github.com/kiwi-quant/adaptive-engine/internal/metrics"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// executionWorker is the only goroutine that talks to the broker. It
// processes one plan at a time, which serializes submissions per symbol
// by construction; plans arriving for a symbol with the same side are
// coalesced latest-wins, opposing sides queue in order.
func (e *Engine) executionWorker(ctx context.Context) {
	defer e.wg.Done()

	var backlog []types.OrderPlan
	for {
		var plan types.OrderPlan
		if len(backlog) > 0 {
			plan = backlog[0]
			backlog = backlog[1:]
		} else {
			select {
			case <-ctx.Done():
				return
			case plan = <-e.plans:
			}
		}

		for drained := false; !drained; {
			select {
			case next := <-e.plans:
				if next.Signal.Symbol == plan.Signal.Symbol && next.Signal.Side == plan.Signal.Side {
					plan = next
				} else {
					backlog = coalesce(backlog, next)
				}
			default:
				drained = true
			}
		}

		e.submit(ctx, plan)
	}
}

// coalesce inserts a plan into the backlog, replacing any queued plan
// for the same symbol and side.
func coalesce(backlog []types.OrderPlan, plan types.OrderPlan) []types.OrderPlan {
	for i := range backlog {
		if backlog[i].Signal.Symbol == plan.Signal.Symbol && backlog[i].Signal.Side == plan.Signal.Side {
			backlog[i] = plan
			return backlog
		}
	}
	return append(backlog, plan)
}

func (e *Engine) submit(ctx context.Context, plan types.OrderPlan) {
	signal := plan.Signal
	req := broker.OrderRequest{
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Type:       types.OrderTypeMarket,
		Quantity:   plan.Quantity,
		Price:      plan.EntryPrice,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		SignalID:   signal.ID,
		Strategy:   signal.StrategyName,
		Regime:     signal.Regime,
	}

	ack, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		// The broker may not be idempotent on retry, so there is none.
		e.countError(types.ErrorBrokerReject)
		metrics.OrdersSubmitted.WithLabelValues("error").Inc()
		e.publishStatus(types.StatusOrderRejected, signal.Symbol, err.Error())
		e.markRejected(signal, err.Error())
		e.logger.Error("Order submission failed",
			zap.String("symbol", signal.Symbol), zap.Error(err))
		return
	}
	if ack.Status == broker.OrderStatusRejected {
		e.countError(types.ErrorBrokerReject)
		metrics.OrdersSubmitted.WithLabelValues("rejected").Inc()
		e.publishStatus(types.StatusOrderRejected, signal.Symbol, ack.Reason)
		e.markRejected(signal, ack.Reason)
		e.logger.Warn("Order rejected by broker",
			zap.String("symbol", signal.Symbol),
			zap.String("reason", ack.Reason))
		return
	}

	metrics.OrdersSubmitted.WithLabelValues("filled").Inc()
	e.publishStatus(types.StatusOrderAccepted, signal.Symbol, ack.OrderID)
	e.logger.Info("Order filled",
		zap.String("orderId", ack.OrderID),
		zap.String("symbol", signal.Symbol),
		zap.String("side", string(signal.Side)),
		zap.String("qty", ack.FilledQty.String()),
		zap.String("price", ack.FillPrice.String()))

	if ack.ClosedTrade != nil {
		e.monitor.RecordTrade(*ack.ClosedTrade)
	}
	if acct, err := e.broker.GetAccount(ctx); err == nil {
		e.setAccount(acct)
		e.monitor.RecordEquity(e.clock.Now(), acct.PortfolioValue)
	} else {
		e.logger.Warn("Account refresh failed", zap.Error(err))
	}

	e.mu.Lock()
	delete(e.pending, signal.ID)
	e.mu.Unlock()
}

// markRejected republishes the recommendation flagged with the broker's
// answer so consumers see the final outcome.
func (e *Engine) markRejected(signal types.Signal, reason string) {
	e.mu.Lock()
	rec, ok := e.lastRecs[signal.Symbol]
	if ok && rec.SignalID == signal.ID {
		rec.RejectedByBroker = true
		rec.RejectReason = reason
		e.lastRecs[signal.Symbol] = rec
	}
	delete(e.pending, signal.ID)
	e.mu.Unlock()
	if ok && rec.SignalID == signal.ID {
		e.publishRecommendation(rec)
	}
}
