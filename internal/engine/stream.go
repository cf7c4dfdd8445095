package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// streamWorker owns the feed subscription and forwards typed events
// into the analysis inbox. Reconnects happen inside the feed; this
// worker only classifies what surfaces.
func (e *Engine) streamWorker(ctx context.Context, events <-chan market.Event) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					e.notifyFatal(fatalNotice{
						class:  types.ErrorFatal,
						reason: "market stream closed",
					})
				}
				return
			}
			if ev.Type == market.EventDisconnect {
				if ev.Reason == market.ErrConnectionLimit.Error() {
					e.notifyFatal(fatalNotice{
						class:  types.ErrorConnectionLimit,
						reason: ev.Reason,
					})
					continue
				}
				e.countError(types.ErrorTransientStream)
				e.publishStatus(types.StatusReconnecting, "", ev.Reason)
				continue
			}
			select {
			case e.inbox <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) notifyFatal(n fatalNotice) {
	select {
	case e.fatals <- n:
	default:
		e.logger.Error("Fatal queue full", zap.String("reason", n.reason))
	}
}

// controlWorker reacts to fatal notices: it records the stop reason,
// arms the restart cooldown for connection-limit failures, and shuts
// the engine down.
func (e *Engine) controlWorker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-e.fatals:
			e.countError(n.class)
			e.mu.Lock()
			e.stoppedReason = n.reason
			if n.class == types.ErrorConnectionLimit {
				e.cooldownUntil = e.clock.Now().Add(e.config.Reconnect.RestartCooldown)
			}
			e.mu.Unlock()
			e.logger.Error("Fatal engine error",
				zap.String("class", string(n.class)),
				zap.String("reason", n.reason))
			e.publishStatus(types.StatusStopped, n.symbol, n.reason)
			go e.Stop(5 * time.Second)
			return
		}
	}
}
