// Package market provides market data intake: the inbound data port, the
// per-symbol bar buffer with derived indicators, and the websocket stream
// client that feeds them.
package market

import (
	"context"
	"errors"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// EventType identifies an inbound stream event.
type EventType string

const (
	EventBarClose   EventType = "bar_close"
	EventBarUpdate  EventType = "bar_update"
	EventTradeTick  EventType = "trade_tick"
	EventDisconnect EventType = "disconnect"
)

// Event is one message from the market data stream. Bar is set for bar
// events, Tick for trade ticks, Reason for disconnects.
type Event struct {
	Type   EventType
	Bar    types.Bar
	Tick   types.TradeTick
	Reason string
}

// Feed is the inbound market-data port. Implementations must deliver
// events for each subscribed symbol in non-decreasing open-time order.
type Feed interface {
	// Subscribe opens the stream for the given symbols and timeframe.
	// The returned channel is closed when the feed shuts down for good.
	Subscribe(ctx context.Context, symbols []string, timeframe types.Timeframe) (<-chan Event, error)
	// Close tears the feed down.
	Close() error
}

// ErrConnectionLimit is returned when the upstream refuses new
// subscriptions after the configured reconnect attempts are exhausted.
var ErrConnectionLimit = errors.New("market: upstream connection limit exceeded")

// ErrOutOfOrder is returned when a bar older than the buffer tail arrives.
var ErrOutOfOrder = errors.New("market: out-of-order bar")
