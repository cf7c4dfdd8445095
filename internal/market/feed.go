package market

import (
	"context"
	"sync"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// ScriptedFeed is an in-memory Feed driven by explicit Emit calls. It
// backs mock mode and the engine tests.
type ScriptedFeed struct {
	events    chan Event
	closeOnce sync.Once
}

// NewScriptedFeed creates a scripted feed with the given channel capacity.
func NewScriptedFeed(buffer int) *ScriptedFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &ScriptedFeed{events: make(chan Event, buffer)}
}

// Subscribe returns the event channel. Symbols and timeframe are accepted
// for interface compatibility; the script decides what is emitted.
func (f *ScriptedFeed) Subscribe(_ context.Context, _ []string, _ types.Timeframe) (<-chan Event, error) {
	return f.events, nil
}

// Close closes the event channel.
func (f *ScriptedFeed) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

// EmitBarClose pushes a closed bar onto the stream.
func (f *ScriptedFeed) EmitBarClose(bar types.Bar) {
	f.events <- Event{Type: EventBarClose, Bar: bar}
}

// EmitBarUpdate pushes a partial-bar update onto the stream.
func (f *ScriptedFeed) EmitBarUpdate(bar types.Bar) {
	f.events <- Event{Type: EventBarUpdate, Bar: bar}
}

// EmitTick pushes a trade tick onto the stream.
func (f *ScriptedFeed) EmitTick(tick types.TradeTick) {
	f.events <- Event{Type: EventTradeTick, Tick: tick}
}

// EmitDisconnect pushes a disconnect event onto the stream.
func (f *ScriptedFeed) EmitDisconnect(reason string) {
	f.events <- Event{Type: EventDisconnect, Reason: reason}
}
