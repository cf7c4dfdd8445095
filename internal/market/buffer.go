package market

import (
	"github.com/shopspring/decimal"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// MinBufferCapacity is the smallest ring the buffer will allocate.
const MinBufferCapacity = 250

// BarBuffer is a fixed-capacity ring of recent bars for one symbol with an
// indicator row maintained over the tail window. It is not safe for
// concurrent use: the analysis worker owns it exclusively and hands out
// copies via Snapshot.
type BarBuffer struct {
	symbol string
	buf    []types.Bar
	start  int
	count  int
	row    IndicatorRow
}

// NewBarBuffer creates a buffer for the given symbol. Capacities below
// MinBufferCapacity are raised to it.
func NewBarBuffer(symbol string, capacity int) *BarBuffer {
	if capacity < MinBufferCapacity {
		capacity = MinBufferCapacity
	}
	return &BarBuffer{
		symbol: symbol,
		buf:    make([]types.Bar, capacity),
	}
}

// Symbol returns the symbol this buffer tracks.
func (b *BarBuffer) Symbol() string { return b.symbol }

// Len returns the number of bars currently held.
func (b *BarBuffer) Len() int { return b.count }

// AppendOrUpdate commits a bar. A bar whose open time equals the current
// tail replaces it (partial-bar update); a strictly greater open time
// appends, evicting the oldest bar when full; a strictly lesser open time
// is rejected with ErrOutOfOrder.
func (b *BarBuffer) AppendOrUpdate(bar types.Bar) error {
	if b.count > 0 {
		tail := b.at(b.count - 1)
		switch {
		case bar.OpenTime.Equal(tail.OpenTime):
			b.buf[b.index(b.count-1)] = bar
			b.row = ComputeIndicators(b.Snapshot(b.count))
			return nil
		case bar.OpenTime.Before(tail.OpenTime):
			return ErrOutOfOrder
		}
	}
	if b.count == len(b.buf) {
		b.start = (b.start + 1) % len(b.buf)
		b.count--
	}
	b.buf[b.index(b.count)] = bar
	b.count++
	b.row = ComputeIndicators(b.Snapshot(b.count))
	return nil
}

// Snapshot returns a copy of up to n most-recent bars in chronological
// order. Passing n >= Len copies the whole buffer.
func (b *BarBuffer) Snapshot(n int) []types.Bar {
	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		out[i] = b.at(b.count - n + i)
	}
	return out
}

// LatestPrice returns the close of the most recent bar.
func (b *BarBuffer) LatestPrice() (decimal.Decimal, bool) {
	if b.count == 0 {
		return decimal.Zero, false
	}
	return b.at(b.count - 1).Close, true
}

// Indicators returns the indicator row aligned with the most recent bar.
func (b *BarBuffer) Indicators() IndicatorRow { return b.row }

func (b *BarBuffer) index(i int) int { return (b.start + i) % len(b.buf) }

func (b *BarBuffer) at(i int) types.Bar { return b.buf[b.index(i)] }
