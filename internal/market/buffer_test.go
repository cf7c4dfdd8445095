package market_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kiwi-quant/adaptive-engine/internal/market"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var bufferEpoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func testBar(i int, price float64) types.Bar {
	p := decimal.NewFromFloat(price)
	return types.Bar{
		Symbol:   "BTCUSDT",
		OpenTime: bufferEpoch.Add(time.Duration(i) * time.Minute),
		Open:     p,
		High:     p,
		Low:      p,
		Close:    p,
		Volume:   decimal.NewFromInt(1000),
	}
}

func TestBufferAppendKeepsOpenTimesStrictlyIncreasing(t *testing.T) {
	buf := market.NewBarBuffer("BTCUSDT", 250)
	for i := 0; i < 300; i++ {
		if err := buf.AppendOrUpdate(testBar(i, 100)); err != nil {
			t.Fatalf("append bar %d: %v", i, err)
		}
	}
	if buf.Len() != 250 {
		t.Fatalf("Len = %d, want capacity 250", buf.Len())
	}
	snap := buf.Snapshot(buf.Len())
	for i := 1; i < len(snap); i++ {
		if !snap[i].OpenTime.After(snap[i-1].OpenTime) {
			t.Fatalf("open times not strictly increasing at %d: %v then %v",
				i, snap[i-1].OpenTime, snap[i].OpenTime)
		}
	}
	// Oldest bars must have been evicted.
	if want := bufferEpoch.Add(50 * time.Minute); !snap[0].OpenTime.Equal(want) {
		t.Errorf("oldest bar at %v, want %v", snap[0].OpenTime, want)
	}
}

func TestBufferSameOpenTimeOverwritesTail(t *testing.T) {
	buf := market.NewBarBuffer("BTCUSDT", 250)
	if err := buf.AppendOrUpdate(testBar(0, 100)); err != nil {
		t.Fatal(err)
	}
	update := testBar(0, 101.5)
	if err := buf.AppendOrUpdate(update); err != nil {
		t.Fatalf("partial-bar update rejected: %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("Len = %d after overwrite, want 1", buf.Len())
	}
	price, ok := buf.LatestPrice()
	if !ok || !price.Equal(update.Close) {
		t.Errorf("latest price = %s, want %s", price, update.Close)
	}
}

func TestBufferRejectsOutOfOrderBar(t *testing.T) {
	buf := market.NewBarBuffer("BTCUSDT", 250)
	if err := buf.AppendOrUpdate(testBar(5, 100)); err != nil {
		t.Fatal(err)
	}
	err := buf.AppendOrUpdate(testBar(3, 99))
	if !errors.Is(err, market.ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	if buf.Len() != 1 {
		t.Errorf("out-of-order bar mutated the buffer, Len = %d", buf.Len())
	}
}

func TestBufferSnapshotIsACopy(t *testing.T) {
	buf := market.NewBarBuffer("BTCUSDT", 250)
	for i := 0; i < 10; i++ {
		if err := buf.AppendOrUpdate(testBar(i, 100+float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	snap := buf.Snapshot(5)
	if len(snap) != 5 {
		t.Fatalf("snapshot length = %d, want 5", len(snap))
	}
	snap[0].Close = decimal.NewFromInt(-1)
	again := buf.Snapshot(5)
	if again[0].Close.IsNegative() {
		t.Error("mutating a snapshot leaked into the buffer")
	}
}

func TestBufferIndicatorWarmup(t *testing.T) {
	buf := market.NewBarBuffer("BTCUSDT", 250)
	for i := 0; i < 10; i++ {
		if err := buf.AppendOrUpdate(testBar(i, 100)); err != nil {
			t.Fatal(err)
		}
	}
	row := buf.Indicators()
	if row.SMA20.OK {
		t.Error("SMA20 available with only 10 bars")
	}
	for i := 10; i < 30; i++ {
		if err := buf.AppendOrUpdate(testBar(i, 100)); err != nil {
			t.Fatal(err)
		}
	}
	row = buf.Indicators()
	if !row.SMA20.OK {
		t.Fatal("SMA20 unavailable with 30 bars")
	}
	if row.SMA20.V != 100 {
		t.Errorf("SMA20 = %f, want 100", row.SMA20.V)
	}
	if row.SMA200.OK {
		t.Error("SMA200 available with only 30 bars")
	}
}
