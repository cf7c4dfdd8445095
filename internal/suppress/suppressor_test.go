package suppress_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/suppress"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var epoch = time.Date(2024, 6, 1, 14, 45, 0, 0, time.UTC)

func buyKey() suppress.Key {
	return suppress.Key{
		Strategy: "TrendFollowing",
		Regime:   types.RegimeTrend,
		Side:     types.SideBuy,
	}
}

func TestShouldEmitBeforeAnyReject(t *testing.T) {
	s := suppress.NewSuppressor(zap.NewNop(), 15*time.Minute)
	if !s.ShouldEmit(buyKey(), epoch) {
		t.Error("fresh shape suppressed")
	}
}

func TestSuppressionExpiresStrictlyAfterTTL(t *testing.T) {
	s := suppress.NewSuppressor(zap.NewNop(), 15*time.Minute)
	s.RecordReject(buyKey(), epoch)

	if s.ShouldEmit(buyKey(), epoch.Add(14*time.Minute)) {
		t.Error("emitted inside the suppression window")
	}
	if s.ShouldEmit(buyKey(), epoch.Add(15*time.Minute)) {
		t.Error("emitted at the exact expiry instant")
	}
	if !s.ShouldEmit(buyKey(), epoch.Add(15*time.Minute+time.Second)) {
		t.Error("still suppressed after the window elapsed")
	}
}

func TestKeyDiscriminatesShape(t *testing.T) {
	s := suppress.NewSuppressor(zap.NewNop(), 15*time.Minute)
	s.RecordReject(buyKey(), epoch)

	sell := buyKey()
	sell.Side = types.SideSell
	if !s.ShouldEmit(sell, epoch.Add(time.Minute)) {
		t.Error("opposite side suppressed by a buy reject")
	}

	other := buyKey()
	other.Regime = types.RegimeSideways
	if !s.ShouldEmit(other, epoch.Add(time.Minute)) {
		t.Error("different regime suppressed")
	}
}

func TestRepeatRejectExtendsWindow(t *testing.T) {
	s := suppress.NewSuppressor(zap.NewNop(), 15*time.Minute)
	s.RecordReject(buyKey(), epoch)
	s.RecordReject(buyKey(), epoch.Add(10*time.Minute))

	if s.ShouldEmit(buyKey(), epoch.Add(20*time.Minute)) {
		t.Error("second reject did not extend the window")
	}
	if !s.ShouldEmit(buyKey(), epoch.Add(25*time.Minute+time.Second)) {
		t.Error("extended window never expired")
	}

	entries := s.Active()
	if len(entries) != 1 || entries[0].RejectCount != 2 {
		t.Errorf("active = %+v, want one entry with rejectCount 2", entries)
	}
}

func TestAcceptClearsSuppression(t *testing.T) {
	s := suppress.NewSuppressor(zap.NewNop(), 15*time.Minute)
	s.RecordReject(buyKey(), epoch)
	s.RecordAccept(buyKey())

	if !s.ShouldEmit(buyKey(), epoch.Add(time.Second)) {
		t.Error("accept did not clear the suppression")
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	s := suppress.NewSuppressor(zap.NewNop(), 15*time.Minute)
	s.RecordReject(buyKey(), epoch)
	sell := buyKey()
	sell.Side = types.SideSell
	s.RecordReject(sell, epoch.Add(10*time.Minute))

	if removed := s.Sweep(epoch.Add(16 * time.Minute)); removed != 1 {
		t.Errorf("sweep removed %d entries, want 1", removed)
	}
	if got := len(s.Active()); got != 1 {
		t.Errorf("active after sweep = %d, want 1", got)
	}
}
