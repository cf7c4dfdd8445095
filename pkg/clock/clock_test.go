package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiwi-quant/adaptive-engine/pkg/clock"
)

func TestFakeAdvanceFiresAfter(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)

	ch := fc.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}

	fc.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired one second early")
	default:
	}

	fc.Advance(1 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Errorf("fired at %v, want %v", got, start.Add(10*time.Second))
		}
	case <-time.After(time.Second):
		t.Fatal("After did not fire at the deadline")
	}
}

func TestFakeTicker(t *testing.T) {
	fc := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	tk := fc.NewTicker(3 * time.Second)
	defer tk.Stop()

	fc.Advance(3 * time.Second)
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire after one interval")
	}

	tk.Stop()
	fc.Advance(10 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeSleepCancellation(t *testing.T) {
	fc := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- fc.Sleep(ctx, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Sleep returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after cancellation")
	}
}
