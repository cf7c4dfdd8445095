package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/broker"
	"github.com/kiwi-quant/adaptive-engine/pkg/clock"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newPaper(cash int64) *broker.Paper {
	return broker.NewPaper(zap.NewNop(), clock.NewFake(epoch), decimal.NewFromInt(cash))
}

func buy(symbol string, qty, price int64) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:   symbol,
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(qty),
		Price:    decimal.NewFromInt(price),
		Strategy: "TrendFollowing",
		Regime:   types.RegimeTrend,
	}
}

func sell(symbol string, qty, price int64) broker.OrderRequest {
	req := buy(symbol, qty, price)
	req.Side = types.SideSell
	return req
}

func TestPaperFillOpensPosition(t *testing.T) {
	p := newPaper(10000)
	ack, err := p.PlaceOrder(context.Background(), buy("BTCUSDT", 10, 100))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Status != broker.OrderStatusFilled {
		t.Fatalf("status = %s, want filled", ack.Status)
	}

	acct, err := p.GetAccount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Cash.Equal(decimal.NewFromInt(9000)) {
		t.Errorf("cash = %s, want 9000", acct.Cash)
	}
	if !acct.PortfolioValue.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("portfolio value = %s, want 10000", acct.PortfolioValue)
	}
	if len(acct.OpenPositions) != 1 || !acct.OpenPositions[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("positions = %+v", acct.OpenPositions)
	}
}

func TestPaperRejectsInsufficientCash(t *testing.T) {
	p := newPaper(500)
	ack, err := p.PlaceOrder(context.Background(), buy("BTCUSDT", 10, 100))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Status != broker.OrderStatusRejected || ack.Reason != broker.RejectInsufficientCash {
		t.Errorf("ack = %+v, want insufficient-cash reject", ack)
	}
}

func TestPaperRoundTripRecordsTrade(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()
	if _, err := p.PlaceOrder(ctx, buy("BTCUSDT", 10, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.PlaceOrder(ctx, sell("BTCUSDT", 10, 110)); err != nil {
		t.Fatal(err)
	}

	trades := p.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if !tr.RealizedPnL.Equal(decimal.NewFromInt(100)) {
		t.Errorf("pnl = %s, want 100", tr.RealizedPnL)
	}
	if tr.StrategyName != "TrendFollowing" || tr.RegimeAtEntry != types.RegimeTrend {
		t.Errorf("entry context = %s/%s", tr.StrategyName, tr.RegimeAtEntry)
	}

	acct, _ := p.GetAccount(ctx)
	if !acct.Cash.Equal(decimal.NewFromInt(10100)) {
		t.Errorf("cash after round trip = %s, want 10100", acct.Cash)
	}
	if len(acct.OpenPositions) != 0 {
		t.Errorf("positions after round trip = %+v", acct.OpenPositions)
	}
}

func TestPaperPartialCloseKeepsRemainder(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()
	p.PlaceOrder(ctx, buy("BTCUSDT", 10, 100))
	p.PlaceOrder(ctx, sell("BTCUSDT", 4, 120))

	positions, _ := p.GetPositions(ctx)
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("positions = %+v, want 6 remaining", positions)
	}
	if trades := p.Trades(); len(trades) != 1 || !trades[0].RealizedPnL.Equal(decimal.NewFromInt(80)) {
		t.Errorf("trades = %+v, want one with pnl 80", trades)
	}
}

func TestPaperClosePositionUsesMark(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()
	p.PlaceOrder(ctx, buy("BTCUSDT", 10, 100))
	p.SetMarkPrice("BTCUSDT", decimal.NewFromInt(95))

	trade, err := p.ClosePosition(ctx, "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if trade == nil || !trade.RealizedPnL.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("trade = %+v, want pnl -50", trade)
	}

	if trade, _ := p.ClosePosition(ctx, "BTCUSDT"); trade != nil {
		t.Errorf("closing a flat symbol returned a trade: %+v", trade)
	}
}

func TestPaperOrderStatus(t *testing.T) {
	p := newPaper(10000)
	ack, _ := p.PlaceOrder(context.Background(), buy("BTCUSDT", 1, 100))

	got, err := p.OrderStatus(context.Background(), ack.OrderID)
	if err != nil || got.Status != broker.OrderStatusFilled {
		t.Errorf("status lookup = %+v, %v", got, err)
	}
	if _, err := p.OrderStatus(context.Background(), "nope"); !errors.Is(err, broker.ErrUnknownOrder) {
		t.Errorf("unknown order error = %v", err)
	}
}

func TestScriptedRejectAndFailQueues(t *testing.T) {
	s := broker.NewScripted(newPaper(10000))
	ctx := context.Background()

	s.RejectNext("margin check failed")
	ack, err := s.PlaceOrder(ctx, buy("BTCUSDT", 1, 100))
	if err != nil || ack.Status != broker.OrderStatusRejected || ack.Reason != "margin check failed" {
		t.Fatalf("scripted reject = %+v, %v", ack, err)
	}

	wantErr := errors.New("gateway timeout")
	s.FailNext(wantErr)
	if _, err := s.PlaceOrder(ctx, buy("BTCUSDT", 1, 100)); !errors.Is(err, wantErr) {
		t.Fatalf("scripted failure = %v", err)
	}

	// Queue drained: next order reaches the paper broker.
	ack, err = s.PlaceOrder(ctx, buy("BTCUSDT", 1, 100))
	if err != nil || ack.Status != broker.OrderStatusFilled {
		t.Fatalf("delegated order = %+v, %v", ack, err)
	}
	if got := len(s.Placed()); got != 3 {
		t.Errorf("placed = %d, want 3", got)
	}
}
