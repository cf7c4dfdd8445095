package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/pkg/clock"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Rejection reasons produced by the paper broker.
const (
	RejectInvalidQuantity  = "invalid quantity"
	RejectInsufficientCash = "insufficient cash"
	RejectNoMarkPrice      = "no mark price"
)

// paperPosition carries the entry context needed to label the round
// trip when the position closes.
type paperPosition struct {
	types.Position
	strategy string
	regime   types.Regime
	capital  decimal.Decimal
}

// Paper is an in-memory broker that fills market orders instantly at
// the requested price. One position per symbol; a sell against a long
// reduces or closes it, never flips it.
type Paper struct {
	logger *zap.Logger
	clock  clock.Clock

	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*paperPosition
	marks     map[string]decimal.Decimal
	orders    map[string]OrderAck
	trades    []types.Trade
}

// NewPaper creates a paper broker with the given starting cash.
func NewPaper(logger *zap.Logger, clk clock.Clock, startingCash decimal.Decimal) *Paper {
	return &Paper{
		logger:    logger.Named("paper-broker"),
		clock:     clk,
		cash:      startingCash,
		positions: make(map[string]*paperPosition),
		marks:     make(map[string]decimal.Decimal),
		orders:    make(map[string]OrderAck),
	}
}

// SetMarkPrice updates the mark used for portfolio valuation and
// position closes.
func (p *Paper) SetMarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
}

// PlaceOrder fills the order at its price, or rejects it.
func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if req.Quantity.LessThanOrEqual(decimal.Zero) || req.Price.LessThanOrEqual(decimal.Zero) {
		return p.reject(req, RejectInvalidQuantity, now), nil
	}

	var closed *types.Trade
	pos := p.positions[req.Symbol]
	switch req.Side {
	case types.SideBuy:
		if pos != nil && pos.Side == types.PositionSideShort {
			closed = p.close(pos, req.Quantity, req.Price, now)
		} else {
			cost := req.Quantity.Mul(req.Price)
			if cost.GreaterThan(p.cash) {
				return p.reject(req, RejectInsufficientCash, now), nil
			}
			p.open(req, types.PositionSideLong, now)
			p.cash = p.cash.Sub(cost)
		}
	case types.SideSell:
		if pos != nil && pos.Side == types.PositionSideLong {
			closed = p.close(pos, req.Quantity, req.Price, now)
		} else {
			p.open(req, types.PositionSideShort, now)
			p.cash = p.cash.Add(req.Quantity.Mul(req.Price))
		}
	default:
		return p.reject(req, RejectInvalidQuantity, now), nil
	}

	p.marks[req.Symbol] = req.Price
	ack := OrderAck{
		OrderID:     uuid.New().String(),
		Status:      OrderStatusFilled,
		FillPrice:   req.Price,
		FilledQty:   req.Quantity,
		At:          now,
		ClosedTrade: closed,
	}
	p.orders[ack.OrderID] = ack
	p.logger.Info("Paper fill",
		zap.String("orderId", ack.OrderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("qty", req.Quantity.String()),
		zap.String("price", req.Price.String()))
	return ack, nil
}

// GetAccount values positions at their marks.
func (p *Paper) GetAccount(_ context.Context) (types.AccountSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	value := p.cash
	positions := make([]types.Position, 0, len(p.positions))
	for sym, pos := range p.positions {
		mark, ok := p.marks[sym]
		if !ok {
			mark = pos.AvgEntryPrice
		}
		notional := pos.Quantity.Mul(mark)
		if pos.Side == types.PositionSideShort {
			value = value.Sub(notional)
		} else {
			value = value.Add(notional)
		}
		positions = append(positions, pos.Position)
	}
	return types.AccountSnapshot{
		PortfolioValue: value,
		Cash:           p.cash,
		BuyingPower:    p.cash,
		OpenPositions:  positions,
	}, nil
}

// GetPositions returns a copy of the open positions.
func (p *Paper) GetPositions(_ context.Context) ([]types.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos.Position)
	}
	return out, nil
}

// ClosePosition flattens the symbol at its mark price.
func (p *Paper) ClosePosition(_ context.Context, symbol string) (*types.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil, nil
	}
	mark, ok := p.marks[symbol]
	if !ok {
		mark = pos.AvgEntryPrice
	}
	trade := p.close(pos, pos.Quantity, mark, p.clock.Now())
	return trade, nil
}

// OrderStatus looks up a filled or rejected order.
func (p *Paper) OrderStatus(_ context.Context, orderID string) (OrderAck, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ack, ok := p.orders[orderID]
	if !ok {
		return OrderAck{}, ErrUnknownOrder
	}
	return ack, nil
}

// Trades returns a copy of the closed round trips.
func (p *Paper) Trades() []types.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

func (p *Paper) reject(req OrderRequest, reason string, at time.Time) OrderAck {
	ack := OrderAck{
		OrderID: uuid.New().String(),
		Status:  OrderStatusRejected,
		Reason:  reason,
		At:      at,
	}
	p.orders[ack.OrderID] = ack
	p.logger.Warn("Paper reject",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("reason", reason))
	return ack
}

// open creates or extends a position in the request's direction.
func (p *Paper) open(req OrderRequest, side types.PositionSide, now time.Time) {
	pos := p.positions[req.Symbol]
	if pos == nil {
		p.positions[req.Symbol] = &paperPosition{
			Position: types.Position{
				Symbol:        req.Symbol,
				Side:          side,
				Quantity:      req.Quantity,
				AvgEntryPrice: req.Price,
				OpenedAt:      now,
			},
			strategy: req.Strategy,
			regime:   req.Regime,
			capital:  p.cash,
		}
		return
	}
	total := pos.Quantity.Add(req.Quantity)
	pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity).
		Add(req.Price.Mul(req.Quantity)).Div(total)
	pos.Quantity = total
}

// close reduces the position by up to qty at the given price and
// records the round trip. Returns the trade, or nil when qty is zero.
func (p *Paper) close(pos *paperPosition, qty, price decimal.Decimal, now time.Time) *types.Trade {
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	pnl := price.Sub(pos.AvgEntryPrice).Mul(qty)
	if pos.Side == types.PositionSideShort {
		pnl = pnl.Neg()
		p.cash = p.cash.Sub(qty.Mul(price))
	} else {
		p.cash = p.cash.Add(qty.Mul(price))
	}

	trade := types.Trade{
		Symbol:         pos.Symbol,
		Side:           pos.Side,
		Quantity:       qty,
		EntryPrice:     pos.AvgEntryPrice,
		ExitPrice:      price,
		OpenedAt:       pos.OpenedAt,
		ClosedAt:       now,
		RealizedPnL:    pnl,
		CapitalAtEntry: pos.capital,
		StrategyName:   pos.strategy,
		RegimeAtEntry:  pos.regime,
	}
	p.trades = append(p.trades, trade)

	pos.Quantity = pos.Quantity.Sub(qty)
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, pos.Symbol)
	}
	return &trade
}
