// Package broker defines the order-execution port and its paper and
// scripted implementations.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// ErrUnknownOrder is returned when an order ID is not tracked.
var ErrUnknownOrder = errors.New("broker: unknown order")

// OrderRequest is a concrete order submitted to the broker.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       types.Side      `json:"side"`
	Type       types.OrderType `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	SignalID   string          `json:"signalId,omitempty"`
	Strategy   string          `json:"strategy,omitempty"`
	Regime     types.Regime    `json:"regime,omitempty"`
}

// OrderStatus is the lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderAck is the broker's answer to an order. A rejected order carries
// Reason and is not an error at the transport level.
type OrderAck struct {
	OrderID   string          `json:"orderId"`
	Status    OrderStatus     `json:"status"`
	FillPrice decimal.Decimal `json:"fillPrice"`
	FilledQty decimal.Decimal `json:"filledQty"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"at"`
	// ClosedTrade is set when the fill reduced or closed an existing
	// position, carrying the resulting round trip.
	ClosedTrade *types.Trade `json:"closedTrade,omitempty"`
}

// Broker is the execution port. Implementations are safe for
// concurrent use.
type Broker interface {
	// PlaceOrder submits an order. A business rejection comes back as an
	// OrderAck with status rejected and a nil error; errors are reserved
	// for transport failures.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	// GetAccount returns the current account snapshot.
	GetAccount(ctx context.Context) (types.AccountSnapshot, error)
	// GetPositions returns a copy of the open positions.
	GetPositions(ctx context.Context) ([]types.Position, error)
	// ClosePosition flattens the position for a symbol at its mark price
	// and returns the resulting round trip, or nil when flat.
	ClosePosition(ctx context.Context, symbol string) (*types.Trade, error)
	// OrderStatus looks up a previously returned order.
	OrderStatus(ctx context.Context, orderID string) (OrderAck, error)
}
