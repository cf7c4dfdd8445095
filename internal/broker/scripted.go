package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Scripted wraps another broker and injects programmed rejections and
// transport errors, in submission order. With nothing queued it
// delegates to the inner broker.
type Scripted struct {
	inner Broker

	mu      sync.Mutex
	rejects []string
	errs    []error
	placed  []OrderRequest
}

// NewScripted wraps inner with a programmable fault queue.
func NewScripted(inner Broker) *Scripted {
	return &Scripted{inner: inner}
}

// RejectNext makes the next PlaceOrder come back rejected with reason.
func (s *Scripted) RejectNext(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = append(s.rejects, reason)
}

// FailNext makes the next PlaceOrder return err at the transport level.
func (s *Scripted) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Placed returns every order that reached the broker, including the
// scripted rejections.
func (s *Scripted) Placed() []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRequest, len(s.placed))
	copy(out, s.placed)
	return out
}

func (s *Scripted) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	s.mu.Lock()
	s.placed = append(s.placed, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return OrderAck{}, err
	}
	if len(s.rejects) > 0 {
		reason := s.rejects[0]
		s.rejects = s.rejects[1:]
		s.mu.Unlock()
		return OrderAck{
			OrderID: uuid.New().String(),
			Status:  OrderStatusRejected,
			Reason:  reason,
		}, nil
	}
	s.mu.Unlock()
	return s.inner.PlaceOrder(ctx, req)
}

func (s *Scripted) GetAccount(ctx context.Context) (types.AccountSnapshot, error) {
	return s.inner.GetAccount(ctx)
}

func (s *Scripted) GetPositions(ctx context.Context) ([]types.Position, error) {
	return s.inner.GetPositions(ctx)
}

func (s *Scripted) ClosePosition(ctx context.Context, symbol string) (*types.Trade, error) {
	return s.inner.ClosePosition(ctx, symbol)
}

func (s *Scripted) OrderStatus(ctx context.Context, orderID string) (OrderAck, error) {
	return s.inner.OrderStatus(ctx, orderID)
}
