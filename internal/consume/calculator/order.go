package calculator

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// OrderCalculator 订餐：按订单总额扣费
type OrderCalculator struct {
	orders domain.OrderBook
}

func NewOrderCalculator(orders domain.OrderBook) *OrderCalculator {
	return &OrderCalculator{orders: orders}
}

func (*OrderCalculator) Mode() domain.ConsumeMode { return domain.ModeOrdering }

func (c *OrderCalculator) Calculate(ctx context.Context, in Input) (Result, error) {
	if in.OrderNo == "" {
		return reject("order number required"), nil
	}
	order, err := c.orders.GetOrder(ctx, in.OrderNo)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return reject("order %s not found", in.OrderNo), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load order %s: %w", in.OrderNo, err)
	}

	switch {
	case order.AccountID != in.Account.ID:
		return reject("order %s belongs to another account", in.OrderNo), nil
	case order.Status != domain.OrderPending:
		return reject("order %s is %s", in.OrderNo, order.Status), nil
	case in.Area == nil || !order.ApplicableIn(in.Area.ID):
		return reject("order %s not applicable in this area", in.OrderNo), nil
	}
	return charge(order.Total), nil
}
