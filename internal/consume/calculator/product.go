package calculator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// ProductCalculator 商品：只累加在本区域可售的明细，再按账户类别折扣
type ProductCalculator struct {
	catalog domain.ProductCatalog
}

func NewProductCalculator(catalog domain.ProductCatalog) *ProductCalculator {
	return &ProductCalculator{catalog: catalog}
}

func (*ProductCalculator) Mode() domain.ConsumeMode { return domain.ModeProduct }

func (c *ProductCalculator) Calculate(ctx context.Context, in Input) (Result, error) {
	if in.Area == nil || !in.Area.ManageMode.Supports(domain.ModeProduct) {
		return reject("area does not sell products"), nil
	}
	if len(in.Items) == 0 {
		return reject("no line items"), nil
	}

	ids := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return reject("invalid quantity %d for product %s", item.Quantity, item.ProductID), nil
		}
		ids = append(ids, item.ProductID)
	}

	products, err := c.catalog.GetProducts(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	total := decimal.Zero
	for _, item := range in.Items {
		p, ok := byID[item.ProductID]
		if !ok || !p.Available || !p.Price.IsPositive() || !p.SellableIn(in.Area.ID) {
			continue
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}
	if total.IsZero() {
		return reject("no line item is sellable in area %s", in.Area.ID), nil
	}

	var rate *decimal.Decimal
	if in.Config.Product != nil {
		rate = in.Config.Product.DiscountRate
	}
	discounted, ok := applyDiscount(total, rate)
	if !ok {
		return reject("product discount rate out of range"), nil
	}
	return charge(discounted), nil
}
