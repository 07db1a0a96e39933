package calculator

import (
	"fmt"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// Factory 按模式名查找计算器
type Factory struct {
	calculators map[domain.ConsumeMode]Calculator
}

func NewFactory(calcs ...Calculator) *Factory {
	f := &Factory{calculators: make(map[domain.ConsumeMode]Calculator, len(calcs))}
	for _, c := range calcs {
		f.calculators[c.Mode()] = c
	}
	return f
}

// NewDefaultFactory 注册全部五种模式
func NewDefaultFactory(catalog domain.ProductCatalog, orders domain.OrderBook) *Factory {
	return NewFactory(
		FixedCalculator{},
		FreeAmountCalculator{},
		MeteredCalculator{},
		NewProductCalculator(catalog),
		NewOrderCalculator(orders),
	)
}

// Get 模式名支持别名 (FIXED_AMOUNT / AMOUNT / COUNT / ORDER)
func (f *Factory) Get(mode string) (Calculator, error) {
	m, ok := domain.ParseConsumeMode(mode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMode, mode)
	}
	c, ok := f.calculators[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMode, mode)
	}
	return c, nil
}
