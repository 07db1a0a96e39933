package calculator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

var centsPerYuan = decimal.NewFromInt(100)

// MeteredCalculator 计次：每次价格 (分) 转元，可选折扣
type MeteredCalculator struct{}

func (MeteredCalculator) Mode() domain.ConsumeMode { return domain.ModeMetered }

func (MeteredCalculator) Calculate(_ context.Context, in Input) (Result, error) {
	cfg := in.Config.Metered
	if cfg == nil || !cfg.Enabled {
		return reject("metered mode not configured for account kind"), nil
	}
	if cfg.SubType != domain.MeteredSubTypeCount {
		return reject("unsupported metered sub type %q", cfg.SubType), nil
	}
	if cfg.Count == nil || cfg.Count.PricePerTime <= 0 {
		return reject("pricePerTime missing"), nil
	}

	amount := decimal.NewFromInt(cfg.Count.PricePerTime).DivRound(centsPerYuan, 2)
	if cfg.Count.ApplyDiscount {
		discounted, ok := applyDiscount(amount, cfg.DiscountRate)
		if !ok {
			return reject("metered discount rate out of range"), nil
		}
		amount = discounted
	}
	return charge(amount), nil
}
