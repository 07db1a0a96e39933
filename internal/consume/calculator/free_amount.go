package calculator

import (
	"context"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// FreeAmountCalculator 自由金额：直接使用调用方金额
type FreeAmountCalculator struct{}

func (FreeAmountCalculator) Mode() domain.ConsumeMode { return domain.ModeFreeAmount }

func (FreeAmountCalculator) Calculate(_ context.Context, in Input) (Result, error) {
	if !in.Amount.IsPositive() {
		return reject("free amount must be positive"), nil
	}
	if cfg := in.Config.FreeAmount; cfg != nil && cfg.MaxAmount.IsPositive() && in.Amount.GreaterThan(cfg.MaxAmount) {
		return reject("amount %s exceeds single-consume ceiling %s", in.Amount, cfg.MaxAmount), nil
	}
	return charge(in.Amount), nil
}
