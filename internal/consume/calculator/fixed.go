package calculator

import (
	"context"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// FixedCalculator 定值：区域定值优先，其次账户类别配置
type FixedCalculator struct{}

func (FixedCalculator) Mode() domain.ConsumeMode { return domain.ModeFixed }

func (FixedCalculator) Calculate(_ context.Context, in Input) (Result, error) {
	if in.Area == nil || !in.Area.ManageMode.Supports(domain.ModeFixed) {
		return reject("area does not allow fixed-value charging"), nil
	}
	if in.Area.FixedAmount != nil && in.Area.FixedAmount.IsPositive() {
		return charge(*in.Area.FixedAmount), nil
	}
	cfg := in.Config.Fixed
	if cfg == nil || !cfg.Enabled {
		return reject("fixed mode not configured for account kind"), nil
	}
	return charge(cfg.Amount), nil
}
