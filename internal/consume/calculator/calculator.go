// Package calculator 消费金额计算策略，每种消费模式一个实现
package calculator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// LineItem 商品模式的明细行
type LineItem struct {
	ProductID string
	Quantity  int64
}

// Input 计价上下文
type Input struct {
	Account *domain.Account
	Config  *domain.ModeConfig // 已解析的账户类别配置，不会为 nil
	Area    *domain.Area

	Amount  decimal.Decimal // FREE_AMOUNT: 调用方传入金额
	Items   []LineItem      // PRODUCT
	OrderNo string          // ORDERING
}

// Result 计价结果
// OK=false 表示"无法计费"(配置缺失、区域不匹配等)，不是错误
type Result struct {
	Amount decimal.Decimal
	OK     bool
	Reason string
}

func charge(amount decimal.Decimal) Result {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return reject("calculated amount is not positive")
	}
	return Result{Amount: amount, OK: true}
}

func reject(format string, args ...any) Result {
	return Result{Amount: decimal.Zero, Reason: fmt.Sprintf(format, args...)}
}

// Calculator 单个消费模式的金额计算
// 只有基础设施故障 (如商品目录超时) 才返回 error
type Calculator interface {
	Mode() domain.ConsumeMode
	Calculate(ctx context.Context, in Input) (Result, error)
}

// applyDiscount amount * (1 - rate)，rate 为空视为无折扣
func applyDiscount(amount decimal.Decimal, rate *decimal.Decimal) (decimal.Decimal, bool) {
	if rate == nil || rate.IsZero() {
		return amount, true
	}
	if !domain.ValidDiscountRate(*rate) {
		return decimal.Zero, false
	}
	return amount.Mul(decimal.NewFromInt(1).Sub(*rate)), true
}
