package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ModeConfig 账户类别的消费模式配置 (mode_config 字段)
// 只在计价/权限边界解析一次，业务逻辑不直接接触原始 JSON
type ModeConfig struct {
	Fixed      *FixedModeConfig      `json:"FIXED,omitempty"`
	FreeAmount *FreeAmountModeConfig `json:"FREE_AMOUNT,omitempty"`
	Metered    *MeteredModeConfig    `json:"METERED,omitempty"`
	Product    *ProductModeConfig    `json:"PRODUCT,omitempty"`
	Ordering   *OrderingModeConfig   `json:"ORDERING,omitempty"`
	Limits     *LimitConfig          `json:"limits,omitempty"`
}

type FixedModeConfig struct {
	Enabled bool            `json:"enabled"`
	Amount  decimal.Decimal `json:"amount"` // 单位：元
}

type FreeAmountModeConfig struct {
	Enabled   bool            `json:"enabled"`
	MaxAmount decimal.Decimal `json:"maxAmount"` // 0 表示不限
}

type MeteredModeConfig struct {
	Enabled      bool             `json:"enabled"`
	SubType      string           `json:"subType"`
	Count        *CountModeConfig `json:"count,omitempty"`
	DiscountRate *decimal.Decimal `json:"discountRate,omitempty"`
}

type CountModeConfig struct {
	PricePerTime  int64 `json:"pricePerTime"` // 单位：分
	ApplyDiscount bool  `json:"applyDiscount"`
}

type ProductModeConfig struct {
	Enabled      bool             `json:"enabled"`
	DiscountRate *decimal.Decimal `json:"discountRate,omitempty"`
}

type OrderingModeConfig struct {
	Enabled bool `json:"enabled"`
}

// LimitConfig 消费限额，0 表示不限
type LimitConfig struct {
	DailyAmount   decimal.Decimal `json:"dailyAmount"`
	MonthlyAmount decimal.Decimal `json:"monthlyAmount"`
}

// MeteredSubTypeCount 计次子类型
const MeteredSubTypeCount = "COUNT"

// DecodeModeConfig 解析 mode_config，空配置返回零值
func DecodeModeConfig(raw []byte) (*ModeConfig, error) {
	cfg := &ModeConfig{}
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode mode_config: %w", err)
	}
	return cfg, nil
}

// Enabled 判断某消费模式是否在账户类别中启用
func (c *ModeConfig) Enabled(mode ConsumeMode) bool {
	switch mode {
	case ModeFixed:
		return c.Fixed != nil && c.Fixed.Enabled
	case ModeFreeAmount:
		return c.FreeAmount != nil && c.FreeAmount.Enabled
	case ModeMetered:
		return c.Metered != nil && c.Metered.Enabled
	case ModeProduct:
		return c.Product != nil && c.Product.Enabled
	case ModeOrdering:
		return c.Ordering != nil && c.Ordering.Enabled
	}
	return false
}

// ValidDiscountRate 折扣率必须在 [0, 1]
func ValidDiscountRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(1))
}
