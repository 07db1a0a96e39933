package domain

import "strings"

// ConsumeMode 消费模式 (计价策略)
type ConsumeMode string

const (
	ModeFixed      ConsumeMode = "FIXED"       // 定值
	ModeFreeAmount ConsumeMode = "FREE_AMOUNT" // 自由金额
	ModeMetered    ConsumeMode = "METERED"     // 计次
	ModeProduct    ConsumeMode = "PRODUCT"     // 商品
	ModeOrdering   ConsumeMode = "ORDERING"    // 订餐
)

// modeAliases 兼容终端上报的旧模式名
var modeAliases = map[string]ConsumeMode{
	"FIXED":        ModeFixed,
	"FIXED_AMOUNT": ModeFixed,
	"FREE_AMOUNT":  ModeFreeAmount,
	"AMOUNT":       ModeFreeAmount,
	"METERED":      ModeMetered,
	"COUNT":        ModeMetered,
	"PRODUCT":      ModeProduct,
	"ORDERING":     ModeOrdering,
	"ORDER":        ModeOrdering,
}

// ParseConsumeMode 解析模式字符串，空串默认为定值模式
func ParseConsumeMode(s string) (ConsumeMode, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ModeFixed, true
	}
	m, ok := modeAliases[s]
	return m, ok
}

// AccountStatus 账户状态
type AccountStatus int16

const (
	AccountActive AccountStatus = 1
	AccountFrozen AccountStatus = 2
	AccountClosed AccountStatus = 3
)

// ManageMode 区域经营模式
type ManageMode int16

const (
	ManageMeal        ManageMode = 1 // 餐别制
	ManageSupermarket ManageMode = 2 // 超市制
	ManageMixed       ManageMode = 3 // 混合
)

// Supports 判断经营模式是否允许该消费模式
func (m ManageMode) Supports(mode ConsumeMode) bool {
	switch mode {
	case ModeFixed, ModeOrdering:
		return m == ManageMeal || m == ManageMixed
	case ModeProduct:
		return m == ManageSupermarket || m == ManageMixed
	default:
		return m == ManageMeal || m == ManageSupermarket || m == ManageMixed
	}
}

// TransactionStatus 交易状态，本引擎只写 SUCCESS
type TransactionStatus string

const TransactionSuccess TransactionStatus = "SUCCESS"

// OrderStatus 订餐订单状态
type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
)

// CompensationOperation 补偿方向
type CompensationOperation string

const (
	OpIncrease CompensationOperation = "INCREASE"
	OpDecrease CompensationOperation = "DECREASE"
)

// IsValid 校验方向合法性
func (o CompensationOperation) IsValid() bool {
	return o == OpIncrease || o == OpDecrease
}

// CompensationStatus 补偿任务状态
type CompensationStatus string

const (
	CompensationPending   CompensationStatus = "PENDING"
	CompensationSuccess   CompensationStatus = "SUCCESS"
	CompensationFailed    CompensationStatus = "FAILED"
	CompensationCancelled CompensationStatus = "CANCELLED"
)

// 常见业务类型
const (
	BusinessSubsidy         = "SUBSIDY"
	BusinessConsume         = "CONSUME"
	BusinessRecharge        = "RECHARGE"
	BusinessRefund          = "REFUND"
	BusinessConsumeReversal = "CONSUME_REVERSAL"
)
