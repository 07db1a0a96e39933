package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountRepository 定义账户仓储接口
// 这是一个 Port (端口)，Adapter (适配器) 将在基础设施层实现它
type AccountRepository interface {
	// WithTx 返回绑定到事务会话的仓储
	WithTx(tx *gorm.DB) AccountRepository

	FindByID(ctx context.Context, id int64) (*Account, error)

	// UpdateBalance 核心：写入新余额 (带乐观锁版本号)
	// 版本不匹配返回 ErrVersionConflict
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error
}

// TransactionRepository 消费流水仓储，只追加
type TransactionRepository interface {
	Create(ctx context.Context, t *ConsumeTransaction) error

	// CreateSettlingOrder 写流水并把订单 PENDING -> PAID，同一事务提交
	// 订单已不是 PENDING 时返回 ErrOrderSettled，流水不落库
	CreateSettlingOrder(ctx context.Context, t *ConsumeTransaction, orderNo string) error
	FindByTransactionNo(ctx context.Context, no string) (*ConsumeTransaction, error)

	// FindByRequestNo 幂等性检查，未找到返回 ErrTransactionNotFound
	FindByRequestNo(ctx context.Context, requestNo string) (*ConsumeTransaction, error)

	// SumAmountSince 统计账户自 since 起的消费总额 (限额校验)
	SumAmountSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error)
}

// CompensationRepository 补偿任务仓储
type CompensationRepository interface {
	WithTx(tx *gorm.DB) CompensationRepository

	// Create BusinessNo 重复时返回 ErrDuplicateRequest
	Create(ctx context.Context, task *CompensationTask) error
	FindByID(ctx context.Context, id int64) (*CompensationTask, error)
	FindByBusinessNo(ctx context.Context, businessNo string) (*CompensationTask, error)

	// ListRetryable PENDING 且未耗尽且到期的任务
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]*CompensationTask, error)
	// ListExhausted PENDING 但重试次数已耗尽的任务
	ListExhausted(ctx context.Context, limit int) ([]*CompensationTask, error)

	// Save 仅当库中状态仍为 PENDING 时写入，否则返回 ErrInvalidTaskTransition
	Save(ctx context.Context, task *CompensationTask) error
}

// ─── External collaborators ────────────────────────────────────────────────

type AreaDirectory interface {
	GetArea(ctx context.Context, id string) (*Area, error)
}

type DeviceDirectory interface {
	GetDevice(ctx context.Context, id string) (*Device, error)
}

type AccountKindDirectory interface {
	GetAccountKind(ctx context.Context, id int64) (*AccountKind, error)
}

type ProductCatalog interface {
	// GetProducts 按 ID 批量查询，不存在的 ID 不出现在结果中
	GetProducts(ctx context.Context, ids []string) ([]*Product, error)
}

type OrderBook interface {
	GetOrder(ctx context.Context, orderNo string) (*MealOrder, error)
}

type UserDirectory interface {
	GetUserName(ctx context.Context, userID int64) (string, error)
}

// Directory 引擎依赖的全部元数据查询
type Directory interface {
	AreaDirectory
	DeviceDirectory
	AccountKindDirectory
	ProductCatalog
	OrderBook
}

// SubsidyGateway 下游补贴服务，按 businessNo 去重
type SubsidyGateway interface {
	GrantSubsidy(ctx context.Context, accountID int64, amount decimal.Decimal, businessNo, reason string) error
}
