package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Account 消费账户实体
// 对应数据库表: consume_accounts
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	UserID        int64           `gorm:"not null;index"`
	AccountKindID int64           `gorm:"not null;index"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	FrozenAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	Version       int64           `gorm:"not null;default:1"` // 乐观锁
	Status        AccountStatus   `gorm:"type:smallint;not null;default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Account) TableName() string {
	return "consume_accounts"
}

// IsActive 只有正常状态的账户可以消费
func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

// AccountKind 账户类别，ModeConfig 为各消费模式的 JSON 配置
type AccountKind struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	Name       string         `gorm:"type:varchar(64);not null"`
	ModeConfig datatypes.JSON `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (AccountKind) TableName() string {
	return "consume_account_kinds"
}

// Area 消费区域
type Area struct {
	ID             string                     `gorm:"primaryKey;type:varchar(32)"`
	Name           string                     `gorm:"type:varchar(100);not null"`
	ManageMode     ManageMode                 `gorm:"type:smallint;not null"`
	Enabled        bool                       `gorm:"not null"`
	FixedAmount    *decimal.Decimal           `gorm:"type:decimal(20,4)"` // 区域定值，为空时取账户类别配置
	AccountKindIDs datatypes.JSONSlice[int64] `gorm:"type:json"`          // 允许的账户类别，空表示不限
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Area) TableName() string {
	return "consume_areas"
}

// AllowsKind 判断账户类别是否可在该区域消费
func (a *Area) AllowsKind(kindID int64) bool {
	return len(a.AccountKindIDs) == 0 || slices.Contains(a.AccountKindIDs, kindID)
}

// Device 消费终端
type Device struct {
	ID             string                      `gorm:"primaryKey;type:varchar(32)"`
	Name           string                      `gorm:"type:varchar(100);not null"`
	AreaID         string                      `gorm:"type:varchar(32);index"`
	Online         bool                        `gorm:"not null"`
	SupportedModes datatypes.JSONSlice[string] `gorm:"type:json"` // 空表示支持全部模式
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Device) TableName() string {
	return "consume_devices"
}

// SupportsMode 终端能力校验
func (d *Device) SupportsMode(mode ConsumeMode) bool {
	return len(d.SupportedModes) == 0 || slices.Contains(d.SupportedModes, string(mode))
}

// Product 商品
type Product struct {
	ID        string                      `gorm:"primaryKey;type:varchar(32)"`
	Name      string                      `gorm:"type:varchar(100);not null"`
	Price     decimal.Decimal             `gorm:"type:decimal(20,4);not null"`
	Available bool                        `gorm:"not null"`
	AreaIDs   datatypes.JSONSlice[string] `gorm:"type:json"` // 可售区域，空表示全部区域
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Product) TableName() string {
	return "consume_products"
}

// SellableIn 商品是否在该区域销售
func (p *Product) SellableIn(areaID string) bool {
	return len(p.AreaIDs) == 0 || slices.Contains(p.AreaIDs, areaID)
}

// MealOrder 订餐订单，ORDERING 模式按订单总额扣费
type MealOrder struct {
	OrderNo   string                      `gorm:"primaryKey;type:varchar(64)"`
	AccountID int64                       `gorm:"not null;index"`
	Total     decimal.Decimal             `gorm:"type:decimal(20,4);not null"`
	AreaIDs   datatypes.JSONSlice[string] `gorm:"type:json"`
	Status    OrderStatus                 `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (MealOrder) TableName() string {
	return "consume_orders"
}

// ApplicableIn 订单是否可在该区域核销
func (o *MealOrder) ApplicableIn(areaID string) bool {
	return len(o.AreaIDs) == 0 || slices.Contains(o.AreaIDs, areaID)
}

// ConsumeTransaction 消费流水，创建后不可变
// 对应数据库表: consume_transactions
type ConsumeTransaction struct {
	ID            int64             `gorm:"primaryKey;autoIncrement"`
	TransactionNo string            `gorm:"uniqueIndex;type:varchar(32);not null"`
	RequestNo     *string           `gorm:"uniqueIndex;type:varchar(64)"` // 调用方幂等键，可空
	AccountID     int64             `gorm:"not null;index"`
	AccountKindID int64             `gorm:"not null"`
	UserID        int64             `gorm:"index"`
	UserName      string            `gorm:"type:varchar(64)"`
	AreaID        string            `gorm:"type:varchar(32);index"`
	AreaName      string            `gorm:"type:varchar(100)"`
	DeviceID      string            `gorm:"type:varchar(32)"`
	DeviceName    string            `gorm:"type:varchar(100)"`
	Mode          ConsumeMode       `gorm:"type:varchar(16);not null"`
	Amount        decimal.Decimal   `gorm:"type:decimal(20,4);not null"`
	BalanceBefore decimal.Decimal   `gorm:"type:decimal(20,4);not null"`
	BalanceAfter  decimal.Decimal   `gorm:"type:decimal(20,4);not null"`
	Status        TransactionStatus `gorm:"type:varchar(16);not null"`
	ConsumedAt    time.Time         `gorm:"not null;index"`
	CreatedAt     time.Time
}

func (ConsumeTransaction) TableName() string {
	return "consume_transactions"
}

// CompensationTask 补偿任务
// 对应数据库表: consume_compensation_tasks
type CompensationTask struct {
	ID            int64                 `gorm:"primaryKey;autoIncrement"`
	BusinessNo    string                `gorm:"uniqueIndex;type:varchar(64);not null"`
	BusinessType  string                `gorm:"type:varchar(32);not null"`
	Operation     CompensationOperation `gorm:"type:varchar(16);not null"`
	AccountID     int64                 `gorm:"not null;index"`
	Amount        decimal.Decimal       `gorm:"type:decimal(20,4);not null"`
	Reason        string                `gorm:"type:text"`
	Status        CompensationStatus    `gorm:"type:varchar(16);not null;index"`
	RetryCount    int                   `gorm:"not null;default:0"`
	MaxRetryCount int                   `gorm:"not null;default:3"`
	NextRetryTime time.Time             `gorm:"not null;index"`
	LastRetryTime *time.Time
	LastError     string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (CompensationTask) TableName() string {
	return "consume_compensation_tasks"
}

// Models 返回需要迁移的全部实体
func Models() []any {
	return []any{
		&AccountKind{},
		&Account{},
		&Area{},
		&Device{},
		&Product{},
		&MealOrder{},
		&ConsumeTransaction{},
		&CompensationTask{},
	}
}
