package api

import "time"

// ConsumeReq 对应终端/收银台发来的 JSON
type ConsumeReq struct {
	RequestNo string        `json:"request_no"` // 幂等键，可选
	AccountID int64         `json:"account_id" binding:"required"`
	AreaID    string        `json:"area_id" binding:"required"`
	DeviceID  string        `json:"device_id"`
	Mode      string        `json:"mode"`                           // 为空时按定值处理
	Amount    string        `json:"amount"`                         // 自由金额，必须传字符串
	Items     []LineItemReq `json:"items" binding:"omitempty,dive"` // 商品模式
	OrderNo   string        `json:"order_no"`                       // 订餐模式
}

type LineItemReq struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
}

type ConsumeResp struct {
	TransactionNo string `json:"transaction_no"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	Status        string `json:"status"`
	Replayed      bool   `json:"replayed"`
}

// PermissionQuery GET /consume/permissions 的查询参数
type PermissionQuery struct {
	AccountID int64  `form:"account_id" binding:"required"`
	AreaID    string `form:"area_id" binding:"required"`
	Mode      string `form:"mode"`
}

type EnqueueCompensationReq struct {
	Operation    string `json:"operation" binding:"required,oneof=INCREASE DECREASE"`
	AccountID    int64  `json:"account_id" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	BusinessType string `json:"business_type" binding:"required"`
	BusinessNo   string `json:"business_no" binding:"required"`
	Reason       string `json:"reason"`
}

// ResolveTaskReq 运维终结任务时填写原因
type ResolveTaskReq struct {
	Reason string `json:"reason" binding:"required"`
}

type CompensationTaskResp struct {
	ID            int64      `json:"id"`
	BusinessNo    string     `json:"business_no"`
	BusinessType  string     `json:"business_type"`
	Operation     string     `json:"operation"`
	AccountID     int64      `json:"account_id"`
	Amount        string     `json:"amount"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetryCount int        `json:"max_retry_count"`
	NextRetryTime time.Time  `json:"next_retry_time"`
	LastRetryTime *time.Time `json:"last_retry_time,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

type GrantSubsidyReq struct {
	AccountID  int64  `json:"account_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	BusinessNo string `json:"business_no"`
	Reason     string `json:"reason"`
}

type GrantSubsidyResp struct {
	BusinessNo  string `json:"business_no"`
	Compensated bool   `json:"compensated"`
	TaskID      int64  `json:"task_id,omitempty"`
}

// ErrorResp 统一错误响应
type ErrorResp struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
