package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// 账户
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrVersionConflict     = errors.New("optimistic lock conflict: account modified by others")
	ErrInvalidAmount       = errors.New("amount must be positive")

	// 元数据
	ErrAreaNotFound        = errors.New("area not found")
	ErrDeviceNotFound      = errors.New("device not found")
	ErrAccountKindNotFound = errors.New("account kind not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderSettled        = errors.New("order already settled")
	ErrUserNotFound        = errors.New("user not found")

	// 计价
	ErrUnsupportedMode = errors.New("unsupported consume mode")

	// 流水
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateRequest    = errors.New("duplicate request")

	// 补偿
	ErrTaskNotFound          = errors.New("compensation task not found")
	ErrInvalidTaskTransition = errors.New("compensation task is not pending")
	ErrInvalidTask           = errors.New("invalid compensation task")

	// 下游
	ErrDownstreamUnavailable = errors.New("downstream service unavailable")
	ErrSubsidyRejected       = errors.New("subsidy rejected by downstream")
)

// ErrorCode 对调用方稳定的错误码
type ErrorCode string

const (
	CodeInvalidRequest          ErrorCode = "INVALID_REQUEST"
	CodeAccountNotFound         ErrorCode = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive         ErrorCode = "ACCOUNT_INACTIVE"
	CodePermissionDenied        ErrorCode = "PERMISSION_DENIED"
	CodeAmountCalculationFailed ErrorCode = "AMOUNT_CALCULATION_FAILED"
	CodeConsumeLimitExceeded    ErrorCode = "CONSUME_LIMIT_EXCEEDED"
	CodeInsufficientBalance     ErrorCode = "INSUFFICIENT_BALANCE"
	CodeDebitFailed             ErrorCode = "DEBIT_FAILED"
	CodeDownstreamUnavailable   ErrorCode = "DOWNSTREAM_UNAVAILABLE"
	CodeTransactionRecordFailed ErrorCode = "TRANSACTION_RECORD_FAILED"
	CodeSubsidyRejected         ErrorCode = "SUBSIDY_REJECTED"
)

// ConsumeError 消费失败结果
// Retryable 表示调用方可以原样重试 (版本冲突、下游超时)
type ConsumeError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

func (e *ConsumeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConsumeError) Unwrap() error {
	return e.Err
}

// NewConsumeError 构造终态 (不可重试) 错误
func NewConsumeError(code ErrorCode, msg string, err error) *ConsumeError {
	return &ConsumeError{Code: code, Message: msg, Err: err}
}

// NewRetryableError 构造可重试错误
func NewRetryableError(code ErrorCode, msg string, err error) *ConsumeError {
	return &ConsumeError{Code: code, Message: msg, Retryable: true, Err: err}
}

// CodeOf 提取错误码，非 ConsumeError 返回空串
func CodeOf(err error) ErrorCode {
	var ce *ConsumeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	var ce *ConsumeError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrDownstreamUnavailable)
}
