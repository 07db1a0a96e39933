package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxRetryCount 补偿任务默认最大重试次数
const DefaultMaxRetryCount = 3

// BackoffDelay 第 retryCount 次重试后的等待时间: 2^retryCount 分钟，不封顶，无抖动
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Minute
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}

// NewBusinessNo 生成业务单号: <前缀>-<毫秒时间戳>-<账户ID>，如 REFUND-1700000000000-42
func NewBusinessNo(prefix string, accountID int64, now time.Time) string {
	return fmt.Sprintf("%s-%d-%d", prefix, now.UnixMilli(), accountID)
}

// NewCompensationTask 新建待处理补偿任务，首次重试时间为 now + 1 分钟
func NewCompensationTask(op CompensationOperation, accountID int64, amount decimal.Decimal,
	businessType, businessNo, reason string, now time.Time) *CompensationTask {
	return &CompensationTask{
		BusinessNo:    businessNo,
		BusinessType:  businessType,
		Operation:     op,
		AccountID:     accountID,
		Amount:        amount,
		Reason:        reason,
		Status:        CompensationPending,
		RetryCount:    0,
		MaxRetryCount: DefaultMaxRetryCount,
		NextRetryTime: now.Add(BackoffDelay(0)),
	}
}

// CanRetry 任务可被 sweeper 捞取的条件
func (t *CompensationTask) CanRetry(now time.Time) bool {
	return t.Status == CompensationPending &&
		t.RetryCount < t.MaxRetryCount &&
		!now.Before(t.NextRetryTime)
}

// Exhausted 重试次数耗尽但仍未终结，需要人工介入
func (t *CompensationTask) Exhausted() bool {
	return t.Status == CompensationPending && t.RetryCount >= t.MaxRetryCount
}

// IncrementRetry 记录一次失败的重试并重新计算下次重试时间
func (t *CompensationTask) IncrementRetry(now time.Time, cause error) {
	t.RetryCount++
	t.LastRetryTime = &now
	t.NextRetryTime = now.Add(BackoffDelay(t.RetryCount))
	if cause != nil {
		t.LastError = cause.Error()
	}
}

// MarkAsSuccess PENDING -> SUCCESS
func (t *CompensationTask) MarkAsSuccess(now time.Time) error {
	if err := t.transition(CompensationSuccess, ""); err != nil {
		return err
	}
	t.LastRetryTime = &now
	return nil
}

// MarkAsFailed PENDING -> FAILED，仅由运维动作触发
func (t *CompensationTask) MarkAsFailed(reason string) error {
	return t.transition(CompensationFailed, reason)
}

// Cancel PENDING -> CANCELLED
func (t *CompensationTask) Cancel(reason string) error {
	return t.transition(CompensationCancelled, reason)
}

func (t *CompensationTask) transition(to CompensationStatus, reason string) error {
	if t.Status != CompensationPending {
		return ErrInvalidTaskTransition
	}
	t.Status = to
	if reason != "" {
		t.LastError = reason
	}
	return nil
}
