package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// DefaultGatewayTimeout 下游补贴服务调用超时
const DefaultGatewayTimeout = 3 * time.Second

// GrantRequest 发放补贴
type GrantRequest struct {
	AccountID  int64
	Amount     decimal.Decimal
	BusinessNo string // 为空时自动生成 SUBSIDY-<毫秒>-<账户ID>
	Reason     string
}

// GrantResult Compensated=true 表示下游结果未知，已登记补偿任务由 sweeper 重放
type GrantResult struct {
	BusinessNo  string
	Compensated bool
	TaskID      int64
}

// SubsidyService 调用下游补贴服务
// 补贴记在下游账上，本地余额不变；结果未知时登记 SUBSIDY 任务，sweeper 以同一 businessNo 重放下游调用
type SubsidyService struct {
	gateway domain.SubsidyGateway
	ledger  *CompensationLedger
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewSubsidyService(gateway domain.SubsidyGateway, ledger *CompensationLedger, timeout time.Duration, logger *zap.Logger) *SubsidyService {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	s := &SubsidyService{
		gateway: gateway,
		ledger:  ledger,
		timeout: timeout,
		logger:  logger,
		now:     utcNow,
	}
	ledger.RegisterExecutor(domain.BusinessSubsidy, s.redeliver)
	return s
}

func (s *SubsidyService) Grant(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	if req.AccountID <= 0 {
		return nil, fmt.Errorf("account id required: %w", domain.ErrInvalidTask)
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	businessNo := req.BusinessNo
	if businessNo == "" {
		businessNo = domain.NewBusinessNo(domain.BusinessSubsidy, req.AccountID, s.now())
	}

	// 1. 调用下游 (带超时)
	err := s.call(ctx, req.AccountID, req.Amount, businessNo, req.Reason)
	if err == nil {
		return &GrantResult{BusinessNo: businessNo}, nil
	}

	// 2. 下游明确拒绝：终态，不补偿
	if !outcomeUnknown(err) {
		s.logger.Warn("subsidy rejected",
			zap.String("business_no", businessNo),
			zap.Int64("account_id", req.AccountID),
			zap.Error(err),
		)
		return nil, err
	}

	// 3. 结果未知转补偿，调用方取消也要登记
	s.logger.Warn("subsidy outcome unknown, enqueue compensation",
		zap.String("business_no", businessNo),
		zap.Int64("account_id", req.AccountID),
		zap.Error(err),
	)
	task, enqErr := s.ledger.Enqueue(context.WithoutCancel(ctx), EnqueueRequest{
		Operation:    domain.OpIncrease,
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		BusinessType: domain.BusinessSubsidy,
		BusinessNo:   businessNo,
		Reason:       req.Reason,
	})
	if enqErr != nil {
		return nil, fmt.Errorf("subsidy %s failed (%v) and compensation enqueue failed: %w", businessNo, err, enqErr)
	}
	return &GrantResult{BusinessNo: businessNo, Compensated: true, TaskID: task.ID}, nil
}

func (s *SubsidyService) call(ctx context.Context, accountID int64, amount decimal.Decimal, businessNo, reason string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.gateway.GrantSubsidy(callCtx, accountID, amount, businessNo, reason)
}

// redeliver sweeper 重放补贴调用
func (s *SubsidyService) redeliver(ctx context.Context, task *domain.CompensationTask) error {
	return s.call(ctx, task.AccountID, task.Amount, task.BusinessNo, task.Reason)
}

// outcomeUnknown 下游可能已经生效：网络错误、5xx、超时、取消
func outcomeUnknown(err error) bool {
	return errors.Is(err, domain.ErrDownstreamUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
