package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/consume/internal/consume/calculator"
	"github.com/xxz807/finscale/consume/internal/consume/domain"
	"github.com/xxz807/finscale/consume/internal/consume/permission"
)

const (
	// 冲正时版本冲突的本地重试次数
	reverseAttempts = 3

	// ExecuteWithRetry 的重试参数
	defaultMaxAttempts = 3
	defaultRetryBase   = 100 * time.Millisecond
	maxRetryJitterMs   = 50
)

// ConsumeRequest 消费请求 (Input)
type ConsumeRequest struct {
	RequestNo string // 调用方幂等键，可空
	AccountID int64
	AreaID    string
	DeviceID  string
	Mode      string          // 允许别名，空串为定值
	Amount    decimal.Decimal // FREE_AMOUNT
	Items     []calculator.LineItem
	OrderNo   string
}

// ConsumeResult 消费结果 (Output)
type ConsumeResult struct {
	TransactionNo string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Status        domain.TransactionStatus
	Replayed      bool // 幂等重放，本次未扣款
}

// ConsumeEngine 消费执行编排
// 状态依次为 识别账户 -> 权限校验 -> 计价 -> 余额检查 -> 扣款 -> 记流水
// 唯一负责把错误归类为 终态 / 可重试 / 需补偿 的地方
type ConsumeEngine struct {
	accounts     *AccountStore
	txRepo       domain.TransactionRepository
	directory    domain.Directory
	validator    *permission.Validator
	calculators  *calculator.Factory
	compensation *CompensationLedger
	users        domain.UserDirectory
	metrics      *Metrics
	logger       *zap.Logger
	now          func() time.Time

	maxAttempts int
	retryBase   time.Duration
}

type EngineOption func(*ConsumeEngine)

// WithUserDirectory 启用流水上的用户名补全
func WithUserDirectory(u domain.UserDirectory) EngineOption {
	return func(e *ConsumeEngine) { e.users = u }
}

func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *ConsumeEngine) { e.metrics = m }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *ConsumeEngine) { e.now = now }
}

// WithRetryPolicy 设置 ExecuteWithRetry 的最大尝试次数与退避基数
func WithRetryPolicy(maxAttempts int, base time.Duration) EngineOption {
	return func(e *ConsumeEngine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if base > 0 {
			e.retryBase = base
		}
	}
}

func NewConsumeEngine(
	accounts *AccountStore,
	txRepo domain.TransactionRepository,
	directory domain.Directory,
	calculators *calculator.Factory,
	compensation *CompensationLedger,
	logger *zap.Logger,
	opts ...EngineOption,
) *ConsumeEngine {
	e := &ConsumeEngine{
		accounts:     accounts,
		txRepo:       txRepo,
		directory:    directory,
		validator:    permission.NewValidator(directory, directory, logger),
		calculators:  calculators,
		compensation: compensation,
		logger:       logger,
		now:          utcNow,
		maxAttempts:  defaultMaxAttempts,
		retryBase:    defaultRetryBase,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteConsumption 执行一次消费
// 失败时返回 *domain.ConsumeError，Retryable 表示可以原样重试
func (e *ConsumeEngine) ExecuteConsumption(ctx context.Context, req ConsumeRequest) (res *ConsumeResult, err error) {
	defer func() {
		e.metrics.observeExecution(res, err)
	}()

	// 0. 基础校验
	mode, ok := domain.ParseConsumeMode(req.Mode)
	if !ok {
		return nil, domain.NewConsumeError(domain.CodeInvalidRequest, "unsupported consume mode "+req.Mode, domain.ErrUnsupportedMode)
	}
	if req.AccountID <= 0 || req.AreaID == "" {
		return nil, domain.NewConsumeError(domain.CodeInvalidRequest, "account id and area id are required", nil)
	}
	requestNo := req.RequestNo
	if mode == domain.ModeOrdering && req.OrderNo != "" {
		// 订餐以订单为幂等键，调用方的请求号不同也只核销一次
		requestNo = orderRequestNo(req.OrderNo)
	}

	// 1. 幂等性检查
	if requestNo != "" {
		prev, err := e.txRepo.FindByRequestNo(ctx, requestNo)
		if err == nil {
			return replay(prev), nil
		}
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "idempotency lookup failed", err)
		}
	}

	// 2. 识别账户
	account, err := e.accounts.GetByAccountID(ctx, req.AccountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.NewConsumeError(domain.CodeAccountNotFound, fmt.Sprintf("account %d not found", req.AccountID), err)
	}
	if err != nil {
		return nil, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "load account failed", err)
	}
	if !account.IsActive() {
		return nil, domain.NewConsumeError(domain.CodeAccountInactive, fmt.Sprintf("account %d status %d", account.ID, account.Status), nil)
	}
	cfg, err := e.loadModeConfig(ctx, account)
	if err != nil {
		return nil, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "load account kind failed", err)
	}

	// 3. 权限校验
	decision, err := e.validator.Validate(ctx, permission.Request{
		Account:  account,
		Config:   cfg,
		AreaID:   req.AreaID,
		DeviceID: req.DeviceID,
		Mode:     mode,
	})
	if err != nil {
		return nil, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "permission lookup failed", err)
	}
	if !decision.Allowed {
		return nil, domain.NewConsumeError(domain.CodePermissionDenied, decision.Reason, nil)
	}

	// 4. 计价
	calc, err := e.calculators.Get(string(mode))
	if err != nil {
		return nil, domain.NewConsumeError(domain.CodeAmountCalculationFailed, "no calculator for mode", err)
	}
	priced, err := calc.Calculate(ctx, calculator.Input{
		Account: account,
		Config:  cfg,
		Area:    decision.Area,
		Amount:  req.Amount,
		Items:   req.Items,
		OrderNo: req.OrderNo,
	})
	if err != nil {
		return nil, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "amount calculation lookup failed", err)
	}
	if !priced.OK {
		return nil, domain.NewConsumeError(domain.CodeAmountCalculationFailed, priced.Reason, nil)
	}
	amount := priced.Amount

	// 5. 限额
	if err := e.checkLimits(ctx, account.ID, cfg.Limits, amount); err != nil {
		return nil, err
	}

	// 6. 余额检查 (仅作快速失败，以扣款时的判断为准)
	sufficient, err := e.accounts.CheckSufficient(ctx, account.ID, amount)
	if err != nil {
		return nil, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "balance check failed", err)
	}
	if !sufficient {
		return nil, domain.NewConsumeError(domain.CodeInsufficientBalance,
			fmt.Sprintf("balance below amount %s", amount.StringFixed(2)), domain.ErrInsufficientBalance)
	}

	// 从扣款开始不再响应调用方取消，保证 扣款 -> 记流水/冲正 完整执行
	ctx = context.WithoutCancel(ctx)

	// 7. 扣款
	change, err := e.accounts.Debit(ctx, account.ID, amount)
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return nil, domain.NewConsumeError(domain.CodeInsufficientBalance, "insufficient balance at debit", err)
	case err != nil:
		return nil, domain.NewRetryableError(domain.CodeDebitFailed, "debit failed", err)
	}

	// 8. 记流水
	txn := e.newTransaction(ctx, account, decision, mode, amount, change, requestNo)
	if err := e.record(ctx, txn, mode, req.OrderNo); err != nil {
		e.reverseDebit(ctx, account.ID, amount, txn.TransactionNo, err)

		// 同一幂等键的并发请求已先落库，本次已冲正，返回先到者的结果
		if requestNo != "" && (errors.Is(err, domain.ErrDuplicateRequest) || errors.Is(err, domain.ErrOrderSettled)) {
			if prev, findErr := e.txRepo.FindByRequestNo(ctx, requestNo); findErr == nil {
				return replay(prev), nil
			}
		}
		if errors.Is(err, domain.ErrOrderSettled) {
			return nil, domain.NewConsumeError(domain.CodeAmountCalculationFailed, "order already settled, debit reversed", err)
		}
		return nil, domain.NewConsumeError(domain.CodeTransactionRecordFailed, "record transaction failed, debit reversed", err)
	}

	e.logger.Info("consumption executed",
		zap.String("transaction_no", txn.TransactionNo),
		zap.Int64("account_id", account.ID),
		zap.String("area_id", req.AreaID),
		zap.String("mode", string(mode)),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance_after", change.After.StringFixed(2)),
	)

	return &ConsumeResult{
		TransactionNo: txn.TransactionNo,
		Amount:        amount,
		BalanceBefore: change.Before,
		BalanceAfter:  change.After,
		Status:        txn.Status,
	}, nil
}

// record 写流水；订餐同时核销订单
func (e *ConsumeEngine) record(ctx context.Context, txn *domain.ConsumeTransaction, mode domain.ConsumeMode, orderNo string) error {
	if mode == domain.ModeOrdering {
		return e.txRepo.CreateSettlingOrder(ctx, txn, orderNo)
	}
	return e.txRepo.Create(ctx, txn)
}

func orderRequestNo(orderNo string) string {
	return "ORDER-" + orderNo
}

func replay(t *domain.ConsumeTransaction) *ConsumeResult {
	return &ConsumeResult{
		TransactionNo: t.TransactionNo,
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Status:        t.Status,
		Replayed:      true,
	}
}

// loadModeConfig 读取账户类别配置；类别不存在或配置损坏视为空配置 (所有模式未启用)
func (e *ConsumeEngine) loadModeConfig(ctx context.Context, account *domain.Account) (*domain.ModeConfig, error) {
	kind, err := e.directory.GetAccountKind(ctx, account.AccountKindID)
	if errors.Is(err, domain.ErrAccountKindNotFound) {
		e.logger.Warn("account kind not found", zap.Int64("account_kind_id", account.AccountKindID))
		return &domain.ModeConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := domain.DecodeModeConfig(kind.ModeConfig)
	if err != nil {
		e.logger.Warn("malformed mode config",
			zap.Int64("account_kind_id", kind.ID),
			zap.Error(err),
		)
		return &domain.ModeConfig{}, nil
	}
	return cfg, nil
}

// checkLimits 日/月累计限额，按 UTC 自然日、自然月统计
func (e *ConsumeEngine) checkLimits(ctx context.Context, accountID int64, limits *domain.LimitConfig, amount decimal.Decimal) error {
	if limits == nil {
		return nil
	}
	now := e.now()
	checks := []struct {
		name  string
		limit decimal.Decimal
		since time.Time
	}{
		{"daily", limits.DailyAmount, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)},
		{"monthly", limits.MonthlyAmount, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range checks {
		if !c.limit.IsPositive() {
			continue
		}
		used, err := e.txRepo.SumAmountSince(ctx, accountID, c.since)
		if err != nil {
			return domain.NewRetryableError(domain.CodeDownstreamUnavailable, "sum consumption failed", err)
		}
		if used.Add(amount).GreaterThan(c.limit) {
			return domain.NewConsumeError(domain.CodeConsumeLimitExceeded,
				fmt.Sprintf("%s limit %s exceeded: used %s, amount %s", c.name, c.limit.StringFixed(2), used.StringFixed(2), amount.StringFixed(2)), nil)
		}
	}
	return nil
}

func (e *ConsumeEngine) newTransaction(ctx context.Context, account *domain.Account, decision permission.Decision,
	mode domain.ConsumeMode, amount decimal.Decimal, change *BalanceChange, requestNo string) *domain.ConsumeTransaction {
	now := e.now()
	txn := &domain.ConsumeTransaction{
		TransactionNo: generateTransactionNo(now),
		AccountID:     account.ID,
		AccountKindID: account.AccountKindID,
		UserID:        account.UserID,
		AreaID:        decision.Area.ID,
		AreaName:      decision.Area.Name,
		Mode:          mode,
		Amount:        amount,
		BalanceBefore: change.Before,
		BalanceAfter:  change.After,
		Status:        domain.TransactionSuccess,
		ConsumedAt:    now,
	}
	if requestNo != "" {
		txn.RequestNo = &requestNo
	}
	if decision.Device != nil {
		txn.DeviceID = decision.Device.ID
		txn.DeviceName = decision.Device.Name
	}
	// 用户名补全失败不影响消费
	if e.users != nil && account.UserID > 0 {
		name, err := e.users.GetUserName(ctx, account.UserID)
		if err != nil {
			e.logger.Warn("user name enrichment failed",
				zap.Int64("user_id", account.UserID),
				zap.Error(err),
			)
		} else {
			txn.UserName = name
		}
	}
	return txn
}

// reverseDebit 记流水失败后立即退回扣款
// 版本冲突时本地重试，仍失败则登记 CONSUME_REVERSAL 补偿任务
func (e *ConsumeEngine) reverseDebit(ctx context.Context, accountID int64, amount decimal.Decimal, transactionNo string, cause error) {
	var err error
	for i := 0; i < reverseAttempts; i++ {
		if _, err = e.accounts.Credit(ctx, accountID, amount); err == nil {
			e.logger.Warn("transaction record failed, debit reversed",
				zap.String("transaction_no", transactionNo),
				zap.Int64("account_id", accountID),
				zap.String("amount", amount.StringFixed(2)),
				zap.NamedError("cause", cause),
			)
			return
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}

	task, enqErr := e.compensation.Enqueue(ctx, EnqueueRequest{
		Operation:    domain.OpIncrease,
		AccountID:    accountID,
		Amount:       amount,
		BusinessType: domain.BusinessConsumeReversal,
		BusinessNo:   "REVERSAL-" + transactionNo,
		Reason:       fmt.Sprintf("record transaction failed: %v; reverse credit failed: %v", cause, err),
	})
	if enqErr != nil {
		// 扣款已生效但既无流水也无补偿任务，只能人工处理
		e.logger.Error("debit reversal lost, manual intervention required",
			zap.String("transaction_no", transactionNo),
			zap.Int64("account_id", accountID),
			zap.String("amount", amount.StringFixed(2)),
			zap.NamedError("cause", cause),
			zap.NamedError("credit_error", err),
			zap.NamedError("enqueue_error", enqErr),
		)
		return
	}
	e.logger.Warn("debit reversal deferred to compensation",
		zap.String("transaction_no", transactionNo),
		zap.Int64("task_id", task.ID),
		zap.Error(err),
	)
}

// ValidatePermission 调用方预校验：账户能否以该模式在该区域消费
// 终端未知，不校验终端规则
func (e *ConsumeEngine) ValidatePermission(ctx context.Context, accountID int64, areaID, mode string) (bool, error) {
	m, ok := domain.ParseConsumeMode(mode)
	if !ok {
		return false, nil
	}
	account, err := e.accounts.GetByAccountID(ctx, accountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !account.IsActive() {
		return false, nil
	}
	cfg, err := e.loadModeConfig(ctx, account)
	if err != nil {
		return false, err
	}
	decision, err := e.validator.Validate(ctx, permission.Request{
		Account:        account,
		Config:         cfg,
		AreaID:         areaID,
		Mode:           m,
		DeviceOptional: true,
	})
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// ExecuteWithRetry 对可重试错误做有限次重试，指数退避 + 随机抖动
// 未带幂等键的请求会先生成一个，保证重试不会重复扣款 (订餐仍以订单为键)
func (e *ConsumeEngine) ExecuteWithRetry(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	if req.RequestNo == "" {
		req.RequestNo = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		res, err := e.ExecuteConsumption(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || attempt == e.maxAttempts-1 {
			break
		}

		wait := backoff(e.retryBase, attempt)
		e.logger.Debug("retrying consumption",
			zap.Int64("account_id", req.AccountID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// backoff base * 2^attempt + [0, 50ms) 抖动
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	if n, err := rand.Int(rand.Reader, big.NewInt(maxRetryJitterMs)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

// generateTransactionNo yyyyMMddHHmmss + 6 位随机数
func generateTransactionNo(now time.Time) string {
	var suffix int64
	if n, err := rand.Int(rand.Reader, big.NewInt(1_000_000)); err == nil {
		suffix = n.Int64()
	} else {
		suffix = int64(now.Nanosecond() / 1000 % 1_000_000)
	}
	return fmt.Sprintf("%s%06d", now.Format("20060102150405"), suffix)
}
