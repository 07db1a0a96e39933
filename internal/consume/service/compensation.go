package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

const (
	defaultSweepBatchSize = 100
	exhaustedListLimit    = 500
)

// EnqueueRequest 登记补偿任务
type EnqueueRequest struct {
	Operation    domain.CompensationOperation
	AccountID    int64
	Amount       decimal.Decimal
	BusinessType string
	BusinessNo   string // 幂等键
	Reason       string
}

// SweepReport 一轮扫描的结果
type SweepReport struct {
	Processed int
	Succeeded int
	Failed    int
	Exhausted int // 本轮结束时处于耗尽状态的任务数
}

// Alerter 重试耗尽的任务需要人工处理
type Alerter interface {
	TaskExhausted(ctx context.Context, task *domain.CompensationTask)
}

// LogAlerter 以 Error 级别日志告警
type LogAlerter struct {
	Logger *zap.Logger
}

func (a LogAlerter) TaskExhausted(_ context.Context, task *domain.CompensationTask) {
	a.Logger.Error("compensation task exhausted, manual intervention required",
		zap.Int64("task_id", task.ID),
		zap.String("business_no", task.BusinessNo),
		zap.String("business_type", task.BusinessType),
		zap.String("operation", string(task.Operation)),
		zap.Int64("account_id", task.AccountID),
		zap.String("amount", task.Amount.String()),
		zap.Int("retry_count", task.RetryCount),
		zap.String("last_error", task.LastError),
	)
}

// TaskExecutor 某一业务类型的补偿动作，替代本地余额变更
// 必须按 BusinessNo 幂等，返回 nil 表示已生效 (含重复提交)
type TaskExecutor func(ctx context.Context, task *domain.CompensationTask) error

// CompensationLedger 补偿任务台账
// 本地余额变更与任务置为 SUCCESS 在同一个数据库事务里提交
// 注册了 TaskExecutor 的业务类型改为重放下游调用，不动本地余额
type CompensationLedger struct {
	db        *gorm.DB
	tasks     domain.CompensationRepository
	accounts  *AccountStore
	alerter   Alerter
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
	batchSize int

	mu        sync.RWMutex
	executors map[string]TaskExecutor
}

type LedgerOption func(*CompensationLedger)

func WithAlerter(a Alerter) LedgerOption {
	return func(l *CompensationLedger) { l.alerter = a }
}

func WithLedgerMetrics(m *Metrics) LedgerOption {
	return func(l *CompensationLedger) { l.metrics = m }
}

func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *CompensationLedger) { l.now = now }
}

func WithSweepBatchSize(n int) LedgerOption {
	return func(l *CompensationLedger) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

func NewCompensationLedger(db *gorm.DB, tasks domain.CompensationRepository, accounts *AccountStore,
	logger *zap.Logger, opts ...LedgerOption) *CompensationLedger {
	l := &CompensationLedger{
		db:        db,
		tasks:     tasks,
		accounts:  accounts,
		alerter:   LogAlerter{Logger: logger},
		logger:    logger,
		now:       utcNow,
		batchSize: defaultSweepBatchSize,
		executors: make(map[string]TaskExecutor),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterExecutor 为业务类型注册补偿动作
func (l *CompensationLedger) RegisterExecutor(businessType string, fn TaskExecutor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executors[businessType] = fn
}

func (l *CompensationLedger) executor(businessType string) TaskExecutor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.executors[businessType]
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Enqueue 登记补偿任务
// 同一 BusinessNo 重复登记返回已有任务，不会产生第二条
func (l *CompensationLedger) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.CompensationTask, error) {
	if err := validateEnqueue(req); err != nil {
		return nil, err
	}

	// 1. 幂等性检查 (快速路径)
	existing, err := l.tasks.FindByBusinessNo(ctx, req.BusinessNo)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrTaskNotFound) {
		return nil, err
	}

	// 2. 写入，唯一索引兜底并发重复
	task := domain.NewCompensationTask(req.Operation, req.AccountID, req.Amount,
		req.BusinessType, req.BusinessNo, req.Reason, l.now())
	if err := l.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) {
			return l.tasks.FindByBusinessNo(ctx, req.BusinessNo)
		}
		return nil, fmt.Errorf("create compensation task %s: %w", req.BusinessNo, err)
	}

	l.metrics.taskEnqueued(task.BusinessType)
	l.logger.Info("compensation task enqueued",
		zap.Int64("task_id", task.ID),
		zap.String("business_no", task.BusinessNo),
		zap.String("business_type", task.BusinessType),
		zap.String("operation", string(task.Operation)),
		zap.Int64("account_id", task.AccountID),
		zap.String("amount", task.Amount.String()),
	)
	return task, nil
}

func validateEnqueue(req EnqueueRequest) error {
	switch {
	case !req.Operation.IsValid():
		return fmt.Errorf("%w: operation %q", domain.ErrInvalidTask, req.Operation)
	case req.AccountID <= 0:
		return fmt.Errorf("%w: account id required", domain.ErrInvalidTask)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: %w", domain.ErrInvalidTask, domain.ErrInvalidAmount)
	case req.BusinessNo == "":
		return fmt.Errorf("%w: business no required", domain.ErrInvalidTask)
	case req.BusinessType == "":
		return fmt.Errorf("%w: business type required", domain.ErrInvalidTask)
	}
	return nil
}

func (l *CompensationLedger) Get(ctx context.Context, id int64) (*domain.CompensationTask, error) {
	return l.tasks.FindByID(ctx, id)
}

// MarkAsFailed 运维确认放弃，任务进入终态 FAILED
func (l *CompensationLedger) MarkAsFailed(ctx context.Context, id int64, reason string) (*domain.CompensationTask, error) {
	return l.finish(ctx, id, "failed", func(t *domain.CompensationTask) error {
		return t.MarkAsFailed(reason)
	})
}

// Cancel 业务撤销，任务进入终态 CANCELLED
func (l *CompensationLedger) Cancel(ctx context.Context, id int64, reason string) (*domain.CompensationTask, error) {
	return l.finish(ctx, id, "cancelled", func(t *domain.CompensationTask) error {
		return t.Cancel(reason)
	})
}

func (l *CompensationLedger) finish(ctx context.Context, id int64, action string, fn func(*domain.CompensationTask) error) (*domain.CompensationTask, error) {
	task, err := l.tasks.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	if err := l.tasks.Save(ctx, task); err != nil {
		return nil, err
	}
	l.logger.Info("compensation task "+action,
		zap.Int64("task_id", task.ID),
		zap.String("business_no", task.BusinessNo),
		zap.String("reason", task.LastError),
	)
	return task, nil
}

// ListExhausted 重试耗尽、等待人工处理的任务
func (l *CompensationLedger) ListExhausted(ctx context.Context) ([]*domain.CompensationTask, error) {
	return l.tasks.ListExhausted(ctx, exhaustedListLimit)
}

// SweepOnce 处理一批到期任务，每个任务独立成败
func (l *CompensationLedger) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	tasks, err := l.tasks.ListRetryable(ctx, l.now(), l.batchSize)
	if err != nil {
		return report, fmt.Errorf("list retryable tasks: %w", err)
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		report.Processed++
		if l.process(ctx, task) {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	exhausted, err := l.tasks.ListExhausted(ctx, exhaustedListLimit)
	if err != nil {
		return report, fmt.Errorf("list exhausted tasks: %w", err)
	}
	report.Exhausted = len(exhausted)
	l.metrics.setExhausted(len(exhausted))

	return report, nil
}

// process 执行单个任务，返回是否成功
func (l *CompensationLedger) process(ctx context.Context, task *domain.CompensationTask) bool {
	now := l.now()

	err := l.execute(ctx, task, now)
	if err == nil {
		l.metrics.attempt("success")
		l.logger.Info("compensation task succeeded",
			zap.Int64("task_id", task.ID),
			zap.String("business_no", task.BusinessNo),
		)
		return true
	}

	if errors.Is(err, domain.ErrInvalidTaskTransition) {
		// 已被其它实例或运维终结，整个事务已回滚
		l.metrics.attempt("skipped")
		return false
	}

	l.metrics.attempt("failure")
	task.IncrementRetry(now, err)
	if saveErr := l.tasks.Save(ctx, task); saveErr != nil {
		l.logger.Error("failed to record compensation retry",
			zap.Int64("task_id", task.ID),
			zap.Error(saveErr),
		)
		return false
	}

	l.logger.Warn("compensation attempt failed",
		zap.Int64("task_id", task.ID),
		zap.String("business_no", task.BusinessNo),
		zap.Int("retry_count", task.RetryCount),
		zap.Time("next_retry_time", task.NextRetryTime),
		zap.Error(err),
	)
	if task.Exhausted() {
		l.alerter.TaskExhausted(ctx, task)
	}
	return false
}

func (l *CompensationLedger) execute(ctx context.Context, task *domain.CompensationTask, now time.Time) error {
	done := *task
	if err := done.MarkAsSuccess(now); err != nil {
		return err
	}

	// 下游补偿：重放调用，下游按 BusinessNo 去重
	if exec := l.executor(task.BusinessType); exec != nil {
		if err := exec(ctx, task); err != nil {
			return err
		}
		return l.tasks.Save(ctx, &done)
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A. 余额变更
		if err := apply(ctx, l.accounts.WithTx(tx), task); err != nil {
			return err
		}
		// B. 任务终态 (条件更新，防止并发 sweeper 重复执行)
		return l.tasks.WithTx(tx).Save(ctx, &done)
	})
}

func apply(ctx context.Context, accounts *AccountStore, task *domain.CompensationTask) error {
	var err error
	switch task.Operation {
	case domain.OpIncrease:
		_, err = accounts.Credit(ctx, task.AccountID, task.Amount)
	case domain.OpDecrease:
		_, err = accounts.Debit(ctx, task.AccountID, task.Amount)
	default:
		err = fmt.Errorf("%w: operation %q", domain.ErrInvalidTask, task.Operation)
	}
	return err
}
