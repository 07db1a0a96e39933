package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/consume/internal/consume/calculator"
	"github.com/xxz807/finscale/consume/internal/consume/domain"
	"github.com/xxz807/finscale/consume/internal/consume/service"
)

type ConsumeHandler struct {
	engine  *service.ConsumeEngine
	ledger  *service.CompensationLedger
	subsidy *service.SubsidyService
	logger  *zap.Logger
}

func NewConsumeHandler(engine *service.ConsumeEngine, ledger *service.CompensationLedger,
	subsidy *service.SubsidyService, logger *zap.Logger) *ConsumeHandler {
	return &ConsumeHandler{engine: engine, ledger: ledger, subsidy: subsidy, logger: logger}
}

// RegisterRoutes 注册路由
func (h *ConsumeHandler) RegisterRoutes(r *gin.RouterGroup) {
	consumeGroup := r.Group("/consume")
	{
		consumeGroup.POST("/transactions", h.ExecuteConsumption)
		consumeGroup.GET("/permissions", h.ValidatePermission)
		consumeGroup.POST("/subsidies", h.GrantSubsidy)

		// 补偿任务运维接口
		consumeGroup.POST("/compensations", h.EnqueueCompensation)
		consumeGroup.GET("/compensations/exhausted", h.ListExhausted)
		consumeGroup.GET("/compensations/:id", h.GetCompensation)
		consumeGroup.POST("/compensations/:id/fail", h.MarkCompensationFailed)
		consumeGroup.POST("/compensations/:id/cancel", h.CancelCompensation)
	}
}

// ExecuteConsumption 消费接口
// POST /api/v1/consume/transactions
func (h *ConsumeHandler) ExecuteConsumption(c *gin.Context) {
	var req ConsumeReq

	// 1. 参数绑定与基础校验
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(req.Amount); err != nil {
			badRequest(c, "invalid amount format: "+req.Amount)
			return
		}
	}

	// 2. DTO 转换 (API Layer -> Service Layer)
	svcReq := service.ConsumeRequest{
		RequestNo: req.RequestNo,
		AccountID: req.AccountID,
		AreaID:    req.AreaID,
		DeviceID:  req.DeviceID,
		Mode:      req.Mode,
		Amount:    amount,
		OrderNo:   req.OrderNo,
		Items:     make([]calculator.LineItem, len(req.Items)),
	}
	for i, item := range req.Items {
		svcReq.Items[i] = calculator.LineItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	// 3. 调用业务逻辑 (可重试错误在服务端有限次重试，未带请求号时生成一个)
	res, err := h.engine.ExecuteWithRetry(c.Request.Context(), svcReq)
	if err != nil {
		h.fail(c, err)
		return
	}

	// 4. 返回成功响应
	c.JSON(http.StatusOK, ConsumeResp{
		TransactionNo: res.TransactionNo,
		Amount:        res.Amount.StringFixed(2),
		BalanceBefore: res.BalanceBefore.StringFixed(2),
		BalanceAfter:  res.BalanceAfter.StringFixed(2),
		Status:        string(res.Status),
		Replayed:      res.Replayed,
	})
}

// ValidatePermission 消费权限预校验
// GET /api/v1/consume/permissions?account_id=1&area_id=A1&mode=FIXED
func (h *ConsumeHandler) ValidatePermission(c *gin.Context) {
	var q PermissionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	allowed, err := h.engine.ValidatePermission(c.Request.Context(), q.AccountID, q.AreaID, q.Mode)
	if err != nil {
		h.fail(c, domain.NewRetryableError(domain.CodeDownstreamUnavailable, "permission lookup failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// GrantSubsidy 发放补贴，下游失败时转补偿
// POST /api/v1/consume/subsidies
func (h *ConsumeHandler) GrantSubsidy(c *gin.Context) {
	var req GrantSubsidyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		badRequest(c, "invalid amount format: "+req.Amount)
		return
	}

	res, err := h.subsidy.Grant(c.Request.Context(), service.GrantRequest{
		AccountID:  req.AccountID,
		Amount:     amount,
		BusinessNo: req.BusinessNo,
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if res.Compensated {
		status = http.StatusAccepted
	}
	c.JSON(status, GrantSubsidyResp{BusinessNo: res.BusinessNo, Compensated: res.Compensated, TaskID: res.TaskID})
}

// EnqueueCompensation 登记补偿任务 (同一 business_no 幂等)
// POST /api/v1/consume/compensations
func (h *ConsumeHandler) EnqueueCompensation(c *gin.Context) {
	var req EnqueueCompensationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		badRequest(c, "invalid amount format: "+req.Amount)
		return
	}

	task, err := h.ledger.Enqueue(c.Request.Context(), service.EnqueueRequest{
		Operation:    domain.CompensationOperation(req.Operation),
		AccountID:    req.AccountID,
		Amount:       amount,
		BusinessType: req.BusinessType,
		BusinessNo:   req.BusinessNo,
		Reason:       req.Reason,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResp(task))
}

// GET /api/v1/consume/compensations/exhausted
func (h *ConsumeHandler) ListExhausted(c *gin.Context) {
	tasks, err := h.ledger.ListExhausted(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make([]CompensationTaskResp, len(tasks))
	for i, t := range tasks {
		resp[i] = toTaskResp(t)
	}
	c.JSON(http.StatusOK, gin.H{"tasks": resp})
}

// GET /api/v1/consume/compensations/:id
func (h *ConsumeHandler) GetCompensation(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResp(task))
}

// POST /api/v1/consume/compensations/:id/fail
func (h *ConsumeHandler) MarkCompensationFailed(c *gin.Context) {
	h.resolve(c, h.ledger.MarkAsFailed)
}

// POST /api/v1/consume/compensations/:id/cancel
func (h *ConsumeHandler) CancelCompensation(c *gin.Context) {
	h.resolve(c, h.ledger.Cancel)
}

func (h *ConsumeHandler) resolve(c *gin.Context, fn func(ctx context.Context, id int64, reason string) (*domain.CompensationTask, error)) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req ResolveTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	task, err := fn(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("compensation task resolved by operator",
		zap.Int64("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.String("operator", c.GetString("x-user-id")),
	)
	c.JSON(http.StatusOK, toTaskResp(task))
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid task id: "+c.Param("id"))
		return 0, false
	}
	return id, true
}

func toTaskResp(t *domain.CompensationTask) CompensationTaskResp {
	return CompensationTaskResp{
		ID:            t.ID,
		BusinessNo:    t.BusinessNo,
		BusinessType:  t.BusinessType,
		Operation:     string(t.Operation),
		AccountID:     t.AccountID,
		Amount:        t.Amount.StringFixed(2),
		Status:        string(t.Status),
		RetryCount:    t.RetryCount,
		MaxRetryCount: t.MaxRetryCount,
		NextRetryTime: t.NextRetryTime,
		LastRetryTime: t.LastRetryTime,
		LastError:     t.LastError,
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResp{Code: string(domain.CodeInvalidRequest), Message: msg})
}

// fail 错误码 -> HTTP 状态码
func (h *ConsumeHandler) fail(c *gin.Context, err error) {
	var ce *domain.ConsumeError
	if !errors.As(err, &ce) {
		ce = classify(err)
	}

	status := statusOf(ce.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(ce.Code)),
			zap.Error(err),
		)
	}
	c.JSON(status, ErrorResp{Code: string(ce.Code), Message: ce.Error(), Retryable: ce.Retryable})
}

// classify 非消费流程的错误 (补偿台账、补贴) 归类
func classify(err error) *domain.ConsumeError {
	switch {
	case errors.Is(err, domain.ErrInvalidTask), errors.Is(err, domain.ErrInvalidAmount):
		return domain.NewConsumeError(domain.CodeInvalidRequest, "invalid request", err)
	case errors.Is(err, domain.ErrSubsidyRejected):
		return domain.NewConsumeError(domain.CodeSubsidyRejected, "subsidy rejected", err)
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.NewConsumeError(domain.CodeAccountNotFound, "account not found", err)
	case errors.Is(err, domain.ErrTaskNotFound):
		return domain.NewConsumeError(codeNotFound, "not found", err)
	case errors.Is(err, domain.ErrInvalidTaskTransition):
		return domain.NewConsumeError(codeConflict, "task already finished", err)
	case domain.IsRetryable(err):
		return domain.NewRetryableError(domain.CodeDownstreamUnavailable, "downstream unavailable", err)
	}
	return domain.NewConsumeError(codeInternal, "internal error", err)
}

const (
	codeNotFound domain.ErrorCode = "NOT_FOUND"
	codeConflict domain.ErrorCode = "CONFLICT"
	codeInternal domain.ErrorCode = "INTERNAL_ERROR"
)

func statusOf(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeAccountNotFound, codeNotFound:
		return http.StatusNotFound
	case domain.CodeAccountInactive, domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeAmountCalculationFailed, domain.CodeConsumeLimitExceeded, domain.CodeInsufficientBalance,
		domain.CodeSubsidyRejected:
		return http.StatusUnprocessableEntity
	case domain.CodeDebitFailed, codeConflict:
		return http.StatusConflict
	case domain.CodeDownstreamUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
