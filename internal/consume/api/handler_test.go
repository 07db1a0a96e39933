package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/adapter/repo"
	"github.com/xxz807/finscale/consume/internal/consume/calculator"
	"github.com/xxz807/finscale/consume/internal/consume/domain"
	"github.com/xxz807/finscale/consume/internal/consume/service"
	"github.com/xxz807/finscale/consume/internal/platform/database"
)

type downGateway struct{}

func (downGateway) GrantSubsidy(context.Context, int64, decimal.Decimal, string, string) error {
	return fmt.Errorf("%w: connection refused", domain.ErrDownstreamUnavailable)
}

type rejectingGateway struct{}

func (rejectingGateway) GrantSubsidy(context.Context, int64, decimal.Decimal, string, string) error {
	return fmt.Errorf("%w: amount exceeds policy", domain.ErrSubsidyRejected)
}

// conflictOnceAccountRepo 第一次写余额返回版本冲突
type conflictOnceAccountRepo struct {
	domain.AccountRepository
	mu    sync.Mutex
	calls int
}

func (r *conflictOnceAccountRepo) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		return domain.ErrVersionConflict
	}
	return r.AccountRepository.UpdateBalance(ctx, id, balance, version)
}

type routerDeps struct {
	accounts func(domain.AccountRepository) domain.AccountRepository
	gateway  domain.SubsidyGateway
}

type routerOption func(*routerDeps)

func withAccountRepo(wrap func(domain.AccountRepository) domain.AccountRepository) routerOption {
	return func(d *routerDeps) { d.accounts = wrap }
}

func withGateway(g domain.SubsidyGateway) routerOption {
	return func(d *routerDeps) { d.gateway = g }
}

func setupRouter(t *testing.T, opts ...routerOption) (*gin.Engine, *gorm.DB, *domain.Account) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps := routerDeps{
		accounts: func(r domain.AccountRepository) domain.AccountRepository { return r },
		gateway:  downGateway{},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	db, err := database.NewSQLiteDB(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))

	require.NoError(t, db.Create(&domain.AccountKind{ID: 1, Name: "staff",
		ModeConfig: datatypes.JSON(`{"FIXED":{"enabled":true,"amount":"12"},"FREE_AMOUNT":{"enabled":true}}`)}).Error)
	require.NoError(t, db.Create(&domain.Area{ID: "canteen", Name: "一食堂", ManageMode: domain.ManageMeal, Enabled: true}).Error)
	account := &domain.Account{UserID: 1, AccountKindID: 1, Balance: decimal.NewFromInt(100), Version: 1, Status: domain.AccountActive}
	require.NoError(t, db.Create(account).Error)

	logger := zap.NewNop()
	accounts := service.NewAccountStore(repo.NewAccountRepo(db))
	directory := repo.NewDirectoryRepo(db)
	ledger := service.NewCompensationLedger(db, repo.NewCompensationRepo(db), accounts, logger)
	engine := service.NewConsumeEngine(service.NewAccountStore(deps.accounts(repo.NewAccountRepo(db))),
		repo.NewTransactionRepo(db), directory,
		calculator.NewDefaultFactory(directory, directory), ledger, logger,
		service.WithRetryPolicy(3, time.Millisecond))
	subsidy := service.NewSubsidyService(deps.gateway, ledger, 0, logger)

	r := gin.New()
	NewConsumeHandler(engine, ledger, subsidy, logger).RegisterRoutes(r.Group("/api/v1"))
	return r, db, account
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestExecuteConsumption(t *testing.T) {
	r, _, account := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/consume/transactions", gin.H{
		"request_no": "POS-0001",
		"account_id": account.ID,
		"area_id":    "canteen",
		"mode":       "FIXED",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ConsumeResp](t, w)
	assert.Equal(t, "12.00", resp.Amount)
	assert.Equal(t, "100.00", resp.BalanceBefore)
	assert.Equal(t, "88.00", resp.BalanceAfter)
	assert.Equal(t, "SUCCESS", resp.Status)
	assert.False(t, resp.Replayed)

	// 重放
	w = doJSON(r, http.MethodPost, "/api/v1/consume/transactions", gin.H{
		"request_no": "POS-0001",
		"account_id": account.ID,
		"area_id":    "canteen",
		"mode":       "FIXED",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[ConsumeResp](t, w).Replayed)
}

// 版本冲突在服务端重试成功，只扣一次
func TestExecuteConsumption_RetriesVersionConflict(t *testing.T) {
	conflicting := &conflictOnceAccountRepo{}
	r, db, account := setupRouter(t, withAccountRepo(func(inner domain.AccountRepository) domain.AccountRepository {
		conflicting.AccountRepository = inner
		return conflicting
	}))

	w := doJSON(r, http.MethodPost, "/api/v1/consume/transactions", gin.H{
		"account_id": account.ID,
		"area_id":    "canteen",
		"mode":       "FIXED",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "88.00", decode[ConsumeResp](t, w).BalanceAfter)
	assert.Equal(t, 2, conflicting.calls)

	var got domain.Account
	require.NoError(t, db.First(&got, account.ID).Error)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(88)))
	var n int64
	require.NoError(t, db.Model(&domain.ConsumeTransaction{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestExecuteConsumption_Errors(t *testing.T) {
	r, _, account := setupRouter(t)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"missing area", gin.H{"account_id": account.ID}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad amount", gin.H{"account_id": account.ID, "area_id": "canteen", "mode": "FREE_AMOUNT", "amount": "abc"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown account", gin.H{"account_id": 999, "area_id": "canteen"}, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"product in meal area", gin.H{"account_id": account.ID, "area_id": "canteen", "mode": "PRODUCT"}, http.StatusForbidden, "PERMISSION_DENIED"},
		{"overdraft", gin.H{"account_id": account.ID, "area_id": "canteen", "mode": "FREE_AMOUNT", "amount": "100.01"}, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/v1/consume/transactions", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResp](t, w).Code)
		})
	}
}

func TestValidatePermission(t *testing.T) {
	r, _, account := setupRouter(t)

	base := fmt.Sprintf("/api/v1/consume/permissions?account_id=%d&area_id=canteen", account.ID)

	w := doJSON(r, http.MethodGet, base+"&mode=FIXED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"allowed": true}, decode[map[string]bool](t, w))

	w = doJSON(r, http.MethodGet, base+"&mode=PRODUCT", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"allowed": false}, decode[map[string]bool](t, w))

	w = doJSON(r, http.MethodGet, "/api/v1/consume/permissions?area_id=canteen", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompensationEndpoints(t *testing.T) {
	r, _, account := setupRouter(t)

	body := gin.H{
		"operation":     "INCREASE",
		"account_id":    account.ID,
		"amount":        "5",
		"business_type": "REFUND",
		"business_no":   "REFUND-1",
		"reason":        "refund gateway timeout",
	}
	w := doJSON(r, http.MethodPost, "/api/v1/consume/compensations", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	task := decode[CompensationTaskResp](t, w)
	assert.Equal(t, "PENDING", task.Status)
	assert.Equal(t, "5.00", task.Amount)

	// 幂等
	w = doJSON(r, http.MethodPost, "/api/v1/consume/compensations", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.ID, decode[CompensationTaskResp](t, w).ID)

	w = doJSON(r, http.MethodPost, "/api/v1/consume/compensations", gin.H{
		"operation": "FREEZE", "account_id": 1, "amount": "5", "business_type": "X", "business_no": "X-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/consume/compensations/exhausted", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string][]CompensationTaskResp](t, w)["tasks"])

	path := "/api/v1/consume/compensations/" + strconv.FormatInt(task.ID, 10)
	w = doJSON(r, http.MethodPost, path+"/cancel", gin.H{"reason": "refund revoked"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "CANCELLED", decode[CompensationTaskResp](t, w).Status)

	w = doJSON(r, http.MethodPost, path+"/fail", gin.H{"reason": "too late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refund revoked", decode[CompensationTaskResp](t, w).LastError)

	w = doJSON(r, http.MethodGet, "/api/v1/consume/compensations/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(r, http.MethodGet, "/api/v1/consume/compensations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrantSubsidy_DownstreamFailureIsAccepted(t *testing.T) {
	r, db, account := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/consume/subsidies", gin.H{
		"account_id":  account.ID,
		"amount":      "30",
		"business_no": "SUB-2025-03",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[GrantSubsidyResp](t, w)
	assert.True(t, resp.Compensated)
	assert.Equal(t, "SUB-2025-03", resp.BusinessNo)

	var task domain.CompensationTask
	require.NoError(t, db.First(&task, resp.TaskID).Error)
	assert.Equal(t, domain.BusinessSubsidy, task.BusinessType)
	assert.Equal(t, domain.CompensationPending, task.Status)
}


func TestGrantSubsidy_RejectionIsTerminal(t *testing.T) {
	r, db, account := setupRouter(t, withGateway(rejectingGateway{}))

	w := doJSON(r, http.MethodPost, "/api/v1/consume/subsidies", gin.H{
		"account_id":  account.ID,
		"amount":      "500",
		"business_no": "SUB-2025-04",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	resp := decode[ErrorResp](t, w)
	assert.Equal(t, "SUBSIDY_REJECTED", resp.Code)
	assert.False(t, resp.Retryable)

	var n int64
	require.NoError(t, db.Model(&domain.CompensationTask{}).Count(&n).Error)
	assert.Zero(t, n)
}
