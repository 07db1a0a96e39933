package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

func TestHTTPUserDirectory_GetUserName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/users/1":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "realName": "张三", "username": "zhangsan"})
		case "/api/v1/users/2":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 2, "username": "lisi"})
		case "/api/v1/users/3":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := NewHTTPUserDirectory(srv.URL, time.Second)
	ctx := context.Background()

	name, err := dir.GetUserName(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "张三", name)

	name, err = dir.GetUserName(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "lisi", name)

	_, err = dir.GetUserName(ctx, 3)
	assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)

	_, err = dir.GetUserName(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestHTTPSubsidyGateway_GrantSubsidy(t *testing.T) {
	var (
		mu     sync.Mutex
		got    grantSubsidyReq
		status atomic.Int32
	)
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/subsidies", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		mu.Unlock()
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	gw := NewHTTPSubsidyGateway(srv.URL, time.Second)
	ctx := context.Background()

	err := gw.GrantSubsidy(ctx, 7, decimal.RequireFromString("12.5"), "SUB-1", "monthly")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, int64(7), got.AccountID)
	assert.Equal(t, "12.50", got.Amount)
	assert.Equal(t, "SUB-1", got.BusinessNo)
	mu.Unlock()

	// 重复提交视为成功
	status.Store(http.StatusConflict)
	assert.NoError(t, gw.GrantSubsidy(ctx, 7, decimal.NewFromInt(1), "SUB-1", ""))

	status.Store(http.StatusBadGateway)
	err = gw.GrantSubsidy(ctx, 7, decimal.NewFromInt(1), "SUB-2", "")
	assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)
	assert.True(t, domain.IsRetryable(err))

	status.Store(http.StatusBadRequest)
	err = gw.GrantSubsidy(ctx, 7, decimal.NewFromInt(1), "SUB-3", "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.ErrorIs(t, err, domain.ErrSubsidyRejected)
	assert.False(t, domain.IsRetryable(err))

	status.Store(http.StatusNotFound)
	err = gw.GrantSubsidy(ctx, 7, decimal.NewFromInt(1), "SUB-4", "")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestHTTPSubsidyGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPSubsidyGateway(url, time.Second).GrantSubsidy(context.Background(), 1, decimal.NewFromInt(1), "SUB-X", "")
	assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)
}

type slowDirectory struct {
	domain.Directory
	delay time.Duration
}

func (s slowDirectory) GetArea(ctx context.Context, id string) (*domain.Area, error) {
	select {
	case <-time.After(s.delay):
		return &domain.Area{ID: id}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s slowDirectory) GetDevice(context.Context, string) (*domain.Device, error) {
	return nil, domain.ErrDeviceNotFound
}

func TestTimeoutDirectory(t *testing.T) {
	ctx := context.Background()

	fast := NewTimeoutDirectory(slowDirectory{delay: time.Millisecond}, time.Second)
	area, err := fast.GetArea(ctx, "canteen")
	require.NoError(t, err)
	assert.Equal(t, "canteen", area.ID)

	slow := NewTimeoutDirectory(slowDirectory{delay: time.Second}, 10*time.Millisecond)
	_, err = slow.GetArea(ctx, "canteen")
	assert.ErrorIs(t, err, domain.ErrDownstreamUnavailable)
	assert.True(t, domain.IsRetryable(err))

	// NotFound 不是下游故障
	_, err = slow.GetDevice(ctx, "pos-1")
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.NotErrorIs(t, err, domain.ErrDownstreamUnavailable)
}
