// Package client 外部服务适配器：HTTP 客户端与带超时的元数据查询
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// DefaultLookupTimeout 元数据查询默认超时
const DefaultLookupTimeout = 2 * time.Second

// TimeoutDirectory 为每次元数据查询加上超时
// 超时或基础设施错误统一包装为 ErrDownstreamUnavailable，业务类 NotFound 原样返回
type TimeoutDirectory struct {
	next    domain.Directory
	timeout time.Duration
}

func NewTimeoutDirectory(next domain.Directory, timeout time.Duration) *TimeoutDirectory {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &TimeoutDirectory{next: next, timeout: timeout}
}

var _ domain.Directory = (*TimeoutDirectory)(nil)

func (d *TimeoutDirectory) GetArea(ctx context.Context, id string) (*domain.Area, error) {
	return lookup(ctx, d.timeout, "area", func(ctx context.Context) (*domain.Area, error) {
		return d.next.GetArea(ctx, id)
	})
}

func (d *TimeoutDirectory) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	return lookup(ctx, d.timeout, "device", func(ctx context.Context) (*domain.Device, error) {
		return d.next.GetDevice(ctx, id)
	})
}

func (d *TimeoutDirectory) GetAccountKind(ctx context.Context, id int64) (*domain.AccountKind, error) {
	return lookup(ctx, d.timeout, "account kind", func(ctx context.Context) (*domain.AccountKind, error) {
		return d.next.GetAccountKind(ctx, id)
	})
}

func (d *TimeoutDirectory) GetProducts(ctx context.Context, ids []string) ([]*domain.Product, error) {
	return lookup(ctx, d.timeout, "products", func(ctx context.Context) ([]*domain.Product, error) {
		return d.next.GetProducts(ctx, ids)
	})
}

func (d *TimeoutDirectory) GetOrder(ctx context.Context, orderNo string) (*domain.MealOrder, error) {
	return lookup(ctx, d.timeout, "order", func(ctx context.Context) (*domain.MealOrder, error) {
		return d.next.GetOrder(ctx, orderNo)
	})
}

func lookup[T any](ctx context.Context, timeout time.Duration, what string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	if isNotFound(err) {
		return v, err
	}
	return v, fmt.Errorf("%w: %s lookup: %v", domain.ErrDownstreamUnavailable, what, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrAreaNotFound) ||
		errors.Is(err, domain.ErrDeviceNotFound) ||
		errors.Is(err, domain.ErrAccountKindNotFound) ||
		errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrUserNotFound)
}
