package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// HTTPSubsidyGateway 补贴服务客户端
// 下游以 businessNo 去重，重复提交返回 409，视为已发放
// 4xx 包装为 domain.ErrSubsidyRejected，网络错误与 5xx 为 domain.ErrDownstreamUnavailable
type HTTPSubsidyGateway struct {
	http httpClient
}

func NewHTTPSubsidyGateway(baseURL string, timeout time.Duration) *HTTPSubsidyGateway {
	return &HTTPSubsidyGateway{http: newHTTPClient(baseURL, timeout)}
}

var _ domain.SubsidyGateway = (*HTTPSubsidyGateway)(nil)

type grantSubsidyReq struct {
	AccountID  int64  `json:"accountId"`
	Amount     string `json:"amount"`
	BusinessNo string `json:"businessNo"`
	Reason     string `json:"reason,omitempty"`
}

func (g *HTTPSubsidyGateway) GrantSubsidy(ctx context.Context, accountID int64, amount decimal.Decimal, businessNo, reason string) error {
	req := grantSubsidyReq{
		AccountID:  accountID,
		Amount:     amount.StringFixed(2),
		BusinessNo: businessNo,
		Reason:     reason,
	}
	err := g.http.do(ctx, http.MethodPost, "/api/v1/subsidies", req, nil)

	var se *StatusError
	switch {
	case errors.As(err, &se) && se.StatusCode == http.StatusConflict:
		return nil
	case errors.As(err, &se):
		// 其它 4xx 是下游的明确拒绝
		return fmt.Errorf("%w: %w", domain.ErrSubsidyRejected, se)
	case errors.Is(err, errNotFound):
		return fmt.Errorf("subsidy endpoint: %w", domain.ErrAccountNotFound)
	}
	return err
}
