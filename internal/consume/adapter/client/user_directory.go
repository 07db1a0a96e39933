package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// HTTPUserDirectory 用户服务客户端，只用于流水上的用户名补全
type HTTPUserDirectory struct {
	http httpClient
}

func NewHTTPUserDirectory(baseURL string, timeout time.Duration) *HTTPUserDirectory {
	return &HTTPUserDirectory{http: newHTTPClient(baseURL, timeout)}
}

var _ domain.UserDirectory = (*HTTPUserDirectory)(nil)

type userResp struct {
	ID       int64  `json:"id"`
	RealName string `json:"realName"`
	Username string `json:"username"`
}

// GetUserName 优先取真实姓名，没有则用登录名
func (d *HTTPUserDirectory) GetUserName(ctx context.Context, userID int64) (string, error) {
	var u userResp
	err := d.http.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/users/%d", userID), nil, &u)
	if errors.Is(err, errNotFound) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if u.RealName != "" {
		return u.RealName, nil
	}
	return u.Username, nil
}
