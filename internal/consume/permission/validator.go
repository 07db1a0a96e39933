// Package permission 组合区域规则与终端能力规则，给出是否允许消费的判定
package permission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// Request 权限校验输入
type Request struct {
	Account  *domain.Account
	Config   *domain.ModeConfig
	Area     *domain.Area // 为空时由 Validator 自行加载
	AreaID   string
	DeviceID string
	Mode     domain.ConsumeMode

	// DeviceOptional 预校验场景下终端未知，不要求必须有终端
	DeviceOptional bool
}

// Decision 校验结果，Allowed=false 时 Reason 说明拒绝原因
type Decision struct {
	Allowed bool
	Reason  string
	Area    *domain.Area
	Device  *domain.Device
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Validator 权限校验器
// 查询区域/终端失败 (超时等) 以 error 返回，由编排层决定是否可重试
type Validator struct {
	areas   domain.AreaDirectory
	devices domain.DeviceDirectory
	logger  *zap.Logger
}

func NewValidator(areas domain.AreaDirectory, devices domain.DeviceDirectory, logger *zap.Logger) *Validator {
	return &Validator{areas: areas, devices: devices, logger: logger}
}

// Validate 依次执行区域规则、账户类别规则、终端规则
func (v *Validator) Validate(ctx context.Context, req Request) (Decision, error) {
	if req.Account == nil {
		return deny("account required"), nil
	}

	// 1. 区域规则
	area := req.Area
	if area == nil {
		var err error
		area, err = v.areas.GetArea(ctx, req.AreaID)
		if errors.Is(err, domain.ErrAreaNotFound) {
			return deny("area %s not found", req.AreaID), nil
		}
		if err != nil {
			return Decision{}, fmt.Errorf("load area %s: %w", req.AreaID, err)
		}
	}
	if d, ok := checkArea(area, req.Account, req.Mode); !ok {
		return d, nil
	}

	// 2. 账户类别是否启用该模式
	if req.Config == nil || !req.Config.Enabled(req.Mode) {
		return deny("mode %s not enabled for account kind %d", req.Mode, req.Account.AccountKindID), nil
	}

	decision := Decision{Allowed: true, Area: area}

	// 3. 终端规则
	if req.DeviceID == "" {
		if deviceRequired(req.Mode) && !req.DeviceOptional {
			return deny("mode %s requires a device", req.Mode), nil
		}
		return decision, nil
	}
	device, err := v.devices.GetDevice(ctx, req.DeviceID)
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		return deny("device %s not found", req.DeviceID), nil
	case err != nil && deviceRequired(req.Mode):
		return Decision{}, fmt.Errorf("load device %s: %w", req.DeviceID, err)
	case err != nil:
		// 终端对该模式非必需，查询失败不阻断消费
		v.logger.Warn("device lookup failed, skipping device rules",
			zap.String("device_id", req.DeviceID),
			zap.Error(err),
		)
		return decision, nil
	}
	if d, ok := checkDevice(device, area.ID, req.Mode); !ok {
		return d, nil
	}
	decision.Device = device
	return decision, nil
}

func checkArea(area *domain.Area, account *domain.Account, mode domain.ConsumeMode) (Decision, bool) {
	switch {
	case !area.Enabled:
		return deny("area %s disabled", area.ID), false
	case !area.AllowsKind(account.AccountKindID):
		return deny("account kind %d not allowed in area %s", account.AccountKindID, area.ID), false
	case !area.ManageMode.Supports(mode):
		return deny("area %s manage mode %d does not support %s", area.ID, area.ManageMode, mode), false
	}
	return Decision{}, true
}

func checkDevice(device *domain.Device, areaID string, mode domain.ConsumeMode) (Decision, bool) {
	switch {
	case !device.Online:
		return deny("device %s offline", device.ID), false
	case device.AreaID != "" && device.AreaID != areaID:
		return deny("device %s bound to area %s", device.ID, device.AreaID), false
	case !device.SupportsMode(mode):
		return deny("device %s does not support %s", device.ID, mode), false
	}
	return Decision{}, true
}

// deviceRequired 计次模式以终端上报为准，必须有可用终端
func deviceRequired(mode domain.ConsumeMode) bool {
	return mode == domain.ModeMetered
}
