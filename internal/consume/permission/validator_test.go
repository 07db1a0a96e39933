package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

type fakeDirectory struct {
	areas     map[string]*domain.Area
	devices   map[string]*domain.Device
	deviceErr error
}

func (f *fakeDirectory) GetArea(_ context.Context, id string) (*domain.Area, error) {
	if a, ok := f.areas[id]; ok {
		return a, nil
	}
	return nil, domain.ErrAreaNotFound
}

func (f *fakeDirectory) GetDevice(_ context.Context, id string) (*domain.Device, error) {
	if f.deviceErr != nil {
		return nil, f.deviceErr
	}
	if d, ok := f.devices[id]; ok {
		return d, nil
	}
	return nil, domain.ErrDeviceNotFound
}

func newFixture() (*Validator, *fakeDirectory) {
	dir := &fakeDirectory{
		areas: map[string]*domain.Area{
			"canteen": {ID: "canteen", ManageMode: domain.ManageMeal, Enabled: true},
			"shop":    {ID: "shop", ManageMode: domain.ManageSupermarket, Enabled: true},
			"closed":  {ID: "closed", ManageMode: domain.ManageMixed, Enabled: false},
			"vip":     {ID: "vip", ManageMode: domain.ManageMixed, Enabled: true, AccountKindIDs: []int64{99}},
		},
		devices: map[string]*domain.Device{
			"pos-1":  {ID: "pos-1", AreaID: "canteen", Online: true},
			"pos-2":  {ID: "pos-2", AreaID: "canteen", Online: false},
			"pos-3":  {ID: "pos-3", AreaID: "shop", Online: true},
			"gate-1": {ID: "gate-1", AreaID: "canteen", Online: true, SupportedModes: []string{"METERED"}},
		},
	}
	return NewValidator(dir, dir, zap.NewNop()), dir
}

func allModes() *domain.ModeConfig {
	return &domain.ModeConfig{
		Fixed:      &domain.FixedModeConfig{Enabled: true},
		FreeAmount: &domain.FreeAmountModeConfig{Enabled: true},
		Metered:    &domain.MeteredModeConfig{Enabled: true},
		Product:    &domain.ProductModeConfig{Enabled: true},
		Ordering:   &domain.OrderingModeConfig{Enabled: true},
	}
}

func TestValidate(t *testing.T) {
	v, _ := newFixture()
	account := &domain.Account{ID: 1, AccountKindID: 10, Status: domain.AccountActive}
	ctx := context.Background()

	tests := []struct {
		name     string
		req      Request
		expected bool
	}{
		{"fixed in canteen", Request{AreaID: "canteen", Mode: domain.ModeFixed}, true},
		{"fixed in shop", Request{AreaID: "shop", Mode: domain.ModeFixed}, false},
		{"product in shop", Request{AreaID: "shop", Mode: domain.ModeProduct}, true},
		{"product in canteen", Request{AreaID: "canteen", Mode: domain.ModeProduct}, false},
		{"unknown area", Request{AreaID: "nowhere", Mode: domain.ModeFreeAmount}, false},
		{"disabled area", Request{AreaID: "closed", Mode: domain.ModeFreeAmount}, false},
		{"kind not allowed", Request{AreaID: "vip", Mode: domain.ModeFreeAmount}, false},
		{"online device", Request{AreaID: "canteen", DeviceID: "pos-1", Mode: domain.ModeFixed}, true},
		{"offline device", Request{AreaID: "canteen", DeviceID: "pos-2", Mode: domain.ModeFixed}, false},
		{"device of other area", Request{AreaID: "canteen", DeviceID: "pos-3", Mode: domain.ModeFixed}, false},
		{"device lacks capability", Request{AreaID: "canteen", DeviceID: "gate-1", Mode: domain.ModeFixed}, false},
		{"metered on capable device", Request{AreaID: "canteen", DeviceID: "gate-1", Mode: domain.ModeMetered}, true},
		{"metered without device", Request{AreaID: "canteen", Mode: domain.ModeMetered}, false},
		{"metered pre-check without device", Request{AreaID: "canteen", Mode: domain.ModeMetered, DeviceOptional: true}, true},
		{"unknown device", Request{AreaID: "canteen", DeviceID: "ghost", Mode: domain.ModeFreeAmount}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Account = account
			tt.req.Config = allModes()
			d, err := v.Validate(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Allowed, d.Reason)
		})
	}
}

func TestValidate_ModeNotEnabledForKind(t *testing.T) {
	v, _ := newFixture()
	account := &domain.Account{ID: 1, AccountKindID: 10}
	cfg := &domain.ModeConfig{Fixed: &domain.FixedModeConfig{Enabled: false}}

	d, err := v.Validate(context.Background(), Request{Account: account, Config: cfg, AreaID: "canteen", Mode: domain.ModeFixed})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "not enabled")
}

func TestValidate_DeviceLookupFailure(t *testing.T) {
	v, dir := newFixture()
	dir.deviceErr = errors.New("device service timeout")
	account := &domain.Account{ID: 1, AccountKindID: 10}

	// 定值模式下终端非必需：跳过终端规则
	d, err := v.Validate(context.Background(), Request{Account: account, Config: allModes(), AreaID: "canteen", DeviceID: "pos-1", Mode: domain.ModeFixed})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Nil(t, d.Device)

	// 计次模式下终端必需：作为错误返回
	_, err = v.Validate(context.Background(), Request{Account: account, Config: allModes(), AreaID: "canteen", DeviceID: "gate-1", Mode: domain.ModeMetered})
	require.Error(t, err)
}
