package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// DirectoryRepo 区域/终端/账户类别/商品/订单元数据的本地库实现
type DirectoryRepo struct {
	db *gorm.DB
}

func NewDirectoryRepo(db *gorm.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

var _ domain.Directory = (*DirectoryRepo)(nil)

func (r *DirectoryRepo) GetArea(ctx context.Context, id string) (*domain.Area, error) {
	var area domain.Area
	if err := r.db.WithContext(ctx).First(&area, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrAreaNotFound)
	}
	return &area, nil
}

func (r *DirectoryRepo) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	var device domain.Device
	if err := r.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		return nil, notFound(err, domain.ErrDeviceNotFound)
	}
	return &device, nil
}

func (r *DirectoryRepo) GetAccountKind(ctx context.Context, id int64) (*domain.AccountKind, error) {
	var kind domain.AccountKind
	if err := r.db.WithContext(ctx).First(&kind, id).Error; err != nil {
		return nil, notFound(err, domain.ErrAccountKindNotFound)
	}
	return &kind, nil
}

func (r *DirectoryRepo) GetProducts(ctx context.Context, ids []string) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []*domain.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *DirectoryRepo) GetOrder(ctx context.Context, orderNo string) (*domain.MealOrder, error) {
	var order domain.MealOrder
	if err := r.db.WithContext(ctx).First(&order, "order_no = ?", orderNo).Error; err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound)
	}
	return &order, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
