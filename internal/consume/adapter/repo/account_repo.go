package repo

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

type AccountRepo struct {
	db *gorm.DB
}

func NewAccountRepo(db *gorm.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// WithTx 绑定事务会话，之后的读写都走同一个 tx
func (r *AccountRepo) WithTx(tx *gorm.DB) domain.AccountRepository {
	return &AccountRepo{db: tx}
}

func (r *AccountRepo) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	var account domain.Account
	// 注意：这里不做 Select For Update，并发控制完全依赖 version
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateBalance 实现乐观锁更新
// SQL: UPDATE consume_accounts SET balance = ?, version = version + 1 WHERE id = ? AND version = ?
func (r *AccountRepo) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, version int64) error {
	result := r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	// 关键点：如果没有行被更新，说明 version 不匹配（被别人改过了）
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}

	return nil
}
