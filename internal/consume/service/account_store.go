package service

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// BalanceChange 一次成功的余额变更
type BalanceChange struct {
	AccountID int64
	Before    decimal.Decimal
	After     decimal.Decimal
	Version   int64 // 变更后的版本号
}

// AccountStore 账户余额读写，所有写操作都是 "读-校验-CAS 写"
// 版本冲突直接返回 ErrVersionConflict，不在内部重试
type AccountStore struct {
	repo domain.AccountRepository
}

func NewAccountStore(repo domain.AccountRepository) *AccountStore {
	return &AccountStore{repo: repo}
}

// WithTx 返回绑定到事务的 AccountStore
func (s *AccountStore) WithTx(tx *gorm.DB) *AccountStore {
	return &AccountStore{repo: s.repo.WithTx(tx)}
}

func (s *AccountStore) GetByAccountID(ctx context.Context, id int64) (*domain.Account, error) {
	return s.repo.FindByID(ctx, id)
}

// Debit 扣款，余额不足返回 ErrInsufficientBalance (不会扣成负数)
func (s *AccountStore) Debit(ctx context.Context, id int64, amount decimal.Decimal) (*BalanceChange, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(account.Balance) {
		return nil, domain.ErrInsufficientBalance
	}
	return s.write(ctx, account, account.Balance.Sub(amount))
}

// Credit 入账 (退款、冲正、补贴)
func (s *AccountStore) Credit(ctx context.Context, id int64, amount decimal.Decimal) (*BalanceChange, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, account, account.Balance.Add(amount))
}

// CheckSufficient 只读探测，结果仅供参考，以 Debit 为准
func (s *AccountStore) CheckSufficient(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, domain.ErrInvalidAmount
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return account.Balance.GreaterThanOrEqual(amount), nil
}

func (s *AccountStore) write(ctx context.Context, account *domain.Account, after decimal.Decimal) (*BalanceChange, error) {
	if err := s.repo.UpdateBalance(ctx, account.ID, after, account.Version); err != nil {
		return nil, err
	}
	return &BalanceChange{
		AccountID: account.ID,
		Before:    account.Balance,
		After:     after,
		Version:   account.Version + 1,
	}, nil
}
