package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

type TransactionRepo struct {
	db *gorm.DB
}

func NewTransactionRepo(db *gorm.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

func (r *TransactionRepo) Create(ctx context.Context, t *domain.ConsumeTransaction) error {
	return insertTransaction(r.db.WithContext(ctx), t)
}

// CreateSettlingOrder 流水与订单核销同一事务，条件更新保证一个订单只被核销一次
func (r *TransactionRepo) CreateSettlingOrder(ctx context.Context, t *domain.ConsumeTransaction, orderNo string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.MealOrder{}).
			Where("order_no = ? AND status = ?", orderNo, domain.OrderPending).
			Update("status", domain.OrderPaid)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("order %s: %w", orderNo, domain.ErrOrderSettled)
		}
		return insertTransaction(tx, t)
	})
}

func insertTransaction(db *gorm.DB, t *domain.ConsumeTransaction) error {
	if err := db.Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("transaction %s: %w", t.TransactionNo, domain.ErrDuplicateRequest)
		}
		return err
	}
	return nil
}

func (r *TransactionRepo) FindByTransactionNo(ctx context.Context, no string) (*domain.ConsumeTransaction, error) {
	return r.findOne(ctx, "transaction_no = ?", no)
}

func (r *TransactionRepo) FindByRequestNo(ctx context.Context, requestNo string) (*domain.ConsumeTransaction, error) {
	return r.findOne(ctx, "request_no = ?", requestNo)
}

func (r *TransactionRepo) findOne(ctx context.Context, query string, arg any) (*domain.ConsumeTransaction, error) {
	var t domain.ConsumeTransaction
	if err := r.db.WithContext(ctx).Where(query, arg).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) SumAmountSince(ctx context.Context, accountID int64, since time.Time) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	row := r.db.WithContext(ctx).Model(&domain.ConsumeTransaction{}).
		Select("SUM(amount)").
		Where("account_id = ? AND status = ? AND consumed_at >= ?", accountID, domain.TransactionSuccess, since).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
