package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

type CompensationRepo struct {
	db *gorm.DB
}

func NewCompensationRepo(db *gorm.DB) *CompensationRepo {
	return &CompensationRepo{db: db}
}

func (r *CompensationRepo) WithTx(tx *gorm.DB) domain.CompensationRepository {
	return &CompensationRepo{db: tx}
}

func (r *CompensationRepo) Create(ctx context.Context, task *domain.CompensationTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		// business_no 唯一索引兜底并发重复提交
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateRequest
		}
		return err
	}
	return nil
}

func (r *CompensationRepo) FindByID(ctx context.Context, id int64) (*domain.CompensationTask, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *CompensationRepo) FindByBusinessNo(ctx context.Context, businessNo string) (*domain.CompensationTask, error) {
	return r.findOne(ctx, "business_no = ?", businessNo)
}

func (r *CompensationRepo) findOne(ctx context.Context, query string, arg any) (*domain.CompensationTask, error) {
	var task domain.CompensationTask
	if err := r.db.WithContext(ctx).Where(query, arg).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *CompensationRepo) ListRetryable(ctx context.Context, now time.Time, limit int) ([]*domain.CompensationTask, error) {
	var tasks []*domain.CompensationTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < max_retry_count AND next_retry_time <= ?", domain.CompensationPending, now).
		Order("next_retry_time ASC, id ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *CompensationRepo) ListExhausted(ctx context.Context, limit int) ([]*domain.CompensationTask, error) {
	var tasks []*domain.CompensationTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count >= max_retry_count", domain.CompensationPending).
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// Save 条件更新：WHERE status = 'PENDING'，保证终态单向
func (r *CompensationRepo) Save(ctx context.Context, task *domain.CompensationTask) error {
	result := r.db.WithContext(ctx).Model(&domain.CompensationTask{}).
		Where("id = ? AND status = ?", task.ID, domain.CompensationPending).
		Updates(map[string]interface{}{
			"status":          task.Status,
			"retry_count":     task.RetryCount,
			"next_retry_time": task.NextRetryTime,
			"last_retry_time": task.LastRetryTime,
			"last_error":      task.LastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvalidTaskTransition
	}
	return nil
}
