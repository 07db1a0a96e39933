package repo

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// Migrate 建表 / 补齐索引
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		return fmt.Errorf("auto migrate consume models: %w", err)
	}
	return nil
}
