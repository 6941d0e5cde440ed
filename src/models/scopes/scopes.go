package scopes

import (
	"lovia/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func WithID(id uint) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithOrderUUID(id uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("order_uuid = ?", id)
	}
}

func WithPendingStatus(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", types.ORDER_PENDING)
}

func WithPaidStatus(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", types.ORDER_PAID)
}

// Paginate applies a 1-based page with the given page size.
func Paginate(page, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if page < 1 {
			page = 1
		}
		if limit < 1 {
			limit = 10
		}
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}
