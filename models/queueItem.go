package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// PriorityRecountJump is the manual priority that puts an item at the very
// front of every assignment ordering (forced recounts).
const PriorityRecountJump = 9999

// QueueItem is one countable product/location/company triple. The lock is the
// row itself: LockedBy + Status IN_COUNT mean exclusive short-term ownership,
// and every lock-acquiring transition must be a conditional update.
type QueueItem struct {
	ID           int         `gorm:"primary_key" json:"id"`
	ProductCode  int         `gorm:"uniqueIndex:idx_queue_product_location_company;not null" json:"product_code"`
	LocationCode int         `gorm:"uniqueIndex:idx_queue_product_location_company;not null" json:"location_code"`
	CompanyCode  int         `gorm:"uniqueIndex:idx_queue_product_location_company;not null" json:"company_code"`
	Description  string      `gorm:"size:255" json:"description"`
	Brand        string      `gorm:"size:100;index" json:"brand"`
	LotControl   string      `gorm:"size:100" json:"lot_control"`
	Unit         string      `gorm:"size:10" json:"unit"`
	Status       QueueStatus `gorm:"type:enum('PENDING','IN_COUNT','DONE','REPORTED','AUDIT_LOCKED');not null;default:'PENDING';index" json:"status"`

	LockedBy *int       `gorm:"index" json:"locked_by"`
	LockedAt *time.Time `json:"locked_at"`

	PriorityBase   int `gorm:"not null;default:0;index" json:"priority_base"`
	PriorityManual int `gorm:"not null;default:0;index" json:"priority_manual"`

	OkCounts       int        `gorm:"not null;default:0" json:"ok_counts"`
	NotFoundCount  int        `gorm:"not null;default:0" json:"not_found_count"`
	Recounts       int        `gorm:"not null;default:0" json:"recounts"`
	LastNotFoundBy *int       `json:"last_not_found_by"`
	LastCountedAt  *time.Time `json:"last_counted_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindLockedQueueItem returns the item a worker currently holds, if any.
func FindLockedQueueItem(ctx context.Context, db *gorm.DB, workerID int) (*QueueItem, error) {
	var item QueueItem
	err := db.WithContext(ctx).
		Where("locked_by = ? AND status = ?", workerID, QueueStatusInCount).
		First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// TryLockQueueItem acquires the lock with a compare-and-swap update: the row
// must still be PENDING and unlocked. Returns false when another worker won
// the race; the caller reselects a candidate.
func TryLockQueueItem(ctx context.Context, db *gorm.DB, itemID int, workerID int) (bool, error) {
	now := time.Now()
	res := db.WithContext(ctx).
		Model(&QueueItem{}).
		Where("id = ? AND status = ? AND locked_by IS NULL", itemID, QueueStatusPending).
		Updates(map[string]interface{}{
			"status":    QueueStatusInCount,
			"locked_by": workerID,
			"locked_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseStaleLocks returns IN_COUNT items locked before the cutoff to
// PENDING. Used by ops tooling and cycle reset.
func ReleaseStaleLocks(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&QueueItem{}).
		Where("status = ? AND locked_at < ?", QueueStatusInCount, cutoff).
		Updates(map[string]interface{}{
			"status":    QueueStatusPending,
			"locked_by": nil,
			"locked_at": nil,
		})
	return res.RowsAffected, res.Error
}

// ListQueue returns the queue in assignment order, optionally filtered by status.
func ListQueue(ctx context.Context, db *gorm.DB, status *QueueStatus, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 5000
	}
	q := db.WithContext(ctx).Model(&QueueItem{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var items []QueueItem
	err := q.Order("priority_manual DESC").
		Order("priority_base DESC").
		Order("brand ASC").
		Order("product_code ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
