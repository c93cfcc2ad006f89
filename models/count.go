package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Count is one submission attempt. Append-only: rows are never mutated after
// creation, they are the audit trail behind every divergence.
type Count struct {
	ID          int `gorm:"primary_key" json:"id"`
	WorkerId    int `gorm:"index;not null" json:"worker_id"`
	QueueItemId int `gorm:"index;not null" json:"queue_item_id"`

	ProductCode  int `gorm:"not null" json:"product_code"`
	LocationCode int `gorm:"not null" json:"location_code"`
	CompanyCode  int `gorm:"not null" json:"company_code"`

	Type              CountType       `gorm:"type:enum('COUNT','RECOUNT','NOT_FOUND','PROBLEM_REPORT');not null" json:"type"`
	QuantityCounted   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity_counted"`
	ExpectedAtTime    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"expected_at_time"`
	Divergence        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"divergence"`
	DivergencePercent float64         `gorm:"not null;default:0" json:"divergence_percent"`
	AnalysisStatus    AnalysisStatus  `gorm:"type:enum('OK_AUTO','DIVERGENCE_PENDING','RESOLVED');not null" json:"analysis_status"`

	SnapshotId *int      `json:"snapshot_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Notes      string    `gorm:"type:text" json:"notes"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// HasOriginalCount reports whether a COUNT-type record already exists for the
// queue item; a second submission is then a RECOUNT.
func HasOriginalCount(ctx context.Context, db *gorm.DB, queueItemID int) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&Count{}).
		Where("queue_item_id = ? AND type = ?", queueItemID, CountTypeCount).
		Count(&n).Error
	return n > 0, err
}

// RecentCountTouch is a count joined with its queue item's group fields, used
// to rebuild group ownership from recent history.
type RecentCountTouch struct {
	WorkerId   int       `json:"worker_id"`
	Brand      string    `json:"brand"`
	LotControl string    `json:"lot_control"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecentCountHistory returns all counts since the cutoff in chronological
// order, each carrying the item's brand/lot for group-key derivation.
func RecentCountHistory(ctx context.Context, db *gorm.DB, since time.Time) ([]RecentCountTouch, error) {
	var touches []RecentCountTouch
	err := db.WithContext(ctx).
		Model(&Count{}).
		Select("counts.worker_id, queue_items.brand, queue_items.lot_control, counts.created_at").
		Joins("JOIN queue_items ON queue_items.id = counts.queue_item_id").
		Where("counts.created_at >= ?", since).
		Order("counts.created_at ASC").
		Scan(&touches).Error
	return touches, err
}
