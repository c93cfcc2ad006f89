package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Divergence is one flagged mismatch awaiting resolution. Created by the
// count engine or the not-found path; mutated only by supervisor resolution
// and the reconciliation engine.
type Divergence struct {
	ID      int   `gorm:"primary_key" json:"id"`
	CountId int   `gorm:"uniqueIndex;not null" json:"count_id"`
	Count   Count `gorm:"foreignKey:CountId" json:"count"`

	Status   DivergenceStatus   `gorm:"type:enum('PENDING','ACCEPTED','DONE');not null;default:'PENDING';index" json:"status"`
	Severity DivergenceSeverity `gorm:"type:enum('MEDIUM','HIGH');not null" json:"severity"`
	Decision *Decision          `gorm:"type:enum('ADJUST','RECOUNT','FINALIZE_ANALYSIS');default:null;index" json:"decision"`
	Notes    string             `gorm:"type:text" json:"notes"`

	// Movement context captured from the ERP at creation time, raw JSON.
	Movements       []byte              `gorm:"type:json" json:"movements"`
	AdjustedBalance decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"adjusted_balance"`

	AdjustStatus *AdjustStatus `gorm:"type:enum('PENDING','SYNCED','ERROR');default:null;index" json:"adjust_status"`
	AdjustNoteId *int          `json:"adjust_note_id"`
	AdjustDate   *time.Time    `json:"adjust_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PendingDivergences lists unresolved divergences for the supervisor view,
// newest first, with the originating count preloaded.
func PendingDivergences(ctx context.Context, db *gorm.DB) ([]Divergence, error) {
	var divs []Divergence
	err := db.WithContext(ctx).
		Preload("Count").
		Where("status = ?", DivergenceStatusPending).
		Order("created_at DESC").
		Find(&divs).Error
	return divs, err
}

// AdjustableDivergences selects the reconciliation work set: approved
// adjustments not yet synced. ERROR rows are deliberately excluded; they
// re-enter only through an explicit retry.
func AdjustableDivergences(ctx context.Context, db *gorm.DB) ([]Divergence, error) {
	var divs []Divergence
	err := db.WithContext(ctx).
		Preload("Count").
		Where("decision = ?", DecisionAdjust).
		Where("adjust_status IS NULL OR adjust_status = ?", AdjustStatusPending).
		Find(&divs).Error
	return divs, err
}
