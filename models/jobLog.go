package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// JobLog records one batch job run (snapshot sync, adjustment flush).
type JobLog struct {
	ID             int       `gorm:"primary_key" json:"id"`
	Type           JobType   `gorm:"type:enum('SNAPSHOT_SYNC','ADJUSTMENT_FLUSH');not null;index" json:"type"`
	Status         JobStatus `gorm:"type:enum('SUCCESS','ERROR');not null" json:"status"`
	ItemsProcessed int       `gorm:"not null;default:0" json:"items_processed"`
	Detail         string    `gorm:"size:500" json:"detail"`
	Error          string    `gorm:"type:text" json:"error"`
	CorrelationId  string    `gorm:"size:64" json:"correlation_id"`
	ExecutedAt     time.Time `gorm:"autoCreateTime;index" json:"executed_at"`
}

func LastSuccessfulJob(ctx context.Context, db *gorm.DB, jobType JobType) (*JobLog, error) {
	var jl JobLog
	err := db.WithContext(ctx).
		Where("type = ? AND status = ?", jobType, JobStatusSuccess).
		Order("executed_at DESC").
		First(&jl).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &jl, nil
}
