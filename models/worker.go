package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Worker is auth collaborator state: the engines reference workers by id only.
type Worker struct {
	ID        int        `gorm:"primary_key" json:"id"`
	Name      string     `gorm:"size:100;not null" json:"name"`
	Login     string     `gorm:"size:100;uniqueIndex;not null" json:"login"`
	Password  string     `gorm:"size:255;not null" json:"-"`
	Role      WorkerRole `gorm:"type:enum('OPERATOR','SUPERVISOR','ADMIN');not null;default:'OPERATOR'" json:"role"`
	IsActive  *bool      `gorm:"not null;default:true" json:"is_active"`
	DailyGoal int        `gorm:"not null;default:30" json:"daily_goal"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetWorkerByLogin(ctx context.Context, db *gorm.DB, login string) (*Worker, error) {
	var w Worker
	err := db.WithContext(ctx).Where("login = ?", login).First(&w).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// WorkerNames resolves ids to display names in one query.
func WorkerNames(ctx context.Context, db *gorm.DB, ids []int) (map[int]string, error) {
	names := make(map[int]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var workers []Worker
	if err := db.WithContext(ctx).Select("id,name").Where("id IN ?", ids).Find(&workers).Error; err != nil {
		return nil, err
	}
	for _, w := range workers {
		names[w.ID] = w.Name
	}
	return names, nil
}
