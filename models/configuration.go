package models

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ConfigKeyGlobalDailyGoal = "GLOBAL_DAILY_GOAL"

// Configuration is a small key/value table for operational settings the
// supervisor can change at runtime (team-wide daily goal).
type Configuration struct {
	ID          int       `gorm:"primary_key" json:"id"`
	CfgKey      string    `gorm:"size:100;uniqueIndex;not null" json:"cfg_key"`
	CfgValue    string    `gorm:"size:255;not null" json:"cfg_value"`
	Description string    `gorm:"size:255" json:"description"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetConfigInt(ctx context.Context, db *gorm.DB, key string, def int) (int, error) {
	var cfg Configuration
	err := db.WithContext(ctx).Where("cfg_key = ?", key).First(&cfg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return def, nil
		}
		return def, err
	}
	n, err := strconv.Atoi(cfg.CfgValue)
	if err != nil {
		return def, nil
	}
	return n, nil
}

func UpsertConfig(ctx context.Context, db *gorm.DB, key, value, description string) error {
	cfg := Configuration{CfgKey: key, CfgValue: value, Description: description}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cfg_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"cfg_value"}),
		}).
		Create(&cfg).Error
}
