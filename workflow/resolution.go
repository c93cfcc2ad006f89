package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResolutionAction is a supervisor's decision over a pending divergence.
type ResolutionAction string

const (
	ResolutionApprove          ResolutionAction = "APPROVE"
	ResolutionRecount          ResolutionAction = "RECOUNT"
	ResolutionFinalizeAnalysis ResolutionAction = "FINALIZE_ANALYSIS"
)

// ResolveDivergence applies a supervisor decision.
//
// APPROVE queues the divergence for reconciliation and leaves the item
// blocked until the adjustment lands. RECOUNT sends the item back to the
// front of the queue. FINALIZE_ANALYSIS writes the whole thing off: the item
// restarts clean with every counter reset.
func ResolveDivergence(ctx context.Context, db *gorm.DB, logger *logrus.Logger, divergenceID int, action ResolutionAction, note string) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var divergence models.Divergence
		err := tx.Preload("Count").First(&divergence, divergenceID).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}

		switch action {
		case ResolutionApprove:
			decision := models.DecisionAdjust
			return tx.Model(&divergence).Updates(map[string]interface{}{
				"status":   models.DivergenceStatusAccepted,
				"decision": decision,
				"notes":    appendNote(divergence.Notes, note),
			}).Error

		case ResolutionFinalizeAnalysis:
			decision := models.DecisionFinalizeAnalysis
			err := tx.Model(&divergence).Updates(map[string]interface{}{
				"status":   models.DivergenceStatusDone,
				"decision": decision,
				"notes":    appendNote(divergence.Notes, note),
			}).Error
			if err != nil {
				return err
			}
			return tx.Model(&models.QueueItem{}).
				Where("id = ?", divergence.Count.QueueItemId).
				Updates(map[string]interface{}{
					"status":            models.QueueStatusPending,
					"locked_by":         nil,
					"locked_at":         nil,
					"priority_base":     0,
					"priority_manual":   0,
					"not_found_count":   0,
					"last_not_found_by": nil,
					"recounts":          0,
				}).Error

		case ResolutionRecount:
			decision := models.DecisionRecount
			err := tx.Model(&divergence).Updates(map[string]interface{}{
				"status":   models.DivergenceStatusDone,
				"decision": decision,
				"notes":    appendNote(divergence.Notes, note),
			}).Error
			if err != nil {
				return err
			}
			return tx.Model(&models.QueueItem{}).
				Where("id = ?", divergence.Count.QueueItemId).
				Updates(map[string]interface{}{
					"status":          models.QueueStatusPending,
					"locked_by":       nil,
					"locked_at":       nil,
					"priority_manual": models.PriorityRecountJump,
				}).Error

		default:
			return fmt.Errorf("unknown resolution action %q", action)
		}
	})
	if err != nil && err != ErrNotFound {
		config.LogError(logger, "resolution.go", "ResolveDivergence", "resolution failed", divergenceID, err)
	}
	return err
}

// RetryAdjustment puts an ERROR divergence back into the reconciliation work
// set. Failed postings never retry on their own, a supervisor has to look at
// the error first.
func RetryAdjustment(ctx context.Context, db *gorm.DB, divergenceID int) error {
	res := db.WithContext(ctx).
		Model(&models.Divergence{}).
		Where("id = ? AND adjust_status = ?", divergenceID, models.AdjustStatusError).
		Update("adjust_status", models.AdjustStatusPending)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func appendNote(existing, note string) string {
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + " | " + note
}
