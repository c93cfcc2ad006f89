package workflow

import (
	"context"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/erpsync"
	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// recountThresholdPercent is the first-count divergence above which the item
// goes straight back into the queue for a forced recount instead of audit.
const recountThresholdPercent = 5.0

// highSeverityPercent splits MEDIUM from HIGH divergences.
const highSeverityPercent = 10.0

// CountAction says which branch of the escalation state machine fired.
type CountAction string

const (
	ActionCompleted    CountAction = "COMPLETED"
	ActionAutoRecount  CountAction = "AUTO_RECOUNT"
	ActionAuditBlocked CountAction = "AUDIT_BLOCKED"
)

// CountResult is the outcome of one count submission.
type CountResult struct {
	Action     CountAction        `json:"action"`
	Count      *models.Count      `json:"count"`
	Divergence *models.Divergence `json:"divergence,omitempty"`
	ItemStatus models.QueueStatus `json:"item_status"`
}

// RegisterCount records a submitted quantity against the worker's locked
// item, computes the divergence against the latest snapshot and drives the
// state machine. The lock precondition and the resulting transition run in
// one transaction; the lock is always released whatever branch fires.
func RegisterCount(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw erpsync.Gateway, workerID, queueItemID int, counted decimal.Decimal, startedAt time.Time) (*CountResult, error) {
	var result *CountResult

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, queueItemID).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if item.Status != models.QueueStatusInCount || item.LockedBy == nil || *item.LockedBy != workerID {
			return ErrInvalidState
		}

		snapshot, err := models.LatestSnapshot(ctx, tx, item.ProductCode, item.LocationCode, item.CompanyCode)
		if err != nil {
			return err
		}
		expected := decimal.Zero
		var snapshotID *int
		snapshotDate := time.Now().AddDate(0, 0, -1)
		if snapshot != nil {
			expected = snapshot.Quantity
			snapshotID = &snapshot.ID
			snapshotDate = snapshot.ReferenceDate
		}

		diff := counted.Sub(expected)
		percent := divergencePercent(diff, expected)

		hasOriginal, err := models.HasOriginalCount(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		countType := models.CountTypeCount
		if hasOriginal {
			countType = models.CountTypeRecount
		}

		analysis := models.AnalysisStatusOkAuto
		if !diff.IsZero() {
			analysis = models.AnalysisStatusDivergencePending
		}

		now := time.Now()
		count := models.Count{
			WorkerId:          workerID,
			QueueItemId:       item.ID,
			ProductCode:       item.ProductCode,
			LocationCode:      item.LocationCode,
			CompanyCode:       item.CompanyCode,
			Type:              countType,
			QuantityCounted:   counted,
			ExpectedAtTime:    expected,
			Divergence:        diff,
			DivergencePercent: percent,
			AnalysisStatus:    analysis,
			SnapshotId:        snapshotID,
			StartedAt:         startedAt,
			FinishedAt:        now,
		}
		if err := tx.Create(&count).Error; err != nil {
			return err
		}

		action := classifyCount(diff.IsZero(), hasOriginal, percent)
		result = &CountResult{Action: action, Count: &count}

		switch action {
		case ActionCompleted:
			result.ItemStatus = models.QueueStatusDone
			return tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"status":          models.QueueStatusDone,
					"locked_by":       nil,
					"locked_at":       nil,
					"ok_counts":       gorm.Expr("ok_counts + 1"),
					"priority_base":   0,
					"priority_manual": 0,
					"last_counted_at": now,
				}).Error

		case ActionAutoRecount:
			divergence := models.Divergence{
				CountId:  count.ID,
				Status:   models.DivergenceStatusPending,
				Severity: severityFor(percent),
				Notes:    "automatic recount triggered",
			}
			if err := tx.Create(&divergence).Error; err != nil {
				return err
			}
			result.Divergence = &divergence
			result.ItemStatus = models.QueueStatusPending
			return tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"status":          models.QueueStatusPending,
					"locked_by":       nil,
					"locked_at":       nil,
					"priority_manual": models.PriorityRecountJump,
					"recounts":        gorm.Expr("recounts + 1"),
					"last_counted_at": now,
				}).Error

		default: // ActionAuditBlocked
			mc := fetchMovementContext(ctx, logger, gw, &item, expected, snapshotDate)
			divergence := models.Divergence{
				CountId:   count.ID,
				Status:    models.DivergenceStatusPending,
				Severity:  severityFor(percent),
				Notes:     buildMovementNote(mc, hasOriginal),
				Movements: movementsJSON(mc),
			}
			if mc != nil {
				divergence.AdjustedBalance = decimal.NullDecimal{Decimal: mc.AdjustedBalance, Valid: true}
			}
			if err := tx.Create(&divergence).Error; err != nil {
				return err
			}
			result.Divergence = &divergence
			result.ItemStatus = models.QueueStatusAuditLocked
			return tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"status":          models.QueueStatusAuditLocked,
					"locked_by":       nil,
					"locked_at":       nil,
					"last_counted_at": now,
				}).Error
		}
	})
	if err != nil {
		if err != ErrInvalidState && err != ErrNotFound {
			config.LogError(logger, "counting.go", "RegisterCount", "count registration failed", queueItemID, err)
		}
		return nil, err
	}
	return result, nil
}

// divergencePercent follows the zero-baseline convention: any nonzero count
// against an expected quantity of zero is a 100% divergence.
func divergencePercent(diff, expected decimal.Decimal) float64 {
	if diff.IsZero() {
		return 0
	}
	if expected.IsZero() || expected.IsNegative() {
		return 100
	}
	return diff.Abs().Div(expected).InexactFloat64() * 100
}

func severityFor(percent float64) models.DivergenceSeverity {
	if percent > highSeverityPercent {
		return models.DivergenceSeverityHigh
	}
	return models.DivergenceSeverityMedium
}

// classifyCount decides the escalation branch. A matching count completes; a
// large first-count divergence earns an automatic recount; everything else,
// including any divergent recount, blocks for audit.
func classifyCount(diffIsZero, isRecount bool, percent float64) CountAction {
	if diffIsZero {
		return ActionCompleted
	}
	if !isRecount && percent > recountThresholdPercent {
		return ActionAutoRecount
	}
	return ActionAuditBlocked
}
