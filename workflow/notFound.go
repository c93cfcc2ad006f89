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

// NotFoundResult reports which branch the not-found escalation took.
type NotFoundResult struct {
	Escalated  bool               `json:"escalated"`
	ItemStatus models.QueueStatus `json:"item_status"`
	Divergence *models.Divergence `json:"divergence,omitempty"`
}

// ReportNotFound handles a worker unable to physically locate the item.
//
// One report alone sends the item to the back of the queue; a second report
// by a different worker escalates to audit with a formal NOT_FOUND count.
// The same worker reporting twice in a row is rejected, a single worker must
// not be able to zero out an item on their own.
func ReportNotFound(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw erpsync.Gateway, workerID, queueItemID int) (*NotFoundResult, error) {
	var result *NotFoundResult

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
		if item.LastNotFoundBy != nil && *item.LastNotFoundBy == workerID {
			return ErrDuplicateAction
		}

		newNotFoundCount := item.NotFoundCount + 1
		if newNotFoundCount < 2 {
			result = &NotFoundResult{Escalated: false, ItemStatus: models.QueueStatusPending}
			return tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"status":            models.QueueStatusPending,
					"locked_by":         nil,
					"locked_at":         nil,
					"priority_base":     0,
					"priority_manual":   0,
					"not_found_count":   newNotFoundCount,
					"last_not_found_by": workerID,
				}).Error
		}

		// Two distinct workers could not find it. Formalize a zero count and
		// block the item for audit.
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

		now := time.Now()
		count := models.Count{
			WorkerId:          workerID,
			QueueItemId:       item.ID,
			ProductCode:       item.ProductCode,
			LocationCode:      item.LocationCode,
			CompanyCode:       item.CompanyCode,
			Type:              models.CountTypeNotFound,
			QuantityCounted:   decimal.Zero,
			ExpectedAtTime:    expected,
			Divergence:        expected.Neg(),
			DivergencePercent: 100,
			AnalysisStatus:    models.AnalysisStatusDivergencePending,
			SnapshotId:        snapshotID,
			StartedAt:         now,
			FinishedAt:        now,
			Notes:             "reported not found by two distinct workers",
		}
		if err := tx.Create(&count).Error; err != nil {
			return err
		}

		mc := fetchMovementContext(ctx, logger, gw, &item, expected, snapshotDate)
		divergence := models.Divergence{
			CountId:   count.ID,
			Status:    models.DivergenceStatusPending,
			Severity:  models.DivergenceSeverityHigh,
			Notes:     buildMovementNote(mc, false),
			Movements: movementsJSON(mc),
		}
		if mc != nil {
			divergence.AdjustedBalance = decimal.NullDecimal{Decimal: mc.AdjustedBalance, Valid: true}
		}
		if err := tx.Create(&divergence).Error; err != nil {
			return err
		}

		result = &NotFoundResult{
			Escalated:  true,
			ItemStatus: models.QueueStatusAuditLocked,
			Divergence: &divergence,
		}
		return tx.Model(&models.QueueItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"status":            models.QueueStatusAuditLocked,
				"locked_by":         nil,
				"locked_at":         nil,
				"priority_base":     0,
				"priority_manual":   0,
				"not_found_count":   newNotFoundCount,
				"last_not_found_by": workerID,
			}).Error
	})
	if err != nil {
		if err != ErrInvalidState && err != ErrNotFound && err != ErrDuplicateAction {
			config.LogError(logger, "notFound.go", "ReportNotFound", "not-found report failed", queueItemID, err)
		}
		return nil, err
	}
	return result, nil
}

// ReportProblem parks an item a worker cannot count for a physical reason
// (damaged packaging, blocked aisle, wrong labeling). The description goes
// into an append-only PROBLEM_REPORT count and the item waits for a
// supervisor in REPORTED.
func ReportProblem(ctx context.Context, db *gorm.DB, logger *logrus.Logger, workerID, queueItemID int, description string) error {
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
		// Anyone may flag an unclaimed item; a claimed one only by its holder.
		if item.Status == models.QueueStatusInCount && (item.LockedBy == nil || *item.LockedBy != workerID) {
			return ErrInvalidState
		}

		now := time.Now()
		count := models.Count{
			WorkerId:       workerID,
			QueueItemId:    item.ID,
			ProductCode:    item.ProductCode,
			LocationCode:   item.LocationCode,
			CompanyCode:    item.CompanyCode,
			Type:           models.CountTypeProblemReport,
			AnalysisStatus: models.AnalysisStatusResolved,
			StartedAt:      now,
			FinishedAt:     now,
			Notes:          description,
		}
		if err := tx.Create(&count).Error; err != nil {
			return err
		}

		return tx.Model(&models.QueueItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"status":    models.QueueStatusReported,
				"locked_by": nil,
				"locked_at": nil,
			}).Error
	})
	if err != nil && err != ErrInvalidState && err != ErrNotFound {
		config.LogError(logger, "notFound.go", "ReportProblem", "problem report failed", queueItemID, err)
	}
	return err
}
