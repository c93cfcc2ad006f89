package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/erpsync"
	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdjustmentDirection splits a worker's approved adjustments by sign.
// Surpluses become entry documents, shortfalls exit documents.
type AdjustmentDirection string

const (
	DirectionEntry AdjustmentDirection = "ENTRY"
	DirectionExit  AdjustmentDirection = "EXIT"
)

// adjustmentBatch is one (worker, direction) group, posted as a single ERP
// document so attribution stays per worker.
type adjustmentBatch struct {
	WorkerID    int
	Direction   AdjustmentDirection
	Divergences []models.Divergence
}

// SyncResult aggregates one reconciliation run.
type SyncResult struct {
	Processed    int `json:"processed"`
	NotesCreated int `json:"notes_created"`
	Failed       int `json:"failed"`
}

// SyncPendingAdjustments posts every approved, not-yet-synced adjustment to
// the ERP. Batches are per worker and per direction; a batch failure marks
// its divergences ERROR and does not stop the other batches. A same-day
// document with the worker's tag is reused instead of creating a duplicate.
func SyncPendingAdjustments(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw erpsync.Gateway) (*SyncResult, error) {
	divergences, err := models.AdjustableDivergences(ctx, db)
	if err != nil {
		config.LogError(logger, "reconciliation.go", "SyncPendingAdjustments", "adjustable selection failed", nil, err)
		return nil, err
	}
	result := &SyncResult{}
	if len(divergences) == 0 {
		return result, nil
	}

	workerIDs := make([]int, 0, len(divergences))
	for _, d := range divergences {
		workerIDs = append(workerIDs, d.Count.WorkerId)
	}
	workerNames, err := models.WorkerNames(ctx, db, workerIDs)
	if err != nil {
		return nil, err
	}

	items, err := queueItemsFor(ctx, db, divergences)
	if err != nil {
		return nil, err
	}
	unitCosts, err := snapshotUnitCosts(ctx, db, divergences)
	if err != nil {
		return nil, err
	}

	today := time.Now()
	for _, batch := range buildAdjustmentBatches(divergences) {
		workerName := workerNames[batch.WorkerID]
		if workerName == "" {
			workerName = fmt.Sprintf("worker %d", batch.WorkerID)
		}

		noteID, created, err := postBatch(ctx, logger, gw, batch, workerName, items, unitCosts, today)
		if err != nil {
			config.LogError(logger, "reconciliation.go", "SyncPendingAdjustments", "batch posting failed", batch.WorkerID, err)
			result.Failed += len(batch.Divergences)
			markAdjustError(ctx, db, logger, batch.Divergences, err)
			continue
		}

		if err := markAdjustSynced(ctx, db, batch.Divergences, noteID, today); err != nil {
			config.LogError(logger, "reconciliation.go", "SyncPendingAdjustments", "synced flag update failed", noteID, err)
			return result, err
		}
		result.Processed += len(batch.Divergences)
		if created {
			result.NotesCreated++
		}
	}
	return result, nil
}

// buildAdjustmentBatches groups adjustable divergences per worker and per
// direction, in deterministic order. Zero-divergence rows are skipped.
func buildAdjustmentBatches(divergences []models.Divergence) []adjustmentBatch {
	grouped := map[int]map[AdjustmentDirection][]models.Divergence{}
	for _, d := range divergences {
		if d.Count.Divergence.IsZero() {
			continue
		}
		direction := DirectionExit
		if d.Count.Divergence.IsPositive() {
			direction = DirectionEntry
		}
		workerID := d.Count.WorkerId
		if grouped[workerID] == nil {
			grouped[workerID] = map[AdjustmentDirection][]models.Divergence{}
		}
		grouped[workerID][direction] = append(grouped[workerID][direction], d)
	}

	workerIDs := make([]int, 0, len(grouped))
	for id := range grouped {
		workerIDs = append(workerIDs, id)
	}
	sort.Ints(workerIDs)

	var batches []adjustmentBatch
	for _, id := range workerIDs {
		for _, direction := range []AdjustmentDirection{DirectionEntry, DirectionExit} {
			if divs := grouped[id][direction]; len(divs) > 0 {
				batches = append(batches, adjustmentBatch{WorkerID: id, Direction: direction, Divergences: divs})
			}
		}
	}
	return batches
}

// batchComment tags the ERP document with the worker and direction; the
// same-day lookup pattern matches it to avoid duplicate documents.
func batchComment(workerName string, direction AdjustmentDirection) string {
	suffix := "(Exit/Loss)"
	if direction == DirectionEntry {
		suffix = "(Entry)"
	}
	return fmt.Sprintf("Stock Adjustment - Counting App - %s %s", workerName, suffix)
}

func batchCommentPattern(workerName string, direction AdjustmentDirection) string {
	return "%" + batchComment(workerName, direction) + "%"
}

// postBatch builds the line items, finds or creates the daily document,
// appends the lines and confirms. Returns the document id and whether a new
// document was created.
func postBatch(ctx context.Context, logger *logrus.Logger, gw erpsync.Gateway, batch adjustmentBatch, workerName string, items map[int]models.QueueItem, unitCosts map[int]decimal.Decimal, day time.Time) (int, bool, error) {
	docType := erpsync.ExitDocType()
	if batch.Direction == DirectionEntry {
		docType = erpsync.EntryDocType()
	}

	lines := make([]erpsync.AdjustmentLine, 0, len(batch.Divergences))
	var companyCode int
	for _, d := range batch.Divergences {
		item, ok := items[d.Count.QueueItemId]
		if !ok {
			return 0, false, fmt.Errorf("queue item %d missing for divergence %d", d.Count.QueueItemId, d.ID)
		}
		companyCode = item.CompanyCode

		line := erpsync.AdjustmentLine{
			ProductCode:  d.Count.ProductCode,
			Quantity:     d.Count.Divergence.Abs(),
			LocationCode: d.Count.LocationCode,
			Unit:         item.Unit,
			UnitPrice:    unitCosts[d.ID],
		}
		if batch.Direction == DirectionExit {
			// Shortfalls leave at replacement cost when the ERP has one.
			cost, err := gw.GetReplacementCost(ctx, d.Count.ProductCode, item.CompanyCode, d.Count.LocationCode)
			if err != nil {
				config.LogWarn(logger, "reconciliation.go", "postBatch", "replacement cost lookup failed, using snapshot cost", err)
			} else if cost.Valid && cost.Decimal.IsPositive() {
				line.UnitPrice = cost.Decimal
			}
		}
		lines = append(lines, line)
	}

	comment := batchComment(workerName, batch.Direction)
	pattern := batchCommentPattern(workerName, batch.Direction)

	noteID, err := gw.FindDailyAdjustmentDocument(ctx, companyCode, day, docType, pattern)
	if err != nil {
		return 0, false, err
	}

	created := false
	if noteID == 0 {
		noteID, err = gw.CreateAdjustmentDocument(ctx, companyCode, day, docType, lines, comment)
		if err != nil {
			return 0, false, err
		}
		created = true
	} else {
		if err := gw.AppendItemsToDocument(ctx, noteID, lines); err != nil {
			return 0, false, err
		}
	}

	// Confirmation is best-effort: an unconfirmed document still exists and
	// must not be recreated on the next run.
	if err := gw.ConfirmDocument(ctx, noteID); err != nil {
		config.LogWarn(logger, "reconciliation.go", "postBatch", fmt.Sprintf("document %d confirmation failed", noteID), err)
	}
	return noteID, created, nil
}

// snapshotUnitCosts maps divergence id to the unit cost of the snapshot the
// originating count was measured against. Zero when the count had no
// baseline.
func snapshotUnitCosts(ctx context.Context, db *gorm.DB, divergences []models.Divergence) (map[int]decimal.Decimal, error) {
	snapshotIDs := make([]int, 0, len(divergences))
	for _, d := range divergences {
		if d.Count.SnapshotId != nil {
			snapshotIDs = append(snapshotIDs, *d.Count.SnapshotId)
		}
	}

	costs := map[int]decimal.Decimal{}
	if len(snapshotIDs) > 0 {
		var snapshots []models.StockSnapshot
		if err := db.WithContext(ctx).Where("id IN ?", snapshotIDs).Find(&snapshots).Error; err != nil {
			return nil, err
		}
		bySnapshot := make(map[int]decimal.Decimal, len(snapshots))
		for _, s := range snapshots {
			bySnapshot[s.ID] = s.UnitCost
		}
		for _, d := range divergences {
			if d.Count.SnapshotId != nil {
				costs[d.ID] = bySnapshot[*d.Count.SnapshotId]
			}
		}
	}
	return costs, nil
}

func queueItemsFor(ctx context.Context, db *gorm.DB, divergences []models.Divergence) (map[int]models.QueueItem, error) {
	ids := make([]int, 0, len(divergences))
	for _, d := range divergences {
		ids = append(ids, d.Count.QueueItemId)
	}
	var items []models.QueueItem
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	out := make(map[int]models.QueueItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

func markAdjustSynced(ctx context.Context, db *gorm.DB, divergences []models.Divergence, noteID int, day time.Time) error {
	ids := divergenceIDs(divergences)
	return db.WithContext(ctx).
		Model(&models.Divergence{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"adjust_status":  models.AdjustStatusSynced,
			"adjust_note_id": noteID,
			"adjust_date":    day,
		}).Error
}

func markAdjustError(ctx context.Context, db *gorm.DB, logger *logrus.Logger, divergences []models.Divergence, cause error) {
	ids := divergenceIDs(divergences)
	err := db.WithContext(ctx).
		Model(&models.Divergence{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"adjust_status": models.AdjustStatusError,
			"notes":         gorm.Expr("CONCAT(notes, ?)", " | sync error: "+cause.Error()),
		}).Error
	if err != nil {
		config.LogError(logger, "reconciliation.go", "markAdjustError", "error flag update failed", ids, err)
	}
}

func divergenceIDs(divergences []models.Divergence) []int {
	ids := make([]int, 0, len(divergences))
	for _, d := range divergences {
		ids = append(ids, d.ID)
	}
	return ids
}
