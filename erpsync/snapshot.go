package erpsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/models"
	"bitbucket.org/warelogic/counting_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotInsertBatch = 1000

// ErrSyncConflict means another sync wrote today's snapshot rows between our
// delete and insert. The job lock makes this rare; a manual trigger racing
// the scheduled run can still hit it.
var ErrSyncConflict = errors.New("snapshot sync conflict: today's rows were written by a concurrent sync")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// CompanyCode and LocationCode identify the single stock location this
// deployment counts. All ERP reads and writes are scoped to them.
func CompanyCode() int {
	return intFromEnv("ERP_COMPANY_CODE", 1)
}

func LocationCode() int {
	return intFromEnv("ERP_LOCATION_CODE", 10010000)
}

type SyncStats struct {
	Products      int
	QueueUpserted int
}

// SyncAllSnapshots pulls the full product/value picture from the ERP, writes
// today's snapshot rows and refreshes the queue priorities. Reruns on the
// same day replace that day's snapshots, so the job is safe to repeat.
func SyncAllSnapshots(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway) (*SyncStats, error) {
	companyCode := CompanyCode()
	locationCode := LocationCode()

	products, err := gw.FetchQueueProducts(ctx, companyCode, locationCode)
	if err != nil {
		config.LogError(logger, "snapshot.go", "SyncAllSnapshots", "erp product fetch failed", nil, err)
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("erp returned no products for company %d location %d", companyCode, locationCode)
	}

	referenceDate := utils.StartOfDay(time.Now())

	err = db.WithContext(ctx).
		Where("reference_date = ? AND company_code = ? AND location_code = ?", referenceDate, companyCode, locationCode).
		Delete(&models.StockSnapshot{}).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]models.StockSnapshot, 0, len(products))
	for _, p := range products {
		snapshots = append(snapshots, models.StockSnapshot{
			ReferenceDate: referenceDate,
			CompanyCode:   companyCode,
			LocationCode:  locationCode,
			ProductCode:   p.ProductCode,
			Description:   p.Description,
			Brand:         p.Brand,
			LotControl:    p.LotControl,
			Unit:          p.Unit,
			Quantity:      p.Quantity,
			UnitCost:      p.UnitCost,
			StockValue:    p.StockValue,
		})
	}
	if err := db.WithContext(ctx).CreateInBatches(snapshots, snapshotInsertBatch).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, ErrSyncConflict
		}
		return nil, err
	}

	upserted, err := RepopulateQueue(ctx, db, products, companyCode, locationCode)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"module":   "snapshot.go",
		"funcName": "SyncAllSnapshots",
		"products": len(products),
		"upserted": upserted,
	}).Info("snapshot sync finished")

	return &SyncStats{Products: len(products), QueueUpserted: upserted}, nil
}

// RepopulateQueue upserts one queue item per product with a freshly computed
// base priority. Counting state (status, locks, counters, manual priority) is
// never touched by the sync, only the descriptive fields and the base score.
func RepopulateQueue(ctx context.Context, db *gorm.DB, products []QueueProduct, companyCode, locationCode int) (int, error) {
	now := time.Now()

	lastCounts, err := lastCountDates(ctx, db, companyCode, locationCode)
	if err != nil {
		return 0, err
	}

	items := make([]models.QueueItem, 0, len(products))
	for _, p := range products {
		var lastCounted *time.Time
		if t, ok := lastCounts[p.ProductCode]; ok {
			lastCounted = &t
		}
		items = append(items, models.QueueItem{
			ProductCode:  p.ProductCode,
			LocationCode: locationCode,
			CompanyCode:  companyCode,
			Description:  p.Description,
			Brand:        p.Brand,
			LotControl:   p.LotControl,
			Unit:         p.Unit,
			Status:       models.QueueStatusPending,
			PriorityBase: PriorityScore(p.PriorityIndex, p.LastEntryDate, lastCounted, p.Unit, p.Description, now),
		})
	}

	for start := 0; start < len(items); start += snapshotInsertBatch {
		end := start + snapshotInsertBatch
		if end > len(items) {
			end = len(items)
		}
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_code"}, {Name: "location_code"}, {Name: "company_code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"description", "brand", "lot_control", "unit", "priority_base", "updated_at",
			}),
		}).Create(items[start:end]).Error
		if err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

func lastCountDates(ctx context.Context, db *gorm.DB, companyCode, locationCode int) (map[int]time.Time, error) {
	type row struct {
		ProductCode   int
		LastCountedAt *time.Time
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Select("product_code, last_counted_at").
		Where("company_code = ? AND location_code = ? AND last_counted_at IS NOT NULL", companyCode, locationCode).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]time.Time, len(rows))
	for _, r := range rows {
		if r.LastCountedAt != nil {
			out[r.ProductCode] = *r.LastCountedAt
		}
	}
	return out, nil
}

// ResetCycle starts a new counting cycle: finished and parked items are
// removed, half-done locks are released and the queue is rebuilt from a
// fresh snapshot. Counts and divergences are kept as history.
func ResetCycle(ctx context.Context, db *gorm.DB, logger *logrus.Logger, gw Gateway) (*SyncStats, error) {
	err := db.WithContext(ctx).
		Where("status IN ?", []models.QueueStatus{
			models.QueueStatusDone,
			models.QueueStatusReported,
			models.QueueStatusAuditLocked,
		}).
		Delete(&models.QueueItem{}).Error
	if err != nil {
		return nil, err
	}

	if _, err := models.ReleaseStaleLocks(ctx, db, time.Now()); err != nil {
		return nil, err
	}

	return SyncAllSnapshots(ctx, db, logger, gw)
}
