package models

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"bitbucket.org/warelogic/counting_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OperatorStats struct {
	Total     int     `json:"total"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
	DailyGoal int     `json:"daily_goal"`
	Progress  float64 `json:"progress"`
	Completed bool    `json:"completed"`
}

// GetOperatorStats builds the operator's daily scorecard. Only original
// COUNT-type submissions count toward the goal; recounts do not.
func GetOperatorStats(ctx context.Context, db *gorm.DB, workerID int) (*OperatorStats, error) {
	today := utils.StartOfDay(time.Now())

	var counts []Count
	if err := db.WithContext(ctx).
		Where("worker_id = ? AND finished_at >= ? AND type = ?", workerID, today, CountTypeCount).
		Find(&counts).Error; err != nil {
		return nil, err
	}

	var worker Worker
	if err := db.WithContext(ctx).First(&worker, workerID).Error; err != nil {
		return nil, err
	}

	stats := &OperatorStats{
		Total:     len(counts),
		DailyGoal: worker.DailyGoal,
	}
	for _, c := range counts {
		if c.AnalysisStatus == AnalysisStatusOkAuto {
			stats.Correct++
		}
	}
	if stats.Total > 0 {
		stats.Accuracy = float64(stats.Correct) / float64(stats.Total) * 100
	}
	if stats.DailyGoal > 0 {
		stats.Progress = float64(stats.Total) / float64(stats.DailyGoal) * 100
		stats.Completed = stats.Total >= stats.DailyGoal
	}
	return stats, nil
}

type OperatorRanking struct {
	Name           string  `json:"name"`
	Accuracy       float64 `json:"accuracy"`
	Total          int     `json:"total"`
	IndividualGoal int     `json:"individual_goal"`
}

type SupervisorStats struct {
	TotalCounted        int               `json:"total_counted"`
	PendingDivergences  int64             `json:"pending_divergences"`
	ShortfallValue      decimal.Decimal   `json:"shortfall_value"`
	SurplusValue        decimal.Decimal   `json:"surplus_value"`
	GlobalAccuracy      float64           `json:"global_accuracy"`
	GlobalDailyGoal     int               `json:"global_daily_goal"`
	GlobalProgress      float64           `json:"global_progress"`
	Ranking             []OperatorRanking `json:"ranking"`
}

// GetSupervisorStats aggregates today's counts into the management view:
// surplus/shortfall value priced at snapshot cost, global accuracy, and a
// per-operator ranking with the global goal split across active operators.
func GetSupervisorStats(ctx context.Context, db *gorm.DB) (*SupervisorStats, error) {
	today := utils.StartOfDay(time.Now())

	var counts []Count
	if err := db.WithContext(ctx).
		Where("finished_at >= ?", today).
		Find(&counts).Error; err != nil {
		return nil, err
	}

	var pending int64
	if err := db.WithContext(ctx).
		Model(&Divergence{}).
		Where("status = ?", DivergenceStatusPending).
		Count(&pending).Error; err != nil {
		return nil, err
	}

	// Price divergences at the snapshot's mirrored cost.
	snapshotIDs := make([]int, 0, len(counts))
	for _, c := range counts {
		if c.SnapshotId != nil {
			snapshotIDs = append(snapshotIDs, *c.SnapshotId)
		}
	}
	costs := make(map[int]decimal.Decimal, len(snapshotIDs))
	if len(snapshotIDs) > 0 {
		var snaps []StockSnapshot
		if err := db.WithContext(ctx).Select("id,unit_cost").Where("id IN ?", snapshotIDs).Find(&snaps).Error; err != nil {
			return nil, err
		}
		for _, s := range snaps {
			costs[s.ID] = s.UnitCost
		}
	}

	stats := &SupervisorStats{
		TotalCounted:       len(counts),
		PendingDivergences: pending,
		ShortfallValue:     decimal.Zero,
		SurplusValue:       decimal.Zero,
	}

	type opAgg struct {
		total   int
		correct int
	}
	perOperator := map[int]*opAgg{}
	okTotal := 0

	for _, c := range counts {
		cost := decimal.Zero
		if c.SnapshotId != nil {
			cost = costs[*c.SnapshotId]
		}
		diffValue := c.Divergence.Mul(cost)
		if diffValue.IsPositive() {
			stats.SurplusValue = stats.SurplusValue.Add(diffValue)
		} else if diffValue.IsNegative() {
			stats.ShortfallValue = stats.ShortfallValue.Add(diffValue.Neg())
		}

		agg := perOperator[c.WorkerId]
		if agg == nil {
			agg = &opAgg{}
			perOperator[c.WorkerId] = agg
		}
		agg.total++
		if c.AnalysisStatus == AnalysisStatusOkAuto {
			agg.correct++
			okTotal++
		}
	}

	if stats.TotalCounted > 0 {
		stats.GlobalAccuracy = float64(okTotal) / float64(stats.TotalCounted) * 100
	}

	globalGoal, err := GetConfigInt(ctx, db, ConfigKeyGlobalDailyGoal, 100)
	if err != nil {
		return nil, err
	}
	stats.GlobalDailyGoal = globalGoal
	if globalGoal > 0 {
		stats.GlobalProgress = float64(stats.TotalCounted) / float64(globalGoal) * 100
	}

	// Split the global goal across operators that actually worked today.
	activeOps := len(perOperator)
	if activeOps == 0 {
		activeOps = 1
	}
	perOpGoal := int(math.Ceil(float64(globalGoal) / float64(activeOps)))

	ids := make([]int, 0, len(perOperator))
	for id := range perOperator {
		ids = append(ids, id)
	}
	names, err := WorkerNames(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	for id, agg := range perOperator {
		r := OperatorRanking{
			Name:           names[id],
			Total:          agg.total,
			IndividualGoal: perOpGoal,
		}
		if agg.total > 0 {
			r.Accuracy = float64(agg.correct) / float64(agg.total) * 100
		}
		stats.Ranking = append(stats.Ranking, r)
	}
	sort.Slice(stats.Ranking, func(i, j int) bool {
		return stats.Ranking[i].Accuracy > stats.Ranking[j].Accuracy
	})

	return stats, nil
}

type ReportedItem struct {
	ID          int       `json:"id"`
	ProductCode int       `json:"product_code"`
	Description string    `json:"description"`
	Brand       string    `json:"brand"`
	Reason      string    `json:"reason"`
	ReportedBy  string    `json:"reported_by"`
	ReportedAt  time.Time `json:"reported_at"`
}

// ListReportedItems joins REPORTED queue items with their latest
// PROBLEM_REPORT count for the supervisor's problem view.
func ListReportedItems(ctx context.Context, db *gorm.DB) ([]ReportedItem, error) {
	var items []QueueItem
	if err := db.WithContext(ctx).
		Where("status = ?", QueueStatusReported).
		Order("updated_at DESC").
		Find(&items).Error; err != nil {
		return nil, err
	}

	reported := make([]ReportedItem, 0, len(items))
	for _, item := range items {
		r := ReportedItem{
			ID:          item.ID,
			ProductCode: item.ProductCode,
			Description: item.Description,
			Brand:       item.Brand,
			Reason:      "no reason recorded",
			ReportedBy:  "unknown",
			ReportedAt:  item.UpdatedAt,
		}
		var problem Count
		err := db.WithContext(ctx).
			Where("queue_item_id = ? AND type = ?", item.ID, CountTypeProblemReport).
			Order("created_at DESC").
			First(&problem).Error
		if err == nil {
			if problem.Notes != "" {
				r.Reason = problem.Notes
			}
			names, nerr := WorkerNames(ctx, db, []int{problem.WorkerId})
			if nerr == nil {
				if name, ok := names[problem.WorkerId]; ok {
					r.ReportedBy = name
				}
			}
			r.ReportedAt = problem.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		reported = append(reported, r)
	}
	return reported, nil
}
