package workflow

import (
	"context"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ownershipWindow is how far back a worker's count history still claims a
// group. Past it, the shelf run is considered abandoned and up for grabs.
const ownershipWindow = 15 * time.Minute

// candidateWindow bounds how many pending items are pulled into memory for
// one selection. The queue ordering guarantees the best candidates are in
// the head of the list.
const candidateWindow = 500

// SelectNext picks the next queue item for a worker and locks it.
//
// Precedence: an item the worker already holds wins outright; then an item
// from a group the worker recently touched (continuity); then an item from a
// group no other worker owns (isolation); then anything pending (fallback,
// logged as degraded). Lock acquisition is a conditional update, so losing a
// race with another worker just moves on to the next candidate.
//
// Returns nil when the queue has nothing left for this worker.
func SelectNext(ctx context.Context, db *gorm.DB, logger *logrus.Logger, workerID int) (*models.QueueItem, error) {
	held, err := models.FindLockedQueueItem(ctx, db, workerID)
	if err != nil {
		config.LogError(logger, "assignment.go", "SelectNext", "held item lookup failed", workerID, err)
		return nil, err
	}
	if held != nil {
		return held, nil
	}

	ownership, err := buildGroupOwnership(ctx, db, time.Now().Add(-ownershipWindow))
	if err != nil {
		config.LogError(logger, "assignment.go", "SelectNext", "group ownership build failed", workerID, err)
		return nil, err
	}

	candidates, err := pendingCandidates(ctx, db, workerID)
	if err != nil {
		config.LogError(logger, "assignment.go", "SelectNext", "candidate query failed", workerID, err)
		return nil, err
	}

	myGroups := ownership.MyGroups(workerID)
	otherGroups := map[string]bool{}
	for _, g := range ownership.OthersGroups(workerID) {
		otherGroups[g] = true
	}

	tried := map[int]bool{}
	for {
		candidate, degraded := chooseCandidate(candidates, myGroups, otherGroups, tried)
		if candidate == nil {
			return nil, nil
		}
		tried[candidate.ID] = true

		locked, err := models.TryLockQueueItem(ctx, db, candidate.ID, workerID)
		if err != nil {
			config.LogError(logger, "assignment.go", "SelectNext", "lock acquisition failed", candidate.ID, err)
			return nil, err
		}
		if !locked {
			// Lost the race, the candidate list is stale for this id only.
			continue
		}

		if degraded {
			config.LogWarn(logger, "assignment.go", "SelectNext", "fallback assignment ignoring group exclusivity", nil)
		}

		var item models.QueueItem
		if err := db.WithContext(ctx).First(&item, candidate.ID).Error; err != nil {
			return nil, err
		}
		return &item, nil
	}
}

// buildGroupOwnership derives who currently works which group. Recent count
// history is applied first in chronological order, then active locks, so a
// live lock always wins over stale history.
func buildGroupOwnership(ctx context.Context, db *gorm.DB, since time.Time) (*GroupOwnership, error) {
	ownership := NewGroupOwnership()

	touches, err := models.RecentCountHistory(ctx, db, since)
	if err != nil {
		return nil, err
	}
	for _, t := range touches {
		ownership.Set(GroupKeyOf(t.Brand, t.LotControl), t.WorkerId)
	}

	var lockedItems []models.QueueItem
	err = db.WithContext(ctx).
		Where("status = ? AND locked_by IS NOT NULL", models.QueueStatusInCount).
		Find(&lockedItems).Error
	if err != nil {
		return nil, err
	}
	for i := range lockedItems {
		item := &lockedItems[i]
		ownership.Set(GroupKeyOfItem(item), *item.LockedBy)
	}

	return ownership, nil
}

// pendingCandidates returns unlocked pending items the worker has not yet
// counted, in assignment order.
func pendingCandidates(ctx context.Context, db *gorm.DB, workerID int) ([]models.QueueItem, error) {
	var candidates []models.QueueItem
	err := db.WithContext(ctx).
		Where("status = ? AND locked_by IS NULL", models.QueueStatusPending).
		Where("NOT EXISTS (SELECT 1 FROM counts WHERE counts.queue_item_id = queue_items.id AND counts.worker_id = ?)", workerID).
		Order("priority_manual DESC").
		Order("priority_base DESC").
		Order("updated_at ASC").
		Order("brand ASC").
		Limit(candidateWindow).
		Find(&candidates).Error
	return candidates, err
}

// chooseCandidate applies the precedence rules over an ordered candidate
// list. The second return value marks the degraded fallback path.
func chooseCandidate(candidates []models.QueueItem, myGroups []string, otherGroups map[string]bool, tried map[int]bool) (*models.QueueItem, bool) {
	// Continuity: stay in the group touched most recently.
	for _, group := range myGroups {
		for i := range candidates {
			c := &candidates[i]
			if tried[c.ID] {
				continue
			}
			if GroupKeyOfItem(c) == group {
				return c, false
			}
		}
	}

	// Isolation: any group no other worker owns.
	for i := range candidates {
		c := &candidates[i]
		if tried[c.ID] {
			continue
		}
		if !otherGroups[GroupKeyOfItem(c)] {
			return c, false
		}
	}

	// Fallback: the queue only has contested groups left.
	for i := range candidates {
		c := &candidates[i]
		if !tried[c.ID] {
			return c, true
		}
	}
	return nil, false
}
