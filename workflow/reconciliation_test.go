package workflow

import (
	"testing"

	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/shopspring/decimal"
)

func adjustableDivergence(id, workerID int, diff int64) models.Divergence {
	return models.Divergence{
		ID: id,
		Count: models.Count{
			WorkerId:   workerID,
			Divergence: decimal.NewFromInt(diff),
		},
	}
}

func TestBuildAdjustmentBatchesSplitsByDirection(t *testing.T) {
	divs := []models.Divergence{
		adjustableDivergence(1, 7, 2),  // surplus
		adjustableDivergence(2, 7, -3), // shortfall
	}
	batches := buildAdjustmentBatches(divs)
	if len(batches) != 2 {
		t.Fatalf("expected two batches for one worker with mixed signs; got %d", len(batches))
	}
	if batches[0].Direction != DirectionEntry || batches[1].Direction != DirectionExit {
		t.Fatalf("expected entry then exit; got %v, %v", batches[0].Direction, batches[1].Direction)
	}
	if batches[0].WorkerID != 7 || batches[1].WorkerID != 7 {
		t.Fatal("both batches must belong to worker 7")
	}
}

func TestBuildAdjustmentBatchesGroupsPerWorker(t *testing.T) {
	divs := []models.Divergence{
		adjustableDivergence(1, 2, 5),
		adjustableDivergence(2, 1, 5),
		adjustableDivergence(3, 1, 4),
	}
	batches := buildAdjustmentBatches(divs)
	if len(batches) != 2 {
		t.Fatalf("expected one batch per worker; got %d", len(batches))
	}
	// Deterministic worker order.
	if batches[0].WorkerID != 1 || batches[1].WorkerID != 2 {
		t.Fatalf("expected workers [1 2]; got [%d %d]", batches[0].WorkerID, batches[1].WorkerID)
	}
	if len(batches[0].Divergences) != 2 {
		t.Fatalf("worker 1 should have 2 lines in one document; got %d", len(batches[0].Divergences))
	}
}

func TestBuildAdjustmentBatchesSkipsZeroDivergence(t *testing.T) {
	divs := []models.Divergence{
		adjustableDivergence(1, 1, 0),
	}
	if batches := buildAdjustmentBatches(divs); len(batches) != 0 {
		t.Fatalf("zero-divergence rows must not produce batches; got %d", len(batches))
	}
}

func TestBatchCommentDistinguishesDirections(t *testing.T) {
	entry := batchComment("Maria Silva", DirectionEntry)
	exit := batchComment("Maria Silva", DirectionExit)
	if entry == exit {
		t.Fatal("entry and exit documents must carry distinct comments")
	}
	if batchCommentPattern("Maria Silva", DirectionEntry) != "%"+entry+"%" {
		t.Fatal("lookup pattern must wrap the exact comment")
	}
}
