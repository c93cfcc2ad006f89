package workflow

import (
	"testing"

	"bitbucket.org/warelogic/counting_backend/models"
)

func pendingItem(id int, brand, lot string) models.QueueItem {
	return models.QueueItem{
		ID:         id,
		Brand:      brand,
		LotControl: lot,
		Status:     models.QueueStatusPending,
	}
}

func TestChooseCandidateContinuityFirst(t *testing.T) {
	// Candidate order encodes priority; the ACME item sits behind a BOLT item
	// but continuity must still prefer it.
	candidates := []models.QueueItem{
		pendingItem(1, "BOLT", ""),
		pendingItem(2, "ACME", ""),
	}
	got, degraded := chooseCandidate(candidates, []string{"ACME"}, map[string]bool{}, map[int]bool{})
	if got == nil || got.ID != 2 {
		t.Fatalf("expected continuity pick id=2; got %+v", got)
	}
	if degraded {
		t.Fatal("continuity pick must not be flagged degraded")
	}
}

func TestChooseCandidateContinuityPrefersMostRecentGroup(t *testing.T) {
	candidates := []models.QueueItem{
		pendingItem(1, "ACME", ""),
		pendingItem(2, "BOLT", ""),
	}
	// myGroups is most-recent-first: BOLT was touched after ACME.
	got, _ := chooseCandidate(candidates, []string{"BOLT", "ACME"}, map[string]bool{}, map[int]bool{})
	if got == nil || got.ID != 2 {
		t.Fatalf("expected pick from most recently touched group (BOLT, id=2); got %+v", got)
	}
}

func TestChooseCandidateIsolationSkipsOwnedGroups(t *testing.T) {
	candidates := []models.QueueItem{
		pendingItem(1, "ACME", ""),
		pendingItem(2, "BOLT", ""),
	}
	got, degraded := chooseCandidate(candidates, nil, map[string]bool{"ACME": true}, map[int]bool{})
	if got == nil || got.ID != 2 {
		t.Fatalf("expected isolation pick id=2 (ACME owned by another worker); got %+v", got)
	}
	if degraded {
		t.Fatal("isolation pick must not be flagged degraded")
	}
}

func TestChooseCandidateFallbackIsDegraded(t *testing.T) {
	candidates := []models.QueueItem{
		pendingItem(1, "ACME", ""),
	}
	got, degraded := chooseCandidate(candidates, nil, map[string]bool{"ACME": true}, map[int]bool{})
	if got == nil || got.ID != 1 {
		t.Fatalf("expected fallback pick id=1; got %+v", got)
	}
	if !degraded {
		t.Fatal("fallback pick must be flagged degraded")
	}
}

func TestChooseCandidateRespectsTriedSet(t *testing.T) {
	candidates := []models.QueueItem{
		pendingItem(1, "ACME", ""),
		pendingItem(2, "ACME", ""),
	}
	got, _ := chooseCandidate(candidates, []string{"ACME"}, map[string]bool{}, map[int]bool{1: true})
	if got == nil || got.ID != 2 {
		t.Fatalf("expected next candidate after a lost lock race; got %+v", got)
	}
}

func TestChooseCandidateExhausted(t *testing.T) {
	candidates := []models.QueueItem{
		pendingItem(1, "ACME", ""),
	}
	got, _ := chooseCandidate(candidates, nil, map[string]bool{}, map[int]bool{1: true})
	if got != nil {
		t.Fatalf("expected nil when every candidate was tried; got %+v", got)
	}
}

func TestChooseCandidateLotGroupedItems(t *testing.T) {
	// Two lot-controlled items with different lots are different groups.
	candidates := []models.QueueItem{
		pendingItem(1, "CONTROLE", "L-1"),
		pendingItem(2, "CONTROLE", "L-2"),
	}
	got, _ := chooseCandidate(candidates, nil, map[string]bool{"CONTROLE:L-1": true}, map[int]bool{})
	if got == nil || got.ID != 2 {
		t.Fatalf("expected lot L-2 (L-1 owned elsewhere); got %+v", got)
	}
}
