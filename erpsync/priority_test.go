package erpsync

import (
	"testing"
	"time"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return now.AddDate(0, 0, -n)
}

func TestPriorityScoreFreshnessDecay(t *testing.T) {
	lastCounted := daysAgo(30) // bonus factor 2.0

	recent := PriorityScore(1000, daysAgo(3), &lastCounted, "UN", "WIDGET", now)
	mid := PriorityScore(1000, daysAgo(15), &lastCounted, "UN", "WIDGET", now)
	old := PriorityScore(1000, daysAgo(90), &lastCounted, "UN", "WIDGET", now)

	if recent != 200 {
		t.Fatalf("recent entry: want 1000*0.1*(1+1) = 200; got %d", recent)
	}
	if mid != 1000 {
		t.Fatalf("mid entry: want 1000*0.5*(1+1) = 1000; got %d", mid)
	}
	if old != 2000 {
		t.Fatalf("old entry: want 1000*(1+1) = 2000; got %d", old)
	}
}

func TestPriorityScoreStalenessBonus(t *testing.T) {
	neverCounted := PriorityScore(100, daysAgo(90), nil, "UN", "WIDGET", now)
	justCounted := daysAgo(0)
	fresh := PriorityScore(100, daysAgo(90), &justCounted, "UN", "WIDGET", now)

	// Never counted defaults to 365 days stale, bonus capped at 2.0.
	if neverCounted != 300 {
		t.Fatalf("never counted: want 100*(1+2) = 300; got %d", neverCounted)
	}
	if fresh != 100 {
		t.Fatalf("just counted: want 100*(1+0) = 100; got %d", fresh)
	}
	if neverCounted <= fresh {
		t.Fatal("staleness must raise priority")
	}
}

func TestPriorityScoreLinearProductsParked(t *testing.T) {
	score := PriorityScore(100000, daysAgo(90), nil, "MT", "POWER CABLE 2.5MM", now)
	// 0.1 * (1+2.0) = 0.3, floored.
	if score != 0 {
		t.Fatalf("linear product must be parked at the bottom; got %d", score)
	}
}

func TestIsLinearProduct(t *testing.T) {
	cases := []struct {
		unit string
		desc string
		want bool
	}{
		{"MT", "ANYTHING", true},
		{"M", "STEEL BAR", true},
		{"MTS", "HOSE CLEAR", true},
		{"UN", "WIDGET", false},
		{"UN", "POWER CABLE 2.5MM", false}, // UN is a closed unit
		{"KG", "POWER CABLE 2.5MM", true}, // keyword match, open unit
		{"RL", "POWER CABLE 2.5MM", false}, // closed spool, countable
		{"KG", "EXTENSION CORD", true},
		{"KG", "CORDA SISAL 10MM", true}, // keyword at the start of the description
	}
	for _, c := range cases {
		if got := isLinearProduct(c.unit, c.desc); got != c.want {
			t.Errorf("isLinearProduct(%q, %q) = %v; want %v", c.unit, c.desc, got, c.want)
		}
	}
}
