package workflow

import (
	"math"
	"testing"

	"bitbucket.org/warelogic/counting_backend/erpsync"
	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/shopspring/decimal"
)

func TestDivergencePercent(t *testing.T) {
	cases := []struct {
		name     string
		counted  int64
		expected int64
		want     float64
	}{
		{"exact match", 150, 150, 0},
		{"surplus", 160, 150, 6.666666666666667},
		{"shortfall", 145, 150, 3.3333333333333335},
		{"zero baseline nonzero count", 5, 0, 100},
		{"total loss", 0, 80, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			counted := decimal.NewFromInt(c.counted)
			expected := decimal.NewFromInt(c.expected)
			got := divergencePercent(counted.Sub(expected), expected)
			if math.Abs(got-c.want) > 1e-9 {
				t.Fatalf("divergencePercent = %v; want %v", got, c.want)
			}
		})
	}
}

func TestSeverityFor(t *testing.T) {
	if severityFor(10) != models.DivergenceSeverityMedium {
		t.Fatal("10% must stay MEDIUM (threshold is exclusive)")
	}
	if severityFor(10.01) != models.DivergenceSeverityHigh {
		t.Fatal("above 10% must be HIGH")
	}
	if severityFor(100) != models.DivergenceSeverityHigh {
		t.Fatal("100% must be HIGH")
	}
}

func TestClassifyCount(t *testing.T) {
	cases := []struct {
		name      string
		diffZero  bool
		isRecount bool
		percent   float64
		want      CountAction
	}{
		{"match completes", true, false, 0, ActionCompleted},
		{"match on recount completes", true, true, 0, ActionCompleted},
		{"first count above threshold", false, false, 6.66, ActionAutoRecount},
		{"first count at threshold goes to audit", false, false, 5, ActionAuditBlocked},
		{"first count small divergence", false, false, 2, ActionAuditBlocked},
		{"recount any divergence blocks", false, true, 0.5, ActionAuditBlocked},
		{"recount large divergence blocks", false, true, 40, ActionAuditBlocked},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classifyCount(c.diffZero, c.isRecount, c.percent); got != c.want {
				t.Fatalf("classifyCount = %v; want %v", got, c.want)
			}
		})
	}
}

func TestSummarizeMovements(t *testing.T) {
	expected := decimal.NewFromInt(100)

	mc := summarizeMovements(expected, []erpsync.Movement{
		{Kind: erpsync.MovementEntry, Quantity: decimal.NewFromInt(20)},
		{Kind: erpsync.MovementExit, Quantity: decimal.NewFromInt(8)},
		{Kind: erpsync.MovementReservation, Quantity: decimal.NewFromInt(5)},
	})
	if mc.Entries != 1 || mc.Exits != 1 || mc.Reservations != 1 {
		t.Fatalf("unexpected movement counts: %+v", mc)
	}
	// 100 + 20 - 8 - 5: reserved stock is not on the shelf to count.
	if mc.AdjustedBalance.Cmp(decimal.NewFromInt(107)) != 0 {
		t.Fatalf("adjusted balance = %s; want 107", mc.AdjustedBalance)
	}

	// A reservation alone must still move the balance.
	mc = summarizeMovements(expected, []erpsync.Movement{
		{Kind: erpsync.MovementReservation, Quantity: decimal.NewFromInt(5)},
	})
	if mc.AdjustedBalance.Cmp(decimal.NewFromInt(95)) != 0 {
		t.Fatalf("adjusted balance = %s; want 95", mc.AdjustedBalance)
	}

	mc = summarizeMovements(expected, nil)
	if mc.AdjustedBalance.Cmp(expected) != 0 || mc.Entries != 0 {
		t.Fatalf("empty movement list must keep the balance: %+v", mc)
	}
}

func TestBuildMovementNote(t *testing.T) {
	note := buildMovementNote(nil, true)
	if note != "Recount confirmed divergence. No movement context available." {
		t.Fatalf("unexpected note: %q", note)
	}

	mc := &MovementContext{
		AdjustedBalance: decimal.NewFromInt(42),
		Entries:         2,
		Exits:           1,
	}
	note = buildMovementNote(mc, false)
	want := "Movements since snapshot: 2 entries, 1 exits, 0 open reservations. Adjusted expected balance: 42."
	if note != want {
		t.Fatalf("unexpected note:\n got %q\nwant %q", note, want)
	}
}
