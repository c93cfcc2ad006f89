package workflow

import "testing"

func TestGroupKeyOf(t *testing.T) {
	cases := []struct {
		brand string
		lot   string
		want  string
	}{
		{"ACME", "L-100", "ACME"},
		{"acme", "", "ACME"},
		{"  ACME  ", "", "ACME"},
		{"CONTROLE", "L-100", "CONTROLE:L-100"},
		{"controle", "l-100", "CONTROLE:L-100"},
		{"CONTROLE", "  ", "CONTROLE"},
		{"CONTROLE", "", "CONTROLE"},
	}
	for _, c := range cases {
		if got := GroupKeyOf(c.brand, c.lot); got != c.want {
			t.Errorf("GroupKeyOf(%q, %q) = %q; want %q", c.brand, c.lot, got, c.want)
		}
	}
}

func TestGroupOwnershipMostRecentWorkerWins(t *testing.T) {
	o := NewGroupOwnership()
	o.Set("ACME", 1)
	o.Set("BOLT", 2)
	o.Set("ACME", 2) // worker 2 touched ACME later

	if mine := o.MyGroups(1); len(mine) != 0 {
		t.Fatalf("worker 1 should own nothing after being overwritten; got %v", mine)
	}
	others := o.OthersGroups(1)
	if len(others) != 2 {
		t.Fatalf("expected 2 groups owned by others; got %v", others)
	}
}

func TestGroupOwnershipRecencyOrder(t *testing.T) {
	o := NewGroupOwnership()
	o.Set("ACME", 1)
	o.Set("BOLT", 1)
	o.Set("CRATE", 2)

	mine := o.MyGroups(1)
	if len(mine) != 2 || mine[0] != "BOLT" || mine[1] != "ACME" {
		t.Fatalf("expected most recently touched group first [BOLT ACME]; got %v", mine)
	}
}

func TestGroupOwnershipIgnoresEmptyKey(t *testing.T) {
	o := NewGroupOwnership()
	o.Set("", 1)
	if mine := o.MyGroups(1); len(mine) != 0 {
		t.Fatalf("empty group key must not be tracked; got %v", mine)
	}
}
