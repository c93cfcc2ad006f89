package workflow

import (
	"strings"

	"bitbucket.org/warelogic/counting_backend/models"
)

// GroupedByLotSentinel marks products whose brand column carries no real
// brand; their shelf grouping comes from the lot/control code instead.
const GroupedByLotSentinel = "CONTROLE"

// GroupKeyOf derives the exclusivity group for an item. Two items with the
// same key sit on the same physical shelf run and must not be counted by two
// workers at once.
func GroupKeyOf(brand, lotControl string) string {
	b := strings.TrimSpace(strings.ToUpper(brand))
	if b == GroupedByLotSentinel {
		lot := strings.TrimSpace(lotControl)
		if lot != "" {
			return GroupedByLotSentinel + ":" + strings.ToUpper(lot)
		}
	}
	return b
}

// GroupKeyOfItem is GroupKeyOf over a queue item.
func GroupKeyOfItem(item *models.QueueItem) string {
	return GroupKeyOf(item.Brand, item.LotControl)
}

// GroupOwnership maps group keys to the worker currently working them, in
// first-touch order. Later touches overwrite the owner but keep the group's
// position, so "most recent of my groups" is still recoverable from the
// touch sequence kept alongside.
type GroupOwnership struct {
	keys   []string
	owners map[string]int
}

func NewGroupOwnership() *GroupOwnership {
	return &GroupOwnership{owners: map[string]int{}}
}

// Set records or overwrites the owner of a group.
func (o *GroupOwnership) Set(key string, workerID int) {
	if key == "" {
		return
	}
	if _, seen := o.owners[key]; !seen {
		o.keys = append(o.keys, key)
	}
	o.owners[key] = workerID
}

// MyGroups returns the groups owned by the worker, most recently touched
// first.
func (o *GroupOwnership) MyGroups(workerID int) []string {
	var mine []string
	for i := len(o.keys) - 1; i >= 0; i-- {
		key := o.keys[i]
		if o.owners[key] == workerID {
			mine = append(mine, key)
		}
	}
	return mine
}

// OthersGroups returns the groups owned by any other worker.
func (o *GroupOwnership) OthersGroups(workerID int) []string {
	var others []string
	for _, key := range o.keys {
		if o.owners[key] != workerID {
			others = append(others, key)
		}
	}
	return others
}
