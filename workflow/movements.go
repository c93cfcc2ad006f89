package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/erpsync"
	"bitbucket.org/warelogic/counting_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MovementContext is descriptive ERP context attached to an audit-blocked
// divergence: what moved between the snapshot and the count.
type MovementContext struct {
	Movements       []erpsync.Movement `json:"movements"`
	AdjustedBalance decimal.Decimal    `json:"adjusted_balance"`
	Entries         int                `json:"entries"`
	Exits           int                `json:"exits"`
	Reservations    int                `json:"reservations"`
}

// fetchMovementContext is best-effort: a gateway failure degrades to "no
// context available" and never blocks the local transition.
func fetchMovementContext(ctx context.Context, logger *logrus.Logger, gw erpsync.Gateway, item *models.QueueItem, expected decimal.Decimal, since time.Time) *MovementContext {
	if gw == nil {
		return nil
	}

	movements, err := gw.QueryMovements(ctx, item.ProductCode, item.CompanyCode, item.LocationCode, since, time.Now())
	if err != nil {
		config.LogWarn(logger, "movements.go", "fetchMovementContext", "erp movement lookup failed, continuing without context", err)
		return nil
	}

	return summarizeMovements(expected, movements)
}

// summarizeMovements folds the movement list into the adjusted expected
// balance. Reserved stock is committed to open orders and is not on the
// shelf, so reservations reduce the balance just like exits.
func summarizeMovements(expected decimal.Decimal, movements []erpsync.Movement) *MovementContext {
	mc := &MovementContext{Movements: movements, AdjustedBalance: expected}
	for _, m := range movements {
		switch m.Kind {
		case erpsync.MovementEntry:
			mc.Entries++
			mc.AdjustedBalance = mc.AdjustedBalance.Add(m.Quantity)
		case erpsync.MovementExit:
			mc.Exits++
			mc.AdjustedBalance = mc.AdjustedBalance.Sub(m.Quantity)
		case erpsync.MovementReservation:
			mc.Reservations++
			mc.AdjustedBalance = mc.AdjustedBalance.Sub(m.Quantity)
		}
	}
	return mc
}

// buildMovementNote renders the observation stored on the divergence.
func buildMovementNote(mc *MovementContext, recountConfirmed bool) string {
	note := ""
	if recountConfirmed {
		note = "Recount confirmed divergence. "
	}
	if mc == nil {
		return note + "No movement context available."
	}
	return note + fmt.Sprintf(
		"Movements since snapshot: %d entries, %d exits, %d open reservations. Adjusted expected balance: %s.",
		mc.Entries, mc.Exits, mc.Reservations, mc.AdjustedBalance.String(),
	)
}

func movementsJSON(mc *MovementContext) []byte {
	if mc == nil {
		return nil
	}
	raw, err := json.Marshal(mc.Movements)
	if err != nil {
		return nil
	}
	return raw
}
