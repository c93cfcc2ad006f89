package erpsync

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementEntry       MovementKind = "ENTRY"
	MovementExit        MovementKind = "EXIT"
	MovementReservation MovementKind = "RESERVATION"
)

// Movement is one stock-affecting document line since the snapshot date.
type Movement struct {
	DocumentId    int             `json:"document_id"`
	Date          string          `json:"date"`
	OperationType int             `json:"operation_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Kind          MovementKind    `json:"kind"`
}

// AdjustmentLine is one item on an adjustment document. Quantity is always
// absolute; direction lives on the document type.
type AdjustmentLine struct {
	ProductCode  int             `json:"product_code"`
	Quantity     decimal.Decimal `json:"quantity"`
	LocationCode int             `json:"location_code"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Unit         string          `json:"unit"`
}

// QueueProduct is one row of the brand-value-ordered product listing the
// sync job pulls to (re)build the counting queue.
type QueueProduct struct {
	ProductCode   int
	Description   string
	Brand         string
	Unit          string
	LotControl    string
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	StockValue    decimal.Decimal
	PriorityIndex float64
	LastEntryDate time.Time
}

// LiveStock is the current ERP-side balance and cost for one product/location.
type LiveStock struct {
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	StockValue  decimal.Decimal
	Description string
	Brand       string
	LotControl  string
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// gatewayDate formats a time in the DD/MM/YYYY form the gateway expects.
func gatewayDate(t time.Time) string {
	return t.Format("02/01/2006")
}
