package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockSnapshot is an immutable expected-quantity record for one
// product/location/company on a reference date. The sync job writes them;
// the engines only read the most recent one per product.
type StockSnapshot struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ReferenceDate time.Time `gorm:"uniqueIndex:idx_snapshot_ref;not null" json:"reference_date"`
	CompanyCode   int       `gorm:"uniqueIndex:idx_snapshot_ref;not null" json:"company_code"`
	LocationCode  int       `gorm:"uniqueIndex:idx_snapshot_ref;not null" json:"location_code"`
	ProductCode   int       `gorm:"uniqueIndex:idx_snapshot_ref;not null" json:"product_code"`

	Description string `gorm:"size:255" json:"description"`
	Brand       string `gorm:"size:100" json:"brand"`
	LotControl  string `gorm:"size:100" json:"lot_control"`
	Unit        string `gorm:"size:10" json:"unit"`

	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_cost"`
	StockValue decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"stock_value"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// LatestSnapshot returns the most recent snapshot for a triple, nil when the
// product has never been synced.
func LatestSnapshot(ctx context.Context, db *gorm.DB, productCode, locationCode, companyCode int) (*StockSnapshot, error) {
	var snap StockSnapshot
	err := db.WithContext(ctx).
		Where("product_code = ? AND location_code = ? AND company_code = ?", productCode, locationCode, companyCode).
		Order("reference_date DESC").
		First(&snap).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}
