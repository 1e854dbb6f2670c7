package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformSettings is a versioned singleton holding the current fee rates.
// Rates are percentages. Each Transaction snapshots the rates in force at
// creation, so updating this row never touches in-flight escrows.
type PlatformSettings struct {
	ID              int             `gorm:"column:id;primaryKey"`
	JobGiverFeeRate decimal.Decimal `gorm:"column:job_giver_fee_rate;type:numeric(6,3);not null"`
	CommissionRate  decimal.Decimal `gorm:"column:commission_rate;type:numeric(6,3);not null"`
	Version         int             `gorm:"column:version;not null;default:1"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
