package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutProfile maps an installer to their payment gateway beneficiary.
// Release and refund paths refuse to run without one.
type PayoutProfile struct {
	InstallerID   uuid.UUID `gorm:"column:installer_id;type:uuid;primaryKey"`
	BeneficiaryID string    `gorm:"column:beneficiary_id;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
