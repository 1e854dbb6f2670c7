package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid is an append-only offer from an installer on an open job. Amount is in
// whole rupees.
type Bid struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID       uuid.UUID `gorm:"column:job_id;type:uuid;not null;index"`
	InstallerID uuid.UUID `gorm:"column:installer_id;type:uuid;not null"`
	Amount      int64     `gorm:"column:amount;not null"`
	Note        *string   `gorm:"column:note"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
