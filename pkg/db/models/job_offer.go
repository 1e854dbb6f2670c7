package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// JobOffer is one entry in a job's ranked candidate queue. When the extended
// offer is declined or expires the next queued candidate is promoted.
type JobOffer struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID       uuid.UUID         `gorm:"column:job_id;type:uuid;not null;index"`
	InstallerID uuid.UUID         `gorm:"column:installer_id;type:uuid;not null"`
	BidID       uuid.UUID         `gorm:"column:bid_id;type:uuid;not null"`
	Rank        int               `gorm:"column:rank;not null"`
	Status      enums.OfferStatus `gorm:"column:status;type:offer_status_enum;not null;default:'queued'"`
	ExtendedAt  *time.Time        `gorm:"column:extended_at"`
	ExpiresAt   *time.Time        `gorm:"column:expires_at"`
	RespondedAt *time.Time        `gorm:"column:responded_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}
