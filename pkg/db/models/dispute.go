package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Dispute freezes a funded escrow until an admin resolves it. While a
// dispute is open the linked transaction can neither release nor refund.
type Dispute struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID         uuid.UUID             `gorm:"column:job_id;type:uuid;not null;index"`
	TransactionID uuid.UUID             `gorm:"column:transaction_id;type:uuid;not null;index"`
	RaisedBy      uuid.UUID             `gorm:"column:raised_by;type:uuid;not null"`
	RaisedByRole  enums.Role            `gorm:"column:raised_by_role;type:role_enum;not null"`
	Reason        string                `gorm:"column:reason;not null"`
	Description   *string               `gorm:"column:description"`
	Status        enums.DisputeStatus   `gorm:"column:status;type:dispute_status_enum;not null;default:'open'"`
	Verdict       *enums.DisputeVerdict `gorm:"column:verdict;type:dispute_verdict_enum"`
	SplitPercent  *int                  `gorm:"column:split_percent"`
	ResolvedBy    *uuid.UUID            `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt    *time.Time            `gorm:"column:resolved_at"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
