package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// AdditionalTask is a variation order raised while work is in progress:
// proposed by either side, quoted by the installer, then funded through its
// own escrow cycle.
type AdditionalTask struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID         uuid.UUID        `gorm:"column:job_id;type:uuid;not null;index"`
	Description   string           `gorm:"column:description;not null"`
	CreatedBy     uuid.UUID        `gorm:"column:created_by;type:uuid;not null"`
	CreatedByRole enums.Role       `gorm:"column:created_by_role;type:role_enum;not null"`
	QuotedAmount  *int64           `gorm:"column:quoted_amount"`
	Status        enums.TaskStatus `gorm:"column:status;type:task_status_enum;not null;default:'pending_quote'"`
	QuotedAt      *time.Time       `gorm:"column:quoted_at"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
