package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Milestone is a partial-payment tranche on a job. The sum of milestone
// amounts never exceeds the job's budget ceiling.
type Milestone struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID      uuid.UUID             `gorm:"column:job_id;type:uuid;not null;index"`
	Title      string                `gorm:"column:title;not null"`
	Amount     int64                 `gorm:"column:amount;not null"`
	Status     enums.MilestoneStatus `gorm:"column:status;type:milestone_status_enum;not null;default:'pending'"`
	FundedAt   *time.Time            `gorm:"column:funded_at"`
	ReleasedAt *time.Time            `gorm:"column:released_at"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
