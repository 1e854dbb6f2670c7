package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/installconnect/escrow-backend/pkg/db/types"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Job is the lifecycle root for a posted installation job. Rows are never
// hard-deleted; terminal states close the record in place.
type Job struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title              string              `gorm:"column:title;not null"`
	Description        string              `gorm:"column:description;not null"`
	Category           string              `gorm:"column:category;not null"`
	Location           string              `gorm:"column:location;not null;default:''"`
	SkillTags          dbtypes.StringArray `gorm:"column:skill_tags;type:text[];default:ARRAY[]::text[]"`
	JobGiverID         uuid.UUID           `gorm:"column:job_giver_id;type:uuid;not null"`
	AwardedInstallerID *uuid.UUID          `gorm:"column:awarded_installer_id;type:uuid"`
	BudgetMin          int64               `gorm:"column:budget_min;not null"`
	BudgetMax          int64               `gorm:"column:budget_max;not null"`
	AgreedAmount       *int64              `gorm:"column:agreed_amount"`
	Status             enums.JobStatus     `gorm:"column:status;type:job_status_enum;not null;default:'draft'"`

	PostedAt           *time.Time `gorm:"column:posted_at"`
	BiddingDeadline    *time.Time `gorm:"column:bidding_deadline"`
	AcceptanceDeadline *time.Time `gorm:"column:acceptance_deadline"`
	FundingDeadline    *time.Time `gorm:"column:funding_deadline"`
	WorkStartedAt      *time.Time `gorm:"column:work_started_at"`
	WorkSubmittedAt    *time.Time `gorm:"column:work_submitted_at"`
	CompletedAt        *time.Time `gorm:"column:completed_at"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`

	// OTP fields are single-use and cleared on successful verification.
	StartOTP      *string `gorm:"column:start_otp"`
	CompletionOTP *string `gorm:"column:completion_otp"`

	// Attachments holds completion-evidence URLs collected at submit and
	// confirm time.
	Attachments dbtypes.StringArray `gorm:"column:attachments;type:text[];default:ARRAY[]::text[]"`

	CancellationReason *string                 `gorm:"column:cancellation_reason"`
	CancellationFee    int64                   `gorm:"column:cancellation_fee;not null;default:0"`
	AuditNote          *string                 `gorm:"column:audit_note"`
	SettledBy          *enums.SettlementReason `gorm:"column:settled_by;type:settlement_reason_enum"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
