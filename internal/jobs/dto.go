package jobs

import (
	"time"

	"github.com/google/uuid"
)

// CreateJobInput captures the fields a job giver sets when drafting a job.
type CreateJobInput struct {
	GiverID     uuid.UUID
	Title       string
	Description string
	Category    string
	Location    string
	SkillTags   []string
	BudgetMin   int64
	BudgetMax   int64
}

// PublishJobInput opens a draft for bidding.
type PublishJobInput struct {
	JobID           uuid.UUID
	GiverID         uuid.UUID
	BiddingDeadline *time.Time
}

// StartWorkInput verifies the on-site start code for a funded job.
type StartWorkInput struct {
	JobID       uuid.UUID
	InstallerID uuid.UUID
	Code        string
}

// SubmitWorkInput moves an in-progress job to pending confirmation and
// records the installer's completion evidence.
type SubmitWorkInput struct {
	JobID       uuid.UUID
	InstallerID uuid.UUID
	Attachments []string
}

// CancelJobInput is a giver-initiated cancellation before work starts.
type CancelJobInput struct {
	JobID       uuid.UUID
	CancelledBy uuid.UUID
	Reason      string
}
