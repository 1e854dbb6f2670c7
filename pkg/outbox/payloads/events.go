package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// JobPublishedEvent signals a draft moved to open bidding.
type JobPublishedEvent struct {
	JobID           uuid.UUID  `json:"job_id"`
	JobGiverID      uuid.UUID  `json:"job_giver_id"`
	Category        string     `json:"category"`
	BudgetMin       int64      `json:"budget_min"`
	BudgetMax       int64      `json:"budget_max"`
	BiddingDeadline *time.Time `json:"bidding_deadline,omitempty"`
}

// BidPlacedEvent is emitted per submitted bid.
type BidPlacedEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	BidID       uuid.UUID `json:"bid_id"`
	InstallerID uuid.UUID `json:"installer_id"`
	Amount      int64     `json:"amount"`
}

// JobAwardedEvent is emitted when an offer is extended to an installer.
type JobAwardedEvent struct {
	JobID              uuid.UUID `json:"job_id"`
	InstallerID        uuid.UUID `json:"installer_id"`
	BidID              uuid.UUID `json:"bid_id"`
	Amount             int64     `json:"amount"`
	AcceptanceDeadline time.Time `json:"acceptance_deadline"`
}

// OfferDeclinedEvent reports a declined offer and the next candidate, if any.
type OfferDeclinedEvent struct {
	JobID           uuid.UUID  `json:"job_id"`
	InstallerID     uuid.UUID  `json:"installer_id"`
	NextInstallerID *uuid.UUID `json:"next_installer_id,omitempty"`
}

// OfferExpiredEvent reports an offer that lapsed past its deadline.
type OfferExpiredEvent struct {
	JobID           uuid.UUID  `json:"job_id"`
	InstallerID     uuid.UUID  `json:"installer_id"`
	ExpiredAt       time.Time  `json:"expired_at"`
	NextInstallerID *uuid.UUID `json:"next_installer_id,omitempty"`
}

// JobAcceptedEvent is emitted when the installer accepts the extended offer.
type JobAcceptedEvent struct {
	JobID           uuid.UUID `json:"job_id"`
	InstallerID     uuid.UUID `json:"installer_id"`
	FundingDeadline time.Time `json:"funding_deadline"`
}

// JobFundedEvent is emitted once the gateway confirms capture.
type JobFundedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	TotalPaid     int64     `json:"total_paid"`
	FundedAt      time.Time `json:"funded_at"`
}

// FundingFailedEvent is emitted when a capture fails or is abandoned.
type FundingFailedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Reason        string    `json:"reason,omitempty"`
}

// WorkStartedEvent is emitted after the start OTP verifies.
type WorkStartedEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	InstallerID uuid.UUID `json:"installer_id"`
	StartedAt   time.Time `json:"started_at"`
}

// WorkSubmittedEvent is emitted when the installer submits finished work.
type WorkSubmittedEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	InstallerID uuid.UUID `json:"installer_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobCompletedEvent is emitted on OTP-verified completion.
type JobCompletedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	CompletedAt   time.Time `json:"completed_at"`
}

// JobAutoSettledEvent is emitted when the scheduler settles an inactive job.
type JobAutoSettledEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	GraceDays     int       `json:"grace_days"`
	SettledAt     time.Time `json:"settled_at"`
}

// JobCancelledEvent carries the cancellation fee assessment.
type JobCancelledEvent struct {
	JobID           uuid.UUID `json:"job_id"`
	CancelledBy     uuid.UUID `json:"cancelled_by"`
	Reason          string    `json:"reason,omitempty"`
	CancellationFee int64     `json:"cancellation_fee"`
	CancelledAt     time.Time `json:"cancelled_at"`
}

// DisputeRaisedEvent freezes the linked escrow.
type DisputeRaisedEvent struct {
	DisputeID     uuid.UUID  `json:"dispute_id"`
	JobID         uuid.UUID  `json:"job_id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	RaisedBy      uuid.UUID  `json:"raised_by"`
	RaisedByRole  enums.Role `json:"raised_by_role"`
	Reason        string     `json:"reason"`
}

// DisputeResolvedEvent carries the admin verdict.
type DisputeResolvedEvent struct {
	DisputeID     uuid.UUID            `json:"dispute_id"`
	JobID         uuid.UUID            `json:"job_id"`
	TransactionID uuid.UUID            `json:"transaction_id"`
	Verdict       enums.DisputeVerdict `json:"verdict"`
	SplitPercent  *int                 `json:"split_percent,omitempty"`
	PayoutAmount  int64                `json:"payout_amount"`
	RefundAmount  int64                `json:"refund_amount"`
}

// PayoutReleasedEvent reports a successful transfer to the installer.
type PayoutReleasedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	TransferID    string    `json:"transfer_id"`
	Amount        int64     `json:"amount"`
	ReleasedAt    time.Time `json:"released_at"`
}

// PayoutFailedEvent reports a transfer the gateway rejected or reversed.
type PayoutFailedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	TransferID    string    `json:"transfer_id"`
	Reason        string    `json:"reason,omitempty"`
}

// RefundIssuedEvent reports funds returned to the job giver.
type RefundIssuedEvent struct {
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	RefundID      string    `json:"refund_id"`
	Amount        int64     `json:"amount"`
}

// TaskProposedEvent is emitted when a variation order is raised.
type TaskProposedEvent struct {
	TaskID        uuid.UUID  `json:"task_id"`
	JobID         uuid.UUID  `json:"job_id"`
	CreatedBy     uuid.UUID  `json:"created_by"`
	CreatedByRole enums.Role `json:"created_by_role"`
	Description   string     `json:"description"`
}

// TaskQuotedEvent is emitted when the installer prices a variation order.
type TaskQuotedEvent struct {
	TaskID       uuid.UUID `json:"task_id"`
	JobID        uuid.UUID `json:"job_id"`
	QuotedAmount int64     `json:"quoted_amount"`
}

// MilestoneFundedEvent is emitted when a milestone's escrow cycle captures.
type MilestoneFundedEvent struct {
	MilestoneID   uuid.UUID `json:"milestone_id"`
	JobID         uuid.UUID `json:"job_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
}
