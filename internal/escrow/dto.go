package escrow

import (
	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// FundJobInput opens an escrow funding cycle for an accepted job.
type FundJobInput struct {
	JobID     uuid.UUID
	GiverID   uuid.UUID
	ReturnURL string
}

// FundingSession is what the giver needs to complete payment in the gateway
// checkout.
type FundingSession struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewaySessionID string    `json:"gateway_session_id"`
	Amount           int64     `json:"amount"`
	JobGiverFee      int64     `json:"job_giver_fee"`
	TotalPayable     int64     `json:"total_payable"`
}

// CompleteJobInput verifies the completion code and releases the escrow.
type CompleteJobInput struct {
	JobID       uuid.UUID
	ActorID     uuid.UUID
	Code        string
	Attachments []string
}

// AddMilestoneInput defines a partial-payment tranche on a job.
type AddMilestoneInput struct {
	JobID   uuid.UUID
	GiverID uuid.UUID
	Title   string
	Amount  int64
}

// FundMilestoneInput opens a funding cycle for one milestone.
type FundMilestoneInput struct {
	MilestoneID uuid.UUID
	GiverID     uuid.UUID
	ReturnURL   string
}

// ReleaseMilestoneInput pays out one funded milestone.
type ReleaseMilestoneInput struct {
	MilestoneID uuid.UUID
	GiverID     uuid.UUID
}

// ProposeTaskInput raises a variation order while work is in progress.
type ProposeTaskInput struct {
	JobID       uuid.UUID
	CreatedBy   uuid.UUID
	Role        enums.Role
	Description string
}

// QuoteTaskInput is the installer pricing a proposed variation order.
type QuoteTaskInput struct {
	TaskID      uuid.UUID
	InstallerID uuid.UUID
	Amount      int64
}

// DeclineTaskInput rejects a variation order before it is funded.
type DeclineTaskInput struct {
	TaskID  uuid.UUID
	ActorID uuid.UUID
}

// FundTaskInput opens an add-on funding cycle for a quoted variation order.
type FundTaskInput struct {
	JobID     uuid.UUID
	TaskID    uuid.UUID
	GiverID   uuid.UUID
	ReturnURL string
}
