package bids

import "github.com/google/uuid"

// SubmitBidInput is one installer bid on an open job.
type SubmitBidInput struct {
	JobID       uuid.UUID
	InstallerID uuid.UUID
	Amount      int64
	Note        *string
}

// AwardJobInput selects a winning bid and builds the ranked offer queue.
type AwardJobInput struct {
	JobID   uuid.UUID
	GiverID uuid.UUID
	BidID   uuid.UUID
}

// OfferResponseInput is an installer accepting or declining the offer
// currently extended to them.
type OfferResponseInput struct {
	JobID       uuid.UUID
	InstallerID uuid.UUID
}
