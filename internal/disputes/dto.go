package disputes

import (
	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// RaiseDisputeInput freezes a job and its funded escrow.
type RaiseDisputeInput struct {
	JobID       uuid.UUID
	RaisedBy    uuid.UUID
	Role        enums.Role
	Reason      string
	Description *string
}

// ResolveDisputeInput is the admin verdict for an open dispute.
type ResolveDisputeInput struct {
	DisputeID    uuid.UUID
	AdminID      uuid.UUID
	Verdict      enums.DisputeVerdict
	SplitPercent *int
	Note         *string
}

// ListDisputesFilter narrows the admin dispute queue.
type ListDisputesFilter struct {
	Status *enums.DisputeStatus
	JobID  *uuid.UUID
	Limit  int
}
