package enums

import "fmt"

// JobStatus is the single authoritative lifecycle state of a job. A job holds
// exactly one status at any time; transitions are validated by the jobs
// service and written with a status-guarded conditional update.
type JobStatus string

const (
	JobStatusDraft               JobStatus = "draft"
	JobStatusOpen                JobStatus = "open"
	JobStatusBiddingClosed       JobStatus = "bidding_closed"
	JobStatusAwarded             JobStatus = "awarded"
	JobStatusPendingFunding      JobStatus = "pending_funding"
	JobStatusInProgress          JobStatus = "in_progress"
	JobStatusPendingConfirmation JobStatus = "pending_confirmation"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCancelled           JobStatus = "cancelled"
	JobStatusDisputed            JobStatus = "disputed"
)

var validJobStatuses = []JobStatus{
	JobStatusDraft,
	JobStatusOpen,
	JobStatusBiddingClosed,
	JobStatusAwarded,
	JobStatusPendingFunding,
	JobStatusInProgress,
	JobStatusPendingConfirmation,
	JobStatusCompleted,
	JobStatusCancelled,
	JobStatusDisputed,
}

// jobTransitions enumerates every legal status edge. Anything absent is an
// invalid transition regardless of caller.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusDraft:               {JobStatusOpen, JobStatusCancelled},
	JobStatusOpen:                {JobStatusAwarded, JobStatusBiddingClosed, JobStatusCancelled},
	JobStatusBiddingClosed:       {JobStatusOpen, JobStatusAwarded, JobStatusCancelled},
	JobStatusAwarded:             {JobStatusAwarded, JobStatusPendingFunding, JobStatusBiddingClosed, JobStatusCancelled},
	JobStatusPendingFunding:      {JobStatusInProgress, JobStatusCancelled, JobStatusDisputed},
	JobStatusInProgress:          {JobStatusPendingConfirmation, JobStatusDisputed},
	JobStatusPendingConfirmation: {JobStatusCompleted, JobStatusDisputed},
	JobStatusDisputed:            {JobStatusCompleted, JobStatusCancelled},
	JobStatusCompleted:           {},
	JobStatusCancelled:           {},
}

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known JobStatus.
func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a job in this status can never move again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// CanTransitionTo reports whether the edge from s to next is legal. The
// Awarded self-edge covers re-targeting to the next ranked candidate.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, candidate := range jobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}
