package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateJob         OutboxAggregateType = "job"
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregateDispute     OutboxAggregateType = "dispute"
	AggregateMilestone   OutboxAggregateType = "milestone"
	AggregateTask        OutboxAggregateType = "additional_task"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateJob,
	AggregateTransaction,
	AggregateDispute,
	AggregateMilestone,
	AggregateTask,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres. Notification
// dispatch subscribes to these externally; the engine never calls a
// notification channel directly.
type OutboxEventType string

const (
	EventJobPublished    OutboxEventType = "job_published"
	EventBidPlaced       OutboxEventType = "bid_placed"
	EventJobAwarded      OutboxEventType = "job_awarded"
	EventOfferDeclined   OutboxEventType = "offer_declined"
	EventOfferExpired    OutboxEventType = "offer_expired"
	EventJobAccepted     OutboxEventType = "job_accepted"
	EventJobFunded       OutboxEventType = "job_funded"
	EventFundingFailed   OutboxEventType = "funding_failed"
	EventWorkStarted     OutboxEventType = "work_started"
	EventWorkSubmitted   OutboxEventType = "work_submitted"
	EventJobCompleted    OutboxEventType = "job_completed"
	EventJobAutoSettled  OutboxEventType = "job_auto_settled"
	EventJobCancelled    OutboxEventType = "job_cancelled"
	EventDisputeRaised   OutboxEventType = "dispute_raised"
	EventDisputeResolved OutboxEventType = "dispute_resolved"
	EventPayoutReleased  OutboxEventType = "payout_released"
	EventPayoutFailed    OutboxEventType = "payout_failed"
	EventRefundIssued    OutboxEventType = "refund_issued"
	EventTaskProposed    OutboxEventType = "task_proposed"
	EventTaskQuoted      OutboxEventType = "task_quoted"
	EventMilestoneFunded OutboxEventType = "milestone_funded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventJobPublished,
	EventBidPlaced,
	EventJobAwarded,
	EventOfferDeclined,
	EventOfferExpired,
	EventJobAccepted,
	EventJobFunded,
	EventFundingFailed,
	EventWorkStarted,
	EventWorkSubmitted,
	EventJobCompleted,
	EventJobAutoSettled,
	EventJobCancelled,
	EventDisputeRaised,
	EventDisputeResolved,
	EventPayoutReleased,
	EventPayoutFailed,
	EventRefundIssued,
	EventTaskProposed,
	EventTaskQuoted,
	EventMilestoneFunded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
