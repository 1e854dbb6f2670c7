package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.JobEventsTopic == "" {
		return nil, fmt.Errorf("job events topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	topic := cfg.JobEventsTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventJobPublished,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.JobPublishedEvent{} },
		},
		{
			EventType:      enums.EventBidPlaced,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.BidPlacedEvent{} },
		},
		{
			EventType:      enums.EventJobAwarded,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.JobAwardedEvent{} },
		},
		{
			EventType:      enums.EventOfferDeclined,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.OfferDeclinedEvent{} },
		},
		{
			EventType:      enums.EventOfferExpired,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.OfferExpiredEvent{} },
		},
		{
			EventType:      enums.EventJobAccepted,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.JobAcceptedEvent{} },
		},
		{
			EventType:      enums.EventJobFunded,
			AggregateType:  enums.AggregateTransaction,
			PayloadFactory: func() interface{} { return &payloads.JobFundedEvent{} },
		},
		{
			EventType:      enums.EventFundingFailed,
			AggregateType:  enums.AggregateTransaction,
			PayloadFactory: func() interface{} { return &payloads.FundingFailedEvent{} },
		},
		{
			EventType:      enums.EventWorkStarted,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.WorkStartedEvent{} },
		},
		{
			EventType:      enums.EventWorkSubmitted,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.WorkSubmittedEvent{} },
		},
		{
			EventType:      enums.EventJobCompleted,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.JobCompletedEvent{} },
		},
		{
			EventType:      enums.EventJobAutoSettled,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.JobAutoSettledEvent{} },
		},
		{
			EventType:      enums.EventJobCancelled,
			AggregateType:  enums.AggregateJob,
			PayloadFactory: func() interface{} { return &payloads.JobCancelledEvent{} },
		},
		{
			EventType:      enums.EventDisputeRaised,
			AggregateType:  enums.AggregateDispute,
			PayloadFactory: func() interface{} { return &payloads.DisputeRaisedEvent{} },
		},
		{
			EventType:      enums.EventDisputeResolved,
			AggregateType:  enums.AggregateDispute,
			PayloadFactory: func() interface{} { return &payloads.DisputeResolvedEvent{} },
		},
		{
			EventType:      enums.EventPayoutReleased,
			AggregateType:  enums.AggregateTransaction,
			PayloadFactory: func() interface{} { return &payloads.PayoutReleasedEvent{} },
		},
		{
			EventType:      enums.EventPayoutFailed,
			AggregateType:  enums.AggregateTransaction,
			PayloadFactory: func() interface{} { return &payloads.PayoutFailedEvent{} },
		},
		{
			EventType:      enums.EventRefundIssued,
			AggregateType:  enums.AggregateTransaction,
			PayloadFactory: func() interface{} { return &payloads.RefundIssuedEvent{} },
		},
		{
			EventType:      enums.EventTaskProposed,
			AggregateType:  enums.AggregateTask,
			PayloadFactory: func() interface{} { return &payloads.TaskProposedEvent{} },
		},
		{
			EventType:      enums.EventTaskQuoted,
			AggregateType:  enums.AggregateTask,
			PayloadFactory: func() interface{} { return &payloads.TaskQuotedEvent{} },
		},
		{
			EventType:      enums.EventMilestoneFunded,
			AggregateType:  enums.AggregateMilestone,
			PayloadFactory: func() interface{} { return &payloads.MilestoneFundedEvent{} },
		},
	} {
		desc.Topic = topic
		reg.register(desc)
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if payload == nil {
		return nil, NewNonRetryableError(fmt.Errorf("payload factory not configured for %s", event.EventType))
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
