package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/gateway"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/metrics"
)

// GuardScope namespaces webhook replay keys in redis.
const GuardScope = "gateway-webhook"

type reconciler interface {
	ApplyCaptureSuccess(ctx context.Context, orderID string, occurredAt time.Time) (bool, error)
	ApplyCaptureFailure(ctx context.Context, orderID, reason string, occurredAt time.Time) (bool, error)
	ApplyPayoutSuccess(ctx context.Context, transferID string, occurredAt time.Time) (bool, error)
	ApplyPayoutFailure(ctx context.Context, transferID, reason string, occurredAt time.Time) (bool, error)
}

type replayGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Service verifies, deduplicates and applies gateway webhook deliveries.
type Service interface {
	Process(ctx context.Context, body []byte, timestamp, signature string) error
}

type ServiceParams struct {
	Logger  *logger.Logger
	Escrow  reconciler
	Guard   *IdempotencyGuard
	Secret  string
	Metrics *metrics.WebhookMetrics
}

func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Secret == "" {
		return nil, fmt.Errorf("webhook secret required")
	}
	if params.Metrics == nil {
		return nil, fmt.Errorf("webhook metrics required")
	}
	return &service{
		logg:    params.Logger,
		escrow:  params.Escrow,
		guard:   params.Guard,
		secret:  params.Secret,
		metrics: params.Metrics,
	}, nil
}

type service struct {
	logg    *logger.Logger
	escrow  reconciler
	guard   replayGuard
	secret  string
	metrics *metrics.WebhookMetrics
}

// Process runs one delivery through signature check, replay guard and the
// ledger reconciliation hooks. Unknown event types and deliveries the ledger
// no longer cares about return nil so the gateway stops retrying them.
func (s *service) Process(ctx context.Context, body []byte, timestamp, signature string) error {
	if !gateway.VerifySignature(s.secret, timestamp, body, signature) {
		s.metrics.IncSignatureFailure()
		return pkgerrors.New(pkgerrors.CodeForbidden, "webhook signature verification failed")
	}

	event, err := gateway.ParseWebhookEvent(body)
	if err != nil {
		var unknown *gateway.ErrUnknownEventType
		if errors.As(err, &unknown) {
			logCtx := s.logg.WithField(ctx, "wire_type", unknown.Type)
			s.logg.Info(logCtx, "ignoring unknown gateway event type")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	s.metrics.IncReceived(event.Type.String())

	duplicate, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook replay guard")
	}
	if duplicate {
		s.metrics.IncDuplicate()
		logCtx := s.logg.WithField(ctx, "event_id", event.ID)
		s.logg.Info(logCtx, "duplicate webhook delivery suppressed")
		return nil
	}

	applied, err := s.dispatch(ctx, event)
	if err != nil {
		// Un-mark so the gateway's retry is not swallowed by the guard.
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.logg.Error(ctx, "releasing webhook replay key", delErr)
		}
		return err
	}
	if !applied {
		s.metrics.IncStale()
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type.String(),
		})
		s.logg.Info(logCtx, "webhook did not match current ledger state")
	}
	return nil
}

func (s *service) dispatch(ctx context.Context, event *gateway.WebhookEvent) (bool, error) {
	switch event.Type {
	case enums.GatewayEventFundsCaptured:
		return s.escrow.ApplyCaptureSuccess(ctx, event.OrderID, event.OccurredAt)
	case enums.GatewayEventCaptureFailed:
		return s.escrow.ApplyCaptureFailure(ctx, event.OrderID, "payment capture failed", event.OccurredAt)
	case enums.GatewayEventCaptureDropped:
		return s.escrow.ApplyCaptureFailure(ctx, event.OrderID, "payer abandoned the payment session", event.OccurredAt)
	case enums.GatewayEventPayoutSucceeded:
		return s.escrow.ApplyPayoutSuccess(ctx, event.TransferID, event.OccurredAt)
	case enums.GatewayEventPayoutFailed:
		return s.escrow.ApplyPayoutFailure(ctx, event.TransferID, "gateway reported transfer failure", event.OccurredAt)
	case enums.GatewayEventPayoutReversed:
		return s.escrow.ApplyPayoutFailure(ctx, event.TransferID, "gateway reversed the transfer", event.OccurredAt)
	default:
		return false, nil
	}
}
