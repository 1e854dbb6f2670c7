package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// OrderCreateParams describes an escrow capture order.
type OrderCreateParams struct {
	OrderID     string
	Amount      int64
	Currency    string
	CustomerID  string
	ReturnURL   string
	Note        string
}

// Order is the gateway's view of a capture order.
type Order struct {
	OrderID    string `json:"order_id"`
	SessionID  string `json:"payment_session_id"`
	Status     string `json:"order_status"`
	Amount     int64  `json:"order_amount"`
	Currency   string `json:"order_currency"`
	CreatedAt  string `json:"created_at"`
}

// TransferParams describes a payout transfer to a beneficiary.
type TransferParams struct {
	TransferID    string
	BeneficiaryID string
	Amount        int64
	Remarks       string
}

// Transfer is the gateway's view of a payout.
type Transfer struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	UTR        string `json:"utr"`
}

// RefundParams describes a refund against an existing capture order.
type RefundParams struct {
	OrderID  string
	RefundID string
	Amount   int64
	Note     string
}

// Refund is the gateway's view of a refund.
type Refund struct {
	RefundID string `json:"refund_id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"refund_status"`
	Amount   int64  `json:"refund_amount"`
}

// WebhookEvent is the normalized form of a gateway webhook delivery. Exactly
// one of OrderID or TransferID is set depending on the event family.
type WebhookEvent struct {
	ID         string
	Type       enums.GatewayEventType
	OrderID    string
	TransferID string
	Amount     int64
	OccurredAt time.Time
	Raw        json.RawMessage
}

// ErrUnknownEventType marks deliveries whose type we do not consume. The
// reconciler acknowledges these without side effects.
type ErrUnknownEventType struct {
	Type string
}

func (e *ErrUnknownEventType) Error() string {
	return fmt.Sprintf("unknown gateway event type %q", e.Type)
}

var wireEventTypes = map[string]enums.GatewayEventType{
	"PAYMENT_SUCCESS_WEBHOOK":      enums.GatewayEventFundsCaptured,
	"PAYMENT_FAILED_WEBHOOK":       enums.GatewayEventCaptureFailed,
	"PAYMENT_USER_DROPPED_WEBHOOK": enums.GatewayEventCaptureDropped,
	"TRANSFER_SUCCESS":             enums.GatewayEventPayoutSucceeded,
	"TRANSFER_FAILED":              enums.GatewayEventPayoutFailed,
	"TRANSFER_REVERSED":            enums.GatewayEventPayoutReversed,
}

type wireWebhook struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			PaymentID     json.Number `json:"cf_payment_id"`
			PaymentAmount int64       `json:"payment_amount"`
		} `json:"payment"`
		Transfer struct {
			TransferID string `json:"transfer_id"`
			Amount     int64  `json:"transfer_amount"`
		} `json:"transfer"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a raw webhook body into the normalized event.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var wire wireWebhook
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding webhook body: %w", err)
	}

	eventType, ok := wireEventTypes[wire.Type]
	if !ok {
		return nil, &ErrUnknownEventType{Type: wire.Type}
	}

	event := &WebhookEvent{
		Type: eventType,
		Raw:  body,
	}
	if ts, err := time.Parse(time.RFC3339, wire.EventTime); err == nil {
		event.OccurredAt = ts
	}

	if eventType.IsCapture() {
		event.OrderID = wire.Data.Order.OrderID
		event.ID = wire.Data.Payment.PaymentID.String()
		event.Amount = wire.Data.Payment.PaymentAmount
		if event.OrderID == "" {
			return nil, fmt.Errorf("capture event missing order_id")
		}
	} else {
		event.TransferID = wire.Data.Transfer.TransferID
		event.ID = wire.Data.Transfer.TransferID
		event.Amount = wire.Data.Transfer.Amount
		if event.TransferID == "" {
			return nil, fmt.Errorf("transfer event missing transfer_id")
		}
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("%s:%s%s", wire.Type, event.OrderID, event.TransferID)
	}
	return event, nil
}
