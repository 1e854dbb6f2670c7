package enums

import "fmt"

// GatewayEventType is the normalized shape of an inbound gateway callback.
// The raw payment-capture and payout-transfer payloads are mapped onto these
// before the reconciler sees them.
type GatewayEventType string

const (
	GatewayEventFundsCaptured  GatewayEventType = "funds_captured"
	GatewayEventCaptureFailed  GatewayEventType = "capture_failed"
	GatewayEventCaptureDropped GatewayEventType = "capture_dropped"
	GatewayEventPayoutSucceeded GatewayEventType = "payout_succeeded"
	GatewayEventPayoutFailed    GatewayEventType = "payout_failed"
	GatewayEventPayoutReversed  GatewayEventType = "payout_reversed"
)

var validGatewayEventTypes = []GatewayEventType{
	GatewayEventFundsCaptured,
	GatewayEventCaptureFailed,
	GatewayEventCaptureDropped,
	GatewayEventPayoutSucceeded,
	GatewayEventPayoutFailed,
	GatewayEventPayoutReversed,
}

// String implements fmt.Stringer.
func (e GatewayEventType) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e GatewayEventType) IsValid() bool {
	for _, candidate := range validGatewayEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsCapture reports whether the event belongs to the payment-capture family
// (correlated by gateway order ID rather than transfer ID).
func (e GatewayEventType) IsCapture() bool {
	return e == GatewayEventFundsCaptured || e == GatewayEventCaptureFailed || e == GatewayEventCaptureDropped
}

// ParseGatewayEventType converts raw input into a GatewayEventType.
func ParseGatewayEventType(value string) (GatewayEventType, error) {
	for _, candidate := range validGatewayEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway event type %q", value)
}
