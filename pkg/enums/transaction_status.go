package enums

import "fmt"

// TransactionStatus tracks an escrow transaction from order creation to
// terminal settlement. Progression is monotonic except the dispute branch:
// funded -> disputed -> released|refunded.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusFunded   TransactionStatus = "funded"
	TransactionStatusReleased TransactionStatus = "released"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
	TransactionStatusDisputed TransactionStatus = "disputed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusFunded,
	TransactionStatusReleased,
	TransactionStatusFailed,
	TransactionStatusRefunded,
	TransactionStatusDisputed,
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:  {TransactionStatusFunded, TransactionStatusFailed},
	// The funded -> refunded edge carries cancellation refunds; dispute
	// refunds go through disputed first.
	TransactionStatusFunded:   {TransactionStatusReleased, TransactionStatusDisputed, TransactionStatusRefunded},
	TransactionStatusDisputed: {TransactionStatusReleased, TransactionStatusRefunded, TransactionStatusFailed},
	// The released -> failed edge records payout reversals surfaced by the
	// gateway so an admin can remediate by hand.
	TransactionStatusReleased: {TransactionStatusFailed},
	TransactionStatusFailed:   {},
	TransactionStatusRefunded: {},
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the transaction is immutable.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusReleased || s == TransactionStatusFailed || s == TransactionStatusRefunded
}

// CanTransitionTo reports whether the edge from s to next is forward-valid.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, candidate := range transactionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
