package enums

import "fmt"

// TransactionKind distinguishes what a funding cycle pays for.
type TransactionKind string

const (
	TransactionKindJob       TransactionKind = "job"
	TransactionKindAddOn     TransactionKind = "addon"
	TransactionKindMilestone TransactionKind = "milestone"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindJob,
	TransactionKindAddOn,
	TransactionKindMilestone,
}

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into a TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
