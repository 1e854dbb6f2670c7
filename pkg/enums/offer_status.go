package enums

import "fmt"

// OfferStatus tracks one entry in a job's ranked candidate queue. At most one
// offer per job is extended at a time.
type OfferStatus string

const (
	OfferStatusQueued   OfferStatus = "queued"
	OfferStatusExtended OfferStatus = "extended"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusDeclined OfferStatus = "declined"
	OfferStatusExpired  OfferStatus = "expired"
)

var validOfferStatuses = []OfferStatus{
	OfferStatusQueued,
	OfferStatusExtended,
	OfferStatusAccepted,
	OfferStatusDeclined,
	OfferStatusExpired,
}

// String implements fmt.Stringer.
func (s OfferStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s OfferStatus) IsValid() bool {
	for _, candidate := range validOfferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOfferStatus converts raw input into an OfferStatus.
func ParseOfferStatus(value string) (OfferStatus, error) {
	for _, candidate := range validOfferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid offer status %q", value)
}
