package enums

import "fmt"

// SettlementReason records which path released a job's escrow. Auto-settled
// jobs must be distinguishable from OTP-confirmed ones for audit.
type SettlementReason string

const (
	SettlementReasonOtp   SettlementReason = "otp_verified"
	SettlementReasonAuto  SettlementReason = "auto_settled"
	SettlementReasonAdmin SettlementReason = "admin_resolution"
)

var validSettlementReasons = []SettlementReason{
	SettlementReasonOtp,
	SettlementReasonAuto,
	SettlementReasonAdmin,
}

// String implements fmt.Stringer.
func (r SettlementReason) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r SettlementReason) IsValid() bool {
	for _, candidate := range validSettlementReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseSettlementReason converts raw input into a SettlementReason.
func ParseSettlementReason(value string) (SettlementReason, error) {
	for _, candidate := range validSettlementReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement reason %q", value)
}
