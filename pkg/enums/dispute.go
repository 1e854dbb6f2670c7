package enums

import "fmt"

// DisputeStatus tracks a dispute from raise to admin resolution.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusResolved,
}

// String implements fmt.Stringer.
func (s DisputeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// DisputeVerdict is the admin resolution outcome driving the frozen
// transaction to a terminal state.
type DisputeVerdict string

const (
	DisputeVerdictRelease DisputeVerdict = "release_to_installer"
	DisputeVerdictRefund  DisputeVerdict = "refund_to_giver"
	DisputeVerdictSplit   DisputeVerdict = "split"
)

var validDisputeVerdicts = []DisputeVerdict{
	DisputeVerdictRelease,
	DisputeVerdictRefund,
	DisputeVerdictSplit,
}

// String implements fmt.Stringer.
func (v DisputeVerdict) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v DisputeVerdict) IsValid() bool {
	for _, candidate := range validDisputeVerdicts {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseDisputeVerdict converts raw input into a DisputeVerdict.
func ParseDisputeVerdict(value string) (DisputeVerdict, error) {
	for _, candidate := range validDisputeVerdicts {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute verdict %q", value)
}
