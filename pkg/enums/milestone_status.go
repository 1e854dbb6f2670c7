package enums

import "fmt"

// MilestoneStatus tracks an independently releasable slice of a job budget.
type MilestoneStatus string

const (
	MilestoneStatusPending  MilestoneStatus = "pending"
	MilestoneStatusFunded   MilestoneStatus = "funded"
	MilestoneStatusReleased MilestoneStatus = "released"
)

var validMilestoneStatuses = []MilestoneStatus{
	MilestoneStatusPending,
	MilestoneStatusFunded,
	MilestoneStatusReleased,
}

// String implements fmt.Stringer.
func (s MilestoneStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s MilestoneStatus) IsValid() bool {
	for _, candidate := range validMilestoneStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseMilestoneStatus converts raw input into a MilestoneStatus.
func ParseMilestoneStatus(value string) (MilestoneStatus, error) {
	for _, candidate := range validMilestoneStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid milestone status %q", value)
}
