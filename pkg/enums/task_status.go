package enums

import "fmt"

// TaskStatus tracks a variation order (additional task) negotiated mid-job.
type TaskStatus string

const (
	TaskStatusPendingQuote TaskStatus = "pending_quote"
	TaskStatusQuoted       TaskStatus = "quoted"
	TaskStatusFunded       TaskStatus = "funded"
	TaskStatusDeclined     TaskStatus = "declined"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusPendingQuote,
	TaskStatusQuoted,
	TaskStatusFunded,
	TaskStatusDeclined,
}

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTaskStatus converts raw input into a TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, candidate := range validTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", value)
}
