package enums

import "fmt"

// ReturnStatus tracks the lifecycle of a return request. A return stays
// pending between approval and physical receipt; completed means the refund
// has settled.
type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"
	ReturnStatusCompleted ReturnStatus = "completed"
	ReturnStatusRejected  ReturnStatus = "rejected"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusPending,
	ReturnStatusCompleted,
	ReturnStatusRejected,
}

// String implements fmt.Stringer.
func (r ReturnStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReturnStatus.
func (r ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsActive reports whether the return still blocks new return requests.
func (r ReturnStatus) IsActive() bool {
	return r != ReturnStatusRejected
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}
