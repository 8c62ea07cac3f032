package approval

// TimeoutReason is the rejection reason used when no decision arrives
// before the deadline.
const TimeoutReason = "timeout"

// Decision is an approver's verdict on a pending checkpoint.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
