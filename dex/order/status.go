// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package order

// Status is the lifecycle status of an order as reported by the node.
type Status string

// Orders start Open. Accepted means a taker accepted the order and the
// settlement channel update is in progress. Filled, Canceled and Rejected are
// final.
const (
	StatusOpen     Status = "open"
	StatusAccepted Status = "accepted"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
	StatusFilled   Status = "filled"
)

// Active reports whether the order may still be traded or settled.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusAccepted
}

// Final reports whether the status can no longer change.
func (s Status) Final() bool {
	switch s {
	case StatusCanceled, StatusRejected, StatusFilled:
		return true
	}
	return false
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	return s.Active() || s.Final()
}
