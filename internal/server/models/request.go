package models

import "time"

// RequestStatus is the lifecycle state of an access request. Pending is the
// only non-terminal state; Approved and Rejected are immutable.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// AccessRequest represents a user's pending ask for VPN access. At most one
// pending request exists per user at any time.
type AccessRequest struct {
	ID           int64
	UserID       int64
	Status       RequestStatus
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	AdminComment string
}
