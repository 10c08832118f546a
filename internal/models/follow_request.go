package models

import (
	"time"
)

// FollowRequestStatus represents the status of a follow request.
type FollowRequestStatus string

const (
	// FollowRequestStatusPending indicates an open request awaiting a response.
	FollowRequestStatusPending FollowRequestStatus = "pending"
	// FollowRequestStatusAccepted indicates the target accepted the request.
	FollowRequestStatusAccepted FollowRequestStatus = "accepted"
	// FollowRequestStatusRejected indicates the target rejected the request.
	FollowRequestStatusRejected FollowRequestStatus = "rejected"
	// FollowRequestStatusExpired indicates the request aged out unanswered.
	FollowRequestStatusExpired FollowRequestStatus = "expired"
)

// DefaultFollowRequestTTL is how long a request stays answerable.
const DefaultFollowRequestTTL = 30 * 24 * time.Hour

// FollowRequest is a pending ask to follow a privacy-restricted user.
// At most one pending request may exist per (requester, target) pair;
// accepted/rejected/expired are terminal.
type FollowRequest struct {
	ID          string              `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RequesterID string              `gorm:"type:varchar(64);not null;index:idx_follow_request_pair" json:"requester_id"`
	TargetID    string              `gorm:"type:varchar(64);not null;index:idx_follow_request_pair" json:"target_id"`
	Status      FollowRequestStatus `gorm:"type:varchar(20);default:'pending';index:idx_follow_requests_status" json:"status"`
	Message     string              `gorm:"type:varchar(500)" json:"message"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (FollowRequest) TableName() string {
	return "follow_requests"
}

// IsExpired reports whether the request has aged past its deadline.
// Expiry is lazy: rows flip to expired the first time they are touched
// after the deadline, not on a background schedule.
func (r *FollowRequest) IsExpired(now time.Time) bool {
	return r.Status == FollowRequestStatusPending && now.After(r.ExpiresAt)
}

// IsPending reports whether the request can still be answered at `now`.
func (r *FollowRequest) IsPending(now time.Time) bool {
	return r.Status == FollowRequestStatusPending && !now.After(r.ExpiresAt)
}
