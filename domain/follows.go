package domain

import (
	"github.com/google/uuid"
	"time"
)

// FollowRequestStatus is derived from IsApproved and UpdatedAt
type FollowRequestStatus string

const (
	FollowRequestPending  FollowRequestStatus = "pending"
	FollowRequestApproved FollowRequestStatus = "approved"
	FollowRequestRejected FollowRequestStatus = "rejected"
)

// FollowRequest is a directed edge between two users. The
// (FollowerUserId, FollowedUserId) pair is the composite primary key,
// so at most one outstanding request exists per ordered pair.
type FollowRequest struct {
	FollowerUserId uuid.UUID
	FollowedUserId uuid.UUID
	IsApproved     bool
	CreatedAt      time.Time
	UpdatedAt      *time.Time // nil means pending
}

func (fr *FollowRequest) Status() FollowRequestStatus {
	if fr.UpdatedAt == nil {
		return FollowRequestPending
	}
	if fr.IsApproved {
		return FollowRequestApproved
	}
	return FollowRequestRejected
}
