package domain

import (
	"github.com/google/uuid"
	"time"
)

// Visibility controls who may see a workout
type Visibility string

const (
	VisibilityPublic        Visibility = "public"
	VisibilityFollowersOnly Visibility = "followers_only"
	VisibilityPrivate       Visibility = "private"
)

// Workout is either a local workout or a mirror of a remote one.
// Mirrors carry the remote ActivityPub id and URL and never have GPX
// data or computed records attached.
type Workout struct {
	Id               uuid.UUID
	UserId           uuid.UUID
	SportId          int
	Title            string
	WorkoutDate      time.Time
	Distance         float64 // km
	Duration         int     // seconds
	Moving           int     // seconds
	AveSpeed         float64
	MaxSpeed         float64
	Visibility       Visibility
	ApId             string // empty for local workouts
	RemoteURL        string
	CreatedAt        time.Time
	ModificationDate *time.Time
}

func (w *Workout) IsRemote() bool {
	return w.ApId != ""
}

// DeliveryQueueItem represents an item in the outbound delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string // the complete activity to deliver
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
