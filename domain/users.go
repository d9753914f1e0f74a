package domain

import (
	"github.com/google/uuid"
	"time"
)

// User is the account a local or remote actor belongs to. Remote users
// exist only to back their cached Actor row.
type User struct {
	Id                        uuid.UUID
	Username                  string
	Email                     string
	IsRemote                  bool
	ManuallyApprovesFollowers bool
	CreatedAt                 time.Time
}

// Sport is a lookup entry for workout categorization
type Sport struct {
	Id       int
	Label    string
	IsActive bool
}
