package domain

import (
	"github.com/google/uuid"
	"time"
)

// Domain represents a DNS name participating in federation.
// The local instance owns exactly one row with IsLocal set; remote
// rows are created lazily the first time an actor is resolved.
type Domain struct {
	Id              uuid.UUID
	Name            string
	CreatedAt       time.Time
	IsAllowed       bool
	IsLocal         bool
	SoftwareName    string
	SoftwareVersion string
}
