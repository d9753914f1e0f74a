package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// ActorType is the ActivityStreams type of an actor
type ActorType string

const (
	ActorTypePerson      ActorType = "Person"
	ActorTypeApplication ActorType = "Application"
	ActorTypeGroup       ActorType = "Group"
)

// Actor represents an ActivityPub identity: either a local user
// (private key present) or a cached mirror of a remote one.
type Actor struct {
	Id                        uuid.UUID
	ActivityPubId             string // IRI, globally unique
	DomainId                  uuid.UUID
	UserId                    uuid.UUID
	PreferredUsername         string
	Name                      string
	Type                      ActorType
	PublicKey                 string
	PrivateKey                string // only populated for local actors
	ProfileURL                string
	InboxURL                  string
	OutboxURL                 string
	FollowersURL              string
	FollowingURL              string
	SharedInboxURL            string
	ManuallyApprovesFollowers bool
	CreatedAt                 time.Time
	LastFetchDate             *time.Time // remote cache staleness marker, nil for local actors
}

func (a *Actor) IsLocal() bool {
	return a.PrivateKey != ""
}

func (a *Actor) KeyId() string {
	return fmt.Sprintf("%s#main-key", a.ActivityPubId)
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tActivityPubId: %s \n\tPreferredUsername: %s \n\tCreatedAt: %s)",
		a.Id, a.ActivityPubId, a.PreferredUsername, a.CreatedAt)
}

// RemoteActorStats caches collection counters polled from a remote actor
type RemoteActorStats struct {
	ActorId   uuid.UUID
	Items     int
	Followers int
	Following int
}
