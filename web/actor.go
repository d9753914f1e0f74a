package web

import (
	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
)

// ActorPublicKey is the publicKey block of an actor document.
type ActorPublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// ActorEndpoints lists instance-wide endpoints of an actor.
type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox"`
}

// ActorDocument is the served representation of a local actor. The
// private key never leaves the database.
type ActorDocument struct {
	Context                   []string       `json:"@context"`
	ID                        string         `json:"id"`
	Type                      string         `json:"type"`
	PreferredUsername         string         `json:"preferredUsername"`
	Name                      string         `json:"name,omitempty"`
	URL                       string         `json:"url,omitempty"`
	Inbox                     string         `json:"inbox"`
	Outbox                    string         `json:"outbox"`
	Followers                 string         `json:"followers"`
	Following                 string         `json:"following"`
	ManuallyApprovesFollowers bool           `json:"manuallyApprovesFollowers"`
	PublicKey                 ActorPublicKey `json:"publicKey"`
	Endpoints                 ActorEndpoints `json:"endpoints"`
}

// OrderedCollection is a minimal collection document, served for the
// followers, following and outbox endpoints.
type OrderedCollection struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
}

// GetActorDocument serves a local actor by username.
func GetActorDocument(database *db.DB, conf *util.AppConfig, username string) (error, *ActorDocument) {
	err, user := database.ReadUserByUsername(username)
	if err != nil {
		return err, nil
	}
	err, actor := database.ReadActorByUserId(user.Id)
	if err != nil {
		return err, nil
	}

	return nil, &ActorDocument{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                        actor.ActivityPubId,
		Type:                      string(actor.Type),
		PreferredUsername:         actor.PreferredUsername,
		Name:                      actor.Name,
		URL:                       actor.ProfileURL,
		Inbox:                     actor.InboxURL,
		Outbox:                    actor.OutboxURL,
		Followers:                 actor.FollowersURL,
		Following:                 actor.FollowingURL,
		ManuallyApprovesFollowers: user.ManuallyApprovesFollowers,
		PublicKey: ActorPublicKey{
			ID:           actor.KeyId(),
			Owner:        actor.ActivityPubId,
			PublicKeyPem: actor.PublicKey,
		},
		Endpoints: ActorEndpoints{
			SharedInbox: actor.SharedInboxURL,
		},
	}
}

// GetFollowersCollection serves the followers collection of a local
// actor, size only.
func GetFollowersCollection(database *db.DB, actor *domain.Actor) (error, *OrderedCollection) {
	err, count := database.CountFollowers(actor.UserId)
	if err != nil {
		return err, nil
	}
	return nil, &OrderedCollection{
		Context:    "https://www.w3.org/ns/activitystreams",
		ID:         actor.FollowersURL,
		Type:       "OrderedCollection",
		TotalItems: count,
	}
}

// GetFollowingCollection serves the following collection of a local
// actor.
func GetFollowingCollection(database *db.DB, actor *domain.Actor) (error, *OrderedCollection) {
	err, count := database.CountFollowing(actor.UserId)
	if err != nil {
		return err, nil
	}
	return nil, &OrderedCollection{
		Context:    "https://www.w3.org/ns/activitystreams",
		ID:         actor.FollowingURL,
		Type:       "OrderedCollection",
		TotalItems: count,
	}
}

// GetOutboxCollection serves the outbox size of a local actor.
func GetOutboxCollection(database *db.DB, actor *domain.Actor) (error, *OrderedCollection) {
	err, count := database.CountUserWorkouts(actor.UserId)
	if err != nil {
		return err, nil
	}
	return nil, &OrderedCollection{
		Context:    "https://www.w3.org/ns/activitystreams",
		ID:         actor.OutboxURL,
		Type:       "OrderedCollection",
		TotalItems: count,
	}
}
