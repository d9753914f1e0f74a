package activitypub

import (
	"errors"
	"fmt"
)

// Sentinel errors for inbox and dispatcher failures. Handlers map these
// to HTTP statuses, the dispatcher logs and drops on most of them.
var (
	ErrMissingSignature   = errors.New("missing http signature")
	ErrInvalidSignature   = errors.New("invalid http signature")
	ErrDateTooFar         = errors.New("date header outside accepted window")
	ErrDigestMismatch     = errors.New("digest header does not match body")
	ErrActorNotFound      = errors.New("actor not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrDomainNotAllowed   = errors.New("domain is not allowed")
	ErrFederationDisabled = errors.New("federation is disabled")

	ErrFollowRequestNotFound         = errors.New("follow request does not exist")
	ErrFollowRequestAlreadyRejected  = errors.New("follow request already rejected")
	ErrFollowRequestAlreadyProcessed = errors.New("follow request already processed")

	ErrObjectNotFound        = errors.New("object not found")
	ErrActivityActorMismatch = errors.New("activity actor does not match object owner")
	ErrSportNotFound         = errors.New("sport not found")
	ErrInvalidActivity       = errors.New("invalid activity payload")
)

// UnsupportedActivityError is returned by the dispatcher for activity
// types outside the supported set.
type UnsupportedActivityError struct {
	ActivityType string
}

func (e *UnsupportedActivityError) Error() string {
	return fmt.Sprintf("unsupported activity type: %s", e.ActivityType)
}

// RemoteActorFetchError wraps failures while dereferencing a remote
// actor (webfinger lookup, document fetch, missing mandatory fields).
type RemoteActorFetchError struct {
	ActorURI string
	Reason   string
	Err      error
}

func (e *RemoteActorFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch remote actor %s: %s: %v", e.ActorURI, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to fetch remote actor %s: %s", e.ActorURI, e.Reason)
}

func (e *RemoteActorFetchError) Unwrap() error {
	return e.Err
}
