package activitypub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/google/uuid"
)

// InboxTask is the payload queued by the inbox gateway. Recipient is
// empty for deliveries to the shared inbox.
type InboxTask struct {
	Recipient string          `json:"recipient"`
	Body      json.RawMessage `json:"body"`
}

// Dispatcher routes verified inbox activities to their handlers and
// owns the follow request state machine.
type Dispatcher struct {
	database  *db.DB
	conf      *util.AppConfig
	directory *Directory
	sender    *Sender
}

func NewDispatcher(database *db.DB, conf *util.AppConfig, directory *Directory, sender *Sender) *Dispatcher {
	return &Dispatcher{
		database:  database,
		conf:      conf,
		directory: directory,
		sender:    sender,
	}
}

// Dispatch is the inbox queue handler. Dispatch errors are logged by
// the queue, the activity is dropped.
func (d *Dispatcher) Dispatch(payload []byte) error {
	var task InboxTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return ErrInvalidActivity
	}

	activity, err := ParseActivity(task.Body)
	if err != nil {
		return err
	}

	log.Printf("Dispatcher: Processing %s from %s", activity.Type, activity.Actor)

	switch activity.Type {
	case ActivityFollow:
		return d.handleFollow(activity)
	case ActivityAccept:
		return d.handleFollowAnswer(activity, true)
	case ActivityReject:
		return d.handleFollowAnswer(activity, false)
	case ActivityUndo:
		return d.handleUndo(activity)
	case ActivityCreate:
		return d.handleCreate(activity)
	case ActivityUpdate:
		return d.handleUpdate(activity)
	case ActivityDelete:
		return d.handleDelete(activity)
	default:
		return &UnsupportedActivityError{ActivityType: string(activity.Type)}
	}
}

// handleFollow processes an incoming Follow from a remote actor.
//
// State transitions:
//   - no request yet: a pending request is created. When the followed
//     user approves followers automatically it is approved immediately
//     and an Accept goes out.
//   - pending or approved: the Follow is idempotent, an approved
//     request answers with a fresh Accept in case the first was lost.
//   - rejected: terminal. The Follow is dropped without an answer so a
//     rejected actor cannot force a new notification.
func (d *Dispatcher) handleFollow(activity *Activity) error {
	followerActor, err := d.directory.GetOrFetchActor(activity.Actor)
	if err != nil {
		return err
	}

	followedUser, localActor, err := d.resolveLocalRecipient(activity.ObjectURI())
	if err != nil {
		return err
	}

	readErr, existing := d.database.ReadFollowRequest(followerActor.UserId, followedUser.Id)
	if readErr != nil && readErr != sql.ErrNoRows {
		return readErr
	}

	if existing != nil {
		switch existing.Status() {
		case domain.FollowRequestRejected:
			log.Printf("Dispatcher: Ignoring Follow from %s, request was rejected", activity.Actor)
			return ErrFollowRequestAlreadyRejected
		case domain.FollowRequestApproved:
			return d.sender.SendAccept(localActor, followerActor, activity.ID)
		case domain.FollowRequestPending:
			if !followedUser.ManuallyApprovesFollowers {
				return d.approveAndAccept(existing, localActor, followerActor, activity.ID)
			}
			return nil
		}
	}

	fr := &domain.FollowRequest{
		FollowerUserId: followerActor.UserId,
		FollowedUserId: followedUser.Id,
		CreatedAt:      time.Now(),
	}
	if err := d.database.CreateFollowRequest(fr); err != nil {
		if err == db.ErrAlreadyExists {
			// concurrent duplicate, the first insert won
			return nil
		}
		return err
	}

	log.Printf("Dispatcher: Created follow request %s -> %s", activity.Actor, followedUser.Username)

	if !followedUser.ManuallyApprovesFollowers {
		return d.approveAndAccept(fr, localActor, followerActor, activity.ID)
	}
	return nil
}

func (d *Dispatcher) approveAndAccept(fr *domain.FollowRequest, localActor *domain.Actor, followerActor *domain.Actor, followId string) error {
	now := time.Now()
	fr.IsApproved = true
	fr.UpdatedAt = &now
	if err := d.database.UpdateFollowRequest(fr); err != nil {
		return err
	}
	return d.sender.SendAccept(localActor, followerActor, followId)
}

// handleFollowAnswer processes Accept and Reject activities answering a
// Follow sent by a local user. An answer on an already processed
// request is refused, the first answer wins.
func (d *Dispatcher) handleFollowAnswer(activity *Activity, approved bool) error {
	nested, err := activity.NestedObject()
	if err != nil {
		return err
	}
	if nested.Type != ActivityFollow {
		return &UnsupportedActivityError{ActivityType: fmt.Sprintf("%s of %s", activity.Type, nested.Type)}
	}

	remoteActor, err := d.directory.GetOrFetchActor(activity.Actor)
	if err != nil {
		return err
	}

	localUser, _, err := d.resolveLocalRecipient(nested.Actor)
	if err != nil {
		return err
	}

	readErr, fr := d.database.ReadFollowRequest(localUser.Id, remoteActor.UserId)
	if readErr == sql.ErrNoRows {
		return ErrFollowRequestNotFound
	}
	if readErr != nil {
		return readErr
	}
	if fr.UpdatedAt != nil {
		return ErrFollowRequestAlreadyProcessed
	}

	now := time.Now()
	fr.IsApproved = approved
	fr.UpdatedAt = &now
	if err := d.database.UpdateFollowRequest(fr); err != nil {
		return err
	}

	log.Printf("Dispatcher: Follow from %s to %s was %s", localUser.Username, activity.Actor, fr.Status())
	return nil
}

// handleUndo processes an Undo of a Follow. The undo applies whatever
// state the request is in, an unfollow always works.
func (d *Dispatcher) handleUndo(activity *Activity) error {
	nested, err := activity.NestedObject()
	if err != nil {
		return err
	}
	if nested.Type != ActivityFollow {
		log.Printf("Dispatcher: Ignoring Undo of %s", nested.Type)
		return nil
	}

	followerActor, err := d.directory.GetOrFetchActor(activity.Actor)
	if err != nil {
		return err
	}

	followedUser, _, err := d.resolveLocalRecipient(nested.Object)
	if err != nil {
		return err
	}

	readErr, _ := d.database.ReadFollowRequest(followerActor.UserId, followedUser.Id)
	if readErr == sql.ErrNoRows {
		return ErrFollowRequestNotFound
	}
	if readErr != nil {
		return readErr
	}

	if err := d.database.DeleteFollowRequest(followerActor.UserId, followedUser.Id); err != nil {
		return err
	}
	log.Printf("Dispatcher: Removed follow %s -> %s", activity.Actor, followedUser.Username)
	return nil
}

// handleCreate mirrors a remote workout locally.
func (d *Dispatcher) handleCreate(activity *Activity) error {
	workoutObject, err := activity.WorkoutObject()
	if err != nil {
		return err
	}

	// duplicate deliveries are expected, the mirror is created once
	readErr, existing := d.database.ReadWorkoutByApId(workoutObject.ID)
	if readErr == nil && existing != nil {
		log.Printf("Dispatcher: Workout %s already mirrored, skipping", workoutObject.ID)
		return nil
	}

	// the sending actor must already be known, a Create never triggers
	// an actor fetch
	readErr, actor := d.database.ReadActorByActivityPubId(activity.Actor)
	if readErr != nil {
		return ErrActorNotFound
	}

	workout, err := d.workoutFromObject(workoutObject, actor)
	if err != nil {
		return err
	}

	if err := d.database.CreateWorkout(workout); err != nil {
		if err == db.ErrAlreadyExists {
			return nil
		}
		return err
	}
	log.Printf("Dispatcher: Mirrored workout %s from %s", workoutObject.ID, activity.Actor)
	return nil
}

// handleUpdate updates a mirrored workout. The activity actor must own
// the mirror.
func (d *Dispatcher) handleUpdate(activity *Activity) error {
	workoutObject, err := activity.WorkoutObject()
	if err != nil {
		return err
	}

	readErr, existing := d.database.ReadWorkoutByApId(workoutObject.ID)
	if readErr == sql.ErrNoRows {
		return ErrObjectNotFound
	}
	if readErr != nil {
		return readErr
	}

	actor, err := d.directory.GetOrFetchActor(activity.Actor)
	if err != nil {
		return err
	}
	if existing.UserId != actor.UserId {
		return ErrActivityActorMismatch
	}

	updated, err := d.workoutFromObject(workoutObject, actor)
	if err != nil {
		return err
	}

	now := time.Now()
	existing.SportId = updated.SportId
	existing.Title = updated.Title
	existing.WorkoutDate = updated.WorkoutDate
	existing.Distance = updated.Distance
	existing.Duration = updated.Duration
	existing.Moving = updated.Moving
	existing.AveSpeed = updated.AveSpeed
	existing.MaxSpeed = updated.MaxSpeed
	existing.Visibility = updated.Visibility
	existing.ModificationDate = &now

	if err := d.database.UpdateWorkout(existing); err != nil {
		return err
	}
	log.Printf("Dispatcher: Updated mirrored workout %s", workoutObject.ID)
	return nil
}

// handleDelete removes a mirrored workout, or the whole actor when the
// deleted object is the actor itself.
func (d *Dispatcher) handleDelete(activity *Activity) error {
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return ErrInvalidActivity
	}

	if objectURI == activity.Actor {
		return d.deleteRemoteActor(activity.Actor)
	}

	readErr, existing := d.database.ReadWorkoutByApId(objectURI)
	if readErr == sql.ErrNoRows {
		return ErrObjectNotFound
	}
	if readErr != nil {
		return readErr
	}

	actor, err := d.directory.GetOrFetchActor(activity.Actor)
	if err != nil {
		return err
	}
	if existing.UserId != actor.UserId {
		return ErrActivityActorMismatch
	}

	if err := d.database.DeleteWorkout(existing.Id); err != nil {
		return err
	}
	log.Printf("Dispatcher: Deleted mirrored workout %s", objectURI)
	return nil
}

func (d *Dispatcher) deleteRemoteActor(actorURI string) error {
	readErr, actor := d.database.ReadActorByActivityPubId(actorURI)
	if readErr == sql.ErrNoRows {
		// never knew them, nothing to clean up
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if actor.IsLocal() {
		return ErrActivityActorMismatch
	}

	if err := d.database.DeleteActor(actor.Id); err != nil {
		return err
	}
	log.Printf("Dispatcher: Removed deleted actor %s", actorURI)
	return nil
}

// workoutFromObject converts an incoming workout object to its local
// mirror. Mirrors carry the remote ids and the sender's declared
// visibility, falling back to followers-only when none is declared.
func (d *Dispatcher) workoutFromObject(workoutObject *WorkoutObject, actor *domain.Actor) (*domain.Workout, error) {
	if sportErr, _ := d.database.ReadSportById(workoutObject.SportId); sportErr != nil {
		return nil, ErrSportNotFound
	}

	duration, err := ConvertDurationStringToSeconds(workoutObject.Duration)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
	}
	moving := duration
	if workoutObject.Moving != "" {
		if moving, err = ConvertDurationStringToSeconds(workoutObject.Moving); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
		}
	}

	workoutDate, err := time.Parse(time.RFC3339, workoutObject.WorkoutDate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid workout date: %v", ErrInvalidActivity, err)
	}

	return &domain.Workout{
		Id:          uuid.New(),
		UserId:      actor.UserId,
		SportId:     workoutObject.SportId,
		Title:       workoutObject.Title,
		WorkoutDate: workoutDate,
		Distance:    workoutObject.Distance,
		Duration:    duration,
		Moving:      moving,
		AveSpeed:    workoutObject.AveSpeed,
		MaxSpeed:    workoutObject.MaxSpeed,
		Visibility:  workoutVisibility(workoutObject.Visibility),
		ApId:        workoutObject.ID,
		RemoteURL:   workoutObject.URL,
		CreatedAt:   time.Now(),
	}, nil
}

func workoutVisibility(declared string) domain.Visibility {
	switch domain.Visibility(declared) {
	case domain.VisibilityPublic, domain.VisibilityFollowersOnly, domain.VisibilityPrivate:
		return domain.Visibility(declared)
	}
	return domain.VisibilityFollowersOnly
}

// resolveLocalRecipient maps a local actor URI to its user and actor.
func (d *Dispatcher) resolveLocalRecipient(actorURI string) (*domain.User, *domain.Actor, error) {
	username := usernameFromActorURI(actorURI)
	if username == "" {
		return nil, nil, ErrActorNotFound
	}

	err, user := d.database.ReadUserByUsername(username)
	if err != nil {
		return nil, nil, ErrActorNotFound
	}
	err, actor := d.database.ReadActorByUserId(user.Id)
	if err != nil {
		return nil, nil, ErrActorNotFound
	}
	if !actor.IsLocal() {
		return nil, nil, ErrActorNotFound
	}
	return user, actor, nil
}

// usernameFromActorURI extracts the username from a local actor URI
// Example: "https://example.com/federation/user/alice" -> "alice"
func usernameFromActorURI(actorURI string) string {
	parts := strings.Split(strings.TrimSuffix(actorURI, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}

// FollowRemoteActor sends a Follow on behalf of a local user and
// records the pending request. Re-following while pending resends the
// Follow, a rejected request stays rejected.
func (d *Dispatcher) FollowRemoteActor(localUser *domain.User, remoteActor *domain.Actor) error {
	err, localActor := d.database.ReadActorByUserId(localUser.Id)
	if err != nil {
		return ErrActorNotFound
	}

	readErr, existing := d.database.ReadFollowRequest(localUser.Id, remoteActor.UserId)
	if readErr != nil && readErr != sql.ErrNoRows {
		return readErr
	}
	if existing != nil && existing.Status() == domain.FollowRequestRejected {
		return ErrFollowRequestAlreadyRejected
	}

	if existing == nil {
		fr := &domain.FollowRequest{
			FollowerUserId: localUser.Id,
			FollowedUserId: remoteActor.UserId,
			CreatedAt:      time.Now(),
		}
		if err := d.database.CreateFollowRequest(fr); err != nil && err != db.ErrAlreadyExists {
			return err
		}
	}

	return d.sender.SendFollow(localActor, remoteActor)
}

// UnfollowRemoteActor retracts a follow, whatever its state.
func (d *Dispatcher) UnfollowRemoteActor(localUser *domain.User, remoteActor *domain.Actor) error {
	err, localActor := d.database.ReadActorByUserId(localUser.Id)
	if err != nil {
		return ErrActorNotFound
	}

	readErr, _ := d.database.ReadFollowRequest(localUser.Id, remoteActor.UserId)
	if readErr == sql.ErrNoRows {
		return ErrFollowRequestNotFound
	}
	if readErr != nil {
		return readErr
	}

	if err := d.database.DeleteFollowRequest(localUser.Id, remoteActor.UserId); err != nil {
		return err
	}
	return d.sender.SendUndoFollow(localActor, remoteActor)
}

// ApproveFollowRequest approves a pending incoming request and sends
// the Accept.
func (d *Dispatcher) ApproveFollowRequest(followedUser *domain.User, followerUser *domain.User) error {
	return d.answerFollowRequest(followedUser, followerUser, true)
}

// RejectFollowRequest rejects a pending incoming request and sends the
// Reject. Rejection is terminal.
func (d *Dispatcher) RejectFollowRequest(followedUser *domain.User, followerUser *domain.User) error {
	return d.answerFollowRequest(followedUser, followerUser, false)
}

func (d *Dispatcher) answerFollowRequest(followedUser *domain.User, followerUser *domain.User, approved bool) error {
	readErr, fr := d.database.ReadFollowRequest(followerUser.Id, followedUser.Id)
	if readErr == sql.ErrNoRows {
		return ErrFollowRequestNotFound
	}
	if readErr != nil {
		return readErr
	}
	if fr.UpdatedAt != nil {
		if !fr.IsApproved {
			return ErrFollowRequestAlreadyRejected
		}
		return ErrFollowRequestAlreadyProcessed
	}

	now := time.Now()
	fr.IsApproved = approved
	fr.UpdatedAt = &now
	if err := d.database.UpdateFollowRequest(fr); err != nil {
		return err
	}

	err, localActor := d.database.ReadActorByUserId(followedUser.Id)
	if err != nil {
		return ErrActorNotFound
	}
	err, followerActor := d.database.ReadActorByUserId(followerUser.Id)
	if err != nil {
		return ErrActorNotFound
	}

	if followerActor.IsLocal() {
		// local follower needs no federation traffic
		return nil
	}
	if approved {
		return d.sender.SendAccept(localActor, followerActor, "")
	}
	return d.sender.SendReject(localActor, followerActor, "")
}
