package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/domain"
	"github.com/SamR1/fittrackee-federation/util"
	"github.com/google/uuid"
)

// Sender signs and delivers outgoing activities. Direct sends are
// terminal: a failure is logged per recipient and never retried.
// Follower broadcasts go through the delivery queue instead.
type Sender struct {
	database *db.DB
	conf     *util.AppConfig
	client   *http.Client
}

func NewSender(database *db.DB, conf *util.AppConfig) *Sender {
	return &Sender{
		database: database,
		conf:     conf,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// SendActivity sends an activity to a remote inbox, signed with the
// local actor's key.
func (s *Sender) SendActivity(activity interface{}, inboxURI string, localActor *domain.Actor) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return s.sendRaw(activityJSON, inboxURI, localActor)
}

func (s *Sender) sendRaw(activityJSON []byte, inboxURI string, localActor *domain.Actor) error {
	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/ld+json; profile=\"https://www.w3.org/ns/activitystreams\"")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", ComputeDigest(activityJSON))

	privateKey, err := ParsePrivateKey(localActor.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	if err := SignRequest(req, privateKey, localActor.KeyId()); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: Sent activity to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}

func (s *Sender) activityURI() string {
	return fmt.Sprintf("https://%s/federation/activities/%s", s.conf.Conf.Domain, uuid.New().String())
}

// SendAccept answers a Follow activity with an Accept. followId may be
// empty when the original Follow activity id was not kept, the answer
// then identifies the Follow by its actor and object.
func (s *Sender) SendAccept(localActor *domain.Actor, remoteActor *domain.Actor, followId string) error {
	return s.sendFollowAnswer("Accept", localActor, remoteActor, followId)
}

// SendReject answers a Follow activity with a Reject.
func (s *Sender) SendReject(localActor *domain.Actor, remoteActor *domain.Actor, followId string) error {
	return s.sendFollowAnswer("Reject", localActor, remoteActor, followId)
}

func (s *Sender) sendFollowAnswer(answerType string, localActor *domain.Actor, remoteActor *domain.Actor, followId string) error {
	object := map[string]interface{}{
		"type":   "Follow",
		"actor":  remoteActor.ActivityPubId,
		"object": localActor.ActivityPubId,
	}
	if followId != "" {
		object["id"] = followId
	}
	answer := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       s.activityURI(),
		"type":     answerType,
		"actor":    localActor.ActivityPubId,
		"object":   object,
	}
	return s.SendActivity(answer, remoteActor.InboxURL, localActor)
}

// SendFollow sends a Follow activity to a remote actor.
func (s *Sender) SendFollow(localActor *domain.Actor, remoteActor *domain.Actor) error {
	follow := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       s.activityURI(),
		"type":     "Follow",
		"actor":    localActor.ActivityPubId,
		"object":   remoteActor.ActivityPubId,
	}
	return s.SendActivity(follow, remoteActor.InboxURL, localActor)
}

// SendUndoFollow retracts a previously sent Follow.
func (s *Sender) SendUndoFollow(localActor *domain.Actor, remoteActor *domain.Actor) error {
	undo := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       s.activityURI(),
		"type":     "Undo",
		"actor":    localActor.ActivityPubId,
		"object": map[string]interface{}{
			"id":     s.activityURI(),
			"type":   "Follow",
			"actor":  localActor.ActivityPubId,
			"object": remoteActor.ActivityPubId,
		},
	}
	return s.SendActivity(undo, remoteActor.InboxURL, localActor)
}

// BuildWorkoutObject serializes a local workout for federation.
func (s *Sender) BuildWorkoutObject(workout *domain.Workout, localActor *domain.Actor) map[string]interface{} {
	workoutURI := fmt.Sprintf("https://%s/federation/workouts/%s", s.conf.Conf.Domain, workout.Id.String())
	return map[string]interface{}{
		"id":           workoutURI,
		"type":         "Workout",
		"url":          fmt.Sprintf("https://%s/workouts/%s", s.conf.Conf.Domain, workout.Id.String()),
		"attributedTo": localActor.ActivityPubId,
		"published":    workout.CreatedAt.UTC().Format(time.RFC3339),
		"title":        workout.Title,
		"workoutDate":  workout.WorkoutDate.UTC().Format(time.RFC3339),
		"distance":     workout.Distance,
		"duration":     ConvertSecondsToDurationString(workout.Duration),
		"moving":       ConvertSecondsToDurationString(workout.Moving),
		"aveSpeed":     workout.AveSpeed,
		"maxSpeed":     workout.MaxSpeed,
		"sportId":      workout.SportId,
		"visibility":   string(workout.Visibility),
	}
}

// BroadcastWorkoutActivity queues a workout activity for delivery to
// all approved followers. Shared inboxes collapse multiple followers on
// the same instance to a single delivery.
func (s *Sender) BroadcastWorkoutActivity(activityType ActivityType, workout *domain.Workout, localActor *domain.Actor) error {
	activity := map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        s.activityURI(),
		"type":      string(activityType),
		"actor":     localActor.ActivityPubId,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{PublicAudience},
		"cc":        []string{localActor.FollowersURL},
	}
	if activityType == ActivityDelete {
		activity["object"] = map[string]interface{}{
			"id":   fmt.Sprintf("https://%s/federation/workouts/%s", s.conf.Conf.Domain, workout.Id.String()),
			"type": "Tombstone",
		}
	} else {
		activity["object"] = s.BuildWorkoutObject(workout, localActor)
	}

	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	err, followers := s.database.ReadFollowerActors(localActor.UserId)
	if err != nil {
		log.Printf("Outbox: Failed to get followers: %v", err)
		return nil
	}
	if followers == nil || len(*followers) == 0 {
		log.Printf("Outbox: No followers to deliver to")
		return nil
	}

	inboxes := make(map[string]bool)
	for _, follower := range *followers {
		inboxURI := follower.SharedInboxURL
		if inboxURI == "" {
			inboxURI = follower.InboxURL
		}
		if inboxURI == "" || inboxes[inboxURI] {
			continue
		}
		inboxes[inboxURI] = true

		queueItem := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     inboxURI,
			ActivityJSON: string(activityJSON),
			Attempts:     0,
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		}
		if err := s.database.EnqueueDelivery(queueItem); err != nil {
			log.Printf("Outbox: Failed to queue delivery to %s: %v", inboxURI, err)
		}
	}

	log.Printf("Outbox: Queued %s activity for workout %s to %d inbox(es)", activityType, workout.Id, len(inboxes))
	return nil
}
