package activitypub

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/SamR1/fittrackee-federation/db"
	"github.com/SamR1/fittrackee-federation/util"
)

// Gateway validates incoming inbox requests and queues them for the
// dispatcher. Payload validation runs before signature checks so a
// malformed body is a 400 even when unsigned.
type Gateway struct {
	database  *db.DB
	conf      *util.AppConfig
	directory *Directory
	queues    *Queues
}

func NewGateway(database *db.DB, conf *util.AppConfig, directory *Directory, queues *Queues) *Gateway {
	return &Gateway{
		database:  database,
		conf:      conf,
		directory: directory,
		queues:    queues,
	}
}

// Receive processes one inbox delivery. recipient is the local
// username for per-user inboxes and empty for the shared inbox.
// Returned errors map to HTTP statuses in the web layer.
func (g *Gateway) Receive(req *http.Request, body []byte, recipient string) error {
	activity, err := ParseActivity(body)
	if err != nil {
		return err
	}

	keyId, err := ExtractKeyId(req)
	if err != nil {
		return err
	}
	keyOwner := strings.Split(keyId, "#")[0]

	// Key owner and activity actor must agree, a valid signature from
	// an unrelated actor proves nothing about this activity.
	if keyOwner != activity.Actor {
		log.Printf("Inbox: Key owner %s does not match actor %s", keyOwner, activity.Actor)
		return ErrInvalidSignature
	}

	if err := CheckDateHeader(req, time.Now()); err != nil {
		return err
	}
	if DigestRequired(req) {
		if err := CheckDigest(req, body); err != nil {
			return err
		}
	}

	actor, err := g.directory.GetOrFetchActor(keyOwner)
	if err != nil {
		log.Printf("Inbox: Failed to resolve signing actor %s: %v", keyOwner, err)
		return ErrActorNotFound
	}

	if _, err := VerifyRequest(req, actor.PublicKey); err != nil {
		// the remote key may have rotated since the last fetch
		refreshed := g.directory.RefreshRemoteActor(actor)
		if _, retryErr := VerifyRequest(req, refreshed.PublicKey); retryErr != nil {
			log.Printf("Inbox: Signature verification failed for %s: %v", activity.Actor, retryErr)
			return ErrInvalidSignature
		}
	}

	task := InboxTask{Recipient: recipient, Body: body}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := g.queues.Enqueue(QueueInbox, payload); err != nil {
		return err
	}

	log.Printf("Inbox: Queued %s from %s", activity.Type, activity.Actor)
	return nil
}
