package web

import (
	"log"
	"net/http"

	"github.com/SamR1/fittrackee-federation/activitypub"
	"github.com/gin-gonic/gin"
)

// HandleInbox processes a delivery to the shared or a per-user inbox.
// recipient is empty for the shared inbox.
//
// Status mapping: unreadable or unsupported payloads are a 400,
// anything wrong with the signature (missing, stale date, bad digest,
// unverifiable actor) is a 401. An accepted activity is queued and
// answered before processing happens.
func HandleInbox(c *gin.Context, gateway *activitypub.Gateway, recipient string) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Failed to read body"})
		return
	}

	if err := gateway.Receive(c.Request, body, recipient); err != nil {
		status, message := inboxErrorStatus(err)
		c.JSON(status, gin.H{"status": "error", "message": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func inboxErrorStatus(err error) (int, string) {
	switch err {
	case activitypub.ErrInvalidActivity:
		return http.StatusBadRequest, "Invalid activity payload"
	case activitypub.ErrMissingSignature:
		return http.StatusUnauthorized, "Missing HTTP signature"
	case activitypub.ErrInvalidSignature:
		return http.StatusUnauthorized, "Invalid HTTP signature"
	case activitypub.ErrDateTooFar:
		return http.StatusUnauthorized, "Date header outside accepted window"
	case activitypub.ErrDigestMismatch:
		return http.StatusUnauthorized, "Digest verification failed"
	case activitypub.ErrActorNotFound:
		return http.StatusUnauthorized, "Could not verify actor"
	}
	if _, ok := err.(*activitypub.UnsupportedActivityError); ok {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Failed to process activity"
}
